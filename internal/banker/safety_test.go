package banker

import (
	"testing"

	"github.com/ChuLiYu/deadlock-sim/internal/resource"
	"github.com/ChuLiYu/deadlock-sim/internal/taskmanager"
	"github.com/ChuLiYu/deadlock-sim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// textbookState builds the classic five-task, three-resource fixture
// (supply A=10 B=5 C=7) after P1's (1,0,2) request has been granted:
//
//	      claim    holding
//	P0    7 5 3    0 1 0
//	P1    3 2 2    3 0 2
//	P2    9 0 2    3 0 2
//	P3    2 2 2    2 1 1
//	P4    4 3 3    0 0 2
//
// available = 2 3 0
func textbookState(t *testing.T) (*taskmanager.Manager, *resource.Pool) {
	t.Helper()

	claims := [][]int{{7, 5, 3}, {3, 2, 2}, {9, 0, 2}, {2, 2, 2}, {4, 3, 3}}
	holdings := [][]int{{0, 1, 0}, {3, 0, 2}, {3, 0, 2}, {2, 1, 1}, {0, 0, 2}}

	tr := &types.Trace{Supply: []int{10, 5, 7}}
	for i := range claims {
		tr.Activities = append(tr.Activities, []types.Activity{{Kind: types.KindTerminate, Task: i}})
	}
	tasks := taskmanager.NewManager(tr)
	pool := resource.NewPool(tr.Supply)

	for i, task := range tasks.Tasks() {
		copy(task.Claim, claims[i])
		for r, h := range holdings[i] {
			require.NoError(t, pool.Take(r, h))
			task.Holding[r] = h
		}
	}
	require.Equal(t, []int{2, 3, 0}, pool.AvailableCopy())
	return tasks, pool
}

func TestIsSafeTextbook(t *testing.T) {
	tests := []struct {
		name     string
		task     int
		resource int
		amount   int
		want     bool
	}{
		{"P0 asks two B units: unsafe", 0, 1, 2, false},
		{"P0 asks one B unit: safe", 0, 1, 1, true},
		{"P1 asks remaining B: safe", 1, 1, 2, true},
		{"P4 asks more A than available", 4, 0, 3, false},
		{"zero request keeps current safe state", 2, 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks, pool := textbookState(t)
			checker := NewChecker(tasks, pool)

			task := tasks.Task(tt.task)
			before := append([]int(nil), task.Holding...)
			availBefore := pool.AvailableCopy()

			assert.Equal(t, tt.want, checker.IsSafe(task, tt.resource, tt.amount))

			// the check must be side-effect free
			assert.Equal(t, before, task.Holding)
			assert.Equal(t, availBefore, pool.AvailableCopy())
		})
	}
}

func TestIsSafeIgnoresFinishedTasks(t *testing.T) {
	tasks, pool := textbookState(t)
	checker := NewChecker(tasks, pool)

	// P2 can never be satisfied if its claim is inflated, but once it has
	// terminated it must not take part in the check
	p2 := tasks.Task(2)
	p2.Claim[0] = 100
	assert.False(t, checker.IsSafe(tasks.Task(1), 1, 0))

	p2.Status = types.StatusTerminated
	assert.True(t, checker.IsSafe(tasks.Task(1), 1, 0))
}

func TestOrder(t *testing.T) {
	tasks, pool := textbookState(t)
	checker := NewChecker(tasks, pool)

	// with available 2 3 0 only P1 fits first, then P3, P0, P2, P4
	assert.Equal(t, []int{1, 3, 0, 2, 4}, checker.Order())

	tasks.Task(0).Claim[2] = 9
	assert.Nil(t, checker.Order())
}
