// ============================================================================
// deadlock-sim Safety Checker - Banker's safety algorithm
// ============================================================================
//
// Package: internal/banker
// File: safety.go
// Purpose: Decide whether granting a request leaves the system in a safe state
//
// Algorithm:
//   1. Tentatively add the request to task.Holding[r]
//   2. work := available - request
//   3. pool := live tasks in ascending index order
//   4. Repeatedly pick the first task whose need (claim - holding) fits work
//      for every resource type; return its holding to work and drop it
//   5. Safe iff the pool empties; unsafe when a full pass finds nobody
//   6. Undo the tentative grant on every return path
//
// The verdict does not depend on which satisfiable task is chosen first;
// the ascending scan only fixes the simulation order.
//
// ============================================================================

package banker

import (
	"github.com/ChuLiYu/deadlock-sim/internal/resource"
	"github.com/ChuLiYu/deadlock-sim/internal/taskmanager"
)

// Checker runs the safety algorithm over one scheduler's state.
type Checker struct {
	tasks *taskmanager.Manager
	pool  *resource.Pool
}

// NewChecker binds a checker to the task arena and pool of a run.
func NewChecker(tasks *taskmanager.Manager, pool *resource.Pool) *Checker {
	return &Checker{tasks: tasks, pool: pool}
}

// IsSafe reports whether granting amount units of r to task keeps the state safe.
// It never mutates the real state.
func (c *Checker) IsSafe(task *taskmanager.Task, r, amount int) bool {
	task.Holding[r] += amount
	defer func() { task.Holding[r] -= amount }()

	work := c.pool.AvailableCopy()
	work[r] -= amount
	if work[r] < 0 {
		return false
	}

	return completes(c.tasks.Live(), work)
}

// Order returns the completion order the algorithm would simulate from the
// current state, or nil when the state is unsafe.
func (c *Checker) Order() []int {
	live := c.tasks.Live()
	order := make([]int, 0, len(live))
	if !drain(live, c.pool.AvailableCopy(), func(t *taskmanager.Task) { order = append(order, t.ID) }) {
		return nil
	}
	return order
}

func completes(pool []*taskmanager.Task, work []int) bool {
	return drain(pool, work, nil)
}

// drain 反覆挑出第一個可被 work 滿足的任務，模擬其完成後歸還持有量
func drain(pool []*taskmanager.Task, work []int, visit func(*taskmanager.Task)) bool {
	remaining := make([]*taskmanager.Task, len(pool))
	copy(remaining, pool)

	for len(remaining) > 0 {
		found := -1
		for i, t := range remaining {
			if fits(t, work) {
				found = i
				break
			}
		}
		if found < 0 {
			return false
		}

		t := remaining[found]
		for k, h := range t.Holding {
			work[k] += h
		}
		if visit != nil {
			visit(t)
		}
		remaining = append(remaining[:found], remaining[found+1:]...)
	}
	return true
}

func fits(t *taskmanager.Task, work []int) bool {
	for k := range work {
		if t.Need(k) > work[k] {
			return false
		}
	}
	return true
}
