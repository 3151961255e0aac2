package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/ChuLiYu/deadlock-sim/internal/policy"
	"github.com/ChuLiYu/deadlock-sim/internal/taskmanager"
	"github.com/ChuLiYu/deadlock-sim/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Test Helper Functions
// ============================================================================

type step struct {
	kind     types.ActivityKind
	resource int
	amount   int
}

func initiate(r, n int) step { return step{types.KindInitiate, r, n} }
func request(r, n int) step  { return step{types.KindRequest, r, n} }
func release(r, n int) step  { return step{types.KindRelease, r, n} }
func compute(n int) step     { return step{types.KindCompute, 0, n} }
func terminate() step        { return step{types.KindTerminate, 0, 0} }

// buildTrace builds a trace from per-task programs
func buildTrace(supply []int, programs ...[]step) *types.Trace {
	tr := &types.Trace{Name: "test", Supply: supply}
	for id, prog := range programs {
		acts := make([]types.Activity, 0, len(prog))
		for _, s := range prog {
			acts = append(acts, types.Activity{Kind: s.kind, Task: id, Resource: s.resource, Amount: s.amount})
		}
		tr.Activities = append(tr.Activities, acts)
	}
	return tr
}

// recordingSink keeps every emitted event
type recordingSink struct {
	events []types.SimEvent
	err    error
}

func (s *recordingSink) Append(_ string, ev types.SimEvent) error {
	s.events = append(s.events, ev)
	return s.err
}

func (s *recordingSink) find(kind types.EventType, task int) []types.SimEvent {
	var out []types.SimEvent
	for _, ev := range s.events {
		if ev.Type == kind && ev.Task == task {
			out = append(out, ev)
		}
	}
	return out
}

// countingRecorder counts recorder calls
type countingRecorder struct {
	grants, blocks, deadlocks, cycles, runs int
	aborts                                  map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{aborts: make(map[string]int)}
}

func (c *countingRecorder) RecordGrant(string)           { c.grants++ }
func (c *countingRecorder) RecordBlock(string)           { c.blocks++ }
func (c *countingRecorder) RecordAbort(_, reason string) { c.aborts[reason]++ }
func (c *countingRecorder) RecordDeadlock(string)        { c.deadlocks++ }
func (c *countingRecorder) RecordCycle(string, int, int) { c.cycles++ }
func (c *countingRecorder) RecordRun(string)             { c.runs++ }

func mustPolicy(t *testing.T, name types.PolicyName) policy.Policy {
	t.Helper()
	p, err := policy.New(name)
	require.NoError(t, err)
	return p
}

func runTrace(t *testing.T, name types.PolicyName, tr *types.Trace, opts ...Option) *types.RunResult {
	t.Helper()
	opts = append([]Option{WithConfig(Config{CheckInvariants: true})}, opts...)
	res, err := New(mustPolicy(t, name), opts...).Run(context.Background(), tr)
	require.NoError(t, err)
	return res
}

// A claims 3, requests 2, releases 2; B claims all 5 and waits for A
func fiveUnitTrace() *types.Trace {
	return buildTrace([]int{5},
		[]step{initiate(0, 3), request(0, 2), release(0, 2), terminate()},
		[]step{initiate(0, 5), request(0, 5), terminate()},
	)
}

// both tasks take one unit, then each asks for the remaining three
func twoTaskDeadlockTrace() *types.Trace {
	return buildTrace([]int{4},
		[]step{initiate(0, 4), request(0, 1), request(0, 3), release(0, 4), terminate()},
		[]step{initiate(0, 4), request(0, 1), request(0, 3), release(0, 4), terminate()},
	)
}

// ============================================================================
// End-to-end Tests
// ============================================================================

func TestFiveUnitTrace(t *testing.T) {
	for _, name := range []types.PolicyName{types.PolicyOptimistic, types.PolicyConservative} {
		t.Run(string(name), func(t *testing.T) {
			sink := &recordingSink{}
			res := runTrace(t, name, fiveUnitTrace(), WithSink(sink))

			require.Len(t, res.Tasks, 2)
			assert.Equal(t, types.TaskOutcome{Task: 0, TotalTime: 3, WaitingTime: 0}, res.Tasks[0])
			assert.Equal(t, types.TaskOutcome{Task: 1, TotalTime: 4, WaitingTime: 2}, res.Tasks[1])
			assert.Empty(t, res.Aborts)
			assert.Equal(t, 4, res.Cycles)
			assert.Equal(t, name, res.Policy)
			assert.NotEmpty(t, res.RunID)

			total, waiting := res.Totals()
			assert.Equal(t, 7, total)
			assert.Equal(t, 2, waiting)

			grantsA := sink.find(types.EventGrant, 0)
			require.Len(t, grantsA, 1)
			assert.Equal(t, 1, grantsA[0].Cycle, "A is granted at cycle 1")

			blocksB := sink.find(types.EventBlock, 1)
			require.Len(t, blocksB, 1, "BLOCK is emitted once per blocking episode")
			assert.Equal(t, 1, blocksB[0].Cycle)

			grantsB := sink.find(types.EventGrant, 1)
			require.Len(t, grantsB, 1)
			assert.Equal(t, 3, grantsB[0].Cycle, "B runs only after A's release is folded")
		})
	}
}

func TestOptimisticBreaksDeadlock(t *testing.T) {
	sink := &recordingSink{}
	rec := newCountingRecorder()
	res := runTrace(t, types.PolicyOptimistic, twoTaskDeadlockTrace(), WithSink(sink), WithRecorder(rec))

	require.Len(t, res.Aborts, 1)
	assert.Equal(t, types.AbortRecord{
		Cycle:   2,
		Task:    0,
		Reason:  "deadlock_victim",
		Message: policy.ErrDeadlockVictim.Error(),
	}, res.Aborts[0])
	assert.Equal(t, 1, res.Deadlock)

	assert.True(t, res.Tasks[0].Aborted)
	assert.Equal(t, types.TaskOutcome{Task: 1, TotalTime: 5, WaitingTime: 1}, res.Tasks[1])
	assert.Equal(t, 5, res.Cycles)

	total, waiting := res.Totals()
	assert.Equal(t, 5, total, "aborted tasks are excluded from totals")
	assert.Equal(t, 1, waiting)

	deadlocks := sink.find(types.EventDeadlock, -1)
	require.Len(t, deadlocks, 1)
	assert.Equal(t, 1, deadlocks[0].Amount)

	abortEv := sink.find(types.EventAbort, 0)
	require.Len(t, abortEv, 1)
	assert.Equal(t, 1, abortEv[0].Amount, "victim returns the unit it held")

	assert.Equal(t, 1, rec.deadlocks)
	assert.Equal(t, 1, rec.aborts["deadlock_victim"])
	assert.Equal(t, 1, rec.runs)
	assert.Equal(t, 5, rec.cycles)
}

func TestConservativeAvoidsDeadlock(t *testing.T) {
	res := runTrace(t, types.PolicyConservative, twoTaskDeadlockTrace())

	assert.Empty(t, res.Aborts)
	assert.Zero(t, res.Deadlock)
	assert.Equal(t, types.TaskOutcome{Task: 0, TotalTime: 4, WaitingTime: 0}, res.Tasks[0])
	assert.Equal(t, types.TaskOutcome{Task: 1, TotalTime: 7, WaitingTime: 3}, res.Tasks[1])
	assert.Equal(t, 7, res.Cycles)
}

func TestOptimisticCascadingAborts(t *testing.T) {
	// three tasks each hold one unit and ask for two more; every abort
	// frees only one unit, which never satisfies anybody
	prog := []step{initiate(0, 3), request(0, 1), request(0, 2), release(0, 3), terminate()}
	tr := buildTrace([]int{3}, prog, prog, prog)

	res := runTrace(t, types.PolicyOptimistic, tr)

	require.Len(t, res.Aborts, 2)
	assert.Equal(t, 0, res.Aborts[0].Task)
	assert.Equal(t, 1, res.Aborts[1].Task)
	assert.Equal(t, res.Aborts[0].Cycle, res.Aborts[1].Cycle, "detection reruns within the same cycle")
	assert.Equal(t, 1, res.Deadlock)
	assert.False(t, res.Tasks[2].Aborted)
}

// ============================================================================
// Boundary Tests
// ============================================================================

func TestComputeDuration(t *testing.T) {
	tests := []struct {
		name      string
		cycles    int
		wantTotal int
	}{
		{"compute 1 takes one cycle", 1, 2},
		{"compute 3 takes three cycles", 3, 4},
		{"compute 0 is treated as 1", 0, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := buildTrace([]int{1}, []step{initiate(0, 1), compute(tt.cycles), terminate()})
			res := runTrace(t, types.PolicyOptimistic, tr)
			assert.Equal(t, tt.wantTotal, res.Tasks[0].TotalTime)
			assert.Zero(t, res.Tasks[0].WaitingTime)
		})
	}
}

func TestReleaseVisibleNextCycle(t *testing.T) {
	// A releases at cycle 2; B asks for the same units later in that cycle
	tr := buildTrace([]int{2},
		[]step{initiate(0, 2), request(0, 2), release(0, 2), terminate()},
		[]step{initiate(0, 2), compute(1), request(0, 2), terminate()},
	)

	for _, name := range []types.PolicyName{types.PolicyOptimistic, types.PolicyConservative} {
		t.Run(string(name), func(t *testing.T) {
			sink := &recordingSink{}
			res := runTrace(t, name, tr, WithSink(sink))

			blocks := sink.find(types.EventBlock, 1)
			require.Len(t, blocks, 1)
			assert.Equal(t, 2, blocks[0].Cycle)

			grants := sink.find(types.EventGrant, 1)
			require.Len(t, grants, 1)
			assert.Equal(t, 3, grants[0].Cycle)

			assert.Equal(t, 1, res.Tasks[1].WaitingTime)
		})
	}
}

func TestTerminateAsFirstActivity(t *testing.T) {
	tr := buildTrace([]int{1}, []step{terminate()})
	res := runTrace(t, types.PolicyOptimistic, tr)
	assert.Equal(t, 1, res.Tasks[0].TotalTime)
	assert.Equal(t, 1, res.Cycles)
}

func TestReleaseBeyondHoldingIsClamped(t *testing.T) {
	tr := buildTrace([]int{3},
		[]step{initiate(0, 2), request(0, 1), release(0, 2), terminate()},
	)
	sink := &recordingSink{}
	res := runTrace(t, types.PolicyOptimistic, tr, WithSink(sink))

	rel := sink.find(types.EventRelease, 0)
	require.Len(t, rel, 1)
	assert.Equal(t, 1, rel[0].Amount)
	assert.False(t, res.Tasks[0].Aborted)
}

// ============================================================================
// Claim Violation Tests
// ============================================================================

func TestConservativeClaimViolations(t *testing.T) {
	tests := []struct {
		name       string
		program    []step
		wantCycle  int
		wantReason string
	}{
		{
			name:       "claim exceeds capacity",
			program:    []step{initiate(0, 5), request(0, 1), terminate()},
			wantCycle:  0,
			wantReason: "claim_exceeds_capacity",
		},
		{
			name:       "request exceeds claim",
			program:    []step{initiate(0, 2), request(0, 3), terminate()},
			wantCycle:  1,
			wantReason: "request_exceeds_claim",
		},
		{
			name:       "cumulative request exceeds claim",
			program:    []step{initiate(0, 2), request(0, 1), request(0, 2), terminate()},
			wantCycle:  2,
			wantReason: "request_exceeds_claim",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &recordingSink{}
			res := runTrace(t, types.PolicyConservative, buildTrace([]int{4}, tt.program), WithSink(sink))

			require.Len(t, res.Aborts, 1)
			assert.Equal(t, tt.wantCycle, res.Aborts[0].Cycle)
			assert.Equal(t, tt.wantReason, res.Aborts[0].Reason)
			assert.True(t, res.Tasks[0].Aborted)
			assert.Empty(t, sink.find(types.EventTerminate, 0), "aborted tasks do not emit TERMINATE")
		})
	}
}

func TestOptimisticIgnoresClaims(t *testing.T) {
	tr := buildTrace([]int{4}, []step{initiate(0, 2), request(0, 3), release(0, 3), terminate()})
	res := runTrace(t, types.PolicyOptimistic, tr)
	assert.Empty(t, res.Aborts)
	assert.Equal(t, 3, res.Tasks[0].TotalTime)
}

// ============================================================================
// Run Control Tests
// ============================================================================

func TestRerunIsDeterministic(t *testing.T) {
	s := New(mustPolicy(t, types.PolicyOptimistic))
	tr := twoTaskDeadlockTrace()

	first, err := s.Run(context.Background(), tr)
	require.NoError(t, err)
	second, err := s.Run(context.Background(), tr)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	second.RunID = first.RunID
	assert.Equal(t, first, second)
}

func TestRunErrors(t *testing.T) {
	t.Run("empty trace", func(t *testing.T) {
		_, err := New(mustPolicy(t, types.PolicyOptimistic)).Run(context.Background(), &types.Trace{Supply: []int{1}})
		assert.ErrorIs(t, err, ErrEmptyTrace)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := New(mustPolicy(t, types.PolicyOptimistic)).Run(ctx, fiveUnitTrace())
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("cycle limit", func(t *testing.T) {
		s := New(mustPolicy(t, types.PolicyOptimistic), WithConfig(Config{MaxCycles: 2}))
		_, err := s.Run(context.Background(), fiveUnitTrace())
		assert.ErrorIs(t, err, ErrCycleLimit)
	})

	t.Run("sink failure", func(t *testing.T) {
		boom := errors.New("disk full")
		s := New(mustPolicy(t, types.PolicyOptimistic), WithSink(&recordingSink{err: boom}))
		_, err := s.Run(context.Background(), fiveUnitTrace())
		assert.ErrorIs(t, err, boom)
	})
}

// leakyPolicy grants without taking units from the pool
type leakyPolicy struct{ policy.Optimistic }

func (leakyPolicy) Allocate(_ *policy.State, task *taskmanager.Task, r, amount int) policy.Decision {
	task.Holding[r] += amount
	return policy.Decision{Verdict: policy.Granted}
}

func TestInvariantAudit(t *testing.T) {
	s := New(leakyPolicy{}, WithConfig(Config{CheckInvariants: true}))
	_, err := s.Run(context.Background(), fiveUnitTrace())
	assert.ErrorIs(t, err, ErrInvariant)

	s = New(leakyPolicy{})
	_, err = s.Run(context.Background(), fiveUnitTrace())
	assert.NoError(t, err, "audit is opt-in")
}

func TestReasonKey(t *testing.T) {
	assert.Equal(t, "claim_exceeds_capacity", ReasonKey(policy.ErrClaimExceedsCapacity))
	assert.Equal(t, "request_exceeds_claim", ReasonKey(errors.Join(policy.ErrRequestExceedsClaim, errors.New("x"))))
	assert.Equal(t, "deadlock_victim", ReasonKey(policy.ErrDeadlockVictim))
	assert.Equal(t, "unknown", ReasonKey(errors.New("other")))
}
