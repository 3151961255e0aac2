package policy

import (
	"github.com/ChuLiYu/deadlock-sim/internal/taskmanager"
	"github.com/ChuLiYu/deadlock-sim/pkg/types"
)

// Optimistic grants any request the pool can satisfy right now and relies on
// the deadlock detector to recover.
type Optimistic struct{}

// Name 政策名稱
func (Optimistic) Name() types.PolicyName { return types.PolicyOptimistic }

// Initiate accepts every claim; claims are advisory under this policy.
func (Optimistic) Initiate(*State, *taskmanager.Task, int, int) error { return nil }

// Allocate grants when available[r] >= amount, blocks otherwise.
func (Optimistic) Allocate(st *State, task *taskmanager.Task, r, amount int) Decision {
	if !st.Pool.CanSatisfy(r, amount) {
		return block()
	}
	if err := take(st, task, r, amount); err != nil {
		return block()
	}
	return grant()
}

// Resolve aborts the lowest-indexed blocked task while the system is
// deadlocked, re-running detection from scratch after every abort.
func (Optimistic) Resolve(st *State, abortFn AbortFunc) int {
	aborted := 0
	for deadlocked(st) {
		victim, ok := st.Tasks.LowestBlocked()
		if !ok {
			break
		}
		_ = st.Tasks.RemoveBlocked(victim.ID)
		abortFn(victim, ErrDeadlockVictim)
		aborted++
	}
	return aborted
}

// deadlocked reports a cycle-wide stall: nothing running, something blocked,
// and no live task's pending request fits available + pendingRelease.
func deadlocked(st *State) bool {
	if st.Tasks.RunningLen() != 0 || st.Tasks.BlockedLen() == 0 {
		return false
	}
	for _, t := range st.Tasks.Live() {
		act := t.Current()
		if act.Kind != types.KindRequest {
			return false
		}
		r := act.Resource
		if st.Pool.Available(r)+st.Pool.PendingRelease(r) >= act.Amount {
			return false
		}
	}
	return true
}
