package policy

import (
	"fmt"

	"github.com/ChuLiYu/deadlock-sim/internal/banker"
	"github.com/ChuLiYu/deadlock-sim/internal/taskmanager"
	"github.com/ChuLiYu/deadlock-sim/pkg/types"
)

// Conservative is the Banker's algorithm: a request is granted only when the
// state after the grant is safe.
type Conservative struct{}

// Name 政策名稱
func (Conservative) Name() types.PolicyName { return types.PolicyConservative }

// Initiate aborts a task whose claim exceeds the total units of the resource.
func (Conservative) Initiate(st *State, task *taskmanager.Task, r, claim int) error {
	if supply := st.Pool.Supply(r); claim > supply {
		return fmt.Errorf("%w: claim for resource %d (%d) exceeds number of units present (%d)",
			ErrClaimExceedsCapacity, r+1, claim, supply)
	}
	return nil
}

// Allocate aborts on claim violation, grants into safe states, blocks otherwise.
func (Conservative) Allocate(st *State, task *taskmanager.Task, r, amount int) Decision {
	held := task.Holding[r]
	if amount+held > task.Claim[r] {
		return abort(fmt.Errorf("%w: request %d + holding %d > claim %d for resource %d",
			ErrRequestExceedsClaim, amount, held, task.Claim[r], r+1))
	}

	if !st.Pool.CanSatisfy(r, amount) {
		return block()
	}
	if !banker.NewChecker(st.Tasks, st.Pool).IsSafe(task, r, amount) {
		return block()
	}
	if err := take(st, task, r, amount); err != nil {
		return block()
	}
	return grant()
}

// Resolve is a no-op: safe states cannot deadlock.
func (Conservative) Resolve(*State, AbortFunc) int { return 0 }
