// ============================================================================
// deadlock-sim Allocation Policy
// ============================================================================
//
// Package: internal/policy
// File: policy.go
// Purpose: Decide, for a pending request, whether to grant, block, or abort
//
// Variants:
//   - Optimistic: grant anything satisfiable, recover from deadlock by abort
//   - Conservative: Banker's algorithm, grant only into a safe state
//
// The scheduler owns the State and hands it to the policy on every call;
// a policy keeps no reference to it between runs.
//
// ============================================================================

package policy

import (
	"errors"
	"fmt"

	"github.com/ChuLiYu/deadlock-sim/internal/resource"
	"github.com/ChuLiYu/deadlock-sim/internal/taskmanager"
	"github.com/ChuLiYu/deadlock-sim/pkg/types"
)

// Abort reasons. All are task-scoped.
var (
	// ErrClaimExceedsCapacity 宣告的 claim 超過系統總量
	ErrClaimExceedsCapacity = errors.New("claim exceeds capacity")
	// ErrRequestExceedsClaim 累計申請超過自身 claim
	ErrRequestExceedsClaim = errors.New("request exceeds claim")
	// ErrDeadlockVictim 被選為解除死結的犧牲者
	ErrDeadlockVictim = errors.New("deadlock victim")
	// ErrUnknownPolicy 未知的政策名稱
	ErrUnknownPolicy = errors.New("unknown policy")
)

// Verdict is the outcome of one allocation attempt.
type Verdict int

const (
	Granted Verdict = iota
	Blocked
	Aborted
)

func (v Verdict) String() string {
	switch v {
	case Granted:
		return "granted"
	case Blocked:
		return "blocked"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Decision carries the verdict and, for Aborted, the reason.
type Decision struct {
	Verdict Verdict
	Reason  error
}

func grant() Decision { return Decision{Verdict: Granted} }
func block() Decision { return Decision{Verdict: Blocked} }
func abort(err error) Decision {
	return Decision{Verdict: Aborted, Reason: err}
}

// State is the shared bookkeeping of one run.
type State struct {
	Tasks *taskmanager.Manager
	Pool  *resource.Pool
}

// AbortFunc reclaims and aborts a task; supplied by the scheduler.
type AbortFunc func(task *taskmanager.Task, reason error)

// Policy is the allocation capability the scheduler is parameterized over.
type Policy interface {
	// Name identifies the policy in results and reports.
	Name() types.PolicyName

	// Initiate validates a claim declaration; a non-nil error aborts the task.
	Initiate(st *State, task *taskmanager.Task, r, claim int) error

	// Allocate decides a request. On Granted the units have already moved
	// from the pool into task.Holding.
	Allocate(st *State, task *taskmanager.Task, r, amount int) Decision

	// Resolve runs once per cycle after all tasks acted. It returns the
	// number of tasks it aborted through abortFn.
	Resolve(st *State, abortFn AbortFunc) int
}

// New returns the policy registered under name.
func New(name types.PolicyName) (Policy, error) {
	switch name {
	case types.PolicyOptimistic, "fifo":
		return Optimistic{}, nil
	case types.PolicyConservative, "banker", "bankers":
		return Conservative{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownPolicy, name)
}

// take moves amount units of r from the pool into task's holding.
func take(st *State, task *taskmanager.Task, r, amount int) error {
	if err := st.Pool.Take(r, amount); err != nil {
		return err
	}
	task.Holding[r] += amount
	return nil
}
