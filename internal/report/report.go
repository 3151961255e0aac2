// Package report renders simulation results in the classic per-task table:
//
//	FIFO
//
//	Task 1	3	0	0%
//	Task 2	aborted
//	total	3	0	0%
//
// Abort diagnostics are printed above the table, one per aborted task.
package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/ChuLiYu/deadlock-sim/pkg/types"
)

// Header returns the table title for a policy.
func Header(p types.PolicyName) string {
	if p == types.PolicyConservative {
		return "BANKER'S"
	}
	return "FIFO"
}

// Percent is waiting*100/total rounded half-up; 0 when total is 0.
func Percent(waiting, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*waiting + total) / (2 * total)
}

// AbortLine describes one abort the way the simulator reports it.
func AbortLine(p types.PolicyName, a types.AbortRecord) string {
	task := a.Task + 1
	switch a.Reason {
	case "claim_exceeds_capacity":
		return fmt.Sprintf("Banker aborts task %d before run begins: %s", task, a.Message)
	case "request_exceeds_claim":
		return fmt.Sprintf("During cycle %d-%d of Banker's algorithm, task %d's request exceeds its claim; aborted",
			a.Cycle, a.Cycle+1, task)
	case "deadlock_victim":
		return fmt.Sprintf("During cycle %d-%d, deadlock detected; task %d aborted", a.Cycle, a.Cycle+1, task)
	default:
		return fmt.Sprintf("During cycle %d-%d of %s, task %d aborted: %s",
			a.Cycle, a.Cycle+1, Header(p), task, a.Message)
	}
}

// Write renders res to w.
func Write(w io.Writer, res *types.RunResult) error {
	var b strings.Builder

	for _, a := range res.Aborts {
		b.WriteString(AbortLine(res.Policy, a))
		b.WriteByte('\n')
	}
	if len(res.Aborts) > 0 {
		b.WriteByte('\n')
	}

	b.WriteString(Header(res.Policy))
	b.WriteString("\n\n")
	for _, t := range res.Tasks {
		if t.Aborted {
			fmt.Fprintf(&b, "Task %d\taborted\n", t.Task+1)
			continue
		}
		fmt.Fprintf(&b, "Task %d\t%d\t%d\t%d%%\n", t.Task+1, t.TotalTime, t.WaitingTime, Percent(t.WaitingTime, t.TotalTime))
	}
	total, waiting := res.Totals()
	fmt.Fprintf(&b, "total\t%d\t%d\t%d%%\n", total, waiting, Percent(waiting, total))

	_, err := io.WriteString(w, b.String())
	return err
}

// WriteAll renders several results separated by a blank line.
func WriteAll(w io.Writer, results []*types.RunResult) error {
	for i, res := range results {
		if i > 0 {
			if _, err := io.WriteString(w, "\n"); err != nil {
				return err
			}
		}
		if res.Trace != "" {
			if _, err := fmt.Fprintf(w, "== %s ==\n", res.Trace); err != nil {
				return err
			}
		}
		if err := Write(w, res); err != nil {
			return err
		}
	}
	return nil
}
