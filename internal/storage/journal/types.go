package journal

import "github.com/ChuLiYu/deadlock-sim/pkg/types"

// ============================================================================
// Journal Type Definitions
// Responsibility: Define core data structures for the event journal
// ============================================================================

// Event represents one journal record
type Event struct {
	Seq       uint64          `json:"seq"`       // Event sequence number (monotonically increasing)
	RunID     string          `json:"run_id"`    // Simulation run that produced the event
	Type      types.EventType `json:"type"`      // Event type
	Cycle     int             `json:"cycle"`     // Simulation cycle
	Task      int             `json:"task"`      // 0-based task index, -1 when not applicable
	Resource  int             `json:"resource"`  // 0-based resource index, -1 when not applicable
	Amount    int             `json:"amount"`    // Units or compute cycles
	Detail    string          `json:"detail,omitempty"`
	Timestamp int64           `json:"timestamp"` // Unix millisecond timestamp
	Checksum  uint32          `json:"checksum"`  // CRC32 checksum
}

// SimEvent returns the simulation payload of the record
func (e Event) SimEvent() types.SimEvent {
	return types.SimEvent{
		Cycle:    e.Cycle,
		Type:     e.Type,
		Task:     e.Task,
		Resource: e.Resource,
		Amount:   e.Amount,
		Detail:   e.Detail,
	}
}

// EventHandler is the function type for processing journal events during Replay
type EventHandler func(event Event) error
