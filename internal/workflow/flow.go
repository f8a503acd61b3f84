// Package workflow holds the form submission approval state machine.
//
// Everything here is pure: functions take the current submission, the
// approval flow bound to its template and an action, and return the next
// submission value. Persistence, serialization of concurrent writers and
// notification delivery belong to the callers.
package workflow

import (
	"fmt"

	"github.com/pesio-ai/be-form-workflows/internal/errors"
)

// Level is one approval step bound to exactly one approver.
type Level struct {
	Level      int    `json:"level"`
	ApproverID string `json:"approver_id"`
}

// Flow is the ordered list of approval levels of a template. An empty flow
// means the form needs no approval.
type Flow []Level

// Validate checks that levels start at 1, are contiguous and ordered, and
// that every level names an approver.
func (f Flow) Validate() error {
	for i, lvl := range f {
		want := i + 1
		if lvl.Level != want {
			return errors.InvalidInput("approval_flow",
				fmt.Sprintf("levels must be contiguous starting at 1: position %d has level %d, expected %d", i, lvl.Level, want))
		}
		if lvl.ApproverID == "" {
			return errors.InvalidInput("approval_flow",
				fmt.Sprintf("level %d has no approver", lvl.Level))
		}
	}
	return nil
}

// IsEmpty reports whether the flow has no levels.
func (f Flow) IsEmpty() bool { return len(f) == 0 }

// At returns the level with the given number.
func (f Flow) At(level int) (Level, bool) {
	for _, lvl := range f {
		if lvl.Level == level {
			return lvl, true
		}
	}
	return Level{}, false
}

// Contains reports whether actorID approves any level of the flow.
func (f Flow) Contains(actorID string) bool {
	for _, lvl := range f {
		if lvl.ApproverID == actorID {
			return true
		}
	}
	return false
}

// Clone returns an independent copy.
func (f Flow) Clone() Flow {
	if f == nil {
		return nil
	}
	out := make(Flow, len(f))
	copy(out, f)
	return out
}

// NewFlow builds a flow from an ordered list of approver ids.
func NewFlow(approverIDs ...string) Flow {
	flow := make(Flow, 0, len(approverIDs))
	for i, id := range approverIDs {
		flow = append(flow, Level{Level: i + 1, ApproverID: id})
	}
	return flow
}
