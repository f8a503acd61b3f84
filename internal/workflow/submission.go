package workflow

import (
	"fmt"
	"time"

	"github.com/pesio-ai/be-form-workflows/internal/errors"
)

// Status is the lifecycle state of a submission.
type Status string

const (
	StatusDraft           Status = "DRAFT"
	StatusPendingApproval Status = "PENDING_APPROVAL"
	StatusApproved        Status = "APPROVED"
	StatusRejected        Status = "REJECTED"
	// StatusSubmitted marks a flow-less submission the caller chose not to
	// auto-approve.
	StatusSubmitted Status = "SUBMITTED"
)

// ParseStatus validates a status string. The empty string is accepted and
// returned as is.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case "", StatusDraft, StatusPendingApproval, StatusApproved, StatusRejected, StatusSubmitted:
		return st, nil
	default:
		return "", errors.InvalidInput("status", fmt.Sprintf("unknown status %q", s))
	}
}

// IsTerminal reports whether no further transitions are permitted.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected || s == StatusSubmitted
}

// Action is what an approver does at the current level.
type Action string

const (
	ActionApprove Action = "APPROVE"
	ActionReject  Action = "REJECT"
)

// ParseAction validates an action string.
func ParseAction(s string) (Action, error) {
	switch a := Action(s); a {
	case ActionApprove, ActionReject:
		return a, nil
	default:
		return "", errors.InvalidInput("action", fmt.Sprintf("unknown action %q", s))
	}
}

// TemplateKind discriminates the two template variants a submission can be
// bound to.
type TemplateKind string

const (
	TemplateKindPlant   TemplateKind = "plant"
	TemplateKindCompany TemplateKind = "company"
)

// TemplateRef identifies the template a submission was filled from.
type TemplateRef struct {
	Kind TemplateKind `json:"kind"`
	ID   string       `json:"id"`
}

// Validate checks the variant tag and id.
func (r TemplateRef) Validate() error {
	switch r.Kind {
	case TemplateKindPlant, TemplateKindCompany:
	default:
		return errors.InvalidInput("template_ref.kind", fmt.Sprintf("unknown template kind %q", r.Kind))
	}
	if r.ID == "" {
		return errors.InvalidInput("template_ref.id", "template id is required")
	}
	return nil
}

func (r TemplateRef) String() string { return string(r.Kind) + "/" + r.ID }

// HistoryEntry records one approve/reject action. Entries are never edited.
type HistoryEntry struct {
	Level      int       `json:"level"`
	ApproverID string    `json:"approver_id"`
	Status     Status    `json:"status"`
	Comments   *string   `json:"comments,omitempty"`
	ActionedAt time.Time `json:"actioned_at"`
}

// Submission is one form-fill attempt and its approval progress.
type Submission struct {
	ID              string         `json:"id"`
	TemplateRef     TemplateRef    `json:"template_ref"`
	CompanyID       string         `json:"company_id"`
	PlantID         *string        `json:"plant_id,omitempty"`
	SubmittedBy     string         `json:"submitted_by"`
	SubmittedAt     *time.Time     `json:"submitted_at,omitempty"`
	Data            map[string]any `json:"data"`
	Status          Status         `json:"status"`
	CurrentLevel    int            `json:"current_level"`
	ApprovalHistory []HistoryEntry `json:"approval_history"`
	ApprovedAt      *time.Time     `json:"approved_at,omitempty"`
	ApprovedBy      *string        `json:"approved_by,omitempty"`
	RejectedAt      *time.Time     `json:"rejected_at,omitempty"`
	RejectedBy      *string        `json:"rejected_by,omitempty"`
	Version         int64          `json:"version"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Clone returns a copy that shares nothing mutable with s. Nested maps and
// slices inside Data are copied too.
func (s *Submission) Clone() *Submission {
	if s == nil {
		return nil
	}
	out := *s
	out.Data = CloneData(s.Data)
	if s.ApprovalHistory != nil {
		out.ApprovalHistory = make([]HistoryEntry, len(s.ApprovalHistory))
		for i, h := range s.ApprovalHistory {
			h.Comments = cloneString(h.Comments)
			out.ApprovalHistory[i] = h
		}
	}
	out.PlantID = cloneString(s.PlantID)
	out.ApprovedBy = cloneString(s.ApprovedBy)
	out.RejectedBy = cloneString(s.RejectedBy)
	out.SubmittedAt = cloneTime(s.SubmittedAt)
	out.ApprovedAt = cloneTime(s.ApprovedAt)
	out.RejectedAt = cloneTime(s.RejectedAt)
	return &out
}

// IsTerminal reports whether the submission accepts no further actions.
func (s *Submission) IsTerminal() bool { return s.Status.IsTerminal() }

// CurrentApprover returns the approver bound to the current level.
func (s *Submission) CurrentApprover(flow Flow) (string, bool) {
	if s.Status != StatusPendingApproval {
		return "", false
	}
	lvl, ok := flow.At(s.CurrentLevel)
	if !ok {
		return "", false
	}
	return lvl.ApproverID, true
}

// IsActorsTurn reports whether actorID may act on the submission right now.
func (s *Submission) IsActorsTurn(flow Flow, actorID string) bool {
	approver, ok := s.CurrentApprover(flow)
	return ok && approver == actorID
}

// CloneData deep-copies the JSON-shaped values a submission carries:
// map[string]any and []any are copied recursively, everything else is a
// value.
func CloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneData(t)
	case []any:
		if t == nil {
			return t
		}
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []map[string]any:
		if t == nil {
			return t
		}
		out := make([]map[string]any, len(t))
		for i, e := range t {
			out[i] = CloneData(e)
		}
		return out
	case []string:
		if t == nil {
			return t
		}
		return append([]string(nil), t...)
	default:
		return v
	}
}

func cloneString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneTime(p *time.Time) *time.Time {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
