package workflow

import (
	"fmt"
	"time"

	"github.com/pesio-ai/be-form-workflows/internal/errors"
)

// EmptyFlowPolicy decides who may act on a pending submission whose flow has
// no levels. That only happens when a template's flow is emptied after the
// submission was created; new flow-less submissions are terminal on creation.
type EmptyFlowPolicy string

const (
	// EmptyFlowDeny rejects every actor with an authorization error.
	EmptyFlowDeny EmptyFlowPolicy = "deny"
	// EmptyFlowOpen lets any authenticated actor act.
	EmptyFlowOpen EmptyFlowPolicy = "open"
)

// ParseEmptyFlowPolicy validates a policy name; empty means deny.
func ParseEmptyFlowPolicy(s string) (EmptyFlowPolicy, error) {
	switch p := EmptyFlowPolicy(s); p {
	case "":
		return EmptyFlowDeny, nil
	case EmptyFlowDeny, EmptyFlowOpen:
		return p, nil
	default:
		return "", errors.InvalidInput("empty_flow_policy", fmt.Sprintf("unknown policy %q", s))
	}
}

var (
	// ErrAlreadyTerminal is returned for actions on approved, rejected or
	// flow-less submitted submissions.
	ErrAlreadyTerminal = errors.Conflict("submission is already in a terminal state")
	// ErrNotSubmitted is returned for approval actions on drafts.
	ErrNotSubmitted = errors.Conflict("submission is still a draft")
	// ErrNotDraft is returned when submitting something that is not a draft.
	ErrNotDraft = errors.Conflict("only draft submissions can be submitted")
)

// TransitionKind describes the outcome of a state change.
type TransitionKind string

const (
	TransitionCreated      TransitionKind = "created"
	TransitionAutoApproved TransitionKind = "auto_approved"
	TransitionAdvanced     TransitionKind = "advanced"
	TransitionApproved     TransitionKind = "approved"
	TransitionRejected     TransitionKind = "rejected"
)

// Transition summarizes a state change so callers can decide whom to notify.
type Transition struct {
	Kind       TransitionKind
	ActorID    string
	FromStatus Status
	ToStatus   Status
	FromLevel  int
	ToLevel    int
	// NextApproverID is set when the submission now waits on an approver.
	NextApproverID string
}

// NewSubmissionRequest carries what is needed to open a submission.
type NewSubmissionRequest struct {
	ID              string
	TemplateRef     TemplateRef
	CompanyID       string
	PlantID         *string
	SubmittedBy     string
	Data            map[string]any
	RequestedStatus Status
	Flow            Flow
}

// ActionRequest is one approve/reject attempt.
type ActionRequest struct {
	ActorID  string
	Action   Action
	Comments *string
	// EditedData, when non-nil, replaces the submission data before the
	// action is recorded.
	EditedData map[string]any
}

// Machine applies transitions. The zero value is not usable; use NewMachine.
type Machine struct {
	policy EmptyFlowPolicy
	now    func() time.Time
}

// Option configures a Machine.
type Option func(*Machine)

// WithEmptyFlowPolicy sets the empty-flow authorization policy.
func WithEmptyFlowPolicy(p EmptyFlowPolicy) Option {
	return func(m *Machine) { m.policy = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) { m.now = now }
}

// NewMachine builds a Machine denying empty-flow actions by default.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{policy: EmptyFlowDeny, now: time.Now}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Policy returns the configured empty-flow policy.
func (m *Machine) Policy() EmptyFlowPolicy { return m.policy }

// NewSubmission opens a submission in a workflow-consistent initial state.
func (m *Machine) NewSubmission(req NewSubmissionRequest) (*Submission, *Transition, error) {
	if err := req.TemplateRef.Validate(); err != nil {
		return nil, nil, err
	}
	if req.SubmittedBy == "" {
		return nil, nil, errors.InvalidInput("submitted_by", "submitter is required")
	}
	if err := req.Flow.Validate(); err != nil {
		return nil, nil, err
	}
	switch req.RequestedStatus {
	case "", StatusDraft, StatusPendingApproval, StatusApproved, StatusSubmitted:
	default:
		return nil, nil, errors.InvalidInput("status",
			fmt.Sprintf("cannot create a submission with status %s", req.RequestedStatus))
	}

	now := m.now().UTC()
	data := req.Data
	if data == nil {
		data = map[string]any{}
	}
	sub := &Submission{
		ID:              req.ID,
		TemplateRef:     req.TemplateRef,
		CompanyID:       req.CompanyID,
		PlantID:         cloneString(req.PlantID),
		SubmittedBy:     req.SubmittedBy,
		Data:            data,
		Status:          StatusDraft,
		ApprovalHistory: []HistoryEntry{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if req.RequestedStatus == StatusDraft {
		return sub, &Transition{Kind: TransitionCreated, ActorID: req.SubmittedBy, FromStatus: StatusDraft, ToStatus: StatusDraft}, nil
	}

	tr := m.enter(sub, req.Flow, req.RequestedStatus, now)
	return sub, tr, nil
}

// Submit moves a draft into its initial workflow state. Only the submitter
// may submit their own draft. requested plays the same role as on
// creation: SUBMITTED keeps a flow-less draft from being auto-approved.
func (m *Machine) Submit(sub *Submission, flow Flow, actorID string, requested Status) (*Submission, *Transition, error) {
	if sub.Status != StatusDraft {
		return nil, nil, ErrNotDraft
	}
	if actorID == "" || actorID != sub.SubmittedBy {
		return nil, nil, errors.Forbidden("only the submitter can submit a draft")
	}
	switch requested {
	case "", StatusPendingApproval, StatusApproved, StatusSubmitted:
	default:
		return nil, nil, errors.InvalidInput("status",
			fmt.Sprintf("cannot submit a draft with status %s", requested))
	}
	if err := flow.Validate(); err != nil {
		return nil, nil, err
	}
	next := sub.Clone()
	now := m.now().UTC()
	tr := m.enter(next, flow, requested, now)
	return next, tr, nil
}

// enter sets the post-draft initial state on sub.
func (m *Machine) enter(sub *Submission, flow Flow, requested Status, now time.Time) *Transition {
	sub.SubmittedAt = &now
	sub.UpdatedAt = now
	from := sub.Status

	if flow.IsEmpty() {
		sub.CurrentLevel = 0
		if requested == StatusSubmitted {
			sub.Status = StatusSubmitted
			return &Transition{Kind: TransitionCreated, ActorID: sub.SubmittedBy, FromStatus: from, ToStatus: StatusSubmitted}
		}
		sub.Status = StatusApproved
		sub.ApprovedAt = &now
		sub.ApprovedBy = cloneString(&sub.SubmittedBy)
		return &Transition{Kind: TransitionAutoApproved, ActorID: sub.SubmittedBy, FromStatus: from, ToStatus: StatusApproved}
	}

	sub.Status = StatusPendingApproval
	sub.CurrentLevel = 1
	return &Transition{
		Kind:           TransitionCreated,
		ActorID:        sub.SubmittedBy,
		FromStatus:     from,
		ToStatus:       StatusPendingApproval,
		ToLevel:        1,
		NextApproverID: flow[0].ApproverID,
	}
}

// ProcessAction applies an approve or reject by req.ActorID. The input
// submission is never modified; on error nothing is returned to persist.
func (m *Machine) ProcessAction(sub *Submission, flow Flow, req ActionRequest) (*Submission, *Transition, error) {
	if _, err := ParseAction(string(req.Action)); err != nil {
		return nil, nil, err
	}
	if req.ActorID == "" {
		return nil, nil, errors.New(errors.ErrCodeUnauthorized, "actor is required")
	}
	// State is checked before the actor: anyone acting on a finished
	// submission learns it is finished (CONFLICT) rather than FORBIDDEN.
	switch {
	case sub.Status.IsTerminal():
		return nil, nil, ErrAlreadyTerminal
	case sub.Status == StatusDraft:
		return nil, nil, ErrNotSubmitted
	case sub.Status != StatusPendingApproval:
		return nil, nil, errors.Conflict(fmt.Sprintf("unexpected submission status %s", sub.Status))
	}
	if err := m.authorize(sub, flow, req.ActorID); err != nil {
		return nil, nil, err
	}

	now := m.now().UTC()
	next := sub.Clone()
	if req.EditedData != nil {
		next.Data = CloneData(req.EditedData)
	}

	entry := HistoryEntry{
		Level:      sub.CurrentLevel,
		ApproverID: req.ActorID,
		Comments:   cloneString(req.Comments),
		ActionedAt: now,
	}
	tr := &Transition{
		ActorID:    req.ActorID,
		FromStatus: sub.Status,
		FromLevel:  sub.CurrentLevel,
	}
	next.UpdatedAt = now

	if req.Action == ActionReject {
		entry.Status = StatusRejected
		next.ApprovalHistory = append(next.ApprovalHistory, entry)
		next.Status = StatusRejected
		next.RejectedAt = &now
		next.RejectedBy = cloneString(&req.ActorID)
		tr.Kind = TransitionRejected
		tr.ToStatus = StatusRejected
		tr.ToLevel = next.CurrentLevel
		return next, tr, nil
	}

	entry.Status = StatusApproved
	next.ApprovalHistory = append(next.ApprovalHistory, entry)

	if lvl, ok := flow.At(sub.CurrentLevel + 1); ok {
		next.CurrentLevel = lvl.Level
		tr.Kind = TransitionAdvanced
		tr.ToStatus = StatusPendingApproval
		tr.ToLevel = lvl.Level
		tr.NextApproverID = lvl.ApproverID
		return next, tr, nil
	}

	next.Status = StatusApproved
	next.ApprovedAt = &now
	next.ApprovedBy = cloneString(&req.ActorID)
	past := len(flow) + 1
	if past < sub.CurrentLevel {
		past = sub.CurrentLevel
	}
	next.CurrentLevel = past
	tr.Kind = TransitionApproved
	tr.ToStatus = StatusApproved
	tr.ToLevel = past
	return next, tr, nil
}

// authorize checks actorID against the approver of the current level. A
// current level missing from the flow fails closed.
func (m *Machine) authorize(sub *Submission, flow Flow, actorID string) error {
	if flow.IsEmpty() {
		if m.policy == EmptyFlowOpen {
			return nil
		}
		return errors.Forbidden("submission has no approval flow; actions are not permitted")
	}
	lvl, ok := flow.At(sub.CurrentLevel)
	if !ok {
		return errors.Forbidden(fmt.Sprintf("approval level %d no longer exists in the flow", sub.CurrentLevel))
	}
	if lvl.ApproverID != actorID {
		return errors.Forbidden(fmt.Sprintf("user is not the approver for level %d", sub.CurrentLevel))
	}
	return nil
}
