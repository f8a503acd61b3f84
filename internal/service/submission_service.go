package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-form-workflows/internal/errors"
	"github.com/pesio-ai/be-form-workflows/internal/lock"
	"github.com/pesio-ai/be-form-workflows/internal/logger"
	"github.com/pesio-ai/be-form-workflows/internal/repository"
	"github.com/pesio-ai/be-form-workflows/internal/schema"
	"github.com/pesio-ai/be-form-workflows/internal/tracing"
	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

// SubmissionService drives submissions through their template's approval
// flow. Mutations of one submission are serialized in-process by a keyed
// mutex and across processes by the store's version check.
type SubmissionService struct {
	templates   repository.TemplateStore
	submissions repository.SubmissionStore
	audit       repository.AuditStore
	machine     *workflow.Machine
	events      EventSink
	directory   IdentityDirectory
	locks       *lock.KeyedMutex
	newID       func() string
	log         *logger.Logger
}

// NewSubmissionService creates a new SubmissionService. events and
// directory may be nil.
func NewSubmissionService(
	templates repository.TemplateStore,
	submissions repository.SubmissionStore,
	audit repository.AuditStore,
	machine *workflow.Machine,
	events EventSink,
	directory IdentityDirectory,
	log *logger.Logger,
) *SubmissionService {
	if events == nil {
		events = nopSink{}
	}
	if machine == nil {
		machine = workflow.NewMachine()
	}
	return &SubmissionService{
		templates:   templates,
		submissions: submissions,
		audit:       audit,
		machine:     machine,
		events:      events,
		directory:   directory,
		locks:       lock.NewKeyedMutex(),
		newID:       uuid.NewString,
		log:         log,
	}
}

// CreateSubmissionRequest represents a create submission request.
type CreateSubmissionRequest struct {
	TemplateRef     workflow.TemplateRef `json:"template_ref"`
	Data            map[string]any       `json:"data"`
	RequestedStatus workflow.Status      `json:"status,omitempty"`
	SubmittedBy     string               `json:"-"`
}

// ProcessApprovalRequest represents one approve/reject action.
type ProcessApprovalRequest struct {
	SubmissionID string          `json:"submission_id"`
	ActorID      string          `json:"-"`
	Action       workflow.Action `json:"action"`
	Comments     *string         `json:"comments,omitempty"`
	EditedData   map[string]any  `json:"edited_data,omitempty"`
}

// PendingSubmission is a pending item annotated for one approver.
type PendingSubmission struct {
	Submission           *workflow.Submission `json:"submission"`
	TemplateName         string               `json:"template_name"`
	IsActorsTurn         bool                 `json:"is_actors_turn"`
	BlockingApproverID   string               `json:"blocking_approver_id,omitempty"`
	BlockingApproverName string               `json:"blocking_approver_name,omitempty"`
}

// ── Create ────────────────────────────────────────────────────────────────────

// CreateSubmission opens a submission against an active template. Drafts
// skip schema validation; it runs when the draft is submitted.
func (s *SubmissionService) CreateSubmission(ctx context.Context, req *CreateSubmissionRequest) (_ *workflow.Submission, err error) {
	ctx, span := tracing.Start(ctx, "SubmissionService.CreateSubmission",
		attribute.String("template_id", req.TemplateRef.ID),
		attribute.String("actor_id", req.SubmittedBy),
	)
	defer func() { tracing.End(span, err) }()

	if req.SubmittedBy == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "actor is required")
	}
	if err := req.TemplateRef.Validate(); err != nil {
		return nil, err
	}
	if _, err := workflow.ParseStatus(string(req.RequestedStatus)); err != nil {
		return nil, err
	}

	tpl, err := s.templates.Get(ctx, req.TemplateRef)
	if err != nil {
		return nil, err
	}
	if !tpl.IsActive {
		return nil, errors.InvalidInput("template_ref", "template is inactive")
	}
	if req.RequestedStatus != workflow.StatusDraft {
		if err := schema.Validate(tpl.JSONSchema, req.Data); err != nil {
			return nil, err
		}
	}

	sub, tr, err := s.machine.NewSubmission(workflow.NewSubmissionRequest{
		ID:              s.newID(),
		TemplateRef:     tpl.Ref(),
		CompanyID:       tpl.CompanyID,
		PlantID:         tpl.PlantID,
		SubmittedBy:     req.SubmittedBy,
		Data:            req.Data,
		RequestedStatus: req.RequestedStatus,
		Flow:            tpl.ApprovalFlow,
	})
	if err != nil {
		return nil, err
	}

	if err := s.submissions.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, sub, tr)
	s.dispatch(tpl, sub, tr, nil)

	s.log.Info().
		Str("submission_id", sub.ID).
		Str("template_id", tpl.ID).
		Str("status", string(sub.Status)).
		Int("level", sub.CurrentLevel).
		Str("actor_id", req.SubmittedBy).
		Msg("Submission created")

	return sub, nil
}

// ── Submit draft ──────────────────────────────────────────────────────────────

// SubmitDraft moves the caller's own draft into the approval flow. requested
// is optional; SUBMITTED holds a flow-less draft instead of auto-approving it.
func (s *SubmissionService) SubmitDraft(ctx context.Context, submissionID, actorID string, requested workflow.Status) (_ *workflow.Submission, err error) {
	ctx, span := tracing.Start(ctx, "SubmissionService.SubmitDraft",
		attribute.String("submission_id", submissionID),
		attribute.String("actor_id", actorID),
	)
	defer func() { tracing.End(span, err) }()

	if actorID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "actor is required")
	}

	unlock := s.locks.Lock(submissionID)
	defer unlock()

	sub, err := s.submissions.Get(ctx, submissionID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.Get(ctx, sub.TemplateRef)
	if err != nil {
		return nil, err
	}

	next, tr, err := s.machine.Submit(sub, tpl.ApprovalFlow, actorID, requested)
	if err != nil {
		return nil, err
	}
	if !tpl.IsActive {
		return nil, errors.InvalidInput("template_ref", "template is inactive")
	}
	if err := schema.Validate(tpl.JSONSchema, next.Data); err != nil {
		return nil, err
	}

	if err := s.submissions.Update(ctx, next); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, next, tr)
	s.dispatch(tpl, next, tr, nil)

	s.log.Info().
		Str("submission_id", next.ID).
		Str("template_id", tpl.ID).
		Str("status", string(next.Status)).
		Int("level", next.CurrentLevel).
		Str("actor_id", actorID).
		Msg("Draft submitted")

	return next, nil
}

// ── Approve / Reject ──────────────────────────────────────────────────────────

// ProcessApproval applies an approve or reject from the current-level
// approver. On any error nothing is persisted and no event is sent.
func (s *SubmissionService) ProcessApproval(ctx context.Context, req *ProcessApprovalRequest) (_ *workflow.Submission, err error) {
	ctx, span := tracing.Start(ctx, "SubmissionService.ProcessApproval",
		attribute.String("submission_id", req.SubmissionID),
		attribute.String("actor_id", req.ActorID),
		attribute.String("action", string(req.Action)),
	)
	defer func() { tracing.End(span, err) }()

	if req.SubmissionID == "" {
		return nil, errors.InvalidInput("submission_id", "submission is required")
	}

	unlock := s.locks.Lock(req.SubmissionID)
	defer unlock()

	sub, err := s.submissions.Get(ctx, req.SubmissionID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.templates.Get(ctx, sub.TemplateRef)
	if err != nil {
		return nil, err
	}

	next, tr, err := s.machine.ProcessAction(sub, tpl.ApprovalFlow, workflow.ActionRequest{
		ActorID:    req.ActorID,
		Action:     req.Action,
		Comments:   req.Comments,
		EditedData: req.EditedData,
	})
	if err != nil {
		s.log.Warn().Err(err).
			Str("submission_id", req.SubmissionID).
			Str("actor_id", req.ActorID).
			Str("action", string(req.Action)).
			Int("level", sub.CurrentLevel).
			Msg("Approval action refused")
		return nil, err
	}
	if req.EditedData != nil {
		if err := schema.Validate(tpl.JSONSchema, next.Data); err != nil {
			return nil, err
		}
	}

	if err := s.submissions.Update(ctx, next); err != nil {
		return nil, err
	}

	s.appendAudit(ctx, next, tr)
	s.dispatch(tpl, next, tr, req.Comments)

	s.log.Info().
		Str("submission_id", next.ID).
		Str("template_id", tpl.ID).
		Str("transition", string(tr.Kind)).
		Int("from_level", tr.FromLevel).
		Int("level", next.CurrentLevel).
		Str("status", string(next.Status)).
		Str("actor_id", req.ActorID).
		Msg("Approval action applied")

	return next, nil
}

// ── Queries ───────────────────────────────────────────────────────────────────

// GetSubmission retrieves a submission by id.
func (s *SubmissionService) GetSubmission(ctx context.Context, id string) (*workflow.Submission, error) {
	if id == "" {
		return nil, errors.InvalidInput("id", "submission id is required")
	}
	return s.submissions.Get(ctx, id)
}

// ListSubmissions returns one page of a company's submissions.
func (s *SubmissionService) ListSubmissions(ctx context.Context, filter repository.SubmissionFilter, page repository.Page) ([]*workflow.Submission, int64, error) {
	if filter.CompanyID == "" {
		return nil, 0, errors.InvalidInput("company_id", "company is required")
	}
	return s.submissions.List(ctx, filter, page.Normalize())
}

// GetAuditTrail returns the audit log of a submission.
func (s *SubmissionService) GetAuditTrail(ctx context.Context, id string) ([]*repository.AuditEntry, error) {
	if _, err := s.GetSubmission(ctx, id); err != nil {
		return nil, err
	}
	return s.audit.ListBySubmission(ctx, id)
}

// GetSubmissionsPendingFor lists PENDING_APPROVAL submissions whose flow
// includes actorID, including those still waiting on an earlier level.
func (s *SubmissionService) GetSubmissionsPendingFor(ctx context.Context, actorID string) (_ []*PendingSubmission, err error) {
	ctx, span := tracing.Start(ctx, "SubmissionService.GetSubmissionsPendingFor", attribute.String("actor_id", actorID))
	defer func() { tracing.End(span, err) }()

	if actorID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "actor is required")
	}

	subs, err := s.submissions.ListPendingForApprover(ctx, actorID)
	if err != nil {
		return nil, err
	}

	templates := make(map[workflow.TemplateRef]*repository.FormTemplate)
	names := make(map[string]string)
	out := make([]*PendingSubmission, 0, len(subs))

	for _, sub := range subs {
		tpl, ok := templates[sub.TemplateRef]
		if !ok {
			tpl, err = s.templates.Get(ctx, sub.TemplateRef)
			if err != nil {
				return nil, err
			}
			templates[sub.TemplateRef] = tpl
		}
		if !tpl.ApprovalFlow.Contains(actorID) {
			continue
		}

		item := &PendingSubmission{
			Submission:   sub,
			TemplateName: tpl.Name,
			IsActorsTurn: sub.IsActorsTurn(tpl.ApprovalFlow, actorID),
		}
		if blocker, ok := sub.CurrentApprover(tpl.ApprovalFlow); ok {
			item.BlockingApproverID = blocker
			item.BlockingApproverName = s.resolveName(ctx, names, blocker)
		}
		out = append(out, item)
	}
	return out, nil
}

// GetLevelStats aggregates per-level approval progress for a template.
func (s *SubmissionService) GetLevelStats(ctx context.Context, ref workflow.TemplateRef) (_ *workflow.LevelStats, err error) {
	ctx, span := tracing.Start(ctx, "SubmissionService.GetLevelStats", attribute.String("template_id", ref.ID))
	defer func() { tracing.End(span, err) }()

	if err := ref.Validate(); err != nil {
		return nil, err
	}
	tpl, err := s.templates.Get(ctx, ref)
	if err != nil {
		return nil, err
	}
	subs, err := s.submissions.ListByTemplate(ctx, ref)
	if err != nil {
		return nil, err
	}
	stats := workflow.ComputeLevelStats(subs, tpl.ApprovalFlow)
	return &stats, nil
}

// ── Internal helpers ──────────────────────────────────────────────────────────

// resolveName looks up a display name once per call, falling back to the id.
func (s *SubmissionService) resolveName(ctx context.Context, cache map[string]string, userID string) string {
	if name, ok := cache[userID]; ok {
		return name
	}
	name := userID
	if s.directory != nil {
		resolved, err := s.directory.DisplayName(ctx, userID)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", userID).Msg("Failed to resolve approver name")
		} else if resolved != "" {
			name = resolved
		}
	}
	cache[userID] = name
	return name
}

// appendAudit writes an audit entry and logs a warning on failure (never returns error).
func (s *SubmissionService) appendAudit(ctx context.Context, sub *workflow.Submission, tr *workflow.Transition) {
	if s.audit == nil || tr == nil {
		return
	}
	before := string(tr.FromStatus)
	after := string(tr.ToStatus)
	entry := &repository.AuditEntry{
		SubmissionID: sub.ID,
		CompanyID:    sub.CompanyID,
		Action:       string(tr.Kind),
		PerformedBy:  tr.ActorID,
		StatusBefore: &before,
		StatusAfter:  &after,
		LevelBefore:  tr.FromLevel,
		LevelAfter:   tr.ToLevel,
		Metadata: map[string]any{
			"template_id": sub.TemplateRef.ID,
			"version":     sub.Version,
		},
	}
	if tr.NextApproverID != "" {
		entry.Metadata["next_approver_id"] = tr.NextApproverID
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		s.log.Warn().Err(err).
			Str("submission_id", sub.ID).
			Str("action", entry.Action).
			Msg("Failed to write audit log entry")
	}
}

// submissionURL is the UI deep link carried on notifications.
func submissionURL(id string) string {
	return fmt.Sprintf("/forms/submissions/%s", id)
}
