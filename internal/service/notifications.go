package service

import (
	"github.com/pesio-ai/be-form-workflows/internal/notify"
	"github.com/pesio-ai/be-form-workflows/internal/repository"
	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

const (
	resourceType = "form_submission"
	category     = "form_approval"
)

// dispatch turns a committed transition into notification events. It runs
// after persistence and never fails the caller.
func (s *SubmissionService) dispatch(tpl *repository.FormTemplate, sub *workflow.Submission, tr *workflow.Transition, comments *string) {
	if tr == nil {
		return
	}
	for _, evt := range eventsFor(tpl, sub, tr, comments) {
		if !s.events.Enqueue(evt) {
			s.log.Debug().
				Str("submission_id", sub.ID).
				Str("event_type", string(evt.EventType)).
				Msg("Notification not enqueued")
		}
	}
}

// eventsFor maps a transition to the events it produces:
//
//	created (pending)   → submission_created to submitter, approval_required to level 1
//	created (submitted) → submission_created to submitter
//	auto_approved       → submission_approved to submitter
//	advanced            → approval_required to the next approver
//	approved            → submission_approved to submitter
//	rejected            → submission_rejected to submitter
//
// Drafts produce nothing.
func eventsFor(tpl *repository.FormTemplate, sub *workflow.Submission, tr *workflow.Transition, comments *string) []*notify.Event {
	base := func(t notify.EventType, recipient string) *notify.Event {
		payload := map[string]any{
			"template_name": tpl.Name,
			"status":        string(sub.Status),
			"level":         sub.CurrentLevel,
			"submitted_by":  sub.SubmittedBy,
		}
		if comments != nil && *comments != "" {
			payload["comments"] = *comments
		}
		return &notify.Event{
			EventType:    t,
			CompanyID:    sub.CompanyID,
			ActorID:      tr.ActorID,
			Recipients:   []string{recipient},
			ResourceType: resourceType,
			ResourceID:   sub.ID,
			TemplateID:   tpl.ID,
			Level:        sub.CurrentLevel,
			ActionURL:    submissionURL(sub.ID),
			Severity:     "info",
			Category:     category,
			OccurredAt:   sub.UpdatedAt,
			Payload:      payload,
		}
	}
	approvalRequired := func() *notify.Event {
		evt := base(notify.EventApprovalRequired, tr.NextApproverID)
		evt.IsActionable = true
		return evt
	}

	switch tr.Kind {
	case workflow.TransitionCreated:
		switch tr.ToStatus {
		case workflow.StatusPendingApproval:
			return []*notify.Event{base(notify.EventSubmissionCreated, sub.SubmittedBy), approvalRequired()}
		case workflow.StatusSubmitted:
			return []*notify.Event{base(notify.EventSubmissionCreated, sub.SubmittedBy)}
		}
	case workflow.TransitionAutoApproved, workflow.TransitionApproved:
		return []*notify.Event{base(notify.EventSubmissionApproved, sub.SubmittedBy)}
	case workflow.TransitionAdvanced:
		return []*notify.Event{approvalRequired()}
	case workflow.TransitionRejected:
		evt := base(notify.EventSubmissionRejected, sub.SubmittedBy)
		evt.Severity = "warning"
		return []*notify.Event{evt}
	}
	return nil
}
