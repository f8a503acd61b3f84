package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

// ── Domain types for form templates ──────────────────────────────────────────

// FormTemplate defines a form and its approval chain for a plant or company.
type FormTemplate struct {
	ID           string                `json:"id"`
	Kind         workflow.TemplateKind `json:"kind"`
	CompanyID    string                `json:"company_id"`
	PlantID      *string               `json:"plant_id,omitempty"` // set for plant templates only
	Name         string                `json:"name"`
	Description  *string               `json:"description,omitempty"`
	Fields       map[string]any        `json:"fields"`
	JSONSchema   json.RawMessage       `json:"json_schema,omitempty"`
	ApprovalFlow workflow.Flow         `json:"approval_flow"`
	IsActive     bool                  `json:"is_active"`
	CreatedBy    string                `json:"created_by"`
	CreatedAt    time.Time             `json:"created_at"`
	UpdatedAt    time.Time             `json:"updated_at"`
}

// Ref returns the template reference stored on submissions.
func (t *FormTemplate) Ref() workflow.TemplateRef {
	return workflow.TemplateRef{Kind: t.Kind, ID: t.ID}
}

// TemplateFilter narrows ListTemplates.
type TemplateFilter struct {
	CompanyID       string
	PlantID         *string
	Kind            *workflow.TemplateKind
	IncludeInactive bool
}

// SubmissionFilter narrows List. Zero fields do not filter.
type SubmissionFilter struct {
	CompanyID   string
	PlantID     *string
	TemplateRef *workflow.TemplateRef
	Status      *workflow.Status
	SubmittedBy *string
}

// Page is a limit/offset window.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the window to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = 50
	}
	if p.Limit > 500 {
		p.Limit = 500
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

// AuditEntry is one immutable record in the submission audit log.
type AuditEntry struct {
	ID           string         `json:"id"`
	SubmissionID string         `json:"submission_id"`
	CompanyID    string         `json:"company_id"`
	Action       string         `json:"action"` // created | submitted | advanced | approved | auto_approved | rejected
	PerformedBy  string         `json:"performed_by"`
	PerformedAt  time.Time      `json:"performed_at"`
	StatusBefore *string        `json:"status_before,omitempty"`
	StatusAfter  *string        `json:"status_after,omitempty"`
	LevelBefore  int            `json:"level_before"`
	LevelAfter   int            `json:"level_after"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// ── Store contracts ──────────────────────────────────────────────────────────

// TemplateStore persists form templates.
type TemplateStore interface {
	Create(ctx context.Context, t *FormTemplate) error
	Get(ctx context.Context, ref workflow.TemplateRef) (*FormTemplate, error)
	List(ctx context.Context, filter TemplateFilter) ([]*FormTemplate, error)
	UpdateFlow(ctx context.Context, ref workflow.TemplateRef, flow workflow.Flow) (*FormTemplate, error)
	SetActive(ctx context.Context, ref workflow.TemplateRef, active bool) error
}

// SubmissionStore persists submissions. Update is a compare-and-swap on
// Version: it succeeds only if the stored version still equals sub.Version,
// and it increments sub.Version on success.
type SubmissionStore interface {
	Create(ctx context.Context, sub *workflow.Submission) error
	Get(ctx context.Context, id string) (*workflow.Submission, error)
	Update(ctx context.Context, sub *workflow.Submission) error
	List(ctx context.Context, filter SubmissionFilter, page Page) ([]*workflow.Submission, int64, error)
	ListByTemplate(ctx context.Context, ref workflow.TemplateRef) ([]*workflow.Submission, error)
	// ListPendingForApprover returns PENDING_APPROVAL submissions whose
	// template flow names approverID at any level.
	ListPendingForApprover(ctx context.Context, approverID string) ([]*workflow.Submission, error)
}

// AuditStore appends and reads the submission audit trail.
type AuditStore interface {
	Append(ctx context.Context, entry *AuditEntry) error
	ListBySubmission(ctx context.Context, submissionID string) ([]*AuditEntry, error)
}
