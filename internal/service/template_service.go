package service

import (
	"context"
	"encoding/json"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/pesio-ai/be-form-workflows/internal/errors"
	"github.com/pesio-ai/be-form-workflows/internal/logger"
	"github.com/pesio-ai/be-form-workflows/internal/repository"
	"github.com/pesio-ai/be-form-workflows/internal/schema"
	"github.com/pesio-ai/be-form-workflows/internal/tracing"
	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

// TemplateService manages form templates and their approval flows.
type TemplateService struct {
	templates repository.TemplateStore
	log       *logger.Logger
}

// NewTemplateService creates a new TemplateService.
func NewTemplateService(templates repository.TemplateStore, log *logger.Logger) *TemplateService {
	return &TemplateService{templates: templates, log: log}
}

// CreateTemplateRequest represents a create template request.
type CreateTemplateRequest struct {
	Kind         workflow.TemplateKind `json:"kind"`
	CompanyID    string                `json:"company_id"`
	PlantID      *string               `json:"plant_id,omitempty"`
	Name         string                `json:"name"`
	Description  *string               `json:"description,omitempty"`
	Fields       map[string]any        `json:"fields,omitempty"`
	JSONSchema   json.RawMessage       `json:"json_schema,omitempty"`
	ApprovalFlow workflow.Flow         `json:"approval_flow"`
	CreatedBy    string                `json:"-"`
}

func (r *CreateTemplateRequest) validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return errors.InvalidInput("name", "name is required")
	}
	if r.CompanyID == "" {
		return errors.InvalidInput("company_id", "company is required")
	}
	if r.CreatedBy == "" {
		return errors.New(errors.ErrCodeUnauthorized, "actor is required")
	}
	switch r.Kind {
	case workflow.TemplateKindPlant:
		if r.PlantID == nil || *r.PlantID == "" {
			return errors.InvalidInput("plant_id", "plant templates require a plant")
		}
	case workflow.TemplateKindCompany:
		if r.PlantID != nil {
			return errors.InvalidInput("plant_id", "company templates cannot belong to a plant")
		}
	default:
		return errors.InvalidInput("kind", "kind must be plant or company")
	}
	if err := r.ApprovalFlow.Validate(); err != nil {
		return err
	}
	return schema.Check(r.JSONSchema)
}

// CreateTemplate validates and stores a new active template.
func (s *TemplateService) CreateTemplate(ctx context.Context, req *CreateTemplateRequest) (_ *repository.FormTemplate, err error) {
	ctx, span := tracing.Start(ctx, "TemplateService.CreateTemplate", attribute.String("company_id", req.CompanyID))
	defer func() { tracing.End(span, err) }()

	if err := req.validate(); err != nil {
		return nil, err
	}

	flow := req.ApprovalFlow.Clone()
	if flow == nil {
		flow = workflow.Flow{}
	}
	tpl := &repository.FormTemplate{
		Kind:         req.Kind,
		CompanyID:    req.CompanyID,
		PlantID:      req.PlantID,
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Fields:       req.Fields,
		JSONSchema:   req.JSONSchema,
		ApprovalFlow: flow,
		IsActive:     true,
		CreatedBy:    req.CreatedBy,
	}
	if err := s.templates.Create(ctx, tpl); err != nil {
		return nil, err
	}

	s.log.Info().
		Str("template_id", tpl.ID).
		Str("kind", string(tpl.Kind)).
		Str("company_id", tpl.CompanyID).
		Int("levels", len(tpl.ApprovalFlow)).
		Str("actor_id", req.CreatedBy).
		Msg("Form template created")

	return tpl, nil
}

// GetTemplate retrieves a template.
func (s *TemplateService) GetTemplate(ctx context.Context, ref workflow.TemplateRef) (*repository.FormTemplate, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	return s.templates.Get(ctx, ref)
}

// ListTemplates lists a company's templates, optionally for one plant.
func (s *TemplateService) ListTemplates(ctx context.Context, companyID string, plantID *string, includeInactive bool) ([]*repository.FormTemplate, error) {
	if companyID == "" {
		return nil, errors.InvalidInput("company_id", "company is required")
	}
	return s.templates.List(ctx, repository.TemplateFilter{
		CompanyID:       companyID,
		PlantID:         plantID,
		IncludeInactive: includeInactive,
	})
}

// UpdateApprovalFlow replaces a template's flow. Submissions already in
// flight are evaluated against the new flow on their next action.
func (s *TemplateService) UpdateApprovalFlow(ctx context.Context, ref workflow.TemplateRef, flow workflow.Flow, actorID string) (_ *repository.FormTemplate, err error) {
	ctx, span := tracing.Start(ctx, "TemplateService.UpdateApprovalFlow", attribute.String("template_id", ref.ID))
	defer func() { tracing.End(span, err) }()

	if actorID == "" {
		return nil, errors.New(errors.ErrCodeUnauthorized, "actor is required")
	}
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	if err := flow.Validate(); err != nil {
		return nil, err
	}
	if flow == nil {
		flow = workflow.Flow{}
	}

	tpl, err := s.templates.UpdateFlow(ctx, ref, flow)
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Str("template_id", ref.ID).
		Int("levels", len(flow)).
		Str("actor_id", actorID).
		Msg("Approval flow updated")

	return tpl, nil
}

// DeactivateTemplate stops a template from accepting new submissions.
func (s *TemplateService) DeactivateTemplate(ctx context.Context, ref workflow.TemplateRef, actorID string) error {
	if actorID == "" {
		return errors.New(errors.ErrCodeUnauthorized, "actor is required")
	}
	if err := ref.Validate(); err != nil {
		return err
	}
	if err := s.templates.SetActive(ctx, ref, false); err != nil {
		return err
	}
	s.log.Info().
		Str("template_id", ref.ID).
		Str("actor_id", actorID).
		Msg("Form template deactivated")
	return nil
}
