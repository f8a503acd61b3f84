package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/pesio-ai/be-form-workflows/internal/database"
	"github.com/pesio-ai/be-form-workflows/internal/errors"
	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

// TemplateRepository stores form templates in Postgres. Fields, JSON schema
// and approval flow are JSONB columns.
type TemplateRepository struct {
	db *database.DB
}

// NewTemplateRepository creates a new TemplateRepository.
func NewTemplateRepository(db *database.DB) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `
		id, kind, company_id, plant_id, name, description,
		fields, json_schema, approval_flow, is_active,
		created_by, created_at, updated_at`

// Create inserts t and fills ID and timestamps.
func (r *TemplateRepository) Create(ctx context.Context, t *FormTemplate) error {
	fieldsJSON, flowJSON, err := marshalTemplate(t)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO form_templates
		    (kind, company_id, plant_id, name, description,
		     fields, json_schema, approval_flow, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10)
		RETURNING id, created_at, updated_at
	`

	err = r.db.QueryRow(ctx, query,
		t.Kind,
		t.CompanyID,
		t.PlantID,
		t.Name,
		t.Description,
		fieldsJSON,
		nullableJSON(t.JSONSchema),
		flowJSON,
		t.IsActive,
		t.CreatedBy,
	).Scan(&t.ID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create form template")
	}
	return nil
}

// Get retrieves a template by kind and id.
func (r *TemplateRepository) Get(ctx context.Context, ref workflow.TemplateRef) (*FormTemplate, error) {
	query := `SELECT` + templateColumns + `
		FROM form_templates
		WHERE id = $1 AND kind = $2
	`

	t, err := r.scanTemplate(r.db.QueryRow(ctx, query, ref.ID, ref.Kind))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("form_template", ref.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get form template")
	}
	return t, nil
}

// List returns the templates of a company, optionally narrowed to a plant.
func (r *TemplateRepository) List(ctx context.Context, filter TemplateFilter) ([]*FormTemplate, error) {
	query := `SELECT` + templateColumns + `
		FROM form_templates
		WHERE company_id = $1
	`
	args := []any{filter.CompanyID}
	argCount := 2

	if filter.PlantID != nil {
		query += fmt.Sprintf(" AND plant_id = $%d", argCount)
		args = append(args, *filter.PlantID)
		argCount++
	}
	if filter.Kind != nil {
		query += fmt.Sprintf(" AND kind = $%d", argCount)
		args = append(args, *filter.Kind)
	}
	if !filter.IncludeInactive {
		query += " AND is_active"
	}
	query += " ORDER BY name ASC, created_at ASC"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list form templates")
	}
	defer rows.Close()

	templates := make([]*FormTemplate, 0)
	for rows.Next() {
		t, err := r.scanTemplate(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan form template")
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list form templates")
	}
	return templates, nil
}

// UpdateFlow replaces the approval flow and returns the updated template.
func (r *TemplateRepository) UpdateFlow(ctx context.Context, ref workflow.TemplateRef, flow workflow.Flow) (*FormTemplate, error) {
	flowJSON, err := json.Marshal(nonNilFlow(flow))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval flow")
	}

	query := `
		UPDATE form_templates
		SET approval_flow = $3,
		    updated_at    = NOW()
		WHERE id = $1 AND kind = $2
		RETURNING` + templateColumns

	t, err := r.scanTemplate(r.db.QueryRow(ctx, query, ref.ID, ref.Kind, flowJSON))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("form_template", ref.String())
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to update approval flow")
	}
	return t, nil
}

// SetActive toggles is_active.
func (r *TemplateRepository) SetActive(ctx context.Context, ref workflow.TemplateRef, active bool) error {
	query := `
		UPDATE form_templates
		SET is_active  = $3,
		    updated_at = NOW()
		WHERE id = $1 AND kind = $2
		RETURNING id
	`

	var returnedID string
	err := r.db.QueryRow(ctx, query, ref.ID, ref.Kind, active).Scan(&returnedID)
	if err == pgx.ErrNoRows {
		return errors.NotFound("form_template", ref.String())
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to update form template")
	}
	return nil
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type templateScanner interface {
	Scan(dest ...any) error
}

func (r *TemplateRepository) scanTemplate(row templateScanner) (*FormTemplate, error) {
	t := &FormTemplate{}
	var fieldsJSON, schemaJSON, flowJSON []byte

	err := row.Scan(
		&t.ID,
		&t.Kind,
		&t.CompanyID,
		&t.PlantID,
		&t.Name,
		&t.Description,
		&fieldsJSON,
		&schemaJSON,
		&flowJSON,
		&t.IsActive,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(fieldsJSON) > 0 {
		if err := json.Unmarshal(fieldsJSON, &t.Fields); err != nil {
			return nil, fmt.Errorf("unmarshal fields: %w", err)
		}
	}
	if len(schemaJSON) > 0 {
		t.JSONSchema = json.RawMessage(schemaJSON)
	}
	t.ApprovalFlow = workflow.Flow{}
	if len(flowJSON) > 0 {
		if err := json.Unmarshal(flowJSON, &t.ApprovalFlow); err != nil {
			return nil, fmt.Errorf("unmarshal approval flow: %w", err)
		}
	}
	return t, nil
}

func marshalTemplate(t *FormTemplate) (fields, flow []byte, err error) {
	f := t.Fields
	if f == nil {
		f = map[string]any{}
	}
	fields, err = json.Marshal(f)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal template fields")
	}
	flow, err = json.Marshal(nonNilFlow(t.ApprovalFlow))
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval flow")
	}
	return fields, flow, nil
}

func nonNilFlow(f workflow.Flow) workflow.Flow {
	if f == nil {
		return workflow.Flow{}
	}
	return f
}

// nullableJSON maps an empty document to SQL NULL.
func nullableJSON(doc json.RawMessage) []byte {
	if len(doc) == 0 {
		return nil
	}
	return doc
}
