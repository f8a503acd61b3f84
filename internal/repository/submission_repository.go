package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/pesio-ai/be-form-workflows/internal/database"
	"github.com/pesio-ai/be-form-workflows/internal/errors"
	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

// SubmissionRepository stores submissions in Postgres. Data and approval
// history are JSONB; version guards concurrent updates.
type SubmissionRepository struct {
	db *database.DB
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(db *database.DB) *SubmissionRepository {
	return &SubmissionRepository{db: db}
}

const submissionColumns = `
		id, template_kind, template_id, company_id, plant_id,
		submitted_by, submitted_at, data, status, current_level,
		approval_history, approved_at, approved_by, rejected_at, rejected_by,
		version, created_at, updated_at`

// Create inserts a new submission at version 1.
func (r *SubmissionRepository) Create(ctx context.Context, sub *workflow.Submission) error {
	dataJSON, historyJSON, err := marshalSubmission(sub)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO form_submissions
		    (id, template_kind, template_id, company_id, plant_id,
		     submitted_by, submitted_at, data, status, current_level,
		     approval_history, approved_at, approved_by, rejected_at, rejected_by,
		     version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5,
		        $6, $7, $8, $9, $10,
		        $11, $12, $13, $14, $15,
		        1, $16, $17)
	`

	_, err = r.db.Exec(ctx, query,
		sub.ID,
		sub.TemplateRef.Kind,
		sub.TemplateRef.ID,
		sub.CompanyID,
		sub.PlantID,
		sub.SubmittedBy,
		sub.SubmittedAt,
		dataJSON,
		sub.Status,
		sub.CurrentLevel,
		historyJSON,
		sub.ApprovedAt,
		sub.ApprovedBy,
		sub.RejectedAt,
		sub.RejectedBy,
		sub.CreatedAt,
		sub.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return errors.Conflict(fmt.Sprintf("submission %s already exists", sub.ID))
	}
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "failed to create submission")
	}
	sub.Version = 1
	return nil
}

// Get retrieves a submission by id.
func (r *SubmissionRepository) Get(ctx context.Context, id string) (*workflow.Submission, error) {
	query := `SELECT` + submissionColumns + `
		FROM form_submissions
		WHERE id = $1
	`

	sub, err := r.scanSubmission(r.db.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, errors.NotFound("submission", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to get submission")
	}
	return sub, nil
}

// Update writes sub if the stored version still equals sub.Version. A lost
// race yields CONFLICT and leaves the row untouched.
func (r *SubmissionRepository) Update(ctx context.Context, sub *workflow.Submission) error {
	dataJSON, historyJSON, err := marshalSubmission(sub)
	if err != nil {
		return err
	}

	return r.db.InTransaction(ctx, func(tx pgx.Tx) error {
		query := `
			UPDATE form_submissions
			SET submitted_at     = $3,
			    data             = $4,
			    status           = $5,
			    current_level    = $6,
			    approval_history = $7,
			    approved_at      = $8,
			    approved_by      = $9,
			    rejected_at      = $10,
			    rejected_by      = $11,
			    updated_at       = $12,
			    version          = version + 1
			WHERE id = $1 AND version = $2
			RETURNING version
		`

		var newVersion int64
		err := tx.QueryRow(ctx, query,
			sub.ID,
			sub.Version,
			sub.SubmittedAt,
			dataJSON,
			sub.Status,
			sub.CurrentLevel,
			historyJSON,
			sub.ApprovedAt,
			sub.ApprovedBy,
			sub.RejectedAt,
			sub.RejectedBy,
			sub.UpdatedAt,
		).Scan(&newVersion)
		if err == nil {
			sub.Version = newVersion
			return nil
		}
		if err != pgx.ErrNoRows {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update submission")
		}

		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM form_submissions WHERE id = $1)`, sub.ID).Scan(&exists); err != nil {
			return errors.Wrap(err, errors.ErrCodeInternal, "failed to update submission")
		}
		if !exists {
			return errors.NotFound("submission", sub.ID)
		}
		return errors.Conflict(fmt.Sprintf("submission %s was modified concurrently", sub.ID))
	})
}

// List returns one page of submissions matching filter plus the total count.
func (r *SubmissionRepository) List(ctx context.Context, filter SubmissionFilter, page Page) ([]*workflow.Submission, int64, error) {
	page = page.Normalize()

	query := `SELECT` + submissionColumns + `
		FROM form_submissions
		WHERE company_id = $1
	`
	countQuery := `SELECT COUNT(*) FROM form_submissions WHERE company_id = $1`

	args := []any{filter.CompanyID}
	argCount := 2

	if filter.PlantID != nil {
		query += fmt.Sprintf(" AND plant_id = $%d", argCount)
		countQuery += fmt.Sprintf(" AND plant_id = $%d", argCount)
		args = append(args, *filter.PlantID)
		argCount++
	}
	if filter.TemplateRef != nil {
		query += fmt.Sprintf(" AND template_kind = $%d AND template_id = $%d", argCount, argCount+1)
		countQuery += fmt.Sprintf(" AND template_kind = $%d AND template_id = $%d", argCount, argCount+1)
		args = append(args, filter.TemplateRef.Kind, filter.TemplateRef.ID)
		argCount += 2
	}
	if filter.Status != nil {
		query += fmt.Sprintf(" AND status = $%d", argCount)
		countQuery += fmt.Sprintf(" AND status = $%d", argCount)
		args = append(args, *filter.Status)
		argCount++
	}
	if filter.SubmittedBy != nil {
		query += fmt.Sprintf(" AND submitted_by = $%d", argCount)
		countQuery += fmt.Sprintf(" AND submitted_by = $%d", argCount)
		args = append(args, *filter.SubmittedBy)
		argCount++
	}

	query += " ORDER BY created_at DESC, id DESC"
	query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", argCount, argCount+1)
	queryArgs := append(append([]any{}, args...), page.Limit, page.Offset)

	var total int64
	if err := r.db.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to count submissions")
	}

	rows, err := r.db.Query(ctx, query, queryArgs...)
	if err != nil {
		return nil, 0, errors.Wrap(err, errors.ErrCodeInternal, "failed to list submissions")
	}
	defer rows.Close()

	subs, err := r.scanRows(rows)
	if err != nil {
		return nil, 0, err
	}
	return subs, total, nil
}

// ListByTemplate returns every submission of a template, oldest first.
func (r *SubmissionRepository) ListByTemplate(ctx context.Context, ref workflow.TemplateRef) ([]*workflow.Submission, error) {
	query := `SELECT` + submissionColumns + `
		FROM form_submissions
		WHERE template_id = $1 AND template_kind = $2
		ORDER BY created_at ASC
	`

	rows, err := r.db.Query(ctx, query, ref.ID, ref.Kind)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list template submissions")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListPendingForApprover joins against the template flow and keeps
// submissions whose flow contains approverID.
func (r *SubmissionRepository) ListPendingForApprover(ctx context.Context, approverID string) ([]*workflow.Submission, error) {
	query := `
		SELECT s.id, s.template_kind, s.template_id, s.company_id, s.plant_id,
		       s.submitted_by, s.submitted_at, s.data, s.status, s.current_level,
		       s.approval_history, s.approved_at, s.approved_by, s.rejected_at, s.rejected_by,
		       s.version, s.created_at, s.updated_at
		FROM form_submissions s
		JOIN form_templates t
		  ON t.id = s.template_id AND t.kind = s.template_kind
		WHERE s.status = $1
		  AND t.approval_flow @> jsonb_build_array(jsonb_build_object('approver_id', $2::text))
		ORDER BY s.submitted_at ASC
	`

	rows, err := r.db.Query(ctx, query, workflow.StatusPendingApproval, approverID)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to list pending submissions")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ── scan helpers ──────────────────────────────────────────────────────────────

func (r *SubmissionRepository) scanRows(rows pgx.Rows) ([]*workflow.Submission, error) {
	subs := make([]*workflow.Submission, 0)
	for rows.Next() {
		sub, err := r.scanSubmission(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to scan submission")
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to read submissions")
	}
	return subs, nil
}

type submissionScanner interface {
	Scan(dest ...any) error
}

func (r *SubmissionRepository) scanSubmission(row submissionScanner) (*workflow.Submission, error) {
	sub := &workflow.Submission{}
	var dataJSON, historyJSON []byte

	err := row.Scan(
		&sub.ID,
		&sub.TemplateRef.Kind,
		&sub.TemplateRef.ID,
		&sub.CompanyID,
		&sub.PlantID,
		&sub.SubmittedBy,
		&sub.SubmittedAt,
		&dataJSON,
		&sub.Status,
		&sub.CurrentLevel,
		&historyJSON,
		&sub.ApprovedAt,
		&sub.ApprovedBy,
		&sub.RejectedAt,
		&sub.RejectedBy,
		&sub.Version,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	sub.Data = map[string]any{}
	if len(dataJSON) > 0 {
		if err := json.Unmarshal(dataJSON, &sub.Data); err != nil {
			return nil, fmt.Errorf("unmarshal data: %w", err)
		}
	}
	sub.ApprovalHistory = []workflow.HistoryEntry{}
	if len(historyJSON) > 0 {
		if err := json.Unmarshal(historyJSON, &sub.ApprovalHistory); err != nil {
			return nil, fmt.Errorf("unmarshal approval history: %w", err)
		}
	}
	return sub, nil
}

func marshalSubmission(sub *workflow.Submission) (data, history []byte, err error) {
	d := sub.Data
	if d == nil {
		d = map[string]any{}
	}
	data, err = json.Marshal(d)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal submission data")
	}
	h := sub.ApprovalHistory
	if h == nil {
		h = []workflow.HistoryEntry{}
	}
	history, err = json.Marshal(h)
	if err != nil {
		return nil, nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to marshal approval history")
	}
	return data, history, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
