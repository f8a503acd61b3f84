package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/pesio-ai/be-form-workflows/internal/errors"
	"github.com/pesio-ai/be-form-workflows/internal/logger"
	"github.com/pesio-ai/be-form-workflows/internal/middleware"
	"github.com/pesio-ai/be-form-workflows/internal/repository"
	"github.com/pesio-ai/be-form-workflows/internal/service"
	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

// HTTPHandler handles HTTP requests
type HTTPHandler struct {
	templates   *service.TemplateService
	submissions *service.SubmissionService
	log         *logger.Logger
}

// NewHTTPHandler creates a new HTTP handler
func NewHTTPHandler(templates *service.TemplateService, submissions *service.SubmissionService, log *logger.Logger) *HTTPHandler {
	return &HTTPHandler{
		templates:   templates,
		submissions: submissions,
		log:         log,
	}
}

// RegisterRoutes mounts every route on mux.
func (h *HTTPHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.Health)

	mux.HandleFunc("/api/v1/templates", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListTemplates(w, r)
		case http.MethodPost:
			h.CreateTemplate(w, r)
		default:
			methodNotAllowed(w)
		}
	})
	mux.HandleFunc("/api/v1/templates/get", h.GetTemplate)
	mux.HandleFunc("/api/v1/templates/flow", h.UpdateApprovalFlow)
	mux.HandleFunc("/api/v1/templates/deactivate", h.DeactivateTemplate)
	mux.HandleFunc("/api/v1/templates/stats", h.GetLevelStats)

	mux.HandleFunc("/api/v1/submissions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			h.ListSubmissions(w, r)
		case http.MethodPost:
			h.CreateSubmission(w, r)
		default:
			methodNotAllowed(w)
		}
	})
	mux.HandleFunc("/api/v1/submissions/get", h.GetSubmission)
	mux.HandleFunc("/api/v1/submissions/submit", h.SubmitDraft)
	mux.HandleFunc("/api/v1/submissions/approve", h.action(workflow.ActionApprove))
	mux.HandleFunc("/api/v1/submissions/reject", h.action(workflow.ActionReject))
	mux.HandleFunc("/api/v1/submissions/pending", h.GetPendingSubmissions)
	mux.HandleFunc("/api/v1/submissions/audit", h.GetAuditTrail)
}

// Health reports liveness.
func (h *HTTPHandler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ── Templates ─────────────────────────────────────────────────────────────────

// CreateTemplate handles create template HTTP requests
func (h *HTTPHandler) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req service.CreateTemplateRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.CreatedBy = actorID(r)

	tpl, err := h.templates.CreateTemplate(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, tpl)
}

// GetTemplate handles get template HTTP requests
func (h *HTTPHandler) GetTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	tpl, err := h.templates.GetTemplate(r.Context(), templateRefFromQuery(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// ListTemplates handles list templates HTTP requests
func (h *HTTPHandler) ListTemplates(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	includeInactive, _ := strconv.ParseBool(q.Get("include_inactive"))

	templates, err := h.templates.ListTemplates(r.Context(), q.Get("company_id"), optional(q.Get("plant_id")), includeInactive)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": templates,
		"total":     len(templates),
	})
}

type updateFlowBody struct {
	TemplateRef  workflow.TemplateRef `json:"template_ref"`
	ApprovalFlow workflow.Flow        `json:"approval_flow"`
}

// UpdateApprovalFlow handles approval flow replacement
func (h *HTTPHandler) UpdateApprovalFlow(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var body updateFlowBody
	if !h.decode(w, r, &body) {
		return
	}

	tpl, err := h.templates.UpdateApprovalFlow(r.Context(), body.TemplateRef, body.ApprovalFlow, actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// DeactivateTemplate handles template deactivation
func (h *HTTPHandler) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var ref workflow.TemplateRef
	if !h.decode(w, r, &ref) {
		return
	}

	if err := h.templates.DeactivateTemplate(r.Context(), ref, actorID(r)); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Template deactivated successfully"})
}

// GetLevelStats handles per-level approval statistics
func (h *HTTPHandler) GetLevelStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	stats, err := h.submissions.GetLevelStats(r.Context(), templateRefFromQuery(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// ── Submissions ───────────────────────────────────────────────────────────────

// CreateSubmission handles create submission HTTP requests
func (h *HTTPHandler) CreateSubmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var req service.CreateSubmissionRequest
	if !h.decode(w, r, &req) {
		return
	}
	req.SubmittedBy = actorID(r)

	sub, err := h.submissions.CreateSubmission(r.Context(), &req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// GetSubmission handles get submission HTTP requests
func (h *HTTPHandler) GetSubmission(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	sub, err := h.submissions.GetSubmission(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

// ListSubmissions handles list submissions HTTP requests
func (h *HTTPHandler) ListSubmissions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := repository.SubmissionFilter{
		CompanyID:   q.Get("company_id"),
		PlantID:     optional(q.Get("plant_id")),
		SubmittedBy: optional(q.Get("submitted_by")),
	}
	if q.Get("template_id") != "" {
		ref := templateRefFromQuery(r)
		if err := ref.Validate(); err != nil {
			h.writeError(w, r, err)
			return
		}
		filter.TemplateRef = &ref
	}
	if raw := q.Get("status"); raw != "" {
		st, err := workflow.ParseStatus(raw)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		filter.Status = &st
	}

	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	page := repository.Page{Limit: limit, Offset: offset}.Normalize()

	subs, total, err := h.submissions.ListSubmissions(r.Context(), filter, page)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": subs,
		"total":       total,
		"limit":       page.Limit,
		"offset":      page.Offset,
	})
}

type submitBody struct {
	SubmissionID string          `json:"submission_id"`
	Status       workflow.Status `json:"status,omitempty"`
}

// SubmitDraft handles moving a draft into its approval flow
func (h *HTTPHandler) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}

	var body submitBody
	if !h.decode(w, r, &body) {
		return
	}

	sub, err := h.submissions.SubmitDraft(r.Context(), body.SubmissionID, actorID(r), body.Status)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}

type actionBody struct {
	SubmissionID string         `json:"submission_id"`
	Comments     *string        `json:"comments,omitempty"`
	EditedData   map[string]any `json:"edited_data,omitempty"`
}

// action returns the handler for the approve and reject routes.
func (h *HTTPHandler) action(act workflow.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			methodNotAllowed(w)
			return
		}

		var body actionBody
		if !h.decode(w, r, &body) {
			return
		}

		sub, err := h.submissions.ProcessApproval(r.Context(), &service.ProcessApprovalRequest{
			SubmissionID: body.SubmissionID,
			ActorID:      actorID(r),
			Action:       act,
			Comments:     body.Comments,
			EditedData:   body.EditedData,
		})
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, sub)
	}
}

// GetPendingSubmissions handles the caller's approval inbox
func (h *HTTPHandler) GetPendingSubmissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	items, err := h.submissions.GetSubmissionsPendingFor(r.Context(), actorID(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"submissions": items,
		"total":       len(items),
	})
}

// GetAuditTrail handles a submission's audit log
func (h *HTTPHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}

	entries, err := h.submissions.GetAuditTrail(r.Context(), r.URL.Query().Get("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// ── Helpers ───────────────────────────────────────────────────────────────────

// actorID prefers the id the Actor middleware stored and falls back to the
// raw header.
func actorID(r *http.Request) string {
	if id := middleware.ActorFromContext(r.Context()); id != "" {
		return id
	}
	return r.Header.Get(middleware.HeaderUserID)
}

func templateRefFromQuery(r *http.Request) workflow.TemplateRef {
	q := r.URL.Query()
	kind := q.Get("template_kind")
	if kind == "" {
		kind = q.Get("kind")
	}
	id := q.Get("template_id")
	if id == "" {
		id = q.Get("id")
	}
	return workflow.TemplateRef{Kind: workflow.TemplateKind(kind), ID: id}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		h.writeError(w, r, errors.InvalidInput("body", "invalid request body"))
		return false
	}
	return true
}

type errorBody struct {
	Code    errors.Code `json:"code"`
	Message string      `json:"message"`
	Field   string      `json:"field,omitempty"`
}

func (h *HTTPHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errors.CodeOf(err)
	body := errorBody{Code: code, Message: err.Error()}

	var appErr *errors.Error
	if errors.As(err, &appErr) {
		body.Message = appErr.Message
		body.Field = appErr.Field
	}

	status := httpStatus(code)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).
			Str("request_id", middleware.RequestIDFromContext(r.Context())).
			Str("path", r.URL.Path).
			Msg("Request failed")
		if code == errors.ErrCodeInternal {
			body.Message = "internal error"
		}
	}
	writeJSON(w, status, map[string]errorBody{"error": body})
}

func httpStatus(code errors.Code) int {
	switch code {
	case errors.ErrCodeNotFound:
		return http.StatusNotFound
	case errors.ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case errors.ErrCodeForbidden:
		return http.StatusForbidden
	case errors.ErrCodeInvalidInput:
		return http.StatusBadRequest
	case errors.ErrCodeConflict:
		return http.StatusConflict
	case errors.ErrCodeDependencyFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeJSON(w, http.StatusMethodNotAllowed, map[string]errorBody{
		"error": {Code: "METHOD_NOT_ALLOWED", Message: "Method not allowed"},
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
