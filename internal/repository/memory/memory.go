// Package memory provides process-local implementations of the repository
// stores. It backs the "memory" database driver and the service tests.
// Values are deep-copied on the way in and out so callers never share state
// with the store, including maps and slices nested in JSON data.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-form-workflows/internal/errors"
	"github.com/pesio-ai/be-form-workflows/internal/repository"
	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

// Store bundles the three stores over shared template state.
type Store struct {
	Templates   *TemplateStore
	Submissions *SubmissionStore
	Audit       *AuditStore
}

// New returns an empty Store.
func New() *Store {
	ts := &TemplateStore{items: map[string]*repository.FormTemplate{}, now: time.Now}
	return &Store{
		Templates:   ts,
		Submissions: &SubmissionStore{items: map[string]*workflow.Submission{}, templates: ts},
		Audit:       &AuditStore{items: map[string][]*repository.AuditEntry{}},
	}
}

// ── templates ─────────────────────────────────────────────────────────────────

// TemplateStore keeps form templates keyed by kind and ID.
type TemplateStore struct {
	mu    sync.RWMutex
	items map[string]*repository.FormTemplate
	now   func() time.Time
}

var _ repository.TemplateStore = (*TemplateStore)(nil)

func key(ref workflow.TemplateRef) string { return ref.String() }

// Create stores t, assigning an ID when unset and stamping its timestamps.
func (s *TemplateStore) Create(_ context.Context, t *repository.FormTemplate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if _, ok := s.items[key(t.Ref())]; ok {
		return errors.Conflict(fmt.Sprintf("form template %s already exists", t.Ref()))
	}
	now := s.now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	s.items[key(t.Ref())] = cloneTemplate(t)
	return nil
}

// Get returns a copy of the template or NOT_FOUND.
func (s *TemplateStore) Get(_ context.Context, ref workflow.TemplateRef) (*repository.FormTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.items[key(ref)]
	if !ok {
		return nil, errors.NotFound("form_template", ref.String())
	}
	return cloneTemplate(t), nil
}

// List returns the templates matching filter.
func (s *TemplateStore) List(_ context.Context, filter repository.TemplateFilter) ([]*repository.FormTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*repository.FormTemplate, 0)
	for _, t := range s.items {
		if t.CompanyID != filter.CompanyID {
			continue
		}
		if filter.PlantID != nil && (t.PlantID == nil || *t.PlantID != *filter.PlantID) {
			continue
		}
		if filter.Kind != nil && t.Kind != *filter.Kind {
			continue
		}
		if !filter.IncludeInactive && !t.IsActive {
			continue
		}
		out = append(out, cloneTemplate(t))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateFlow replaces the approval flow of a template. Submissions already
// in flight see the new flow on their next action.
func (s *TemplateStore) UpdateFlow(_ context.Context, ref workflow.TemplateRef, flow workflow.Flow) (*repository.FormTemplate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[key(ref)]
	if !ok {
		return nil, errors.NotFound("form_template", ref.String())
	}
	t.ApprovalFlow = flow.Clone()
	t.UpdatedAt = s.now().UTC()
	return cloneTemplate(t), nil
}

// SetActive toggles whether new submissions may use the template.
func (s *TemplateStore) SetActive(_ context.Context, ref workflow.TemplateRef, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.items[key(ref)]
	if !ok {
		return errors.NotFound("form_template", ref.String())
	}
	t.IsActive = active
	t.UpdatedAt = s.now().UTC()
	return nil
}

// flowOf returns the current flow of ref, or nil if the template is gone.
func (s *TemplateStore) flowOf(ref workflow.TemplateRef) workflow.Flow {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.items[key(ref)]; ok {
		return t.ApprovalFlow
	}
	return nil
}

func cloneTemplate(t *repository.FormTemplate) *repository.FormTemplate {
	c := *t
	c.ApprovalFlow = t.ApprovalFlow.Clone()
	c.Fields = workflow.CloneData(t.Fields)
	if t.JSONSchema != nil {
		c.JSONSchema = append([]byte(nil), t.JSONSchema...)
	}
	if t.PlantID != nil {
		p := *t.PlantID
		c.PlantID = &p
	}
	if t.Description != nil {
		d := *t.Description
		c.Description = &d
	}
	return &c
}

// ── submissions ───────────────────────────────────────────────────────────────

// SubmissionStore keeps submissions keyed by ID and resolves approver
// queries against the live template flows.
type SubmissionStore struct {
	mu        sync.RWMutex
	items     map[string]*workflow.Submission
	templates *TemplateStore
}

var _ repository.SubmissionStore = (*SubmissionStore)(nil)

// Create stores sub at version 1. An empty ID is filled with a UUID.
func (s *SubmissionStore) Create(_ context.Context, sub *workflow.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if _, ok := s.items[sub.ID]; ok {
		return errors.Conflict(fmt.Sprintf("submission %s already exists", sub.ID))
	}
	sub.Version = 1
	s.items[sub.ID] = sub.Clone()
	return nil
}

// Get returns a copy of the submission or NOT_FOUND.
func (s *SubmissionStore) Get(_ context.Context, id string) (*workflow.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.items[id]
	if !ok {
		return nil, errors.NotFound("submission", id)
	}
	return sub.Clone(), nil
}

// Update writes sub if its version still matches the stored one and bumps
// it; a stale version is a CONFLICT.
func (s *SubmissionStore) Update(_ context.Context, sub *workflow.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.items[sub.ID]
	if !ok {
		return errors.NotFound("submission", sub.ID)
	}
	if cur.Version != sub.Version {
		return errors.Conflict(fmt.Sprintf("submission %s was modified concurrently", sub.ID))
	}
	sub.Version++
	s.items[sub.ID] = sub.Clone()
	return nil
}

// List returns one page of submissions matching filter, newest first, and
// the total match count.
func (s *SubmissionStore) List(_ context.Context, filter repository.SubmissionFilter, page repository.Page) ([]*workflow.Submission, int64, error) {
	page = page.Normalize()

	s.mu.RLock()
	matched := make([]*workflow.Submission, 0)
	for _, sub := range s.items {
		if matches(sub, filter) {
			matched = append(matched, sub)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := int64(len(matched))
	if page.Offset >= len(matched) {
		return []*workflow.Submission{}, total, nil
	}
	end := page.Offset + page.Limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*workflow.Submission, 0, end-page.Offset)
	for _, sub := range matched[page.Offset:end] {
		out = append(out, sub.Clone())
	}
	return out, total, nil
}

func matches(sub *workflow.Submission, f repository.SubmissionFilter) bool {
	if sub.CompanyID != f.CompanyID {
		return false
	}
	if f.PlantID != nil && (sub.PlantID == nil || *sub.PlantID != *f.PlantID) {
		return false
	}
	if f.TemplateRef != nil && sub.TemplateRef != *f.TemplateRef {
		return false
	}
	if f.Status != nil && sub.Status != *f.Status {
		return false
	}
	if f.SubmittedBy != nil && sub.SubmittedBy != *f.SubmittedBy {
		return false
	}
	return true
}

// ListByTemplate returns every submission created from ref.
func (s *SubmissionStore) ListByTemplate(_ context.Context, ref workflow.TemplateRef) ([]*workflow.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Submission, 0)
	for _, sub := range s.items {
		if sub.TemplateRef == ref {
			out = append(out, sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListPendingForApprover returns the PENDING_APPROVAL submissions whose
// template flow names approverID at any level.
func (s *SubmissionStore) ListPendingForApprover(_ context.Context, approverID string) ([]*workflow.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*workflow.Submission, 0)
	for _, sub := range s.items {
		if sub.Status != workflow.StatusPendingApproval {
			continue
		}
		if !s.templates.flowOf(sub.TemplateRef).Contains(approverID) {
			continue
		}
		out = append(out, sub.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return submittedBefore(out[i], out[j]) })
	return out, nil
}

func submittedBefore(a, b *workflow.Submission) bool {
	switch {
	case a.SubmittedAt == nil:
		return false
	case b.SubmittedAt == nil:
		return true
	default:
		return a.SubmittedAt.Before(*b.SubmittedAt)
	}
}

// ── audit ────────────────────────────────────────────────────────────────────

// AuditStore is an append-only log of submission transitions.
type AuditStore struct {
	mu    sync.RWMutex
	items map[string][]*repository.AuditEntry
}

var _ repository.AuditStore = (*AuditStore)(nil)

// Append records entry. Existing entries are never modified.
func (s *AuditStore) Append(_ context.Context, entry *repository.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now().UTC()
	}
	c := cloneEntry(entry)
	s.items[entry.SubmissionID] = append(s.items[entry.SubmissionID], c)
	return nil
}

// ListBySubmission returns the entries for a submission in append order.
func (s *AuditStore) ListBySubmission(_ context.Context, submissionID string) ([]*repository.AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries := s.items[submissionID]
	out := make([]*repository.AuditEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, cloneEntry(e))
	}
	return out, nil
}

func cloneEntry(e *repository.AuditEntry) *repository.AuditEntry {
	c := *e
	c.Metadata = workflow.CloneData(e.Metadata)
	return &c
}
