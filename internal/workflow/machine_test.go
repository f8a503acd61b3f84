package workflow

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-form-workflows/internal/errors"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time {
	c.t = c.t.Add(time.Minute)
	return c.t
}

func newTestMachine(opts ...Option) *Machine {
	clock := &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	return NewMachine(append([]Option{WithClock(clock.now)}, opts...)...)
}

func plantRef() TemplateRef { return TemplateRef{Kind: TemplateKindPlant, ID: "tpl-1"} }

func strPtr(s string) *string { return &s }

func create(t *testing.T, m *Machine, flow Flow, status Status) *Submission {
	t.Helper()
	sub, _, err := m.NewSubmission(NewSubmissionRequest{
		ID:              "sub-1",
		TemplateRef:     plantRef(),
		CompanyID:       "co-1",
		SubmittedBy:     "emp-1",
		Data:            map[string]any{"temperature": 71.5},
		RequestedStatus: status,
		Flow:            flow,
	})
	require.NoError(t, err)
	return sub
}

func TestNewSubmission(t *testing.T) {
	tests := []struct {
		name          string
		flow          Flow
		requested     Status
		wantStatus    Status
		wantLevel     int
		wantKind      TransitionKind
		wantNext      string
		wantApproved  bool
		wantSubmitted bool
	}{
		{name: "draft with flow", flow: NewFlow("A", "B"), requested: StatusDraft, wantStatus: StatusDraft, wantKind: TransitionCreated},
		{name: "draft without flow", flow: nil, requested: StatusDraft, wantStatus: StatusDraft, wantKind: TransitionCreated},
		{name: "pending with flow", flow: NewFlow("A", "B"), requested: StatusPendingApproval, wantStatus: StatusPendingApproval, wantLevel: 1, wantKind: TransitionCreated, wantNext: "A", wantSubmitted: true},
		{name: "default status with flow", flow: NewFlow("A"), requested: "", wantStatus: StatusPendingApproval, wantLevel: 1, wantKind: TransitionCreated, wantNext: "A", wantSubmitted: true},
		{name: "empty flow auto approves", flow: Flow{}, requested: StatusPendingApproval, wantStatus: StatusApproved, wantLevel: 0, wantKind: TransitionAutoApproved, wantApproved: true, wantSubmitted: true},
		{name: "empty flow submitted marker", flow: nil, requested: StatusSubmitted, wantStatus: StatusSubmitted, wantLevel: 0, wantKind: TransitionCreated, wantSubmitted: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestMachine()
			sub, tr, err := m.NewSubmission(NewSubmissionRequest{
				TemplateRef:     plantRef(),
				SubmittedBy:     "emp-1",
				RequestedStatus: tc.requested,
				Flow:            tc.flow,
			})
			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, sub.Status)
			assert.Equal(t, tc.wantLevel, sub.CurrentLevel)
			assert.Empty(t, sub.ApprovalHistory)
			assert.NotNil(t, sub.Data)
			assert.Equal(t, tc.wantKind, tr.Kind)
			assert.Equal(t, tc.wantNext, tr.NextApproverID)
			assert.Equal(t, tc.wantApproved, sub.ApprovedAt != nil)
			assert.Equal(t, tc.wantSubmitted, sub.SubmittedAt != nil)
			if tc.wantApproved {
				require.NotNil(t, sub.ApprovedBy)
				assert.Equal(t, "emp-1", *sub.ApprovedBy)
			}
		})
	}
}

func TestNewSubmission_Invalid(t *testing.T) {
	tests := []struct {
		name string
		req  NewSubmissionRequest
	}{
		{name: "gap in flow", req: NewSubmissionRequest{TemplateRef: plantRef(), SubmittedBy: "e", Flow: Flow{{Level: 1, ApproverID: "A"}, {Level: 3, ApproverID: "B"}}}},
		{name: "flow not starting at one", req: NewSubmissionRequest{TemplateRef: plantRef(), SubmittedBy: "e", Flow: Flow{{Level: 2, ApproverID: "A"}}}},
		{name: "missing approver", req: NewSubmissionRequest{TemplateRef: plantRef(), SubmittedBy: "e", Flow: Flow{{Level: 1}}}},
		{name: "bad template kind", req: NewSubmissionRequest{TemplateRef: TemplateRef{Kind: "team", ID: "x"}, SubmittedBy: "e"}},
		{name: "missing submitter", req: NewSubmissionRequest{TemplateRef: plantRef()}},
		{name: "rejected requested", req: NewSubmissionRequest{TemplateRef: plantRef(), SubmittedBy: "e", RequestedStatus: StatusRejected}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := newTestMachine().NewSubmission(tc.req)
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
		})
	}
}

func TestProcessAction_TwoLevelScenario(t *testing.T) {
	m := newTestMachine()
	flow := NewFlow("A", "B")
	sub := create(t, m, flow, StatusPendingApproval)
	require.Equal(t, StatusPendingApproval, sub.Status)
	require.Equal(t, 1, sub.CurrentLevel)

	sub, tr, err := m.ProcessAction(sub, flow, ActionRequest{ActorID: "A", Action: ActionApprove, Comments: strPtr("looks fine")})
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, sub.Status)
	assert.Equal(t, 2, sub.CurrentLevel)
	require.Len(t, sub.ApprovalHistory, 1)
	assert.Equal(t, 1, sub.ApprovalHistory[0].Level)
	assert.Equal(t, "A", sub.ApprovalHistory[0].ApproverID)
	assert.Equal(t, StatusApproved, sub.ApprovalHistory[0].Status)
	assert.Equal(t, "looks fine", *sub.ApprovalHistory[0].Comments)
	assert.Equal(t, TransitionAdvanced, tr.Kind)
	assert.Equal(t, "B", tr.NextApproverID)

	sub, tr, err = m.ProcessAction(sub, flow, ActionRequest{ActorID: "B", Action: ActionReject})
	require.NoError(t, err)
	assert.Equal(t, StatusRejected, sub.Status)
	assert.Equal(t, 2, sub.CurrentLevel)
	require.Len(t, sub.ApprovalHistory, 2)
	assert.Equal(t, HistoryEntry{Level: 2, ApproverID: "B", Status: StatusRejected, ActionedAt: sub.ApprovalHistory[1].ActionedAt}, sub.ApprovalHistory[1])
	require.NotNil(t, sub.RejectedAt)
	assert.Equal(t, "B", *sub.RejectedBy)
	assert.Nil(t, sub.ApprovedAt)
	assert.Equal(t, TransitionRejected, tr.Kind)

	for _, actor := range []string{"A", "B", "emp-1"} {
		for _, action := range []Action{ActionApprove, ActionReject} {
			_, _, err := m.ProcessAction(sub, flow, ActionRequest{ActorID: actor, Action: action})
			assert.ErrorIs(t, err, ErrAlreadyTerminal)
		}
	}
}

func TestProcessAction_FullChain(t *testing.T) {
	for n := 1; n <= 6; n++ {
		t.Run(fmt.Sprintf("levels=%d", n), func(t *testing.T) {
			approvers := make([]string, n)
			for i := range approvers {
				approvers[i] = fmt.Sprintf("approver-%d", i+1)
			}
			flow := NewFlow(approvers...)
			m := newTestMachine()
			sub := create(t, m, flow, StatusPendingApproval)

			for i := 0; i < n; i++ {
				assert.Equal(t, StatusPendingApproval, sub.Status)
				assert.Equal(t, i+1, sub.CurrentLevel)
				next, _, err := m.ProcessAction(sub, flow, ActionRequest{ActorID: approvers[i], Action: ActionApprove})
				require.NoError(t, err)
				assert.GreaterOrEqual(t, next.CurrentLevel, sub.CurrentLevel)
				sub = next
			}

			assert.Equal(t, StatusApproved, sub.Status)
			assert.Equal(t, n+1, sub.CurrentLevel)
			require.Len(t, sub.ApprovalHistory, n)
			for i, entry := range sub.ApprovalHistory {
				assert.Equal(t, i+1, entry.Level)
				assert.Equal(t, approvers[i], entry.ApproverID)
			}
			require.NotNil(t, sub.ApprovedBy)
			assert.Equal(t, approvers[n-1], *sub.ApprovedBy)
			assert.True(t, sub.ApprovedAt.After(*sub.SubmittedAt))
		})
	}
}

func TestProcessAction_Unauthorized(t *testing.T) {
	m := newTestMachine()
	flow := NewFlow("A", "B")
	sub := create(t, m, flow, StatusPendingApproval)
	before := sub.Clone()

	for _, actor := range []string{"B", "emp-1", "stranger"} {
		for _, action := range []Action{ActionApprove, ActionReject} {
			next, tr, err := m.ProcessAction(sub, flow, ActionRequest{ActorID: actor, Action: action, EditedData: map[string]any{"x": 1}})
			require.Error(t, err)
			assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
			assert.Nil(t, next)
			assert.Nil(t, tr)
		}
	}
	assert.Equal(t, before, sub)
}

func TestProcessAction_InputNotMutated(t *testing.T) {
	m := newTestMachine()
	flow := NewFlow("A", "B")
	sub := create(t, m, flow, StatusPendingApproval)
	before := sub.Clone()

	next, _, err := m.ProcessAction(sub, flow, ActionRequest{ActorID: "A", Action: ActionApprove, EditedData: map[string]any{"temperature": 70.0}})
	require.NoError(t, err)
	assert.Equal(t, before, sub)
	assert.Equal(t, 70.0, next.Data["temperature"])
}

func TestProcessAction_EditedData(t *testing.T) {
	m := newTestMachine()
	flow := NewFlow("A")
	sub := create(t, m, flow, StatusPendingApproval)

	next, _, err := m.ProcessAction(sub, flow, ActionRequest{ActorID: "A", Action: ActionApprove, EditedData: map[string]any{"corrected": true}})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"corrected": true}, next.Data)

	unchanged, _, err := m.ProcessAction(create(t, m, flow, StatusPendingApproval), flow, ActionRequest{ActorID: "A", Action: ActionApprove})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"temperature": 71.5}, unchanged.Data)
}

func TestProcessAction_StateErrors(t *testing.T) {
	m := newTestMachine()
	flow := NewFlow("A")

	draft := create(t, m, flow, StatusDraft)
	_, _, err := m.ProcessAction(draft, flow, ActionRequest{ActorID: "A", Action: ActionApprove})
	assert.ErrorIs(t, err, ErrNotSubmitted)

	auto := create(t, m, nil, StatusPendingApproval)
	_, _, err = m.ProcessAction(auto, nil, ActionRequest{ActorID: "anyone", Action: ActionApprove})
	assert.ErrorIs(t, err, ErrAlreadyTerminal)

	pending := create(t, m, flow, StatusPendingApproval)
	_, _, err = m.ProcessAction(pending, flow, ActionRequest{ActorID: "A", Action: "ESCALATE"})
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))

	_, _, err = m.ProcessAction(pending, flow, ActionRequest{Action: ActionApprove})
	assert.Equal(t, errors.ErrCodeUnauthorized, errors.CodeOf(err))
}

func TestProcessAction_FlowMutatedAfterCreation(t *testing.T) {
	m := newTestMachine()
	original := NewFlow("A", "B", "C")
	sub := create(t, m, original, StatusPendingApproval)
	sub, _, err := m.ProcessAction(sub, original, ActionRequest{ActorID: "A", Action: ActionApprove})
	require.NoError(t, err)
	sub, _, err = m.ProcessAction(sub, original, ActionRequest{ActorID: "B", Action: ActionApprove})
	require.NoError(t, err)
	require.Equal(t, 3, sub.CurrentLevel)

	t.Run("current level removed fails closed", func(t *testing.T) {
		shrunk := NewFlow("A", "B")
		for _, actor := range []string{"A", "B", "C"} {
			_, _, err := m.ProcessAction(sub, shrunk, ActionRequest{ActorID: actor, Action: ActionApprove})
			assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
		}
	})

	t.Run("level added keeps pointer", func(t *testing.T) {
		grown := NewFlow("A", "B", "C", "D")
		next, tr, err := m.ProcessAction(sub, grown, ActionRequest{ActorID: "C", Action: ActionApprove})
		require.NoError(t, err)
		assert.Equal(t, StatusPendingApproval, next.Status)
		assert.Equal(t, 4, next.CurrentLevel)
		assert.Equal(t, "D", tr.NextApproverID)
	})

	t.Run("approver replaced at current level", func(t *testing.T) {
		replaced := NewFlow("A", "B", "Z")
		_, _, err := m.ProcessAction(sub, replaced, ActionRequest{ActorID: "C", Action: ActionApprove})
		assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
		next, _, err := m.ProcessAction(sub, replaced, ActionRequest{ActorID: "Z", Action: ActionApprove})
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, next.Status)
	})
}

func TestProcessAction_EmptyFlowPolicy(t *testing.T) {
	flow := NewFlow("A", "B")

	t.Run("deny", func(t *testing.T) {
		m := newTestMachine()
		sub := create(t, m, flow, StatusPendingApproval)
		_, _, err := m.ProcessAction(sub, Flow{}, ActionRequest{ActorID: "anyone", Action: ActionApprove})
		assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))
	})

	t.Run("open", func(t *testing.T) {
		m := newTestMachine(WithEmptyFlowPolicy(EmptyFlowOpen))
		sub := create(t, m, flow, StatusPendingApproval)
		sub, _, err := m.ProcessAction(sub, flow, ActionRequest{ActorID: "A", Action: ActionApprove})
		require.NoError(t, err)
		require.Equal(t, 2, sub.CurrentLevel)

		next, tr, err := m.ProcessAction(sub, Flow{}, ActionRequest{ActorID: "anyone", Action: ActionApprove})
		require.NoError(t, err)
		assert.Equal(t, StatusApproved, next.Status)
		assert.Equal(t, 2, next.CurrentLevel, "level never decreases")
		assert.Equal(t, TransitionApproved, tr.Kind)
	})
}

func TestSubmit(t *testing.T) {
	m := newTestMachine()
	flow := NewFlow("A")
	draft := create(t, m, flow, StatusDraft)

	_, _, err := m.Submit(draft, flow, "someone-else", "")
	assert.Equal(t, errors.ErrCodeForbidden, errors.CodeOf(err))

	sub, tr, err := m.Submit(draft, flow, "emp-1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusDraft, draft.Status)
	assert.Equal(t, StatusPendingApproval, sub.Status)
	assert.Equal(t, 1, sub.CurrentLevel)
	assert.NotNil(t, sub.SubmittedAt)
	assert.Equal(t, "A", tr.NextApproverID)

	_, _, err = m.Submit(sub, flow, "emp-1", "")
	assert.ErrorIs(t, err, ErrNotDraft)

	emptyDraft := create(t, m, nil, StatusDraft)
	auto, tr, err := m.Submit(emptyDraft, nil, "emp-1", "")
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, auto.Status)
	assert.Equal(t, 0, auto.CurrentLevel)
	assert.Equal(t, TransitionAutoApproved, tr.Kind)
}

func TestSubmit_RequestedStatus(t *testing.T) {
	m := newTestMachine()

	emptyDraft := create(t, m, nil, StatusDraft)
	held, tr, err := m.Submit(emptyDraft, nil, "emp-1", StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, StatusSubmitted, held.Status)
	assert.Nil(t, held.ApprovedAt)
	assert.Equal(t, StatusSubmitted, tr.ToStatus)

	flow := NewFlow("A")
	draft := create(t, m, flow, StatusDraft)
	pending, _, err := m.Submit(draft, flow, "emp-1", StatusSubmitted)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, pending.Status, "a flow always starts at level 1")

	_, _, err = m.Submit(draft, flow, "emp-1", StatusDraft)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
	_, _, err = m.Submit(draft, flow, "emp-1", StatusRejected)
	assert.Equal(t, errors.ErrCodeInvalidInput, errors.CodeOf(err))
}

func TestProcessAction_TerminalBeforeAuthorization(t *testing.T) {
	m := newTestMachine()
	flow := NewFlow("A")
	sub := create(t, m, flow, "")
	done, _, err := m.ProcessAction(sub, flow, ActionRequest{ActorID: "A", Action: ActionApprove})
	require.NoError(t, err)

	_, _, err = m.ProcessAction(done, flow, ActionRequest{ActorID: "stranger", Action: ActionReject})
	assert.ErrorIs(t, err, ErrAlreadyTerminal)
	assert.Equal(t, errors.ErrCodeConflict, errors.CodeOf(err))
}

func TestParse(t *testing.T) {
	_, err := ParseAction("APPROVE")
	assert.NoError(t, err)
	_, err = ParseAction("approve")
	assert.Error(t, err)

	st, err := ParseStatus("DRAFT")
	assert.NoError(t, err)
	assert.Equal(t, StatusDraft, st)
	_, err = ParseStatus("ARCHIVED")
	assert.Error(t, err)

	p, err := ParseEmptyFlowPolicy("")
	assert.NoError(t, err)
	assert.Equal(t, EmptyFlowDeny, p)
	_, err = ParseEmptyFlowPolicy("maybe")
	assert.Error(t, err)
}

func TestSubmission_IsActorsTurn(t *testing.T) {
	m := newTestMachine()
	flow := NewFlow("A", "B")
	sub := create(t, m, flow, StatusPendingApproval)
	assert.True(t, sub.IsActorsTurn(flow, "A"))
	assert.False(t, sub.IsActorsTurn(flow, "B"))

	approver, ok := sub.CurrentApprover(flow)
	assert.True(t, ok)
	assert.Equal(t, "A", approver)

	draft := create(t, m, flow, StatusDraft)
	assert.False(t, draft.IsActorsTurn(flow, "A"))
}

func TestSubmission_CloneIsDeep(t *testing.T) {
	sub := &Submission{
		ID: "sub-1",
		Data: map[string]any{
			"readings": map[string]any{"inlet": 10.0},
			"checks":   []any{"valve", map[string]any{"ok": true}},
		},
		ApprovalHistory: []HistoryEntry{{Level: 1, ApproverID: "A", Comments: strPtr("fine")}},
	}
	c := sub.Clone()

	c.Data["readings"].(map[string]any)["inlet"] = 99.0
	c.Data["checks"].([]any)[0] = "pump"
	c.Data["checks"].([]any)[1].(map[string]any)["ok"] = false
	*c.ApprovalHistory[0].Comments = "changed"

	assert.Equal(t, 10.0, sub.Data["readings"].(map[string]any)["inlet"])
	assert.Equal(t, []any{"valve", map[string]any{"ok": true}}, sub.Data["checks"])
	assert.Equal(t, "fine", *sub.ApprovalHistory[0].Comments)
	assert.Nil(t, (&Submission{}).Clone().Data)
}
