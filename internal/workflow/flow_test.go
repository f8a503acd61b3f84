package workflow

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFlow_Validate(t *testing.T) {
	tests := []struct {
		name    string
		flow    Flow
		wantErr bool
	}{
		{name: "nil", flow: nil},
		{name: "empty", flow: Flow{}},
		{name: "single", flow: NewFlow("A")},
		{name: "same approver twice", flow: NewFlow("A", "A")},
		{name: "zero level", flow: Flow{{Level: 0, ApproverID: "A"}}, wantErr: true},
		{name: "duplicate level", flow: Flow{{Level: 1, ApproverID: "A"}, {Level: 1, ApproverID: "B"}}, wantErr: true},
		{name: "out of order", flow: Flow{{Level: 2, ApproverID: "A"}, {Level: 1, ApproverID: "B"}}, wantErr: true},
		{name: "blank approver", flow: Flow{{Level: 1, ApproverID: ""}}, wantErr: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.flow.Validate()
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFlow_Lookup(t *testing.T) {
	flow := NewFlow("A", "B")
	lvl, ok := flow.At(2)
	assert.True(t, ok)
	assert.Equal(t, Level{Level: 2, ApproverID: "B"}, lvl)
	_, ok = flow.At(3)
	assert.False(t, ok)
	assert.True(t, flow.Contains("A"))
	assert.False(t, flow.Contains("C"))

	clone := flow.Clone()
	clone[0].ApproverID = "X"
	assert.Equal(t, "A", flow[0].ApproverID)
}
