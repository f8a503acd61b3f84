package repository

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/pesio-ai/be-form-workflows/internal/workflow"
)

func TestPage_Normalize(t *testing.T) {
	assert.Equal(t, Page{Limit: 50}, Page{}.Normalize())
	assert.Equal(t, Page{Limit: 500, Offset: 0}, Page{Limit: 10_000, Offset: -3}.Normalize())
	assert.Equal(t, Page{Limit: 20, Offset: 40}, Page{Limit: 20, Offset: 40}.Normalize())
}

func TestFormTemplate_Ref(t *testing.T) {
	tpl := &FormTemplate{ID: "tpl-9", Kind: workflow.TemplateKindCompany}
	assert.Equal(t, workflow.TemplateRef{Kind: workflow.TemplateKindCompany, ID: "tpl-9"}, tpl.Ref())
}

func TestMarshalTemplate_NilCollections(t *testing.T) {
	fields, flow, err := marshalTemplate(&FormTemplate{})
	assert.NoError(t, err)
	assert.JSONEq(t, `{}`, string(fields))
	assert.JSONEq(t, `[]`, string(flow))
	assert.Nil(t, nullableJSON(nil))
	assert.Equal(t, []byte(`{"type":"object"}`), nullableJSON(json.RawMessage(`{"type":"object"}`)))
}

func TestMarshalSubmission_NilCollections(t *testing.T) {
	data, history, err := marshalSubmission(&workflow.Submission{})
	assert.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
	assert.JSONEq(t, `[]`, string(history))
}
