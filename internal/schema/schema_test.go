package schema

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pesio-ai/be-form-workflows/internal/errors"
)

var temperatureLog = json.RawMessage(`{
	"type": "object",
	"required": ["temperature", "shift"],
	"properties": {
		"temperature": {"type": "number", "minimum": -40, "maximum": 150},
		"shift": {"type": "string", "enum": ["A", "B", "C"]},
		"remarks": {"type": "string"}
	}
}`)

func TestCheck(t *testing.T) {
	assert.NoError(t, Check(nil))
	assert.NoError(t, Check(json.RawMessage(`null`)))
	assert.NoError(t, Check(temperatureLog))

	err := Check(json.RawMessage(`{"type": 12}`))
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		schema  json.RawMessage
		data    map[string]any
		wantErr bool
	}{
		{name: "no schema accepts anything", schema: nil, data: map[string]any{"x": 1}},
		{name: "valid", schema: temperatureLog, data: map[string]any{"temperature": 71.5, "shift": "A"}},
		{name: "missing required", schema: temperatureLog, data: map[string]any{"temperature": 71.5}, wantErr: true},
		{name: "out of range", schema: temperatureLog, data: map[string]any{"temperature": 250, "shift": "B"}, wantErr: true},
		{name: "bad enum", schema: temperatureLog, data: map[string]any{"temperature": 20, "shift": "Z"}, wantErr: true},
		{name: "nil data against required", schema: temperatureLog, data: nil, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.schema, tt.data)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, errors.IsCode(err, errors.ErrCodeInvalidInput))
		})
	}
}
