// Package schema validates submission data against a template's optional
// JSON Schema document.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/pesio-ai/be-form-workflows/internal/errors"
)

// maxReported caps how many violations end up in the error message.
const maxReported = 5

// Check reports whether doc is a usable JSON Schema. An empty doc is valid
// and means "no schema".
func Check(doc json.RawMessage) error {
	if isEmpty(doc) {
		return nil
	}
	if _, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(doc)); err != nil {
		return errors.InvalidInput("json_schema", fmt.Sprintf("schema does not compile: %v", err))
	}
	return nil
}

// Validate checks data against doc. A template without a schema accepts
// any data.
func Validate(doc json.RawMessage, data map[string]any) error {
	if isEmpty(doc) {
		return nil
	}
	if data == nil {
		data = map[string]any{}
	}

	res, err := gojsonschema.Validate(
		gojsonschema.NewBytesLoader(doc),
		gojsonschema.NewGoLoader(data),
	)
	if err != nil {
		return errors.InvalidInput("json_schema", fmt.Sprintf("schema does not compile: %v", err))
	}
	if res.Valid() {
		return nil
	}

	var msgs []string
	for i, e := range res.Errors() {
		if i >= maxReported {
			break
		}
		msgs = append(msgs, e.String())
	}
	return errors.InvalidInput("data", strings.Join(msgs, "; "))
}

func isEmpty(doc json.RawMessage) bool {
	s := strings.TrimSpace(string(doc))
	return s == "" || s == "null" || s == "{}"
}
