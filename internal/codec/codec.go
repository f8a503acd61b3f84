// Package codec provides the JSON gRPC codec used by the service's
// hand-written service descriptors.
package codec

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Name is the codec's content-subtype ("application/grpc+json").
const Name = "json"

// JSON marshals gRPC messages with encoding/json.
type JSON struct{}

func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

func (JSON) Name() string { return Name }

func init() {
	encoding.RegisterCodec(JSON{})
}
