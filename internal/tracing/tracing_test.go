package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInit_Disabled(t *testing.T) {
	shutdown, err := Init(context.Background(), Config{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestProvider_RecordsSpans(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	tp, err := NewProvider(context.Background(), "be-form-workflows", "test", exp)
	require.NoError(t, err)
	defer func() { _ = tp.Shutdown(context.Background()) }()

	tracer := tp.Tracer("test")
	_, span := tracer.Start(context.Background(), "ProcessApproval")
	span.SetAttributes(attribute.String("submission_id", "sub-1"))
	End(span, errors.New("boom"))

	spans := exp.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "ProcessApproval", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
}

func TestStart_NoopProviderIsSafe(t *testing.T) {
	ctx, span := Start(context.Background(), "noop", attribute.Int("level", 1))
	assert.NotNil(t, ctx)
	End(span, nil)
}
