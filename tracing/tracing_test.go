package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartSpan(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	require.NoError(t, InitWithExporter("nucleo", "test", exporter))

	ctx, parent := StartSpan(context.Background(), "kernel.run", "INTERNAL")
	_, child := StartSpan(ctx, "process.spawn", "INTERNAL")
	child.WithAttributes(map[string]string{"name": "sum"})
	EndSpan(child, errors.New("load failed"))
	EndSpan(parent, nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "process.spawn", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, spans[1].SpanContext.SpanID(), spans[0].Parent.SpanID())
	assert.Equal(t, codes.Ok, spans[1].Status.Code)

	var nilSpan *Span
	assert.NotPanics(t, func() { EndSpan(nilSpan.WithAttributes(map[string]string{"a": "b"}), nil) })
}
