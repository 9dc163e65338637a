package observability

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/leslieo2/prononciation-gateway/internal/config"
)

func TestNewTracer_Disabled(t *testing.T) {
	tracer, err := NewTracer(config.DefaultTracingConfig())
	require.NoError(t, err)
	require.NotNil(t, tracer)
	require.NotNil(t, tracer.Tracer())

	_, span := tracer.StartSpan(context.Background(), "noop")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestNewTracer_Enabled(t *testing.T) {
	cfg := config.DefaultTracingConfig()
	cfg.Enabled = true

	tracer, err := NewTracer(cfg)
	require.NoError(t, err)

	ctx, parent := tracer.StartSpan(context.Background(), "parent", attribute.String("route", "/ping"))
	_, child := tracer.StartSpan(ctx, "child")

	assert.True(t, parent.SpanContext().IsValid())
	assert.Equal(t, parent.SpanContext().TraceID(), child.SpanContext().TraceID())
	assert.Equal(t, parent.SpanContext().SpanID(), trace.SpanFromContext(ctx).SpanContext().SpanID())

	child.End()
	parent.End()
	assert.NoError(t, tracer.Shutdown(context.Background()))
}

func TestTracer_ConcurrentSpans(t *testing.T) {
	tracer, err := NewTracer(config.DefaultTracingConfig())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			_, span := tracer.StartSpan(context.Background(), "concurrent-span", attribute.Int("id", id))
			span.End()
		}(i)
	}
	wg.Wait()
}
