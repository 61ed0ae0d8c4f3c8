package observability_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/Sumatoshi-tech/scout/internal/observability"
)

func filteredSpanAttrs(t *testing.T, attrs ...attribute.KeyValue) []attribute.KeyValue {
	t.Helper()

	exporter := tracetest.NewInMemoryExporter()
	processor := observability.NewAttributeFilter(sdktrace.NewSimpleSpanProcessor(exporter), nil)
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(processor))

	t.Cleanup(func() { require.NoError(t, tp.Shutdown(context.Background())) })

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.SetAttributes(attrs...)
	span.End()

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)

	return spans[0].Attributes
}

func attrKeys(attrs []attribute.KeyValue) []string {
	keys := make([]string, 0, len(attrs))
	for _, kv := range attrs {
		keys = append(keys, string(kv.Key))
	}

	return keys
}

func TestAttributeFilter_AllowsScoutKeys(t *testing.T) {
	t.Parallel()

	attrs := filteredSpanAttrs(t,
		attribute.String("scout.run_id", "run-0123456789ab"),
		attribute.String("node", "search"),
		attribute.Int("search.results", 9),
		attribute.String("error.type", "validation"),
	)

	keys := attrKeys(attrs)
	assert.Contains(t, keys, "scout.run_id")
	assert.Contains(t, keys, "node")
	assert.Contains(t, keys, "search.results")
	assert.Contains(t, keys, "error.type")
}

func TestAttributeFilter_StripsBlockedKeys(t *testing.T) {
	t.Parallel()

	attrs := filteredSpanAttrs(t,
		attribute.String("node", "scrape"),
		attribute.String("page.content", "full article body"),
		attribute.String("api_key", "sk-secret"),
		attribute.String("user.name", "someone"),
	)

	keys := attrKeys(attrs)
	assert.Contains(t, keys, "node")
	assert.NotContains(t, keys, "page.content")
	assert.NotContains(t, keys, "api_key")
	assert.NotContains(t, keys, "user.name")
}

func TestAttributeFilter_StripsUnknownKeys(t *testing.T) {
	t.Parallel()

	attrs := filteredSpanAttrs(t,
		attribute.String("completely.unknown", "value"),
	)

	assert.Empty(t, attrs)
}
