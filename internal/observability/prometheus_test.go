package observability_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/Sumatoshi-tech/scout/internal/observability"
)

func TestPrometheusBridge_ServesRecordedMetrics(t *testing.T) {
	t.Parallel()

	bridge, err := observability.NewPrometheusBridge()
	require.NoError(t, err)

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(bridge.Reader()))

	t.Cleanup(func() { require.NoError(t, mp.Shutdown(context.Background())) })

	red, err := observability.NewREDMetrics(mp.Meter("test"))
	require.NoError(t, err)

	red.RecordRequest(context.Background(), "research", "ok", 0)

	req := httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody)
	rec := httptest.NewRecorder()

	bridge.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "scout_requests_total")
}

func TestPrometheusBridge_IndependentRegistries(t *testing.T) {
	t.Parallel()

	first, err := observability.NewPrometheusBridge()
	require.NoError(t, err)

	second, err := observability.NewPrometheusBridge()
	require.NoError(t, err)

	// Two bridges must not collide; both handlers serve scrapes.
	for _, bridge := range []*observability.PrometheusBridge{first, second} {
		rec := httptest.NewRecorder()
		bridge.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}
