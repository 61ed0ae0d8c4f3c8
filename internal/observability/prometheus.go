package observability

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// PrometheusBridge couples an OTel metric reader with the Prometheus
// registry it exports to, so a single MeterProvider can serve both OTLP
// export and /metrics scrapes. Each bridge owns an independent registry
// to avoid collector conflicts when constructed multiple times.
type PrometheusBridge struct {
	reader   sdkmetric.Reader
	registry *prometheus.Registry
}

// NewPrometheusBridge creates a Prometheus exporter with its own registry.
// Attach Reader() to a MeterProvider and serve Handler() at /metrics.
func NewPrometheusBridge() (*PrometheusBridge, error) {
	registry := prometheus.NewRegistry()

	exporter, err := promexporter.New(
		promexporter.WithRegisterer(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("create prometheus exporter: %w", err)
	}

	return &PrometheusBridge{reader: exporter, registry: registry}, nil
}

// Reader returns the OTel metric reader feeding the registry.
func (pb *PrometheusBridge) Reader() sdkmetric.Reader {
	return pb.reader
}

// Handler returns an [http.Handler] serving the Prometheus scrape endpoint.
func (pb *PrometheusBridge) Handler() http.Handler {
	return promhttp.HandlerFor(pb.registry, promhttp.HandlerOpts{})
}
