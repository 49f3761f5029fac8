package metrics

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// MeterProvider bridges OpenTelemetry instruments (database/sql stats from
// otelsql) into the same Prometheus registry that serves /metrics.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
}

// NewMeterProvider registers an OpenTelemetry Prometheus exporter on reg and
// installs the provider globally.
func NewMeterProvider(reg *prometheus.Registry, version string) (*MeterProvider, error) {
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "bi-gateway"),
		attribute.String("service.version", version),
	)
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	return &MeterProvider{provider: provider}, nil
}

// Shutdown flushes and stops the provider.
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp == nil {
		return nil
	}
	return mp.provider.Shutdown(ctx)
}
