package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewMeterProvider builds a MeterProvider that periodically writes metric
// snapshots to stdout, or a no-op provider if cfg.Enabled is false. This
// complements the Prometheus counters in Metrics rather than replacing
// them: Prometheus serves the pull-based /metrics endpoint operators
// scrape, while this periodic stdout export gives push-based snapshots
// useful when no scraper is configured.
func NewMeterProvider(cfg TracingConfig, interval time.Duration) (metric.MeterProvider, func(context.Context) error, error) {
	if !cfg.Enabled {
		return noop.NewMeterProvider(), func(context.Context) error { return nil }, nil
	}

	exporter, err := stdoutmetric.New()
	if err != nil {
		return nil, nil, err
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	return provider, provider.Shutdown, nil
}
