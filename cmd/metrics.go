package cmd

import (
	"context"
	"fmt"

	"embeddingjob/internal/application/common/slogger"
	"embeddingjob/internal/version"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

// meterSummary is an in-process meter provider read once when the job ends.
type meterSummary struct {
	reader   *sdkmetric.ManualReader
	provider *sdkmetric.MeterProvider
}

// newMeterSummary installs a meter provider with a manual reader as the
// global provider.
func newMeterSummary() (*meterSummary, error) {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "embedjob"),
		attribute.String("service.version", version.Get().Version),
	))
	if err != nil {
		return nil, fmt.Errorf("failed to build metric resource: %w", err)
	}

	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(reader),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)
	return &meterSummary{reader: reader, provider: provider}, nil
}

// Meter returns a named meter of the provider.
func (m *meterSummary) Meter(name string) metric.Meter {
	return m.provider.Meter(name)
}

// Totals collects every instrument and sums its data points across
// attributes. Histograms report their observation count as <name>_count.
func (m *meterSummary) Totals(ctx context.Context) (map[string]float64, error) {
	var rm metricdata.ResourceMetrics
	if err := m.reader.Collect(ctx, &rm); err != nil {
		return nil, fmt.Errorf("failed to collect metrics: %w", err)
	}

	totals := make(map[string]float64)
	for _, scope := range rm.ScopeMetrics {
		for _, instrument := range scope.Metrics {
			switch data := instrument.Data.(type) {
			case metricdata.Sum[int64]:
				for _, dp := range data.DataPoints {
					totals[instrument.Name] += float64(dp.Value)
				}
			case metricdata.Sum[float64]:
				for _, dp := range data.DataPoints {
					totals[instrument.Name] += dp.Value
				}
			case metricdata.Histogram[float64]:
				for _, dp := range data.DataPoints {
					totals[instrument.Name+"_count"] += float64(dp.Count)
				}
			}
		}
	}
	return totals, nil
}

// Log writes the totals as one record.
func (m *meterSummary) Log(ctx context.Context) {
	totals, err := m.Totals(ctx)
	if err != nil {
		slogger.Warn(ctx, "Failed to summarize metrics", slogger.Fields{"error": err.Error()})
		return
	}
	fields := make(slogger.Fields, len(totals))
	for name, value := range totals {
		fields[name] = value
	}
	slogger.Info(ctx, "Metric summary", fields)
}

// Shutdown flushes and stops the provider.
func (m *meterSummary) Shutdown(ctx context.Context) error {
	return m.provider.Shutdown(ctx)
}
