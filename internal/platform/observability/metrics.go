package observability

import (
	"context"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/plate-market/api"

// Metrics holds the plate service instruments. A nil *Metrics records nothing.
type Metrics struct {
	renderLatency metric.Float64Histogram
	cacheLookups  metric.Int64Counter
	migrated      metric.Int64Counter
	verifications metric.Float64Histogram
}

// NewMetrics registers instruments on provider, or on the global provider when nil.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(meterName)

	renderLatency, err := meter.Float64Histogram("plates.render.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("Time spent compositing and encoding a plate image"))
	if err != nil {
		return nil, err
	}
	cacheLookups, err := meter.Int64Counter("plates.render.cache_lookups",
		metric.WithDescription("Render cache lookups by result"))
	if err != nil {
		return nil, err
	}
	migrated, err := meter.Int64Counter("plates.migration.records",
		metric.WithDescription("Plate records processed by regeneration runs"))
	if err != nil {
		return nil, err
	}
	verifications, err := meter.Float64Histogram("plates.auth.verification.duration",
		metric.WithUnit("ms"),
		metric.WithDescription("OIDC verification latency by outcome"))
	if err != nil {
		return nil, err
	}
	return &Metrics{
		renderLatency: renderLatency,
		cacheLookups:  cacheLookups,
		migrated:      migrated,
		verifications: verifications,
	}, nil
}

// RecordRender records one render. kind is preview, export or migration.
func (m *Metrics) RecordRender(ctx context.Context, kind string, width int, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.renderLatency.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("width", strconv.Itoa(width)),
		attribute.Bool("error", err != nil),
	))
}

func (m *Metrics) RecordCacheLookup(ctx context.Context, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordMigrated counts a processed record; outcome is ok or the failing stage.
func (m *Metrics) RecordMigrated(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	m.migrated.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

// RecordVerification satisfies auth.MetricsRecorder.
func (m *Metrics) RecordVerification(ctx context.Context, kind string, success bool, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.verifications.Record(ctx, float64(d)/float64(time.Millisecond), metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.Bool("success", success),
		attribute.String("reason", reason),
	))
}
