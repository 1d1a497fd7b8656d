// Package metrics records world-state metrics through the OpenTelemetry
// metrics API. InitProvider bridges them to Prometheus so they can be scraped
// from /metrics. Tests should build their own Metrics with New and a
// ManualReader-backed provider.
package metrics

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "hegemony-server"

type Metrics struct {
	// CacheHits and CacheMisses count engine reads by key kind
	// (attribute "kind": entity or system).
	CacheHits   metric.Int64Counter
	CacheMisses metric.Int64Counter
	// CacheConflicts counts saves rejected by the version check.
	CacheConflicts metric.Int64Counter

	// Actions counts executed actions by "type" and result "status".
	Actions        metric.Int64Counter
	ActionDuration metric.Float64Histogram

	// SystemDispatches counts system commands by "system", "command" and
	// "status".
	SystemDispatches metric.Int64Counter

	FlushedKeys metric.Int64Counter
	FlushErrors metric.Int64Counter

	HTTPRequestDuration metric.Float64Histogram
}

var latencyBuckets = []float64{
	0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1,
}

// New creates every instrument on mp.
func New(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	if met.CacheHits, err = m.Int64Counter("hegemony.cache.hits",
		metric.WithDescription("Engine reads served from the cache."),
	); err != nil {
		return nil, err
	}
	if met.CacheMisses, err = m.Int64Counter("hegemony.cache.misses",
		metric.WithDescription("Engine reads that found nothing cached."),
	); err != nil {
		return nil, err
	}
	if met.CacheConflicts, err = m.Int64Counter("hegemony.cache.conflicts",
		metric.WithDescription("Saves rejected because the cached version moved."),
	); err != nil {
		return nil, err
	}
	if met.Actions, err = m.Int64Counter("hegemony.actions",
		metric.WithDescription("Executed actions by type and status."),
	); err != nil {
		return nil, err
	}
	if met.ActionDuration, err = m.Float64Histogram("hegemony.action.duration",
		metric.WithDescription("Latency of action execution including apply."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.SystemDispatches, err = m.Int64Counter("hegemony.system.dispatches",
		metric.WithDescription("Game system commands by system, command and status."),
	); err != nil {
		return nil, err
	}
	if met.FlushedKeys, err = m.Int64Counter("hegemony.flush.keys",
		metric.WithDescription("Dirty keys written back to the durable store."),
	); err != nil {
		return nil, err
	}
	if met.FlushErrors, err = m.Int64Counter("hegemony.flush.errors",
		metric.WithDescription("Dirty keys that failed to flush."),
	); err != nil {
		return nil, err
	}
	if met.HTTPRequestDuration, err = m.Float64Histogram("hegemony.http.request.duration",
		metric.WithDescription("HTTP request latency by method and route."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// Default returns a process-wide Metrics built on the global provider. It
// panics if instrument creation fails.
func Default() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = New(otel.GetMeterProvider())
		if err != nil {
			panic("metrics: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

func (m *Metrics) RecordCacheRead(ctx context.Context, kind string, hit bool) {
	if hit {
		m.CacheHits.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
		return
	}
	m.CacheMisses.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordConflict(ctx context.Context, kind string) {
	m.CacheConflicts.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

func (m *Metrics) RecordAction(ctx context.Context, actionType, status string, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("type", actionType),
		attribute.String("status", status),
	)
	m.Actions.Add(ctx, 1, attrs)
	m.ActionDuration.Record(ctx, elapsed.Seconds(), attrs)
}

func (m *Metrics) RecordDispatch(ctx context.Context, system, command, status string) {
	m.SystemDispatches.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("system", system),
			attribute.String("command", command),
			attribute.String("status", status),
		),
	)
}

func (m *Metrics) RecordFlush(ctx context.Context, flushed, failed int) {
	if flushed > 0 {
		m.FlushedKeys.Add(ctx, int64(flushed))
	}
	if failed > 0 {
		m.FlushErrors.Add(ctx, int64(failed))
	}
}
