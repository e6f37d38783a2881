// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const resolvedRetention = 7 * 24 * time.Hour

// sweeper runs the periodic maintenance loop: metric rule evaluation,
// external alert ingestion and garbage collection of old resolved
// alerts.
type sweeper struct {
	interval time.Duration
	timeout  time.Duration
	metrics  MetricSource
	external ExternalSource

	cancel context.CancelFunc
	done   chan struct{}
}

// SetSweepInterval defines how often the maintenance sweep runs. Set
// to 0 to disable.
func (m *Manager) SetSweepInterval(interval time.Duration) {
	if m.sweeper == nil {
		m.sweeper = &sweeper{}
	}
	m.sweeper.interval = interval
}

// SetSweepTimeout defines a per-sweep timeout.
func (m *Manager) SetSweepTimeout(timeout time.Duration) {
	if m.sweeper == nil {
		m.sweeper = &sweeper{}
	}
	m.sweeper.timeout = timeout
}

// SetMetricSource wires the system metrics sampled on each sweep.
func (m *Manager) SetMetricSource(source MetricSource) {
	if m.sweeper == nil {
		m.sweeper = &sweeper{}
	}
	m.sweeper.metrics = source
}

// SetExternalSource wires the externally reported alert feed.
func (m *Manager) SetExternalSource(source ExternalSource) {
	if m.sweeper == nil {
		m.sweeper = &sweeper{}
	}
	m.sweeper.external = source
}

// StartSweeper launches the maintenance goroutine. A second call
// replaces a running sweeper.
func (m *Manager) StartSweeper() {
	if m.sweeper == nil || m.sweeper.interval <= 0 {
		m.logger.Info("alerting.sweeper.disabled")
		return
	}
	if m.sweeper.cancel != nil {
		m.StopSweeper()
	}
	initSweepMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.sweeper.cancel = cancel
	m.sweeper.done = done

	go func() {
		defer close(done)
		ticker := time.NewTicker(m.sweeper.interval)
		defer ticker.Stop()
		m.logger.Info("alerting.sweeper.start",
			slog.Duration("interval", m.sweeper.interval),
		)
		for {
			select {
			case <-ctx.Done():
				m.logger.Info("alerting.sweeper.stop")
				return
			case <-ticker.C:
				m.sweepOnce(ctx)
			}
		}
	}()
}

// StopSweeper stops the maintenance goroutine and waits for it to
// exit.
func (m *Manager) StopSweeper() {
	if m.sweeper == nil || m.sweeper.cancel == nil {
		return
	}
	m.sweeper.cancel()
	if m.sweeper.done != nil {
		<-m.sweeper.done
	}
	m.sweeper.cancel = nil
	m.sweeper.done = nil
}

// sweepOnce runs one maintenance pass.
func (m *Manager) sweepOnce(ctx context.Context) {
	initSweepMetrics()
	sweepStart := time.Now()
	sweepCtx := ctx
	var cancel context.CancelFunc
	if m.sweeper.timeout > 0 {
		sweepCtx, cancel = context.WithTimeout(ctx, m.sweeper.timeout)
		defer cancel()
	}
	sweepCtx, span := otel.Tracer("aegis/alerting").Start(sweepCtx, "alerting.sweep",
		trace.WithAttributes(
			attribute.Int("metric_rules", len(m.metricRules)),
		),
	)
	defer span.End()

	m.evaluateMetricRules(sweepCtx)
	m.ingestExternal(sweepCtx)
	collected := m.collectResolved()

	durationMs := float64(time.Since(sweepStart).Seconds() * 1000)
	sweepCounter.Add(ctx, 1)
	sweepLatencyMs.Record(ctx, durationMs)
	if collected > 0 {
		collectedCounter.Add(ctx, int64(collected))
	}
	m.metrics.RecordSweepDuration(ctx, durationMs)
	m.metrics.RecordActiveAlerts(ctx, int64(len(m.ActiveAlerts())))

	span.SetAttributes(
		attribute.Int("collected", collected),
		attribute.Float64("duration_ms", durationMs),
	)
	m.logger.Info("alerting.sweep.complete",
		slog.Int("collected", collected),
		slog.Float64("duration_ms", durationMs),
	)
}

// evaluateMetricRules samples the metric source and raises an alert
// per breached rule.
func (m *Manager) evaluateMetricRules(ctx context.Context) {
	if m.sweeper.metrics == nil || len(m.metricRules) == 0 {
		return
	}
	samples, err := m.sweeper.metrics.Sample(ctx)
	if err != nil {
		sweepErrorCounter.Add(ctx, 1)
		m.logger.Warn("alerting.sweep.sample.error", slog.String("error", err.Error()))
		return
	}
	for _, rule := range m.metricRules {
		if !rule.Enabled {
			continue
		}
		value, ok := samples[rule.Metric]
		if !ok {
			continue
		}
		if !rule.breached(value) {
			continue
		}
		m.CreateAlert(ctx, rule.Severity, rule.Category, rule.Name,
			"metric threshold breached", "metric-sweep",
			map[string]string{"metric": rule.Metric}, nil)
		m.logger.Warn("alerting.sweep.threshold",
			slog.String("rule", rule.ID),
			slog.String("metric", rule.Metric),
			slog.Float64("value", value),
			slog.Float64("threshold", rule.Threshold),
		)
	}
}

// ingestExternal drains externally reported alerts into the manager.
func (m *Manager) ingestExternal(ctx context.Context) {
	if m.sweeper.external == nil {
		return
	}
	reported, err := m.sweeper.external.Drain(ctx)
	if err != nil {
		sweepErrorCounter.Add(ctx, 1)
		m.logger.Warn("alerting.sweep.ingest.error", slog.String("error", err.Error()))
		return
	}
	for _, ext := range reported {
		m.CreateAlert(ctx, ext.Severity, ext.Category, ext.Title,
			ext.Description, ext.Source, ext.Context, nil)
	}
}

// collectResolved removes resolved alerts older than the retention
// window and returns how many were collected.
func (m *Manager) collectResolved() int {
	cutoff := m.now().Add(-resolvedRetention)
	m.mu.Lock()
	defer m.mu.Unlock()
	collected := 0
	for id, alert := range m.alerts {
		if alert.Status != StatusResolved {
			continue
		}
		if alert.ResolvedAt.Before(cutoff) {
			delete(m.alerts, id)
			collected++
		}
	}
	// Expired suppressions go with the same pass.
	now := m.now()
	for key, sup := range m.suppressions {
		if now.After(sup.until) {
			delete(m.suppressions, key)
		}
	}
	return collected
}

var (
	sweepMetricsOnce  sync.Once
	sweepCounter      metric.Int64Counter
	sweepErrorCounter metric.Int64Counter
	collectedCounter  metric.Int64Counter
	sweepLatencyMs    metric.Float64Histogram
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter("aegis/alerting")
		sweepCounter, _ = meter.Int64Counter("aegis.alerting.sweep.count")
		sweepErrorCounter, _ = meter.Int64Counter("aegis.alerting.sweep.error.count")
		collectedCounter, _ = meter.Int64Counter("aegis.alerting.sweep.collected.count")
		sweepLatencyMs, _ = meter.Float64Histogram("aegis.alerting.sweep.latency_ms")
	})
}
