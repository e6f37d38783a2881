// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aegislabs/aegis/pkg/errors"
)

// EngineMetrics tracks error rates, recovery patterns and circuit
// breaker state for production monitoring. All methods are safe on a
// nil receiver so callers can leave metrics unconfigured.
type EngineMetrics struct {
	// errorCounter tracks total errors by category and component
	errorCounter metric.Int64Counter

	// recoveryCounter tracks successful recoveries by category and method
	recoveryCounter metric.Int64Counter

	// alertCounter tracks alerts raised by severity and category
	alertCounter metric.Int64Counter

	// errorRateGauge tracks error rate (errors per minute)
	errorRateGauge metric.Float64Gauge

	// activeAlertsGauge tracks currently active alerts
	activeAlertsGauge metric.Int64Gauge

	// circuitBreakerStateGauge tracks breaker state per key
	circuitBreakerStateGauge metric.Int64Gauge

	// sweepDuration records periodic alert sweep durations
	sweepDuration metric.Float64Histogram

	mu sync.RWMutex
}

// NewEngineMetrics creates the metrics instruments on the global meter
// provider.
func NewEngineMetrics(ctx context.Context) (*EngineMetrics, error) {
	meter := otel.Meter("aegis/engine")

	errorCounter, err := meter.Int64Counter(
		"aegis.errors.total",
		metric.WithDescription("Total errors by category and component"),
	)
	if err != nil {
		return nil, err
	}

	recoveryCounter, err := meter.Int64Counter(
		"aegis.recoveries.total",
		metric.WithDescription("Successful error recoveries by category and method"),
	)
	if err != nil {
		return nil, err
	}

	alertCounter, err := meter.Int64Counter(
		"aegis.alerts.total",
		metric.WithDescription("Alerts raised by severity and category"),
	)
	if err != nil {
		return nil, err
	}

	errorRateGauge, err := meter.Float64Gauge(
		"aegis.errors.rate",
		metric.WithDescription("Error rate per minute by component"),
	)
	if err != nil {
		return nil, err
	}

	activeAlertsGauge, err := meter.Int64Gauge(
		"aegis.alerts.active",
		metric.WithDescription("Currently active alerts"),
	)
	if err != nil {
		return nil, err
	}

	circuitBreakerStateGauge, err := meter.Int64Gauge(
		"aegis.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per key (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	sweepDuration, err := meter.Float64Histogram(
		"aegis.alerts.sweep.duration_ms",
		metric.WithDescription("Alert sweep duration in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	return &EngineMetrics{
		errorCounter:             errorCounter,
		recoveryCounter:          recoveryCounter,
		alertCounter:             alertCounter,
		errorRateGauge:           errorRateGauge,
		activeAlertsGauge:        activeAlertsGauge,
		circuitBreakerStateGauge: circuitBreakerStateGauge,
		sweepDuration:            sweepDuration,
	}, nil
}

// RecordError increments the error counter, pulling category and
// recoverability from the classification when the error carries one.
func (em *EngineMetrics) RecordError(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	category := "unknown"
	recoverable := "unknown"
	if de := errors.AsDomainError(err); de != nil {
		if class := de.Classification(); class != nil {
			category = string(class.Category)
			if class.Recoverable {
				recoverable = "true"
			} else {
				recoverable = "false"
			}
		}
	}

	em.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrErrorCategory, category),
			attribute.String(AttrErrorComponent, component),
			attribute.String(AttrErrorRecoverable, recoverable),
		),
	)
}

// RecordRecovery increments the recovery counter. Method names the
// mechanism that produced the recovery ("retry", "fallback", ...).
func (em *EngineMetrics) RecordRecovery(ctx context.Context, category, method string) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.recoveryCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrErrorCategory, category),
			attribute.String("recovery.method", method),
		),
	)
}

// RecordAlert increments the alert counter.
func (em *EngineMetrics) RecordAlert(ctx context.Context, severity, category string) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.alertCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrAlertSeverity, severity),
			attribute.String(AttrAlertCategory, category),
		),
	)
}

// RecordErrorRate records the current error rate for a component
// (errors per minute).
func (em *EngineMetrics) RecordErrorRate(ctx context.Context, component string, ratePerMinute float64) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.errorRateGauge.Record(ctx, ratePerMinute,
		metric.WithAttributes(
			attribute.String(AttrErrorComponent, component),
		),
	)
}

// RecordActiveAlerts records the number of currently active alerts.
func (em *EngineMetrics) RecordActiveAlerts(ctx context.Context, count int64) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.activeAlertsGauge.Record(ctx, count)
}

// RecordCircuitBreakerState records the breaker state for a key
// (0=open, 1=half-open, 2=closed).
func (em *EngineMetrics) RecordCircuitBreakerState(ctx context.Context, key string, state int64) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.circuitBreakerStateGauge.Record(ctx, state,
		metric.WithAttributes(
			attribute.String(AttrBreakerKey, key),
		),
	)
}

// RecordSweepDuration records one alert sweep duration in milliseconds.
func (em *EngineMetrics) RecordSweepDuration(ctx context.Context, durationMs float64) {
	if em == nil {
		return
	}

	em.mu.RLock()
	defer em.mu.RUnlock()

	em.sweepDuration.Record(ctx, durationMs)
}
