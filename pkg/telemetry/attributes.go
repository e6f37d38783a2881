// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich
// attributes for failure-handling observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for aegis telemetry. These follow OpenTelemetry
// naming conventions where applicable.
const (
	// Classification attributes
	AttrErrorCategory    = "aegis.error.category"
	AttrErrorSubcategory = "aegis.error.subcategory"
	AttrErrorSeverity    = "aegis.error.severity"
	AttrErrorImpact      = "aegis.error.impact"
	AttrErrorRecoverable = "aegis.error.recoverable"
	AttrErrorComponent   = "aegis.error.component"
	AttrErrorID          = "aegis.error.id"
	AttrCorrelationID    = "aegis.error.correlation_id"

	// Retry attributes
	AttrRetryAttempt     = "aegis.retry.attempt"
	AttrRetryMaxAttempts = "aegis.retry.max_attempts"
	AttrRetryDelayMs     = "aegis.retry.delay_ms"
	AttrRetrySuccess     = "aegis.retry.success"

	// Circuit breaker attributes
	AttrBreakerKey   = "aegis.circuit.key"
	AttrBreakerState = "aegis.circuit.state"

	// Fallback attributes
	AttrFallbackKey  = "aegis.fallback.key"
	AttrFallbackUsed = "aegis.fallback.used"

	// Alert attributes
	AttrAlertID       = "aegis.alert.id"
	AttrAlertSeverity = "aegis.alert.severity"
	AttrAlertStatus   = "aegis.alert.status"
	AttrAlertCategory = "aegis.alert.category"

	// Incident attributes
	AttrIncidentID     = "aegis.incident.id"
	AttrIncidentStatus = "aegis.incident.status"

	// Pattern attributes
	AttrPatternID    = "aegis.pattern.id"
	AttrPatternCount = "aegis.pattern.match_count"
)

// ClassificationAttributes returns common attributes for a classified
// failure.
func ClassificationAttributes(id, category, subcategory, severity, component string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrErrorCategory, category),
		attribute.String(AttrErrorSeverity, severity),
	}
	if id != "" {
		attrs = append(attrs, attribute.String(AttrErrorID, id))
	}
	if subcategory != "" {
		attrs = append(attrs, attribute.String(AttrErrorSubcategory, subcategory))
	}
	if component != "" {
		attrs = append(attrs, attribute.String(AttrErrorComponent, component))
	}
	return attrs
}

// RetryAttributes returns attributes for one retry attempt span.
func RetryAttributes(attempt, maxAttempts int, delayMs float64, success bool) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrRetryAttempt, attempt),
		attribute.Bool(AttrRetrySuccess, success),
	}
	if maxAttempts > 0 {
		attrs = append(attrs, attribute.Int(AttrRetryMaxAttempts, maxAttempts))
	}
	if delayMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrRetryDelayMs, delayMs))
	}
	return attrs
}

// BreakerAttributes returns attributes for circuit breaker events.
func BreakerAttributes(key, state string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrBreakerKey, key),
		attribute.String(AttrBreakerState, state),
	}
}

// AlertAttributes returns attributes for alert lifecycle events.
func AlertAttributes(id, severity, status, category string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrAlertID, id),
		attribute.String(AttrAlertSeverity, severity),
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrAlertStatus, status))
	}
	if category != "" {
		attrs = append(attrs, attribute.String(AttrAlertCategory, category))
	}
	return attrs
}

// PatternAttributes returns attributes for pattern detection events.
func PatternAttributes(patternID string, matchCount int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrPatternID, patternID),
		attribute.Int(AttrPatternCount, matchCount),
	}
}
