// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestClassificationAttributes(t *testing.T) {
	attrs := ClassificationAttributes("err-1", "external_timeout", "gateway_timeout", "warning", "external")

	expected := map[string]any{
		AttrErrorID:          "err-1",
		AttrErrorCategory:    "external_timeout",
		AttrErrorSubcategory: "gateway_timeout",
		AttrErrorSeverity:    "warning",
		AttrErrorComponent:   "external",
	}

	assertAttributes(t, attrs, expected)
}

func TestClassificationAttributes_OmitsEmpty(t *testing.T) {
	attrs := ClassificationAttributes("", "workflow", "", "error", "")

	for _, attr := range attrs {
		switch string(attr.Key) {
		case AttrErrorID, AttrErrorSubcategory, AttrErrorComponent:
			t.Errorf("unexpected attribute %s for empty input", attr.Key)
		}
	}
}

func TestRetryAttributes(t *testing.T) {
	attrs := RetryAttributes(2, 5, 750.0, false)

	expected := map[string]any{
		AttrRetryAttempt:     2,
		AttrRetryMaxAttempts: 5,
		AttrRetryDelayMs:     750.0,
		AttrRetrySuccess:     false,
	}

	assertAttributes(t, attrs, expected)
}

func TestBreakerAttributes(t *testing.T) {
	attrs := BreakerAttributes("adapter:web_search", "open")

	expected := map[string]any{
		AttrBreakerKey:   "adapter:web_search",
		AttrBreakerState: "open",
	}

	assertAttributes(t, attrs, expected)
}

func TestAlertAttributes(t *testing.T) {
	attrs := AlertAttributes("alert-1", "critical", "active", "system_resource")

	expected := map[string]any{
		AttrAlertID:       "alert-1",
		AttrAlertSeverity: "critical",
		AttrAlertStatus:   "active",
		AttrAlertCategory: "system_resource",
	}

	assertAttributes(t, attrs, expected)
}

func TestPatternAttributes(t *testing.T) {
	attrs := PatternAttributes("database-connection-storm", 5)

	expected := map[string]any{
		AttrPatternID:    "database-connection-storm",
		AttrPatternCount: 5,
	}

	assertAttributes(t, attrs, expected)
}

// assertAttributes checks that expected key-value pairs exist in attrs
func assertAttributes(t *testing.T, attrs []attribute.KeyValue, expected map[string]any) {
	t.Helper()

	found := make(map[string]attribute.KeyValue)
	for _, attr := range attrs {
		found[string(attr.Key)] = attr
	}

	for key, expectedVal := range expected {
		attr, ok := found[key]
		if !ok {
			t.Errorf("missing attribute %s", key)
			continue
		}

		var actualVal any
		switch attr.Value.Type() {
		case attribute.STRING:
			actualVal = attr.Value.AsString()
		case attribute.INT64:
			actualVal = int(attr.Value.AsInt64())
		case attribute.FLOAT64:
			actualVal = attr.Value.AsFloat64()
		case attribute.BOOL:
			actualVal = attr.Value.AsBool()
		}

		if actualVal != expectedVal {
			t.Errorf("attribute %s: got %v, want %v", key, actualVal, expectedVal)
		}
	}
}
