// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"testing"

	"github.com/aegislabs/aegis/pkg/classify"
	"github.com/aegislabs/aegis/pkg/errors"
)

func TestNewEngineMetrics(t *testing.T) {
	em, err := NewEngineMetrics(context.Background())
	if err != nil {
		t.Fatalf("failed to create engine metrics: %v", err)
	}
	if em == nil {
		t.Fatal("expected non-nil EngineMetrics")
	}
}

func TestRecordError(t *testing.T) {
	em, _ := NewEngineMetrics(context.Background())
	ctx := context.Background()

	factory := errors.NewFactory(classify.NewClassifier())
	de := factory.Adapter("timeout", "tool timed out", nil, "web_search", nil)
	em.RecordError(ctx, de, "adapter")

	// Generic error without classification
	em.RecordError(ctx, context.DeadlineExceeded, "worker")

	// Should not panic with nil error or empty component
	em.RecordError(ctx, nil, "service")
	em.RecordError(ctx, de, "")

	var nilMetrics *EngineMetrics
	nilMetrics.RecordError(ctx, de, "service")
}

func TestRecordRecovery(t *testing.T) {
	em, _ := NewEngineMetrics(context.Background())
	ctx := context.Background()

	em.RecordRecovery(ctx, string(classify.CategoryExternalTimeout), "retry")
	em.RecordRecovery(ctx, string(classify.CategoryExternalRateLimit), "fallback")

	var nilMetrics *EngineMetrics
	nilMetrics.RecordRecovery(ctx, string(classify.CategoryExternalTimeout), "retry")
}

func TestRecordAlert(t *testing.T) {
	em, _ := NewEngineMetrics(context.Background())
	ctx := context.Background()

	em.RecordAlert(ctx, "critical", string(classify.CategorySystemResource))
	em.RecordActiveAlerts(ctx, 3)

	var nilMetrics *EngineMetrics
	nilMetrics.RecordAlert(ctx, "info", "workflow")
	nilMetrics.RecordActiveAlerts(ctx, 0)
}

func TestRecordErrorRate(t *testing.T) {
	em, _ := NewEngineMetrics(context.Background())
	ctx := context.Background()

	em.RecordErrorRate(ctx, "adapter", 2.5)
	em.RecordErrorRate(ctx, "executor", 0.0)

	var nilMetrics *EngineMetrics
	nilMetrics.RecordErrorRate(ctx, "service", 1.5)
}

func TestRecordCircuitBreakerState(t *testing.T) {
	em, _ := NewEngineMetrics(context.Background())
	ctx := context.Background()

	// 0 = open, 1 = half-open, 2 = closed
	em.RecordCircuitBreakerState(ctx, "adapter:web_search", 2)
	em.RecordCircuitBreakerState(ctx, "executor:default", 1)
	em.RecordCircuitBreakerState(ctx, "external:payments", 0)

	var nilMetrics *EngineMetrics
	nilMetrics.RecordCircuitBreakerState(ctx, "adapter:default", 2)
}

func TestRecordSweepDuration(t *testing.T) {
	em, _ := NewEngineMetrics(context.Background())
	ctx := context.Background()

	em.RecordSweepDuration(ctx, 12.5)

	var nilMetrics *EngineMetrics
	nilMetrics.RecordSweepDuration(ctx, 1.0)
}

func TestConcurrentMetrics(t *testing.T) {
	em, _ := NewEngineMetrics(context.Background())
	ctx := context.Background()

	factory := errors.NewFactory(classify.NewClassifier())
	done := make(chan bool, 3)

	go func() {
		de := factory.ExternalService("service_unavailable", "upstream down", nil, "payments", 503, nil)
		for i := 0; i < 10; i++ {
			em.RecordError(ctx, de, "external")
			em.RecordRecovery(ctx, string(classify.CategoryExternalService), "retry")
		}
		done <- true
	}()

	go func() {
		de := factory.Adapter("timeout", "tool timed out", nil, "web_search", nil)
		for i := 0; i < 10; i++ {
			em.RecordError(ctx, de, "adapter")
			em.RecordErrorRate(ctx, "adapter", 1.5+float64(i)*0.1)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 10; i++ {
			em.RecordCircuitBreakerState(ctx, "adapter:web_search", int64(i%3))
			em.RecordActiveAlerts(ctx, int64(i))
		}
		done <- true
	}()

	<-done
	<-done
	<-done
}
