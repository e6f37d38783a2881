// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/aegislabs/aegis/pkg/classify"
	"github.com/aegislabs/aegis/pkg/errors"
	"github.com/aegislabs/aegis/pkg/telemetry"
)

type sleepRecorder struct {
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.delays = append(s.delays, d)
	return nil
}

func newTestOrchestrator(opts ...OrchestratorOption) (*Orchestrator, *sleepRecorder) {
	rec := &sleepRecorder{}
	opts = append(opts, WithTimeSource(nil, rec.sleep))
	return NewOrchestrator(opts...), rec
}

func testErrorFactory() *errors.Factory {
	return errors.NewFactory(classify.NewClassifier(classify.WithoutDefaultPatterns()))
}

func TestExecuteSuccessFirstAttempt(t *testing.T) {
	o, rec := newTestOrchestrator()

	result, err := o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) { return "ok", nil },
		OperationContext{OperationID: "op-1", Component: "svc"},
		nil,
	)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "ok" {
		t.Errorf("result: got %v", result)
	}
	if len(rec.delays) != 0 {
		t.Errorf("first attempt should not be delayed: %v", rec.delays)
	}
}

func TestExecuteRetriesUntilSuccess(t *testing.T) {
	o, rec := newTestOrchestrator()

	calls := 0
	result, err := o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) {
			calls++
			if calls < 3 {
				return nil, fmt.Errorf("transient failure %d", calls)
			}
			return "recovered", nil
		},
		OperationContext{
			OperationID: "op-2",
			Component:   "gateway",
			Category:    classify.CategoryExternalTimeout,
			Subcategory: "request_timeout",
		},
		nil,
	)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if result != "recovered" || calls != 3 {
		t.Errorf("result=%v calls=%d", result, calls)
	}
	// Attempts 2 and 3 each carry a backoff delay.
	if len(rec.delays) != 2 {
		t.Errorf("delays: %v", rec.delays)
	}
	if len(rec.delays) == 2 && rec.delays[1] <= rec.delays[0] {
		t.Errorf("backoff should grow: %v", rec.delays)
	}
}

func TestExecuteExhaustsAttempts(t *testing.T) {
	o, _ := newTestOrchestrator()

	attempts := 2
	calls := 0
	lastErr := fmt.Errorf("still down")
	_, err := o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, lastErr
		},
		OperationContext{
			OperationID: "op-3",
			Component:   "gateway",
			Category:    classify.CategoryExternalTimeout,
		},
		&RetryOverrides{MaxAttempts: &attempts},
	)
	if !stderrors.Is(err, lastErr) {
		t.Errorf("expected last error, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls: got %d, want 2", calls)
	}
}

func TestExecuteNonRetryableUsesFallback(t *testing.T) {
	f := testErrorFactory()
	reg := NewFallbackRegistry()
	reg.Register(classify.CategoryUserInput, "", &StaticFallback{Value: "form_hint"})
	o, _ := newTestOrchestrator(WithFallbackRegistry(reg))

	calls := 0
	result, err := o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, f.UserInput("missing_field", "name required", "name", nil)
		},
		OperationContext{OperationID: "op-4", Component: "api"},
		nil,
	)
	if err != nil {
		t.Fatalf("fallback should absorb the failure: %v", err)
	}
	if result != "form_hint" {
		t.Errorf("result: got %v", result)
	}
	// Manual-recovery errors never retry.
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestExecuteNonRetryableNoFallback(t *testing.T) {
	f := testErrorFactory()
	o, _ := newTestOrchestrator()

	calls := 0
	_, err := o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, f.UserInput("out_of_range", "limit too large", "limit", nil)
		},
		OperationContext{OperationID: "op-5", Component: "api"},
		nil,
	)
	if err == nil {
		t.Fatal("expected the original error")
	}
	if calls != 1 {
		t.Errorf("calls: got %d, want 1", calls)
	}
}

func TestCircuitBreakerTripsAndRejects(t *testing.T) {
	f := testErrorFactory()
	o, _ := newTestOrchestrator()

	opCtx := OperationContext{
		OperationID: "op-6",
		Component:   "ingest",
		Category:    classify.CategorySystemResource,
		Subcategory: "memory_exhausted",
		ToolName:    "bulk_load",
	}

	// Critical failures count against half the threshold (default 5 -> 3).
	for i := 0; i < 3; i++ {
		_, err := o.ExecuteWithRecovery(context.Background(),
			func(ctx context.Context) (interface{}, error) {
				return nil, f.Resource("memory_exhausted", "oom", nil, "memory", nil)
			},
			opCtx, nil,
		)
		if stderrors.Is(err, ErrCircuitOpen) {
			t.Fatalf("call %d rejected before the breaker tripped", i+1)
		}
	}

	_, err := o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) { return "never", nil },
		opCtx, nil,
	)
	if !stderrors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open rejection, got %v", err)
	}

	status, ok := o.BreakerStatus("ingest", "bulk_load")
	if !ok || status.State != StateOpen {
		t.Errorf("breaker status: ok=%v %+v", ok, status)
	}

	if !o.ResetBreaker("ingest", "bulk_load") {
		t.Fatal("reset should find the breaker")
	}
	status, _ = o.BreakerStatus("ingest", "bulk_load")
	if status.State != StateClosed {
		t.Errorf("state after reset: %s", status.State)
	}

	if o.ResetBreaker("ingest", "unknown_tool") {
		t.Error("reset of an unknown key should report false")
	}
}

func TestBreakerStatuses(t *testing.T) {
	o, _ := newTestOrchestrator()

	for _, component := range []string{"a", "b"} {
		o.ExecuteWithRecovery(context.Background(),
			func(ctx context.Context) (interface{}, error) { return nil, nil },
			OperationContext{OperationID: "op", Component: component},
			nil,
		)
	}

	statuses := o.BreakerStatuses()
	if len(statuses) != 2 {
		t.Errorf("statuses: got %d, want 2", len(statuses))
	}
}

func TestAdaptiveRatchetsMaxAttempts(t *testing.T) {
	table := DefaultConfigTable()
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 3
	cfg.AdaptiveAdjustment = true
	table[string(classify.CategoryWorkflow)] = cfg
	o, _ := newTestOrchestrator(WithConfigTable(table))

	calls := 0
	_, err := o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) {
			calls++
			if calls < 3 {
				return nil, fmt.Errorf("flaky")
			}
			return "ok", nil
		},
		OperationContext{OperationID: "op-7", Component: "planner", Category: classify.CategoryWorkflow},
		nil,
	)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}

	states := o.AdaptiveStates()
	if len(states) != 1 {
		t.Fatalf("adaptive states: got %d, want 1", len(states))
	}
	if states[0].Key != "planner:workflow" {
		t.Errorf("key: got %s", states[0].Key)
	}
	// All three attempts were used, above 80% of the budget.
	if states[0].MaxAttempts != 4 {
		t.Errorf("ratcheted max attempts: got %d, want 4", states[0].MaxAttempts)
	}
}

func TestUpdateConfigTable(t *testing.T) {
	table := DefaultConfigTable()
	cfg := DefaultRetryConfig()
	cfg.MaxAttempts = 1
	table[string(classify.CategorySystemNetwork)] = cfg
	o, _ := newTestOrchestrator(WithConfigTable(table))

	opCtx := OperationContext{OperationID: "op-8", Component: "net", Category: classify.CategorySystemNetwork}

	calls := 0
	o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, fmt.Errorf("unreachable")
		},
		opCtx, nil,
	)
	if calls != 1 {
		t.Fatalf("calls before update: got %d, want 1", calls)
	}

	cfg.MaxAttempts = 3
	table[string(classify.CategorySystemNetwork)] = cfg
	o.UpdateConfigTable(table)

	calls = 0
	o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, fmt.Errorf("unreachable")
		},
		opCtx, nil,
	)
	if calls != 3 {
		t.Errorf("calls after update: got %d, want 3", calls)
	}
}

func TestFailureHandlerFinalError(t *testing.T) {
	var notified []error
	o, _ := newTestOrchestrator(WithFailureHandler(func(ctx context.Context, err error) {
		notified = append(notified, err)
	}))

	attempts := 2
	lastErr := fmt.Errorf("still down")
	_, err := o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) { return nil, lastErr },
		OperationContext{
			OperationID: "op-10",
			Component:   "gateway",
			Category:    classify.CategoryExternalTimeout,
		},
		&RetryOverrides{MaxAttempts: &attempts},
	)
	if err == nil {
		t.Fatal("expected exhaustion")
	}

	if len(notified) != 1 {
		t.Fatalf("notifications: got %d, want 1", len(notified))
	}
	if !stderrors.Is(notified[0], lastErr) {
		t.Errorf("handler should receive the final error, got %v", notified[0])
	}
}

func TestFailureHandlerCriticalImmediate(t *testing.T) {
	f := testErrorFactory()
	count := 0
	o, _ := newTestOrchestrator(WithFailureHandler(func(ctx context.Context, err error) {
		count++
	}))

	_, err := o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) {
			return nil, f.Resource("memory_exhausted", "oom", nil, "memory", nil)
		},
		OperationContext{
			OperationID: "op-11",
			Component:   "ingest",
			Category:    classify.CategorySystemResource,
			Subcategory: "memory_exhausted",
		},
		nil,
	)
	if err == nil {
		t.Fatal("expected failure")
	}
	if count != 1 {
		t.Errorf("critical failure should notify exactly once, got %d", count)
	}
}

func TestFailureHandlerSkippedOnRecovery(t *testing.T) {
	count := 0
	o, _ := newTestOrchestrator(WithFailureHandler(func(ctx context.Context, err error) {
		count++
	}))

	calls := 0
	result, err := o.ExecuteWithRecovery(context.Background(),
		func(ctx context.Context) (interface{}, error) {
			calls++
			if calls == 1 {
				return nil, fmt.Errorf("transient")
			}
			return "ok", nil
		},
		OperationContext{
			OperationID: "op-12",
			Component:   "gateway",
			Category:    classify.CategoryExternalTimeout,
		},
		nil,
	)
	if err != nil || result != "ok" {
		t.Fatalf("result=%v err=%v", result, err)
	}
	if count != 0 {
		t.Errorf("recovered call should not notify, got %d", count)
	}
}

func TestExecuteRecordsSpanEvents(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	ctx, span := tp.Tracer("test").Start(context.Background(), "operation")

	o, _ := newTestOrchestrator()
	attempts := 1
	o.ExecuteWithRecovery(ctx,
		func(ctx context.Context) (interface{}, error) { return nil, fmt.Errorf("down") },
		OperationContext{
			OperationID: "op-13",
			Component:   "svc",
			Category:    classify.CategoryExternalTimeout,
		},
		&RetryOverrides{MaxAttempts: &attempts},
	)
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans: got %d, want 1", len(spans))
	}
	found := false
	for _, ev := range spans[0].Events() {
		if ev.Name != "resilience.retry.attempt" {
			continue
		}
		for _, attr := range ev.Attributes {
			if attr.Key == attribute.Key(telemetry.AttrRetryAttempt) {
				found = true
			}
		}
	}
	if !found {
		t.Error("expected a retry attempt span event carrying the attempt attribute")
	}
}

func TestExecuteContextCanceled(t *testing.T) {
	o, _ := newTestOrchestrator()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	_, err := o.ExecuteWithRecovery(ctx,
		func(ctx context.Context) (interface{}, error) {
			calls++
			return nil, fmt.Errorf("should not run")
		},
		OperationContext{OperationID: "op-9", Component: "svc"},
		nil,
	)
	if err == nil {
		t.Fatal("expected cancellation error")
	}
	if calls != 0 {
		t.Errorf("operation should not run on a canceled context, calls=%d", calls)
	}
}
