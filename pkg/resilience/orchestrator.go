// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/aegislabs/aegis/pkg/classify"
	"github.com/aegislabs/aegis/pkg/errors"
	"github.com/aegislabs/aegis/pkg/telemetry"
)

// ErrCircuitOpen is returned when a call is rejected by an OPEN breaker
// without invoking the operation.
var ErrCircuitOpen = stderrors.New("circuit breaker open")

// Operation is the unit of work executed under recovery policy.
type Operation func(ctx context.Context) (interface{}, error)

// FailureHandler receives failures that escaped recovery: the final
// error of an exhausted call, and every critical-or-worse failure as
// soon as it is observed. Alert managers wire themselves in here.
type FailureHandler func(ctx context.Context, err error)

// OperationContext identifies one logical call for config resolution and
// breaker keying.
type OperationContext struct {
	OperationID string
	Component   string
	Category    classify.Category
	Subcategory string
	ToolName    string
}

func (oc OperationContext) breakerKey() string {
	tool := oc.ToolName
	if tool == "" {
		tool = "default"
	}
	return oc.Component + ":" + tool
}

// RetryAttempt records one try, used for statistics and adaptive tuning
// within a single ExecuteWithRecovery call.
type RetryAttempt struct {
	AttemptNumber int
	StartTime     time.Time
	EndTime       time.Time
	Delay         time.Duration
	Success       bool
	Err           error
}

// Orchestrator executes operations under resolved retry policies with a
// per-key circuit breaker, fallback strategies and adaptive tuning. Safe
// for concurrent use; attempts of a single call are strictly sequential.
type Orchestrator struct {
	mu       sync.Mutex
	table    map[string]RetryConfig
	breakers map[string]*circuitBreaker
	adaptive map[string]*adaptiveState
	fallback *FallbackRegistry
	logger   *slog.Logger
	metrics  *telemetry.EngineMetrics
	onFail   FailureHandler
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithConfigTable replaces the retry config table.
func WithConfigTable(table map[string]RetryConfig) OrchestratorOption {
	return func(o *Orchestrator) {
		if table != nil {
			o.table = table
		}
	}
}

// WithFallbackRegistry sets the fallback strategy registry.
func WithFallbackRegistry(reg *FallbackRegistry) OrchestratorOption {
	return func(o *Orchestrator) {
		if reg != nil {
			o.fallback = reg
		}
	}
}

// WithOrchestratorLogger sets the logger.
func WithOrchestratorLogger(logger *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics wires engine metrics for attempt and breaker reporting.
func WithMetrics(m *telemetry.EngineMetrics) OrchestratorOption {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithFailureHandler installs the hook called on final failures and on
// critical classifications. The final error of a failed call is
// delivered exactly once.
func WithFailureHandler(fn FailureHandler) OrchestratorOption {
	return func(o *Orchestrator) { o.onFail = fn }
}

// WithTimeSource overrides the clock and sleep, for tests.
func WithTimeSource(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) OrchestratorOption {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
		if sleep != nil {
			o.sleep = sleep
		}
	}
}

// NewOrchestrator builds an orchestrator with the default config table
// and an empty fallback registry.
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		table:    DefaultConfigTable(),
		breakers: make(map[string]*circuitBreaker),
		adaptive: make(map[string]*adaptiveState),
		fallback: NewFallbackRegistry(),
		logger:   slog.Default(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteWithRecovery runs op under the policy resolved for the
// operation context. Attempts are sequential; the context cancels the
// retry sequence mid-delay or between attempts.
func (o *Orchestrator) ExecuteWithRecovery(ctx context.Context, op Operation, opCtx OperationContext, overrides *RetryOverrides) (interface{}, error) {
	cfg := o.resolve(opCtx, overrides)
	breaker := o.breakerFor(opCtx.breakerKey(), cfg)

	if !breaker.allow() {
		o.logger.Warn("resilience.circuit.rejected",
			slog.String("key", opCtx.breakerKey()),
			slog.String("operation_id", opCtx.OperationID),
		)
		trace.SpanFromContext(ctx).AddEvent("resilience.circuit.rejected",
			trace.WithAttributes(telemetry.BreakerAttributes(opCtx.breakerKey(), string(StateOpen))...))
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, opCtx.breakerKey())
	}

	var (
		attempts   []RetryAttempt
		lastErr    error
		lastSevere bool
	)

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		delay := backoffDelay(cfg, attempt)
		if delay > 0 {
			if err := o.sleep(ctx, delay); err != nil {
				return nil, fmt.Errorf("retry canceled before attempt %d: %w", attempt, err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("retry canceled before attempt %d: %w", attempt, err)
		}

		start := o.now()
		result, err := op(ctx)
		record := RetryAttempt{
			AttemptNumber: attempt,
			StartTime:     start,
			EndTime:       o.now(),
			Delay:         delay,
			Success:       err == nil,
			Err:           err,
		}
		attempts = append(attempts, record)
		o.logAttempt(ctx, opCtx, record, cfg)

		if err == nil {
			breaker.recordSuccess()
			o.tune(opCtx, cfg, attempts, true)
			return result, nil
		}

		lastErr = err
		cat, subcat, severity, strategy := classifyFailure(err, opCtx)

		severe := severity >= classify.SeverityCritical
		lastSevere = severe
		if severe {
			// Critical failures escalate immediately, before any retry.
			o.notifyFailure(ctx, err)
		}
		if tripped := breaker.recordFailure(severe); tripped {
			o.logger.Error("resilience.circuit.opened",
				slog.String("key", opCtx.breakerKey()),
				slog.String("operation_id", opCtx.OperationID),
				slog.String("category", string(cat)),
			)
			// Circuit-break takes precedence over remaining attempts.
			if !severe {
				o.notifyFailure(ctx, lastErr)
			}
			return nil, lastErr
		}

		shouldRetry := attempt < cfg.MaxAttempts &&
			categoryRetryable(cfg, cat, subcat) &&
			severity != classify.SeverityFatal &&
			(strategy == classify.RecoveryRetry || strategy == classify.RecoveryCircuitBreaker)

		if !shouldRetry {
			if result, ok := o.runFallback(ctx, cat, subcat, lastErr, opCtx); ok {
				o.tune(opCtx, cfg, attempts, true)
				return result, nil
			}
			o.tune(opCtx, cfg, attempts, false)
			if !severe {
				o.notifyFailure(ctx, lastErr)
			}
			return nil, lastErr
		}
	}

	if !lastSevere {
		o.notifyFailure(ctx, lastErr)
	}
	return nil, lastErr
}

// notifyFailure hands a final or critical failure to the installed
// handler.
func (o *Orchestrator) notifyFailure(ctx context.Context, err error) {
	if o.onFail == nil || err == nil {
		return
	}
	o.onFail(ctx, err)
}

// resolve applies the table lookup, the adaptive overlay and caller
// overrides, in that order.
func (o *Orchestrator) resolve(opCtx OperationContext, ov *RetryOverrides) RetryConfig {
	o.mu.Lock()
	table := o.table
	adaptive := o.adaptive[adaptiveKey(opCtx)]
	o.mu.Unlock()

	cfg := resolveConfig(table, opCtx.Category, opCtx.Subcategory)
	if adaptive != nil {
		adaptive.overlay(&cfg)
	}
	return applyOverrides(cfg, ov).normalize()
}

// UpdateConfigTable swaps the retry table, for config hot reload. Only
// subsequent calls observe the new table.
func (o *Orchestrator) UpdateConfigTable(table map[string]RetryConfig) {
	if table == nil {
		return
	}
	o.mu.Lock()
	o.table = table
	o.mu.Unlock()
}

func (o *Orchestrator) breakerFor(key string, cfg RetryConfig) *circuitBreaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	if cb, ok := o.breakers[key]; ok {
		return cb
	}
	cb := newCircuitBreaker(key, cfg.CircuitBreakerThreshold, cfg.CircuitBreakerWindow, cfg.HalfOpenMaxAttempts, o.now, o.onBreakerTransition)
	o.breakers[key] = cb
	return cb
}

func (o *Orchestrator) onBreakerTransition(key string, from, to CircuitBreakerState) {
	o.logger.Info("resilience.circuit.transition",
		slog.String("key", key),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	if o.metrics != nil {
		o.metrics.RecordCircuitBreakerState(context.Background(), key, breakerStateValue(to))
	}
}

func breakerStateValue(s CircuitBreakerState) int64 {
	switch s {
	case StateOpen:
		return 0
	case StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// BreakerStatus returns a snapshot for one key, if the breaker exists.
func (o *Orchestrator) BreakerStatus(component, toolName string) (CircuitBreakerStatus, bool) {
	key := OperationContext{Component: component, ToolName: toolName}.breakerKey()
	o.mu.Lock()
	cb, ok := o.breakers[key]
	o.mu.Unlock()
	if !ok {
		return CircuitBreakerStatus{}, false
	}
	return cb.status(), true
}

// BreakerStatuses returns snapshots of every known breaker.
func (o *Orchestrator) BreakerStatuses() []CircuitBreakerStatus {
	o.mu.Lock()
	breakers := make([]*circuitBreaker, 0, len(o.breakers))
	for _, cb := range o.breakers {
		breakers = append(breakers, cb)
	}
	o.mu.Unlock()
	out := make([]CircuitBreakerStatus, 0, len(breakers))
	for _, cb := range breakers {
		out = append(out, cb.status())
	}
	return out
}

// ResetBreaker forces one breaker CLOSED, for operator intervention.
func (o *Orchestrator) ResetBreaker(component, toolName string) bool {
	key := OperationContext{Component: component, ToolName: toolName}.breakerKey()
	o.mu.Lock()
	cb, ok := o.breakers[key]
	o.mu.Unlock()
	if !ok {
		return false
	}
	cb.reset()
	return true
}

func (o *Orchestrator) runFallback(ctx context.Context, cat classify.Category, subcat string, primaryErr error, opCtx OperationContext) (interface{}, bool) {
	strategy := o.fallback.Lookup(cat, subcat)
	if strategy == nil {
		return nil, false
	}
	value, err := strategy.Execute(ctx, primaryErr)
	if err != nil {
		o.logger.Warn("resilience.fallback.failed",
			slog.String("operation_id", opCtx.OperationID),
			slog.String("category", string(cat)),
			slog.String("error", err.Error()),
		)
		return nil, false
	}
	o.logger.Info("resilience.fallback.used",
		slog.String("operation_id", opCtx.OperationID),
		slog.String("category", string(cat)),
	)
	if o.metrics != nil {
		o.metrics.RecordRecovery(ctx, string(cat), "fallback")
	}
	return value, true
}

func (o *Orchestrator) logAttempt(ctx context.Context, opCtx OperationContext, rec RetryAttempt, cfg RetryConfig) {
	trace.SpanFromContext(ctx).AddEvent("resilience.retry.attempt",
		trace.WithAttributes(telemetry.RetryAttributes(
			rec.AttemptNumber, cfg.MaxAttempts, float64(rec.Delay.Milliseconds()), rec.Success)...))

	attrs := []any{
		slog.String("operation_id", opCtx.OperationID),
		slog.String("component", opCtx.Component),
		slog.Int("attempt", rec.AttemptNumber),
		slog.Int("max_attempts", cfg.MaxAttempts),
		slog.Duration("delay", rec.Delay),
		slog.Bool("success", rec.Success),
	}
	if rec.Err != nil {
		attrs = append(attrs, slog.String("error", rec.Err.Error()))
		o.logger.Warn("resilience.retry.attempt", attrs...)
		if o.metrics != nil {
			o.metrics.RecordError(ctx, rec.Err, opCtx.Component)
		}
		return
	}
	o.logger.Debug("resilience.retry.attempt", attrs...)
}

// classifyFailure extracts classification facts from the error chain,
// falling back to the operation context for plain errors.
func classifyFailure(err error, opCtx OperationContext) (classify.Category, string, classify.Severity, classify.RecoveryStrategy) {
	if de := errors.AsDomainError(err); de != nil {
		cl := de.Classification()
		return cl.Category, cl.Subcategory, cl.Severity, cl.RecoveryStrategy
	}
	cat := opCtx.Category
	if cat == "" {
		cat = classify.CategoryUnknown
	}
	// Plain errors default to retry eligibility under the resolved policy.
	return cat, opCtx.Subcategory, classify.SeverityError, classify.RecoveryRetry
}
