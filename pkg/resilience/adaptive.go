// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"log/slog"
	"sync"
	"time"
)

const (
	adaptiveMaxAttemptsCap = 10
	adaptiveMaxDelayCap    = 120 * time.Second
)

// adaptiveState holds the ratcheted overrides for one component:category
// key. Adjustments only move up and never decay; see DESIGN.md.
type adaptiveState struct {
	mu                  sync.Mutex
	maxAttempts         int
	maxDelay            time.Duration
	consecutiveFailures int
}

func adaptiveKey(opCtx OperationContext) string {
	return opCtx.Component + ":" + string(opCtx.Category)
}

// overlay applies the ratcheted values on top of a resolved config.
func (a *adaptiveState) overlay(cfg *RetryConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.maxAttempts > cfg.MaxAttempts {
		cfg.MaxAttempts = a.maxAttempts
	}
	if a.maxDelay > cfg.MaxDelay {
		cfg.MaxDelay = a.maxDelay
	}
}

// tune updates adaptive state after a completed call. Only active when
// the resolved config enables AdaptiveAdjustment.
func (o *Orchestrator) tune(opCtx OperationContext, cfg RetryConfig, attempts []RetryAttempt, success bool) {
	if !cfg.AdaptiveAdjustment || len(attempts) == 0 {
		return
	}
	key := adaptiveKey(opCtx)

	o.mu.Lock()
	state, ok := o.adaptive[key]
	if !ok {
		state = &adaptiveState{}
		o.adaptive[key] = state
	}
	o.mu.Unlock()

	state.mu.Lock()
	defer state.mu.Unlock()

	if !success {
		state.consecutiveFailures++
		return
	}
	state.consecutiveFailures = 0

	used := len(attempts)
	if float64(used) > 0.8*float64(cfg.MaxAttempts) && cfg.MaxAttempts < adaptiveMaxAttemptsCap {
		old := cfg.MaxAttempts
		state.maxAttempts = cfg.MaxAttempts + 1
		o.logger.Info("resilience.adaptive.adjusted",
			slog.String("key", key),
			slog.String("field", "max_attempts"),
			slog.Int("old", old),
			slog.Int("new", state.maxAttempts),
			slog.String("reason", "attempts used exceeded 80% of budget"),
		)
	}

	var total time.Duration
	for _, rec := range attempts {
		total += rec.EndTime.Sub(rec.StartTime)
	}
	avg := total / time.Duration(len(attempts))
	if float64(avg) > 0.7*float64(cfg.MaxDelay) && cfg.MaxDelay < adaptiveMaxDelayCap {
		old := cfg.MaxDelay
		next := cfg.MaxDelay + cfg.MaxDelay/2
		if next > adaptiveMaxDelayCap {
			next = adaptiveMaxDelayCap
		}
		state.maxDelay = next
		o.logger.Info("resilience.adaptive.adjusted",
			slog.String("key", key),
			slog.String("field", "max_delay"),
			slog.Duration("old", old),
			slog.Duration("new", next),
			slog.String("reason", "average attempt duration exceeded 70% of max delay"),
		)
	}
}

// AdaptiveSnapshot exposes the ratcheted values for introspection.
type AdaptiveSnapshot struct {
	Key                 string
	MaxAttempts         int
	MaxDelay            time.Duration
	ConsecutiveFailures int
}

// AdaptiveStates returns a snapshot of all adaptive tuning state.
func (o *Orchestrator) AdaptiveStates() []AdaptiveSnapshot {
	o.mu.Lock()
	keys := make([]string, 0, len(o.adaptive))
	states := make([]*adaptiveState, 0, len(o.adaptive))
	for k, s := range o.adaptive {
		keys = append(keys, k)
		states = append(states, s)
	}
	o.mu.Unlock()

	out := make([]AdaptiveSnapshot, 0, len(states))
	for i, s := range states {
		s.mu.Lock()
		out = append(out, AdaptiveSnapshot{
			Key:                 keys[i],
			MaxAttempts:         s.maxAttempts,
			MaxDelay:            s.maxDelay,
			ConsecutiveFailures: s.consecutiveFailures,
		})
		s.mu.Unlock()
	}
	return out
}
