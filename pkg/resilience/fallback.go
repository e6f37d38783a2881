// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"fmt"
	"sync"

	"github.com/aegislabs/aegis/pkg/classify"
)

// FallbackStrategy defines an alternative behavior when the primary
// operation and its retries are exhausted.
type FallbackStrategy interface {
	// Execute runs the fallback operation.
	Execute(ctx context.Context, primaryErr error) (interface{}, error)
}

// FallbackFunc wraps a function as a FallbackStrategy.
type FallbackFunc func(ctx context.Context, primaryErr error) (interface{}, error)

// Execute implements FallbackStrategy.
func (f FallbackFunc) Execute(ctx context.Context, err error) (interface{}, error) {
	return f(ctx, err)
}

// StaticFallback returns a fixed value on failure.
type StaticFallback struct {
	Value interface{}
}

// Execute implements FallbackStrategy.
func (s *StaticFallback) Execute(ctx context.Context, primaryErr error) (interface{}, error) {
	return s.Value, nil
}

// CachedFallback returns the last known good value on failure.
type CachedFallback struct {
	mu    sync.RWMutex
	value interface{}
	set   bool
}

// Store records a known good value for later fallback use.
func (c *CachedFallback) Store(value interface{}) {
	c.mu.Lock()
	c.value = value
	c.set = true
	c.mu.Unlock()
}

// Execute implements FallbackStrategy.
func (c *CachedFallback) Execute(ctx context.Context, primaryErr error) (interface{}, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.set {
		return nil, fmt.Errorf("no cached value available: %w", primaryErr)
	}
	return c.value, nil
}

// ChainedFallback tries multiple fallbacks in sequence.
type ChainedFallback struct {
	Fallbacks []FallbackStrategy
}

// Execute implements FallbackStrategy.
func (c *ChainedFallback) Execute(ctx context.Context, primaryErr error) (interface{}, error) {
	lastErr := primaryErr
	for _, fallback := range c.Fallbacks {
		value, err := fallback.Execute(ctx, lastErr)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// FallbackRegistry maps "{category}:{subcategory}" keys to fallback
// strategies, with a "default" entry as the last resort.
type FallbackRegistry struct {
	mu         sync.RWMutex
	strategies map[string]FallbackStrategy
}

// NewFallbackRegistry returns an empty registry.
func NewFallbackRegistry() *FallbackRegistry {
	return &FallbackRegistry{strategies: make(map[string]FallbackStrategy)}
}

// Register binds a strategy to a category and subcategory. An empty
// subcategory binds the whole category.
func (r *FallbackRegistry) Register(cat classify.Category, subcat string, strategy FallbackStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[fallbackKey(cat, subcat)] = strategy
}

// RegisterDefault binds the last-resort strategy.
func (r *FallbackRegistry) RegisterDefault(strategy FallbackStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies["default"] = strategy
}

// Lookup resolves "{cat}:{subcat}", then "{cat}:", then "default".
// Returns nil when nothing is registered.
func (r *FallbackRegistry) Lookup(cat classify.Category, subcat string) FallbackStrategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if s, ok := r.strategies[fallbackKey(cat, subcat)]; ok {
		return s
	}
	if s, ok := r.strategies[fallbackKey(cat, "")]; ok {
		return s
	}
	return r.strategies["default"]
}

func fallbackKey(cat classify.Category, subcat string) string {
	return string(cat) + ":" + subcat
}

// GracefulDegradation tracks a service that falls back after repeated
// errors, reporting operational status for health checks.
type GracefulDegradation struct {
	Primary   func(ctx context.Context) (interface{}, error)
	Fallback  FallbackStrategy
	MaxErrors int

	mu         sync.Mutex
	errorCount int
}

// Execute runs the primary, falling back once the error threshold is
// exceeded. A success resets the error count.
func (g *GracefulDegradation) Execute(ctx context.Context) (interface{}, error) {
	value, err := g.Primary(ctx)
	if err == nil {
		g.mu.Lock()
		g.errorCount = 0
		g.mu.Unlock()
		return value, nil
	}

	g.mu.Lock()
	g.errorCount++
	degraded := g.errorCount >= g.MaxErrors
	g.mu.Unlock()

	if degraded && g.Fallback != nil {
		return g.Fallback.Execute(ctx, err)
	}
	return nil, err
}

// IsOperational reports whether the service is below its error budget.
func (g *GracefulDegradation) IsOperational() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.errorCount < g.MaxErrors
}

// Status returns "operational" or "degraded".
func (g *GracefulDegradation) Status() string {
	if g.IsOperational() {
		return "operational"
	}
	return "degraded"
}
