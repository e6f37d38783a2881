// SPDX-License-Identifier: Apache-2.0
// Package resilience executes operations under retry, circuit breaker
// and fallback policies resolved from the failure taxonomy.
package resilience

import (
	"math"
	"math/rand"
	"time"

	"github.com/aegislabs/aegis/pkg/classify"
)

// RetryConfig controls one resolved retry policy.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (>= 1).
	MaxAttempts int

	// InitialDelay is the backoff base delay.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// BackoffMultiplier for exponential backoff (default 2.0).
	BackoffMultiplier float64

	// JitterFactor adds U(0, delay*JitterFactor) on top of each delay.
	JitterFactor float64

	// RetryableCategories, when non-empty, restricts retries to these
	// categories. Empty means all categories are eligible.
	RetryableCategories []classify.Category

	// RetryableSubcategories, when non-empty, restricts retries to
	// these subcategories.
	RetryableSubcategories []string

	// CircuitBreakerThreshold is the failure count that trips the
	// breaker for this policy's key.
	CircuitBreakerThreshold int

	// CircuitBreakerWindow is the OPEN-state cooldown.
	CircuitBreakerWindow time.Duration

	// HalfOpenMaxAttempts is the number of consecutive HALF_OPEN
	// successes needed to close the breaker.
	HalfOpenMaxAttempts int

	// AdaptiveAdjustment enables ratchet-up tuning of MaxAttempts and
	// MaxDelay based on observed attempt counts and durations.
	AdaptiveAdjustment bool
}

// RetryOverrides is a partial caller-supplied overlay on a resolved
// config. Nil fields keep the resolved value.
type RetryOverrides struct {
	MaxAttempts             *int
	InitialDelay            *time.Duration
	MaxDelay                *time.Duration
	BackoffMultiplier       *float64
	JitterFactor            *float64
	RetryableCategories     []classify.Category
	RetryableSubcategories  []string
	CircuitBreakerThreshold *int
	CircuitBreakerWindow    *time.Duration
	AdaptiveAdjustment      *bool
}

// DefaultRetryConfig is the last resort of config resolution.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:             3,
		InitialDelay:            500 * time.Millisecond,
		MaxDelay:                30 * time.Second,
		BackoffMultiplier:       2.0,
		JitterFactor:            0.1,
		CircuitBreakerThreshold: 5,
		CircuitBreakerWindow:    60 * time.Second,
		HalfOpenMaxAttempts:     3,
	}
}

// DefaultConfigTable maps "{category}_{subcategory}" and "{category}"
// keys to retry policies. Resolution tries the more specific key first,
// then the category, then DefaultRetryConfig.
func DefaultConfigTable() map[string]RetryConfig {
	base := DefaultRetryConfig()

	rateLimit := base
	rateLimit.MaxAttempts = 5
	rateLimit.InitialDelay = 2 * time.Second
	rateLimit.MaxDelay = 60 * time.Second
	rateLimit.AdaptiveAdjustment = true

	timeouts := base
	timeouts.MaxAttempts = 4
	timeouts.InitialDelay = time.Second
	timeouts.AdaptiveAdjustment = true

	database := base
	database.MaxAttempts = 3
	database.CircuitBreakerThreshold = 3
	database.CircuitBreakerWindow = 30 * time.Second

	deadlock := database
	deadlock.MaxAttempts = 2
	deadlock.InitialDelay = 100 * time.Millisecond

	network := base
	network.MaxAttempts = 4
	network.CircuitBreakerThreshold = 4

	external := base
	external.AdaptiveAdjustment = true

	return map[string]RetryConfig{
		string(classify.CategoryExternalRateLimit): rateLimit,
		string(classify.CategoryExternalTimeout):   timeouts,
		string(classify.CategoryToolTimeout):       timeouts,
		string(classify.CategoryIntegrationDB):     database,
		string(classify.CategoryIntegrationDB) + "_deadlock": deadlock,
		string(classify.CategorySystemNetwork):   network,
		string(classify.CategoryExternalService): external,
		string(classify.CategoryIntegrationAPI):  external,
	}
}

// resolveConfig looks up "{cat}_{subcat}", then "{cat}", then the
// default table entry.
func resolveConfig(table map[string]RetryConfig, cat classify.Category, subcat string) RetryConfig {
	cfg := DefaultRetryConfig()
	if c, ok := table[string(cat)]; ok {
		cfg = c
	}
	if subcat != "" {
		if c, ok := table[string(cat)+"_"+subcat]; ok {
			cfg = c
		}
	}
	return cfg
}

// applyOverrides shallow-merges caller overrides onto a resolved config.
func applyOverrides(cfg RetryConfig, ov *RetryOverrides) RetryConfig {
	if ov == nil {
		return cfg
	}
	if ov.MaxAttempts != nil {
		cfg.MaxAttempts = *ov.MaxAttempts
	}
	if ov.InitialDelay != nil {
		cfg.InitialDelay = *ov.InitialDelay
	}
	if ov.MaxDelay != nil {
		cfg.MaxDelay = *ov.MaxDelay
	}
	if ov.BackoffMultiplier != nil {
		cfg.BackoffMultiplier = *ov.BackoffMultiplier
	}
	if ov.JitterFactor != nil {
		cfg.JitterFactor = *ov.JitterFactor
	}
	if ov.RetryableCategories != nil {
		cfg.RetryableCategories = ov.RetryableCategories
	}
	if ov.RetryableSubcategories != nil {
		cfg.RetryableSubcategories = ov.RetryableSubcategories
	}
	if ov.CircuitBreakerThreshold != nil {
		cfg.CircuitBreakerThreshold = *ov.CircuitBreakerThreshold
	}
	if ov.CircuitBreakerWindow != nil {
		cfg.CircuitBreakerWindow = *ov.CircuitBreakerWindow
	}
	if ov.AdaptiveAdjustment != nil {
		cfg.AdaptiveAdjustment = *ov.AdaptiveAdjustment
	}
	return cfg
}

// normalize enforces minimal sanity on a resolved config.
func (rc RetryConfig) normalize() RetryConfig {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.BackoffMultiplier <= 0 {
		rc.BackoffMultiplier = 2.0
	}
	return rc
}

// backoffDelay computes the pre-attempt delay: zero for the first
// attempt, otherwise min(initial*multiplier^(attempt-1), max) plus
// uniform jitter in [0, delay*jitter].
func backoffDelay(cfg RetryConfig, attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	base := float64(cfg.InitialDelay) * math.Pow(cfg.BackoffMultiplier, float64(attempt-1))
	if capped := float64(cfg.MaxDelay); base > capped {
		base = capped
	}
	delay := base
	if cfg.JitterFactor > 0 {
		delay += rand.Float64() * base * cfg.JitterFactor
	}
	return time.Duration(delay)
}

// categoryRetryable applies the allowlists. Empty lists are wildcards.
func categoryRetryable(cfg RetryConfig, cat classify.Category, subcat string) bool {
	if len(cfg.RetryableCategories) > 0 {
		found := false
		for _, c := range cfg.RetryableCategories {
			if c == cat {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(cfg.RetryableSubcategories) > 0 {
		found := false
		for _, s := range cfg.RetryableSubcategories {
			if s == subcat {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
