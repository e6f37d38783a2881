// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"context"
	"fmt"

	"github.com/aegislabs/aegis/pkg/classify"
)

// ActionType enumerates what a matched rule does.
type ActionType string

const (
	ActionLog      ActionType = "log"
	ActionEscalate ActionType = "escalate"
	ActionWebhook  ActionType = "webhook"
)

// RuleAction is one configured reaction to a matched rule.
type RuleAction struct {
	Type ActionType

	// LogLevel applies to ActionLog ("debug", "info", "warn", "error").
	LogLevel string

	// EscalateTo applies to ActionEscalate.
	EscalateTo int

	// WebhookURL applies to ActionWebhook.
	WebhookURL string
}

// AlertRule matches alerts by category and minimum severity and runs
// its actions on every match.
type AlertRule struct {
	ID          string
	Name        string
	Category    classify.Category
	MinSeverity Severity
	Enabled     bool
	Actions     []RuleAction
}

// matches reports whether the rule applies to the alert.
func (r AlertRule) matches(a *Alert) bool {
	if !r.Enabled {
		return false
	}
	if r.Category != "" && r.Category != a.Category {
		return false
	}
	if r.MinSeverity != "" && a.Severity.rank() < r.MinSeverity.rank() {
		return false
	}
	return true
}

// Comparison is the operator a metric rule applies to its threshold.
type Comparison string

const (
	CompareAbove Comparison = "above"
	CompareBelow Comparison = "below"
)

// MetricRule raises an alert when a sampled metric crosses a
// threshold. Evaluated on every sweep tick.
type MetricRule struct {
	ID         string
	Name       string
	Metric     string
	Threshold  float64
	Comparison Comparison
	Severity   Severity
	Category   classify.Category
	Enabled    bool
}

// breached reports whether the sampled value crosses the threshold.
func (r MetricRule) breached(value float64) bool {
	switch r.Comparison {
	case CompareBelow:
		return value < r.Threshold
	default:
		return value > r.Threshold
	}
}

// MetricSource samples the system metrics the sweep evaluates metric
// rules against. Missing metrics are skipped.
type MetricSource interface {
	Sample(ctx context.Context) (map[string]float64, error)
}

// MetricSourceFunc adapts a function to MetricSource.
type MetricSourceFunc func(ctx context.Context) (map[string]float64, error)

// Sample implements MetricSource.
func (f MetricSourceFunc) Sample(ctx context.Context) (map[string]float64, error) {
	return f(ctx)
}

// ExternalAlert is an alert reported by an outside system, ingested
// during the sweep.
type ExternalAlert struct {
	Severity    Severity
	Category    classify.Category
	Title       string
	Description string
	Source      string
	Context     map[string]string
}

// ExternalSource drains externally reported alerts. Implementations
// must return each alert at most once.
type ExternalSource interface {
	Drain(ctx context.Context) ([]ExternalAlert, error)
}

// WebhookFunc delivers a matched alert to an external endpoint.
type WebhookFunc func(ctx context.Context, url string, alert *Alert) error

// validateRule rejects obviously broken rule configurations.
func validateRule(r AlertRule) error {
	if r.ID == "" {
		return fmt.Errorf("alert rule requires an id")
	}
	for _, action := range r.Actions {
		switch action.Type {
		case ActionLog, ActionEscalate:
		case ActionWebhook:
			if action.WebhookURL == "" {
				return fmt.Errorf("rule %s: webhook action requires a url", r.ID)
			}
		default:
			return fmt.Errorf("rule %s: unknown action type %q", r.ID, action.Type)
		}
	}
	return nil
}
