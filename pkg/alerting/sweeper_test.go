// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"context"
	"testing"
	"time"

	"github.com/aegislabs/aegis/pkg/classify"
)

func TestSweepCollectsOldResolvedAlerts(t *testing.T) {
	clock := newFakeClock()
	m := NewManager(WithManagerClock(clock.Now))
	m.SetSweepInterval(time.Minute)
	ctx := context.Background()

	old := m.CreateAlert(ctx, SeverityWarning, classify.CategoryWorkflow,
		"old", "", "s", nil, nil)
	_ = m.Resolve(ctx, old.ID, "fixed")

	clock.Advance(8 * 24 * time.Hour)

	recent := m.CreateAlert(ctx, SeverityWarning, classify.CategoryWorkflow,
		"recent", "", "s", nil, nil)
	_ = m.Resolve(ctx, recent.ID, "fixed")

	m.sweepOnce(ctx)

	if _, ok := m.GetAlert(old.ID); ok {
		t.Fatal("expected old resolved alert to be collected")
	}
	if _, ok := m.GetAlert(recent.ID); !ok {
		t.Fatal("recently resolved alert should survive the sweep")
	}
}

func TestSweepEvaluatesMetricRules(t *testing.T) {
	m := NewManager(WithMetricRules(MetricRule{
		ID:         "error-rate",
		Name:       "error rate above budget",
		Metric:     "errors_per_minute",
		Threshold:  10,
		Comparison: CompareAbove,
		Severity:   SeverityWarning,
		Category:   classify.CategoryUnknown,
		Enabled:    true,
	}))
	m.SetSweepInterval(time.Minute)
	m.SetMetricSource(MetricSourceFunc(func(ctx context.Context) (map[string]float64, error) {
		return map[string]float64{"errors_per_minute": 42}, nil
	}))

	m.sweepOnce(context.Background())

	active := m.ActiveAlerts()
	if len(active) != 1 {
		t.Fatalf("expected 1 alert from metric rule, got %d", len(active))
	}
	if active[0].Title != "error rate above budget" {
		t.Fatalf("unexpected alert title %q", active[0].Title)
	}
}

func TestSweepSkipsHealthyMetrics(t *testing.T) {
	m := NewManager(WithMetricRules(MetricRule{
		ID:         "error-rate",
		Name:       "error rate above budget",
		Metric:     "errors_per_minute",
		Threshold:  10,
		Comparison: CompareAbove,
		Severity:   SeverityWarning,
		Enabled:    true,
	}))
	m.SetSweepInterval(time.Minute)
	m.SetMetricSource(MetricSourceFunc(func(ctx context.Context) (map[string]float64, error) {
		return map[string]float64{"errors_per_minute": 2}, nil
	}))

	m.sweepOnce(context.Background())

	if got := len(m.ActiveAlerts()); got != 0 {
		t.Fatalf("expected no alerts for healthy metrics, got %d", got)
	}
}

func TestSweepIngestsExternalAlerts(t *testing.T) {
	m := NewManager()
	m.SetSweepInterval(time.Minute)
	drained := false
	m.SetExternalSource(externalFunc(func(ctx context.Context) ([]ExternalAlert, error) {
		if drained {
			return nil, nil
		}
		drained = true
		return []ExternalAlert{{
			Severity: SeverityError,
			Category: classify.CategoryExternalService,
			Title:    "upstream reported outage",
			Source:   "statuspage",
		}}, nil
	}))

	m.sweepOnce(context.Background())
	m.sweepOnce(context.Background())

	count := 0
	for _, alert := range m.ActiveAlerts() {
		if alert.Source == "statuspage" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly 1 ingested alert, got %d", count)
	}
}

func TestSweeperStartStop(t *testing.T) {
	m := NewManager()
	m.SetSweepInterval(10 * time.Millisecond)
	m.StartSweeper()
	time.Sleep(30 * time.Millisecond)
	m.StopSweeper()

	// Stop is idempotent.
	m.StopSweeper()
}

func TestSweeperDisabled(t *testing.T) {
	m := NewManager()
	m.StartSweeper() // no interval configured
	m.StopSweeper()
}

type externalFunc func(ctx context.Context) ([]ExternalAlert, error)

func (f externalFunc) Drain(ctx context.Context) ([]ExternalAlert, error) {
	return f(ctx)
}
