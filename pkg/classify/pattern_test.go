// SPDX-License-Identifier: Apache-2.0

package classify

import (
	"testing"
	"time"
)

func TestPatternSpecCompileValidation(t *testing.T) {
	valid := PatternSpec{
		Name:               "ok",
		FrequencyThreshold: 1,
		TimeWindow:         Duration(time.Minute),
	}

	tests := []struct {
		name   string
		mutate func(*PatternSpec)
	}{
		{"missing name", func(ps *PatternSpec) { ps.Name = "" }},
		{"zero threshold", func(ps *PatternSpec) { ps.FrequencyThreshold = 0 }},
		{"zero window", func(ps *PatternSpec) { ps.TimeWindow = 0 }},
		{"unknown category", func(ps *PatternSpec) { ps.Category = Category("nope") }},
		{"bad regexp", func(ps *PatternSpec) { ps.MessagePatterns = []string{"("} }},
	}

	if _, err := valid.Compile(); err != nil {
		t.Fatalf("valid spec should compile: %v", err)
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			spec := valid
			tc.mutate(&spec)
			if _, err := spec.Compile(); err == nil {
				t.Error("expected compile error")
			}
		})
	}
}

func TestPatternCompileDefaultsCorrelationWindow(t *testing.T) {
	p, err := PatternSpec{
		Name:               "w",
		FrequencyThreshold: 1,
		TimeWindow:         Duration(time.Minute),
	}.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if p.CorrelationWindow != 5*time.Minute {
		t.Errorf("correlation window default: got %s, want 5m", p.CorrelationWindow)
	}
	if p.ID == "" {
		t.Error("compiled pattern should get an id")
	}
}

func TestPatternMatches(t *testing.T) {
	p, err := PatternSpec{
		Name:               "db-timeouts",
		Category:           CategoryIntegrationDB,
		Subcategories:      []string{"query_timeout"},
		Components:         []string{"orders"},
		MessagePatterns:    []string{`timeout after \d+ms`},
		FrequencyThreshold: 1,
		TimeWindow:         Duration(time.Minute),
	}.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	base := ErrorClassification{
		Category:    CategoryIntegrationDB,
		Subcategory: "query_timeout",
		Component:   "orders",
		Message:     "timeout after 1500ms",
	}

	tests := []struct {
		name   string
		mutate func(*ErrorClassification)
		want   bool
	}{
		{"full match", func(*ErrorClassification) {}, true},
		{"wrong category", func(c *ErrorClassification) { c.Category = CategoryWorkflow }, false},
		{"wrong subcategory", func(c *ErrorClassification) { c.Subcategory = "deadlock" }, false},
		{"wrong component", func(c *ErrorClassification) { c.Component = "billing" }, false},
		{"message mismatch", func(c *ErrorClassification) { c.Message = "connection refused" }, false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cl := base
			tc.mutate(&cl)
			if got := p.Matches(&cl); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestPatternMatchesWildcards(t *testing.T) {
	p, err := PatternSpec{
		Name:               "anything",
		FrequencyThreshold: 1,
		TimeWindow:         Duration(time.Minute),
	}.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	cl := ErrorClassification{Category: CategoryUnknown, Subcategory: "unclassified"}
	if !p.Matches(&cl) {
		t.Error("empty constraints should match everything")
	}
}

func TestLoadPatternSpecs(t *testing.T) {
	data := []byte(`
patterns:
  - name: webhook-rejections
    category: integration_webhook
    subcategories: [payload_rejected]
    frequency_threshold: 4
    time_window: 10m
    correlation_window: 2m
    notify: true
    apply_circuit_breaker: true
  - name: everything
    frequency_threshold: 1
    time_window: 30s
`)
	specs, err := LoadPatternSpecs(data)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("specs: got %d, want 2", len(specs))
	}

	first := specs[0]
	if first.Category != CategoryIntegrationWebhook {
		t.Errorf("category: got %s", first.Category)
	}
	if time.Duration(first.TimeWindow) != 10*time.Minute {
		t.Errorf("time window: got %s, want 10m", time.Duration(first.TimeWindow))
	}
	if !first.Notify || !first.ApplyCircuitBreaker || first.Escalate {
		t.Errorf("unexpected action flags: %+v", first)
	}

	if _, err := first.Compile(); err != nil {
		t.Errorf("loaded spec should compile: %v", err)
	}
}

func TestLoadPatternSpecsBadDuration(t *testing.T) {
	data := []byte(`
patterns:
  - name: broken
    frequency_threshold: 1
    time_window: not-a-duration
`)
	if _, err := LoadPatternSpecs(data); err == nil {
		t.Error("expected parse error for bad duration")
	}
}

func TestDefaultPatternSpecsCompile(t *testing.T) {
	for _, spec := range DefaultPatternSpecs() {
		if _, err := spec.Compile(); err != nil {
			t.Errorf("default pattern %q does not compile: %v", spec.Name, err)
		}
	}
}
