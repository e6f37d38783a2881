// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/aegislabs/aegis/pkg/classify"
)

func newTestFactory() *Factory {
	return NewFactory(classify.NewClassifier(classify.WithoutDefaultPatterns()))
}

func TestEngineErrorMessage(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	e := newTestFactory().ExternalService("connection_failed", "upstream unreachable", cause, "payments", 0, nil)

	msg := e.Error()
	if !strings.Contains(msg, "external_service/connection_failed") {
		t.Errorf("message should carry category/subcategory: %s", msg)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("message should carry the cause: %s", msg)
	}

	if !stderrors.Is(e, cause) {
		t.Error("Unwrap should expose the cause to errors.Is")
	}
}

func TestAsDomainError(t *testing.T) {
	de := newTestFactory().Adapter("timeout", "tool timed out", nil, "web_search", nil)

	wrapped := fmt.Errorf("call failed: %w", fmt.Errorf("inner: %w", de))
	if got := AsDomainError(wrapped); got == nil {
		t.Fatal("expected domain error through the chain")
	}

	joined := stderrors.Join(fmt.Errorf("unrelated"), de)
	if got := AsDomainError(joined); got == nil {
		t.Fatal("expected domain error through a joined chain")
	}
	multi := fmt.Errorf("both failed: %w and %w", fmt.Errorf("plain"), de)
	if got := AsDomainError(multi); got == nil {
		t.Fatal("expected domain error through a multi-wrapped chain")
	}

	if got := AsDomainError(fmt.Errorf("plain")); got != nil {
		t.Errorf("plain error should yield nil, got %v", got)
	}
	if got := AsDomainError(nil); got != nil {
		t.Errorf("nil error should yield nil, got %v", got)
	}
}

func TestWithContext(t *testing.T) {
	e := newTestFactory().Execution("step_failed", "step 3 failed", nil, "deploy", nil)
	e.WithContext("region", "eu-west-1").WithContext("attempt", "2")

	if e.Context["region"] != "eu-west-1" || e.Context["attempt"] != "2" {
		t.Errorf("context not recorded: %v", e.Context)
	}
	if e.Context[classify.ContextOperation] != "deploy" {
		t.Errorf("operation context missing: %v", e.Context)
	}
}

func TestShouldEscalate(t *testing.T) {
	f := newTestFactory()

	if !f.Resource("memory_exhausted", "oom", nil, "memory", nil).ShouldEscalate() {
		t.Error("critical resource error should escalate")
	}
	if f.UserInput("missing_field", "name required", "name", nil).ShouldEscalate() {
		t.Error("user input error should not escalate")
	}
}

func TestMarshalJSON(t *testing.T) {
	e := newTestFactory().Adapter("invalid_output", "bad payload", fmt.Errorf("parse error"), "scraper", nil)

	payload, err := json.Marshal(e.EngineError)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["category"] != "tool_execution" {
		t.Errorf("category: got %v", decoded["category"])
	}
	if decoded["subcategory"] != "invalid_output" {
		t.Errorf("subcategory: got %v", decoded["subcategory"])
	}
	if decoded["cause"] != "parse error" {
		t.Errorf("cause: got %v", decoded["cause"])
	}
	if decoded["id"] == "" {
		t.Error("id should be populated")
	}
}

func TestStatusCodes(t *testing.T) {
	f := newTestFactory()

	tests := []struct {
		name string
		err  *EngineError
		want int
	}{
		{"user input", f.UserInput("invalid_format", "bad date", "date", nil).EngineError, 400},
		{"authentication", f.Authentication("token_expired", "expired", nil, nil).EngineError, 401},
		{"external service", f.ExternalService("service_unavailable", "down", nil, "geo", 503, nil).EngineError, 502},
		{"resource", f.Resource("disk_full", "no space", nil, "disk", nil).EngineError, 500},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.err.StatusCode != tc.want {
				t.Errorf("status code: got %d, want %d", tc.err.StatusCode, tc.want)
			}
		})
	}
}
