// SPDX-License-Identifier: Apache-2.0
// Package errors provides the typed domain error hierarchy for aegis.
// Every domain error wraps a raw failure together with the structured
// classification assigned at construction time.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/aegislabs/aegis/pkg/classify"
)

// DomainError is implemented by every error in the hierarchy. Callers
// and users only ever see UserMessage and RecoveryActions; raw messages
// stay in logs and telemetry.
type DomainError interface {
	error
	UserMessage() string
	RecoveryActions() []string
	ShouldEscalate() bool
	Classification() *classify.ErrorClassification
}

// EngineError is the base of the hierarchy. Variants embed it and add
// typed fields plus their own user-message templates.
type EngineError struct {
	ID          string
	Category    classify.Category
	Subcategory string
	Component   string
	Message     string
	Err         error
	Context     map[string]string
	Timestamp   time.Time

	// Copied from the classification for quick access.
	Recoverable bool
	Strategy    classify.RecoveryStrategy

	// StatusCode for HTTP/gRPC surfaces in the host application.
	StatusCode int

	class *classify.ErrorClassification
}

// Error implements the error interface with the internal message.
func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Category, e.Subcategory, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Category, e.Subcategory, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Classification returns the verdict assigned at construction.
func (e *EngineError) Classification() *classify.ErrorClassification {
	return e.class
}

// UserMessage returns an audience-safe summary. Variants override this
// with subcategory-specific templates.
func (e *EngineError) UserMessage() string {
	return "Something went wrong while processing your request. Please try again."
}

// RecoveryActions returns the classification's suggested actions.
func (e *EngineError) RecoveryActions() []string {
	if e.class == nil {
		return nil
	}
	return e.class.SuggestedActions
}

// ShouldEscalate reports whether this error must reach the alert manager
// regardless of local recovery.
func (e *EngineError) ShouldEscalate() bool {
	if e.class == nil {
		return false
	}
	return e.class.Severity >= classify.SeverityCritical || e.class.Impact == classify.ImpactCritical
}

// WithContext adds a key-value pair to the error context. Returns the
// error for chaining.
func (e *EngineError) WithContext(key, value string) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *EngineError) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(struct {
		ID          string            `json:"id"`
		Category    string            `json:"category"`
		Subcategory string            `json:"subcategory"`
		Component   string            `json:"component,omitempty"`
		Message     string            `json:"message"`
		Cause       string            `json:"cause,omitempty"`
		Recoverable bool              `json:"recoverable"`
		Strategy    string            `json:"strategy"`
		Context     map[string]string `json:"context,omitempty"`
		Timestamp   time.Time         `json:"timestamp"`
	}{
		ID:          e.ID,
		Category:    string(e.Category),
		Subcategory: e.Subcategory,
		Component:   e.Component,
		Message:     e.Message,
		Cause:       cause,
		Recoverable: e.Recoverable,
		Strategy:    string(e.Strategy),
		Context:     e.Context,
		Timestamp:   e.Timestamp,
	})
}

// AsDomainError extracts a DomainError from an error chain, or nil.
// Multi-wrapped chains from errors.Join are searched as well.
func AsDomainError(err error) DomainError {
	var de DomainError
	if stderrors.As(err, &de) {
		return de
	}
	return nil
}

// statusCode maps taxonomy categories to transport status codes.
func statusCode(cat classify.Category) int {
	switch cat {
	case classify.CategoryUserInput, classify.CategoryToolValidation, classify.CategoryDataValidation:
		return 400
	case classify.CategoryAuthentication, classify.CategoryUserSession:
		return 401
	case classify.CategoryAuthorization:
		return 403
	case classify.CategoryExternalRateLimit:
		return 429
	case classify.CategoryExternalTimeout, classify.CategoryToolTimeout:
		return 504
	case classify.CategoryExternalService, classify.CategoryIntegrationAPI:
		return 502
	default:
		return 500
	}
}
