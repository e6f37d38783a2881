// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/aegislabs/aegis/pkg/classify"
)

// Factory builds domain errors. It replaces module-level singletons:
// the classifier and tracker are injected once and every constructed
// error is classified and reported through them.
type Factory struct {
	classifier *classify.Classifier
	tracker    Tracker
	logger     *slog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithTracker sets the telemetry tracker for constructed errors.
func WithTracker(t Tracker) FactoryOption {
	return func(f *Factory) {
		if t != nil {
			f.tracker = t
		}
	}
}

// WithLogger sets the factory logger.
func WithLogger(logger *slog.Logger) FactoryOption {
	return func(f *Factory) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFactory creates an error factory bound to a classifier.
func NewFactory(classifier *classify.Classifier, opts ...FactoryOption) *Factory {
	f := &Factory{
		classifier: classifier,
		tracker:    NopTracker{},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// build classifies the failure, assembles the base error and emits the
// tracking event. Construction itself stays synchronous and side-effect
// free; the emit is a non-blocking queue push, and any tracker panic is
// contained here.
func (f *Factory) build(cat classify.Category, subcat, msg string, cause error, component string, ctx map[string]string) *EngineError {
	cl := f.classifier.Classify(classify.Request{
		Category:    cat,
		Subcategory: subcat,
		Message:     msg,
		Cause:       cause,
		Component:   component,
		Context:     ctx,
	})
	e := &EngineError{
		ID:          uuid.NewString(),
		Category:    cl.Category,
		Subcategory: cl.Subcategory,
		Component:   component,
		Message:     msg,
		Err:         cause,
		Context:     cl.Context,
		Timestamp:   time.Now().UTC(),
		Recoverable: cl.Recoverable,
		Strategy:    cl.RecoveryStrategy,
		StatusCode:  statusCode(cl.Category),
		class:       cl,
	}
	f.track(e)
	return e
}

func (f *Factory) track(e *EngineError) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Warn("errors.track.panic", slog.Any("panic", r))
		}
	}()
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	f.tracker.Track(Event{
		Severity:    e.class.Severity.String(),
		Category:    string(e.Category),
		Subcategory: e.Subcategory,
		Component:   e.Component,
		Message:     e.Message,
		Cause:       cause,
		Context:     e.Context,
		Metadata:    map[string]string{"error_id": e.ID},
		Timestamp:   e.Timestamp,
	})
}

// Adapter builds an adapter error for a failing tool integration.
func (f *Factory) Adapter(subcat, msg string, cause error, toolName string, ctx map[string]string) *AdapterError {
	ctx = withContextValue(ctx, classify.ContextToolName, toolName)
	return &AdapterError{
		EngineError: f.build(classify.CategoryToolExecution, subcat, msg, cause, "adapter", ctx),
		ToolName:    toolName,
	}
}

// Execution builds an execution error for a failed operation step.
func (f *Factory) Execution(subcat, msg string, cause error, operation string, ctx map[string]string) *ExecutionError {
	ctx = withContextValue(ctx, classify.ContextOperation, operation)
	return &ExecutionError{
		EngineError: f.build(classify.CategoryWorkflow, subcat, msg, cause, "executor", ctx),
		Operation:   operation,
	}
}

// Authentication builds an authentication error.
func (f *Factory) Authentication(subcat, msg string, cause error, ctx map[string]string) *AuthenticationError {
	return &AuthenticationError{
		EngineError: f.build(classify.CategoryAuthentication, subcat, msg, cause, "auth", ctx),
	}
}

// UserInput builds a user input validation error.
func (f *Factory) UserInput(subcat, msg, field string, ctx map[string]string) *UserInputError {
	return &UserInputError{
		EngineError: f.build(classify.CategoryUserInput, subcat, msg, nil, "input", ctx),
		Field:       field,
	}
}

// Resource builds a system resource exhaustion error.
func (f *Factory) Resource(subcat, msg string, cause error, resourceType string, ctx map[string]string) *ResourceError {
	return &ResourceError{
		EngineError:  f.build(classify.CategorySystemResource, subcat, msg, cause, "system", ctx),
		ResourceType: resourceType,
	}
}

// ExternalService builds an external service error.
func (f *Factory) ExternalService(subcat, msg string, cause error, service string, httpStatus int, ctx map[string]string) *ExternalServiceError {
	e := &ExternalServiceError{
		EngineError: f.build(classify.CategoryExternalService, subcat, msg, cause, "external", ctx),
		Service:     service,
		HTTPStatus:  httpStatus,
	}
	if httpStatus > 0 {
		e.StatusCode = 502
	}
	return e
}

func withContextValue(ctx map[string]string, key, value string) map[string]string {
	if value == "" {
		return ctx
	}
	out := make(map[string]string, len(ctx)+1)
	for k, v := range ctx {
		out[k] = v
	}
	out[key] = value
	return out
}
