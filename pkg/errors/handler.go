// SPDX-License-Identifier: Apache-2.0

package errors

import (
	"context"
	"log/slog"
	"runtime/debug"

	"github.com/aegislabs/aegis/pkg/classify"
)

// HandleResult is the outcome of running an error through the handler.
type HandleResult struct {
	Processed       bool
	Recovered       bool
	UserMessage     string
	RecoveryActions []string
	ShouldEscalate  bool
}

// RecoveryFunc attempts programmatic recovery for one strategy. It
// returns true when the error was recovered.
type RecoveryFunc func(ctx context.Context, err DomainError) bool

// Handler is the universal error handler: it routes errors through a
// severity-keyed processor and, for recoverable errors, a strategy-keyed
// recovery function. It never panics and never returns an error itself.
type Handler struct {
	logger     *slog.Logger
	recoverers map[classify.RecoveryStrategy]RecoveryFunc
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the handler logger.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithRecoveryFunc overrides the recovery function for one strategy.
// The recovery orchestrator wires itself in through this hook.
func WithRecoveryFunc(strategy classify.RecoveryStrategy, fn RecoveryFunc) HandlerOption {
	return func(h *Handler) { h.recoverers[strategy] = fn }
}

// NewHandler builds a handler with default recovery dispatch: automatic
// strategies log their delegation and report recovered; manual and none
// only log and report not recovered.
func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		logger:     slog.Default(),
		recoverers: make(map[classify.RecoveryStrategy]RecoveryFunc),
	}
	for _, strategy := range []classify.RecoveryStrategy{
		classify.RecoveryRetry,
		classify.RecoveryFallback,
		classify.RecoveryCircuitBreaker,
		classify.RecoveryDegrade,
	} {
		s := strategy
		h.recoverers[s] = func(ctx context.Context, err DomainError) bool {
			h.logger.Info("handler.recovery.delegated",
				slog.String("strategy", string(s)),
				slog.String("category", string(err.Classification().Category)),
			)
			return true
		}
	}
	for _, strategy := range []classify.RecoveryStrategy{classify.RecoveryManual, classify.RecoveryNone} {
		s := strategy
		h.recoverers[s] = func(ctx context.Context, err DomainError) bool {
			h.logger.Info("handler.recovery.unavailable",
				slog.String("strategy", string(s)),
				slog.String("category", string(err.Classification().Category)),
			)
			return false
		}
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// HandleError processes any error. Domain errors are logged at their
// classified severity and routed through recovery; unknown errors get a
// safe generic response. A failure inside the pipeline degrades to a
// safe default rather than propagating.
func (h *Handler) HandleError(ctx context.Context, err error) (result HandleResult) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("handler.pipeline.panic",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			result = HandleResult{
				Processed:      false,
				Recovered:      false,
				UserMessage:    "An unexpected error occurred. Please try again.",
				ShouldEscalate: true,
			}
		}
	}()

	if err == nil {
		return HandleResult{Processed: true}
	}

	de := AsDomainError(err)
	if de == nil {
		h.logger.Error("handler.unclassified", slog.String("error", err.Error()))
		return HandleResult{
			Processed:      true,
			UserMessage:    "An unexpected error occurred. Please try again.",
			ShouldEscalate: false,
		}
	}

	cl := de.Classification()
	h.process(ctx, de, cl)

	recovered := false
	if cl.Recoverable {
		if fn, ok := h.recoverers[cl.RecoveryStrategy]; ok {
			recovered = fn(ctx, de)
		}
	}

	return HandleResult{
		Processed:       true,
		Recovered:       recovered,
		UserMessage:     de.UserMessage(),
		RecoveryActions: de.RecoveryActions(),
		ShouldEscalate:  de.ShouldEscalate(),
	}
}

// process logs the error at its classified severity with increasing
// context; critical and fatal additionally capture the stack.
func (h *Handler) process(ctx context.Context, de DomainError, cl *classify.ErrorClassification) {
	attrs := []any{
		slog.String("category", string(cl.Category)),
		slog.String("subcategory", cl.Subcategory),
		slog.String("component", cl.Component),
		slog.String("severity", cl.Severity.String()),
	}
	switch cl.Severity {
	case classify.SeverityTrace:
		h.logger.Log(ctx, classify.LevelTrace, "handler.error", attrs...)
	case classify.SeverityDebug:
		h.logger.DebugContext(ctx, "handler.error", attrs...)
	case classify.SeverityInfo:
		h.logger.InfoContext(ctx, "handler.error", attrs...)
	case classify.SeverityWarning:
		attrs = append(attrs, slog.String("impact", string(cl.Impact)))
		h.logger.WarnContext(ctx, "handler.error", attrs...)
	case classify.SeverityError:
		attrs = append(attrs,
			slog.String("impact", string(cl.Impact)),
			slog.String("error", de.Error()),
		)
		h.logger.ErrorContext(ctx, "handler.error", attrs...)
	default: // critical, fatal
		attrs = append(attrs,
			slog.String("impact", string(cl.Impact)),
			slog.String("error", de.Error()),
			slog.String("stack", string(debug.Stack())),
		)
		h.logger.ErrorContext(ctx, "handler.error.severe", attrs...)
	}
}
