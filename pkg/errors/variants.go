// SPDX-License-Identifier: Apache-2.0

package errors

import "fmt"

// AdapterError reports a failing tool integration.
type AdapterError struct {
	*EngineError
	ToolName string
}

// UserMessage implements DomainError with adapter-specific templates.
func (e *AdapterError) UserMessage() string {
	switch e.Subcategory {
	case "timeout", "execution_timeout":
		return fmt.Sprintf("The %s tool took too long to respond. Please try again.", e.ToolName)
	case "dependency_missing":
		return fmt.Sprintf("The %s tool is missing a required dependency and is temporarily unavailable.", e.ToolName)
	case "permission_denied":
		return fmt.Sprintf("You do not have permission to use the %s tool.", e.ToolName)
	case "invalid_output":
		return fmt.Sprintf("The %s tool returned an unexpected result. The team has been notified.", e.ToolName)
	default:
		return fmt.Sprintf("The %s tool failed to complete your request. Please try again.", e.ToolName)
	}
}

// ExecutionError reports a failed workflow or operation step.
type ExecutionError struct {
	*EngineError
	Operation string
}

// UserMessage implements DomainError.
func (e *ExecutionError) UserMessage() string {
	switch e.Subcategory {
	case "step_failed":
		return "A step of your request could not be completed. Partial results may be available."
	case "dependency_cycle":
		return "Your request contains steps that depend on each other and cannot be ordered."
	case "scheduling_conflict":
		return "Your request conflicts with another operation in progress. Please retry shortly."
	default:
		return "Your request could not be completed. Please try again."
	}
}

// AuthenticationError reports a failed authentication attempt.
type AuthenticationError struct {
	*EngineError
}

// UserMessage implements DomainError. It never reveals which part of
// the credentials failed.
func (e *AuthenticationError) UserMessage() string {
	switch e.Subcategory {
	case "token_expired":
		return "Your session has expired. Please sign in again."
	case "mfa_required":
		return "Additional verification is required to continue."
	case "auth_service_down":
		return "Sign-in is temporarily unavailable. Please try again in a few minutes."
	default:
		return "We could not verify your identity. Please check your credentials and try again."
	}
}

// UserInputError reports invalid caller-supplied input.
type UserInputError struct {
	*EngineError
	Field string
}

// UserMessage implements DomainError.
func (e *UserInputError) UserMessage() string {
	switch e.Subcategory {
	case "missing_field":
		return fmt.Sprintf("The required field %q is missing.", e.Field)
	case "out_of_range":
		return fmt.Sprintf("The value for %q is outside the allowed range.", e.Field)
	case "unsupported_value":
		return fmt.Sprintf("The value for %q is not supported.", e.Field)
	case "invalid_format":
		return fmt.Sprintf("The field %q has an invalid format.", e.Field)
	default:
		return "Part of your input is invalid. Please review and resubmit."
	}
}

// ResourceError reports exhaustion of a system resource.
type ResourceError struct {
	*EngineError
	ResourceType string
}

// UserMessage implements DomainError.
func (e *ResourceError) UserMessage() string {
	switch e.Subcategory {
	case "memory_exhausted", "fatal_oom":
		return "The system is under heavy load. Please try again in a few minutes."
	case "disk_full":
		return "Storage capacity has been reached. The team has been notified."
	default:
		return "A system resource limit was reached. Please try again later."
	}
}

// ExternalServiceError reports a failing downstream service.
type ExternalServiceError struct {
	*EngineError
	Service    string
	HTTPStatus int
}

// UserMessage implements DomainError.
func (e *ExternalServiceError) UserMessage() string {
	switch e.Subcategory {
	case "service_unavailable":
		return fmt.Sprintf("The %s service is temporarily unavailable. Please try again shortly.", e.Service)
	case "degraded_response":
		return fmt.Sprintf("The %s service responded with reduced quality. Results may be incomplete.", e.Service)
	case "connection_failed":
		return fmt.Sprintf("We could not reach the %s service. Please try again.", e.Service)
	default:
		return fmt.Sprintf("An external service (%s) failed while handling your request.", e.Service)
	}
}
