// SPDX-License-Identifier: Apache-2.0
// Package classify turns raw failures into structured classifications and
// correlates them over time to detect systemic patterns.
package classify

import "log/slog"

// Category is the top-level failure taxonomy. The set is closed: every
// classification carries exactly one of these values.
type Category string

const (
	CategoryToolExecution      Category = "tool_execution"
	CategoryToolValidation     Category = "tool_validation"
	CategoryToolConfiguration  Category = "tool_configuration"
	CategoryToolTimeout        Category = "tool_timeout"
	CategoryAgentLifecycle     Category = "agent_lifecycle"
	CategoryAgentCommunication Category = "agent_communication"
	CategoryWorkflow           Category = "workflow"
	CategoryUserInput          Category = "user_input"
	CategoryUserSession        Category = "user_session"
	CategoryAuthentication     Category = "auth_authentication"
	CategoryAuthorization      Category = "auth_authorization"
	CategoryIntegrationAPI     Category = "integration_api"
	CategoryIntegrationDB      Category = "integration_database"
	CategoryIntegrationWebhook Category = "integration_webhook"
	CategoryExternalService    Category = "external_service"
	CategoryExternalTimeout    Category = "external_timeout"
	CategoryExternalRateLimit  Category = "external_rate_limit"
	CategorySystemResource     Category = "system_resource"
	CategorySystemNetwork      Category = "system_network"
	CategorySystemConfig       Category = "system_configuration"
	CategoryDataValidation     Category = "data_validation"
	CategoryUnknown            Category = "unknown"
)

// Categories lists every known category in declaration order.
var Categories = []Category{
	CategoryToolExecution,
	CategoryToolValidation,
	CategoryToolConfiguration,
	CategoryToolTimeout,
	CategoryAgentLifecycle,
	CategoryAgentCommunication,
	CategoryWorkflow,
	CategoryUserInput,
	CategoryUserSession,
	CategoryAuthentication,
	CategoryAuthorization,
	CategoryIntegrationAPI,
	CategoryIntegrationDB,
	CategoryIntegrationWebhook,
	CategoryExternalService,
	CategoryExternalTimeout,
	CategoryExternalRateLimit,
	CategorySystemResource,
	CategorySystemNetwork,
	CategorySystemConfig,
	CategoryDataValidation,
	CategoryUnknown,
}

// Subcategories maps each category to its known subcategory names.
// An unknown subcategory is still classified; it just misses the
// subcategory-specific inference rules.
var Subcategories = map[Category][]string{
	CategoryToolExecution:      {"execution_failed", "timeout", "invalid_output", "dependency_missing", "permission_denied"},
	CategoryToolValidation:     {"schema_mismatch", "missing_argument", "invalid_argument", "unsupported_operation"},
	CategoryToolConfiguration:  {"missing_config", "invalid_config", "version_mismatch", "registration_failed"},
	CategoryToolTimeout:        {"startup_timeout", "execution_timeout", "shutdown_timeout", "heartbeat_missed"},
	CategoryAgentLifecycle:     {"spawn_failed", "crash", "fatal_panic", "restart_loop", "shutdown_failed"},
	CategoryAgentCommunication: {"connection_failed", "message_dropped", "protocol_error", "serialization_failed"},
	CategoryWorkflow:           {"step_failed", "dependency_cycle", "state_corruption", "scheduling_conflict"},
	CategoryUserInput:          {"invalid_format", "missing_field", "out_of_range", "unsupported_value"},
	CategoryUserSession:        {"session_expired", "session_conflict", "auth_token_invalid", "concurrent_limit"},
	CategoryAuthentication:     {"credentials_invalid", "auth_service_down", "token_expired", "mfa_required"},
	CategoryAuthorization:      {"permission_denied", "security_policy_violation", "workspace_forbidden", "quota_exceeded"},
	CategoryIntegrationAPI:     {"connection_failed", "timeout", "bad_response", "contract_violation", "version_unsupported"},
	CategoryIntegrationDB:      {"connection_failed", "query_timeout", "deadlock", "data_integrity_violation", "transaction_failed"},
	CategoryIntegrationWebhook: {"delivery_failed", "signature_invalid", "endpoint_gone", "payload_rejected"},
	CategoryExternalService:    {"service_unavailable", "connection_failed", "degraded_response", "contract_changed"},
	CategoryExternalTimeout:    {"request_timeout", "read_timeout", "connect_timeout", "slow_response"},
	CategoryExternalRateLimit:  {"rate_limit_exceeded", "quota_exhausted", "throttled", "burst_rejected"},
	CategorySystemResource:     {"memory_exhausted", "disk_full", "cpu_overload", "file_handle_limit", "fatal_oom"},
	CategorySystemNetwork:      {"dns_failure", "connection_refused", "partition", "packet_loss"},
	CategorySystemConfig:       {"missing_setting", "invalid_setting", "environment_mismatch", "secret_unavailable"},
	CategoryDataValidation:     {"schema_violation", "data_corruption", "encoding_error", "constraint_violation"},
	CategoryUnknown:            {"unclassified"},
}

// KnownCategory reports whether c is part of the closed taxonomy.
func KnownCategory(c Category) bool {
	_, ok := Subcategories[c]
	return ok
}

// Severity orders failure severities from least to most severe.
type Severity int

const (
	SeverityTrace Severity = iota
	SeverityDebug
	SeverityInfo
	SeverityWarning
	SeverityError
	SeverityCritical
	SeverityFatal
)

// LevelTrace is the slog level for trace-severity events, below
// slog.LevelDebug. Consumers of severity-keyed logging share this
// constant so trace events land on one level everywhere.
const LevelTrace = slog.Level(-8)

// String returns the lowercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityTrace:
		return "trace"
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	case SeverityFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Impact describes the blast radius of a failure.
type Impact string

const (
	ImpactNone     Impact = "none"
	ImpactLow      Impact = "low"
	ImpactMedium   Impact = "medium"
	ImpactHigh     Impact = "high"
	ImpactCritical Impact = "critical"
)

// RecoveryStrategy names the reaction the engine should take.
type RecoveryStrategy string

const (
	RecoveryNone           RecoveryStrategy = "none"
	RecoveryManual         RecoveryStrategy = "manual"
	RecoveryRetry          RecoveryStrategy = "retry"
	RecoveryFallback       RecoveryStrategy = "fallback"
	RecoveryCircuitBreaker RecoveryStrategy = "circuit_breaker"
	RecoveryDegrade        RecoveryStrategy = "graceful_degradation"
)
