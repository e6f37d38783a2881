// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/aegislabs/aegis/pkg/classify"
	"github.com/aegislabs/aegis/pkg/errors"
	"github.com/aegislabs/aegis/pkg/telemetry"
)

const defaultSuppressionWindow = 5 * time.Minute

// ErrorProfile is one entry of the static error-type table consulted
// by HandleError.
type ErrorProfile struct {
	Type          string
	Severity      Severity
	AutoRetry     bool
	MaxRetries    int
	RetryDelay    time.Duration
	EscalateAfter int // occurrences before auto-escalation, 0 disables
}

// DefaultErrorProfiles maps domain error type names to their alerting
// treatment. Unknown types fall back to a warning, no auto-retry.
func DefaultErrorProfiles() map[string]ErrorProfile {
	return map[string]ErrorProfile{
		"AdapterError": {
			Type: "AdapterError", Severity: SeverityWarning,
			AutoRetry: true, MaxRetries: 3, RetryDelay: 5 * time.Second, EscalateAfter: 5,
		},
		"ExecutionError": {
			Type: "ExecutionError", Severity: SeverityError,
			AutoRetry: true, MaxRetries: 2, RetryDelay: 10 * time.Second, EscalateAfter: 3,
		},
		"AuthenticationError": {
			Type: "AuthenticationError", Severity: SeverityError,
			EscalateAfter: 3,
		},
		"UserInputError": {
			Type: "UserInputError", Severity: SeverityInfo,
		},
		"ResourceError": {
			Type: "ResourceError", Severity: SeverityCritical,
			EscalateAfter: 1,
		},
		"ExternalServiceError": {
			Type: "ExternalServiceError", Severity: SeverityWarning,
			AutoRetry: true, MaxRetries: 3, RetryDelay: 30 * time.Second, EscalateAfter: 5,
		},
	}
}

// RetryFunc is invoked asynchronously when an error profile schedules
// an automatic retry.
type RetryFunc func(ctx context.Context, alert *Alert)

// BreakAction is invoked when a pattern signal requests a circuit
// break for a component.
type BreakAction func(ctx context.Context, component string)

// Manager owns the alerts, incidents and suppression maps. All methods
// are safe for concurrent use.
type Manager struct {
	mu            sync.Mutex
	alerts        map[string]*Alert
	incidents     map[string]*Incident
	alertIncident map[string]string // alert id -> incident id
	suppressions  map[string]suppression
	occurrences   map[string]int // error type -> count, drives EscalateAfter

	rules             []AlertRule
	metricRules       []MetricRule
	profiles          map[string]ErrorProfile
	suppressionWindow time.Duration

	logger      *slog.Logger
	metrics     *telemetry.EngineMetrics
	webhook     WebhookFunc
	audit       AuditStore
	retryFunc   RetryFunc
	breakAction BreakAction
	now         func() time.Time

	sweeper *sweeper
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the manager logger.
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics wires OTel metrics recording.
func WithMetrics(metrics *telemetry.EngineMetrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithRules replaces the alert rule set. Invalid rules are dropped
// with a log record.
func WithRules(rules ...AlertRule) ManagerOption {
	return func(m *Manager) {
		kept := make([]AlertRule, 0, len(rules))
		for _, r := range rules {
			if err := validateRule(r); err != nil {
				m.logger.Warn("alerting.rule.invalid", slog.String("error", err.Error()))
				continue
			}
			kept = append(kept, r)
		}
		m.rules = kept
	}
}

// WithMetricRules sets the metric rules evaluated on each sweep.
func WithMetricRules(rules ...MetricRule) ManagerOption {
	return func(m *Manager) { m.metricRules = rules }
}

// WithErrorProfiles replaces the static error-type table.
func WithErrorProfiles(profiles map[string]ErrorProfile) ManagerOption {
	return func(m *Manager) {
		if profiles != nil {
			m.profiles = profiles
		}
	}
}

// WithWebhook sets the webhook delivery function for rule actions.
func WithWebhook(fn WebhookFunc) ManagerOption {
	return func(m *Manager) { m.webhook = fn }
}

// WithAuditStore persists alert/incident lifecycle events.
func WithAuditStore(store AuditStore) ManagerOption {
	return func(m *Manager) {
		if store != nil {
			m.audit = store
		}
	}
}

// WithSuppressionWindow sets how long identical (category, title)
// alerts are deduplicated after an active alert is created.
func WithSuppressionWindow(window time.Duration) ManagerOption {
	return func(m *Manager) {
		if window > 0 {
			m.suppressionWindow = window
		}
	}
}

// WithRetryFunc sets the callback scheduled by auto-retry profiles.
func WithRetryFunc(fn RetryFunc) ManagerOption {
	return func(m *Manager) { m.retryFunc = fn }
}

// WithBreakAction sets the callback invoked when a pattern signal
// requests a circuit break.
func WithBreakAction(fn BreakAction) ManagerOption {
	return func(m *Manager) { m.breakAction = fn }
}

// WithManagerClock injects a time source for tests.
func WithManagerClock(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// NewManager creates an alert manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		alerts:            make(map[string]*Alert),
		incidents:         make(map[string]*Incident),
		alertIncident:     make(map[string]string),
		suppressions:      make(map[string]suppression),
		occurrences:       make(map[string]int),
		profiles:          DefaultErrorProfiles(),
		suppressionWindow: defaultSuppressionWindow,
		logger:            slog.Default(),
		audit:             NewMemoryAuditStore(),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateAlert raises a new alert. Identical (category, title) alerts
// inside the suppression window come back with status suppressed; the
// first active alert for a key starts the window.
func (m *Manager) CreateAlert(ctx context.Context, severity Severity, category classify.Category, title, description, source string, alertCtx, metadata map[string]string) *Alert {
	alert := &Alert{
		ID:            uuid.NewString(),
		Timestamp:     m.now().UTC(),
		Severity:      severity,
		Category:      category,
		Title:         title,
		Description:   description,
		Source:        source,
		Context:       copyStrings(alertCtx),
		Metadata:      copyStrings(metadata),
		Status:        StatusActive,
		CorrelationID: alertCtx[classify.ContextCorrelationID],
	}

	key := suppressionKey(category, title)

	m.mu.Lock()
	if sup, ok := m.suppressions[key]; ok && m.now().Before(sup.until) {
		alert.Status = StatusSuppressed
	} else {
		m.suppressions[key] = suppression{
			until:  m.now().Add(m.suppressionWindow),
			reason: "duplicate alert window",
		}
	}
	m.alerts[alert.ID] = alert
	m.mu.Unlock()

	trace.SpanFromContext(ctx).AddEvent("alerting.alert",
		trace.WithAttributes(telemetry.AlertAttributes(
			alert.ID, string(severity), string(alert.Status), string(category))...))

	if alert.Status == StatusSuppressed {
		m.logger.Info("alerting.alert.suppressed",
			slog.String("alert_id", alert.ID),
			slog.String("key", key),
		)
		m.recordAudit(ctx, AuditEvent{
			AlertID: alert.ID, Kind: "alert", Action: "suppressed",
			Severity: string(severity), Category: string(category),
			Detail: "duplicate within suppression window", Timestamp: m.now().UTC(),
		})
		return alert
	}

	m.logger.Info("alerting.alert.created",
		slog.String("alert_id", alert.ID),
		slog.String("severity", string(severity)),
		slog.String("category", string(category)),
		slog.String("title", title),
		slog.String("source", source),
	)
	m.metrics.RecordAlert(ctx, string(severity), string(category))
	m.recordAudit(ctx, AuditEvent{
		AlertID: alert.ID, Kind: "alert", Action: "created",
		Severity: string(severity), Category: string(category),
		Detail: title, Timestamp: m.now().UTC(),
	})

	m.runRules(ctx, alert)

	if severity == SeverityCritical || severity == SeverityEmergency {
		m.EscalateAlert(ctx, alert.ID, 1)
	}
	return alert
}

// runRules executes the actions of every enabled rule matching the
// alert.
func (m *Manager) runRules(ctx context.Context, alert *Alert) {
	m.mu.Lock()
	rules := make([]AlertRule, len(m.rules))
	copy(rules, m.rules)
	m.mu.Unlock()

	for _, rule := range rules {
		if !rule.matches(alert) {
			continue
		}
		for _, action := range rule.Actions {
			switch action.Type {
			case ActionLog:
				m.logAtLevel(ctx, action.LogLevel, "alerting.rule.matched",
					slog.String("rule", rule.ID),
					slog.String("alert_id", alert.ID),
					slog.String("title", alert.Title),
				)
			case ActionEscalate:
				m.EscalateAlert(ctx, alert.ID, action.EscalateTo)
			case ActionWebhook:
				if m.webhook == nil {
					continue
				}
				if err := m.webhook(ctx, action.WebhookURL, alert); err != nil {
					m.logger.Warn("alerting.webhook.failed",
						slog.String("rule", rule.ID),
						slog.String("alert_id", alert.ID),
						slog.String("error", err.Error()),
					)
				}
			}
		}
	}
}

// EscalateAlert raises the alert's escalation level to max(current,
// level). Reaching level 2 creates an incident exactly once.
func (m *Manager) EscalateAlert(ctx context.Context, id string, level int) error {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("alert %s not found", id)
	}
	if level > alert.EscalationLevel {
		alert.EscalationLevel = level
	}
	newLevel := alert.EscalationLevel

	var incident *Incident
	if newLevel >= 2 {
		if _, linked := m.alertIncident[id]; !linked {
			incident = &Incident{
				ID:       uuid.NewString(),
				Title:    alert.Title,
				Severity: alert.Severity,
				Status:   IncidentOpen,
				AlertIDs: []string{id},
				Created:  m.now().UTC(),
				Timeline: []TimelineEntry{{
					Timestamp: m.now().UTC(),
					Action:    "created",
					Detail:    fmt.Sprintf("alert %s escalated to level %d", id, newLevel),
				}},
			}
			m.incidents[incident.ID] = incident
			m.alertIncident[id] = incident.ID
		}
	}
	m.mu.Unlock()

	m.logger.Info("alerting.alert.escalated",
		slog.String("alert_id", id),
		slog.Int("level", newLevel),
	)
	m.recordAudit(ctx, AuditEvent{
		AlertID: id, Kind: "alert", Action: "escalated",
		Detail: fmt.Sprintf("level %d", newLevel), Timestamp: m.now().UTC(),
	})

	if incident != nil {
		m.logger.Warn("alerting.incident.created",
			slog.String("incident_id", incident.ID),
			slog.String("alert_id", id),
			slog.String("severity", string(incident.Severity)),
			slog.String("title", incident.Title),
		)
		m.recordAudit(ctx, AuditEvent{
			AlertID: id, IncidentID: incident.ID, Kind: "incident", Action: "created",
			Severity: string(incident.Severity), Timestamp: m.now().UTC(),
		})
	}
	return nil
}

// HandleError maps a raw error onto the static error-type table and
// raises the corresponding alert. Critical and emergency severities
// additionally raise a secondary service impact alert, and auto-retry
// profiles schedule a delayed retry callback.
func (m *Manager) HandleError(ctx context.Context, err error, errCtx map[string]string, source string) *Alert {
	if err == nil {
		return nil
	}

	typeName := errorTypeName(err)
	profile, known := m.profiles[typeName]
	if !known {
		profile = ErrorProfile{Type: typeName, Severity: SeverityWarning}
	}

	category := classify.CategoryUnknown
	description := "unrecognized failure"
	if de := errors.AsDomainError(err); de != nil {
		if class := de.Classification(); class != nil {
			category = class.Category
			trace.SpanFromContext(ctx).AddEvent("alerting.error.classified",
				trace.WithAttributes(telemetry.ClassificationAttributes(
					class.ID, string(class.Category), class.Subcategory,
					class.Severity.String(), class.Component)...))
		}
		description = de.UserMessage()
	}

	primary := m.CreateAlert(ctx, profile.Severity, category, typeName, description, source, errCtx, nil)

	if profile.Severity == SeverityCritical || profile.Severity == SeverityEmergency {
		m.CreateAlert(ctx, profile.Severity, category, "service impact: "+typeName,
			"potential service degradation from "+typeName, source, errCtx,
			map[string]string{"primary_alert": primary.ID})
	}

	if profile.EscalateAfter > 0 {
		m.mu.Lock()
		m.occurrences[typeName]++
		count := m.occurrences[typeName]
		m.mu.Unlock()
		if count >= profile.EscalateAfter {
			m.EscalateAlert(ctx, primary.ID, 1)
		}
	}

	if profile.AutoRetry && m.retryFunc != nil {
		delay := profile.RetryDelay
		if delay <= 0 {
			delay = 5 * time.Second
		}
		m.logger.Debug("alerting.retry.scheduled",
			slog.String("alert_id", primary.ID),
			slog.Duration("delay", delay),
		)
		time.AfterFunc(delay, func() {
			m.retryFunc(context.WithoutCancel(ctx), primary)
		})
	}
	return primary
}

// ConsumePatternSignal reacts to a fired classifier pattern: notify
// raises an alert, escalate and incident raise its level, and circuit
// break invokes the configured break action.
func (m *Manager) ConsumePatternSignal(ctx context.Context, sig classify.PatternSignal) {
	severity := SeverityWarning
	if sig.CreateIncident || sig.ApplyCircuitBreaker {
		severity = SeverityCritical
	}

	component := ""
	alertCtx := map[string]string{
		"pattern":     sig.Pattern,
		"match_count": fmt.Sprintf("%d", sig.MatchCount),
	}
	if sig.Classification != nil {
		component = sig.Classification.Component
		alertCtx["component"] = component
		if cid := sig.Classification.CorrelationID(); cid != "" {
			alertCtx[classify.ContextCorrelationID] = cid
		}
	}

	m.logger.Warn("alerting.pattern.signal",
		slog.String("pattern", sig.Pattern),
		slog.Int("match_count", sig.MatchCount),
		slog.String("category", string(sig.Category)),
	)
	trace.SpanFromContext(ctx).AddEvent("alerting.pattern.signal",
		trace.WithAttributes(telemetry.PatternAttributes(sig.Pattern, sig.MatchCount)...))

	var alert *Alert
	if sig.Notify || sig.Escalate || sig.CreateIncident {
		alert = m.CreateAlert(ctx, severity, sig.Category,
			"pattern detected: "+sig.Pattern,
			fmt.Sprintf("%d matching failures within %s", sig.MatchCount, sig.Window),
			"pattern-detector", alertCtx, nil)
	}
	if alert != nil && sig.Escalate {
		m.EscalateAlert(ctx, alert.ID, 1)
	}
	if alert != nil && sig.CreateIncident {
		m.EscalateAlert(ctx, alert.ID, 2)
	}
	if sig.ApplyCircuitBreaker && m.breakAction != nil {
		m.breakAction(ctx, component)
	}
}

// Acknowledge moves an active alert to acknowledged, recording the
// actor.
func (m *Manager) Acknowledge(ctx context.Context, id, actor string) error {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("alert %s not found", id)
	}
	if alert.Status == StatusResolved {
		m.mu.Unlock()
		return fmt.Errorf("alert %s is already resolved", id)
	}
	alert.Status = StatusAcknowledged
	alert.AcknowledgedBy = actor
	alert.AcknowledgedAt = m.now().UTC()
	m.mu.Unlock()

	m.logger.Info("alerting.alert.acknowledged",
		slog.String("alert_id", id),
		slog.String("actor", actor),
	)
	m.recordAudit(ctx, AuditEvent{
		AlertID: id, Kind: "alert", Action: "acknowledged",
		Actor: actor, Timestamp: m.now().UTC(),
	})
	return nil
}

// Suppress time-boxes an alert and its (category, title) key so
// repeats stay quiet until the window passes.
func (m *Manager) Suppress(ctx context.Context, id string, window time.Duration, reason string) error {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("alert %s not found", id)
	}
	if alert.Status == StatusResolved {
		m.mu.Unlock()
		return fmt.Errorf("alert %s is already resolved", id)
	}
	alert.Status = StatusSuppressed
	m.suppressions[suppressionKey(alert.Category, alert.Title)] = suppression{
		until:  m.now().Add(window),
		reason: reason,
	}
	m.mu.Unlock()

	m.logger.Info("alerting.alert.suppress",
		slog.String("alert_id", id),
		slog.Duration("window", window),
		slog.String("reason", reason),
	)
	m.recordAudit(ctx, AuditEvent{
		AlertID: id, Kind: "alert", Action: "suppressed",
		Detail: reason, Timestamp: m.now().UTC(),
	})
	return nil
}

// Resolve terminates an alert with an optional resolution note.
func (m *Manager) Resolve(ctx context.Context, id, note string) error {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("alert %s not found", id)
	}
	alert.Status = StatusResolved
	alert.ResolvedAt = m.now().UTC()
	alert.Resolution = note
	m.mu.Unlock()

	m.logger.Info("alerting.alert.resolved",
		slog.String("alert_id", id),
		slog.String("note", note),
	)
	m.recordAudit(ctx, AuditEvent{
		AlertID: id, Kind: "alert", Action: "resolved",
		Detail: note, Timestamp: m.now().UTC(),
	})
	return nil
}

// UpdateIncident advances an incident's status and appends a timeline
// entry.
func (m *Manager) UpdateIncident(ctx context.Context, id string, status IncidentStatus, actor, detail string) error {
	m.mu.Lock()
	incident, ok := m.incidents[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("incident %s not found", id)
	}
	incident.Status = status
	incident.Timeline = append(incident.Timeline, TimelineEntry{
		Timestamp: m.now().UTC(),
		Action:    string(status),
		Actor:     actor,
		Detail:    detail,
	})
	m.mu.Unlock()

	m.logger.Info("alerting.incident.updated",
		slog.String("incident_id", id),
		slog.String("status", string(status)),
		slog.String("actor", actor),
	)
	m.recordAudit(ctx, AuditEvent{
		IncidentID: id, Kind: "incident", Action: string(status),
		Actor: actor, Detail: detail, Timestamp: m.now().UTC(),
	})
	return nil
}

// GetAlert returns a copy of one alert.
func (m *Manager) GetAlert(id string) (Alert, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return Alert{}, false
	}
	return *alert, true
}

// ActiveAlerts returns copies of all alerts with status active.
func (m *Manager) ActiveAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if alert.Status == StatusActive {
			out = append(out, *alert)
		}
	}
	return out
}

// GetIncident returns a copy of one incident.
func (m *Manager) GetIncident(id string) (Incident, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	incident, ok := m.incidents[id]
	if !ok {
		return Incident{}, false
	}
	return copyIncident(incident), true
}

// Incidents returns copies of all incidents.
func (m *Manager) Incidents() []Incident {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Incident, 0, len(m.incidents))
	for _, incident := range m.incidents {
		out = append(out, copyIncident(incident))
	}
	return out
}

// IncidentForAlert returns the incident id an alert is linked to.
func (m *Manager) IncidentForAlert(alertID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.alertIncident[alertID]
	return id, ok
}

// recordAudit persists a lifecycle event; failures are logged, never
// propagated.
func (m *Manager) recordAudit(ctx context.Context, event AuditEvent) {
	if err := m.audit.Record(ctx, event); err != nil {
		m.logger.Warn("alerting.audit.failed",
			slog.String("action", event.Action),
			slog.String("error", err.Error()),
		)
	}
}

func (m *Manager) logAtLevel(ctx context.Context, level, msg string, attrs ...slog.Attr) {
	var l slog.Level
	switch strings.ToLower(level) {
	case "debug":
		l = slog.LevelDebug
	case "warn", "warning":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	m.logger.LogAttrs(ctx, l, msg, attrs...)
}

// errorTypeName yields the table key for an error: the concrete domain
// error type when present, "unknown" otherwise.
func errorTypeName(err error) string {
	de := errors.AsDomainError(err)
	if de == nil {
		return "unknown"
	}
	name := fmt.Sprintf("%T", de)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func copyStrings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyIncident(in *Incident) Incident {
	out := *in
	out.AlertIDs = append([]string(nil), in.AlertIDs...)
	out.Timeline = append([]TimelineEntry(nil), in.Timeline...)
	return out
}
