// SPDX-License-Identifier: Apache-2.0

// Package alerting manages alerts and incidents raised from classified
// failures: suppression, rule-driven actions, escalation and the
// periodic sweep that keeps the alert surface current.
package alerting

import (
	"time"

	"github.com/aegislabs/aegis/pkg/classify"
)

// Severity grades an alert. It is deliberately separate from the
// classification severity scale; emergency has no classification
// counterpart.
type Severity string

const (
	SeverityInfo      Severity = "info"
	SeverityWarning   Severity = "warning"
	SeverityError     Severity = "error"
	SeverityCritical  Severity = "critical"
	SeverityEmergency Severity = "emergency"
)

// rank orders severities for comparisons. Unknown values rank lowest.
func (s Severity) rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityError:
		return 2
	case SeverityCritical:
		return 3
	case SeverityEmergency:
		return 4
	default:
		return -1
	}
}

// Status is the alert lifecycle state.
type Status string

const (
	StatusActive       Status = "active"
	StatusAcknowledged Status = "acknowledged"
	StatusResolved     Status = "resolved"
	StatusSuppressed   Status = "suppressed"
)

// Alert is a single raised condition. EscalationLevel only ever moves
// up.
type Alert struct {
	ID              string
	Timestamp       time.Time
	Severity        Severity
	Category        classify.Category
	Title           string
	Description     string
	Source          string
	Context         map[string]string
	Metadata        map[string]string
	Status          Status
	EscalationLevel int
	CorrelationID   string

	AcknowledgedBy string
	AcknowledgedAt time.Time
	ResolvedAt     time.Time
	Resolution     string
}

// suppressionKey identifies the suppression table entry an alert is
// checked against.
func suppressionKey(category classify.Category, title string) string {
	return string(category) + ":" + title
}

// IncidentStatus is the incident lifecycle state.
type IncidentStatus string

const (
	IncidentOpen          IncidentStatus = "open"
	IncidentInvestigating IncidentStatus = "investigating"
	IncidentMitigating    IncidentStatus = "mitigating"
	IncidentResolved      IncidentStatus = "resolved"
)

// TimelineEntry is one append-only incident timeline record.
type TimelineEntry struct {
	Timestamp time.Time
	Action    string
	Actor     string
	Detail    string
}

// Incident aggregates repeated escalations of one or more alerts.
type Incident struct {
	ID       string
	Title    string
	Severity Severity
	Status   IncidentStatus
	AlertIDs []string
	Timeline []TimelineEntry
	Impact   string
	Created  time.Time
}

// suppression is one entry in the suppression table.
type suppression struct {
	until  time.Time
	reason string
}
