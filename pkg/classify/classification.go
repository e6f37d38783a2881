// SPDX-License-Identifier: Apache-2.0

package classify

import (
	"time"
)

// Well-known context keys consumed by the classifier.
const (
	ContextCorrelationID = "correlationId"
	ContextUserID        = "userId"
	ContextWorkspaceID   = "workspaceId"
	ContextToolName      = "toolName"
	ContextOperation     = "operation"
	ContextAgentID       = "agentId"
	ContextEnvironment   = "environment"
)

// ErrorClassification is the structured verdict assigned to one failure.
// All fields except the resolution fields are immutable after Classify
// returns.
type ErrorClassification struct {
	ID          string
	Category    Category
	Subcategory string
	Severity    Severity
	Impact      Impact

	Recoverable      bool
	RecoveryStrategy RecoveryStrategy
	SuggestedActions []string

	Message   string
	Timestamp time.Time
	Component string
	Context   map[string]string

	AffectedUsers      []string
	AffectedWorkspaces []string
	AffectedTools      []string
	Tags               []string

	// Resolution fields, mutated by an out-of-band workflow.
	Resolved   bool
	ResolvedAt time.Time
	ResolvedBy string
}

// CorrelationID returns the correlation id from context, if any.
func (c *ErrorClassification) CorrelationID() string {
	return c.Context[ContextCorrelationID]
}

// HasTag reports whether the classification carries the given tag.
func (c *ErrorClassification) HasTag(tag string) bool {
	for _, t := range c.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Resolve marks the classification resolved by the given actor.
func (c *ErrorClassification) Resolve(by string) {
	c.Resolved = true
	c.ResolvedAt = time.Now().UTC()
	c.ResolvedBy = by
}
