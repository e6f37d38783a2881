// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"context"
	"sync"
	"time"
)

// AuditEvent is one alert or incident lifecycle event.
type AuditEvent struct {
	AlertID    string
	IncidentID string
	Kind       string // "alert" or "incident"
	Action     string // "created", "escalated", "acknowledged", ...
	Actor      string
	Detail     string
	Severity   string
	Category   string
	Timestamp  time.Time
}

// AuditFilter limits audit event queries.
type AuditFilter struct {
	AlertID    string
	IncidentID string
	Kind       string
	Action     string
	Limit      int
}

// AuditStore persists alert and incident lifecycle events.
type AuditStore interface {
	Record(ctx context.Context, event AuditEvent) error
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
}

// MemoryAuditStore keeps audit events in memory.
type MemoryAuditStore struct {
	mu     sync.Mutex
	events []AuditEvent
}

// NewMemoryAuditStore returns an in-memory audit store.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{}
}

// Record appends an audit event.
func (s *MemoryAuditStore) Record(_ context.Context, event AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

// List returns filtered audit events.
func (s *MemoryAuditStore) List(_ context.Context, filter AuditFilter) ([]AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditEvent, 0, len(s.events))
	for _, ev := range s.events {
		if filter.AlertID != "" && ev.AlertID != filter.AlertID {
			continue
		}
		if filter.IncidentID != "" && ev.IncidentID != filter.IncidentID {
			continue
		}
		if filter.Kind != "" && ev.Kind != filter.Kind {
			continue
		}
		if filter.Action != "" && ev.Action != filter.Action {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// normalizeAuditTime ensures timestamps are in UTC.
func normalizeAuditTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
