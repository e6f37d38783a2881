// SPDX-License-Identifier: Apache-2.0

package alerting

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

// SQLiteAuditStore persists alert and incident lifecycle events in
// SQLite.
type SQLiteAuditStore struct {
	db *sql.DB
}

// NewSQLiteAuditStore creates a SQLite-backed audit store and ensures
// schema.
func NewSQLiteAuditStore(db *sql.DB) (*SQLiteAuditStore, error) {
	if db == nil {
		return nil, errors.New("db is nil")
	}
	if err := ensureAlertAuditSchema(db); err != nil {
		return nil, err
	}
	return &SQLiteAuditStore{db: db}, nil
}

// Record stores a single audit event.
func (s *SQLiteAuditStore) Record(ctx context.Context, event AuditEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_audit_events (
			alert_id, incident_id, kind, action, actor, detail, severity, category, occurred_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		event.AlertID,
		event.IncidentID,
		event.Kind,
		event.Action,
		event.Actor,
		event.Detail,
		event.Severity,
		event.Category,
		normalizeAuditTime(event.Timestamp),
	)
	return err
}

// List returns audit events matching the filter.
func (s *SQLiteAuditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error) {
	query := `
		SELECT alert_id, incident_id, kind, action, actor, detail, severity, category, occurred_at
		FROM alert_audit_events
	`
	var args []any
	where := ""
	addFilter := func(clause string, value any) {
		if where == "" {
			where = " WHERE " + clause
		} else {
			where += " AND " + clause
		}
		args = append(args, value)
	}
	if filter.AlertID != "" {
		addFilter("alert_id = ?", filter.AlertID)
	}
	if filter.IncidentID != "" {
		addFilter("incident_id = ?", filter.IncidentID)
	}
	if filter.Kind != "" {
		addFilter("kind = ?", filter.Kind)
	}
	if filter.Action != "" {
		addFilter("action = ?", filter.Action)
	}
	query += where + " ORDER BY occurred_at ASC, rowid ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []AuditEvent
	for rows.Next() {
		var (
			event    AuditEvent
			occurred sql.NullTime
		)
		if err := rows.Scan(
			&event.AlertID,
			&event.IncidentID,
			&event.Kind,
			&event.Action,
			&event.Actor,
			&event.Detail,
			&event.Severity,
			&event.Category,
			&occurred,
		); err != nil {
			return nil, err
		}
		if occurred.Valid {
			event.Timestamp = occurred.Time
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func ensureAlertAuditSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS alert_audit_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			alert_id TEXT,
			incident_id TEXT,
			kind TEXT NOT NULL,
			action TEXT NOT NULL,
			actor TEXT,
			detail TEXT,
			severity TEXT,
			category TEXT,
			occurred_at TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_alert_audit_alert ON alert_audit_events(alert_id);
		CREATE INDEX IF NOT EXISTS idx_alert_audit_incident ON alert_audit_events(incident_id);
		CREATE INDEX IF NOT EXISTS idx_alert_audit_action ON alert_audit_events(action);
	`)
	return err
}
