package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PostgresStore persists audit events in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Append(ctx context.Context, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}
	query := `
		INSERT INTO audit_events (category, occurred_at, subject, action, status, reason, request_id, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		string(event.Category), event.Timestamp, event.Subject, event.Action,
		event.Status, event.Reason, event.RequestID, details)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `
		SELECT category, occurred_at, subject, action, status, reason, request_id, details
		FROM audit_events
		WHERE subject = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, subject, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			ev      Event
			cat     string
			details []byte
		)
		if err := rows.Scan(&cat, &ev.Timestamp, &ev.Subject, &ev.Action, &ev.Status, &ev.Reason, &ev.RequestID, &details); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		ev.Category = EventCategory(cat)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &ev.Details); err != nil {
				return nil, fmt.Errorf("unmarshal audit details: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}
