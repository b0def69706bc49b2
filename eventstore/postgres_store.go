package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/eventflow/event"
	"github.com/liamcoop/eventflow/rules"
)

// PostgresStore implements Store backed by PostgreSQL, scoped to one
// project. The event row and its result rows are written in a single
// transaction so readers never see a partial append.
type PostgresStore struct {
	db        *sql.DB
	projectID string
}

func NewPostgresStore(db *sql.DB, projectID string) *PostgresStore {
	return &PostgresStore{db: db, projectID: projectID}
}

func (s *PostgresStore) StoreTriggeredEvent(ctx context.Context, ev *event.Event, results []rules.ExecutionResult) error {
	successes := successOnly(results)
	if len(successes) == 0 {
		return nil
	}

	payloadJSON, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, project_id, name, "group", source, topic, payload, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, ev.ID, s.projectID, ev.Name, ev.Group, ev.Source, ev.Topic,
		payloadJSON, ev.CorrelationID, ev.Timestamp)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	for _, r := range successes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO event_results (event_id, rule_id, success, error, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, ev.ID, r.RuleID, r.Success, r.Error, r.Timestamp)
		if err != nil {
			return fmt.Errorf("insert result: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *PostgresStore) Search(ctx context.Context, query string, limit int) ([]*TriggeredEvent, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	pattern := "%" + query + "%"
	return s.query(ctx, `
		SELECT id, name, "group", source, topic, payload, correlation_id, created_at
		FROM events
		WHERE project_id = $1 AND (name ILIKE $2 OR payload::text ILIKE $2)
		ORDER BY created_at DESC
		LIMIT $3
	`, s.projectID, pattern, limit)
}

func (s *PostgresStore) ByDateRange(ctx context.Context, start, end time.Time) ([]*TriggeredEvent, error) {
	return s.query(ctx, `
		SELECT id, name, "group", source, topic, payload, correlation_id, created_at
		FROM events
		WHERE project_id = $1 AND created_at >= $2 AND created_at <= $3
		ORDER BY created_at ASC
	`, s.projectID, start, end)
}

func (s *PostgresStore) Latest(ctx context.Context, limit int) ([]*TriggeredEvent, error) {
	if limit <= 0 {
		limit = DefaultLatestLimit
	}
	return s.query(ctx, `
		SELECT id, name, "group", source, topic, payload, correlation_id, created_at
		FROM events
		WHERE project_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, s.projectID, limit)
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]*TriggeredEvent, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []*TriggeredEvent
	for rows.Next() {
		var ev event.Event
		var payloadJSON []byte
		if err := rows.Scan(&ev.ID, &ev.Name, &ev.Group, &ev.Source, &ev.Topic,
			&payloadJSON, &ev.CorrelationID, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
			return nil, fmt.Errorf("unmarshal payload: %w", err)
		}
		ev.ProjectID = s.projectID
		out = append(out, &TriggeredEvent{Event: &ev})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}

	for _, te := range out {
		results, err := s.loadResults(ctx, te.Event.ID)
		if err != nil {
			return nil, err
		}
		te.Results = results
	}
	return out, nil
}

func (s *PostgresStore) loadResults(ctx context.Context, eventID string) ([]rules.ExecutionResult, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT rule_id, success, error, created_at
		FROM event_results
		WHERE event_id = $1
		ORDER BY created_at ASC
	`, eventID)
	if err != nil {
		return nil, fmt.Errorf("query results: %w", err)
	}
	defer rows.Close()

	var out []rules.ExecutionResult
	for rows.Next() {
		r := rules.ExecutionResult{EventID: eventID}
		if err := rows.Scan(&r.RuleID, &r.Success, &r.Error, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
