package rules

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/liamcoop/eventflow/condition"
)

// PostgresStore implements Store backed by PostgreSQL, scoped to one
// project. Condition and action trees are stored as JSONB.
type PostgresStore struct {
	db        *sql.DB
	projectID string
}

func NewPostgresStore(db *sql.DB, projectID string) *PostgresStore {
	return &PostgresStore{db: db, projectID: projectID}
}

func (s *PostgresStore) Add(ctx context.Context, rule *Rule) error {
	condJSON, actionJSON, err := marshalRule(rule)
	if err != nil {
		return err
	}

	now := time.Now()
	rule.ProjectID = s.projectID
	rule.CreatedAt = now
	rule.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rules (id, project_id, name, enabled, condition, action, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, rule.ID, s.projectID, rule.Name, rule.Enabled, condJSON, actionJSON,
		rule.CreatedAt, rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, name, enabled, condition, action, created_at, updated_at
		FROM rules
		WHERE id = $1 AND project_id = $2
	`, id, s.projectID)

	rule, err := scanRule(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get rule: %w", err)
	}
	return rule, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]*Rule, error) {
	return s.list(ctx, `
		SELECT id, project_id, name, enabled, condition, action, created_at, updated_at
		FROM rules
		WHERE project_id = $1
		ORDER BY created_at ASC, id ASC
	`)
}

func (s *PostgresStore) ListEnabled(ctx context.Context) ([]*Rule, error) {
	return s.list(ctx, `
		SELECT id, project_id, name, enabled, condition, action, created_at, updated_at
		FROM rules
		WHERE project_id = $1 AND enabled = true
		ORDER BY created_at ASC, id ASC
	`)
}

func (s *PostgresStore) list(ctx context.Context, query string) ([]*Rule, error) {
	rows, err := s.db.QueryContext(ctx, query, s.projectID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	defer rows.Close()

	var out []*Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		out = append(out, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Update(ctx context.Context, rule *Rule) error {
	condJSON, actionJSON, err := marshalRule(rule)
	if err != nil {
		return err
	}

	rule.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE rules
		SET name = $1, enabled = $2, condition = $3, action = $4, updated_at = $5
		WHERE id = $6 AND project_id = $7
	`, rule.Name, rule.Enabled, condJSON, actionJSON, rule.UpdatedAt, rule.ID, s.projectID)
	if err != nil {
		return fmt.Errorf("update rule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM rules WHERE id = $1 AND project_id = $2
	`, id, s.projectID)
	if err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return nil
}

func marshalRule(rule *Rule) (condJSON, actionJSON []byte, err error) {
	condJSON, err = json.Marshal(rule.Condition)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal condition: %w", err)
	}
	actionJSON, err = json.Marshal(rule.Action)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal action: %w", err)
	}
	return condJSON, actionJSON, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (*Rule, error) {
	var r Rule
	var condJSON, actionJSON []byte
	if err := row.Scan(&r.ID, &r.ProjectID, &r.Name, &r.Enabled,
		&condJSON, &actionJSON, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}

	r.Condition = &condition.Condition{}
	if err := json.Unmarshal(condJSON, r.Condition); err != nil {
		return nil, fmt.Errorf("unmarshal condition: %w", err)
	}
	r.Action = &Action{}
	if err := json.Unmarshal(actionJSON, r.Action); err != nil {
		return nil, fmt.Errorf("unmarshal action: %w", err)
	}
	return &r, nil
}
