package engine

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/liamcoop/eventflow/condition"
	"github.com/liamcoop/eventflow/dispatch"
	"github.com/liamcoop/eventflow/eventstore"
	"github.com/liamcoop/eventflow/notify"
	"github.com/liamcoop/eventflow/rules"
)

// ManagerConfig carries the process-wide collaborators shared by every
// project engine. Projects get their own stores and recent-event
// window; the evaluator, dispatcher and publisher are shared.
type ManagerConfig struct {
	// DB is optional. When nil every project runs on in-memory stores.
	DB         *sql.DB
	Evaluator  *condition.Evaluator
	Dispatcher *dispatch.Dispatcher
	Publisher  *notify.Publisher
	WindowSize int
	Logger     *slog.Logger
}

// Manager holds one Engine per project, created on first use.
type Manager struct {
	mu      sync.RWMutex
	engines map[string]*Engine

	db         *sql.DB
	evaluator  *condition.Evaluator
	dispatcher *dispatch.Dispatcher
	publisher  *notify.Publisher
	windowSize int
	log        *slog.Logger
}

func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Manager{
		engines:    make(map[string]*Engine),
		db:         cfg.DB,
		evaluator:  cfg.Evaluator,
		dispatcher: cfg.Dispatcher,
		publisher:  cfg.Publisher,
		windowSize: cfg.WindowSize,
		log:        cfg.Logger,
	}
}

// Engine returns the project's engine, creating it on first use. With
// a database configured the project row is upserted so restarts can
// rediscover it via LoadProjects.
func (m *Manager) Engine(ctx context.Context, projectID string) (*Engine, error) {
	if projectID == "" {
		return nil, fmt.Errorf("project id required")
	}

	m.mu.RLock()
	e, ok := m.engines[projectID]
	m.mu.RUnlock()
	if ok {
		return e, nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engines[projectID]; ok {
		return e, nil
	}

	var (
		ruleStore  rules.Store
		eventStore eventstore.Store
	)
	if m.db != nil {
		if _, err := m.db.ExecContext(ctx, `
			INSERT INTO projects (id, created_at)
			VALUES ($1, NOW())
			ON CONFLICT (id) DO NOTHING
		`, projectID); err != nil {
			return nil, fmt.Errorf("register project %s: %w", projectID, err)
		}
		ruleStore = rules.NewPostgresStore(m.db, projectID)
		eventStore = eventstore.NewPostgresStore(m.db, projectID)
	} else {
		ruleStore = rules.NewInMemoryStore(projectID)
		eventStore = eventstore.NewInMemoryStore(projectID)
	}

	e = New(Config{
		ProjectID:  projectID,
		Store:      ruleStore,
		Events:     eventStore,
		Evaluator:  m.evaluator,
		Dispatcher: m.dispatcher,
		Publisher:  m.publisher,
		WindowSize: m.windowSize,
		Logger:     m.log,
	})
	m.engines[projectID] = e
	m.log.Info("project engine created", "project", projectID)
	return e, nil
}

// LoadProjects initializes an engine for every known project so rules
// evaluate from the first event after a restart.
func (m *Manager) LoadProjects(ctx context.Context) error {
	if m.db == nil {
		return nil
	}

	rows, err := m.db.QueryContext(ctx, `SELECT id FROM projects ORDER BY created_at`)
	if err != nil {
		return fmt.Errorf("load projects: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("scan project row: %w", err)
		}
		if _, err := m.Engine(ctx, id); err != nil {
			return err
		}
		loaded++
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate project rows: %w", err)
	}

	m.log.Info("projects loaded", "count", loaded)
	return nil
}

// Projects returns the loaded project IDs.
func (m *Manager) Projects() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.engines))
	for id := range m.engines {
		ids = append(ids, id)
	}
	return ids
}
