package rules

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Store manages one project's rule collection, keyed by rule ID.
type Store interface {
	// Add inserts a new rule. IDs must be unique.
	Add(ctx context.Context, rule *Rule) error

	// Get retrieves a rule by ID, or ErrNotFound.
	Get(ctx context.Context, id string) (*Rule, error)

	// List returns every rule in insertion order.
	List(ctx context.Context) ([]*Rule, error)

	// ListEnabled returns the enabled rules in insertion order.
	ListEnabled(ctx context.Context) ([]*Rule, error)

	// Update replaces an existing rule, preserving CreatedAt.
	Update(ctx context.Context, rule *Rule) error

	// Delete removes a rule. Hard delete; history is unaffected.
	Delete(ctx context.Context, id string) error
}

// InMemoryStore implements Store with a mutex-guarded map plus an
// order slice so listings keep insertion order. Used in tests and when
// no database is configured.
type InMemoryStore struct {
	projectID string
	rules     map[string]*Rule
	order     []string
	mu        sync.RWMutex
}

func NewInMemoryStore(projectID string) *InMemoryStore {
	return &InMemoryStore{
		projectID: projectID,
		rules:     make(map[string]*Rule),
	}
}

func (s *InMemoryStore) Add(ctx context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.ProjectID = s.projectID
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	s.order = append(s.order, rule.ID)
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	cp := *rule
	return &cp, nil
}

func (s *InMemoryStore) List(ctx context.Context) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, 0, len(s.order))
	for _, id := range s.order {
		cp := *s.rules[id]
		out = append(out, &cp)
	}
	return out, nil
}

func (s *InMemoryStore) ListEnabled(ctx context.Context) ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Rule
	for _, id := range s.order {
		if r := s.rules[id]; r.Enabled {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Update(ctx context.Context, rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}

	rule.ProjectID = s.projectID
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}

	delete(s.rules, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}
