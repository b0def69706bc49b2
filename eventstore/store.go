// Package eventstore keeps the append-only history of events that
// triggered at least one rule.
package eventstore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/liamcoop/eventflow/event"
	"github.com/liamcoop/eventflow/rules"
)

const (
	// DefaultSearchLimit bounds text searches when the caller passes 0.
	DefaultSearchLimit = 10
	// DefaultLatestLimit bounds latest-N queries when the caller passes 0.
	DefaultLatestLimit = 50
)

// TriggeredEvent pairs a stored event with the successful execution
// results that caused it to be retained.
type TriggeredEvent struct {
	Event   *event.Event            `json:"event"`
	Results []rules.ExecutionResult `json:"results"`
}

// Store is one project's triggered-event history. Appends are atomic:
// a concurrent read never observes a partially written event.
type Store interface {
	// StoreTriggeredEvent persists the event with its successful
	// results. With zero successful results it is a silent no-op.
	StoreTriggeredEvent(ctx context.Context, ev *event.Event, results []rules.ExecutionResult) error

	// Search does a best-effort substring match over event name and
	// payload, most-recent-first.
	Search(ctx context.Context, query string, limit int) ([]*TriggeredEvent, error)

	// ByDateRange returns events with start <= timestamp <= end in
	// chronological order.
	ByDateRange(ctx context.Context, start, end time.Time) ([]*TriggeredEvent, error)

	// Latest returns the most recent events, most-recent-first.
	Latest(ctx context.Context, limit int) ([]*TriggeredEvent, error)
}

// successOnly filters results down to the successful ones.
func successOnly(results []rules.ExecutionResult) []rules.ExecutionResult {
	var out []rules.ExecutionResult
	for _, r := range results {
		if r.Success {
			out = append(out, r)
		}
	}
	return out
}

// InMemoryStore implements Store with a mutex-guarded append slice.
type InMemoryStore struct {
	projectID string
	entries   []*TriggeredEvent
	mu        sync.RWMutex
}

func NewInMemoryStore(projectID string) *InMemoryStore {
	return &InMemoryStore{projectID: projectID}
}

func (s *InMemoryStore) StoreTriggeredEvent(ctx context.Context, ev *event.Event, results []rules.ExecutionResult) error {
	successes := successOnly(results)
	if len(successes) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, &TriggeredEvent{Event: ev, Results: successes})
	return nil
}

func (s *InMemoryStore) Search(ctx context.Context, query string, limit int) ([]*TriggeredEvent, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	q := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*TriggeredEvent
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		e := s.entries[i]
		if strings.Contains(strings.ToLower(e.Event.Name), q) || payloadContains(e.Event.Payload, q) {
			out = append(out, e)
		}
	}
	return out, nil
}

func payloadContains(payload map[string]any, q string) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(data)), q)
}

func (s *InMemoryStore) ByDateRange(ctx context.Context, start, end time.Time) ([]*TriggeredEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*TriggeredEvent
	for _, e := range s.entries {
		ts := e.Event.Timestamp
		if !ts.Before(start) && !ts.After(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *InMemoryStore) Latest(ctx context.Context, limit int) ([]*TriggeredEvent, error) {
	if limit <= 0 {
		limit = DefaultLatestLimit
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*TriggeredEvent
	for i := len(s.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// Size reports how many events are stored. Test helper.
func (s *InMemoryStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
