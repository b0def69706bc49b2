package rules

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/liamcoop/eventflow/condition"
)

func testRule(id, name string, enabled bool) *Rule {
	return &Rule{
		ID:      id,
		Name:    name,
		Enabled: enabled,
		Condition: &condition.Condition{
			Type:  condition.KindSimple,
			Event: &condition.EventMatch{Group: "Webhook"},
		},
		Action: &Action{Type: ActionIntent, IntentType: "notify", Urgency: "low"},
	}
}

func TestInMemoryStoreCRUD(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore("proj-1")

	r := testRule("r-1", "first", true)
	if err := store.Add(ctx, r); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if r.CreatedAt.IsZero() || r.UpdatedAt.IsZero() {
		t.Error("Add() should set timestamps")
	}
	if r.ProjectID != "proj-1" {
		t.Errorf("ProjectID = %q, want proj-1", r.ProjectID)
	}

	if err := store.Add(ctx, testRule("r-1", "dup", true)); err == nil {
		t.Error("Add() should reject duplicate IDs")
	}

	got, err := store.Get(ctx, "r-1")
	if err != nil {
		t.Fatalf("Get() failed: %v", err)
	}
	if got.Name != "first" {
		t.Errorf("Name = %q, want first", got.Name)
	}

	if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrNotFound", err)
	}

	upd := testRule("r-1", "renamed", false)
	if err := store.Update(ctx, upd); err != nil {
		t.Fatalf("Update() failed: %v", err)
	}
	if !upd.CreatedAt.Equal(r.CreatedAt) {
		t.Error("Update() should preserve CreatedAt")
	}

	if err := store.Delete(ctx, "r-1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := store.Delete(ctx, "r-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrNotFound", err)
	}
}

func TestInMemoryStoreListOrder(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore("proj-1")

	for i := 0; i < 5; i++ {
		enabled := i%2 == 0
		if err := store.Add(ctx, testRule(fmt.Sprintf("r-%d", i), fmt.Sprintf("rule %d", i), enabled)); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	all, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(all) != 5 {
		t.Fatalf("List() returned %d rules, want 5", len(all))
	}
	for i, r := range all {
		if r.ID != fmt.Sprintf("r-%d", i) {
			t.Errorf("List()[%d].ID = %s, want insertion order", i, r.ID)
		}
	}

	enabled, err := store.ListEnabled(ctx)
	if err != nil {
		t.Fatalf("ListEnabled() failed: %v", err)
	}
	if len(enabled) != 3 {
		t.Errorf("ListEnabled() returned %d rules, want 3", len(enabled))
	}
}

func TestInMemoryStoreCopiesOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore("proj-1")
	if err := store.Add(ctx, testRule("r-1", "original", true)); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}

	got, _ := store.Get(ctx, "r-1")
	got.Name = "mutated"

	again, _ := store.Get(ctx, "r-1")
	if again.Name != "original" {
		t.Error("mutating a returned rule must not affect the store")
	}
}

func TestInMemoryStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore("proj-1")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			id := fmt.Sprintf("r-%d", n)
			if err := store.Add(ctx, testRule(id, id, true)); err != nil {
				t.Errorf("Add(%s) failed: %v", id, err)
			}
			if _, err := store.List(ctx); err != nil {
				t.Errorf("List() failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	all, _ := store.List(ctx)
	if len(all) != 50 {
		t.Errorf("expected 50 rules after concurrent adds, got %d", len(all))
	}
}

func TestCacheInvalidation(t *testing.T) {
	cache := NewInMemoryCache(CacheConfig{})

	if cache.Get() != nil {
		t.Error("empty cache should miss")
	}

	cache.Set([]*Rule{testRule("r-1", "cached", true)})
	got := cache.Get()
	if len(got) != 1 {
		t.Fatalf("Get() returned %d rules, want 1", len(got))
	}

	cache.Invalidate()
	if cache.Get() != nil {
		t.Error("invalidated cache should miss")
	}
}

func TestCacheReturnsCopy(t *testing.T) {
	cache := NewInMemoryCache(CacheConfig{})
	cache.Set([]*Rule{testRule("r-1", "a", true), testRule("r-2", "b", true)})

	first := cache.Get()
	first[0] = nil

	second := cache.Get()
	if second[0] == nil {
		t.Error("mutating a returned slice must not affect the cache")
	}
}

func TestActionValidate(t *testing.T) {
	tests := []struct {
		name    string
		action  Action
		wantErr bool
	}{
		{"prompt ok", Action{Type: ActionPrompt, PromptID: "p-1"}, false},
		{"prompt missing id", Action{Type: ActionPrompt}, true},
		{"workflow ok", Action{Type: ActionWorkflowEvent, WorkflowID: "w-1", EventName: "go"}, false},
		{"workflow missing event", Action{Type: ActionWorkflowEvent, WorkflowID: "w-1"}, true},
		{"intent ok", Action{Type: ActionIntent, IntentType: "follow_up"}, false},
		{"unknown type", Action{Type: "carrier_pigeon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.action.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
