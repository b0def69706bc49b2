// Package engine ties the pipeline together per project: it loads the
// project's enabled rules, evaluates each condition against incoming
// events, hands matches to the action dispatcher and triggered events
// to the event store, and feeds the notification publisher.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/liamcoop/eventflow/condition"
	"github.com/liamcoop/eventflow/dispatch"
	"github.com/liamcoop/eventflow/event"
	"github.com/liamcoop/eventflow/eventstore"
	"github.com/liamcoop/eventflow/metrics"
	"github.com/liamcoop/eventflow/notify"
	"github.com/liamcoop/eventflow/rules"
)

// Engine evaluates one project's rules. Rule mutations go through the
// engine so the cache snapshot stays consistent: readers of the rule
// set see it pre- or post-mutation, never partially updated.
type Engine struct {
	projectID  string
	store      rules.Store
	cache      rules.Cache
	events     eventstore.Store
	evaluator  *condition.Evaluator
	window     *Window
	dispatcher *dispatch.Dispatcher
	publisher  *notify.Publisher
	log        *slog.Logger
}

// Config wires an Engine for one project.
type Config struct {
	ProjectID  string
	Store      rules.Store
	Events     eventstore.Store
	Evaluator  *condition.Evaluator
	Dispatcher *dispatch.Dispatcher
	Publisher  *notify.Publisher
	WindowSize int
	Logger     *slog.Logger
}

func New(cfg Config) *Engine {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		projectID:  cfg.ProjectID,
		store:      cfg.Store,
		cache:      rules.NewInMemoryCache(rules.CacheConfig{}),
		events:     cfg.Events,
		evaluator:  cfg.Evaluator,
		window:     NewWindow(cfg.WindowSize),
		dispatcher: cfg.Dispatcher,
		publisher:  cfg.Publisher,
		log:        log.With("project", cfg.ProjectID),
	}
}

// Events exposes the project's triggered-event history for queries.
func (e *Engine) Events() eventstore.Store { return e.events }

// EvaluateEvent runs every enabled rule against the event, in the rule
// store's listing order, producing exactly one result per rule. Rules
// are independent: a failure in one never gates another. The event is
// persisted iff at least one rule fired, and is always published to
// stream subscribers.
func (e *Engine) EvaluateEvent(ctx context.Context, ev *event.Event) ([]rules.ExecutionResult, error) {
	start := time.Now()
	e.window.Record(ev)

	enabled, err := e.enabledRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}

	results := make([]rules.ExecutionResult, 0, len(enabled))
	anyMatch := false
	for _, rule := range enabled {
		matched := e.evaluator.Matches(ctx, rule.Condition, ev, e.window)

		res := rules.ExecutionResult{
			RuleID:    rule.ID,
			EventID:   ev.ID,
			Success:   matched,
			Timestamp: time.Now().UTC(),
		}
		if matched {
			anyMatch = true
			metrics.RuleEvaluations.WithLabelValues("match").Inc()
			// The match stands either way; a synchronous drop is
			// recorded on the result, async action failures reach
			// subscribers on the error channel.
			if !e.dispatcher.Dispatch(rule, ev) {
				res.Error = "action queue full"
			}
		} else {
			metrics.RuleEvaluations.WithLabelValues("no_match").Inc()
		}
		results = append(results, res)
	}

	var storeErr error
	if anyMatch {
		metrics.EventsTriggered.Inc()
		if err := e.events.StoreTriggeredEvent(ctx, ev, results); err != nil {
			// Surfaced to the ingestion caller; in-memory rule state
			// is unaffected.
			storeErr = fmt.Errorf("store triggered event: %w", err)
			e.log.Error("failed to persist triggered event", "event", ev.ID, "error", err)
		}
		for _, res := range results {
			e.publisher.PublishRuleExecution(e.projectID, res)
		}
	}

	e.publisher.PublishEvent(ev)
	metrics.EvaluationDuration.Observe(float64(time.Since(start).Milliseconds()))

	return results, storeErr
}

func (e *Engine) enabledRules(ctx context.Context) ([]*rules.Rule, error) {
	if cached := e.cache.Get(); cached != nil {
		return cached, nil
	}
	enabled, err := e.store.ListEnabled(ctx)
	if err != nil {
		return nil, err
	}
	e.cache.Set(enabled)
	return enabled, nil
}

// AddRule validates the rule, pre-compiles any expression conditions
// so bad expressions are rejected at the boundary, assigns an ID, and
// stores it. New rules are enabled unless the caller disabled them
// explicitly.
func (e *Engine) AddRule(ctx context.Context, rule *rules.Rule) error {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := e.compileExpressions(rule.Condition); err != nil {
		return err
	}
	if err := e.store.Add(ctx, rule); err != nil {
		return err
	}
	e.cache.Invalidate()
	return nil
}

// UpdateRule replaces a rule after validation. The caller is expected
// to have merged partial updates onto the stored rule first.
func (e *Engine) UpdateRule(ctx context.Context, rule *rules.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}
	if err := e.compileExpressions(rule.Condition); err != nil {
		return err
	}
	if err := e.store.Update(ctx, rule); err != nil {
		return err
	}
	e.cache.Invalidate()
	return nil
}

// DeleteRule hard-deletes a rule. Past execution results are kept.
func (e *Engine) DeleteRule(ctx context.Context, id string) error {
	if err := e.store.Delete(ctx, id); err != nil {
		return err
	}
	e.cache.Invalidate()
	return nil
}

func (e *Engine) GetRule(ctx context.Context, id string) (*rules.Rule, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) ListRules(ctx context.Context) ([]*rules.Rule, error) {
	return e.store.List(ctx)
}

// EventGroups returns the distinct event groups referenced by the
// project's stored rules, in rule listing order.
func (e *Engine) EventGroups(ctx context.Context) ([]string, error) {
	all, err := e.store.List(ctx)
	if err != nil {
		return nil, err
	}

	groups := []string{}
	seen := make(map[string]bool)
	for _, r := range all {
		for _, g := range r.Condition.EventGroups() {
			if !seen[g] {
				seen[g] = true
				groups = append(groups, g)
			}
		}
	}
	return groups, nil
}

func (e *Engine) compileExpressions(c *condition.Condition) error {
	if c.Type == condition.KindExpression {
		if err := e.evaluator.CompileExpression(c.Expression); err != nil {
			return fmt.Errorf("%w: bad expression: %w", rules.ErrInvalid, err)
		}
	}
	for i := range c.Conditions {
		if err := e.compileExpressions(&c.Conditions[i]); err != nil {
			return err
		}
	}
	return nil
}
