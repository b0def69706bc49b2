// Package dispatch executes the action side of matched rules. Actions
// run on a bounded worker pool, detached from rule evaluation: a
// failing or slow action never blocks evaluation of other rules, and
// every failure is surfaced through the notification publisher rather
// than swallowed.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/liamcoop/eventflow/collab"
	"github.com/liamcoop/eventflow/event"
	"github.com/liamcoop/eventflow/metrics"
	"github.com/liamcoop/eventflow/notify"
	"github.com/liamcoop/eventflow/rules"
)

type work struct {
	rule *rules.Rule
	ev   *event.Event
}

// Config wires the dispatcher. Nil collaborators are legal; actions
// that need them fail observably.
type Config struct {
	Prompts   collab.PromptExecutor
	Workflows collab.WorkflowSignaler
	Intents   collab.IntentEmitter
	Publisher *notify.Publisher

	// Workers and QueueDepth size the action pool.
	Workers    int
	QueueDepth int
	// Timeout bounds one action execution.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Dispatcher runs matched rules' actions.
type Dispatcher struct {
	prompts   collab.PromptExecutor
	workflows collab.WorkflowSignaler
	intents   collab.IntentEmitter
	publisher *notify.Publisher
	timeout   time.Duration
	log       *slog.Logger
	pool      *workerPool
}

// NewDispatcher creates the dispatcher and starts its worker pool.
// The pool stops when ctx is cancelled or Shutdown is called.
func NewDispatcher(ctx context.Context, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = cfg.Workers * 16
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	d := &Dispatcher{
		prompts:   cfg.Prompts,
		workflows: cfg.Workflows,
		intents:   cfg.Intents,
		publisher: cfg.Publisher,
		timeout:   cfg.Timeout,
		log:       cfg.Logger,
	}
	d.pool = newWorkerPool(ctx, cfg.Workers, cfg.QueueDepth, d.run)
	return d
}

// Dispatch enqueues the matched rule's action. Returns false when the
// queue is full; the drop is metered and surfaced to subscribers, and
// the rule's match stands regardless.
func (d *Dispatcher) Dispatch(rule *rules.Rule, ev *event.Event) bool {
	if d.pool.Submit(work{rule: rule, ev: ev}) {
		return true
	}
	metrics.ActionsDropped.Inc()
	d.log.Warn("action queue full, dropping action", "rule", rule.ID, "event", ev.ID)
	d.publishError(rule, ev, fmt.Errorf("action queue full"))
	return false
}

// Shutdown drains in-flight actions.
func (d *Dispatcher) Shutdown() {
	d.pool.Drain()
}

func (d *Dispatcher) run(ctx context.Context, w work) {
	actx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	actionType := string(w.rule.Action.Type)
	err := d.execute(actx, w)
	if err != nil {
		metrics.ActionsExecuted.WithLabelValues(actionType, "error").Inc()
		d.log.Error("action failed", "rule", w.rule.ID, "event", w.ev.ID,
			"action", actionType, "error", err)
		d.publishError(w.rule, w.ev, err)
		return
	}
	metrics.ActionsExecuted.WithLabelValues(actionType, "success").Inc()
}

func (d *Dispatcher) execute(ctx context.Context, w work) error {
	switch w.rule.Action.Type {
	case rules.ActionPrompt:
		return d.executePrompt(ctx, w)
	case rules.ActionWorkflowEvent:
		return d.executeWorkflow(ctx, w)
	case rules.ActionIntent:
		return d.executeIntent(ctx, w)
	default:
		return fmt.Errorf("unknown action type %q", w.rule.Action.Type)
	}
}

func (d *Dispatcher) executePrompt(ctx context.Context, w work) error {
	if d.prompts == nil {
		return fmt.Errorf("prompt collaborator not configured")
	}
	a := w.rule.Action

	d.publishStatus(w.rule, w.ev, "started")

	params := make(map[string]any, len(a.Parameters)+4)
	for k, v := range a.Parameters {
		params[k] = v
	}
	params["eventId"] = w.ev.ID
	params["eventName"] = w.ev.Name
	params["payload"] = w.ev.Payload
	if w.ev.CorrelationID != "" {
		params["correlationId"] = w.ev.CorrelationID
	}

	if _, err := d.prompts.Execute(ctx, a.PromptID, params); err != nil {
		return fmt.Errorf("execute prompt %s: %w", a.PromptID, err)
	}

	d.publishStatus(w.rule, w.ev, "completed")
	if d.publisher != nil {
		d.publisher.PublishChatRefresh(w.ev.ProjectID)
	}
	return nil
}

func (d *Dispatcher) executeWorkflow(ctx context.Context, w work) error {
	if d.workflows == nil {
		return fmt.Errorf("workflow collaborator not configured")
	}
	a := w.rule.Action

	var payload map[string]any
	if a.MapPayload {
		payload = w.ev.Payload
	}
	if err := d.workflows.Signal(ctx, a.WorkflowID, a.EventName, payload); err != nil {
		return fmt.Errorf("signal workflow %s: %w", a.WorkflowID, err)
	}
	return nil
}

func (d *Dispatcher) executeIntent(ctx context.Context, w work) error {
	if d.intents == nil {
		return fmt.Errorf("intent collaborator not configured")
	}
	a := w.rule.Action

	payload := map[string]any{
		"eventId":   w.ev.ID,
		"projectId": w.ev.ProjectID,
		"payload":   w.ev.Payload,
	}
	if w.ev.CorrelationID != "" {
		payload["correlationId"] = w.ev.CorrelationID
	}
	if a.EntityIDField != "" {
		if id, ok := w.ev.Lookup(a.EntityIDField); ok {
			payload["entityId"] = id
		}
	}

	if err := d.intents.Emit(ctx, a.IntentType, a.Urgency, payload); err != nil {
		return fmt.Errorf("emit intent %s: %w", a.IntentType, err)
	}
	return nil
}

func (d *Dispatcher) publishStatus(rule *rules.Rule, ev *event.Event, status string) {
	if d.publisher == nil {
		return
	}
	d.publisher.PublishServiceStatus(ev.ProjectID, map[string]any{
		"ruleId":  rule.ID,
		"eventId": ev.ID,
		"action":  string(rule.Action.Type),
		"status":  status,
	})
}

func (d *Dispatcher) publishError(rule *rules.Rule, ev *event.Event, err error) {
	if d.publisher == nil {
		return
	}
	d.publisher.PublishError(ev.ProjectID, map[string]any{
		"ruleId":  rule.ID,
		"eventId": ev.ID,
		"action":  string(rule.Action.Type),
		"error":   err.Error(),
	})
}
