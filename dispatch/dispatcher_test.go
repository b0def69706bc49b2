package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/liamcoop/eventflow/event"
	"github.com/liamcoop/eventflow/notify"
	"github.com/liamcoop/eventflow/rules"
)

type fakePrompts struct {
	mu     sync.Mutex
	calls  []string
	params map[string]any
	err    error
}

func (f *fakePrompts) Execute(ctx context.Context, promptID string, params map[string]any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, promptID)
	f.params = params
	return "ok", f.err
}

type fakeWorkflows struct {
	mu      sync.Mutex
	signals []string
	payload map[string]any
}

func (f *fakeWorkflows) Signal(ctx context.Context, workflowID, eventName string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, workflowID+"/"+eventName)
	f.payload = payload
	return nil
}

type fakeIntents struct {
	mu      sync.Mutex
	emitted []string
	payload map[string]any
}

func (f *fakeIntents) Emit(ctx context.Context, intentType, urgency string, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.emitted = append(f.emitted, intentType+"/"+urgency)
	f.payload = payload
	return nil
}

func testEvent() *event.Event {
	return &event.Event{
		ID:        "ev-1",
		ProjectID: "proj-1",
		Name:      "Order Placed",
		Group:     "Webhook",
		Payload:   map[string]any{"order": map[string]any{"id": "o-42"}},
	}
}

func promptRule() *rules.Rule {
	return &rules.Rule{
		ID: "r-1",
		Action: &rules.Action{
			Type:       rules.ActionPrompt,
			PromptID:   "p-1",
			Parameters: map[string]any{"tone": "formal"},
		},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestDispatchPromptMergesParameters(t *testing.T) {
	prompts := &fakePrompts{}
	d := NewDispatcher(context.Background(), Config{Prompts: prompts})
	defer d.Shutdown()

	if !d.Dispatch(promptRule(), testEvent()) {
		t.Fatal("Dispatch() returned false")
	}

	waitFor(t, func() bool {
		prompts.mu.Lock()
		defer prompts.mu.Unlock()
		return len(prompts.calls) == 1
	})

	prompts.mu.Lock()
	defer prompts.mu.Unlock()
	if prompts.calls[0] != "p-1" {
		t.Errorf("prompt = %s, want p-1", prompts.calls[0])
	}
	if prompts.params["tone"] != "formal" {
		t.Error("action parameters should be merged into the prompt call")
	}
	if prompts.params["eventId"] != "ev-1" {
		t.Error("event id should be merged into the prompt call")
	}
}

func TestDispatchPromptPublishesLifecycle(t *testing.T) {
	pub := notify.NewPublisher(notify.Config{})
	defer pub.Stop()
	client := pub.AddClient("proj-1")

	d := NewDispatcher(context.Background(), Config{Prompts: &fakePrompts{}, Publisher: pub})
	defer d.Shutdown()

	d.Dispatch(promptRule(), testEvent())

	var seen []notify.MessageType
	deadline := time.After(2 * time.Second)
	for len(seen) < 4 { // connected, started, completed, chat-refresh
		select {
		case m := <-client.Messages():
			seen = append(seen, m.Type)
		case <-deadline:
			t.Fatalf("timed out, saw %v", seen)
		}
	}

	want := []notify.MessageType{
		notify.MessageConnected,
		notify.MessageServiceStatus,
		notify.MessageServiceStatus,
		notify.MessageChatRefresh,
	}
	for i, typ := range want {
		if seen[i] != typ {
			t.Errorf("message[%d] = %s, want %s", i, seen[i], typ)
		}
	}
}

func TestDispatchPromptFailurePublishesError(t *testing.T) {
	pub := notify.NewPublisher(notify.Config{})
	defer pub.Stop()
	client := pub.AddClient("proj-1")

	d := NewDispatcher(context.Background(), Config{
		Prompts:   &fakePrompts{err: errors.New("llm down")},
		Publisher: pub,
	})
	defer d.Shutdown()

	d.Dispatch(promptRule(), testEvent())

	deadline := time.After(2 * time.Second)
	for {
		select {
		case m := <-client.Messages():
			if m.Type == notify.MessageError {
				return
			}
		case <-deadline:
			t.Fatal("no error message published")
		}
	}
}

func TestDispatchWorkflowMapPayload(t *testing.T) {
	wf := &fakeWorkflows{}
	d := NewDispatcher(context.Background(), Config{Workflows: wf})
	defer d.Shutdown()

	rule := &rules.Rule{
		ID: "r-2",
		Action: &rules.Action{
			Type:       rules.ActionWorkflowEvent,
			WorkflowID: "w-1",
			EventName:  "order-ready",
			MapPayload: true,
		},
	}
	d.Dispatch(rule, testEvent())

	waitFor(t, func() bool {
		wf.mu.Lock()
		defer wf.mu.Unlock()
		return len(wf.signals) == 1
	})

	wf.mu.Lock()
	defer wf.mu.Unlock()
	if wf.signals[0] != "w-1/order-ready" {
		t.Errorf("signal = %s", wf.signals[0])
	}
	if wf.payload == nil {
		t.Error("mapPayload should forward the event payload")
	}
}

func TestDispatchIntentEntityLookup(t *testing.T) {
	intents := &fakeIntents{}
	d := NewDispatcher(context.Background(), Config{Intents: intents})
	defer d.Shutdown()

	rule := &rules.Rule{
		ID: "r-3",
		Action: &rules.Action{
			Type:          rules.ActionIntent,
			IntentType:    "follow_up",
			Urgency:       "high",
			EntityIDField: "order.id",
		},
	}
	d.Dispatch(rule, testEvent())

	waitFor(t, func() bool {
		intents.mu.Lock()
		defer intents.mu.Unlock()
		return len(intents.emitted) == 1
	})

	intents.mu.Lock()
	defer intents.mu.Unlock()
	if intents.emitted[0] != "follow_up/high" {
		t.Errorf("emitted = %s", intents.emitted[0])
	}
	if intents.payload["entityId"] != "o-42" {
		t.Errorf("entityId = %v, want o-42", intents.payload["entityId"])
	}
}

func TestDispatchQueueFull(t *testing.T) {
	block := make(chan struct{})
	prompts := &fakePrompts{}

	// One worker, depth one, and the worker blocks on the first call.
	d := NewDispatcher(context.Background(), Config{
		Prompts:    &blockingPrompts{inner: prompts, gate: block},
		Workers:    1,
		QueueDepth: 1,
	})
	defer func() {
		close(block)
		d.Shutdown()
	}()

	d.Dispatch(promptRule(), testEvent()) // picked up by the worker
	waitFor(t, func() bool {
		prompts.mu.Lock()
		defer prompts.mu.Unlock()
		return len(prompts.calls) == 1
	})
	d.Dispatch(promptRule(), testEvent()) // sits in the queue

	if d.Dispatch(promptRule(), testEvent()) {
		t.Error("Dispatch() should report false when the queue is full")
	}
}

type blockingPrompts struct {
	inner *fakePrompts
	gate  chan struct{}
}

func (b *blockingPrompts) Execute(ctx context.Context, promptID string, params map[string]any) (string, error) {
	out, err := b.inner.Execute(ctx, promptID, params)
	select {
	case <-b.gate:
	case <-ctx.Done():
	}
	return out, err
}
