package condition

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/liamcoop/eventflow/event"
)

type stubScorer struct {
	score float64
	err   error
}

func (s stubScorer) Score(ctx context.Context, query, corpus string, tags []string) (float64, error) {
	return s.score, s.err
}

type stubGraph struct {
	rows []map[string]any
	err  error
}

func (g stubGraph) Query(ctx context.Context, query string) ([]map[string]any, error) {
	return g.rows, g.err
}

type stubRecent struct {
	events []*event.Event
}

func (r stubRecent) Between(from, to time.Time) []*event.Event {
	var out []*event.Event
	for _, ev := range r.events {
		if !ev.Timestamp.Before(from) && !ev.Timestamp.After(to) {
			out = append(out, ev)
		}
	}
	return out
}

func newTestEvaluator(t *testing.T, opts Options) *Evaluator {
	t.Helper()
	e, err := NewEvaluator(opts)
	if err != nil {
		t.Fatalf("NewEvaluator() failed: %v", err)
	}
	return e
}

func fsEvent() *event.Event {
	return &event.Event{
		ID:        "ev-1",
		Timestamp: time.Now().UTC(),
		Name:      "File Created",
		Group:     "Filesystem",
		Source:    "watcher",
		ProjectID: "proj-1",
		Payload:   map[string]any{"path": "/a.txt"},
	}
}

func TestSimpleGroupMatchIgnoresPayload(t *testing.T) {
	e := newTestEvaluator(t, Options{})
	c := &Condition{Type: KindSimple, Event: &EventMatch{Group: "Filesystem"}}

	if !e.Matches(context.Background(), c, fsEvent(), nil) {
		t.Error("group-only condition should match regardless of payload")
	}
}

func TestSimplePayloadPath(t *testing.T) {
	e := newTestEvaluator(t, Options{})
	ev := &event.Event{
		Name:  "Order Placed",
		Group: "Webhook",
		Payload: map[string]any{
			"order": map[string]any{"total": 42.0, "currency": "EUR"},
		},
	}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"nested equality", Condition{Type: KindSimple, Payload: map[string]any{"order.currency": "EUR"}}, true},
		{"numeric cross-type", Condition{Type: KindSimple, Payload: map[string]any{"order.total": 42}}, true},
		{"value mismatch", Condition{Type: KindSimple, Payload: map[string]any{"order.currency": "USD"}}, false},
		{"unknown path is no-match", Condition{Type: KindSimple, Payload: map[string]any{"order.missing": 1}}, false},
		{"substring on name", Condition{Type: KindSimple, Event: &EventMatch{Name: "Order"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Matches(context.Background(), &tt.cond, ev, nil); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSemanticThreshold(t *testing.T) {
	ev := fsEvent()
	th := 0.9
	cond := &Condition{Type: KindSemantic, Query: "file activity", Threshold: &th}

	low := newTestEvaluator(t, Options{Similarity: stubScorer{score: 0.85}})
	if low.Matches(context.Background(), cond, ev, nil) {
		t.Error("score 0.85 below threshold 0.9 should not match")
	}

	high := newTestEvaluator(t, Options{Similarity: stubScorer{score: 0.95}})
	if !high.Matches(context.Background(), cond, ev, nil) {
		t.Error("score 0.95 above threshold 0.9 should match")
	}
}

func TestSemanticDefaultThreshold(t *testing.T) {
	ev := fsEvent()
	cond := &Condition{Type: KindSemantic, Query: "file activity"}

	e := newTestEvaluator(t, Options{Similarity: stubScorer{score: 0.87}})
	if !e.Matches(context.Background(), cond, ev, nil) {
		t.Errorf("score 0.87 should clear the default threshold %v", DefaultSimilarityThreshold)
	}
}

func TestSemanticExplicitZeroThreshold(t *testing.T) {
	ev := fsEvent()
	zero := 0.0
	cond := &Condition{Type: KindSemantic, Query: "file activity", Threshold: &zero}

	// threshold: 0 is a deliberate "match any score", not the default.
	e := newTestEvaluator(t, Options{Similarity: stubScorer{score: 0.01}})
	if !e.Matches(context.Background(), cond, ev, nil) {
		t.Error("explicit threshold 0 should accept any score")
	}
}

func TestSemanticCollaboratorFailureIsNoMatch(t *testing.T) {
	th := 0.1
	cond := &Condition{Type: KindSemantic, Query: "anything", Threshold: &th}

	broken := newTestEvaluator(t, Options{Similarity: stubScorer{err: errors.New("unavailable")}})
	if broken.Matches(context.Background(), cond, fsEvent(), nil) {
		t.Error("collaborator error must downgrade to no-match")
	}

	missing := newTestEvaluator(t, Options{})
	if missing.Matches(context.Background(), cond, fsEvent(), nil) {
		t.Error("missing collaborator must downgrade to no-match")
	}
}

func TestEmailSemanticScopedToEmailGroup(t *testing.T) {
	e := newTestEvaluator(t, Options{Similarity: stubScorer{score: 1.0}})
	th := 0.5
	cond := &Condition{Type: KindEmailSemantic, Query: "invoice", Threshold: &th}

	if e.Matches(context.Background(), cond, fsEvent(), nil) {
		t.Error("email_semantic must not match non-Email events")
	}

	mail := fsEvent()
	mail.Group = "Email"
	if !e.Matches(context.Background(), cond, mail, nil) {
		t.Error("email_semantic should match Email events above threshold")
	}
}

func TestCompoundOperators(t *testing.T) {
	e := newTestEvaluator(t, Options{})
	ev := fsEvent()

	yes := Condition{Type: KindSimple, Event: &EventMatch{Group: "Filesystem"}}
	no := Condition{Type: KindSimple, Event: &EventMatch{Group: "Email"}}

	tests := []struct {
		name string
		cond Condition
		want bool
	}{
		{"AND both", Condition{Type: KindCompound, Operator: OpAnd, Conditions: []Condition{yes, yes}}, true},
		{"AND one fails", Condition{Type: KindCompound, Operator: OpAnd, Conditions: []Condition{yes, no}}, false},
		{"OR one holds", Condition{Type: KindCompound, Operator: OpOr, Conditions: []Condition{no, yes}}, true},
		{"OR none", Condition{Type: KindCompound, Operator: OpOr, Conditions: []Condition{no, no}}, false},
		{"NOT single true", Condition{Type: KindCompound, Operator: OpNot, Conditions: []Condition{yes}}, false},
		{"NOT single false", Condition{Type: KindCompound, Operator: OpNot, Conditions: []Condition{no}}, true},
		// NOT over a list negates the conjunction of all children.
		{"NOT list", Condition{Type: KindCompound, Operator: OpNot, Conditions: []Condition{yes, no}}, true},
		{"NOT list all true", Condition{Type: KindCompound, Operator: OpNot, Conditions: []Condition{yes, yes}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Matches(context.Background(), &tt.cond, ev, nil); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCompoundTimeWindowCorrelation(t *testing.T) {
	e := newTestEvaluator(t, Options{})
	now := time.Now().UTC()

	current := &event.Event{
		ID: "ev-now", Timestamp: now, Name: "Build Finished",
		Group: "CI", ProjectID: "proj-1", Payload: map[string]any{},
	}
	past := &event.Event{
		ID: "ev-past", Timestamp: now.Add(-2 * time.Second), Name: "Commit Pushed",
		Group: "VCS", ProjectID: "proj-1", Payload: map[string]any{},
	}
	recent := stubRecent{events: []*event.Event{past, current}}

	window := int64(5000)
	cond := &Condition{
		Type:       KindCompound,
		Operator:   OpAnd,
		TimeWindow: &window,
		Conditions: []Condition{
			{Type: KindSimple, Event: &EventMatch{Group: "CI"}},
			{Type: KindSimple, Event: &EventMatch{Group: "VCS"}},
		},
	}

	if !e.Matches(context.Background(), cond, current, recent) {
		t.Error("VCS event 2s ago inside 5s window should satisfy the second child")
	}

	narrow := int64(1000)
	cond.TimeWindow = &narrow
	if e.Matches(context.Background(), cond, current, recent) {
		t.Error("VCS event 2s ago outside 1s window should not satisfy the second child")
	}
}

func TestCompoundTimeWindowZeroExactTimestamp(t *testing.T) {
	e := newTestEvaluator(t, Options{})
	now := time.Now().UTC()

	current := &event.Event{ID: "a", Timestamp: now, Name: "x", Group: "CI", ProjectID: "p"}
	sameInstant := &event.Event{ID: "b", Timestamp: now, Name: "y", Group: "VCS", ProjectID: "p"}
	earlier := &event.Event{ID: "c", Timestamp: now.Add(-time.Millisecond), Name: "z", Group: "VCS", ProjectID: "p"}

	zero := int64(0)
	cond := &Condition{
		Type: KindCompound, Operator: OpAnd, TimeWindow: &zero,
		Conditions: []Condition{
			{Type: KindSimple, Event: &EventMatch{Group: "CI"}},
			{Type: KindSimple, Event: &EventMatch{Group: "VCS"}},
		},
	}

	if !e.Matches(context.Background(), cond, current, stubRecent{events: []*event.Event{sameInstant}}) {
		t.Error("timeWindow 0 should admit events with the exact same timestamp")
	}
	if e.Matches(context.Background(), cond, current, stubRecent{events: []*event.Event{earlier}}) {
		t.Error("timeWindow 0 should exclude events with any earlier timestamp")
	}
}

func TestTemporalWeekdayAndClock(t *testing.T) {
	e := newTestEvaluator(t, Options{})

	cond := &Condition{
		Type:       KindTemporal,
		After:      "09:00",
		Before:     "17:00",
		DaysOfWeek: []int{1, 2, 3, 4, 5},
	}

	// Saturday 10:00 UTC.
	saturday := time.Date(2025, 1, 4, 10, 0, 0, 0, time.UTC)
	if e.Matches(context.Background(), cond, &event.Event{Timestamp: saturday}, nil) {
		t.Error("Saturday should be excluded by dayOfWeek [1..5]")
	}

	// Monday 10:00 UTC.
	monday := time.Date(2025, 1, 6, 10, 0, 0, 0, time.UTC)
	if !e.Matches(context.Background(), cond, &event.Event{Timestamp: monday}, nil) {
		t.Error("Monday 10:00 should match")
	}

	// Boundary: after is inclusive, before is exclusive.
	nine := time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC)
	if !e.Matches(context.Background(), cond, &event.Event{Timestamp: nine}, nil) {
		t.Error("09:00 exactly should match (inclusive lower bound)")
	}
	five := time.Date(2025, 1, 6, 17, 0, 0, 0, time.UTC)
	if e.Matches(context.Background(), cond, &event.Event{Timestamp: five}, nil) {
		t.Error("17:00 exactly should not match (exclusive upper bound)")
	}
}

func TestTemporalTimeZone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	e := newTestEvaluator(t, Options{Location: berlin})

	cond := &Condition{Type: KindTemporal, After: "09:00", Before: "17:00"}

	// 08:30 UTC in winter is 09:30 in Berlin.
	ts := time.Date(2025, 1, 6, 8, 30, 0, 0, time.UTC)
	if !e.Matches(context.Background(), cond, &event.Event{Timestamp: ts}, nil) {
		t.Error("08:30 UTC should fall inside the 09:00-17:00 Berlin window")
	}
}

func TestGraphConditionReducesToNonEmpty(t *testing.T) {
	cond := &Condition{Type: KindGraph, GraphQuery: "SELECT ?s WHERE { ?s ?p ?o }"}

	hit := newTestEvaluator(t, Options{Graph: stubGraph{rows: []map[string]any{{"s": 1}}}})
	if !hit.Matches(context.Background(), cond, fsEvent(), nil) {
		t.Error("non-empty result set should match")
	}

	empty := newTestEvaluator(t, Options{Graph: stubGraph{}})
	if empty.Matches(context.Background(), cond, fsEvent(), nil) {
		t.Error("empty result set should not match")
	}

	broken := newTestEvaluator(t, Options{Graph: stubGraph{err: errors.New("store down")}})
	if broken.Matches(context.Background(), cond, fsEvent(), nil) {
		t.Error("collaborator error must downgrade to no-match")
	}
}

func TestExpressionCondition(t *testing.T) {
	e := newTestEvaluator(t, Options{})
	ev := fsEvent()

	match := &Condition{Type: KindExpression, Expression: `event.group == "Filesystem" && event.payload.path.endsWith(".txt")`}
	if !e.Matches(context.Background(), match, ev, nil) {
		t.Error("expression should match")
	}

	miss := &Condition{Type: KindExpression, Expression: `event.group == "Email"`}
	if e.Matches(context.Background(), miss, ev, nil) {
		t.Error("expression should not match")
	}

	bad := &Condition{Type: KindExpression, Expression: `event.group ==`}
	if e.Matches(context.Background(), bad, ev, nil) {
		t.Error("broken expression must be a no-match, not a panic")
	}
}

func TestCompileExpressionRejectsBadSyntax(t *testing.T) {
	e := newTestEvaluator(t, Options{})
	if err := e.CompileExpression(`event.name ==`); err == nil {
		t.Error("expected compile error")
	}
	if err := e.CompileExpression(`event.name == "x"`); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
}

func TestValidate(t *testing.T) {
	over := 1.5
	tests := []struct {
		name    string
		cond    Condition
		wantErr bool
	}{
		{"simple ok", Condition{Type: KindSimple, Event: &EventMatch{Group: "X"}}, false},
		{"simple empty", Condition{Type: KindSimple}, true},
		{"semantic no query", Condition{Type: KindSemantic}, true},
		{"semantic threshold range", Condition{Type: KindSemantic, Query: "q", Threshold: &over}, true},
		{"compound bad operator", Condition{Type: KindCompound, Operator: "XOR", Conditions: []Condition{{Type: KindSimple, Event: &EventMatch{Group: "X"}}}}, true},
		{"compound no children", Condition{Type: KindCompound, Operator: OpAnd}, true},
		{"temporal bad clock", Condition{Type: KindTemporal, After: "25:00"}, true},
		{"temporal bad weekday", Condition{Type: KindTemporal, DaysOfWeek: []int{7}}, true},
		{"unknown type", Condition{Type: "bogus"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cond.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEventGroupsWalksTree(t *testing.T) {
	cond := Condition{
		Type: KindCompound, Operator: OpAnd,
		Conditions: []Condition{
			{Type: KindSimple, Event: &EventMatch{Group: "Webhook"}},
			{Type: KindCompound, Operator: OpOr, Conditions: []Condition{
				{Type: KindSimple, Event: &EventMatch{Group: "Email"}},
				{Type: KindSimple, Event: &EventMatch{Group: "Webhook"}},
			}},
		},
	}
	got := cond.EventGroups()
	want := []string{"Webhook", "Email"}
	if len(got) != len(want) {
		t.Fatalf("EventGroups() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("EventGroups()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
