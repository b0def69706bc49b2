package condition

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"

	"github.com/liamcoop/eventflow/collab"
	"github.com/liamcoop/eventflow/event"
)

// MaxDepth caps recursion through nested compound conditions.
const MaxDepth = 16

// RecentLookup exposes the short-lived window of recently evaluated
// events for one project, used by compound timeWindow correlation.
// Bounds are inclusive.
type RecentLookup interface {
	Between(from, to time.Time) []*event.Event
}

// Options configures an Evaluator. Nil collaborators are legal: the
// conditions that need them evaluate to no-match.
type Options struct {
	Similarity collab.SimilarityScorer
	Graph      collab.GraphQuerier
	Location   *time.Location
	// Timeout bounds each collaborator call.
	Timeout time.Duration
	Logger  *slog.Logger
}

// Evaluator tests conditions against events. It is safe for
// concurrent use; the only internal state is the compiled-expression
// cache behind a RWMutex.
type Evaluator struct {
	similarity collab.SimilarityScorer
	graph      collab.GraphQuerier
	loc        *time.Location
	timeout    time.Duration
	log        *slog.Logger

	celEnv   *cel.Env
	mu       sync.RWMutex
	programs map[string]cel.Program // expression text -> compiled program
}

// NewEvaluator creates an Evaluator with a CEL environment exposing
// the event as a dynamic variable.
func NewEvaluator(opts Options) (*Evaluator, error) {
	env, err := cel.NewEnv(cel.Variable("event", cel.DynType))
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = collab.DefaultTimeout
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	return &Evaluator{
		similarity: opts.Similarity,
		graph:      opts.Graph,
		loc:        loc,
		timeout:    timeout,
		log:        log,
		celEnv:     env,
		programs:   make(map[string]cel.Program),
	}, nil
}

// CompileExpression validates and caches a CEL expression. Called at
// rule creation so bad expressions are rejected at the boundary, and
// lazily during evaluation for nested expressions.
func (e *Evaluator) CompileExpression(expr string) error {
	_, err := e.program(expr)
	return err
}

func (e *Evaluator) program(expr string) (cel.Program, error) {
	e.mu.RLock()
	prog, ok := e.programs[expr]
	e.mu.RUnlock()
	if ok {
		return prog, nil
	}

	ast, issues := e.celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile error: %w", issues.Err())
	}
	// Cost limit guards against runaway expressions.
	prog, err := e.celEnv.Program(ast, cel.CostLimit(1_000_000))
	if err != nil {
		return nil, fmt.Errorf("program creation error: %w", err)
	}

	e.mu.Lock()
	e.programs[expr] = prog
	e.mu.Unlock()
	return prog, nil
}

// Matches reports whether the condition holds for the event. It never
// returns an error: collaborator failures and timeouts downgrade to
// no-match so one bad lookup cannot abort the rule engine.
func (e *Evaluator) Matches(ctx context.Context, c *Condition, ev *event.Event, recent RecentLookup) bool {
	return e.eval(ctx, c, ev, recent, 0)
}

func (e *Evaluator) eval(ctx context.Context, c *Condition, ev *event.Event, recent RecentLookup, depth int) bool {
	if depth > MaxDepth {
		e.log.Warn("condition tree exceeds max depth, treating as no-match", "depth", depth)
		return false
	}

	switch c.Type {
	case KindSimple:
		return e.evalSimple(c, ev)
	case KindSemantic:
		return e.evalSemantic(ctx, c, ev)
	case KindEmailSemantic:
		if ev.Group != "Email" {
			return false
		}
		return e.evalSemantic(ctx, c, ev)
	case KindCompound:
		return e.evalCompound(ctx, c, ev, recent, depth)
	case KindTemporal:
		return e.evalTemporal(c, ev)
	case KindGraph:
		return e.evalGraph(ctx, c)
	case KindExpression:
		return e.evalExpression(ctx, c, ev)
	default:
		e.log.Warn("unknown condition type", "type", string(c.Type))
		return false
	}
}

// evalSimple matches routing fields and payload dot-paths. Fields
// absent from the condition are "don't care"; unknown payload paths
// are a no-match, never an error.
func (e *Evaluator) evalSimple(c *Condition, ev *event.Event) bool {
	if c.Event != nil {
		if c.Event.Group != "" && !matchValue(c.Event.Group, ev.Group) {
			return false
		}
		if c.Event.Name != "" && !matchValue(c.Event.Name, ev.Name) {
			return false
		}
		if c.Event.Topic != "" && !matchValue(c.Event.Topic, ev.Topic) {
			return false
		}
	}
	for path, expected := range c.Payload {
		actual, ok := ev.Lookup(path)
		if !ok {
			return false
		}
		if !matchValue(expected, actual) {
			return false
		}
	}
	return true
}

func (e *Evaluator) evalSemantic(ctx context.Context, c *Condition, ev *event.Event) bool {
	if e.similarity == nil {
		e.log.Warn("similarity collaborator not configured, semantic condition is no-match")
		return false
	}

	threshold := float64(DefaultSimilarityThreshold)
	if c.Threshold != nil {
		threshold = *c.Threshold
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	score, err := e.similarity.Score(cctx, c.Query, ev.PayloadText(), c.Tags)
	if err != nil {
		e.log.Warn("similarity scoring failed, treating as no-match", "error", err)
		return false
	}
	return score >= threshold
}

func (e *Evaluator) evalCompound(ctx context.Context, c *Condition, ev *event.Event, recent RecentLookup, depth int) bool {
	results := make([]bool, len(c.Conditions))
	for i := range c.Conditions {
		results[i] = e.evalCorrelated(ctx, c, &c.Conditions[i], ev, recent, depth)
	}

	switch c.Operator {
	case OpAnd:
		for _, r := range results {
			if !r {
				return false
			}
		}
		return true
	case OpOr:
		for _, r := range results {
			if r {
				return true
			}
		}
		return false
	case OpNot:
		// NOT negates the conjunction of all children.
		for _, r := range results {
			if !r {
				return true
			}
		}
		return false
	default:
		e.log.Warn("unknown compound operator", "operator", string(c.Operator))
		return false
	}
}

// evalCorrelated tests a compound child against the current event and,
// when the parent sets a timeWindow, against recent events of the same
// project within [t - window, t] (inclusive; a window of 0 means only
// events sharing the triggering event's exact timestamp).
func (e *Evaluator) evalCorrelated(ctx context.Context, parent, sub *Condition, ev *event.Event, recent RecentLookup, depth int) bool {
	if e.eval(ctx, sub, ev, recent, depth+1) {
		return true
	}
	if parent.TimeWindow == nil || recent == nil {
		return false
	}

	window := time.Duration(*parent.TimeWindow) * time.Millisecond
	for _, past := range recent.Between(ev.Timestamp.Add(-window), ev.Timestamp) {
		if past.ID == ev.ID {
			continue
		}
		if e.eval(ctx, sub, past, recent, depth+1) {
			return true
		}
	}
	return false
}

func (e *Evaluator) evalTemporal(c *Condition, ev *event.Event) bool {
	t := ev.Timestamp.In(e.loc)

	if len(c.DaysOfWeek) > 0 {
		day := int(t.Weekday()) // 0 = Sunday, matching time.Weekday
		found := false
		for _, d := range c.DaysOfWeek {
			if d == day {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	minute := t.Hour()*60 + t.Minute()
	switch {
	case c.After != "" && c.Before != "":
		after, _ := parseClock(c.After)
		before, _ := parseClock(c.Before)
		if after <= before {
			// after <= t < before
			return minute >= after && minute < before
		}
		// Overnight window, e.g. 22:00-06:00.
		return minute >= after || minute < before
	case c.After != "":
		after, _ := parseClock(c.After)
		return minute >= after
	case c.Before != "":
		before, _ := parseClock(c.Before)
		return minute < before
	}
	return true
}

func (e *Evaluator) evalGraph(ctx context.Context, c *Condition) bool {
	if e.graph == nil {
		e.log.Warn("knowledge-graph collaborator not configured, condition is no-match")
		return false
	}

	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	rows, err := e.graph.Query(cctx, c.GraphQuery)
	if err != nil {
		e.log.Warn("knowledge-graph query failed, treating as no-match", "error", err)
		return false
	}
	return len(rows) > 0
}

func (e *Evaluator) evalExpression(ctx context.Context, c *Condition, ev *event.Event) bool {
	prog, err := e.program(c.Expression)
	if err != nil {
		e.log.Warn("expression compile failed, treating as no-match", "error", err)
		return false
	}

	out, _, err := prog.ContextEval(ctx, map[string]any{
		"event": map[string]any{
			"id":      ev.ID,
			"name":    ev.Name,
			"group":   ev.Group,
			"source":  ev.Source,
			"topic":   ev.Topic,
			"payload": ev.Payload,
		},
	})
	if err != nil {
		e.log.Warn("expression evaluation failed, treating as no-match", "error", err)
		return false
	}

	matched, ok := out.Value().(bool)
	return ok && matched
}

// parseClock parses "HH:MM" into minutes since midnight.
func parseClock(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("invalid clock time %q, want HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h*60 + m, nil
}

// matchValue compares a condition value against an event value.
// Numbers compare by value across types, strings match on equality or
// substring containment, everything else falls back to equality of
// string forms.
func matchValue(expected, actual any) bool {
	if ef, ok := toFloat64(expected); ok {
		if af, ok := toFloat64(actual); ok {
			return math.Abs(ef-af) < 1e-9
		}
		return false
	}
	if es, ok := expected.(string); ok {
		if as, ok := actual.(string); ok {
			return as == es || strings.Contains(as, es)
		}
		return false
	}
	if eb, ok := expected.(bool); ok {
		ab, ok := actual.(bool)
		return ok && eb == ab
	}
	return fmt.Sprintf("%v", expected) == fmt.Sprintf("%v", actual)
}

func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
