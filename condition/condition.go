// Package condition implements the predicate language rules are built
// from. A Condition is a JSON discriminated union ("type" tag); the
// Evaluator walks it with an exhaustive switch and never mutates
// anything outside its own program cache.
package condition

import (
	"encoding/json"
	"fmt"
)

// Kind discriminates the condition variants.
type Kind string

const (
	KindSimple        Kind = "simple"
	KindSemantic      Kind = "semantic"
	KindCompound      Kind = "compound"
	KindTemporal      Kind = "temporal"
	KindGraph         Kind = "knowledge_graph"
	KindEmailSemantic Kind = "email_semantic"
	KindExpression    Kind = "expression"
)

// Op is a compound condition operator.
type Op string

const (
	OpAnd Op = "AND"
	OpOr  Op = "OR"
	// OpNot negates the conjunction (AND) of all children when more
	// than one is given.
	OpNot Op = "NOT"
)

// DefaultSimilarityThreshold applies when a semantic condition does
// not set its own.
const DefaultSimilarityThreshold = 0.86

// EventMatch holds the routing-field constraints of a simple
// condition. Empty fields mean "don't care".
type EventMatch struct {
	Group string `json:"group,omitempty"`
	Name  string `json:"name,omitempty"`
	Topic string `json:"topic,omitempty"`
}

// Condition is one node of a rule's predicate tree. Only the fields
// belonging to Type are meaningful; the rest stay zero.
type Condition struct {
	Type Kind `json:"type"`

	// simple
	Event   *EventMatch    `json:"event,omitempty"`
	Payload map[string]any `json:"payload,omitempty"` // dot path -> expected value

	// semantic / email_semantic. A nil Threshold means the default; an
	// explicit 0 matches any score.
	Query     string   `json:"query,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Tags      []string `json:"tags,omitempty"`

	// compound
	Operator   Op          `json:"operator,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	TimeWindow *int64      `json:"timeWindow,omitempty"` // milliseconds

	// temporal
	After      string `json:"after,omitempty"`     // "09:00"
	Before     string `json:"before,omitempty"`    // "17:00"
	DaysOfWeek []int  `json:"dayOfWeek,omitempty"` // 0 = Sunday

	// knowledge_graph
	GraphQuery string `json:"graphQuery,omitempty"`

	// expression
	Expression string `json:"expression,omitempty"`
}

// Validate checks the structural constraints of the node and its
// children. It is called once when a rule is created or updated, so
// evaluation can assume a well-formed tree.
func (c *Condition) Validate() error {
	return c.validate(0)
}

func (c *Condition) validate(depth int) error {
	if depth > MaxDepth {
		return fmt.Errorf("condition tree exceeds max depth %d", MaxDepth)
	}

	switch c.Type {
	case KindSimple:
		if c.Event == nil && len(c.Payload) == 0 {
			return fmt.Errorf("simple condition needs event fields or payload paths")
		}
	case KindSemantic, KindEmailSemantic:
		if c.Query == "" {
			return fmt.Errorf("%s condition needs a query", c.Type)
		}
		if c.Threshold != nil && (*c.Threshold < 0 || *c.Threshold > 1) {
			return fmt.Errorf("threshold %v out of range [0,1]", *c.Threshold)
		}
	case KindCompound:
		switch c.Operator {
		case OpAnd, OpOr, OpNot:
		default:
			return fmt.Errorf("unknown compound operator %q", c.Operator)
		}
		if len(c.Conditions) == 0 {
			return fmt.Errorf("compound condition needs at least one child")
		}
		if c.TimeWindow != nil && *c.TimeWindow < 0 {
			return fmt.Errorf("timeWindow must be >= 0")
		}
		for i := range c.Conditions {
			if err := c.Conditions[i].validate(depth + 1); err != nil {
				return err
			}
		}
	case KindTemporal:
		if c.After == "" && c.Before == "" && len(c.DaysOfWeek) == 0 {
			return fmt.Errorf("temporal condition needs after, before or dayOfWeek")
		}
		for _, s := range []string{c.After, c.Before} {
			if s == "" {
				continue
			}
			if _, err := parseClock(s); err != nil {
				return err
			}
		}
		for _, d := range c.DaysOfWeek {
			if d < 0 || d > 6 {
				return fmt.Errorf("dayOfWeek %d out of range [0,6]", d)
			}
		}
	case KindGraph:
		if c.GraphQuery == "" {
			return fmt.Errorf("knowledge_graph condition needs a graphQuery")
		}
	case KindExpression:
		if c.Expression == "" {
			return fmt.Errorf("expression condition needs an expression")
		}
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}

// EventGroups returns every condition.event.group value referenced by
// the tree, in first-seen order. Used to populate UI filters.
func (c *Condition) EventGroups() []string {
	var groups []string
	seen := make(map[string]bool)
	c.walk(func(n *Condition) {
		if n.Type == KindSimple && n.Event != nil && n.Event.Group != "" && !seen[n.Event.Group] {
			seen[n.Event.Group] = true
			groups = append(groups, n.Event.Group)
		}
	})
	return groups
}

func (c *Condition) walk(fn func(*Condition)) {
	fn(c)
	for i := range c.Conditions {
		c.Conditions[i].walk(fn)
	}
}

// Parse decodes and validates a condition from its JSON form.
func Parse(data []byte) (*Condition, error) {
	var c Condition
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse condition: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}
