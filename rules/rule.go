// Package rules holds the rule model, its project-scoped stores and
// the cache the engine reads from.
package rules

import (
	"errors"
	"fmt"
	"time"

	"github.com/liamcoop/eventflow/condition"
)

// ErrNotFound is returned by stores when a rule ID does not exist.
var ErrNotFound = errors.New("rule not found")

// ErrInvalid marks a rule rejected by structural validation, as
// opposed to a store failure.
var ErrInvalid = errors.New("invalid rule")

// ActionType discriminates the action variants.
type ActionType string

const (
	ActionPrompt        ActionType = "prompt"
	ActionWorkflowEvent ActionType = "workflow_event"
	ActionIntent        ActionType = "intent"
)

// Action describes what to do when a rule's condition matches. Like
// Condition it is a JSON discriminated union; only the fields of the
// active Type are meaningful.
type Action struct {
	Type ActionType `json:"type"`

	// prompt
	PromptID   string         `json:"promptId,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`

	// workflow_event
	WorkflowID string `json:"workflowId,omitempty"`
	EventName  string `json:"eventName,omitempty"`
	MapPayload bool   `json:"mapPayload,omitempty"`

	// intent
	IntentType    string `json:"intentType,omitempty"`
	Urgency       string `json:"urgency,omitempty"`
	EntityIDField string `json:"entityIdField,omitempty"`
}

// Validate checks that the action's required fields are present.
func (a *Action) Validate() error {
	switch a.Type {
	case ActionPrompt:
		if a.PromptID == "" {
			return fmt.Errorf("prompt action needs a promptId")
		}
	case ActionWorkflowEvent:
		if a.WorkflowID == "" || a.EventName == "" {
			return fmt.Errorf("workflow_event action needs workflowId and eventName")
		}
	case ActionIntent:
		if a.IntentType == "" {
			return fmt.Errorf("intent action needs an intentType")
		}
	default:
		return fmt.Errorf("unknown action type %q", a.Type)
	}
	return nil
}

// Rule is a persisted (condition, action) pair evaluated against every
// incoming event of its project.
type Rule struct {
	ID        string               `json:"id"`
	ProjectID string               `json:"projectId"`
	Name      string               `json:"name"`
	Enabled   bool                 `json:"enabled"`
	Condition *condition.Condition `json:"condition"`
	Action    *Action              `json:"action"`
	CreatedAt time.Time            `json:"createdAt"`
	UpdatedAt time.Time            `json:"updatedAt"`
}

// Validate checks the rule's structure (not its semantics against any
// particular event). Failures wrap ErrInvalid.
func (r *Rule) Validate() error {
	if err := r.validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

func (r *Rule) validate() error {
	if r.Name == "" {
		return fmt.Errorf("rule name is required")
	}
	if r.Condition == nil {
		return fmt.Errorf("rule condition is required")
	}
	if err := r.Condition.Validate(); err != nil {
		return fmt.Errorf("invalid condition: %w", err)
	}
	if r.Action == nil {
		return fmt.Errorf("rule action is required")
	}
	if err := r.Action.Validate(); err != nil {
		return fmt.Errorf("invalid action: %w", err)
	}
	return nil
}

// ExecutionResult records one rule's evaluation outcome for one event.
// Exactly one is produced per enabled rule per evaluated event; it is
// never mutated after creation.
type ExecutionResult struct {
	RuleID    string    `json:"ruleId"`
	EventID   string    `json:"eventId"`
	Success   bool      `json:"success"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error,omitempty"`
}
