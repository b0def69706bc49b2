// Package collab defines the external collaborators the pipeline talks
// to and a default JSON-over-HTTP client for each. The pipeline only
// depends on the interfaces; every call is context-bounded so a slow
// collaborator cannot stall event processing.
package collab

import "context"

// SimilarityScorer scores a natural-language query against a text
// corpus, optionally narrowed by tags. Scores are in [0, 1].
type SimilarityScorer interface {
	Score(ctx context.Context, query, corpus string, tags []string) (float64, error)
}

// GraphQuerier runs a structured query against the knowledge-graph
// store and returns the matching rows.
type GraphQuerier interface {
	Query(ctx context.Context, query string) ([]map[string]any, error)
}

// PromptExecutor resolves a stored prompt template by ID, merges the
// given parameters and runs it, returning the generated text.
type PromptExecutor interface {
	Execute(ctx context.Context, promptID string, params map[string]any) (string, error)
}

// WorkflowSignaler delivers an event to a named external workflow
// instance.
type WorkflowSignaler interface {
	Signal(ctx context.Context, workflowID, eventName string, payload map[string]any) error
}

// IntentEmitter publishes a structured intent to an external consumer.
type IntentEmitter interface {
	Emit(ctx context.Context, intentType, urgency string, payload map[string]any) error
}
