package event

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Event is the canonical, immutable record for everything entering the
// pipeline: API calls, webhooks, file-watch signals, scheduled ticks.
// ID and Timestamp are assigned once at ingestion and never change.
type Event struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Name          string         `json:"name"`
	Group         string         `json:"group"`
	Source        string         `json:"source"`
	Topic         string         `json:"topic,omitempty"`
	Payload       map[string]any `json:"payload"`
	ProjectID     string         `json:"projectId"`
	CorrelationID string         `json:"correlationId,omitempty"`
}

// RawInput carries the routing metadata and payload handed to the
// Normalizer by the ingestion layer.
type RawInput struct {
	Name          string
	Group         string
	Source        string
	Topic         string
	Payload       map[string]any
	CorrelationID string
}

// Normalize builds a fully populated Event from raw input. Payload
// validation (malformed / non-serializable input) is the caller's job;
// by the time input reaches here it has already been decoded.
func Normalize(projectID string, in RawInput) (*Event, error) {
	if projectID == "" {
		return nil, fmt.Errorf("normalize: project id is required")
	}
	if in.Name == "" {
		return nil, fmt.Errorf("normalize: event name is required")
	}

	payload := in.Payload
	if payload == nil {
		payload = map[string]any{}
	}

	return &Event{
		ID:            uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		Name:          in.Name,
		Group:         in.Group,
		Source:        in.Source,
		Topic:         in.Topic,
		Payload:       payload,
		ProjectID:     projectID,
		CorrelationID: in.CorrelationID,
	}, nil
}

// maxCorpusLen caps the text handed to the similarity collaborator.
const maxCorpusLen = 2048

// PayloadText flattens the event into a text corpus for semantic
// scoring: the event name followed by every string-valued payload
// field (recursively, keys sorted for determinism), capped in length.
func (e *Event) PayloadText() string {
	var b strings.Builder
	b.WriteString(e.Name)
	collectStrings(&b, e.Payload)
	s := b.String()
	if len(s) > maxCorpusLen {
		s = s[:maxCorpusLen]
	}
	return s
}

func collectStrings(b *strings.Builder, m map[string]any) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			b.WriteByte(' ')
			b.WriteString(v)
		case map[string]any:
			collectStrings(b, v)
		}
		if b.Len() > maxCorpusLen {
			return
		}
	}
}

// Lookup resolves a dot-separated path ("payload keys only, e.g.
// "user.address.city") against the event payload. The boolean is
// false when any path segment is missing or not an object.
func (e *Event) Lookup(path string) (any, bool) {
	return LookupPath(e.Payload, strings.Split(path, "."))
}

// LookupPath walks a nested map by path segments.
func LookupPath(m map[string]any, path []string) (any, bool) {
	var cur any = m
	for _, seg := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
