package event

import (
	"strings"
	"testing"
)

func TestNormalizeAssignsIDAndTimestamp(t *testing.T) {
	ev, err := Normalize("proj-1", RawInput{
		Name:   "File Created",
		Group:  "Filesystem",
		Source: "watcher",
	})
	if err != nil {
		t.Fatalf("Normalize() failed: %v", err)
	}
	if ev.ID == "" {
		t.Error("expected generated event ID")
	}
	if ev.Timestamp.IsZero() {
		t.Error("expected ingestion timestamp")
	}
	if ev.Payload == nil {
		t.Error("nil payload should be normalized to an empty map")
	}
	if ev.ProjectID != "proj-1" {
		t.Errorf("ProjectID = %q, want proj-1", ev.ProjectID)
	}
}

func TestNormalizeUniqueIDs(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		ev, err := Normalize("proj-1", RawInput{Name: "tick", Group: "Scheduling"})
		if err != nil {
			t.Fatalf("Normalize() failed: %v", err)
		}
		if seen[ev.ID] {
			t.Fatalf("duplicate event ID %s", ev.ID)
		}
		seen[ev.ID] = true
	}
}

func TestNormalizeRejectsMissingFields(t *testing.T) {
	if _, err := Normalize("", RawInput{Name: "x"}); err == nil {
		t.Error("expected error for missing project id")
	}
	if _, err := Normalize("proj-1", RawInput{}); err == nil {
		t.Error("expected error for missing event name")
	}
}

func TestLookupDotPath(t *testing.T) {
	ev := &Event{Payload: map[string]any{
		"user": map[string]any{
			"address": map[string]any{"city": "Berlin"},
		},
		"count": 3,
	}}

	v, ok := ev.Lookup("user.address.city")
	if !ok || v != "Berlin" {
		t.Errorf("Lookup(user.address.city) = %v, %v; want Berlin, true", v, ok)
	}

	if _, ok := ev.Lookup("user.address.zip"); ok {
		t.Error("unknown path should not resolve")
	}
	if _, ok := ev.Lookup("count.inner"); ok {
		t.Error("descending into a scalar should not resolve")
	}
}

func TestPayloadTextIncludesStringsAndCaps(t *testing.T) {
	ev := &Event{
		Name: "Email Received",
		Payload: map[string]any{
			"subject": "quarterly report",
			"nested":  map[string]any{"body": "see attachment"},
			"size":    1024,
		},
	}
	text := ev.PayloadText()
	for _, want := range []string{"Email Received", "quarterly report", "see attachment"} {
		if !strings.Contains(text, want) {
			t.Errorf("PayloadText() missing %q: %s", want, text)
		}
	}
	if strings.Contains(text, "1024") {
		t.Error("non-string payload values should not be in the corpus")
	}

	big := &Event{Name: "x", Payload: map[string]any{"blob": strings.Repeat("a", 10000)}}
	if got := len(big.PayloadText()); got > maxCorpusLen {
		t.Errorf("corpus length %d exceeds cap %d", got, maxCorpusLen)
	}
}
