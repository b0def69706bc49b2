package engine

import (
	"sync"
	"time"

	"github.com/liamcoop/eventflow/event"
)

// Window is a fixed-capacity ring of recently evaluated events for one
// project. It backs compound-condition time-window correlation and
// records every evaluated event, triggered or not.
type Window struct {
	mu   sync.RWMutex
	buf  []*event.Event
	next int
	full bool
}

func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 512
	}
	return &Window{buf: make([]*event.Event, capacity)}
}

// Record appends an event, evicting the oldest once full.
func (w *Window) Record(ev *event.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf[w.next] = ev
	w.next = (w.next + 1) % len(w.buf)
	if w.next == 0 {
		w.full = true
	}
}

// Between returns events with from <= timestamp <= to, oldest first.
func (w *Window) Between(from, to time.Time) []*event.Event {
	w.mu.RLock()
	defer w.mu.RUnlock()

	start, n := 0, w.next
	if w.full {
		start, n = w.next, len(w.buf)
	}

	var out []*event.Event
	for i := 0; i < n; i++ {
		ev := w.buf[(start+i)%len(w.buf)]
		if ev == nil {
			continue
		}
		if !ev.Timestamp.Before(from) && !ev.Timestamp.After(to) {
			out = append(out, ev)
		}
	}
	return out
}
