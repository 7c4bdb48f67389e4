// Package audittest provides an in-memory audit.Recorder for tests.
package audittest

import (
	"context"
	"sync"

	"github.com/fastprodman/gameledger/internal/services/audit"
)

type Recorder struct {
	mu     sync.Mutex
	events []audit.Event
}

var _ audit.Recorder = (*Recorder)(nil)

func (r *Recorder) Record(_ context.Context, ev audit.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]audit.Event, len(r.events))
	copy(out, r.events)

	return out
}

// OfType returns the recorded events with the given type.
func (r *Recorder) OfType(eventType string) []audit.Event {
	var out []audit.Event
	for _, ev := range r.Events() {
		if ev.Type == eventType {
			out = append(out, ev)
		}
	}

	return out
}
