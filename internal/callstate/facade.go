// Package callstate exposes read-only views of in-progress calls for UI
// layers: point-in-time snapshots and a channel-based watch stream. It
// never mutates call state.
package callstate

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"callcore/internal/callsession"
	"callcore/internal/domain"
)

// Facade wraps a call session manager with a read-side API
type Facade struct {
	manager *callsession.Manager
}

// New creates a Facade over manager
func New(manager *callsession.Manager) *Facade {
	return &Facade{manager: manager}
}

// Snapshot returns the latest server-confirmed state of the call
func (f *Facade) Snapshot(callID uuid.UUID) (*domain.Call, error) {
	return f.manager.Snapshot(callID)
}

// Sessions returns the remote users with a live media session in the call
func (f *Facade) Sessions(callID uuid.UUID) []uuid.UUID {
	return f.manager.Sessions(callID)
}

// Watch streams manager events until ctx is cancelled. Events are dropped
// rather than buffered unboundedly when the consumer falls behind; the next
// snapshot always carries the full authoritative state, so a dropped
// intermediate update is never a correctness problem.
func (f *Facade) Watch(ctx context.Context) <-chan callsession.Event {
	out := make(chan callsession.Event, 16)

	// An emit may already be in flight when the watcher is removed, so the
	// close is fenced against late deliveries.
	var mu sync.Mutex
	closed := false

	unsubscribe := f.manager.Subscribe(func(ev callsession.Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case out <- ev:
		default:
		}
	})

	go func() {
		<-ctx.Done()
		unsubscribe()
		mu.Lock()
		closed = true
		close(out)
		mu.Unlock()
	}()
	return out
}
