package journal

import (
	"context"
	"fmt"
	"log"

	"github.com/voxbot/taskforge/internal/events"
)

// Recorder consumes bus events and writes them to the journal. It runs
// alongside the scheduler and never feeds anything back into it.
type Recorder struct {
	store *Store
	ch    <-chan events.Event
}

// NewRecorder subscribes the recorder to every topic on the bus.
func NewRecorder(store *Store, bus *events.Bus) *Recorder {
	return &Recorder{
		store: store,
		ch:    bus.SubscribeAll(512),
	}
}

// Run drains events until the context is cancelled or the bus closes.
// Write failures are logged, not fatal: losing an audit row must never
// stop the scheduler.
func (r *Recorder) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-r.ch:
			if !ok {
				return nil
			}
			if err := r.record(ctx, ev); err != nil {
				log.Printf("WARNING: journal write failed for %s: %v", ev.EventType(), err)
			}
		}
	}
}

func (r *Recorder) record(ctx context.Context, ev events.Event) error {
	switch e := ev.(type) {
	case events.TaskStartedEvent:
		return r.store.RecordTransition(ctx, e.ID, e.EventType(), fmt.Sprintf("type=%s attempt=%d", e.Type, e.Attempt))
	case events.TaskCompletedEvent:
		return r.store.RecordTransition(ctx, e.ID, e.EventType(), fmt.Sprintf("duration=%s", e.Duration))
	case events.TaskFailedEvent:
		return r.store.RecordTransition(ctx, e.ID, e.EventType(), e.Reason)
	case events.TaskRetryingEvent:
		return r.store.RecordTransition(ctx, e.ID, e.EventType(), fmt.Sprintf("attempt=%d delay=%s reason=%s", e.Attempt, e.Delay, e.Reason))
	case events.ConflictResolvedEvent:
		return r.store.RecordResolution(ctx, e.Resolution)
	default:
		// Detection events and progress snapshots are transient; the
		// resolution row already carries the conflict's identity.
		return nil
	}
}
