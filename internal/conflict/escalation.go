package conflict

import (
	"context"
)

// Escalations is a bounded hand-off queue for resolutions that automatic
// arbitration could not settle. The scheduler offers without blocking;
// an operator (or the CLI) drains at its own pace. Resolutions passing
// through here are re-stamped ModeManual since a human now owns them.
type Escalations struct {
	ch chan Resolution
}

// NewEscalations creates an escalation queue. bufferSize should typically
// be at least 2x the scheduler's concurrency limit so offers don't drop
// under normal load; <= 0 defaults to 16.
func NewEscalations(bufferSize int) *Escalations {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Escalations{ch: make(chan Resolution, bufferSize)}
}

// Offer enqueues an unresolved resolution without blocking. Returns false
// if the queue is full and the resolution was dropped.
func (e *Escalations) Offer(res Resolution) bool {
	res.Mode = ModeManual
	select {
	case e.ch <- res:
		return true
	default:
		return false
	}
}

// Next blocks until an escalated resolution is available or the context is
// cancelled.
func (e *Escalations) Next(ctx context.Context) (Resolution, error) {
	select {
	case res := <-e.ch:
		return res, nil
	case <-ctx.Done():
		return Resolution{}, ctx.Err()
	}
}

// Drain returns everything currently queued without blocking.
func (e *Escalations) Drain() []Resolution {
	var out []Resolution
	for {
		select {
		case res := <-e.ch:
			out = append(out, res)
		default:
			return out
		}
	}
}

// Len returns the number of queued escalations.
func (e *Escalations) Len() int {
	return len(e.ch)
}
