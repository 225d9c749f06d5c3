package task

import (
	"math"
	"time"
)

// Status represents the current lifecycle state of a task in the queue.
type Status int

const (
	StatusPending   Status = iota // Waiting for dependencies or a free slot
	StatusRunning                 // Currently executing
	StatusCompleted               // Finished successfully (terminal)
	StatusFailed                  // Retries exhausted or force-failed (terminal)
	StatusRetrying                // Failed, waiting out a backoff delay
)

// String returns the lowercase name used in events and the journal.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusRetrying:
		return "retrying"
	}
	return "unknown"
}

// Terminal reports whether the status can never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// ItemRequirement is a quantity of a single item type the task consumes.
type ItemRequirement struct {
	Item     string
	Quantity int
}

// Position is a point in the world with a working radius. Two tasks whose
// circles overlap contend for the same area.
type Position struct {
	X, Y, Z float64
	Radius  float64
}

// DistanceTo returns the Euclidean distance between two centers.
func (p Position) DistanceTo(o Position) float64 {
	dx := p.X - o.X
	dy := p.Y - o.Y
	dz := p.Z - o.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// TimeWindow is a closed interval during which the task must run.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

// Overlaps reports whether two windows share any instant.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return !(w.End.Before(o.Start) || o.End.Before(w.Start))
}

// Intersect returns the shared sub-interval. Only meaningful when the
// windows overlap.
func (w TimeWindow) Intersect(o TimeWindow) TimeWindow {
	out := w
	if o.Start.After(out.Start) {
		out.Start = o.Start
	}
	if o.End.Before(out.End) {
		out.End = o.End
	}
	return out
}

// RetryPolicy bounds how often and how fast a failing task is retried.
// The zero value defers every field to the scheduler's defaults.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// Requirements declares what a task needs from the shared world. A zero
// field means the task does not participate in that conflict dimension.
type Requirements struct {
	Items    []ItemRequirement
	Tool     string
	Position *Position
	Window   *TimeWindow
}

// ItemQuantity returns how much of the given item the task requires.
func (r Requirements) ItemQuantity(item string) int {
	total := 0
	for _, ir := range r.Items {
		if ir.Item == item {
			total += ir.Quantity
		}
	}
	return total
}

// Task is an immutable description of one unit of work. The queue never
// mutates it; all scheduling state lives on the Node wrapper.
type Task struct {
	ID           string
	Type         string         // Selects the registered handler
	Priority     int            // Higher wins during conflict resolution
	Parameters   map[string]any // Opaque payload for the handler
	DependsOn    []string       // Task IDs that must complete first
	Requirements Requirements
	Retry        RetryPolicy
	Timeout      time.Duration // 0 means use the scheduler default
}

// Clone returns a deep copy so callers can't mutate queue-owned state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	cp := *t
	if t.Parameters != nil {
		cp.Parameters = make(map[string]any, len(t.Parameters))
		for k, v := range t.Parameters {
			cp.Parameters[k] = v
		}
	}
	if t.DependsOn != nil {
		cp.DependsOn = append([]string(nil), t.DependsOn...)
	}
	if t.Requirements.Items != nil {
		cp.Requirements.Items = append([]ItemRequirement(nil), t.Requirements.Items...)
	}
	if t.Requirements.Position != nil {
		pos := *t.Requirements.Position
		cp.Requirements.Position = &pos
	}
	if t.Requirements.Window != nil {
		win := *t.Requirements.Window
		cp.Requirements.Window = &win
	}
	return &cp
}

// Node is the mutable scheduling wrapper around a Task, owned exclusively
// by the queue.
type Node struct {
	Task       *Task
	Status     Status
	RetryCount int
	LastError  string
}

// Clone returns a copy safe to hand outside the queue.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}

	cp := *n
	cp.Task = n.Task.Clone()
	return &cp
}
