package events

import (
	"time"

	"github.com/voxbot/taskforge/internal/conflict"
)

// Event is the base interface for everything published on the bus.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask     = "task"
	TopicConflict = "conflict"
)

// Event type constants
const (
	EventTypeTaskStarted      = "task.started"
	EventTypeTaskCompleted    = "task.completed"
	EventTypeTaskFailed       = "task.failed"
	EventTypeTaskRetrying     = "task.retrying"
	EventTypeConflictDetected = "conflict.detected"
	EventTypeConflictResolved = "conflict.resolved"
	EventTypeQueueProgress    = "queue.progress"
)

// TaskStartedEvent is published when a task is dispatched to its handler.
type TaskStartedEvent struct {
	ID        string
	Type      string
	Attempt   int // 0 on first dispatch, equals the retry count on re-dispatch
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a handler finishes successfully.
type TaskCompletedEvent struct {
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published on a terminal failure (retries exhausted,
// timeout past the last attempt, or scheduler stop).
type TaskFailedEvent struct {
	ID        string
	Reason    string
	TimedOut  bool
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskRetryingEvent is published when a failure is absorbed by the retry
// policy and the task enters its backoff delay.
type TaskRetryingEvent struct {
	ID        string
	Attempt   int
	Delay     time.Duration
	Reason    string
	Timestamp time.Time
}

func (e TaskRetryingEvent) EventType() string { return EventTypeTaskRetrying }
func (e TaskRetryingEvent) TaskID() string    { return e.ID }

// ConflictDetectedEvent is published for each conflict found while gating
// a candidate task.
type ConflictDetectedEvent struct {
	Candidate string
	Kind      conflict.Kind
	TaskIDs   []string
	Timestamp time.Time
}

func (e ConflictDetectedEvent) EventType() string { return EventTypeConflictDetected }
func (e ConflictDetectedEvent) TaskID() string    { return e.Candidate }

// ConflictResolvedEvent is published with the resolver's outcome,
// resolved or not.
type ConflictResolvedEvent struct {
	Candidate  string
	Resolution conflict.Resolution
	Timestamp  time.Time
}

func (e ConflictResolvedEvent) EventType() string { return EventTypeConflictResolved }
func (e ConflictResolvedEvent) TaskID() string    { return e.Candidate }

// QueueProgressEvent is a periodic snapshot of queue composition.
type QueueProgressEvent struct {
	Total     int
	Pending   int
	Running   int
	Completed int
	Failed    int
	Retrying  int
	Timestamp time.Time
}

func (e QueueProgressEvent) EventType() string { return EventTypeQueueProgress }
func (e QueueProgressEvent) TaskID() string    { return "" }
