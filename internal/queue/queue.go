// Package queue is the single authoritative store of task lifecycle. It
// composes the dependency graph with per-task scheduling state and owns
// the Pending -> Running -> Completed/Failed/Retrying state machine.
package queue

import (
	"errors"
	"fmt"
	"sync"

	"github.com/voxbot/taskforge/internal/graph"
	"github.com/voxbot/taskforge/internal/task"
)

var (
	// ErrDuplicateTask is returned when adding a task whose ID already exists.
	ErrDuplicateTask = errors.New("duplicate task id")
	// ErrUnknownTask is returned when mutating a task the queue doesn't know.
	ErrUnknownTask = errors.New("unknown task id")
	// ErrDependencyCycle is returned when adding a task would make the graph cyclic.
	ErrDependencyCycle = errors.New("dependency cycle")
)

// DefaultMaxAttempts bounds retries for tasks whose RetryPolicy leaves
// MaxAttempts at zero.
const DefaultMaxAttempts = 3

// Queue tracks every task's node and recomputes the ready set as
// dependencies complete.
type Queue struct {
	mu          sync.RWMutex
	graph       *graph.Graph
	nodes       map[string]*task.Node
	maxAttempts int
}

// New creates an empty queue. defaultMaxAttempts is used for tasks that
// don't carry their own retry policy; <= 0 falls back to DefaultMaxAttempts.
func New(defaultMaxAttempts int) *Queue {
	if defaultMaxAttempts <= 0 {
		defaultMaxAttempts = DefaultMaxAttempts
	}
	return &Queue{
		graph:       graph.New(),
		nodes:       make(map[string]*task.Node),
		maxAttempts: defaultMaxAttempts,
	}
}

// AddTask registers a task, its dependency edges, and an initial Pending
// node. Fails with ErrDuplicateTask on an existing ID and with
// ErrDependencyCycle (rolling the addition back) if the new edges would
// create a cycle.
func (q *Queue) AddTask(t *task.Task) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.nodes[t.ID]; exists {
		return fmt.Errorf("task %q: %w", t.ID, ErrDuplicateTask)
	}

	q.graph.AddNode(t.ID)
	for _, depID := range t.DependsOn {
		// A dependency that already completed is satisfied; adding its
		// edge back would block this task forever.
		if dep, ok := q.nodes[depID]; ok && dep.Status == task.StatusCompleted {
			continue
		}
		q.graph.AddEdge(depID, t.ID)
	}

	if _, err := q.graph.Validate(); err != nil {
		q.graph.RemoveNode(t.ID)
		return fmt.Errorf("task %q: %w: %v", t.ID, ErrDependencyCycle, err)
	}

	q.nodes[t.ID] = &task.Node{
		Task:   t.Clone(),
		Status: task.StatusPending,
	}
	return nil
}

// RemoveTask detaches the task from all dependents and dependencies and
// deletes its node. No-op if absent.
func (q *Queue) RemoveTask(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.graph.RemoveNode(id)
	delete(q.nodes, id)
}

// UpdateTaskState transitions a task to a new status. A transition to
// Failed while retry attempts remain is reclassified as Retrying and the
// retry count incremented; this is the only place retry accounting
// happens. A transition to Completed drops the task's outgoing dependency
// edges so its dependents can become ready.
func (q *Queue) UpdateTaskState(id string, status task.Status, taskErr error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	node, ok := q.nodes[id]
	if !ok {
		return fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}

	if taskErr != nil {
		node.LastError = taskErr.Error()
	}

	switch status {
	case task.StatusFailed:
		if node.RetryCount < q.maxAttemptsFor(node) {
			node.RetryCount++
			node.Status = task.StatusRetrying
			return nil
		}
		node.Status = task.StatusFailed

	case task.StatusCompleted:
		node.Status = task.StatusCompleted
		for _, dependent := range q.graph.Dependents(id) {
			q.graph.RemoveEdge(id, dependent)
		}

	default:
		node.Status = status
	}
	return nil
}

// ForceFail marks a task terminally Failed regardless of remaining retry
// attempts. Used by the scheduler's hard stop.
func (q *Queue) ForceFail(id, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	node, ok := q.nodes[id]
	if !ok {
		return fmt.Errorf("task %q: %w", id, ErrUnknownTask)
	}

	node.Status = task.StatusFailed
	node.LastError = reason
	return nil
}

// NextTask returns one ready task (Pending and structurally unblocked), or
// nil if none exists.
func (q *Queue) NextTask() *task.Node {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, id := range q.graph.ReadyNodes() {
		node, ok := q.nodes[id]
		if ok && node.Status == task.StatusPending {
			return node.Clone()
		}
	}
	return nil
}

// ReadyTasks returns every ready task in deterministic (ID) order.
func (q *Queue) ReadyTasks() []*task.Node {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var ready []*task.Node
	for _, id := range q.graph.ReadyNodes() {
		node, ok := q.nodes[id]
		if ok && node.Status == task.StatusPending {
			ready = append(ready, node.Clone())
		}
	}
	return ready
}

// RunningTasks returns all tasks currently in StatusRunning.
func (q *Queue) RunningTasks() []*task.Node {
	return q.withStatus(task.StatusRunning)
}

// FailedTasks returns all terminally failed tasks.
func (q *Queue) FailedTasks() []*task.Node {
	return q.withStatus(task.StatusFailed)
}

// RetryingTasks returns all tasks waiting out a retry backoff.
func (q *Queue) RetryingTasks() []*task.Node {
	return q.withStatus(task.StatusRetrying)
}

// Get returns a copy of the task's node.
func (q *Queue) Get(id string) (*task.Node, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	node, ok := q.nodes[id]
	if !ok {
		return nil, false
	}
	return node.Clone(), true
}

// IsComplete reports whether every task is terminal (or the queue is empty).
func (q *Queue) IsComplete() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, node := range q.nodes {
		if !node.Status.Terminal() {
			return false
		}
	}
	return true
}

// Len returns the number of tasks in the queue.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.nodes)
}

// Clear resets the queue to empty. Used on scheduler stop/reset.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.graph = graph.New()
	q.nodes = make(map[string]*task.Node)
}

// Counts returns a snapshot of how many tasks are in each status.
func (q *Queue) Counts() map[task.Status]int {
	q.mu.RLock()
	defer q.mu.RUnlock()

	counts := make(map[task.Status]int)
	for _, node := range q.nodes {
		counts[node.Status]++
	}
	return counts
}

func (q *Queue) withStatus(status task.Status) []*task.Node {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var out []*task.Node
	for _, node := range q.nodes {
		if node.Status == status {
			out = append(out, node.Clone())
		}
	}
	return out
}

func (q *Queue) maxAttemptsFor(node *task.Node) int {
	if node.Task.Retry.MaxAttempts > 0 {
		return node.Task.Retry.MaxAttempts
	}
	return q.maxAttempts
}
