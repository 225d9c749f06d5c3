// Package scheduler drives execution of ready tasks under a concurrency
// budget, with per-task timeouts and a retry/backoff loop. A single
// dispatch goroutine owns all queue mutation; handler invocations run as
// independently cancellable goroutines that report back over a completion
// channel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/voxbot/taskforge/internal/conflict"
	"github.com/voxbot/taskforge/internal/events"
	"github.com/voxbot/taskforge/internal/queue"
	"github.com/voxbot/taskforge/internal/task"
)

var (
	// ErrNoHandler means a task was dispatched with no handler registered
	// for its type. Programmer error: propagated, never retried.
	ErrNoHandler = errors.New("no handler registered")
	// ErrStalled means no task can make progress: nothing is running or
	// retrying, yet the queue is not complete. Happens when pending tasks
	// depend on terminally failed ones, or when unresolved conflicts keep
	// blocking every ready task.
	ErrStalled = errors.New("scheduler stalled: remaining tasks are blocked")
)

// stallPatience is how many consecutive idle cycles the loop tolerates
// while conflict-blocked tasks wait for the world to change (inventory is
// an external oracle and may free up between polls).
const stallPatience = 3

// stopReason is recorded on every task force-failed by Stop.
const stopReason = "scheduler stopped"

// timeoutReason is recorded when a handler outlives its timeout.
const timeoutReason = "execution timed out"

// Handler executes the work for one task type. Implementations talk to
// the game world; the scheduler only cares about the returned error.
type Handler func(ctx context.Context, t *task.Task) error

// Config holds the caller-supplied scheduling knobs.
type Config struct {
	MaxConcurrentTasks int           // default 5
	TaskTimeout        time.Duration // default 30s
	// RetryAttempts is the default retry bound. Retry accounting lives in
	// the queue, so composers hand this value to queue.New; the scheduler
	// never consults it directly.
	RetryAttempts int           // default 3
	RetryDelay    time.Duration // base backoff, default 5s
	PollInterval  time.Duration // default 1s
}

// DefaultConfig returns the default scheduling configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentTasks: 5,
		TaskTimeout:        30 * time.Second,
		RetryAttempts:      3,
		RetryDelay:         5 * time.Second,
		PollInterval:       time.Second,
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = def.MaxConcurrentTasks
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = def.TaskTimeout
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = def.RetryAttempts
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = def.RetryDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	return c
}

// completion is what a handler goroutine reports back to the dispatch loop.
type completion struct {
	taskID   string
	err      error
	timedOut bool
	started  time.Time
}

// Scheduler polls the queue, clears candidates against in-flight tasks,
// and dispatches them to registered per-type handlers.
type Scheduler struct {
	cfg      Config
	queue    *queue.Queue
	handlers map[string]Handler
	breakers *breakerRegistry

	detector *conflict.Detector
	resolver *conflict.Resolver
	bus      *events.Bus

	mu      sync.Mutex
	running map[string]context.CancelFunc
	stopped bool
	stopCh  chan struct{}

	completionCh chan completion
}

// New creates a scheduler over the given queue. Zero config fields take
// defaults.
func New(cfg Config, q *queue.Queue) *Scheduler {
	cfg = cfg.withDefaults()
	return &Scheduler{
		cfg:          cfg,
		queue:        q,
		handlers:     make(map[string]Handler),
		breakers:     newBreakerRegistry(),
		running:      make(map[string]context.CancelFunc),
		stopCh:       make(chan struct{}),
		completionCh: make(chan completion, cfg.MaxConcurrentTasks*2),
	}
}

// RegisterHandler maps a task type to its handler. One handler per type;
// re-registering replaces.
func (s *Scheduler) RegisterHandler(taskType string, h Handler) {
	s.handlers[taskType] = h
}

// SetConflictArbiter wires the detector/resolver pair used to gate
// candidates against in-flight tasks. Both nil disables the gate.
func (s *Scheduler) SetConflictArbiter(d *conflict.Detector, r *conflict.Resolver) {
	s.detector = d
	s.resolver = r
}

// SetEventBus wires an event bus for lifecycle and conflict events.
func (s *Scheduler) SetEventBus(b *events.Bus) {
	s.bus = b
}

// RunningCount returns the number of tasks currently in flight.
func (s *Scheduler) RunningCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.running)
}

// Run drives the dispatch loop until the queue completes, the context is
// cancelled, or Stop is called. Returns nil on normal completion and
// ErrStalled when the remaining tasks can never run.
func (s *Scheduler) Run(ctx context.Context) error {
	idleCycles := 0

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		case <-s.stopCh:
			return nil
		default:
		}

		if s.queue.IsComplete() && s.RunningCount() == 0 {
			return nil
		}

		started, err := s.dispatchReady(ctx)
		if err != nil {
			s.Stop()
			return err
		}

		if started > 0 || s.RunningCount() > 0 || len(s.queue.RetryingTasks()) > 0 {
			idleCycles = 0
		} else {
			idleCycles++
			if len(s.queue.ReadyTasks()) == 0 {
				// Pending tasks behind failed dependencies can never
				// become ready; no point waiting.
				return ErrStalled
			}
			if idleCycles >= stallPatience {
				// Every ready task is conflict-blocked and the world
				// hasn't changed for several polls.
				return ErrStalled
			}
		}

		s.publishProgress()

		if err := s.waitCycle(ctx); err != nil {
			return err
		}
	}
}

// waitCycle sleeps one poll interval, handling completions as they arrive.
func (s *Scheduler) waitCycle(ctx context.Context) error {
	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case c := <-s.completionCh:
			s.handleCompletion(c)
		case <-timer.C:
			return nil
		case <-s.stopCh:
			return nil
		case <-ctx.Done():
			s.Stop()
			return ctx.Err()
		}
	}
}

// dispatchReady fills available slots with ready tasks that clear the
// conflict gate, returning how many were started.
func (s *Scheduler) dispatchReady(ctx context.Context) (int, error) {
	slots := s.cfg.MaxConcurrentTasks - s.RunningCount()
	if slots <= 0 {
		return 0, nil
	}

	started := 0
	for _, node := range s.queue.ReadyTasks() {
		if slots == 0 {
			break
		}

		t := node.Task
		handler, ok := s.handlers[t.Type]
		if !ok {
			return started, fmt.Errorf("task %q type %q: %w", t.ID, t.Type, ErrNoHandler)
		}

		cleared, err := s.clearConflicts(t)
		if err != nil {
			return started, err
		}
		if !cleared {
			// Left Pending; a later cycle retries once the contention clears.
			continue
		}

		s.startTask(ctx, node, handler)
		started++
		slots--
	}
	return started, nil
}

// clearConflicts runs the candidate through the detector/resolver against
// the current running + ready set. Returns false when an unresolved
// conflict should hold the task back this cycle.
func (s *Scheduler) clearConflicts(t *task.Task) (bool, error) {
	if s.detector == nil || s.resolver == nil {
		return true, nil
	}

	others := make([]*task.Task, 0)
	for _, n := range s.queue.RunningTasks() {
		others = append(others, n.Task)
	}
	for _, n := range s.queue.ReadyTasks() {
		others = append(others, n.Task)
	}

	conflicts := s.detector.DetectForTask(t, others)
	if len(conflicts) == 0 {
		return true, nil
	}

	for _, c := range conflicts {
		s.publish(events.TopicConflict, events.ConflictDetectedEvent{
			Candidate: t.ID,
			Kind:      c.ConflictKind(),
			TaskIDs:   c.ContendingTasks(),
			Timestamp: time.Now(),
		})
	}

	resolutions, err := s.resolver.ResolveAll(conflicts)
	if err != nil {
		return false, err
	}

	cleared := true
	for _, res := range resolutions {
		s.publish(events.TopicConflict, events.ConflictResolvedEvent{
			Candidate:  t.ID,
			Resolution: res,
			Timestamp:  time.Now(),
		})
		// An unresolved conflict holds back only the losing contenders;
		// the highest-priority task proceeds, mirroring the resolver's
		// keep-the-winner policy.
		if !res.Resolved && !s.candidateWins(t.ID, res.Conflict) {
			cleared = false
		}
	}
	return cleared, nil
}

// candidateWins reports whether the candidate is the highest-priority
// contender of the conflict, using the resolver's ordering (priority
// descending, ties broken by ID).
func (s *Scheduler) candidateWins(candidateID string, c conflict.Conflict) bool {
	bestID := ""
	bestPriority := 0
	for _, id := range c.ContendingTasks() {
		node, ok := s.queue.Get(id)
		if !ok {
			continue
		}
		p := node.Task.Priority
		if bestID == "" || p > bestPriority || (p == bestPriority && id < bestID) {
			bestID = id
			bestPriority = p
		}
	}
	return bestID == candidateID
}

// startTask transitions the task to Running and launches its handler with
// an independent timeout.
func (s *Scheduler) startTask(ctx context.Context, node *task.Node, handler Handler) {
	t := node.Task
	if err := s.queue.UpdateTaskState(t.ID, task.StatusRunning, nil); err != nil {
		log.Printf("WARNING: failed to mark task %q running: %v", t.ID, err)
		return
	}

	timeout := t.Timeout
	if timeout <= 0 {
		timeout = s.cfg.TaskTimeout
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)

	s.mu.Lock()
	s.running[t.ID] = cancel
	s.mu.Unlock()

	s.publish(events.TopicTask, events.TaskStartedEvent{
		ID:        t.ID,
		Type:      t.Type,
		Attempt:   node.RetryCount,
		Timestamp: time.Now(),
	})

	cb := s.breakers.get(t.Type)
	started := time.Now()

	done := make(chan error, 1)
	go func() {
		_, err := cb.Execute(func() (any, error) {
			return nil, handler(tctx, t)
		})
		done <- err
	}()

	// The watchdog reports the first of handler completion or timeout, so a
	// stuck handler can't hold its slot past the deadline. Timeout wins
	// ties: a deadline that fired overrides whatever the handler returned.
	go func() {
		defer cancel()

		var c completion
		select {
		case err := <-done:
			c = completion{
				taskID:   t.ID,
				err:      err,
				timedOut: errors.Is(tctx.Err(), context.DeadlineExceeded),
				started:  started,
			}
		case <-tctx.Done():
			if !errors.Is(tctx.Err(), context.DeadlineExceeded) {
				// Cancelled by Stop or the parent context; Stop already
				// accounted for the task.
				return
			}
			c = completion{taskID: t.ID, err: errors.New(timeoutReason), timedOut: true, started: started}
		}

		select {
		case s.completionCh <- c:
		case <-s.stopCh:
		}
	}()
}

// handleCompletion applies one handler outcome to the queue. Completions
// for tasks no longer tracked (force-failed by Stop) are ignored.
func (s *Scheduler) handleCompletion(c completion) {
	s.mu.Lock()
	cancel, tracked := s.running[c.taskID]
	if tracked {
		delete(s.running, c.taskID)
	}
	s.mu.Unlock()

	if !tracked {
		return
	}
	cancel()

	switch {
	case c.timedOut:
		s.failTask(c.taskID, errors.New(timeoutReason), true)
	case c.err != nil:
		s.failTask(c.taskID, c.err, false)
	default:
		if err := s.queue.UpdateTaskState(c.taskID, task.StatusCompleted, nil); err != nil {
			log.Printf("WARNING: failed to complete task %q: %v", c.taskID, err)
			return
		}
		s.publish(events.TopicTask, events.TaskCompletedEvent{
			ID:        c.taskID,
			Duration:  time.Since(c.started),
			Timestamp: time.Now(),
		})
	}
}

// failTask funnels handler failures and timeouts through the queue's
// retry accounting, scheduling a backoff re-entry when attempts remain.
func (s *Scheduler) failTask(id string, taskErr error, timedOut bool) {
	if err := s.queue.UpdateTaskState(id, task.StatusFailed, taskErr); err != nil {
		log.Printf("WARNING: failed to fail task %q: %v", id, err)
		return
	}

	node, ok := s.queue.Get(id)
	if !ok {
		return
	}

	if node.Status == task.StatusRetrying {
		delay := retryDelay(node.Task.Retry, node.RetryCount, s.cfg.RetryDelay)
		s.publish(events.TopicTask, events.TaskRetryingEvent{
			ID:        id,
			Attempt:   node.RetryCount,
			Delay:     delay,
			Reason:    taskErr.Error(),
			Timestamp: time.Now(),
		})

		go func() {
			select {
			case <-time.After(delay):
				if err := s.queue.UpdateTaskState(id, task.StatusPending, nil); err != nil {
					log.Printf("WARNING: failed to re-queue task %q after backoff: %v", id, err)
				}
			case <-s.stopCh:
				// Hard stop abandons pending backoffs.
			}
		}()
		return
	}

	s.publish(events.TopicTask, events.TaskFailedEvent{
		ID:        id,
		Reason:    taskErr.Error(),
		TimedOut:  timedOut,
		Timestamp: time.Now(),
	})
}

// Stop is a hard abort: it cancels every outstanding timer, force-fails
// every running task, and clears the running set. Irreversible; not a
// graceful drain.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)

	ids := make([]string, 0, len(s.running))
	for id, cancel := range s.running {
		cancel()
		ids = append(ids, id)
	}
	s.running = make(map[string]context.CancelFunc)
	s.mu.Unlock()

	for _, id := range ids {
		if err := s.queue.ForceFail(id, stopReason); err != nil {
			log.Printf("WARNING: failed to force-fail task %q on stop: %v", id, err)
			continue
		}
		s.publish(events.TopicTask, events.TaskFailedEvent{
			ID:        id,
			Reason:    stopReason,
			Timestamp: time.Now(),
		})
	}
}

func (s *Scheduler) publishProgress() {
	if s.bus == nil {
		return
	}
	counts := s.queue.Counts()
	s.bus.Publish(events.TopicTask, events.QueueProgressEvent{
		Total:     s.queue.Len(),
		Pending:   counts[task.StatusPending],
		Running:   counts[task.StatusRunning],
		Completed: counts[task.StatusCompleted],
		Failed:    counts[task.StatusFailed],
		Retrying:  counts[task.StatusRetrying],
		Timestamp: time.Now(),
	})
}

func (s *Scheduler) publish(topic string, e events.Event) {
	if s.bus != nil {
		s.bus.Publish(topic, e)
	}
}
