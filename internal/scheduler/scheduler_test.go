package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voxbot/taskforge/internal/conflict"
	"github.com/voxbot/taskforge/internal/queue"
	"github.com/voxbot/taskforge/internal/task"
)

// fastConfig keeps the dispatch loop tight enough for tests.
func fastConfig() Config {
	return Config{
		MaxConcurrentTasks: 5,
		TaskTimeout:        time.Second,
		RetryAttempts:      3,
		RetryDelay:         time.Millisecond,
		PollInterval:       5 * time.Millisecond,
	}
}

func mustAdd(t *testing.T, q *queue.Queue, tasks ...*task.Task) {
	t.Helper()
	for _, tk := range tasks {
		if err := q.AddTask(tk); err != nil {
			t.Fatalf("AddTask(%s) error: %v", tk.ID, err)
		}
	}
}

// startRecorder tracks handler start order.
type startRecorder struct {
	mu    sync.Mutex
	order []string
}

func (r *startRecorder) record(id string) {
	r.mu.Lock()
	r.order = append(r.order, id)
	r.mu.Unlock()
}

func (r *startRecorder) indexOf(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, got := range r.order {
		if got == id {
			return i
		}
	}
	return -1
}

// TestRunCompletesDAG drives a diamond through the loop and verifies
// dependency order is honoured.
func TestRunCompletesDAG(t *testing.T) {
	q := queue.New(0)
	mustAdd(t, q,
		&task.Task{ID: "a", Type: "work"},
		&task.Task{ID: "b", Type: "work", DependsOn: []string{"a"}},
		&task.Task{ID: "c", Type: "work", DependsOn: []string{"a"}},
		&task.Task{ID: "d", Type: "work", DependsOn: []string{"b", "c"}},
	)

	rec := &startRecorder{}
	s := New(fastConfig(), q)
	s.RegisterHandler("work", func(ctx context.Context, tk *task.Task) error {
		rec.record(tk.ID)
		return nil
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if !q.IsComplete() {
		t.Fatal("queue not complete after Run")
	}
	for _, id := range []string{"a", "b", "c", "d"} {
		node, _ := q.Get(id)
		if node.Status != task.StatusCompleted {
			t.Errorf("task %s status = %v, want completed", id, node.Status)
		}
	}

	a, b, c, d := rec.indexOf("a"), rec.indexOf("b"), rec.indexOf("c"), rec.indexOf("d")
	if a > b || a > c {
		t.Errorf("a ran after a dependent: order %v", rec.order)
	}
	if d < b || d < c {
		t.Errorf("d ran before its dependencies: order %v", rec.order)
	}
}

// TestConcurrencyBound verifies no more than MaxConcurrentTasks handlers
// are ever in flight.
func TestConcurrencyBound(t *testing.T) {
	q := queue.New(0)
	for _, id := range []string{"t1", "t2", "t3", "t4", "t5", "t6"} {
		mustAdd(t, q, &task.Task{ID: id, Type: "work"})
	}

	var inFlight, peak atomic.Int32
	cfg := fastConfig()
	cfg.MaxConcurrentTasks = 2

	s := New(cfg, q)
	s.RegisterHandler("work", func(ctx context.Context, tk *task.Task) error {
		n := inFlight.Add(1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		inFlight.Add(-1)
		return nil
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
	if !q.IsComplete() {
		t.Error("queue not complete after Run")
	}
}

// TestRetryExhaustion verifies a persistently failing task is attempted
// exactly maxAttempts+1 times and ends terminally failed.
func TestRetryExhaustion(t *testing.T) {
	q := queue.New(2)
	mustAdd(t, q, &task.Task{ID: "flaky", Type: "work"})

	var attempts atomic.Int32
	s := New(fastConfig(), q)
	s.RegisterHandler("work", func(ctx context.Context, tk *task.Task) error {
		attempts.Add(1)
		return errors.New("world desync")
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (initial + 2 retries)", got)
	}
	node, _ := q.Get("flaky")
	if node.Status != task.StatusFailed {
		t.Errorf("status = %v, want failed", node.Status)
	}
	if node.RetryCount != 2 {
		t.Errorf("RetryCount = %d, want 2", node.RetryCount)
	}
	if node.LastError != "world desync" {
		t.Errorf("LastError = %q", node.LastError)
	}
}

// TestRetryRecovers verifies a task that fails once then succeeds ends
// completed.
func TestRetryRecovers(t *testing.T) {
	q := queue.New(3)
	mustAdd(t, q, &task.Task{ID: "flaky", Type: "work"})

	var attempts atomic.Int32
	s := New(fastConfig(), q)
	s.RegisterHandler("work", func(ctx context.Context, tk *task.Task) error {
		if attempts.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	node, _ := q.Get("flaky")
	if node.Status != task.StatusCompleted {
		t.Errorf("status = %v, want completed", node.Status)
	}
}

// TestTimeoutFreesSlot verifies a handler that never returns is failed at
// its deadline and does not wedge the loop.
func TestTimeoutFreesSlot(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	q := queue.New(0)
	mustAdd(t, q, &task.Task{
		ID:      "stuck",
		Type:    "work",
		Timeout: 20 * time.Millisecond,
		Retry:   task.RetryPolicy{MaxAttempts: 1},
	})

	s := New(fastConfig(), q)
	s.RegisterHandler("work", func(ctx context.Context, tk *task.Task) error {
		<-release // ignores ctx entirely
		return nil
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	node, _ := q.Get("stuck")
	if node.Status != task.StatusFailed {
		t.Fatalf("status = %v, want failed", node.Status)
	}
	if node.LastError != "execution timed out" {
		t.Errorf("LastError = %q, want timeout reason", node.LastError)
	}
	if s.RunningCount() != 0 {
		t.Errorf("RunningCount() = %d, want 0", s.RunningCount())
	}
}

// TestTimeoutBeatsCompletion verifies a handler that notices its deadline
// and returns success anyway is still classified as timed out: a result
// produced after the deadline fired doesn't count.
func TestTimeoutBeatsCompletion(t *testing.T) {
	q := queue.New(0)
	mustAdd(t, q, &task.Task{
		ID:      "slow",
		Type:    "work",
		Timeout: 20 * time.Millisecond,
		Retry:   task.RetryPolicy{MaxAttempts: 1},
	})

	s := New(fastConfig(), q)
	s.RegisterHandler("work", func(ctx context.Context, tk *task.Task) error {
		<-ctx.Done()
		return nil // claims success after the deadline
	})

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	node, _ := q.Get("slow")
	if node.Status != task.StatusFailed {
		t.Fatalf("status = %v, want failed", node.Status)
	}
	if node.LastError != "execution timed out" {
		t.Errorf("LastError = %q, want timeout reason", node.LastError)
	}
}

// TestStopAbortsRunning verifies Stop cancels in-flight tasks, marks them
// failed with the stop reason, and unblocks Run.
func TestStopAbortsRunning(t *testing.T) {
	q := queue.New(0)
	for _, id := range []string{"long-1", "long-2", "long-3"} {
		mustAdd(t, q, &task.Task{ID: id, Type: "work"})
	}

	s := New(fastConfig(), q)
	s.RegisterHandler("work", func(ctx context.Context, tk *task.Task) error {
		<-ctx.Done()
		return ctx.Err()
	})

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	waitFor(t, 2*time.Second, func() bool { return s.RunningCount() == 3 })
	s.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() after Stop = %v, want nil", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after Stop")
	}

	if s.RunningCount() != 0 {
		t.Errorf("RunningCount() = %d, want 0", s.RunningCount())
	}
	failed := q.FailedTasks()
	if len(failed) != 3 {
		t.Fatalf("FailedTasks() = %d, want 3", len(failed))
	}
	for _, node := range failed {
		if node.LastError != "scheduler stopped" {
			t.Errorf("task %s LastError = %q", node.Task.ID, node.LastError)
		}
	}

	// Idempotent.
	s.Stop()
}

// TestNoHandlerFailsFast verifies an unregistered task type aborts the run.
func TestNoHandlerFailsFast(t *testing.T) {
	q := queue.New(0)
	mustAdd(t, q, &task.Task{ID: "orphan", Type: "unregistered"})

	s := New(fastConfig(), q)
	err := s.Run(context.Background())
	if !errors.Is(err, ErrNoHandler) {
		t.Fatalf("Run() = %v, want ErrNoHandler", err)
	}
}

// TestStalledOnDeadDependency verifies the loop reports a stall instead of
// spinning when pending tasks sit behind a terminally failed dependency.
func TestStalledOnDeadDependency(t *testing.T) {
	q := queue.New(0)
	mustAdd(t, q,
		&task.Task{ID: "doomed", Type: "work", Retry: task.RetryPolicy{MaxAttempts: 1}},
		&task.Task{ID: "waiting", Type: "work", DependsOn: []string{"doomed"}},
	)

	s := New(fastConfig(), q)
	s.RegisterHandler("work", func(ctx context.Context, tk *task.Task) error {
		return errors.New("cannot reach the site")
	})

	err := s.Run(context.Background())
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("Run() = %v, want ErrStalled", err)
	}

	if node, _ := q.Get("waiting"); node.Status != task.StatusPending {
		t.Errorf("waiting status = %v, want still pending", node.Status)
	}
}

// TestContextCancellation verifies cancelling the run context aborts
// in-flight work.
func TestContextCancellation(t *testing.T) {
	q := queue.New(0)
	mustAdd(t, q, &task.Task{ID: "long", Type: "work"})

	s := New(fastConfig(), q)
	started := make(chan struct{})
	var once sync.Once
	s.RegisterHandler("work", func(ctx context.Context, tk *task.Task) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	<-started
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run() = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

// TestConflictGate verifies the tool-contention gate: the winner runs
// first and the loser is only dispatched once the tool frees up.
func TestConflictGate(t *testing.T) {
	q := queue.New(0)
	exclusive := task.Requirements{Tool: "diamond_pickaxe"}
	mustAdd(t, q,
		&task.Task{ID: "alpha", Type: "work", Requirements: exclusive},
		&task.Task{ID: "beta", Type: "work", Requirements: exclusive},
	)

	rec := &startRecorder{}
	s := New(fastConfig(), q)
	s.RegisterHandler("work", func(ctx context.Context, tk *task.Task) error {
		rec.record(tk.ID)
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	detector := conflict.NewDetector(emptyInventory{})
	resolver := conflict.NewResolver(q, emptyInventory{}, nil, nil)
	s.SetConflictArbiter(detector, resolver)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	for _, id := range []string{"alpha", "beta"} {
		node, _ := q.Get(id)
		if node.Status != task.StatusCompleted {
			t.Errorf("task %s status = %v, want completed", id, node.Status)
		}
	}
	// Equal priority: alpha wins on id, beta must wait its turn.
	if a, b := rec.indexOf("alpha"), rec.indexOf("beta"); a > b {
		t.Errorf("beta started before alpha: order %v", rec.order)
	}
}

// TestResourceArbitration verifies the priority-10 task wins the
// oversubscribed allocation and runs first; the loser is held back until
// the winner finishes and the pool suffices for it alone.
func TestResourceArbitration(t *testing.T) {
	q := queue.New(0)
	need := task.Requirements{Items: []task.ItemRequirement{{Item: "iron_ore", Quantity: 60}}}
	mustAdd(t, q,
		&task.Task{ID: "smelt-1", Type: "work", Priority: 5, Requirements: need},
		&task.Task{ID: "smelt-2", Type: "work", Priority: 10, Requirements: need},
	)

	rec := &startRecorder{}
	s := New(fastConfig(), q)
	s.RegisterHandler("work", func(ctx context.Context, tk *task.Task) error {
		rec.record(tk.ID)
		time.Sleep(10 * time.Millisecond)
		return nil
	})

	inv := fixedInventory{"iron_ore": 100}
	detector := conflict.NewDetector(inv)
	resolver := conflict.NewResolver(q, inv, nil, nil)
	s.SetConflictArbiter(detector, resolver)

	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run() error: %v", err)
	}

	for _, id := range []string{"smelt-1", "smelt-2"} {
		node, _ := q.Get(id)
		if node.Status != task.StatusCompleted {
			t.Errorf("task %s status = %v, want completed", id, node.Status)
		}
	}
	// Priority beats id order: smelt-2 must start first.
	if a, b := rec.indexOf("smelt-2"), rec.indexOf("smelt-1"); a > b {
		t.Errorf("lower-priority task started first: order %v", rec.order)
	}
}

type emptyInventory struct{}

func (emptyInventory) AvailableQuantity(string) int { return 0 }

type fixedInventory map[string]int

func (f fixedInventory) AvailableQuantity(item string) int { return f[item] }

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}
