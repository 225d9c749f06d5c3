package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/voxbot/taskforge/internal/config"
	"github.com/voxbot/taskforge/internal/conflict"
	"github.com/voxbot/taskforge/internal/events"
	"github.com/voxbot/taskforge/internal/journal"
	"github.com/voxbot/taskforge/internal/plan"
	"github.com/voxbot/taskforge/internal/queue"
	"github.com/voxbot/taskforge/internal/scheduler"
	"github.com/voxbot/taskforge/internal/task"
)

func newRunCmd() *cobra.Command {
	var journalPath string

	cmd := &cobra.Command{
		Use:   "run <plan.yaml>",
		Short: "Execute a plan with simulated handlers",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			settings, err := config.LoadDefault()
			if err != nil {
				return err
			}
			if journalPath != "" {
				settings.JournalPath = journalPath
			}

			return runPlan(ctx, settings, args[0])
		},
	}

	cmd.Flags().StringVar(&journalPath, "journal", "", "path to the SQLite audit journal (default: disabled)")
	return cmd
}

func runPlan(ctx context.Context, settings *config.Settings, planPath string) error {
	p, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	tasks, err := p.BuildTasks()
	if err != nil {
		return err
	}

	cfg, err := settings.SchedulerConfig()
	if err != nil {
		return err
	}

	q := queue.New(cfg.RetryAttempts)
	for _, t := range tasks {
		if err := q.AddTask(t); err != nil {
			return err
		}
	}

	bus := events.NewBus()
	defer bus.Close()

	inventory := staticInventory(p.Inventory)
	escalations := conflict.NewEscalations(settings.EscalationBuffer)
	detector := conflict.NewDetector(inventory)
	resolver := conflict.NewResolver(q, inventory, nil, escalations)

	sched := scheduler.New(cfg, q)
	sched.SetConflictArbiter(detector, resolver)
	sched.SetEventBus(bus)
	for _, t := range tasks {
		sched.RegisterHandler(t.Type, simulatedHandler)
	}

	printerCh := bus.SubscribeAll(512)

	g, gctx := errgroup.WithContext(ctx)

	if settings.JournalPath != "" {
		store, err := journal.Open(ctx, settings.JournalPath)
		if err != nil {
			return err
		}
		defer store.Close()

		recorder := journal.NewRecorder(store, bus)
		g.Go(func() error {
			err := recorder.Run(gctx)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	g.Go(func() error {
		printEvents(gctx, bus, printerCh)
		return nil
	})

	g.Go(func() error {
		defer bus.Close() // ends the printer and recorder
		return sched.Run(gctx)
	})

	runErr := g.Wait()

	printSummary(p.Name, q, escalations.Drain())

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// simulatedHandler sleeps for the task's "duration" parameter (default
// 100ms) and fails when "fail" is true. It exists so plans are runnable
// end to end without a game connection.
func simulatedHandler(ctx context.Context, t *task.Task) error {
	duration := 100 * time.Millisecond
	if raw, ok := t.Parameters["duration"].(string); ok {
		if d, err := time.ParseDuration(raw); err == nil {
			duration = d
		}
	}

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return ctx.Err()
	}

	if fail, ok := t.Parameters["fail"].(bool); ok && fail {
		return fmt.Errorf("simulated failure for task %s", t.ID)
	}
	return nil
}

// staticInventory serves the plan's inventory snapshot as the oracle.
type staticInventory map[string]int

func (s staticInventory) AvailableQuantity(item string) int {
	return s[item]
}
