package main

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/voxbot/taskforge/internal/conflict"
	"github.com/voxbot/taskforge/internal/events"
	"github.com/voxbot/taskforge/internal/queue"
	"github.com/voxbot/taskforge/internal/task"
)

var (
	styleStarted  = lipgloss.NewStyle().Foreground(lipgloss.Color("12"))
	styleDone     = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	styleFailed   = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	styleRetry    = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	styleConflict = lipgloss.NewStyle().Foreground(lipgloss.Color("13"))
	styleHeader   = lipgloss.NewStyle().Bold(true).Underline(true)
)

// printEvents streams bus events to stdout until the bus closes or the
// context is cancelled. On early exit it unsubscribes so the bus stops
// filling a buffer nobody drains.
func printEvents(ctx context.Context, bus *events.Bus, ch <-chan events.Event) {
	defer bus.Unsubscribe(ch)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			printEvent(ev)
		}
	}
}

func printEvent(ev events.Event) {
	switch e := ev.(type) {
	case events.TaskStartedEvent:
		fmt.Println(styleStarted.Render(fmt.Sprintf("▶ %s (%s) attempt %d", e.ID, e.Type, e.Attempt+1)))
	case events.TaskCompletedEvent:
		fmt.Println(styleDone.Render(fmt.Sprintf("✓ %s in %s", e.ID, e.Duration.Round(0))))
	case events.TaskFailedEvent:
		fmt.Println(styleFailed.Render(fmt.Sprintf("✗ %s: %s", e.ID, e.Reason)))
	case events.TaskRetryingEvent:
		fmt.Println(styleRetry.Render(fmt.Sprintf("↻ %s attempt %d in %s (%s)", e.ID, e.Attempt, e.Delay, e.Reason)))
	case events.ConflictResolvedEvent:
		res := e.Resolution
		status := "resolved"
		if !res.Resolved {
			status = "unresolved"
		}
		fmt.Println(styleConflict.Render(fmt.Sprintf("⚔ %s conflict %s (%s): %s",
			res.Conflict.ConflictKind(), status, res.Action, res.Message)))
	}
}

// printSummary renders the final per-task outcome table and any conflicts
// that were escalated to the operator.
func printSummary(planName string, q *queue.Queue, escalated []conflict.Resolution) {
	fmt.Println()
	fmt.Println(styleHeader.Render(fmt.Sprintf("Plan %q summary", planName)))

	counts := q.Counts()
	fmt.Printf("  completed %d  failed %d  pending %d  retrying %d\n",
		counts[task.StatusCompleted], counts[task.StatusFailed],
		counts[task.StatusPending], counts[task.StatusRetrying])

	for _, node := range q.FailedTasks() {
		fmt.Println(styleFailed.Render(fmt.Sprintf("  failed: %s (%s)", node.Task.ID, node.LastError)))
	}

	if len(escalated) > 0 {
		fmt.Println(styleConflict.Render(fmt.Sprintf("  %d conflict(s) need operator attention:", len(escalated))))
		for _, res := range escalated {
			fmt.Println(styleConflict.Render(fmt.Sprintf("    %s: %s", res.Conflict.ConflictKind(), res.Message)))
		}
	}
}
