package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/voxbot/taskforge/internal/plan"
	"github.com/voxbot/taskforge/internal/queue"
)

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan.yaml>",
		Short: "Parse a plan and check its dependency graph for cycles",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := plan.Load(args[0])
			if err != nil {
				return err
			}

			tasks, err := p.BuildTasks()
			if err != nil {
				return err
			}

			// AddTask validates acyclicity incrementally, so loading the
			// whole plan into a throwaway queue is the full check.
			q := queue.New(0)
			for _, t := range tasks {
				if err := q.AddTask(t); err != nil {
					return err
				}
			}

			fmt.Printf("%s: %d tasks, %d immediately ready\n", p.Name, q.Len(), len(q.ReadyTasks()))
			return nil
		},
	}
}
