// taskforge runs game-agent task plans through the scheduling core with
// simulated handlers. Real deployments embed the library and register
// handlers that talk to the game world.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "taskforge",
		Short:         "Dependency-aware task scheduler for game-playing agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newValidateCmd())
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
