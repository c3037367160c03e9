// Package worker implements the worker command.
package worker

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/site-auditor/internal/bootstrap"
)

// Command returns the worker command. It consumes audit tasks and runs the
// retention and audit schedules until interrupted.
func Command(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Consume audit tasks from the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.RunWorker(cmd.Context(), configPath())
		},
	}
}
