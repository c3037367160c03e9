// Package migrate implements the migrate command.
package migrate

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/site-auditor/internal/bootstrap"
	"github.com/jonesrussell/site-auditor/internal/database"
)

// Command returns the migrate command with up and down subcommands.
func Command(configPath func() string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}
	cmd.AddCommand(
		directionCommand(configPath, database.Up, "Apply all pending migrations"),
		directionCommand(configPath, database.Down, "Roll back all migrations"),
	)
	return cmd
}

func directionCommand(configPath func() string, direction database.Direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   string(direction),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.RunMigrate(cmd.Context(), configPath(), direction)
		},
	}
}
