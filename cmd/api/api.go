// Package api implements the api command.
package api

import (
	"github.com/spf13/cobra"

	"github.com/jonesrussell/site-auditor/internal/bootstrap"
)

// Command returns the api command.
func Command(configPath func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "api",
		Short: "Serve the site and audit HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return bootstrap.RunAPI(cmd.Context(), configPath())
		},
	}
}
