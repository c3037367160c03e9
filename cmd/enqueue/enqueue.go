// Package enqueue implements the enqueue command.
package enqueue

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jonesrussell/site-auditor/internal/bootstrap"
)

// Command returns the enqueue command. It publishes one task for the given
// domain, or one per registered site with --all.
func Command(configPath func() string) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "enqueue [domain]",
		Short: "Queue an audit for a site or for every site",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if all == (len(args) == 1) {
				return errors.New("pass either a domain or --all")
			}
			var domain string
			if len(args) == 1 {
				domain = args[0]
			}

			n, err := bootstrap.RunEnqueue(cmd.Context(), configPath(), domain, all)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d audit task(s)\n", n)
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "queue every registered site")
	return cmd
}
