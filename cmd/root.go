// Package cmd implements the site-auditor command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	cmdapi "github.com/jonesrussell/site-auditor/cmd/api"
	"github.com/jonesrussell/site-auditor/cmd/enqueue"
	"github.com/jonesrussell/site-auditor/cmd/migrate"
	"github.com/jonesrussell/site-auditor/cmd/worker"
	"github.com/jonesrussell/site-auditor/internal/bootstrap"
)

var (
	cfgFile string
	debug   bool

	rootCmd = &cobra.Command{
		Use:   "site-auditor",
		Short: "Audits registered websites through an asynchronous task queue",
		PersistentPreRun: func(_ *cobra.Command, _ []string) {
			if debug {
				_ = os.Setenv("APP_DEBUG", "true")
			}
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}
)

// Execute runs the root command. SIGINT and SIGTERM cancel the context
// handed to subcommands.
func Execute() error {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $CONFIG_PATH or ./config.yml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "site-auditor version %s\n", bootstrap.Version)
		},
	})

	configPath := func() string { return cfgFile }
	rootCmd.AddCommand(worker.Command(configPath))
	rootCmd.AddCommand(cmdapi.Command(configPath))
	rootCmd.AddCommand(migrate.Command(configPath))
	rootCmd.AddCommand(enqueue.Command(configPath))
}
