package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"screentime/internal/config"
	"screentime/internal/logging"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	cfg    *config.Config
	logger *zap.Logger
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "screentime",
		Short:         "Screen time coordination server for multi-parent families",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			opts.cfg = config.Load()
			logger, err := logging.New(opts.cfg.LogLevel, opts.cfg.LogFormat)
			if err != nil {
				return fmt.Errorf("failed to build logger: %w", err)
			}
			opts.logger = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
	}

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newCleanupCommand(opts))
	cmd.AddCommand(newTokenCommand(opts))
	return cmd
}
