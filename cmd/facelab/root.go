package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ayusman/facelab/internal/config"
	"github.com/ayusman/facelab/internal/logging"
)

// Version is the application version.
const Version = "0.1.0"

var (
	// cfg and logger are shared by subcommands once the root pre-run has loaded them.
	cfg    *config.Config
	logger *zap.SugaredLogger

	envFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:     "facelab",
	Short:   "Live face, pose and face mesh detection with a mirrored overlay",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile != "" {
			cfg = config.Load(envFile)
		} else {
			cfg = config.Load()
		}
		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
		}

		var err error
		logger, err = logging.New(logging.Options{Level: cfg.LogLevel, File: cfg.LogFile})
		if err != nil {
			return errors.Wrap(err, "failed to create logger")
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	SilenceUsage: true,
}

// Execute runs the root command until it finishes or the process is interrupted.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load (default: .env when present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
}
