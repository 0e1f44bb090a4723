package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agentic-research/mrds/api"
	"github.com/agentic-research/mrds/internal/dataset"
	"github.com/agentic-research/mrds/internal/store"
)

var (
	verbose    bool
	configPath string

	log = zap.NewNop().Sugar()
)

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug output to stdout")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to an .hcl or .json import configuration")
}

var rootCmd = &cobra.Command{
	Use:           "mrds",
	Short:         "mrds: an index of MRI acquisitions by subject, session, sequence and run",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, err := newLogger(verbose)
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		zap.ReplaceGlobals(logger)
		log = logger.Sugar()
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = log.Sync() // safe to ignore
	},
}

func newLogger(verbose bool) (*zap.Logger, error) {
	if verbose {
		cfg := zap.NewDevelopmentConfig()
		cfg.OutputPaths = []string{"stdout"}
		return cfg.Build()
	}
	return zap.NewProduction()
}

// loadConfig returns the file named by --config, or the defaults.
func loadConfig() (*api.Config, error) {
	if configPath == "" {
		return api.DefaultConfig(), nil
	}
	return api.LoadConfig(configPath)
}

func loadDataset(path string) (*dataset.Dataset, error) {
	ds, err := store.LoadDataset(path)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return ds, nil
}

// Execute runs the root command. SIGINT and SIGTERM cancel its context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
