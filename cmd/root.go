// Package cmd defines and implements the CLI commands for the gamesdb-crawler executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gamesdb-crawler/internal/config"
	"github.com/JakeFAU/gamesdb-crawler/internal/logging"
)

type appKeyType struct{}

var appKey appKeyType

// App bundles the services every subcommand needs.
type App struct {
	Config config.Config
	Logger *zap.Logger
}

// newApp is the application factory. It's a variable so tests can swap it.
var newApp = func(configPath string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Config{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return &App{Config: cfg, Logger: logger}, nil
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "gamesdb-crawler",
		Short: "Resumable crawler for thegamesdb.net game listings.",
		Long: `gamesdb-crawler walks the thegamesdb.net game listing for each configured
target, fetches every game page it has not already completed, and appends
one record per game to the configured sinks. Progress is checkpointed per
item, so an interrupted crawl resumes where it stopped.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, app))
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if app, err := resolveApp(cmd.Context()); err == nil {
				_ = app.Logger.Sync() //nolint:errcheck // best-effort flush
			}
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newStatusCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*App, error) {
	app, ok := ctx.Value(appKey).(*App)
	if !ok || app == nil {
		return nil, errors.New("application services not initialized")
	}
	return app, nil
}

// Execute runs the root command until it finishes or SIGINT/SIGTERM arrives.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
