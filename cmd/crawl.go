package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gamesdb-crawler/internal/api"
	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

func newCrawlCmd() *cobra.Command {
	var (
		opts         runOptions
		reuseListing bool
		metricsAddr  string
	)
	cmd := &cobra.Command{
		Use:   "crawl [target...]",
		Short: "Crawl one or more configured targets",
		Long: `Crawls each named target in turn, or every configured target when none
are named. Items already checkpointed by an earlier run are skipped, so
running the command again after an interruption or partial failure picks
up only what is missing.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("reuse-listing") {
				opts.reuseListing = &reuseListing
			}
			return runCrawlCommand(cmd, args, opts, metricsAddr)
		},
	}
	cmd.Flags().BoolVar(&reuseListing, "reuse-listing", false, "reuse the last complete listing snapshot instead of walking the listing")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 0, "override the number of concurrent detail fetches")
	cmd.Flags().IntVar(&opts.maxPages, "max-pages", 0, "stop the listing walk after this many pages")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics, /healthz and /status on this address")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, args []string, opts runOptions, metricsAddr string) error {
	ctx := cmd.Context()
	app, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	cfg, logger := app.Config, app.Logger

	targets := args
	if len(targets) == 0 {
		targets = cfg.TargetNames()
	}
	for _, name := range targets {
		if _, err := cfg.Target(name); err != nil {
			return err
		}
	}

	env, err := newCrawlEnv(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := env.Close(); cerr != nil {
			logger.Warn("failed to release crawl resources", zap.Error(cerr))
		}
	}()

	board := api.NewStatusBoard()
	if metricsAddr == "" {
		metricsAddr = cfg.Metrics.ListenAddr
	}
	stopServer := startStatusServer(ctx, metricsAddr, board, logger)
	defer stopServer()

	for _, name := range targets {
		if ctx.Err() != nil {
			break
		}
		board.Start(name)
		summary, err := env.runTarget(ctx, name, opts)
		board.Finish(summary, err)
		printSummary(cmd.OutOrStdout(), summary)

		switch {
		case err == nil:
		case errors.Is(err, crawler.ErrPersistence):
			return fmt.Errorf("crawl %s halted: %w", name, err)
		case summary.Interrupted || ctx.Err() != nil:
			logger.Warn("crawl interrupted; rerun to resume", zap.String("target", name))
		default:
			return fmt.Errorf("crawl %s: %w", name, err)
		}
	}
	return nil
}

// startStatusServer serves the status API until the returned stop func is called.
func startStatusServer(ctx context.Context, addr string, board *api.StatusBoard, logger *zap.Logger) func() {
	if addr == "" {
		return func() {}
	}
	srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := api.NewServer(board, logger).ListenAndServe(srvCtx, addr); err != nil {
			logger.Error("status server failed", zap.Error(err))
		}
	}()
	return func() {
		cancel()
		wg.Wait()
	}
}

func printSummary(w io.Writer, s crawler.Summary) {
	state := "complete"
	switch {
	case s.Interrupted:
		state = "interrupted"
	case !s.EnumerationComplete:
		state = "partial listing"
	}
	fmt.Fprintf(w, "%s: %d enumerated, %d skipped, %d succeeded, %d failed, %d pages (%s, run %s)\n",
		s.Target, s.Enumerated, s.Skipped, s.Succeeded, s.Failed, s.PagesCovered, state, s.RunID)
	if len(s.FailedIDs) > 0 {
		fmt.Fprintf(w, "%s: failed ids %v\n", s.Target, s.FailedIDs)
	}
}
