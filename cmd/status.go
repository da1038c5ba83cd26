package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/gamesdb-crawler/internal/crawler"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <target>",
		Short: "Show checkpoint progress for a target",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatusCommand,
	}
}

func runStatusCommand(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	t, err := app.Config.Target(args[0])
	if err != nil {
		return err
	}

	env := &crawlEnv{cfg: app.Config, logger: app.Logger}
	defer func() {
		if cerr := env.Close(); cerr != nil {
			app.Logger.Warn("failed to close checkpoint store", zap.Error(cerr))
		}
	}()
	if err := env.openCheckpoints(ctx); err != nil {
		return err
	}

	state, err := env.checkpoints.Load(ctx, t.Name)
	if err != nil {
		return fmt.Errorf("load checkpoints: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "target: %s\n", t.Name)
	fmt.Fprintf(out, "start_url: %s\n", t.StartURL)
	fmt.Fprintf(out, "completed: %d\n", state.Len())

	if env.listings == nil {
		return nil
	}
	items, err := env.listings.LoadListing(ctx, t.Name)
	switch {
	case errors.Is(err, crawler.ErrNotFound):
		fmt.Fprintln(out, "listing snapshot: none")
	case err != nil:
		return fmt.Errorf("load listing snapshot: %w", err)
	default:
		pending := 0
		for _, item := range items {
			if !state.Has(item.ID) {
				pending++
			}
		}
		fmt.Fprintf(out, "listing snapshot: %d items, %d pending\n", len(items), pending)
	}
	return nil
}
