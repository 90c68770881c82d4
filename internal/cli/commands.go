// Package cli holds the beer-counter subcommands.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"beer_counter/internal/app"
	"beer_counter/internal/config"
	"beer_counter/internal/discovery"
	"beer_counter/internal/feed/bridge"
	"beer_counter/internal/feed/spool"
)

// RootCmd assembles the command tree.
func RootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "beer-counter",
		Short: "Count beers posted to a group chat and sync them to a shared store",
		Long: `beer-counter walks a chat feed from newest to oldest, dates every
message from its bare time label, records countable posts in a local
ledger and pushes them in batches to the aggregation store.`,
		SilenceUsage: true,
	}
	root.AddCommand(RunCmd())
	root.AddCommand(BackfillCmd())
	root.AddCommand(SyncCmd())
	root.AddCommand(TotalCmd())
	root.AddCommand(ReportCmd())
	root.AddCommand(BridgeCmd())
	return root
}

func loadConfig() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	logger := app.NewLogger(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

// RunCmd starts the long running ingester.
func RunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run discovery, sync and the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Run(cmd.Context())
		},
	}
}

// BackfillCmd runs discovery until the first backfill converges, then exits.
func BackfillCmd() *cobra.Command {
	var maxTicks int
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Walk the feed history once and record everything found",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			summary, err := runBackfill(cmd.Context(), a.Loop(), maxTicks)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().IntVar(&maxTicks, "max-ticks", 1000, "give up after this many scan ticks")
	return cmd
}

func runBackfill(ctx context.Context, loop *discovery.Loop, maxTicks int) (discovery.Summary, error) {
	for i := 0; i < maxTicks; i++ {
		if loop.Mode() == discovery.ModePolling {
			return loop.Status().Backfill, nil
		}
		if _, err := loop.Tick(ctx); err != nil {
			slog.Warn("backfill tick failed", "tick", i, "err", err)
		}
		if loop.Mode() == discovery.ModePolling {
			return loop.Status().Backfill, nil
		}
		select {
		case <-ctx.Done():
			return loop.Status().Backfill, ctx.Err()
		case <-time.After(loop.NextDelay()):
		}
	}
	return loop.Status().Backfill, fmt.Errorf("backfill did not converge after %d ticks", maxTicks)
}

// SyncCmd pushes every pending record and exits.
func SyncCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push all pending ledger records to the aggregation store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if cfg.Sync.URL == "" {
				return fmt.Errorf("SUPABASE_URL is not configured")
			}
			a, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer a.Close()
			res, err := a.Syncer().Drain(cmd.Context())
			fmt.Fprintf(cmd.OutOrStdout(), "pushed %d of %d pending\n", res.Pushed, res.Pending)
			return err
		},
	}
}

// TotalCmd prints the running total including the opening balance.
func TotalCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "total",
		Short: "Print the running total",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := app.OpenLedger(cfg)
			if err != nil {
				return err
			}
			defer st.Close()
			sum, err := st.Total(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Responder.InitialTotal+sum)
			return nil
		},
	}
}

// BridgeCmd serves a spool directory to remote ingesters over websocket.
func BridgeCmd() *cobra.Command {
	var (
		listen string
		dir    string
	)
	cmd := &cobra.Command{
		Use:   "bridge",
		Short: "Expose a spool directory as a feed agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}
			if dir == "" {
				dir = cfg.Feed.SpoolDir
			}
			src := spool.New(dir, logger.With("component", "spool"))
			if err := src.Watch(cmd.Context()); err != nil {
				return err
			}
			mux := http.NewServeMux()
			mux.Handle("/feed", bridge.NewHandler(src, cfg.Feed.BridgeToken, logger.With("component", "bridge")))
			srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(ctx)
			}()
			logger.Info("feed agent listening", "addr", listen, "dir", dir)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":9000", "listen address")
	cmd.Flags().StringVar(&dir, "dir", "", "spool directory (defaults to FEED_SPOOL_DIR)")
	return cmd
}
