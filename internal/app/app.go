package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"beer_counter/internal/config"
	"beer_counter/internal/dedup"
	"beer_counter/internal/discovery"
	"beer_counter/internal/events"
	"beer_counter/internal/feed"
	"beer_counter/internal/feed/bridge"
	"beer_counter/internal/feed/spool"
	"beer_counter/internal/httpapi"
	"beer_counter/internal/jobs"
	"beer_counter/internal/ledger"
	"beer_counter/internal/notify"
	"beer_counter/internal/remote"
	"beer_counter/internal/responder"
	"beer_counter/internal/syncer"
	"beer_counter/internal/temporal"
)

// App wires the ingestion and sync components together.
type App struct {
	cfg    config.Config
	log    *slog.Logger
	ledger *ledger.Store
	index  *dedup.Index
	source feed.Source
	spool  *spool.Source
	bridge *bridge.Client
	loop   *discovery.Loop
	bus    *events.Bus
	reply  *responder.Responder
	remote *remote.Client
	syncer *syncer.Agent
	runner *jobs.Runner
	mux    *http.ServeMux
}

// NewLogger builds the process logger from LOG_LEVEL and LOG_FORMAT.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}
	if strings.ToLower(format) == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// OpenLedger opens the configured ledger.
func OpenLedger(cfg config.Config) (*ledger.Store, error) {
	st, err := ledger.Open(cfg.DBDSN)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	return st, nil
}

// NewRemote returns the remote client, or nil when no url is configured.
func NewRemote(cfg config.Config) *remote.Client {
	c := remote.NewClient(cfg.Sync.URL, cfg.Sync.ReadURL, cfg.Sync.APIKey, &http.Client{Timeout: cfg.Sync.Timeout()})
	if !c.Enabled() {
		return nil
	}
	return c
}

func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	st, err := OpenLedger(cfg)
	if err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, log: logger, ledger: st, index: dedup.New()}

	if cfg.Discovery.SeedFromLedger {
		ids, err := st.IDs(context.Background())
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("seed dedup index: %w", err)
		}
		a.index.Seed(ids)
		logger.Info("dedup index seeded", "ids", a.index.Len())
	}

	switch cfg.Feed.Kind {
	case config.FeedBridge:
		a.bridge = bridge.NewClient(cfg.Feed.BridgeURL, cfg.Feed.BridgeToken, cfg.Feed.CallTimeout(), logger.With("component", "bridge"))
		a.source = a.bridge
	default:
		a.spool = spool.New(cfg.Feed.SpoolDir, logger.With("component", "spool"))
		a.source = a.spool
	}

	resolver := temporal.New(cfg.Location, cfg.Discovery.SkewTolerance())
	a.loop = discovery.New(discovery.Config{
		EmptyThreshold: cfg.Discovery.EmptyThreshold,
		BurstSteps:     cfg.Discovery.BurstSteps,
		BackfillDelay:  cfg.Discovery.BackfillDelay(),
		PollInterval:   cfg.Discovery.PollInterval(),
		BurstDelay:     cfg.Discovery.BurstDelay(),
	}, a.source, st, a.index, resolver, logger.With("component", "discovery"))
	a.bus = events.NewBus()
	a.loop.SetPublisher(a.bus)

	poster := notify.NewPoster(cfg.Responder.PostURL, cfg.Responder.BotID, &http.Client{Timeout: 10 * time.Second})
	if poster.Enabled() {
		a.reply = responder.New(responder.Config{
			Mention:      cfg.Responder.Mention,
			Phrase:       cfg.Responder.Phrase,
			Reply:        cfg.Responder.Reply,
			InitialTotal: cfg.Responder.InitialTotal,
		}, st, poster, logger.With("component", "responder"))
		a.loop.SetObserver(a.reply)
	}

	a.remote = NewRemote(cfg)
	syncCfg := syncer.Config{BatchSize: cfg.Sync.BatchSize, Timeout: cfg.Sync.Timeout()}
	if a.remote != nil {
		a.syncer = syncer.New(st, a.remote, syncCfg, logger.With("component", "sync"))
	} else {
		a.syncer = syncer.New(st, nil, syncCfg, logger.With("component", "sync"))
	}

	a.runner = jobs.NewRunner(logger.With("component", "jobs"))
	a.runner.Add(jobs.Job{
		Name:    "scan",
		Next:    a.loop.NextDelay,
		Timeout: cfg.Discovery.TickTimeout(),
		Work: func(ctx context.Context) error {
			_, err := a.loop.Tick(ctx)
			return err
		},
	})
	a.runner.Add(jobs.Job{
		Name:     "sync",
		Interval: cfg.Sync.Interval(),
		Timeout:  cfg.Sync.Timeout() + 5*time.Second,
		Work: func(ctx context.Context) error {
			_, err := a.syncer.RunOnce(ctx)
			return err
		},
	})

	a.mux = http.NewServeMux()
	httpapi.NewRouter(httpapi.Deps{
		Ledger:       st,
		Scanner:      a.loop,
		Syncer:       a.syncer,
		Jobs:         a.runner,
		Stream:       a.bus,
		InitialTotal: cfg.Responder.InitialTotal,
		Location:     cfg.Location,
		Logger:       logger.With("component", "http"),
	}).Register(a.mux)
	return a, nil
}

// Run starts the feed watcher, both jobs and the HTTP server, and blocks
// until ctx is done.
func (a *App) Run(ctx context.Context) error {
	if a.spool != nil && a.cfg.Feed.Watch {
		if err := a.spool.Watch(ctx); err != nil {
			return fmt.Errorf("watch spool: %w", err)
		}
	}
	a.runner.Start(ctx)
	defer a.runner.Stop()

	srv := &http.Server{Addr: a.cfg.HTTPPort, Handler: a.mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	a.log.Info("http listening", "addr", a.cfg.HTTPPort, "feed", a.cfg.Feed.Kind, "sync_enabled", a.syncer.Enabled())
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *App) Close() error {
	var errs []error
	if a.bridge != nil {
		errs = append(errs, a.bridge.Close())
	}
	errs = append(errs, a.ledger.Close())
	return errors.Join(errs...)
}

func (a *App) Ledger() *ledger.Store { return a.ledger }
func (a *App) Loop() *discovery.Loop { return a.loop }
func (a *App) Syncer() *syncer.Agent { return a.syncer }
func (a *App) Runner() *jobs.Runner  { return a.runner }
func (a *App) Index() *dedup.Index   { return a.index }
func (a *App) Bus() *events.Bus      { return a.bus }
func (a *App) Mux() *http.ServeMux   { return a.mux }
