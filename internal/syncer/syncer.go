// Package syncer drains sync-pending ledger records to the remote store.
// Delivery is at-least-once: a record is flagged only after the remote
// acknowledged it, and the remote merges re-sent rows by id.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"beer_counter/internal/ledger"
	"beer_counter/internal/metrics"
	"beer_counter/internal/remote"
)

var ErrSync = errors.New("sync failed")

// Outbox is the read/flag side of the ledger.
type Outbox interface {
	ListUnsynced(ctx context.Context, limit int) ([]ledger.Record, error)
	MarkSynced(ctx context.Context, ids []string) error
}

type Remote interface {
	Upsert(ctx context.Context, rows []remote.Row) error
}

type Config struct {
	BatchSize int
	Timeout   time.Duration
}

// Result reports one run.
type Result struct {
	Pending int `json:"pending"`
	Pushed  int `json:"pushed"`
}

type Agent struct {
	outbox Outbox
	remote Remote
	cfg    Config
	log    *slog.Logger

	disabledOnce sync.Once
}

// New builds an Agent. A nil remote disables syncing.
func New(outbox Outbox, rem Remote, cfg Config, logger *slog.Logger) *Agent {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{outbox: outbox, remote: rem, cfg: cfg, log: logger}
}

func (a *Agent) Enabled() bool { return a.remote != nil }

// RunOnce pushes at most one batch of pending records.
func (a *Agent) RunOnce(ctx context.Context) (Result, error) {
	if a.remote == nil {
		a.disabledOnce.Do(func() { a.log.Info("sync disabled: no remote url configured") })
		return Result{}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	recs, err := a.outbox.ListUnsynced(ctx, a.cfg.BatchSize)
	if err != nil {
		return Result{}, fmt.Errorf("%w: list pending: %w", ErrSync, err)
	}
	res := Result{Pending: len(recs)}
	if len(recs) == 0 {
		return res, nil
	}
	rows := make([]remote.Row, 0, len(recs))
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		rows = append(rows, remote.RowFromEvent(r.Event))
		ids = append(ids, r.ID)
	}
	start := time.Now()
	if err := a.remote.Upsert(ctx, rows); err != nil {
		metrics.IncSyncFailures()
		return res, fmt.Errorf("%w: upsert %d rows: %w", ErrSync, len(rows), err)
	}
	if err := a.outbox.MarkSynced(ctx, ids); err != nil {
		metrics.IncSyncFailures()
		return res, fmt.Errorf("%w: mark %d synced: %w", ErrSync, len(ids), err)
	}
	res.Pushed = len(ids)
	metrics.AddSyncedBatch(len(ids))
	a.log.Info("sync batch pushed", "rows", len(ids), "duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

// Drain repeats RunOnce until a batch comes back short.
func (a *Agent) Drain(ctx context.Context) (Result, error) {
	var total Result
	for {
		res, err := a.RunOnce(ctx)
		total.Pending += res.Pending
		total.Pushed += res.Pushed
		if err != nil || res.Pushed < a.cfg.BatchSize {
			return total, err
		}
		if err := ctx.Err(); err != nil {
			return total, err
		}
	}
}
