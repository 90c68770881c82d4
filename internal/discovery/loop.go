// Package discovery walks the visible feed, resolves each message into an
// event and decides when the history behind it has been exhausted.
//
// The loop starts in BACKFILLING: every tick scans the window, persists what
// is new and reveals older items. After EmptyThreshold consecutive steps
// without a new id it scrolls back to the newest items and switches to
// POLLING for good. A POLLING tick scans the newest window and, if anything
// new turned up, runs a short burst of reveal+scan steps to catch items that
// arrived while nobody was looking.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"beer_counter/internal/feed"
	"beer_counter/internal/ledger"
	"beer_counter/internal/metrics"
	"beer_counter/internal/temporal"
)

// ErrTransientSource marks a feed operation that failed; the tick is skipped
// and retried on the next one.
var ErrTransientSource = errors.New("transient source error")

// Mode is the loop state. It only ever moves from Backfilling to Polling.
type Mode string

const (
	ModeBackfilling Mode = "BACKFILLING"
	ModePolling     Mode = "POLLING"
)

// Store is the write side of the ledger.
type Store interface {
	InsertIfAbsent(ctx context.Context, ev ledger.Event) (bool, error)
}

// Index is the dedup gate.
type Index interface {
	Seen(id string) bool
	MarkSeen(id string)
}

// Publisher receives every event the ledger accepted.
type Publisher interface {
	Publish(ev ledger.Event)
}

// Observer sees the newest window of every POLLING tick.
type Observer interface {
	ObserveLatest(ctx context.Context, window []feed.Message)
}

// Config tunes convergence and pacing.
type Config struct {
	EmptyThreshold int
	BurstSteps     int
	BackfillDelay  time.Duration
	PollInterval   time.Duration
	BurstDelay     time.Duration
}

func DefaultConfig() Config {
	return Config{
		EmptyThreshold: 5,
		BurstSteps:     5,
		BackfillDelay:  3 * time.Second,
		PollInterval:   60 * time.Second,
		BurstDelay:     500 * time.Millisecond,
	}
}

// TickResult counts what one tick saw.
type TickResult struct {
	Scanned  int                `json:"scanned"`
	New      int                `json:"new"`
	Inserted int                `json:"inserted"`
	Skipped  int                `json:"skipped"`
	Skips    map[SkipReason]int `json:"skips,omitempty"`
}

func (r *TickResult) add(o TickResult) {
	r.Scanned += o.Scanned
	r.New += o.New
	r.Inserted += o.Inserted
	r.Skipped += o.Skipped
	for k, v := range o.Skips {
		if r.Skips == nil {
			r.Skips = make(map[SkipReason]int)
		}
		r.Skips[k] += v
	}
}

// Summary describes the backfill phase.
type Summary struct {
	Steps    int       `json:"steps"`
	Scanned  int       `json:"scanned"`
	New      int       `json:"new"`
	Inserted int       `json:"inserted"`
	Skipped  int       `json:"skipped"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished,omitempty"`
}

// Status is a snapshot for the ops API.
type Status struct {
	Mode       Mode       `json:"mode"`
	EmptySteps int        `json:"empty_steps"`
	LastTick   time.Time  `json:"last_tick"`
	LastError  string     `json:"last_error,omitempty"`
	LastResult TickResult `json:"last_result"`
	Backfill   Summary    `json:"backfill"`
}

type Loop struct {
	cfg      Config
	src      feed.Source
	store    Store
	index    Index
	resolver temporal.Resolver
	pub      Publisher
	observer Observer
	log      *slog.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error

	runMu      sync.Mutex
	mode       Mode
	emptySteps int
	backfill   *Pass
	summary    Summary

	statusMu sync.Mutex
	status   Status
}

func New(cfg Config, src feed.Source, store Store, index Index, resolver temporal.Resolver, logger *slog.Logger) *Loop {
	def := DefaultConfig()
	if cfg.EmptyThreshold <= 0 {
		cfg.EmptyThreshold = def.EmptyThreshold
	}
	if cfg.BurstSteps < 0 {
		cfg.BurstSteps = 0
	}
	if cfg.BackfillDelay <= 0 {
		cfg.BackfillDelay = def.BackfillDelay
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loop{
		cfg:      cfg,
		src:      src,
		store:    store,
		index:    index,
		resolver: resolver,
		log:      logger,
		now:      time.Now,
		sleep:    sleepCtx,
		mode:     ModeBackfilling,
	}
	l.status.Mode = ModeBackfilling
	return l
}

// SetPublisher registers p for newly inserted events. Call before the first Tick.
func (l *Loop) SetPublisher(p Publisher) {
	l.pub = p
}

// SetObserver registers o for the newest window. Call before the first Tick.
func (l *Loop) SetObserver(o Observer) {
	l.observer = o
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Mode returns the current loop state.
func (l *Loop) Mode() Mode {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	return l.status.Mode
}

// NextDelay is the pause before the next tick.
func (l *Loop) NextDelay() time.Duration {
	if l.Mode() == ModeBackfilling {
		return l.cfg.BackfillDelay
	}
	return l.cfg.PollInterval
}

func (l *Loop) Status() Status {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	st := l.status
	return st
}

// Tick runs one step of the current mode.
func (l *Loop) Tick(ctx context.Context) (TickResult, error) {
	l.runMu.Lock()
	defer l.runMu.Unlock()

	var (
		res TickResult
		err error
	)
	mode := l.mode
	if mode == ModeBackfilling {
		res, err = l.backfillStep(ctx)
	} else {
		res, err = l.poll(ctx)
	}
	metrics.IncScanTicks()
	if err != nil {
		metrics.IncScanErrors()
		l.log.Warn("scan tick failed", "mode", mode, "err", err)
	} else {
		l.log.Info("scan tick", "mode", mode, "scanned", res.Scanned, "new", res.New, "inserted", res.Inserted, "skipped", res.Skipped)
	}
	l.record(res, err)
	return res, err
}

func (l *Loop) record(res TickResult, err error) {
	l.statusMu.Lock()
	defer l.statusMu.Unlock()
	l.status.Mode = l.mode
	l.status.EmptySteps = l.emptySteps
	l.status.LastTick = l.now().UTC()
	l.status.LastResult = res
	l.status.Backfill = l.summary
	l.status.LastError = ""
	if err != nil {
		l.status.LastError = err.Error()
	}
}

func (l *Loop) backfillStep(ctx context.Context) (TickResult, error) {
	if l.backfill == nil {
		l.backfill = NewPass(l.resolver, l.now())
		l.summary = Summary{Started: l.now().UTC()}
		l.log.Info("backfill started", "pass", l.backfill.ID)
	}
	_, res, err := l.scan(ctx, l.backfill)
	if err != nil {
		return res, err
	}
	l.summary.Steps++
	l.summary.Scanned += res.Scanned
	l.summary.New += res.New
	l.summary.Inserted += res.Inserted
	l.summary.Skipped += res.Skipped
	if res.New == 0 {
		l.emptySteps++
	} else {
		l.emptySteps = 0
	}

	if l.emptySteps >= l.cfg.EmptyThreshold {
		if err := l.src.ScrollToLatest(ctx); err != nil {
			return res, fmt.Errorf("%w: scroll to latest: %w", ErrTransientSource, err)
		}
		l.summary.Finished = l.now().UTC()
		l.mode = ModePolling
		l.backfill = nil
		l.log.Info("backfill complete", "steps", l.summary.Steps, "scanned", l.summary.Scanned, "new", l.summary.New, "inserted", l.summary.Inserted, "skipped", l.summary.Skipped, "duration_ms", l.summary.Finished.Sub(l.summary.Started).Milliseconds())
		return res, nil
	}
	if err := l.src.RevealOlder(ctx); err != nil {
		return res, fmt.Errorf("%w: reveal older: %w", ErrTransientSource, err)
	}
	return res, nil
}

// poll scans the newest window under a fresh pass and, when it found new
// ids, keeps the same pass through a burst of older windows.
func (l *Loop) poll(ctx context.Context) (TickResult, error) {
	pass := NewPass(l.resolver, l.now())
	window, res, err := l.scan(ctx, pass)
	if err == nil && l.observer != nil {
		l.observer.ObserveLatest(ctx, window)
	}
	if err != nil || res.New == 0 || l.cfg.BurstSteps == 0 {
		return res, err
	}
	l.log.Info("catch-up burst", "pass", pass.ID, "steps", l.cfg.BurstSteps, "new", res.New)
	for i := 0; i < l.cfg.BurstSteps; i++ {
		if err := l.sleep(ctx, l.cfg.BurstDelay); err != nil {
			l.restore(ctx)
			return res, err
		}
		if err := l.src.RevealOlder(ctx); err != nil {
			l.restore(ctx)
			return res, fmt.Errorf("%w: reveal older: %w", ErrTransientSource, err)
		}
		_, step, err := l.scan(ctx, pass)
		res.add(step)
		if err != nil {
			l.restore(ctx)
			return res, err
		}
	}
	if err := l.src.ScrollToLatest(ctx); err != nil {
		return res, fmt.Errorf("%w: scroll to latest: %w", ErrTransientSource, err)
	}
	return res, nil
}

// restore puts the feed back on the newest items after an aborted burst.
func (l *Loop) restore(ctx context.Context) {
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if err := l.src.ScrollToLatest(ctx); err != nil {
		l.log.Warn("scroll to latest after aborted burst failed", "err", err)
	}
}

// scan persists one window. A failed insert stops the scan before the id is
// marked seen or the pass advances past it.
func (l *Loop) scan(ctx context.Context, pass *Pass) ([]feed.Message, TickResult, error) {
	window, err := l.src.ListVisible(ctx)
	if err != nil {
		return nil, TickResult{}, fmt.Errorf("%w: list visible: %w", ErrTransientSource, err)
	}
	res := TickResult{Scanned: len(window)}
	for _, o := range Resolve(pass, window, l.index.Seen) {
		if o.Event != nil {
			inserted, err := l.store.InsertIfAbsent(ctx, *o.Event)
			if err != nil {
				return window, res, err
			}
			l.index.MarkSeen(o.MessageID)
			if inserted {
				res.Inserted++
				metrics.IncInserted()
				if l.pub != nil {
					l.pub.Publish(*o.Event)
				}
			}
		} else {
			res.Skipped++
			if res.Skips == nil {
				res.Skips = make(map[SkipReason]int)
			}
			res.Skips[o.Skip]++
			metrics.IncSkipped()
			if o.Skip.marksSeen() {
				l.index.MarkSeen(o.MessageID)
			}
			if o.Skip == SkipParseError {
				l.log.Debug("unparseable time label", "id", o.MessageID, "err", o.Err)
			}
		}
		if o.New {
			res.New++
		}
		pass.Commit(o)
	}
	return window, res, nil
}
