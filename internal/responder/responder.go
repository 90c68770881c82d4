// Package responder answers "how many so far" questions posted in the chat
// with the running total.
package responder

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"beer_counter/internal/feed"
	"beer_counter/internal/metrics"
	"beer_counter/internal/notify"
)

const (
	DefaultMention = "@PivoBot"
	DefaultPhrase  = "koliko piva"
	DefaultReply   = "Piva popijenih do sad: %d"
)

type Totaler interface {
	Total(ctx context.Context) (int, error)
}

type Poster interface {
	Post(ctx context.Context, msg notify.Message) error
}

type Config struct {
	Mention      string
	Phrase       string
	Reply        string
	InitialTotal int
}

// Responder replies at most once per observed window and never to the same
// message twice.
type Responder struct {
	cfg    Config
	ledger Totaler
	poster Poster
	log    *slog.Logger

	mu       sync.Mutex
	answered map[string]struct{}
}

func New(cfg Config, ledger Totaler, poster Poster, logger *slog.Logger) *Responder {
	if cfg.Mention == "" {
		cfg.Mention = DefaultMention
	}
	if cfg.Phrase == "" {
		cfg.Phrase = DefaultPhrase
	}
	if cfg.Reply == "" || !strings.Contains(cfg.Reply, "%d") {
		cfg.Reply = DefaultReply
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Responder{cfg: cfg, ledger: ledger, poster: poster, log: logger, answered: make(map[string]struct{})}
}

// IsQuery reports whether text mentions the bot and asks for the total.
func (r *Responder) IsQuery(text string) bool {
	lower := strings.ToLower(text)
	return strings.Contains(lower, strings.ToLower(r.cfg.Mention)) && strings.Contains(lower, strings.ToLower(r.cfg.Phrase))
}

// Total is the opening balance plus everything in the ledger.
func (r *Responder) Total(ctx context.Context) (int, error) {
	sum, err := r.ledger.Total(ctx)
	if err != nil {
		return 0, err
	}
	return r.cfg.InitialTotal + sum, nil
}

// ObserveLatest answers unanswered queries in the newest window. All queries in
// the window share one reply. A failed post leaves them unanswered.
func (r *Responder) ObserveLatest(ctx context.Context, window []feed.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var pending []string
	for _, m := range window {
		if m.ID == "" {
			continue
		}
		if _, done := r.answered[m.ID]; done {
			continue
		}
		if r.IsQuery(m.Payload.Text) {
			pending = append(pending, m.ID)
		}
	}
	if len(pending) == 0 {
		return
	}
	total, err := r.Total(ctx)
	if err != nil {
		r.log.Warn("responder total failed", "err", err)
		return
	}
	if err := r.poster.Post(ctx, notify.Message{Text: fmt.Sprintf(r.cfg.Reply, total)}); err != nil {
		r.log.Warn("responder post failed", "queries", len(pending), "err", err)
		return
	}
	for _, id := range pending {
		r.answered[id] = struct{}{}
	}
	metrics.IncReplies()
	r.log.Info("responder answered", "total", total, "queries", len(pending))
}
