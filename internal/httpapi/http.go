package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"beer_counter/internal/discovery"
	"beer_counter/internal/jobs"
	"beer_counter/internal/ledger"
	"beer_counter/internal/metrics"
	"beer_counter/internal/report"
	"beer_counter/internal/syncer"
)

// Ledger is the read side used by the API.
type Ledger interface {
	Health(ctx context.Context) error
	Counts(ctx context.Context) (ledger.Counts, error)
	Total(ctx context.Context) (int, error)
	Recent(ctx context.Context, limit int) ([]ledger.Record, error)
	All(ctx context.Context) ([]ledger.Record, error)
}

type Scanner interface {
	Status() discovery.Status
	Tick(ctx context.Context) (discovery.TickResult, error)
}

type Syncer interface {
	RunOnce(ctx context.Context) (syncer.Result, error)
}

type JobStats interface {
	Stats() []jobs.Stats
}

// Stream hands out live feeds of newly recorded events.
type Stream interface {
	Subscribe() (<-chan ledger.Event, func())
}

// Deps are the components behind the routes. Scanner, Syncer, Jobs and Stream
// may be nil when the process only serves reads.
type Deps struct {
	Ledger       Ledger
	Scanner      Scanner
	Syncer       Syncer
	Jobs         JobStats
	Stream       Stream
	InitialTotal int
	Location     *time.Location
	Logger       *slog.Logger
}

// Router builds HTTP handlers for /api and /ops.
type Router struct {
	d Deps
}

func NewRouter(d Deps) *Router {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return &Router{d: d}
}

func (r *Router) Register(mux *http.ServeMux) {
	mux.HandleFunc("/ops/health", r.health)
	mux.HandleFunc("/ops/status", r.status)
	mux.HandleFunc("/ops/scan", r.scan)
	mux.HandleFunc("/ops/sync", r.sync)
	mux.HandleFunc("/api/total", r.total)
	mux.HandleFunc("/api/events", r.events)
	mux.HandleFunc("/api/report", r.report)
	mux.HandleFunc("/api/stream", r.stream)
}

func (r *Router) health(w http.ResponseWriter, req *http.Request) {
	if err := r.d.Ledger.Health(req.Context()); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (r *Router) status(w http.ResponseWriter, req *http.Request) {
	counts, err := r.d.Ledger.Counts(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	payload := map[string]any{
		"ledger":  counts,
		"metrics": metrics.Snapshot(),
	}
	if r.d.Scanner != nil {
		payload["discovery"] = r.d.Scanner.Status()
	}
	if r.d.Jobs != nil {
		payload["jobs"] = r.d.Jobs.Stats()
	}
	r.respondJSON(w, payload)
}

func (r *Router) scan(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.d.Scanner == nil {
		http.Error(w, "scanner not running", http.StatusServiceUnavailable)
		return
	}
	res, err := r.d.Scanner.Tick(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	r.respondJSON(w, res)
}

func (r *Router) sync(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.d.Syncer == nil {
		http.Error(w, "sync not configured", http.StatusServiceUnavailable)
		return
	}
	res, err := r.d.Syncer.RunOnce(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	r.respondJSON(w, res)
}

func (r *Router) total(w http.ResponseWriter, req *http.Request) {
	sum, err := r.d.Ledger.Total(req.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	r.respondJSON(w, map[string]int{
		"total":         r.d.InitialTotal + sum,
		"ledger_total":  sum,
		"initial_total": r.d.InitialTotal,
	})
}

func (r *Router) events(w http.ResponseWriter, req *http.Request) {
	limit := 50
	if v := strings.TrimSpace(req.URL.Query().Get("limit")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, 1000)
	}
	list, err := r.d.Ledger.Recent(req.Context(), limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []ledger.Record{}
	}
	r.respondJSON(w, list)
}

func (r *Router) report(w http.ResponseWriter, req *http.Request) {
	evs, err := report.FromLedger(req.Context(), r.d.Ledger)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if user := strings.TrimSpace(req.URL.Query().Get("user")); user != "" {
		r.respondJSON(w, map[string]any{"user": user, "days": report.UserDays(evs, user, r.d.Location)})
		return
	}
	r.respondJSON(w, report.Build(evs, r.d.Location))
}

func (r *Router) stream(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if r.d.Stream == nil {
		http.Error(w, "stream not available", http.StatusServiceUnavailable)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch, cancel := r.d.Stream.Subscribe()
	defer cancel()
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				r.d.Logger.Warn("encode stream event", "id", ev.ID, "err", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "event: recorded\ndata: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		case <-req.Context().Done():
			return
		}
	}
}

func (r *Router) respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		r.d.Logger.Warn("write json", "err", err)
	}
}
