package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"beer_counter/internal/metrics"
)

// Status values for job runs.
const (
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusPanicked  = "panicked"
)

// Job is a periodic unit of work. Runs of one job never overlap.
type Job struct {
	Name     string
	Interval time.Duration
	// Next, when set, is asked for the pause after every run and overrides
	// Interval.
	Next    func() time.Duration
	Timeout time.Duration
	Work    func(ctx context.Context) error
}

func (j Job) delay() time.Duration {
	if j.Next != nil {
		if d := j.Next(); d > 0 {
			return d
		}
	}
	if j.Interval <= 0 {
		return time.Second
	}
	return j.Interval
}

// Stats exposes per-job counters.
type Stats struct {
	Name           string    `json:"name"`
	Runs           uint64    `json:"runs"`
	Failed         uint64    `json:"failed"`
	LastRun        time.Time `json:"last_run"`
	LastDurationMs int64     `json:"last_duration_ms"`
	LastStatus     string    `json:"last_status"`
	LastError      string    `json:"last_error,omitempty"`
}

// Runner drives every registered job in its own goroutine.
type Runner struct {
	log  *slog.Logger
	jobs []Job

	mu      sync.Mutex
	stats   map[string]*Stats
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{log: logger, stats: make(map[string]*Stats)}
}

// Add registers j. Jobs added after Start are ignored.
func (r *Runner) Add(j Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		r.log.Warn("job added after start", "job", j.Name)
		return
	}
	r.jobs = append(r.jobs, j)
	r.stats[j.Name] = &Stats{Name: j.Name}
}

// Start runs every job immediately and then on its schedule.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.started {
		r.mu.Unlock()
		return
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	jobs := append([]Job(nil), r.jobs...)
	r.mu.Unlock()
	for _, j := range jobs {
		r.wg.Add(1)
		go r.loop(ctx, j)
	}
}

// Stop cancels the schedule and waits for in-flight runs.
func (r *Runner) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// Healthy returns true once the runner is started.
func (r *Runner) Healthy() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.started
}

func (r *Runner) Stats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.stats))
	for _, s := range r.stats {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (r *Runner) loop(ctx context.Context, j Job) {
	defer r.wg.Done()
	for {
		_ = r.Execute(ctx, j)
		t := time.NewTimer(j.delay())
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

// Execute runs j once with its timeout, recovering panics.
func (r *Runner) Execute(ctx context.Context, j Job) (err error) {
	start := time.Now()
	status := StatusSucceeded
	defer func() {
		if rec := recover(); rec != nil {
			status = StatusPanicked
			err = fmt.Errorf("job %s panic: %v", j.Name, rec)
		}
		if err != nil && status == StatusSucceeded {
			status = StatusFailed
		}
		r.finish(j.Name, start, status, err)
	}()
	jobCtx := ctx
	if j.Timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, j.Timeout)
		defer cancel()
	}
	return j.Work(jobCtx)
}

func (r *Runner) finish(name string, start time.Time, status string, err error) {
	elapsed := time.Since(start)
	if err != nil {
		metrics.IncFailed()
		r.log.Warn("job finished", "job", name, "duration_ms", elapsed.Milliseconds(), "status", status, "err", err)
	} else {
		metrics.IncSucceeded()
		r.log.Debug("job finished", "job", name, "duration_ms", elapsed.Milliseconds(), "status", status)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.stats[name]
	if !ok {
		s = &Stats{Name: name}
		r.stats[name] = s
	}
	s.Runs++
	s.LastRun = start.UTC()
	s.LastDurationMs = elapsed.Milliseconds()
	s.LastStatus = status
	s.LastError = ""
	if err != nil {
		s.Failed++
		s.LastError = err.Error()
	}
}
