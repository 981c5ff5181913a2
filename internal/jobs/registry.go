package jobs

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hubenschmidt/livesession/internal/metrics"
)

var ErrNotFound = errors.New("job not found")

// Info describes a tracked job.
type Info struct {
	ID      string    `json:"id"`
	Title   string    `json:"title"`
	Started time.Time `json:"started"`
}

type entry struct {
	info   Info
	cancel context.CancelFunc
}

// Registry tracks long-running external jobs. Jobs outlive a single live
// connection and are cancelled only by CancelAll or Cancel.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*entry
	wg   sync.WaitGroup
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*entry)}
}

// Register tracks a job whose work is managed by the caller. It reports
// false if the id is already tracked.
func (r *Registry) Register(id, title string, cancel context.CancelFunc) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.jobs[id]; dup {
		return false
	}
	if cancel == nil {
		cancel = func() {}
	}
	r.jobs[id] = &entry{info: Info{ID: id, Title: title, Started: time.Now()}, cancel: cancel}
	metrics.JobsActive.Set(float64(len(r.jobs)))
	return true
}

// Start runs fn under a cancellable child of parent and removes the job
// when fn returns. It reports false if the id is already tracked.
func (r *Registry) Start(parent context.Context, id, title string, fn func(ctx context.Context) error) bool {
	ctx, cancel := context.WithCancel(parent)
	if !r.Register(id, title, cancel) {
		cancel()
		return false
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer cancel()
		defer r.CompleteAndRemove(id)
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			slog.Warn("job failed", "job_id", id, "title", title, "error", err)
			return
		}
		slog.Info("job finished", "job_id", id, "title", title)
	}()
	return true
}

// CompleteAndRemove forgets a job after a terminal observation.
func (r *Registry) CompleteAndRemove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return false
	}
	delete(r.jobs, id)
	metrics.JobsActive.Set(float64(len(r.jobs)))
	return true
}

func (r *Registry) Cancel(id string) error {
	r.mu.Lock()
	e, ok := r.jobs[id]
	delete(r.jobs, id)
	metrics.JobsActive.Set(float64(len(r.jobs)))
	r.mu.Unlock()
	if !ok {
		return ErrNotFound
	}
	e.cancel()
	return nil
}

// CancelAll cancels and forgets every job. Used on full shutdown only.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	jobs := r.jobs
	r.jobs = make(map[string]*entry)
	metrics.JobsActive.Set(0)
	r.mu.Unlock()
	for id, e := range jobs {
		slog.Info("cancelling job", "job_id", id)
		e.cancel()
	}
}

func (r *Registry) Has(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[id]
	return ok
}

// List returns tracked jobs, oldest first.
func (r *Registry) List() []Info {
	r.mu.Lock()
	out := make([]Info, 0, len(r.jobs))
	for _, e := range r.jobs {
		out = append(out, e.info)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// Wait blocks until every job started with Start has returned.
func (r *Registry) Wait() { r.wg.Wait() }
