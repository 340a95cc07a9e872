// Package actor is a thin stub for the Actor Runner (spec §4.L): job
// submission and cron-expression gating for scraping-style jobs. The
// scraping internals (browser automation, fingerprinting, proxy rotation)
// are out of scope per the original Non-goals; this package only implements
// the submission/status contract so the Router has a real consumer to call.
package actor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
)

// Status is a job's lifecycle state.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusRunning Status = "running"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Template is the metadata + input schema for one actor kind, mirroring
// ActorTemplate's id/name/icon/category/input_schema.
type Template struct {
	ID          string
	Name        string
	Icon        string
	Category    string
	Description string
	InputSchema map[string]any
}

// Executor runs one job's input and produces its result. Concrete scraping
// logic is supplied by the caller; this package never implements it.
type Executor func(ctx context.Context, templateID string, input map[string]any) (Result, error)

// Result mirrors ActorResult.to_dict's shape.
type Result struct {
	Status         Status           `json:"status"`
	Data           []map[string]any `json:"data,omitempty"`
	Error          string           `json:"error,omitempty"`
	PagesCrawled   int              `json:"pages_crawled,omitempty"`
	ItemsExtracted int              `json:"items_extracted,omitempty"`
}

// Job is one submitted or scheduled actor run.
type Job struct {
	ID         string
	TemplateID string
	Input      map[string]any
	Schedule   string // cron expression; empty means run-once
	Status     Status
	Result     Result
	CreatedAt  time.Time
	LastRunAt  time.Time
}

var (
	ErrUnknownTemplate = errors.New("actor: unknown template")
	ErrUnknownJob      = errors.New("actor: unknown job")
)

// Runner owns the template registry and the in-memory job table, and
// decides when a scheduled job's cron expression is due.
type Runner struct {
	mu        sync.Mutex
	templates map[string]Template
	jobs      map[string]*Job
	executor  Executor
	cron      gronx.Gronx
	now       func() time.Time
}

// NewRunner constructs a Runner from a fixed template set and the Executor
// that actually performs each job's work.
func NewRunner(templates []Template, executor Executor) *Runner {
	r := &Runner{
		templates: make(map[string]Template, len(templates)),
		jobs:      make(map[string]*Job),
		executor:  executor,
		cron:      gronx.New(),
		now:       time.Now,
	}
	for _, t := range templates {
		r.templates[t.ID] = t
	}
	return r
}

// Templates lists the registered actor templates, for a picker UI.
func (r *Runner) Templates() []Template {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Template, 0, len(r.templates))
	for _, t := range r.templates {
		out = append(out, t)
	}
	return out
}

// Submit enqueues a job. A non-empty Schedule makes it a recurring job that
// Tick only runs when its cron expression is due; an empty Schedule makes it
// run-once, executed synchronously by Submit itself.
func (r *Runner) Submit(ctx context.Context, id, templateID string, input map[string]any, schedule string) (*Job, error) {
	r.mu.Lock()
	if _, ok := r.templates[templateID]; !ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownTemplate, templateID)
	}
	job := &Job{
		ID: id, TemplateID: templateID, Input: input, Schedule: schedule,
		Status: StatusQueued, CreatedAt: r.now(),
	}
	r.jobs[id] = job
	r.mu.Unlock()

	if schedule == "" {
		r.run(ctx, job)
	}
	return job, nil
}

// Tick checks every recurring job's cron expression against the current
// time and runs the ones that are due. Callers invoke this from their own
// ticker loop (spec §4.L names no fixed tick interval).
func (r *Runner) Tick(ctx context.Context) {
	r.mu.Lock()
	due := make([]*Job, 0)
	now := r.now()
	for _, job := range r.jobs {
		if job.Schedule == "" || job.Status == StatusRunning {
			continue
		}
		ok, err := r.cron.IsDue(job.Schedule, now)
		if err != nil || !ok {
			continue
		}
		due = append(due, job)
	}
	r.mu.Unlock()

	for _, job := range due {
		r.run(ctx, job)
	}
}

func (r *Runner) run(ctx context.Context, job *Job) {
	r.mu.Lock()
	job.Status = StatusRunning
	job.LastRunAt = r.now()
	r.mu.Unlock()

	result, err := r.executor(ctx, job.TemplateID, job.Input)
	if err != nil {
		result = Result{Status: StatusError, Error: err.Error()}
	}
	if result.Status == "" {
		result.Status = StatusSuccess
	}

	r.mu.Lock()
	job.Status = result.Status
	job.Result = result
	r.mu.Unlock()
}

// Status returns the current state of a submitted job.
func (r *Runner) Status(id string) (*Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	cp := *job
	return &cp, nil
}
