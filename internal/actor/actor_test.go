package actor

import (
	"context"
	"errors"
	"testing"
	"time"
)

func webScraperTemplate() Template {
	return Template{ID: "web-scraper", Name: "Web Scraper", Category: "scraper"}
}

func TestSubmitRunOnceExecutesSynchronously(t *testing.T) {
	var gotTemplate string
	r := NewRunner([]Template{webScraperTemplate()}, func(ctx context.Context, templateID string, input map[string]any) (Result, error) {
		gotTemplate = templateID
		return Result{Status: StatusSuccess, ItemsExtracted: 3}, nil
	})

	job, err := r.Submit(context.Background(), "job-1", "web-scraper", map[string]any{"url": "https://example.com"}, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if gotTemplate != "web-scraper" {
		t.Fatalf("expected executor to run synchronously for a run-once job, got template %q", gotTemplate)
	}
	if job.Status != StatusSuccess || job.Result.ItemsExtracted != 3 {
		t.Fatalf("unexpected job state: %+v", job)
	}
}

func TestSubmitUnknownTemplateFails(t *testing.T) {
	r := NewRunner(nil, func(context.Context, string, map[string]any) (Result, error) {
		return Result{}, nil
	})
	_, err := r.Submit(context.Background(), "job-1", "missing", nil, "")
	if !errors.Is(err, ErrUnknownTemplate) {
		t.Fatalf("expected ErrUnknownTemplate, got %v", err)
	}
}

func TestExecutorErrorRecordedAsJobError(t *testing.T) {
	r := NewRunner([]Template{webScraperTemplate()}, func(context.Context, string, map[string]any) (Result, error) {
		return Result{}, errors.New("navigation timeout")
	})
	job, err := r.Submit(context.Background(), "job-1", "web-scraper", nil, "")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if job.Status != StatusError || job.Result.Error != "navigation timeout" {
		t.Fatalf("expected job to capture executor error, got %+v", job)
	}
}

func TestTickOnlyRunsDueScheduledJobs(t *testing.T) {
	runs := 0
	r := NewRunner([]Template{webScraperTemplate()}, func(context.Context, string, map[string]any) (Result, error) {
		runs++
		return Result{Status: StatusSuccess}, nil
	})
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return fixed }

	if _, err := r.Submit(context.Background(), "recurring", "web-scraper", nil, "* * * * *"); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if runs != 0 {
		t.Fatalf("expected recurring job not to run synchronously on Submit, ran %d times", runs)
	}
	if _, err := r.Submit(context.Background(), "later", "web-scraper", nil, "30 12 * * *"); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	r.Tick(context.Background())
	if runs != 1 {
		t.Fatalf("expected the due job to run exactly once, ran %d times", runs)
	}

	job, err := r.Status("recurring")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if job.Status != StatusSuccess {
		t.Fatalf("expected recurring job to report success after Tick, got %+v", job)
	}

	later, err := r.Status("later")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if later.Status != StatusQueued {
		t.Fatalf("expected the not-yet-due job to stay queued after Tick, got %+v", later)
	}
}

func TestStatusUnknownJobFails(t *testing.T) {
	r := NewRunner(nil, func(context.Context, string, map[string]any) (Result, error) {
		return Result{}, nil
	})
	_, err := r.Status("missing")
	if !errors.Is(err, ErrUnknownJob) {
		t.Fatalf("expected ErrUnknownJob, got %v", err)
	}
}
