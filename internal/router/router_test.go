package router

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/peopleinfo/pocketpaw/internal/agentevent"
	"github.com/peopleinfo/pocketpaw/internal/backend"
)

type stubBackend struct {
	stopped bool
}

func (s *stubBackend) Info() backend.Info { return backend.Info{Name: "stub"} }

func (s *stubBackend) Run(ctx context.Context, req backend.RunRequest) <-chan agentevent.Event {
	seq := agentevent.NewSequence(2)
	seq.Emit(agentevent.Event{Type: agentevent.Message, Content: "ok"})
	seq.Emit(agentevent.Event{Type: agentevent.Done})
	return seq.Chan()
}

func (s *stubBackend) Stop() { s.stopped = true }

func TestRouterLazilyBuildsOnce(t *testing.T) {
	calls := 0
	var built *stubBackend
	r := New("stub", func(name string) (backend.Backend, error) {
		calls++
		built = &stubBackend{}
		return built, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		for range r.Run(ctx, backend.RunRequest{}) {
		}
	}
	if calls != 1 {
		t.Fatalf("expected factory called once, got %d", calls)
	}

	r.Stop()
	if !built.stopped {
		t.Fatal("expected Stop to forward to active backend")
	}
}

func TestRouterResetRebuilds(t *testing.T) {
	calls := 0
	r := New("stub", func(name string) (backend.Backend, error) {
		calls++
		return &stubBackend{}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	for range r.Run(ctx, backend.RunRequest{}) {
	}
	r.ResetRouter("other")
	for range r.Run(ctx, backend.RunRequest{}) {
	}

	if calls != 2 {
		t.Fatalf("expected rebuild after reset, got %d calls", calls)
	}
}

func TestRouterFactoryErrorEmitsErrorThenDone(t *testing.T) {
	r := New("missing", func(name string) (backend.Backend, error) {
		return nil, errors.New("no api key")
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	var events []agentevent.Event
	for e := range r.Run(ctx, backend.RunRequest{}) {
		events = append(events, e)
	}
	if len(events) != 2 || events[0].Type != agentevent.Error || events[1].Type != agentevent.Done {
		t.Fatalf("unexpected events: %+v", events)
	}
}
