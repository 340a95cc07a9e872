package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/peopleinfo/pocketpaw/internal/agentevent"
)

func TestHTTPAdapterStreamsDeltasThenDone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"Hello \"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"world!\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer srv.Close()

	a := NewHTTPAdapter("openai-compatible", srv.URL, "", "gpt-test")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := collect(a.Run(ctx, RunRequest{Message: "hi"}))

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	if events[0].Content != "Hello " || events[1].Content != "world!" {
		t.Fatalf("unexpected deltas: %+v", events)
	}
	if events[2].Type != agentevent.Done {
		t.Fatalf("expected terminal done, got %+v", events[2])
	}
}

func TestHTTPAdapterNonStreamingFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"content":"full reply"}}]}`)
	}))
	defer srv.Close()

	a := NewHTTPAdapter("no-stream", srv.URL, "", "model")
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	events := collect(a.Run(ctx, RunRequest{Message: "hi"}))
	if len(events) != 2 || events[0].Content != "full reply" || events[1].Type != agentevent.Done {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func collect(ch <-chan agentevent.Event) []agentevent.Event {
	var out []agentevent.Event
	for e := range ch {
		out = append(out, e)
	}
	return out
}
