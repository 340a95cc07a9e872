package backend

import (
	"context"
	"testing"
	"time"

	"github.com/peopleinfo/pocketpaw/internal/agentevent"
	"github.com/peopleinfo/pocketpaw/internal/backend/ndjson"
)

// TestSubprocessAdapterHelloWorldScenario reproduces the seed end-to-end
// scenario: a backend subprocess writes two NDJSON item.completed events
// ("Hello " and "world!"), then exits 0. Expected: two message events then
// done, whose concatenated content is "Hello world!".
func TestSubprocessAdapterHelloWorldScenario(t *testing.T) {
	script := `printf '{"type":"item.completed","item":{"type":"agent_message","text":"Hello "}}\n'
printf '{"type":"item.completed","item":{"type":"agent_message","text":"world!"}}\n'
`
	adapter := NewSubprocessAdapter("codex-like", "sh", func(RunRequest) []string {
		return []string{"-c", script}
	}, ndjson.CodexTable, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := collect(adapter.Run(ctx, RunRequest{Message: "hi"}))

	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %+v", events)
	}
	concatenated := events[0].Content + events[1].Content
	if concatenated != "Hello world!" {
		t.Fatalf("concatenated content = %q", concatenated)
	}
	if events[2].Type != agentevent.Done {
		t.Fatalf("expected terminal done, got %+v", events[2])
	}
}

func TestSubprocessAdapterNonZeroExitEmitsErrorThenDone(t *testing.T) {
	adapter := NewSubprocessAdapter("failing", "sh", func(RunRequest) []string {
		return []string{"-c", `echo "boom" 1>&2; exit 1`}
	}, ndjson.CodexTable, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	events := collect(adapter.Run(ctx, RunRequest{Message: "hi"}))
	if len(events) != 2 {
		t.Fatalf("expected error+done, got %+v", events)
	}
	if events[0].Type != agentevent.Error || events[1].Type != agentevent.Done {
		t.Fatalf("unexpected events: %+v", events)
	}
}
