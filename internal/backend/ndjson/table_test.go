package ndjson

import (
	"testing"

	"github.com/peopleinfo/pocketpaw/internal/agentevent"
)

func TestCodexTableAgentMessage(t *testing.T) {
	line := Line{
		Type: "item.completed",
		Raw: map[string]any{
			"item": map[string]any{"type": "agent_message", "text": "Hello "},
		},
	}
	events := CodexTable.Translate(line)
	if len(events) != 1 || events[0].Type != agentevent.Message || events[0].Content != "Hello " {
		t.Fatalf("unexpected events: %+v", events)
	}
}

func TestCodexTableUnknownLineDropped(t *testing.T) {
	line := Line{Type: "heartbeat", Raw: map[string]any{}}
	if events := CodexTable.Translate(line); events != nil {
		t.Fatalf("expected nil, got %+v", events)
	}
}

func TestIsTransient(t *testing.T) {
	if !IsTransient("Reconnecting to upstream...", DefaultTransientSubstrings) {
		t.Fatal("expected transient match")
	}
	if IsTransient("fatal: connection refused", DefaultTransientSubstrings) {
		t.Fatal("unexpected transient match")
	}
}
