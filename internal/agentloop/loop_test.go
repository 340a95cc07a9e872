package agentloop

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/peopleinfo/pocketpaw/internal/agentevent"
	"github.com/peopleinfo/pocketpaw/internal/backend"
	"github.com/peopleinfo/pocketpaw/internal/bus"
	"github.com/peopleinfo/pocketpaw/internal/memory"
)

type stubRouter struct {
	build func(req backend.RunRequest) []agentevent.Event
}

func (s *stubRouter) Run(ctx context.Context, req backend.RunRequest) <-chan agentevent.Event {
	seq := agentevent.NewSequence(8)
	go func() {
		for _, e := range s.build(req) {
			seq.Emit(e)
		}
	}()
	return seq.Chan()
}

func (s *stubRouter) Stop() {}

type memStore struct {
	turns map[bus.SessionKey][]memory.Turn
}

func newMemStore() *memStore { return &memStore{turns: map[bus.SessionKey][]memory.Turn{}} }

func (m *memStore) AddToSession(ctx context.Context, key bus.SessionKey, turn memory.Turn) error {
	m.turns[key] = append(m.turns[key], turn)
	return nil
}

func (m *memStore) GetCompactedHistory(ctx context.Context, key bus.SessionKey, maxTurns int) ([]memory.Turn, error) {
	return m.turns[key], nil
}

func (m *memStore) Close() error { return nil }

// TestLocalIntentListPluginsSkipsBackend reproduces the seed scenario
// "local intent: list plugins": the backend is never invoked and the reply
// is published directly.
func TestLocalIntentListPluginsSkipsBackend(t *testing.T) {
	b := bus.New(nil)
	backendCalled := false
	router := &stubRouter{build: func(req backend.RunRequest) []agentevent.Event {
		backendCalled = true
		return nil
	}}

	l := New(Dependencies{
		Bus:    b,
		Memory: newMemStore(),
		Router: router,
		LocalIntents: []LocalIntent{
			{
				Name:  "list-ai-ui-plugins",
				Match: func(content string) bool { return strings.TrimSpace(content) == "list ai ui plugins" },
				Handle: func(ctx context.Context, msg bus.InboundMessage) string {
					return "no plugins installed"
				},
			},
		},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, cancelSub := b.SubscribeOutbound("test")
	defer cancelSub()

	go l.Run(ctx)
	key := bus.SessionKey{Channel: "telegram", ChatID: "1"}
	if err := b.PublishInbound(ctx, bus.InboundMessage{Session: key, Content: "list ai ui plugins"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var got []bus.OutboundMessage
	for len(got) < 2 {
		select {
		case m := <-out:
			got = append(got, m)
		case <-ctx.Done():
			t.Fatal("timed out waiting for outbound messages")
		}
	}

	if backendCalled {
		t.Fatal("expected local intent to bypass the backend entirely")
	}
	if got[0].Content != "no plugins installed" {
		t.Fatalf("unexpected reply: %+v", got[0])
	}
	if !got[1].IsStreamEnd {
		t.Fatalf("expected stream-end marker, got %+v", got[1])
	}
}

// TestTurnStreamsMessageThenWritesMemory exercises the full backend path:
// message events become outbound chunks, done closes the stream, and the
// concatenated assistant text is written to memory.
func TestTurnStreamsMessageThenWritesMemory(t *testing.T) {
	b := bus.New(nil)
	mem := newMemStore()
	router := &stubRouter{build: func(req backend.RunRequest) []agentevent.Event {
		return []agentevent.Event{
			{Type: agentevent.Message, Content: "Hello "},
			{Type: agentevent.Message, Content: "world!"},
			{Type: agentevent.Done},
		}
	}}

	l := New(Dependencies{Bus: b, Memory: mem, Router: router})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out, cancelSub := b.SubscribeOutbound("test")
	defer cancelSub()

	go l.Run(ctx)
	key := bus.SessionKey{Channel: "telegram", ChatID: "2"}
	if err := b.PublishInbound(ctx, bus.InboundMessage{Session: key, Content: "hi"}); err != nil {
		t.Fatalf("publish: %v", err)
	}

	var chunks []bus.OutboundMessage
	for {
		select {
		case m := <-out:
			chunks = append(chunks, m)
			if m.IsStreamEnd {
				goto done
			}
		case <-ctx.Done():
			t.Fatal("timed out waiting for stream end")
		}
	}
done:
	if len(chunks) != 3 {
		t.Fatalf("expected 2 chunks + stream end, got %+v", chunks)
	}

	deadline := time.Now().Add(time.Second)
	for {
		if len(mem.turns[key]) == 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("memory never received both turns: %+v", mem.turns[key])
		}
		time.Sleep(5 * time.Millisecond)
	}
	if mem.turns[key][0].Role != memory.RoleUser || mem.turns[key][0].Content != "hi" {
		t.Fatalf("unexpected user turn: %+v", mem.turns[key][0])
	}
	if mem.turns[key][1].Role != memory.RoleAssistant || mem.turns[key][1].Content != "Hello world!" {
		t.Fatalf("unexpected assistant turn: %+v", mem.turns[key][1])
	}
}
