package memory

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/peopleinfo/pocketpaw/internal/bus"
)

func TestResolveSessionKeyIdempotent(t *testing.T) {
	cases := []string{"telegram:123", "discord/456", "noseparator"}
	for _, c := range cases {
		once := ResolveSessionKey(c)
		twice := ResolveSessionKey(once.String())
		// ResolveSessionKey(x) applied to its own String() form must be stable.
		if once.Channel != twice.Channel {
			t.Fatalf("channel drifted for %q: %+v vs %+v", c, once, twice)
		}
	}
}

func TestCompactIdempotentAndOrderPreserving(t *testing.T) {
	base := time.Now()
	var history []Turn
	for i := 0; i < 20; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		history = append(history, Turn{Role: role, Content: string(rune('a' + i)), CreatedAt: base.Add(time.Duration(i) * time.Second)})
	}

	once := Compact(history, 5, DefaultSummarize)
	twice := Compact(once, 5, DefaultSummarize)

	if len(twice) != len(once) {
		t.Fatalf("compaction not idempotent: %d vs %d", len(once), len(twice))
	}
	for i := range once {
		if once[i].Content != twice[i].Content {
			t.Fatalf("compaction reordered content at %d: %q vs %q", i, once[i].Content, twice[i].Content)
		}
	}
}

func TestFileStoreAddAndCompactedHistory(t *testing.T) {
	dir, err := os.MkdirTemp("", "pocketpaw-memory-*")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)

	store, err := OpenFileStore(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer store.Close()

	ctx := context.Background()
	key := bus.SessionKey{Channel: "cli", ChatID: "1"}

	if err := store.AddToSession(ctx, key, Turn{Role: RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("add user turn: %v", err)
	}
	if err := store.AddToSession(ctx, key, Turn{Role: RoleAssistant, Content: "hello"}); err != nil {
		t.Fatalf("add assistant turn: %v", err)
	}

	history, err := store.GetCompactedHistory(ctx, key, 10)
	if err != nil {
		t.Fatalf("get history: %v", err)
	}
	if len(history) != 2 || history[0].Content != "hi" || history[1].Content != "hello" {
		t.Fatalf("unexpected history: %+v", history)
	}

	prev := history[0].CreatedAt
	for _, turn := range history[1:] {
		if turn.CreatedAt.Before(prev) {
			t.Fatalf("history is not monotonic: %+v", history)
		}
		prev = turn.CreatedAt
	}
}
