// Package memory implements the SessionKey-keyed append-only conversation
// log with compaction-on-read, per spec §4.B. The Loop is the sole writer
// per session; any number of readers may call GetCompactedHistory
// concurrently.
package memory

import (
	"context"
	"time"

	"github.com/peopleinfo/pocketpaw/internal/bus"
)

// Role distinguishes the three Turn roles.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is one entry in a session's history. Within a session, CreatedAt is
// monotonic — the store is responsible for enforcing this even if two
// writes race (it should not happen under the single-writer-per-session
// invariant, but the store does not trust callers blindly).
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the Memory Store contract. Implementations: file (default,
// embedded sqlite-backed) and postgres.
type Store interface {
	// AddToSession appends a turn. Durable within 5s; fsync-free batched
	// persistence is allowed between calls.
	AddToSession(ctx context.Context, key bus.SessionKey, turn Turn) error

	// GetCompactedHistory returns at most maxTurns turns, applying the
	// compaction policy when the raw history exceeds 2*maxTurns.
	GetCompactedHistory(ctx context.Context, key bus.SessionKey, maxTurns int) ([]Turn, error)

	// Close flushes any pending writes and releases resources.
	Close() error
}

// ResolveSessionKey normalises a free-form "channel prefix" string (as
// produced by a channel adapter, e.g. "telegram:123" or "telegram/123") to
// the canonical SessionKey. It is idempotent:
// ResolveSessionKey(ResolveSessionKey(x)) == ResolveSessionKey(x).
func ResolveSessionKey(raw string) bus.SessionKey {
	sep := -1
	for i, r := range raw {
		if r == ':' || r == '/' {
			sep = i
			break
		}
	}
	if sep < 0 {
		return bus.SessionKey{Channel: "unknown", ChatID: raw}
	}
	return bus.SessionKey{Channel: raw[:sep], ChatID: raw[sep+1:]}
}

// Compact applies the spec's compaction policy to an in-memory slice of
// turns: when len(history) > 2*maxTurns, replace the oldest half with one
// synthetic assistant turn summarising them, using summarize to produce its
// content. Compaction never reorders turns and is idempotent — calling it
// again on its own output is a no-op because, for maxTurns > 0, the result
// never holds more than maxTurns turns.
func Compact(history []Turn, maxTurns int, summarize func([]Turn) string) []Turn {
	if maxTurns <= 0 || len(history) <= 2*maxTurns {
		if len(history) > maxTurns && maxTurns > 0 {
			return history[len(history)-maxTurns:]
		}
		return history
	}

	foldCount := len(history) / 2
	folded := history[:foldCount]
	rest := history[foldCount:]

	summary := Turn{
		Role:      RoleAssistant,
		Content:   summarize(folded),
		CreatedAt: folded[len(folded)-1].CreatedAt,
	}

	out := make([]Turn, 0, len(rest)+1)
	out = append(out, summary)
	out = append(out, rest...)
	if len(out) > maxTurns {
		// Keep the summary turn plus the most recent (maxTurns-1) turns so the
		// fold is never silently dropped by the final truncation.
		out = append([]Turn{out[0]}, out[len(out)-(maxTurns-1):]...)
	}
	return out
}

// DefaultSummarize folds turns into a single deterministic line. Real
// summarization (an LLM call) is a Context Builder / Agent Loop concern
// layered above the store; this is the store-level fallback used when no
// summarizer is wired.
func DefaultSummarize(folded []Turn) string {
	return "(" + itoa(len(folded)) + " earlier turns summarized)"
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
