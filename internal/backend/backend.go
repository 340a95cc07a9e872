// Package backend implements the two Backend Adapter families — subprocess
// and HTTP/SDK — named in spec §4.E. Both satisfy the same narrow
// interface so the Router (internal/router) never needs to know which kind
// it holds.
package backend

import (
	"context"

	"github.com/peopleinfo/pocketpaw/internal/agentevent"
	"github.com/peopleinfo/pocketpaw/internal/bus"
)

// RunRequest is one turn handed to a backend.
type RunRequest struct {
	Message      string
	SystemPrompt string
	History      []HistoryTurn
	Session      bus.SessionKey
}

// HistoryTurn is the minimal shape a backend needs from memory.Turn,
// decoupling this package from internal/memory.
type HistoryTurn struct {
	Role    string
	Content string
}

// Info is the static, per-backend-class descriptor named BackendInfo in
// spec §3.
type Info struct {
	Name           string
	Capabilities   uint64
	BuiltinTools   []string
	RequiredKeys   []string
	SupportedProviders []string
}

// Backend is the common adapter contract.
type Backend interface {
	Info() Info
	// Run starts a turn and returns a lazy sequence of AgentEvents. The
	// returned channel always ends with exactly one terminal event (Done,
	// or Error immediately followed by Done), even on error — callers
	// never need a separate error return.
	Run(ctx context.Context, req RunRequest) <-chan agentevent.Event
	// Stop cancels the most recent in-flight Run for this backend
	// instance. Safe to call concurrently with stream consumption.
	Stop()
}
