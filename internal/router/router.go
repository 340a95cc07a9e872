// Package router implements the Agent Router (spec §4.F): it owns a
// lazily-created backend instance and forwards run/stop to it.
package router

import (
	"context"
	"sync"

	"github.com/peopleinfo/pocketpaw/internal/agentevent"
	"github.com/peopleinfo/pocketpaw/internal/backend"
)

// Factory builds the backend named by a settings value. It is called at
// most once per backend instance lifetime (until ResetRouter).
type Factory func(backendName string) (backend.Backend, error)

// Router owns the active backend chosen by the agent_backend setting.
// Ownership per spec §3: the Agent Loop exclusively owns the Router; the
// Router exclusively owns the current backend instance.
type Router struct {
	mu          sync.Mutex
	backendName string
	factory     Factory
	active      backend.Backend
}

// New constructs a Router bound to one backend-name setting and a factory
// able to build any backend by name.
func New(backendName string, factory Factory) *Router {
	return &Router{backendName: backendName, factory: factory}
}

// ensure lazily builds the active backend instance.
func (r *Router) ensure() (backend.Backend, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != nil {
		return r.active, nil
	}
	b, err := r.factory(r.backendName)
	if err != nil {
		return nil, err
	}
	r.active = b
	return b, nil
}

// Run delegates to the active backend, constructing it first if needed.
// If the backend fails to build at all (before its first event), the
// returned sequence carries a single error+done pair per spec §4.F.
func (r *Router) Run(ctx context.Context, req backend.RunRequest) <-chan agentevent.Event {
	b, err := r.ensure()
	if err != nil {
		seq := agentevent.NewSequence(2)
		seq.Emit(agentevent.Event{Type: agentevent.Error, Content: err.Error()})
		seq.Emit(agentevent.Event{Type: agentevent.Done})
		return seq.Chan()
	}
	return b.Run(ctx, req)
}

// Stop forwards to the active backend, if any.
func (r *Router) Stop() {
	r.mu.Lock()
	b := r.active
	r.mu.Unlock()
	if b != nil {
		b.Stop()
	}
}

// ResetRouter nulls the active backend instance so the next Run rebuilds
// it — used when settings change mid-session. This is the only legal way
// to swap the active backend (spec §5 "Shared-resource policy").
func (r *Router) ResetRouter(newBackendName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if newBackendName != "" {
		r.backendName = newBackendName
	}
	r.active = nil
}
