// Package autorotate implements the Auto-Rotate Router (spec §4.K): an
// ordered chain of OpenAI-compatible sub-backends (g4f, ollama, codex, qwen,
// gemini) that rotates round-robin and retries on failure, hosted inside
// the bundled AI Fast API plugin binary (cmd/aifastapi).
package autorotate

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// ChatMessage is the OpenAI-compatible wire message shape.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is one create_chat_completion call.
type ChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Provider string        `json:"provider,omitempty"` // G4F-specific provider hint
}

// ChatResponse is the minimal OpenAI-compatible response shape the router
// needs to forward.
type ChatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content string `json:"content"`
}

// Model is one entry in get_models()'s deduplicated union.
type Model struct {
	ID string `json:"id"`
}

// Provider is one entry in get_providers()'s union, carrying the
// oauth/logged_in/no_auth gating flags in Params.
type Provider struct {
	ID     string         `json:"id"`
	URL    string         `json:"url,omitempty"`
	Models []string       `json:"models,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// SubBackend is the narrow contract each rotated backend implements — the
// Go shape of auto_service.py's BaseLLMService.
type SubBackend interface {
	Initialize(ctx context.Context) error
	CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error)
	GetModels(ctx context.Context) ([]Model, error)
	GetProviders(ctx context.Context) ([]Provider, error)
}

// Factory builds the SubBackend for one chain entry name.
type Factory func(name string) (SubBackend, error)

// ErrNoActiveBackends is raised when every backend in the chain is
// oauth-gated and not logged in.
var ErrNoActiveBackends = errors.New("autorotate: no active backends (login may be required)")

// Router owns the chain, its built backend instances, and the round-robin
// rotation seed.
type Router struct {
	chain        []string
	maxRetry     int
	defaultModel func(backend string) string
	factory      Factory

	mu       sync.Mutex
	services map[string]SubBackend
	seed     int
}

// New constructs a Router. maxRetry is clamped to at least 1: a zero or
// negative value becomes 1.
func New(chain []string, maxRetry int, defaultModel func(backend string) string, factory Factory) *Router {
	if maxRetry < 1 {
		maxRetry = 1
	}
	return &Router{
		chain: dedupValidChain(chain), maxRetry: maxRetry,
		defaultModel: defaultModel, factory: factory,
		services: make(map[string]SubBackend),
	}
}

var validBackends = map[string]bool{"g4f": true, "ollama": true, "codex": true, "qwen": true, "gemini": true}

func dedupValidChain(raw []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, b := range raw {
		b = strings.ToLower(strings.TrimSpace(b))
		if b == "" || !validBackends[b] || seen[b] {
			continue
		}
		seen[b] = true
		out = append(out, b)
	}
	if len(out) == 0 {
		return []string{"g4f", "ollama", "codex", "qwen", "gemini"}
	}
	return out
}

// Initialize builds each chain backend; a backend that fails to initialize
// is dropped from the active service set but does not abort startup. It
// errors only when every backend fails.
func (r *Router) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services = make(map[string]SubBackend)
	for _, name := range r.chain {
		svc, err := r.factory(name)
		if err != nil {
			continue
		}
		if err := svc.Initialize(ctx); err != nil {
			continue
		}
		r.services[name] = svc
	}
	if len(r.services) == 0 {
		return errors.New("autorotate: no available providers/backends")
	}
	return nil
}

// orderedBackends rotates the configured chain by the current seed and
// increments it, so consecutive calls spread load round-robin.
func (r *Router) orderedBackends() []string {
	available := make([]string, 0, len(r.chain))
	for _, b := range r.chain {
		if _, ok := r.services[b]; ok {
			available = append(available, b)
		}
	}
	if len(available) == 0 {
		return nil
	}
	offset := r.seed % len(available)
	r.seed++
	return append(append([]string{}, available[offset:]...), available[:offset]...)
}

// isBackendActive applies the oauth/no_auth gating rule (spec §4.K step 1):
// oauth-flagged providers need logged_in=true; no_auth or unflagged
// providers are always active.
func isBackendActive(ctx context.Context, svc SubBackend) bool {
	providers, err := svc.GetProviders(ctx)
	if err != nil {
		return false
	}
	if len(providers) == 0 {
		return true
	}
	for _, p := range providers {
		oauth, _ := p.Params["oauth"].(bool)
		loggedIn, _ := p.Params["logged_in"].(bool)
		noAuth, _ := p.Params["no_auth"].(bool)

		if oauth {
			if loggedIn {
				return true
			}
			continue
		}
		if noAuth {
			return true
		}
		_, hasOauth := p.Params["oauth"]
		_, hasNoAuth := p.Params["no_auth"]
		if !hasOauth && !hasNoAuth {
			return true
		}
	}
	return false
}

// activeBackends filters orderedBackends() to those currently passing the
// oauth gate.
func (r *Router) activeBackends(ctx context.Context) []string {
	var active []string
	for _, name := range r.orderedBackends() {
		if isBackendActive(ctx, r.services[name]) {
			active = append(active, name)
		}
	}
	return active
}

func (r *Router) prepareRequest(req ChatRequest, backend string) ChatRequest {
	out := req
	out.Model = r.defaultModel(backend)
	if backend != "g4f" {
		out.Provider = ""
	}
	return out
}

// CreateChatCompletion implements the per-attempt retry loop in spec §4.K
// step 2: round-robin pick, per-backend model substitution, delegate, and
// on failure continue to the next active backend.
func (r *Router) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	r.mu.Lock()
	backends := r.activeBackends(ctx)
	services := r.services
	maxRetry := r.maxRetry
	r.mu.Unlock()

	if len(backends) == 0 {
		return ChatResponse{}, ErrNoActiveBackends
	}

	var errs []string
	for attempt := 0; attempt < maxRetry; attempt++ {
		backend := backends[attempt%len(backends)]
		svc := services[backend]
		resp, err := svc.CreateChatCompletion(ctx, r.prepareRequest(req, backend))
		if err == nil {
			return resp, nil
		}
		errs = append(errs, fmt.Sprintf("%s: %v", backend, err))
	}

	tail := errs
	if len(tail) > maxRetry {
		tail = tail[len(tail)-maxRetry:]
	}
	msg := "no backend errors"
	if len(tail) > 0 {
		msg = strings.Join(tail, " | ")
	}
	return ChatResponse{}, fmt.Errorf("autorotate: exhausted retries. %s", msg)
}

// StreamChunks renders resp as the two-chunk SSE wrapper named in spec
// §4.K: a role+content delta chunk, then a finish_reason=stop chunk, then
// "[DONE]" — callers write each string verbatim as one SSE "data: " line.
func StreamChunks(resp ChatResponse) []string {
	return []string{
		fmt.Sprintf(`data: {"id":%q,"object":"chat.completion.chunk","model":%q,"choices":[{"index":0,"delta":{"role":"assistant","content":%q},"finish_reason":null}]}`,
			resp.ID, resp.Model, resp.Content),
		fmt.Sprintf(`data: {"id":%q,"object":"chat.completion.chunk","model":%q,"choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
			resp.ID, resp.Model),
		"data: [DONE]",
	}
}

// GetModels returns the deduplicated union of every chain backend's models,
// in chain order, first-seen wins.
func (r *Router) GetModels(ctx context.Context) []Model {
	r.mu.Lock()
	chain := append([]string{}, r.chain...)
	services := r.services
	r.mu.Unlock()

	var merged []Model
	seen := make(map[string]bool)
	for _, name := range chain {
		svc, ok := services[name]
		if !ok {
			continue
		}
		models, err := svc.GetModels(ctx)
		if err != nil {
			continue
		}
		for _, m := range models {
			if seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			merged = append(merged, m)
		}
	}
	return merged
}

// GetProviders returns the synthetic "AutoRotate" provider (reporting
// rotator=true, the configured chain, and the currently active chain) plus
// every chain backend's own providers.
func (r *Router) GetProviders(ctx context.Context) []Provider {
	r.mu.Lock()
	chain := append([]string{}, r.chain...)
	services := r.services
	maxRetry := r.maxRetry
	r.mu.Unlock()

	active := r.activeBackends(ctx)
	var configured []string
	for _, name := range chain {
		if _, ok := services[name]; ok {
			configured = append(configured, name)
		}
	}

	modelIDs := make([]string, 0)
	for _, m := range r.GetModels(ctx) {
		modelIDs = append(modelIDs, m.ID)
	}

	out := []Provider{{
		ID:     "AutoRotate",
		Models: modelIDs,
		Params: map[string]any{
			"supports_stream": true,
			"rotator":         true,
			"max_retry":       maxRetry,
			"backends":        configured,
			"active_backends": active,
		},
	}}

	for _, name := range chain {
		svc, ok := services[name]
		if !ok {
			continue
		}
		providers, err := svc.GetProviders(ctx)
		if err != nil {
			continue
		}
		out = append(out, providers...)
	}
	return out
}
