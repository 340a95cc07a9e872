package autorotate

import (
	"context"
	"errors"
	"testing"
)

type stubBackend struct {
	name      string
	loggedIn  bool
	noAuth    bool
	unflagged bool
	fail      bool
	models    []Model
}

func (s *stubBackend) Initialize(ctx context.Context) error { return nil }

func (s *stubBackend) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if s.fail {
		return ChatResponse{}, errors.New("boom")
	}
	return ChatResponse{Model: req.Model, Content: "reply from " + s.name}, nil
}

func (s *stubBackend) GetModels(ctx context.Context) ([]Model, error) { return s.models, nil }

func (s *stubBackend) GetProviders(ctx context.Context) ([]Provider, error) {
	if s.unflagged {
		return []Provider{{ID: s.name, Params: map[string]any{}}}, nil
	}
	if s.noAuth {
		return []Provider{{ID: s.name, Params: map[string]any{"no_auth": true}}}, nil
	}
	return []Provider{{ID: s.name, Params: map[string]any{"oauth": true, "logged_in": s.loggedIn}}}, nil
}

func factoryFromMap(backends map[string]*stubBackend) Factory {
	return func(name string) (SubBackend, error) {
		b, ok := backends[name]
		if !ok {
			return nil, errUnsupportedBackend(name)
		}
		return b, nil
	}
}

func TestGatedOAuthBackendExcludedWhenNotLoggedIn(t *testing.T) {
	backends := map[string]*stubBackend{
		"g4f":  {name: "g4f", noAuth: true},
		"qwen": {name: "qwen", loggedIn: false},
	}
	r := New([]string{"g4f", "qwen"}, 2, func(string) string { return "m" }, factoryFromMap(backends))
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	resp, err := r.CreateChatCompletion(context.Background(), ChatRequest{Messages: []ChatMessage{{Role: "user", Content: "hi"}}})
	if err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}
	if resp.Content != "reply from g4f" {
		t.Fatalf("expected the only active backend (g4f) to answer, got %+v", resp)
	}
}

func TestNoActiveBackendsErrors(t *testing.T) {
	backends := map[string]*stubBackend{
		"codex": {name: "codex", loggedIn: false},
	}
	r := New([]string{"codex"}, 1, func(string) string { return "m" }, factoryFromMap(backends))
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	_, err := r.CreateChatCompletion(context.Background(), ChatRequest{})
	if !errors.Is(err, ErrNoActiveBackends) {
		t.Fatalf("expected ErrNoActiveBackends, got %v", err)
	}
}

func TestRetryRotatesToNextActiveBackendOnFailure(t *testing.T) {
	backends := map[string]*stubBackend{
		"g4f":    {name: "g4f", noAuth: true, fail: true},
		"ollama": {name: "ollama", noAuth: true},
	}
	r := New([]string{"g4f", "ollama"}, 2, func(string) string { return "m" }, factoryFromMap(backends))
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	resp, err := r.CreateChatCompletion(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}
	if resp.Content != "reply from ollama" {
		t.Fatalf("expected fallback to ollama, got %+v", resp)
	}
}

func TestAllBackendsFailAggregatesErrors(t *testing.T) {
	backends := map[string]*stubBackend{
		"g4f":    {name: "g4f", noAuth: true, fail: true},
		"ollama": {name: "ollama", noAuth: true, fail: true},
	}
	r := New([]string{"g4f", "ollama"}, 2, func(string) string { return "m" }, factoryFromMap(backends))
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	_, err := r.CreateChatCompletion(context.Background(), ChatRequest{})
	if err == nil {
		t.Fatal("expected an aggregated error when every backend fails")
	}
}

func TestGetModelsDedupesAcrossBackends(t *testing.T) {
	backends := map[string]*stubBackend{
		"g4f":    {name: "g4f", noAuth: true, models: []Model{{ID: "gpt-4o-mini"}, {ID: "shared"}}},
		"ollama": {name: "ollama", noAuth: true, models: []Model{{ID: "shared"}, {ID: "llama3.1"}}},
	}
	r := New([]string{"g4f", "ollama"}, 1, func(string) string { return "m" }, factoryFromMap(backends))
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	models := r.GetModels(context.Background())
	if len(models) != 3 {
		t.Fatalf("expected 3 deduplicated models, got %+v", models)
	}
}

func TestGetProvidersIncludesSyntheticAutoRotateEntry(t *testing.T) {
	backends := map[string]*stubBackend{
		"g4f": {name: "g4f", noAuth: true},
	}
	r := New([]string{"g4f"}, 1, func(string) string { return "m" }, factoryFromMap(backends))
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	providers := r.GetProviders(context.Background())
	if len(providers) == 0 || providers[0].ID != "AutoRotate" {
		t.Fatalf("expected first provider to be the synthetic AutoRotate entry, got %+v", providers)
	}
	if rotator, _ := providers[0].Params["rotator"].(bool); !rotator {
		t.Fatalf("expected rotator=true, got %+v", providers[0].Params)
	}
}

func TestStreamChunksWrapsTwoChunksThenDone(t *testing.T) {
	chunks := StreamChunks(ChatResponse{ID: "abc", Model: "m", Content: "hello"})
	if len(chunks) != 3 {
		t.Fatalf("expected 3 SSE lines, got %d", len(chunks))
	}
	if chunks[2] != "data: [DONE]" {
		t.Fatalf("expected terminal [DONE] line, got %q", chunks[2])
	}
}

func TestInitializeDropsFailingBackendWithoutAborting(t *testing.T) {
	r := New([]string{"g4f", "ollama"}, 1, func(string) string { return "m" }, func(name string) (SubBackend, error) {
		if name == "ollama" {
			return nil, errors.New("not installed")
		}
		return &stubBackend{name: name, noAuth: true}, nil
	})
	if err := r.Initialize(context.Background()); err != nil {
		t.Fatalf("expected Initialize to succeed with a partial backend set, got %v", err)
	}
	resp, err := r.CreateChatCompletion(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("CreateChatCompletion: %v", err)
	}
	if resp.Content != "reply from g4f" {
		t.Fatalf("expected the surviving backend to answer, got %+v", resp)
	}
}
