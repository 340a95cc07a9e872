package autorotate

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/peopleinfo/pocketpaw/internal/backend"
)

// HTTPBackend adapts one OpenAI-compatible local service (ollama, a codex
// proxy, qwen, gemini) into a SubBackend. Chat-completion transport is
// delegated to backend.HTTPAdapter — the same adapter the primary Router
// uses for live backends — concatenating its message deltas into one
// ChatResponse, since Auto-Rotate wraps its own non-streaming result into
// the two-chunk SSE shape itself (spec §4.K).
type HTTPBackend struct {
	name       string
	baseURL    string
	apiKey     string
	noAuth     bool
	oauthLogin func() bool // nil means "always logged in" (no_auth backends)

	client *http.Client
}

// NewHTTPBackend constructs a backend against one OpenAI-compatible base
// URL. oauthLogin, when non-nil, is polled to report GetProviders'
// logged_in flag for an oauth-gated backend (codex/qwen/gemini); nil means
// the backend declares no_auth=true (g4f/ollama).
func NewHTTPBackend(name, baseURL, apiKey string, oauthLogin func() bool) *HTTPBackend {
	return &HTTPBackend{
		name: name, baseURL: strings.TrimRight(baseURL, "/"), apiKey: apiKey,
		noAuth: oauthLogin == nil, oauthLogin: oauthLogin,
		client: &http.Client{Timeout: 120 * time.Second},
	}
}

func (h *HTTPBackend) Initialize(ctx context.Context) error { return nil }

func (h *HTTPBackend) CreateChatCompletion(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	msgs := make([]backend.ChatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, backend.ChatMessage{Role: m.Role, Content: m.Content})
	}
	history := msgs
	var systemPrompt, userMessage string
	if len(history) > 0 && history[0].Role == "system" {
		systemPrompt = history[0].Content
		history = history[1:]
	}
	if len(history) > 0 {
		userMessage = history[len(history)-1].Content
		history = history[:len(history)-1]
	}

	var backendHistory []backend.HistoryTurn
	for _, h := range history {
		backendHistory = append(backendHistory, backend.HistoryTurn{Role: h.Role, Content: h.Content})
	}

	adapter := backend.NewHTTPAdapter(h.name, h.baseURL, h.apiKey, req.Model)
	runCtx, cancel := context.WithTimeout(ctx, 60*time.Second)
	defer cancel()

	var content strings.Builder
	var errContent string
	for evt := range adapter.Run(runCtx, backend.RunRequest{
		Message: userMessage, SystemPrompt: systemPrompt, History: backendHistory,
	}) {
		switch evt.Type {
		case "message":
			content.WriteString(evt.Content)
		case "error":
			errContent = evt.Content
		}
	}
	if errContent != "" {
		return ChatResponse{}, fmt.Errorf("%s: %s", h.name, errContent)
	}
	return ChatResponse{Model: req.Model, Content: content.String()}, nil
}

func (h *HTTPBackend) GetModels(ctx context.Context) ([]Model, error) {
	var out []Model
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, nil // never errors per spec §4.I fetch_models semantics
	}
	defer resp.Body.Close()
	var parsed struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, nil
	}
	for _, m := range parsed.Data {
		out = append(out, Model{ID: m.ID})
	}
	return out, nil
}

func (h *HTTPBackend) GetProviders(ctx context.Context) ([]Provider, error) {
	params := map[string]any{}
	if h.noAuth {
		params["no_auth"] = true
	} else {
		params["oauth"] = true
		params["logged_in"] = h.oauthLogin()
	}
	var modelIDs []string
	models, _ := h.GetModels(ctx)
	for _, m := range models {
		modelIDs = append(modelIDs, m.ID)
	}
	return []Provider{{ID: h.name, URL: h.baseURL, Models: modelIDs, Params: params}}, nil
}
