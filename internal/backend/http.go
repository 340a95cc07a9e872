package backend

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/peopleinfo/pocketpaw/internal/agentevent"
	"github.com/peopleinfo/pocketpaw/internal/pocketerr"
)

// ChatMessage is the OpenAI-compatible wire shape this adapter sends.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// HTTPAdapter implements Backend for OpenAI-compatible, Ollama, and
// Anthropic-compatible streaming chat-completion endpoints.
type HTTPAdapter struct {
	name         string
	baseURL      string
	apiKey       string
	model        string
	client       *http.Client

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewHTTPAdapter constructs an adapter against one OpenAI-compatible base URL.
func NewHTTPAdapter(name, baseURL, apiKey, model string) *HTTPAdapter {
	return &HTTPAdapter{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

func (a *HTTPAdapter) Info() Info {
	return Info{Name: a.name, RequiredKeys: []string{"api_key"}}
}

func (a *HTTPAdapter) buildMessages(req RunRequest) []ChatMessage {
	msgs := make([]ChatMessage, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		msgs = append(msgs, ChatMessage{Role: "system", Content: req.SystemPrompt})
	}
	for _, h := range req.History {
		msgs = append(msgs, ChatMessage{Role: h.Role, Content: h.Content})
	}
	msgs = append(msgs, ChatMessage{Role: "user", Content: req.Message})
	return msgs
}

func (a *HTTPAdapter) Run(ctx context.Context, req RunRequest) <-chan agentevent.Event {
	runCtx, cancel := context.WithCancel(ctx)
	a.mu.Lock()
	a.cancel = cancel
	a.mu.Unlock()

	seq := agentevent.NewSequence(32)
	go a.stream(runCtx, req, seq)
	return seq.Chan()
}

func (a *HTTPAdapter) stream(ctx context.Context, req RunRequest, seq *agentevent.Sequence) {
	body, _ := json.Marshal(map[string]any{
		"model":    a.model,
		"messages": a.buildMessages(req),
		"stream":   true,
	})

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		a.emitFatal(seq, err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}

	resp, err := a.client.Do(httpReq)
	if err != nil {
		a.emitFatal(seq, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		a.handleNonStreaming(ctx, req, seq, resp)
		return
	}

	ct := resp.Header.Get("Content-Type")
	if !strings.Contains(ct, "text/event-stream") {
		a.parseFullBody(resp.Body, seq)
		return
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for scanner.Scan() {
		if ctx.Err() != nil {
			seq.Emit(agentevent.Event{Type: agentevent.Done})
			return
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason *string `json:"finish_reason"`
			} `json:"choices"`
		}
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			continue
		}
		for _, c := range chunk.Choices {
			if c.Delta.Content != "" {
				seq.Emit(agentevent.Event{Type: agentevent.Message, Content: c.Delta.Content})
			}
		}
	}
	seq.Emit(agentevent.Event{Type: agentevent.Done})
}

// handleNonStreaming falls back to a single-shot request when the server
// rejected streaming (non-2xx on the streamed attempt), emitting the full
// content as one message event per spec §4.E.
func (a *HTTPAdapter) handleNonStreaming(ctx context.Context, req RunRequest, seq *agentevent.Sequence, failedResp *http.Response) {
	defer failedResp.Body.Close()

	body, _ := json.Marshal(map[string]any{
		"model":    a.model,
		"messages": a.buildMessages(req),
		"stream":   false,
	})
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		a.emitFatal(seq, err)
		return
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	resp, err := a.client.Do(httpReq)
	if err != nil {
		a.emitFatal(seq, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		seq.Emit(agentevent.Event{Type: agentevent.Error, Content: string(data)})
		seq.Emit(agentevent.Event{Type: agentevent.Done})
		return
	}
	a.parseFullBody(resp.Body, seq)
}

func (a *HTTPAdapter) parseFullBody(r io.Reader, seq *agentevent.Sequence) {
	var resp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(r).Decode(&resp); err != nil {
		seq.Emit(agentevent.Event{Type: agentevent.Error, Content: err.Error()})
		seq.Emit(agentevent.Event{Type: agentevent.Done})
		return
	}
	if len(resp.Choices) > 0 {
		seq.Emit(agentevent.Event{Type: agentevent.Message, Content: resp.Choices[0].Message.Content})
	}
	seq.Emit(agentevent.Event{Type: agentevent.Done})
}

func (a *HTTPAdapter) emitFatal(seq *agentevent.Sequence, err error) {
	streamErr := &pocketerr.BackendStreamError{Backend: a.name, Detail: err.Error()}
	seq.Emit(agentevent.Event{Type: agentevent.Error, Content: streamErr.Error()})
	seq.Emit(agentevent.Event{Type: agentevent.Done})
}

func (a *HTTPAdapter) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}
