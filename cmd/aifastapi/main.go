// Command aifastapi is the bundled plugin binary behind the "ai-fast-api"
// gallery entry: it hosts internal/autorotate.Router over an
// OpenAI-compatible HTTP surface so the Plugin Supervisor can launch, probe,
// and proxy through it exactly like any other plugin (spec §4.H/§4.K).
package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/peopleinfo/pocketpaw/internal/autorotate"
)

func main() {
	port := 8700
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			port = p
		}
	}

	cfg := autorotate.Config{
		BackendChain:   splitChain(os.Getenv("AUTOROTATE_BACKEND_CHAIN")),
		MaxRotateRetry: envInt("AUTOROTATE_MAX_RETRY", 4),
		G4FBaseURL:     envOr("G4F_BASE_URL", "http://127.0.0.1:8600"),
		OllamaBaseURL:  envOr("OLLAMA_BASE_URL", "http://127.0.0.1:11434"),
		CodexBaseURL:   envOr("CODEX_BASE_URL", "http://127.0.0.1:8601"),
		QwenBaseURL:    envOr("QWEN_BASE_URL", "http://127.0.0.1:8602"),
		GeminiBaseURL:  envOr("GEMINI_BASE_URL", "http://127.0.0.1:8603"),
		LoggedIn:       loggedInFromEnv,
	}

	router := autorotate.New(cfg.BackendChain, cfg.MaxRotateRetry, cfg.DefaultModelFor, autorotate.NewFactory(cfg))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := router.Initialize(ctx); err != nil {
		log.Printf("aifastapi: no backends available at startup: %v", err)
	}
	cancel()

	srv := &server{router: router}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", srv.handleHealth)
	mux.HandleFunc("/v1/models", srv.handleModels)
	mux.HandleFunc("/v1/providers", srv.handleProviders)
	mux.HandleFunc("/v1/chat/completions", srv.handleChatCompletions)

	httpSrv := &http.Server{Addr: ":" + strconv.Itoa(port), Handler: mux}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("aifastapi: listen: %v", err)
		}
	}()
	log.Printf("aifastapi: listening on :%d", port)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)
}

type server struct {
	router *autorotate.Router
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *server) handleModels(w http.ResponseWriter, r *http.Request) {
	models := s.router.GetModels(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"data": models})
}

func (s *server) handleProviders(w http.ResponseWriter, r *http.Request) {
	providers := s.router.GetProviders(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"data": providers})
}

func (s *server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req autorotate.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := s.router.CreateChatCompletion(r.Context(), req)
	if err != nil {
		status := http.StatusBadGateway
		if err == autorotate.ErrNoActiveBackends {
			status = http.StatusUnauthorized
		}
		writeJSON(w, status, map[string]any{"error": err.Error()})
		return
	}

	if r.URL.Query().Get("stream") == "true" {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		flusher, _ := w.(http.Flusher)
		for _, chunk := range autorotate.StreamChunks(resp) {
			w.Write([]byte(chunk + "\n\n"))
			if flusher != nil {
				flusher.Flush()
			}
		}
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func splitChain(raw string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

// loggedInFromEnv reports an oauth-gated provider's login status via the
// credentials files the oauth.Manager's providers watch, so this standalone
// plugin process doesn't need to share an in-memory oauth.Manager with the
// host process (spec §4.K step 1 reads this purely from disk state).
func loggedInFromEnv(provider string) bool {
	home, err := os.UserHomeDir()
	if err != nil {
		return false
	}
	var path string
	switch provider {
	case "codex":
		path = home + "/.codex/auth.json"
	case "qwen":
		path = home + "/.qwen/oauth_creds.json"
	case "gemini":
		path = home + "/.gemini/oauth_creds.json"
	default:
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}
