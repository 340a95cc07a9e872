// Package config is the root configuration for the PocketPaw host: a single
// JSON file, tolerant-unmarshalled, hot-reloadable via fsnotify, with
// secrets sourced from environment variables only.
package config

import (
	"encoding/json"
	"fmt"
	"sync"
)

// FlexibleStringSlice accepts both ["str"] and [123] in JSON — some
// upstream plugin manifests emit numeric-looking env/requires values.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

// Config is the root configuration for the PocketPaw host.
type Config struct {
	Identity  IdentityConfig  `json:"identity,omitempty"`
	Channels  ChannelsConfig  `json:"channels"`
	Backends  BackendsConfig  `json:"backends"`
	Gateway   GatewayConfig   `json:"gateway"`
	Sessions  SessionsConfig  `json:"sessions"`
	Plugins   PluginsConfig   `json:"plugins,omitempty"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	Tailscale TailscaleConfig `json:"tailscale,omitempty"`

	mu sync.RWMutex
}

// IdentityConfig defines the assistant's persona, folded into the system
// prompt by internal/contextbuilder.
type IdentityConfig struct {
	Name  string `json:"name,omitempty"`
	Emoji string `json:"emoji,omitempty"`
}

// ChannelsConfig holds the per-adapter settings for every channel this
// repository ships an adapter for.
type ChannelsConfig struct {
	Telegram  TelegramConfig  `json:"telegram,omitempty"`
	Discord   DiscordConfig   `json:"discord,omitempty"`
	WebSocket WebSocketConfig `json:"websocket,omitempty"`
}

// TelegramConfig configures the Telegram long-polling adapter.
type TelegramConfig struct {
	Enabled   bool                `json:"enabled,omitempty"`
	Token     string              `json:"-"` // from env POCKETPAW_TELEGRAM_TOKEN only
	Proxy     string              `json:"proxy,omitempty"`
	AllowFrom FlexibleStringSlice `json:"allow_from,omitempty"`
}

// DiscordConfig configures the Discord gateway adapter.
type DiscordConfig struct {
	Enabled        bool                `json:"enabled,omitempty"`
	Token          string              `json:"-"` // from env POCKETPAW_DISCORD_TOKEN only
	RequireMention bool                `json:"require_mention,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
}

// WebSocketConfig configures the dashboard WebSocket adapter.
type WebSocketConfig struct {
	Enabled        bool                `json:"enabled,omitempty"`
	ListenAddr     string              `json:"listen_addr,omitempty"`
	AllowedOrigins FlexibleStringSlice `json:"allowed_origins,omitempty"`
	AllowFrom      FlexibleStringSlice `json:"allow_from,omitempty"`
}

// BackendsConfig configures the Agent Router's default backend and the
// subprocess/HTTP settings each backend driver needs, plus the nested
// Auto-Rotate chain config for the bundled plugin.
type BackendsConfig struct {
	Default string `json:"default,omitempty"` // e.g. "codex", "claude", "gemini", "autorotate"

	Codex  SubprocessBackendConfig `json:"codex,omitempty"`
	Claude SubprocessBackendConfig `json:"claude,omitempty"`
	Gemini SubprocessBackendConfig `json:"gemini,omitempty"`

	AutoRotate AutoRotateConfig `json:"auto_rotate,omitempty"`
}

// SubprocessBackendConfig configures one official-SDK subprocess backend.
type SubprocessBackendConfig struct {
	Command string              `json:"command,omitempty"` // executable name/path
	Args    FlexibleStringSlice `json:"args,omitempty"`

	// MCPServers lists tool servers this backend's adapter bridges tool_use
	// events through. Only MCP-capable CLIs have any use for this.
	MCPServers []MCPServerConfig `json:"mcp_servers,omitempty"`
}

// MCPServerConfig describes one stdio MCP tool server to launch alongside a
// subprocess backend.
type MCPServerConfig struct {
	Name    string              `json:"name"`
	Command string              `json:"command"`
	Args    FlexibleStringSlice `json:"args,omitempty"`
	Env     map[string]string   `json:"env,omitempty"`
}

// AutoRotateConfig mirrors autorotate.Config's JSON-facing fields. It is
// parsed with the rest of the config, but no code in this repository reads
// it: cmd/aifastapi builds its autorotate.Config from its own environment.
type AutoRotateConfig struct {
	BackendChain   FlexibleStringSlice `json:"backend_chain,omitempty"`
	MaxRotateRetry int                 `json:"max_rotate_retry,omitempty"`
	G4FBaseURL     string              `json:"g4f_base_url,omitempty"`
	OllamaBaseURL  string              `json:"ollama_base_url,omitempty"`
	CodexBaseURL   string              `json:"codex_base_url,omitempty"`
	QwenBaseURL    string              `json:"qwen_base_url,omitempty"`
	GeminiBaseURL  string              `json:"gemini_base_url,omitempty"`
}

// GatewayConfig configures the host's own listener and concurrency limits.
type GatewayConfig struct {
	Host                       string              `json:"host,omitempty"`
	Port                       int                 `json:"port,omitempty"`
	Token                      string              `json:"-"` // from env POCKETPAW_GATEWAY_TOKEN only
	OwnerIDs                   FlexibleStringSlice `json:"owner_ids,omitempty"`
	MaxMessageChars            int                 `json:"max_message_chars,omitempty"`
	RateLimitRPM               int                 `json:"rate_limit_rpm,omitempty"`
	MaxConcurrentConversations int                 `json:"max_concurrent_conversations,omitempty"`
	HistoryLimit               int                 `json:"history_limit,omitempty"`
}

// SessionsConfig configures the Memory Store backend.
type SessionsConfig struct {
	Backend string `json:"backend,omitempty"` // "file" (default) or "postgres"
	Storage string `json:"storage,omitempty"` // file backend directory
}

// PluginsConfig configures the Plugin Registry/Supervisor.
type PluginsConfig struct {
	Dir string `json:"dir,omitempty"` // defaults to ~/.pocketpaw/plugins
}

// DatabaseConfig configures Postgres for the sessions/postgres backend.
// PostgresDSN is NEVER read from config.json — only from env.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"` // from env POCKETPAW_POSTGRES_DSN only
}

// TelemetryConfig holds the OpenTelemetry settings. No trace exporter is
// wired (see cmd/pocketpaw/telemetry.go), so Endpoint is read but unused.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`
	Protocol    string            `json:"protocol,omitempty"` // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
}

// TailscaleConfig configures the optional Tailscale tsnet listener for the
// Plugin Supervisor's HTTP proxy. Requires building with -tags tsnet.
type TailscaleConfig struct {
	Hostname  string `json:"hostname,omitempty"`
	StateDir  string `json:"state_dir,omitempty"`
	AuthKey   string `json:"-"` // from env POCKETPAW_TSNET_AUTH_KEY only
	Ephemeral bool   `json:"ephemeral,omitempty"`
	EnableTLS bool   `json:"enable_tls,omitempty"`
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex —
// used by the fsnotify hot-reload watcher to swap configuration atomically.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Identity = src.Identity
	c.Channels = src.Channels
	c.Backends = src.Backends
	c.Gateway = src.Gateway
	c.Sessions = src.Sessions
	c.Plugins = src.Plugins
	c.Database = src.Database
	c.Telemetry = src.Telemetry
	c.Tailscale = src.Tailscale
}

// Snapshot returns a copy of the config safe to read without holding a lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.mu = sync.RWMutex{}
	return cp
}
