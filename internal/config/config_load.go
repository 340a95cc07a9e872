package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Identity: IdentityConfig{Name: "PocketPaw"},
		Gateway: GatewayConfig{
			Host:                       "0.0.0.0",
			Port:                       18790,
			MaxMessageChars:            32000,
			RateLimitRPM:               20,
			MaxConcurrentConversations: 8,
			HistoryLimit:               40,
		},
		Sessions: SessionsConfig{
			Backend: "file",
			Storage: "~/.pocketpaw/sessions",
		},
		Plugins: PluginsConfig{
			Dir: "~/.pocketpaw/plugins",
		},
		Backends: BackendsConfig{
			Default: "claude",
			AutoRotate: AutoRotateConfig{
				BackendChain:   FlexibleStringSlice{"g4f", "ollama", "codex", "qwen", "gemini"},
				MaxRotateRetry: 4,
			},
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error — Default() plus env overrides is a valid config.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays secrets and operator overrides from the
// environment. Env vars always take precedence over file values, and
// secrets are never read from the file at all.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("POCKETPAW_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("POCKETPAW_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("POCKETPAW_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("POCKETPAW_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("POCKETPAW_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("POCKETPAW_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("POCKETPAW_TSNET_DIR", &c.Tailscale.StateDir)

	envStr("POCKETPAW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("POCKETPAW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("POCKETPAW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("POCKETPAW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}

	// Auto-enable channels once their credentials arrive via env — the file
	// need not set "enabled" explicitly when running from a secrets manager.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	envStr("POCKETPAW_HOST", &c.Gateway.Host)
	if v := os.Getenv("POCKETPAW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}
	if v := os.Getenv("POCKETPAW_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}

	envStr("POCKETPAW_SESSIONS_STORAGE", &c.Sessions.Storage)
	envStr("POCKETPAW_PLUGINS_DIR", &c.Plugins.Dir)
	envStr("POCKETPAW_BACKEND", &c.Backends.Default)
}

// ApplyEnvOverrides re-applies environment overrides — callers invoke this
// after a ReplaceFrom hot-reload to restore runtime secrets the file never
// carries.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Fields tagged `json:"-"` (secrets)
// are never persisted.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// Hash returns a short SHA-256 hash of the config, used by the hot-reload
// watcher to skip a reload when fsnotify fires without the content changing.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.MarshalIndent(c, "", "  ")
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// ExpandHome replaces a leading "~" with the user's home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
