package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/peopleinfo/pocketpaw/internal/actor"
	"github.com/peopleinfo/pocketpaw/internal/agentloop"
	"github.com/peopleinfo/pocketpaw/internal/backend"
	"github.com/peopleinfo/pocketpaw/internal/backend/ndjson"
	"github.com/peopleinfo/pocketpaw/internal/bus"
	"github.com/peopleinfo/pocketpaw/internal/channels"
	"github.com/peopleinfo/pocketpaw/internal/channels/discord"
	"github.com/peopleinfo/pocketpaw/internal/channels/telegram"
	"github.com/peopleinfo/pocketpaw/internal/channels/websocket"
	"github.com/peopleinfo/pocketpaw/internal/config"
	"github.com/peopleinfo/pocketpaw/internal/memory"
	"github.com/peopleinfo/pocketpaw/internal/oauth"
	"github.com/peopleinfo/pocketpaw/internal/plugins"
	"github.com/peopleinfo/pocketpaw/internal/pocketerr"
	"github.com/peopleinfo/pocketpaw/internal/router"
)

const gracefulStopTimeout = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the PocketPaw host: bus, router, channels, plugin supervisor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

// app bundles every construction-time collaborator runServe builds. There
// is no package-level singleton anywhere — app is assembled once and
// passed down explicitly (spec §9).
type app struct {
	log        *slog.Logger
	cfg        *config.Config
	b          bus.Bus
	mem        memory.Store
	registry   *plugins.Registry
	supervisor *plugins.Supervisor
	oauthMgr   *oauth.Manager
	router     *router.Router
	loop       *agentloop.Loop
	chanMgr    *channels.Manager
	actorRun   *actor.Runner
}

func runServe(ctx context.Context) error {
	log := newLogger()

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	tp, err := initTelemetry(cfg)
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("telemetry.shutdown_failed", "error", err)
		}
	}()

	a, err := buildApp(cfg, log)
	if err != nil {
		return err
	}
	defer a.mem.Close()

	if _, statErr := os.Stat(cfgPath); statErr == nil {
		watcher := config.NewWatcher(cfgPath, a.cfg, log)
		go func() {
			if err := watcher.Run(ctx); err != nil {
				log.Warn("config.watch.stopped", "error", err)
			}
		}()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.chanMgr.StartAll(runCtx); err != nil {
		log.Warn("channels.start_failed", "error", err)
	}
	go a.loop.Run(runCtx)

	if cfg.Tailscale.Hostname != "" {
		tsCloser, err := plugins.ListenTailscale(runCtx, cfg.Tailscale, a.supervisor.ProxyHandler())
		if err != nil {
			log.Warn("tailscale.listen_failed", "error", err)
		} else {
			defer tsCloser.Close()
			log.Info("tailscale.proxy_started", "hostname", cfg.Tailscale.Hostname)
		}
	}

	log.Info("pocketpaw.serve.started", "backend", cfg.Backends.Default)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	log.Info("pocketpaw.serve.stopping")
	stopCtx, stopCancel := context.WithTimeout(context.Background(), gracefulStopTimeout)
	defer stopCancel()
	_ = a.chanMgr.StopAll(stopCtx)
	a.b.Close()
	return nil
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// buildApp wires every Component D/E/F/... collaborator from cfg. It
// performs no I/O beyond opening the memory store and plugins directory —
// backends, channels, and the actor runner are constructed lazily/started
// separately.
func buildApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	b := bus.New(log)

	mem, err := openMemoryStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	pluginsDir := config.ExpandHome(cfg.Plugins.Dir)
	registry, err := plugins.NewRegistry(pluginsDir)
	if err != nil {
		return nil, fmt.Errorf("open plugin registry: %w", err)
	}
	supervisor := plugins.NewSupervisor(registry)

	oauthMgr := oauth.NewManager(defaultOAuthProviders())

	rtr := router.New(cfg.Backends.Default, backendFactory(cfg, oauthMgr, log))

	loop := agentloop.New(agentloop.Dependencies{
		Bus:                        b,
		Memory:                     mem,
		Router:                     rtr,
		Identity:                   identityPrompt(cfg),
		MaxConcurrentConversations: cfg.Gateway.MaxConcurrentConversations,
		HistoryLimit:               cfg.Gateway.HistoryLimit,
		LocalIntents:               localIntents(supervisor, log),
		Log:                        log,
	})

	chanMgr := channels.NewManager(b, log)
	wireChannels(chanMgr, cfg, b, log)

	actorRun := actor.NewRunner(actorTemplates(), actorExecutor())

	return &app{
		log: log, cfg: cfg, b: b, mem: mem,
		registry: registry, supervisor: supervisor, oauthMgr: oauthMgr,
		router: rtr, loop: loop, chanMgr: chanMgr, actorRun: actorRun,
	}, nil
}

func openMemoryStore(cfg *config.Config) (memory.Store, error) {
	switch cfg.Sessions.Backend {
	case "postgres":
		return memory.OpenPostgresStore(context.Background(), cfg.Database.PostgresDSN)
	default:
		dir := config.ExpandHome(cfg.Sessions.Storage)
		return memory.OpenFileStore(dir)
	}
}

func identityPrompt(cfg *config.Config) string {
	name := cfg.Identity.Name
	if name == "" {
		name = "PocketPaw"
	}
	prompt := fmt.Sprintf("You are %s, a personal AI assistant reachable over chat.", name)
	if cfg.Identity.Emoji != "" {
		prompt = cfg.Identity.Emoji + " " + prompt
	}
	return prompt
}

// backendFactory resolves a backend-name setting to a concrete
// backend.Backend. "codex"/"claude"/"gemini" spawn the configured official
// CLI as a subprocess; "autorotate" talks to the bundled aifastapi plugin's
// OpenAI-compatible endpoint over HTTP (spec §4.K "exercised as a black
// box over HTTP").
func backendFactory(cfg *config.Config, oauthMgr *oauth.Manager, log *slog.Logger) router.Factory {
	return func(name string) (backend.Backend, error) {
		switch name {
		case "codex":
			return subprocessBackend("codex", cfg.Backends.Codex, log), nil
		case "claude":
			return subprocessBackend("claude", cfg.Backends.Claude, log), nil
		case "gemini":
			return subprocessBackend("gemini", cfg.Backends.Gemini, log), nil
		case "autorotate":
			return backend.NewHTTPAdapter("autorotate", "http://127.0.0.1:8700/v1", "", "auto"), nil
		default:
			return nil, &pocketerr.ConfigMissingError{Setting: "backends.default", Reason: fmt.Sprintf("unknown backend %q", name)}
		}
	}
}

func subprocessBackend(name string, sub config.SubprocessBackendConfig, log *slog.Logger) *backend.SubprocessAdapter {
	command := sub.Command
	if command == "" {
		command = name
	}
	staticArgs := []string(sub.Args)
	buildArgv := func(req backend.RunRequest) []string {
		argv := append([]string{}, staticArgs...)
		return append(argv, req.Message)
	}
	adapter := backend.NewSubprocessAdapter(name, command, buildArgv, ndjson.CodexTable, log)

	if len(sub.MCPServers) > 0 {
		srv := sub.MCPServers[0]
		bridge, err := backend.NewToolBridge(context.Background(), srv.Command, srv.Args, srv.Env)
		if err != nil {
			log.Warn("mcp bridge unavailable, tool_use events will go unresolved", "backend", name, "server", srv.Name, "error", err)
		} else {
			adapter.SetToolBridge(bridge)
		}
	}
	return adapter
}

func defaultOAuthProviders() []oauth.ProviderConfig {
	urlRE := regexp.MustCompile(`(https?://\S+)`)
	codeRE := regexp.MustCompile(`code[:\s]+([A-Z0-9-]+)`)
	home, _ := os.UserHomeDir()
	return []oauth.ProviderConfig{
		{
			Provider: "codex", Command: "codex", Args: []string{"login"},
			VerificationRegex: urlRE, UserCodeRegex: codeRE,
			CredentialsPath: func() (string, error) { return filepath.Join(home, ".codex", "auth.json"), nil },
		},
		{
			Provider: "qwen", Command: "qwen", Args: []string{"login"},
			VerificationRegex: urlRE, UserCodeRegex: codeRE,
			CredentialsPath: func() (string, error) { return filepath.Join(home, ".qwen", "oauth_creds.json"), nil },
		},
		{
			Provider: "gemini", Command: "gemini", Args: []string{"login"},
			VerificationRegex: urlRE, UserCodeRegex: codeRE,
			CredentialsPath: func() (string, error) { return filepath.Join(home, ".gemini", "oauth_creds.json"), nil },
		},
	}
}

func wireChannels(mgr *channels.Manager, cfg *config.Config, b bus.Bus, log *slog.Logger) {
	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(telegram.Config{
			Token: cfg.Channels.Telegram.Token, Proxy: cfg.Channels.Telegram.Proxy,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
		}, b, log)
		if err != nil {
			log.Error("channels.telegram.construct_failed", "error", err)
		} else {
			mgr.RegisterChannel(ch)
		}
	}
	if cfg.Channels.Discord.Enabled {
		ch, err := discord.New(discord.Config{
			Token: cfg.Channels.Discord.Token, AllowFrom: cfg.Channels.Discord.AllowFrom,
			RequireMention: cfg.Channels.Discord.RequireMention,
		}, b, log)
		if err != nil {
			log.Error("channels.discord.construct_failed", "error", err)
		} else {
			mgr.RegisterChannel(ch)
		}
	}
	if cfg.Channels.WebSocket.Enabled {
		mgr.RegisterChannel(websocket.New(websocket.Config{
			ListenAddr:     cfg.Channels.WebSocket.ListenAddr,
			AllowedOrigins: cfg.Channels.WebSocket.AllowedOrigins,
			AllowFrom:      cfg.Channels.WebSocket.AllowFrom,
		}, b, log))
	}
}

func actorTemplates() []actor.Template {
	return []actor.Template{
		{
			ID: "web_scraper", Name: "Web Scraper", Icon: "globe", Category: "web",
			Description: "Crawl a starting URL and extract page data.",
			InputSchema: map[string]any{"url": "string", "max_pages": "number"},
		},
	}
}

// actorExecutor is a placeholder consumer: scraping internals (browser
// automation, fingerprinting, proxy rotation) are out of scope, so every
// job reports an error result rather than silently succeeding.
func actorExecutor() actor.Executor {
	return func(ctx context.Context, templateID string, input map[string]any) (actor.Result, error) {
		return actor.Result{}, fmt.Errorf("actor: %s not implemented in this host", templateID)
	}
}

func localIntents(supervisor *plugins.Supervisor, log *slog.Logger) []agentloop.LocalIntent {
	return []agentloop.LocalIntent{
		{
			Name: "list_plugins",
			Match: func(content string) bool {
				return strings.EqualFold(strings.TrimSpace(content), "list ai ui plugins")
			},
			Handle: func(ctx context.Context, msg bus.InboundMessage) string {
				infos, err := supervisor.Registry().List(supervisor.IsRunning)
				if err != nil {
					return "couldn't list plugins: " + err.Error()
				}
				if len(infos) == 0 {
					return "no plugins installed."
				}
				var b strings.Builder
				for _, info := range infos {
					fmt.Fprintf(&b, "- %s (%s) — %s\n", info.Name, info.ID, info.Status)
				}
				return b.String()
			},
		},
		{
			Name: "launch_plugin",
			Match: func(content string) bool {
				return strings.HasPrefix(strings.ToLower(strings.TrimSpace(content)), "launch plugin ")
			},
			Handle: func(ctx context.Context, msg bus.InboundMessage) string {
				id := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(msg.Content)), "launch plugin "))
				if id == "" {
					return (&pocketerr.UserInputError{Hint: "launch plugin needs an id, e.g. \"launch plugin weather\""}).Hint
				}
				return launchWithInstall(ctx, supervisor, id)
			},
		},
		{
			Name: "start_plugin",
			Match: func(content string) bool {
				return strings.HasPrefix(strings.ToLower(strings.TrimSpace(content)), "start ")
			},
			Handle: func(ctx context.Context, msg bus.InboundMessage) string {
				id := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(msg.Content)), "start "))
				if id == "" {
					return (&pocketerr.UserInputError{Hint: "start needs a plugin id, e.g. \"start counter-template\""}).Hint
				}
				return launchWithInstall(ctx, supervisor, id)
			},
		},
		{
			Name: "stop_plugin",
			Match: func(content string) bool {
				return strings.HasPrefix(strings.ToLower(strings.TrimSpace(content)), "stop ")
			},
			Handle: func(ctx context.Context, msg bus.InboundMessage) string {
				id := strings.TrimSpace(strings.TrimPrefix(strings.ToLower(strings.TrimSpace(msg.Content)), "stop "))
				id = strings.TrimSpace(strings.TrimPrefix(id, "plugin "))
				if id == "" || id == "plugin" {
					return (&pocketerr.UserInputError{Hint: "stop needs a plugin id, e.g. \"stop counter-template\""}).Hint
				}
				res, err := supervisor.Stop(ctx, id)
				if err != nil {
					return "stop failed: " + err.Error()
				}
				return fmt.Sprintf("%s: %s", id, res.Status)
			},
		},
	}
}

// launchWithInstall implements the install-on-missing step of `start` and
// `launch plugin` (spec §4.G step 2): a plain Launch is tried first, and
// only on ErrNotFound against a known gallery id does it fall back to
// Install("builtin:<id>") before retrying the launch.
func launchWithInstall(ctx context.Context, supervisor *plugins.Supervisor, id string) string {
	res, err := supervisor.Launch(ctx, id)
	if err == nil {
		return launchReply(id, res)
	}
	if !errors.Is(err, plugins.ErrNotFound) {
		return "launch failed: " + err.Error()
	}
	entry, ok := plugins.FindGalleryEntry(id)
	if !ok {
		return "launch failed: " + err.Error()
	}
	installRes, instErr := supervisor.Install(ctx, "builtin:"+entry.ID)
	if instErr != nil {
		return "install failed: " + instErr.Error()
	}
	launchRes, launchErr := supervisor.Launch(ctx, entry.ID)
	if launchErr != nil {
		return installRes.Message + "\nlaunch failed: " + launchErr.Error()
	}
	return installRes.Message + "\n" + launchReply(entry.ID, launchRes)
}

func launchReply(id string, res plugins.OperationResult) string {
	reply := fmt.Sprintf("%s: %s", id, res.Status)
	if res.Port != 0 {
		reply += fmt.Sprintf(" — http://localhost:%d/", res.Port)
	}
	return reply
}
