package main

import (
	"os"
	"os/exec"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/peopleinfo/pocketpaw/internal/config"
)

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the host's environment and configuration health",
		Run: func(cmd *cobra.Command, args []string) {
			runDoctor(cmd)
		},
	}
}

func runDoctor(cmd *cobra.Command) {
	cmd.Println("pocketpaw doctor")
	cmd.Printf("  Version:  %s\n", version)
	cmd.Printf("  OS:       %s/%s\n", runtime.GOOS, runtime.GOARCH)
	cmd.Printf("  Go:       %s\n", runtime.Version())
	cmd.Println()

	cfgPath := resolveConfigPath()
	cmd.Printf("  Config:   %s", cfgPath)
	if _, err := os.Stat(cfgPath); err != nil {
		cmd.Println(" (using defaults — file not found)")
	} else {
		cmd.Println(" (found)")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		cmd.Printf("  Config load error: %s\n", err)
		return
	}

	cmd.Println()
	cmd.Println("  Channels:")
	checkBool(cmd, "Telegram", cfg.Channels.Telegram.Enabled)
	checkBool(cmd, "Discord", cfg.Channels.Discord.Enabled)
	checkBool(cmd, "WebSocket", cfg.Channels.WebSocket.Enabled)

	cmd.Println()
	cmd.Println("  Backends:")
	cmd.Printf("    %-12s %s\n", "Default:", cfg.Backends.Default)
	checkCommand(cmd, "codex", cfg.Backends.Codex.Command)
	checkCommand(cmd, "claude", cfg.Backends.Claude.Command)
	checkCommand(cmd, "gemini", cfg.Backends.Gemini.Command)

	cmd.Println()
	cmd.Println("  Sessions:")
	cmd.Printf("    %-12s %s\n", "Backend:", cfg.Sessions.Backend)
	if cfg.Sessions.Backend == "postgres" {
		checkBool(cmd, "Postgres DSN set", cfg.Database.PostgresDSN != "")
	}
}

func checkBool(cmd *cobra.Command, label string, ok bool) {
	status := "disabled"
	if ok {
		status = "enabled"
	}
	cmd.Printf("    %-12s %s\n", label+":", status)
}

func checkCommand(cmd *cobra.Command, name, command string) {
	if command == "" {
		command = name
	}
	if _, err := exec.LookPath(command); err != nil {
		cmd.Printf("    %-12s NOT FOUND on PATH (%s)\n", name+":", command)
		return
	}
	cmd.Printf("    %-12s OK (%s)\n", name+":", command)
}
