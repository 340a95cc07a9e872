package main

import (
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time via -ldflags "-X main.version=v1.0.0".
var version = "dev"

var (
	cfgFile string
	verbose bool
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "pocketpaw",
		Short: "PocketPaw — a personal AI-assistant host",
		Long:  "PocketPaw bridges Telegram, Discord, and a dashboard WebSocket to a chosen AI backend, keeping a long-term memory of every conversation.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json or $POCKETPAW_CONFIG)")
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(pluginCmd())
	root.AddCommand(oauthCmd())

	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("pocketpaw %s\n", version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("POCKETPAW_CONFIG"); v != "" {
		return v
	}
	return "config.json"
}
