// Command pocketpaw is the host process: it wires the Message Bus, Memory
// Store, Agent Router, Agent Loop, Plugin Supervisor, OAuth Session
// Manager, and channel adapters from one Config and runs them until
// signalled to stop (spec §4, §9 "no package-level singletons").
package main

import (
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
