//go:build windows

package plugins

import "os/exec"

// setProcessGroup is a no-op on Windows: there is no POSIX process group.
func setProcessGroup(cmd *exec.Cmd) {}

// signalGroup has no Windows equivalent of process-group signaling and
// sends nothing, so Stop and Remove do not terminate the plugin process on
// Windows.
func signalGroup(pid int, sig int) error { return nil }

func terminateSignal() int { return 0 }
func killSignal() int      { return 0 }
