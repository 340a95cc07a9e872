//go:build windows

package backend

import "os/exec"

// setProcessGroup is a no-op on Windows: there is no POSIX process group to
// join. Each child must be a single process per spec §9 — start scripts
// that shell-fork are not supported on this platform.
func setProcessGroup(cmd *exec.Cmd) {}
