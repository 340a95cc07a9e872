//go:build !windows

package backend

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes cmd the leader of a new OS process group so Stop
// can terminate the whole tree rather than one process (spec §4.I / §9
// "process groups vs. plain children"): cancelling the command's context
// kills the whole group.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
