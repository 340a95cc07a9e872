//go:build !windows

package plugins

import (
	"os/exec"
	"syscall"
)

// setProcessGroup makes cmd the leader of a new OS process group, so a
// later stop can terminate the whole tree with one signal (spec §4.I
// "leader of a new process group").
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// signalGroup sends sig to the process group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

func terminateSignal() syscall.Signal { return syscall.SIGTERM }
func killSignal() syscall.Signal      { return syscall.SIGKILL }
