//go:build !windows

package core

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
)

func defaultShell() []string {
	return []string{"/bin/sh", "-c"}
}

// setProcessGroup puts the shell in its own process group so the whole
// pipeline it spawns can be signalled at once.
func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcessTree(process *os.Process) error {
	return signalGroup(process, syscall.SIGTERM)
}

func killProcessTree(process *os.Process) error {
	return signalGroup(process, syscall.SIGKILL)
}

func signalGroup(process *os.Process, sig syscall.Signal) error {
	if process == nil {
		return nil
	}
	if err := syscall.Kill(-process.Pid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
