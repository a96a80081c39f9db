//go:build windows

package core

import (
	"os"
	"os/exec"
)

func defaultShell() []string {
	return []string{"cmd", "/C"}
}

func setProcessGroup(cmd *exec.Cmd) {}

func terminateProcessTree(process *os.Process) error {
	return killProcessTree(process)
}

func killProcessTree(process *os.Process) error {
	if process == nil {
		return nil
	}
	return process.Kill()
}
