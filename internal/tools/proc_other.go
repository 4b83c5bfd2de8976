//go:build !unix

package tools

import (
	"os"
	"os/exec"
	"time"
)

const waitDelay = 2 * time.Second

func prepareCommand(cmd *exec.Cmd) {
	cmd.WaitDelay = waitDelay
}

func killProcess(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return os.ErrProcessDone
	}
	return cmd.Process.Kill()
}

func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = p.Release()
	return true
}
