//go:build unix

package tools

import (
	"errors"
	"os"
	"os/exec"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// waitDelay bounds how long Wait keeps reading pipes after the process died.
const waitDelay = 2 * time.Second

// prepareCommand puts the tool in its own process group so timeout and
// termination reach any children it spawned.
func prepareCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killProcess(cmd)
	}
	cmd.WaitDelay = waitDelay
}

func killProcess(cmd *exec.Cmd) error {
	if cmd == nil || cmd.Process == nil {
		return os.ErrProcessDone
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
	if errors.Is(err, unix.ESRCH) {
		return os.ErrProcessDone
	}
	return err
}

// processAlive reports whether pid still names a process, reaped or not.
func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}
