//go:build !windows

package sandbox

import (
	"os/exec"
	"syscall"
)

// configureProcess puts the command in its own process group so a timeout
// kills every descendant, not just the interpreter.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
			return cmd.Process.Kill()
		}
		return nil
	}
}
