//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

// configureProcessGroup puts the child in its own process group so that a
// cancelled command takes its children (python workers, ffmpeg filters) down
// with it.
func configureProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
