//go:build !windows

package supervisor

import (
	"os/exec"
	"syscall"
)

func setSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// SignalTerminate sends SIGTERM to the process group so shells and their
// children receive it together.
func (l *ExecLauncher) SignalTerminate(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func (l *ExecLauncher) Kill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

func (l *ExecLauncher) IsAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
