//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

func setSysProcAttr(_ *exec.Cmd) {}

// SignalTerminate has no graceful equivalent on Windows; fall back to Kill.
func (l *ExecLauncher) SignalTerminate(pid int) error {
	return l.Kill(pid)
}

func (l *ExecLauncher) Kill(pid int) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}

func (l *ExecLauncher) IsAlive(pid int) bool {
	l.mu.Lock()
	_, ok := l.running[pid]
	l.mu.Unlock()
	return ok
}
