package supervisor

import (
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/loykin/agentctl/internal/logger"
)

// Launcher is the OS capability surface the supervisor depends on. A fake
// implementation stands in for it in tests.
type Launcher interface {
	// Spawn starts the entry file with dir as working directory and
	// returns the new process id.
	Spawn(name, dir, entry string) (int, error)
	// SignalTerminate asks the process to exit gracefully.
	SignalTerminate(pid int) error
	// Kill force-terminates the process.
	Kill(pid int) error
	// IsAlive probes whether the process still exists.
	IsAlive(pid int) bool
	// WaitExit blocks until the process exits or timeout elapses; it
	// reports whether the exit was observed.
	WaitExit(pid int, timeout time.Duration) bool
}

// ExecLauncher runs agent entry points through an interpreter (python3 by
// default, matching the agent entry convention). It reaps every child it
// spawns so WaitExit can observe exits without polling.
type ExecLauncher struct {
	Interpreter string
	Log         logger.Config

	mu      sync.Mutex
	running map[int]*child
}

type child struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func NewExecLauncher(logCfg logger.Config) *ExecLauncher {
	return &ExecLauncher{
		Interpreter: "python3",
		Log:         logCfg,
		running:     make(map[int]*child),
	}
}

func (l *ExecLauncher) Spawn(name, dir, entry string) (int, error) {
	// ok: entry is resolved from the registered manifest directory
	// #nosec G204
	cmd := exec.Command(l.Interpreter, entry)
	cmd.Dir = dir
	setSysProcAttr(cmd)

	outW, errW, _ := l.Log.Writers(name)
	if outW != nil {
		cmd.Stdout = outW
	} else {
		cmd.Stdout, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if errW != nil {
		cmd.Stderr = errW
	} else {
		cmd.Stderr, _ = os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	c := &child{cmd: cmd, done: make(chan struct{})}
	l.mu.Lock()
	l.running[pid] = c
	l.mu.Unlock()
	go func() {
		_ = cmd.Wait()
		if outW != nil {
			_ = outW.Close()
		}
		if errW != nil {
			_ = errW.Close()
		}
		close(c.done)
		l.mu.Lock()
		delete(l.running, pid)
		l.mu.Unlock()
	}()
	return pid, nil
}

func (l *ExecLauncher) WaitExit(pid int, timeout time.Duration) bool {
	l.mu.Lock()
	c := l.running[pid]
	l.mu.Unlock()
	if c == nil {
		// Not one of ours or already reaped.
		return !l.IsAlive(pid)
	}
	select {
	case <-c.done:
		return true
	case <-time.After(timeout):
		return false
	}
}
