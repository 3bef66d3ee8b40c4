package supervisor

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loykin/agentctl/internal/agent"
	"github.com/loykin/agentctl/internal/bus"
)

// fakeLauncher records the signals the supervisor sends without touching
// real processes.
type fakeLauncher struct {
	mu         sync.Mutex
	nextPID    int
	spawnErr   error
	exitOnWait bool
	spawned    []int
	terminated []int
	killed     []int
}

func newFakeLauncher() *fakeLauncher {
	return &fakeLauncher{nextPID: 1000, exitOnWait: true}
}

func (f *fakeLauncher) Spawn(name, dir, entry string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.spawnErr != nil {
		return 0, f.spawnErr
	}
	f.nextPID++
	f.spawned = append(f.spawned, f.nextPID)
	return f.nextPID, nil
}

func (f *fakeLauncher) SignalTerminate(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.terminated = append(f.terminated, pid)
	return nil
}

func (f *fakeLauncher) Kill(pid int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = append(f.killed, pid)
	return nil
}

func (f *fakeLauncher) IsAlive(int) bool { return false }

func (f *fakeLauncher) WaitExit(int, time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exitOnWait
}

func writeAgentDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("print('ok')\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func newTestSupervisor(t *testing.T, cfg Config) (*Supervisor, *agent.Registry, *fakeLauncher) {
	t.Helper()
	reg := agent.NewRegistry()
	dir := writeAgentDir(t)
	if err := reg.Register("scanner", filepath.Join(dir, "manifest.yaml"), 5); err != nil {
		t.Fatal(err)
	}
	fl := newFakeLauncher()
	return New(cfg, reg, bus.New(0), fl), reg, fl
}

func TestStartTransitionsToRunning(t *testing.T) {
	sup, reg, fl := newTestSupervisor(t, Config{})
	if err := sup.Start("scanner"); err != nil {
		t.Fatalf("start: %v", err)
	}
	rec, _ := reg.Get("scanner")
	if rec.Status != agent.StatusRunning {
		t.Fatalf("status = %v, want running", rec.Status)
	}
	if rec.PID != fl.spawned[0] {
		t.Fatalf("pid = %d, want %d", rec.PID, fl.spawned[0])
	}
	if rec.LastHealthCheck.IsZero() {
		t.Fatal("LastHealthCheck not set on start")
	}
	if rec.RestartCount != 0 {
		t.Fatalf("restart count = %d, want 0", rec.RestartCount)
	}
}

func TestStartIdempotent(t *testing.T) {
	sup, reg, fl := newTestSupervisor(t, Config{})
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	if err := sup.Start("scanner"); err != nil {
		t.Fatalf("second start: %v", err)
	}
	if len(fl.spawned) != 1 {
		t.Fatalf("spawned %d times, want 1", len(fl.spawned))
	}
	rec, _ := reg.Get("scanner")
	if rec.PID != fl.spawned[0] {
		t.Fatalf("pid changed on repeated start: %d", rec.PID)
	}
}

func TestStartUnknownAgent(t *testing.T) {
	sup, _, _ := newTestSupervisor(t, Config{})
	if err := sup.Start("ghost"); !errors.Is(err, agent.ErrAgentNotFound) {
		t.Fatalf("err = %v, want ErrAgentNotFound", err)
	}
}

func TestStartEntryPointMissing(t *testing.T) {
	reg := agent.NewRegistry()
	dir := t.TempDir() // no main.py
	_ = reg.Register("scanner", filepath.Join(dir, "manifest.yaml"), 5)
	sup := New(Config{}, reg, bus.New(0), newFakeLauncher())

	err := sup.Start("scanner")
	if !errors.Is(err, ErrEntryPointMissing) {
		t.Fatalf("err = %v, want ErrEntryPointMissing", err)
	}
	rec, _ := reg.Get("scanner")
	if rec.Status != agent.StatusFailed || rec.PID != 0 {
		t.Fatalf("record after failed start: %+v", rec)
	}
}

func TestStartSpawnFailure(t *testing.T) {
	sup, reg, fl := newTestSupervisor(t, Config{})
	fl.spawnErr = errors.New("fork: resource temporarily unavailable")
	err := sup.Start("scanner")
	if !errors.Is(err, ErrSpawnFailed) {
		t.Fatalf("err = %v, want ErrSpawnFailed", err)
	}
	rec, _ := reg.Get("scanner")
	if rec.Status != agent.StatusFailed || rec.PID != 0 {
		t.Fatalf("record after spawn failure: %+v", rec)
	}
}

func TestStopGraceful(t *testing.T) {
	sup, reg, fl := newTestSupervisor(t, Config{})
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	pid := fl.spawned[0]
	if err := sup.Stop("scanner", time.Second); err != nil {
		t.Fatalf("stop: %v", err)
	}
	rec, _ := reg.Get("scanner")
	if rec.Status != agent.StatusStopped || rec.PID != 0 {
		t.Fatalf("record after stop: %+v", rec)
	}
	if len(fl.terminated) != 1 || fl.terminated[0] != pid {
		t.Fatalf("terminated = %v, want [%d]", fl.terminated, pid)
	}
	if len(fl.killed) != 0 {
		t.Fatalf("killed = %v, graceful exit must not escalate", fl.killed)
	}
}

func TestStopEscalatesToKill(t *testing.T) {
	sup, reg, fl := newTestSupervisor(t, Config{})
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	fl.exitOnWait = false
	pid := fl.spawned[0]
	if err := sup.Stop("scanner", 10*time.Millisecond); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if len(fl.killed) != 1 || fl.killed[0] != pid {
		t.Fatalf("killed = %v, want [%d]", fl.killed, pid)
	}
	rec, _ := reg.Get("scanner")
	if rec.Status != agent.StatusStopped || rec.PID != 0 {
		t.Fatalf("record after forced stop: %+v", rec)
	}
}

func TestStopIdempotent(t *testing.T) {
	sup, _, fl := newTestSupervisor(t, Config{})
	if err := sup.Stop("scanner", time.Second); err != nil {
		t.Fatalf("stop of a stopped agent: %v", err)
	}
	if len(fl.terminated) != 0 || len(fl.killed) != 0 {
		t.Fatal("stopping a stopped agent must not signal anything")
	}
}

func TestHandleDeathRestarts(t *testing.T) {
	sup, reg, fl := newTestSupervisor(t, Config{RestartOnFailure: true, MaxRestartAttempts: 3})
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	sup.HandleDeath("scanner")

	rec, _ := reg.Get("scanner")
	if rec.Status != agent.StatusRunning {
		t.Fatalf("status = %v, want running after restart", rec.Status)
	}
	if rec.RestartCount != 1 {
		t.Fatalf("restart count = %d, want 1", rec.RestartCount)
	}
	if len(fl.spawned) != 2 || rec.PID != fl.spawned[1] {
		t.Fatalf("expected a fresh spawn, spawned=%v pid=%d", fl.spawned, rec.PID)
	}
}

func TestHandleDeathExhaustsAttempts(t *testing.T) {
	sup, reg, fl := newTestSupervisor(t, Config{RestartOnFailure: true, MaxRestartAttempts: 3})
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 5; i++ {
		sup.HandleDeath("scanner")
	}
	rec, _ := reg.Get("scanner")
	if rec.Status != agent.StatusFailed {
		t.Fatalf("status = %v, want failed after exhaustion", rec.Status)
	}
	if rec.RestartCount != 3 {
		t.Fatalf("restart count = %d, must never exceed 3", rec.RestartCount)
	}
	// First start plus exactly three restarts.
	if len(fl.spawned) != 4 {
		t.Fatalf("spawned %d times, want 4", len(fl.spawned))
	}
}

func TestHandleDeathRestartDisabled(t *testing.T) {
	sup, reg, fl := newTestSupervisor(t, Config{RestartOnFailure: false})
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	sup.HandleDeath("scanner")
	rec, _ := reg.Get("scanner")
	if rec.Status != agent.StatusFailed || rec.RestartCount != 0 {
		t.Fatalf("record = %+v, want failed with no restarts", rec)
	}
	if len(fl.spawned) != 1 {
		t.Fatalf("spawned %d times, want 1", len(fl.spawned))
	}
}

func TestHandleDeathIgnoresStoppedAgent(t *testing.T) {
	sup, reg, fl := newTestSupervisor(t, Config{RestartOnFailure: true, MaxRestartAttempts: 3})
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	if err := sup.Stop("scanner", time.Second); err != nil {
		t.Fatal(err)
	}
	sup.HandleDeath("scanner")
	rec, _ := reg.Get("scanner")
	if rec.Status != agent.StatusStopped {
		t.Fatalf("status = %v, operator stop must win over death handling", rec.Status)
	}
	if len(fl.spawned) != 1 {
		t.Fatal("stopped agent must not be restarted")
	}
}

func TestRecordSampleOnlyWhenRunning(t *testing.T) {
	sup, reg, _ := newTestSupervisor(t, Config{})
	usage := agent.ResourceUsage{CPUPercent: 12.5, MemoryRSS: 1 << 20, NumThreads: 4, Timestamp: time.Now()}

	sup.RecordSample("scanner", usage)
	rec, _ := reg.Get("scanner")
	if rec.Resources != nil {
		t.Fatal("sample recorded on a stopped agent")
	}

	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	sup.RecordSample("scanner", usage)
	rec, _ = reg.Get("scanner")
	if rec.Resources == nil || rec.Resources.CPUPercent != 12.5 {
		t.Fatalf("resources = %+v, want recorded sample", rec.Resources)
	}
	if !rec.LastHealthCheck.Equal(usage.Timestamp) {
		t.Fatalf("LastHealthCheck = %v, want %v", rec.LastHealthCheck, usage.Timestamp)
	}
}

func TestPIDStatusInvariant(t *testing.T) {
	sup, reg, _ := newTestSupervisor(t, Config{RestartOnFailure: true, MaxRestartAttempts: 3})
	check := func() {
		rec, err := reg.Get("scanner")
		if err != nil {
			t.Fatal(err)
		}
		active := rec.Status == agent.StatusStarting ||
			rec.Status == agent.StatusRunning ||
			rec.Status == agent.StatusStopping
		if active != (rec.PID != 0) {
			t.Fatalf("pid/status invariant broken: %+v", rec)
		}
	}
	check()
	_ = sup.Start("scanner")
	check()
	sup.HandleDeath("scanner")
	check()
	_ = sup.Stop("scanner", time.Second)
	check()
}
