package health

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/loykin/agentctl/internal/agent"
	"github.com/loykin/agentctl/internal/bus"
	"github.com/loykin/agentctl/internal/sampler"
	"github.com/loykin/agentctl/internal/supervisor"
)

// fakeSampler serves canned results per pid; unknown pids read as dead.
type fakeSampler struct {
	mu    sync.Mutex
	alive map[int]agent.ResourceUsage
	errs  map[int]error
	calls int
}

func newFakeSampler() *fakeSampler {
	return &fakeSampler{alive: make(map[int]agent.ResourceUsage), errs: make(map[int]error)}
}

func (f *fakeSampler) Sample(pid int) (agent.ResourceUsage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[pid]; ok {
		return agent.ResourceUsage{}, err
	}
	usage, ok := f.alive[pid]
	if !ok {
		return agent.ResourceUsage{}, sampler.ErrNotRunning
	}
	return usage, nil
}

func (f *fakeSampler) markAlive(pid int, usage agent.ResourceUsage) {
	f.mu.Lock()
	f.alive[pid] = usage
	f.mu.Unlock()
}

type stubLauncher struct {
	mu      sync.Mutex
	nextPID int
	spawned []int
}

func (s *stubLauncher) Spawn(string, string, string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextPID++
	s.spawned = append(s.spawned, s.nextPID)
	return s.nextPID, nil
}

func (s *stubLauncher) SignalTerminate(int) error        { return nil }
func (s *stubLauncher) Kill(int) error                   { return nil }
func (s *stubLauncher) IsAlive(int) bool                 { return false }
func (s *stubLauncher) WaitExit(int, time.Duration) bool { return true }

func setup(t *testing.T, cfg supervisor.Config) (*agent.Registry, *supervisor.Supervisor, *fakeSampler, *Loop) {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "main.py"), []byte("pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	reg := agent.NewRegistry()
	if err := reg.Register("scanner", filepath.Join(dir, "manifest.yaml"), 5); err != nil {
		t.Fatal(err)
	}
	sup := supervisor.New(cfg, reg, bus.New(0), &stubLauncher{nextPID: 100})
	smp := newFakeSampler()
	loop := NewLoop(reg, sup, smp, time.Hour)
	return reg, sup, smp, loop
}

func TestTickRecordsSample(t *testing.T) {
	reg, sup, smp, loop := setup(t, supervisor.Config{})
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	rec, _ := reg.Get("scanner")
	usage := agent.ResourceUsage{CPUPercent: 3.2, MemoryRSS: 2 << 20, NumThreads: 2, Timestamp: time.Now()}
	smp.markAlive(rec.PID, usage)

	loop.Tick(context.Background())

	rec, _ = reg.Get("scanner")
	if rec.Resources == nil || rec.Resources.CPUPercent != 3.2 {
		t.Fatalf("resources = %+v, want recorded sample", rec.Resources)
	}
	if !rec.LastHealthCheck.Equal(usage.Timestamp) {
		t.Fatalf("LastHealthCheck = %v, want %v", rec.LastHealthCheck, usage.Timestamp)
	}
}

func TestTickDetectsDeathAndRestarts(t *testing.T) {
	reg, sup, _, loop := setup(t, supervisor.Config{RestartOnFailure: true, MaxRestartAttempts: 3})
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	first, _ := reg.Get("scanner")

	// Dead pid: sampler answers ErrNotRunning, the sweep must restart it.
	loop.Tick(context.Background())

	rec, _ := reg.Get("scanner")
	if rec.Status != agent.StatusRunning {
		t.Fatalf("status = %v, want running after restart", rec.Status)
	}
	if rec.RestartCount != 1 {
		t.Fatalf("restart count = %d, want 1", rec.RestartCount)
	}
	if rec.PID == first.PID {
		t.Fatal("expected a fresh pid after restart")
	}
}

func TestTickExhaustsRestartAttempts(t *testing.T) {
	reg, sup, _, loop := setup(t, supervisor.Config{RestartOnFailure: true, MaxRestartAttempts: 3})
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	// Every restart lands on a dead pid again; after 3 attempts the agent
	// stays failed.
	for i := 0; i < 6; i++ {
		loop.Tick(context.Background())
	}
	rec, _ := reg.Get("scanner")
	if rec.Status != agent.StatusFailed {
		t.Fatalf("status = %v, want failed", rec.Status)
	}
	if rec.RestartCount != 3 {
		t.Fatalf("restart count = %d, must stop at 3", rec.RestartCount)
	}
}

func TestTickSkipsNonRunningAgents(t *testing.T) {
	_, _, smp, loop := setup(t, supervisor.Config{})
	loop.Tick(context.Background())
	smp.mu.Lock()
	defer smp.mu.Unlock()
	if smp.calls != 0 {
		t.Fatalf("sampled %d stopped agents, want 0", smp.calls)
	}
}

func TestTickSurvivesSamplerError(t *testing.T) {
	reg, sup, smp, loop := setup(t, supervisor.Config{})
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	rec, _ := reg.Get("scanner")
	smp.mu.Lock()
	smp.errs[rec.PID] = errors.New("proc filesystem unavailable")
	smp.mu.Unlock()

	loop.Tick(context.Background())

	rec, _ = reg.Get("scanner")
	if rec.Status != agent.StatusRunning {
		t.Fatalf("status = %v, transient sampler errors must not mark death", rec.Status)
	}
}

func TestLoopStartStop(t *testing.T) {
	reg, sup, smp, _ := setup(t, supervisor.Config{})
	loop := NewLoop(reg, sup, smp, 10*time.Millisecond)
	if err := sup.Start("scanner"); err != nil {
		t.Fatal(err)
	}
	rec, _ := reg.Get("scanner")
	smp.markAlive(rec.PID, agent.ResourceUsage{CPUPercent: 1, Timestamp: time.Now()})

	loop.Start()
	loop.Start() // second start is a no-op
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		smp.mu.Lock()
		n := smp.calls
		smp.mu.Unlock()
		if n > 0 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	loop.Stop(time.Second)
	loop.Stop(time.Second) // idempotent

	smp.mu.Lock()
	defer smp.mu.Unlock()
	if smp.calls == 0 {
		t.Fatal("background loop never sampled")
	}
}
