package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/loykin/agentctl/internal/agent"
	"github.com/loykin/agentctl/internal/bus"
	"github.com/loykin/agentctl/internal/metrics"
)

var (
	ErrEntryPointMissing = errors.New("agent entry point missing")
	ErrSpawnFailed       = errors.New("agent spawn failed")
)

// DefaultEntryPoint is the runnable file every agent directory must expose.
const DefaultEntryPoint = "main.py"

// Config carries the restart policy and stop behavior.
type Config struct {
	RestartOnFailure   bool
	MaxRestartAttempts int
	StopTimeout        time.Duration
	RestartBackoff     time.Duration
	EntryPoint         string
}

func (c Config) entryPoint() string {
	if c.EntryPoint == "" {
		return DefaultEntryPoint
	}
	return c.EntryPoint
}

// Supervisor owns every mutation of agent records. Operations are mutually
// exclusive per agent name so an operator stop cannot race a health-loop
// restart on the same agent.
type Supervisor struct {
	cfg      Config
	reg      *agent.Registry
	bus      *bus.Bus
	launcher Launcher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(cfg Config, reg *agent.Registry, b *bus.Bus, l Launcher) *Supervisor {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Supervisor{
		cfg:      cfg,
		reg:      reg,
		bus:      b,
		launcher: l,
		locks:    make(map[string]*sync.Mutex),
	}
}

// Start spawns the agent's entry point. Starting an already running agent
// is a success without re-spawning.
func (s *Supervisor) Start(name string) error {
	l := s.agentLock(name)
	l.Lock()
	defer l.Unlock()
	return s.startLocked(name)
}

// Stop terminates the agent gracefully, escalating to a kill after the
// configured timeout. Stopping a non-running agent is a no-op success, and
// signaling errors never prevent the record from reaching stopped.
func (s *Supervisor) Stop(name string, wait time.Duration) error {
	l := s.agentLock(name)
	l.Lock()
	defer l.Unlock()

	rec, err := s.reg.Get(name)
	if err != nil {
		return err
	}
	if rec.Status != agent.StatusRunning && rec.Status != agent.StatusStarting {
		return nil
	}
	if wait <= 0 {
		wait = s.cfg.StopTimeout
	}
	pid := rec.PID

	_ = s.reg.Update(name, func(r *agent.Record) { r.Status = agent.StatusStopping })

	if err := s.launcher.SignalTerminate(pid); err != nil {
		slog.Warn("terminate signal failed", "agent", name, "pid", pid, "error", err)
	}
	if !s.launcher.WaitExit(pid, wait) {
		slog.Warn("agent did not exit in time, killing", "agent", name, "pid", pid, "wait", wait)
		if err := s.launcher.Kill(pid); err != nil {
			slog.Error("kill failed", "agent", name, "pid", pid, "error", err)
		}
		s.launcher.WaitExit(pid, 200*time.Millisecond)
	}

	_ = s.reg.Update(name, func(r *agent.Record) {
		r.Status = agent.StatusStopped
		r.PID = 0
	})
	metrics.IncStop(name)
	metrics.SetRunning(name, false)
	s.publishStatus(name, "stopped", 0)
	slog.Info("agent stopped", "agent", name)
	return nil
}

// HandleDeath is the health loop's entry point when a running agent's
// process has vanished. It marks the record failed and applies the bounded
// restart policy.
func (s *Supervisor) HandleDeath(name string) {
	l := s.agentLock(name)
	l.Lock()
	defer l.Unlock()

	rec, err := s.reg.Get(name)
	if err != nil || rec.Status != agent.StatusRunning {
		// An operator stop won the race; nothing to do.
		return
	}
	_ = s.reg.Update(name, func(r *agent.Record) {
		r.Status = agent.StatusFailed
		r.PID = 0
		r.Resources = nil
	})
	metrics.IncFailure(name)
	metrics.SetRunning(name, false)
	s.publishStatus(name, "failed", 0)
	slog.Warn("agent process vanished", "agent", name, "pid", rec.PID)

	if !s.cfg.RestartOnFailure || rec.RestartCount >= s.cfg.MaxRestartAttempts {
		if s.cfg.RestartOnFailure {
			slog.Error("restart attempts exhausted", "agent", name, "attempts", rec.RestartCount)
		}
		return
	}
	_ = s.reg.Update(name, func(r *agent.Record) { r.RestartCount++ })
	if s.cfg.RestartBackoff > 0 {
		time.Sleep(s.cfg.RestartBackoff)
	}
	slog.Info("restarting agent", "agent", name,
		"attempt", rec.RestartCount+1, "max", s.cfg.MaxRestartAttempts)
	metrics.IncRestart(name)
	if err := s.startLocked(name); err != nil {
		slog.Error("automatic restart failed", "agent", name, "error", err)
	}
}

// RecordSample stores a health-loop resource snapshot on the record.
func (s *Supervisor) RecordSample(name string, usage agent.ResourceUsage) {
	l := s.agentLock(name)
	l.Lock()
	defer l.Unlock()
	_ = s.reg.Update(name, func(r *agent.Record) {
		if r.Status != agent.StatusRunning {
			return
		}
		r.Resources = &usage
		r.LastHealthCheck = usage.Timestamp
	})
	metrics.SetResources(name, usage.CPUPercent, usage.MemoryRSS)
}

func (s *Supervisor) startLocked(name string) error {
	rec, err := s.reg.Get(name)
	if err != nil {
		return err
	}
	if rec.Status == agent.StatusRunning {
		return nil
	}

	entry := filepath.Join(rec.Dir(), s.cfg.entryPoint())
	if _, err := os.Stat(entry); err != nil {
		_ = s.reg.Update(name, func(r *agent.Record) {
			r.Status = agent.StatusFailed
			r.PID = 0
		})
		s.publishStatus(name, "failed", 0)
		return fmt.Errorf("%w: %s", ErrEntryPointMissing, entry)
	}

	pid, err := s.launcher.Spawn(name, rec.Dir(), entry)
	if err != nil {
		_ = s.reg.Update(name, func(r *agent.Record) {
			r.Status = agent.StatusFailed
			r.PID = 0
		})
		s.publishStatus(name, "failed", 0)
		return fmt.Errorf("%w: %v", ErrSpawnFailed, err)
	}

	// PID is assigned together with the starting transition so readers
	// never see a transitional status without a pid.
	_ = s.reg.Update(name, func(r *agent.Record) {
		r.Status = agent.StatusStarting
		r.PID = pid
	})
	_ = s.reg.Update(name, func(r *agent.Record) {
		r.Status = agent.StatusRunning
		r.LastHealthCheck = time.Now()
	})
	metrics.IncStart(name)
	metrics.SetRunning(name, true)
	s.publishStatus(name, "started", pid)
	slog.Info("agent started", "agent", name, "pid", pid)
	return nil
}

func (s *Supervisor) publishStatus(name, status string, pid int) {
	payload := map[string]any{"agent": name, "status": status}
	if pid > 0 {
		payload["pid"] = pid
	}
	if err := s.bus.Publish(bus.TopicAgentStatus, payload); err != nil {
		slog.Debug("status event dropped", "agent", name, "status", status, "error", err)
	}
	metrics.IncPublished(bus.TopicAgentStatus)
	metrics.SetBusDepth(s.bus.Depth())
}

func (s *Supervisor) agentLock(name string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[name]
	if !ok {
		l = &sync.Mutex{}
		s.locks[name] = l
	}
	return l
}
