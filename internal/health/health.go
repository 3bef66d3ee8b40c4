package health

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/agentctl/internal/agent"
	"github.com/loykin/agentctl/internal/sampler"
	"github.com/loykin/agentctl/internal/supervisor"
)

// DefaultInterval is the tick period between health sweeps.
const DefaultInterval = 60 * time.Second

// Loop periodically samples every running agent, refreshing resource
// snapshots and routing detected deaths to the supervisor's restart path.
type Loop struct {
	reg      *agent.Registry
	sup      *supervisor.Supervisor
	smp      sampler.Sampler
	interval time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func NewLoop(reg *agent.Registry, sup *supervisor.Supervisor, smp sampler.Sampler, interval time.Duration) *Loop {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Loop{reg: reg, sup: sup, smp: smp, interval: interval}
}

// Start launches the background loop. Calling Start on a running loop is a
// no-op.
func (l *Loop) Start() {
	if l.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx)
	slog.Debug("health loop started", "interval", l.interval)
}

// Stop requests shutdown and waits for the loop to observe it, bounded by
// timeout. An in-flight tick finishes its current agent first.
func (l *Loop) Stop(timeout time.Duration) {
	if l.cancel == nil {
		return
	}
	l.cancel()
	select {
	case <-l.done:
	case <-time.After(timeout):
		slog.Warn("health loop did not exit in time", "timeout", timeout)
	}
	l.cancel = nil
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.done)
	t := time.NewTicker(l.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			l.Tick(ctx)
		}
	}
}

// Tick sweeps the current agent list once. A failure checking one agent
// never aborts the sweep for the others.
func (l *Loop) Tick(ctx context.Context) {
	for _, rec := range l.reg.List() {
		if ctx.Err() != nil {
			return
		}
		if rec.Status != agent.StatusRunning || rec.PID == 0 {
			continue
		}
		l.checkOne(rec)
	}
}

func (l *Loop) checkOne(rec agent.Record) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("health check panicked", "agent", rec.Name, "panic", r)
		}
	}()
	usage, err := l.smp.Sample(rec.PID)
	switch {
	case err == nil:
		l.sup.RecordSample(rec.Name, usage)
	case errors.Is(err, sampler.ErrNotRunning):
		l.sup.HandleDeath(rec.Name)
	default:
		slog.Error("health check failed", "agent", rec.Name, "pid", rec.PID, "error", err)
	}
}
