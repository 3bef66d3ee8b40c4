package controller

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/loykin/agentctl/internal/agent"
	"github.com/loykin/agentctl/internal/bus"
	"github.com/loykin/agentctl/internal/config"
	"github.com/loykin/agentctl/internal/health"
	"github.com/loykin/agentctl/internal/history"
	chsink "github.com/loykin/agentctl/internal/history/clickhouse"
	pgsink "github.com/loykin/agentctl/internal/history/postgres"
	"github.com/loykin/agentctl/internal/manifest"
	"github.com/loykin/agentctl/internal/metrics"
	"github.com/loykin/agentctl/internal/sampler"
	"github.com/loykin/agentctl/internal/store"
	"github.com/loykin/agentctl/internal/supervisor"
	"github.com/loykin/agentctl/internal/task"
)

// Controller owns and wires the orchestration engine: registry, process
// supervisor, health loop, message bus, and task scheduler.
type Controller struct {
	cfg   config.Config
	reg   *agent.Registry
	bus   *bus.Bus
	sup   *supervisor.Supervisor
	loop  *health.Loop
	sched *task.Scheduler
	st    *store.Store
	sinks []history.Sink

	running atomic.Bool
}

// New builds a stopped controller from configuration. The launcher and
// sampler may be overridden through Option values in tests.
func New(cfg config.Config, opts ...Option) (*Controller, error) {
	c := &Controller{
		cfg:   cfg,
		reg:   agent.NewRegistry(),
		bus:   bus.New(cfg.Bus.Capacity),
		sched: task.NewScheduler(),
	}
	o := options{
		launcher: supervisor.NewExecLauncher(cfg.Log),
		sampler:  sampler.New(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	c.sup = supervisor.New(supervisor.Config{
		RestartOnFailure:   cfg.Agents.RestartOnFailure,
		MaxRestartAttempts: cfg.Agents.MaxRestartAttempts,
		StopTimeout:        cfg.Agents.StopTimeout,
		RestartBackoff:     cfg.Agents.RestartBackoff,
	}, c.reg, c.bus, o.launcher)
	c.loop = health.NewLoop(c.reg, c.sup, o.sampler, cfg.Agents.HealthCheckInterval)

	if cfg.Database.Path != "" {
		st, err := store.Open(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		c.st = st
	}
	c.openSinks()
	c.bus.Subscribe(bus.TopicAgentStatus, c.persistStatusEvent)
	return c, nil
}

type options struct {
	launcher supervisor.Launcher
	sampler  sampler.Sampler
}

// Option overrides a controller dependency.
type Option func(*options)

func WithLauncher(l supervisor.Launcher) Option { return func(o *options) { o.launcher = l } }
func WithSampler(s sampler.Sampler) Option      { return func(o *options) { o.sampler = s } }

// openSinks constructs configured history sinks. A sink that cannot be
// reached is skipped with a warning; the controller still starts.
func (c *Controller) openSinks() {
	if dsn := c.cfg.History.PostgresDSN; dsn != "" {
		if s, err := pgsink.New(dsn); err != nil {
			slog.Warn("postgres history sink unavailable", "error", err)
		} else {
			c.sinks = append(c.sinks, s)
		}
	}
	if addr := c.cfg.History.ClickHouseAddr; addr != "" {
		if s, err := chsink.New(addr, c.cfg.History.ClickHouseTable); err != nil {
			slog.Warn("clickhouse history sink unavailable", "error", err)
		} else {
			c.sinks = append(c.sinks, s)
		}
	}
}

// Start brings up the bus, runs discovery per configuration, optionally
// starts every agent, and launches the health loop.
func (c *Controller) Start() error {
	if !c.running.CompareAndSwap(false, true) {
		return nil
	}
	slog.Info("starting controller")
	c.bus.Start()
	if c.cfg.Agents.AutoDiscover {
		c.Discover()
	}
	if c.cfg.Agents.AutoStart {
		for _, rec := range c.reg.List() {
			if err := c.StartAgent(rec.Name); err != nil {
				slog.Error("auto-start failed", "agent", rec.Name, "error", err)
			}
		}
	}
	c.loop.Start()
	slog.Info("controller started", "agents", c.reg.Len())
	return nil
}

// Stop stops every running agent, then the background loops, then closes
// the store and sinks. It is safe to call on a stopped controller.
func (c *Controller) Stop() {
	if !c.running.CompareAndSwap(true, false) {
		return
	}
	slog.Info("stopping controller")
	c.loop.Stop(5 * time.Second)
	for _, rec := range c.reg.List() {
		if err := c.sup.Stop(rec.Name, c.cfg.Agents.StopTimeout); err != nil {
			slog.Error("stop failed", "agent", rec.Name, "error", err)
		}
	}
	c.bus.Stop(5 * time.Second)
	for _, s := range c.sinks {
		_ = s.Close()
	}
	if c.st != nil {
		_ = c.st.Close()
	}
	slog.Info("controller stopped")
}

// Discover scans the configured agent directory and registers every agent
// with a readable manifest. Already-registered names are left untouched.
func (c *Controller) Discover() {
	found := manifest.Discover(c.cfg.Agents.Directory)
	for _, d := range found {
		if err := c.reg.Register(d.Name, d.ManifestPath, d.Manifest.Priority); err != nil {
			continue
		}
		slog.Info("registered agent", "agent", d.Name, "priority", d.Manifest.Priority)
	}
	slog.Info("discovery complete", "agents", c.reg.Len())
}

// RegisterAgent registers a single agent from its manifest path.
func (c *Controller) RegisterAgent(name, manifestPath string) error {
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return err
	}
	return c.reg.Register(name, manifestPath, m.Priority)
}

// StartAgent starts the named agent.
func (c *Controller) StartAgent(name string) error { return c.sup.Start(name) }

// StopAgent stops the named agent with the configured timeout.
func (c *Controller) StopAgent(name string) error {
	return c.sup.Stop(name, c.cfg.Agents.StopTimeout)
}

// List returns all agent records in registration order.
func (c *Controller) List() []agent.Record { return c.reg.List() }

// Status returns the named agent's record.
func (c *Controller) Status(name string) (agent.Record, error) { return c.reg.Get(name) }

// SubmitTask queues a task for eventual dispatch and returns its id.
func (c *Controller) SubmitTask(agentName, action string, params map[string]any, priority int) string {
	id := c.sched.Submit(agentName, action, params, priority)
	metrics.IncTaskSubmitted(agentName)
	c.recordTask(id)
	slog.Info("task submitted", "task", id, "agent", agentName, "priority", priority)
	return id
}

// Task returns a submitted task by id.
func (c *Controller) Task(id string) (task.Task, bool) { return c.sched.Get(id) }

// NextTask hands the highest-priority pending task to a dispatcher.
func (c *Controller) NextTask() (task.Task, bool) {
	t, ok := c.sched.Dequeue()
	if ok {
		c.recordTask(t.ID)
	}
	return t, ok
}

// CompleteTask marks a dispatched task completed.
func (c *Controller) CompleteTask(id string, result any) error {
	if err := c.sched.Complete(id, result); err != nil {
		return err
	}
	c.recordTask(id)
	return nil
}

// FailTask marks a dispatched task failed.
func (c *Controller) FailTask(id, cause string) error {
	if err := c.sched.Fail(id, cause); err != nil {
		return err
	}
	c.recordTask(id)
	return nil
}

// SystemUsage reports host-level resource figures.
func (c *Controller) SystemUsage() sampler.SystemUsage { return sampler.SampleSystem() }

// TickHealth runs one health sweep immediately. Intended for tests and the
// debug API; the periodic loop calls the same path.
func (c *Controller) TickHealth() { c.loop.Tick(context.Background()) }

// persistStatusEvent is the bus subscriber that mirrors agent.status events
// into the store and the configured history sinks.
func (c *Controller) persistStatusEvent(msg bus.Message) error {
	name, _ := msg.Payload["agent"].(string)
	status, _ := msg.Payload["status"].(string)
	pid, _ := msg.Payload["pid"].(int)
	ctx := context.Background()
	if c.st != nil {
		if err := c.st.RecordEvent(ctx, msg.Topic, name, msg.Payload); err != nil {
			slog.Warn("event persist failed", "agent", name, "error", err)
		}
		if rec, err := c.reg.Get(name); err == nil {
			if err := c.st.UpsertAgent(ctx, rec); err != nil {
				slog.Warn("agent upsert failed", "agent", name, "error", err)
			}
		}
	}
	evt := history.Event{OccurredAt: time.Now().UTC(), Agent: name, Status: status, PID: pid}
	for _, s := range c.sinks {
		if err := s.Send(ctx, evt); err != nil {
			slog.Warn("history sink send failed", "agent", name, "error", err)
		}
	}
	return nil
}

func (c *Controller) recordTask(id string) {
	if c.st == nil {
		return
	}
	if t, ok := c.sched.Get(id); ok {
		if err := c.st.RecordTask(context.Background(), t); err != nil {
			slog.Warn("task persist failed", "task", id, "error", err)
		}
	}
}
