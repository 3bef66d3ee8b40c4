package agentctl

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/agentctl/internal/agent"
	cfg "github.com/loykin/agentctl/internal/config"
	"github.com/loykin/agentctl/internal/controller"
	"github.com/loykin/agentctl/internal/metrics"
	"github.com/loykin/agentctl/internal/sampler"
	iapi "github.com/loykin/agentctl/internal/server"
	"github.com/loykin/agentctl/internal/task"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Record = agent.Record

type AgentStatus = agent.Status

type Task = task.Task

type Config = cfg.Config

type SystemUsage = sampler.SystemUsage

// Controller is a thin facade over internal/controller.Controller.
// It provides a stable public API for embedding.

type Controller struct{ inner *controller.Controller }

// LoadConfig reads a YAML configuration file; an empty path yields defaults.
func LoadConfig(path string) (Config, error) { return cfg.Load(path) }

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config { return cfg.Default() }

func New(c Config) (*Controller, error) {
	inner, err := controller.New(c)
	if err != nil {
		return nil, err
	}
	return &Controller{inner: inner}, nil
}

func (c *Controller) Start() error { return c.inner.Start() }
func (c *Controller) Stop()        { c.inner.Stop() }

func (c *Controller) Discover() { c.inner.Discover() }

func (c *Controller) RegisterAgent(name, manifest string) error {
	return c.inner.RegisterAgent(name, manifest)
}

func (c *Controller) StartAgent(name string) error { return c.inner.StartAgent(name) }
func (c *Controller) StopAgent(name string) error  { return c.inner.StopAgent(name) }

func (c *Controller) List() []Record { return c.inner.List() }

func (c *Controller) Status(name string) (Record, error) { return c.inner.Status(name) }

func (c *Controller) SubmitTask(agentName, action string, params map[string]any, priority int) string {
	return c.inner.SubmitTask(agentName, action, params, priority)
}
func (c *Controller) Task(id string) (Task, bool)              { return c.inner.Task(id) }
func (c *Controller) NextTask() (Task, bool)                   { return c.inner.NextTask() }
func (c *Controller) CompleteTask(id string, result any) error { return c.inner.CompleteTask(id, result) }
func (c *Controller) FailTask(id, cause string) error          { return c.inner.FailTask(id, cause) }

func (c *Controller) SystemUsage() SystemUsage { return c.inner.SystemUsage() }

// RegisterMetrics registers the controller's Prometheus collectors.
func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// MetricsHandler serves Prometheus metrics for the default gatherer.
func MetricsHandler() http.Handler { return metrics.Handler() }

// NewServer starts the HTTP API for this controller on addr.
func (c *Controller) NewServer(addr, basePath string) *http.Server {
	return iapi.NewServer(addr, basePath, c.inner)
}

// APIHandler returns the HTTP API as an embeddable handler.
func (c *Controller) APIHandler(basePath string) http.Handler {
	return iapi.NewRouter(c.inner, basePath).Handler()
}
