package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	agentStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "agent",
			Name:      "starts_total",
			Help:      "Number of successful agent starts.",
		}, []string{"agent"},
	)
	agentStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "agent",
			Name:      "stops_total",
			Help:      "Number of agent stops (graceful or kill).",
		}, []string{"agent"},
	)
	agentRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "agent",
			Name:      "restarts_total",
			Help:      "Number of automatic restarts after detected death.",
		}, []string{"agent"},
	)
	agentFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "agent",
			Name:      "failures_total",
			Help:      "Number of transitions into the failed state.",
		}, []string{"agent"},
	)
	agentRunning = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentctl",
			Subsystem: "agent",
			Name:      "running",
			Help:      "Whether the agent process is currently running (1/0).",
		}, []string{"agent"},
	)
	agentCPUPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentctl",
			Subsystem: "agent",
			Name:      "cpu_percent",
			Help:      "CPU usage percentage sampled by the health loop.",
		}, []string{"agent"},
	)
	agentMemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentctl",
			Subsystem: "agent",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory sampled by the health loop.",
		}, []string{"agent"},
	)
	busDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "agentctl",
			Subsystem: "bus",
			Name:      "queue_depth",
			Help:      "Undelivered messages in the bus queue.",
		},
	)
	busPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "bus",
			Name:      "published_total",
			Help:      "Messages published per topic.",
		}, []string{"topic"},
	)
	tasksSubmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentctl",
			Subsystem: "task",
			Name:      "submitted_total",
			Help:      "Tasks submitted per agent.",
		}, []string{"agent"},
	)
)

// Register registers all collectors with r. Safe to call multiple times.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{
		agentStarts, agentStops, agentRestarts, agentFailures, agentRunning,
		agentCPUPercent, agentMemoryBytes, busDepth, busPublished, tasksSubmitted,
	}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler serves Prometheus metrics for the default gatherer.
func Handler() http.Handler { return promhttp.Handler() }

func IncStart(agent string)   { agentStarts.WithLabelValues(agent).Inc() }
func IncStop(agent string)    { agentStops.WithLabelValues(agent).Inc() }
func IncRestart(agent string) { agentRestarts.WithLabelValues(agent).Inc() }
func IncFailure(agent string) { agentFailures.WithLabelValues(agent).Inc() }

func IncPublished(topic string) { busPublished.WithLabelValues(topic).Inc() }

func IncTaskSubmitted(agent string) { tasksSubmitted.WithLabelValues(agent).Inc() }

func SetRunning(agent string, running bool) {
	v := 0.0
	if running {
		v = 1.0
	}
	agentRunning.WithLabelValues(agent).Set(v)
}

func SetResources(agent string, cpuPercent float64, memoryRSS uint64) {
	agentCPUPercent.WithLabelValues(agent).Set(cpuPercent)
	agentMemoryBytes.WithLabelValues(agent).Set(float64(memoryRSS))
}

func SetBusDepth(n int) { busDepth.Set(float64(n)) }
