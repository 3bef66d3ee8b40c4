package agent

import (
	"encoding/json"
	"path/filepath"
	"time"
)

// Status is the lifecycle state of a registered agent.
type Status int

const (
	StatusStopped Status = iota
	StatusStarting
	StatusRunning
	StatusStopping
	StatusFailed
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusStopped:
		return "stopped"
	case StatusStarting:
		return "starting"
	case StatusRunning:
		return "running"
	case StatusStopping:
		return "stopping"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// ResourceUsage is a point-in-time sample of an agent process.
type ResourceUsage struct {
	CPUPercent    float64   `json:"cpu_percent"`
	MemoryRSS     uint64    `json:"memory_rss"`
	MemoryPercent float32   `json:"memory_percent"`
	NumThreads    int32     `json:"num_threads"`
	Timestamp     time.Time `json:"timestamp"`
}

// Record is the lifecycle record for one registered agent.
// Name and ManifestPath are immutable after registration. PID is zero
// unless Status is one of starting/running/stopping.
type Record struct {
	Name            string         `json:"name"`
	ManifestPath    string         `json:"manifest_path"`
	Status          Status         `json:"status"`
	PID             int            `json:"pid,omitempty"`
	Priority        int            `json:"priority"`
	LastHealthCheck time.Time      `json:"last_health_check,omitzero"`
	RestartCount    int            `json:"restart_count"`
	Resources       *ResourceUsage `json:"resources,omitempty"`
}

// Dir returns the agent's directory, derived from its manifest location.
func (r Record) Dir() string {
	return filepath.Dir(r.ManifestPath)
}
