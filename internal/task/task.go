package task

import (
	"encoding/json"
	"time"
)

// Status is the lifecycle state of a submitted task.
type Status int

const (
	StatusPending Status = iota
	StatusRunning
	StatusCompleted
	StatusFailed
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	case StatusCompleted:
		return "completed"
	case StatusFailed:
		return "failed"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// Task is one submitted unit of work addressed to a named agent.
// StartedAt is set exactly when the task leaves the pending state;
// CompletedAt is set exactly when it reaches a terminal state.
type Task struct {
	ID          string         `json:"id"`
	AgentName   string         `json:"agent"`
	Action      string         `json:"action"`
	Params      map[string]any `json:"params,omitempty"`
	Priority    int            `json:"priority"`
	Status      Status         `json:"status"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   time.Time      `json:"started_at,omitzero"`
	CompletedAt time.Time      `json:"completed_at,omitzero"`
	Result      any            `json:"result,omitempty"`
	Error       string         `json:"error,omitempty"`

	seq uint64
}
