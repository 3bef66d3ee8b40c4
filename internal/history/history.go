package history

import (
	"context"
	"time"
)

// Event is one agent lifecycle transition exported to external systems.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	Agent      string    `json:"agent"`
	Status     string    `json:"status"`
	PID        int       `json:"pid,omitempty"`
}

// Sink is a destination for lifecycle events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
	Close() error
}
