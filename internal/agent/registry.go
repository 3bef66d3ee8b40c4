package agent

import (
	"errors"
	"fmt"
	"sync"
)

var (
	ErrDuplicateAgent = errors.New("agent already registered")
	ErrAgentNotFound  = errors.New("agent not found")
)

// Registry is the single source of truth for agent records. Readers get
// copies; mutation happens only through Update, which the supervisor uses
// as its write choke point.
type Registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	order   []string
}

func NewRegistry() *Registry {
	return &Registry{records: make(map[string]*Record)}
}

// Register creates a record in the stopped state. Name must be unique.
func (r *Registry) Register(name, manifestPath string, priority int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateAgent, name)
	}
	r.records[name] = &Record{
		Name:         name,
		ManifestPath: manifestPath,
		Status:       StatusStopped,
		Priority:     priority,
	}
	r.order = append(r.order, name)
	return nil
}

// Get returns a copy of the named record.
func (r *Registry) Get(name string) (Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[name]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	return *rec, nil
}

// List returns copies of all records in registration order.
func (r *Registry) List() []Record {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Record, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.records[name])
	}
	return out
}

// Update applies fn to the named record under the registry lock so readers
// never observe a half-applied transition. Name and ManifestPath changes
// made by fn are discarded.
func (r *Registry) Update(name string, fn func(*Record)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentNotFound, name)
	}
	keptName, keptPath := rec.Name, rec.ManifestPath
	fn(rec)
	rec.Name, rec.ManifestPath = keptName, keptPath
	return nil
}

// Len reports the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}
