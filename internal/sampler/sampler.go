package sampler

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/loykin/agentctl/internal/agent"
)

// ErrNotRunning reports that the sampled process no longer exists or is
// inaccessible. The health loop treats it as a crash signal.
var ErrNotRunning = errors.New("process not running")

// DefaultCPUInterval is the measurement window for CPU percent.
const DefaultCPUInterval = 100 * time.Millisecond

// Sampler reads point-in-time resource usage for a PID. Implementations
// must be safe for concurrent use.
type Sampler interface {
	Sample(pid int) (agent.ResourceUsage, error)
}

// ProcSampler samples via gopsutil with a handle cache keyed by PID.
// Entries are evicted once their process is confirmed gone.
type ProcSampler struct {
	mu          sync.Mutex
	handles     map[int]*process.Process
	cpuInterval time.Duration
}

func New() *ProcSampler {
	return &ProcSampler{
		handles:     make(map[int]*process.Process),
		cpuInterval: DefaultCPUInterval,
	}
}

func (s *ProcSampler) handle(pid int) (*process.Process, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.handles[pid]; ok {
		return p, nil
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	s.handles[pid] = p
	return p, nil
}

func (s *ProcSampler) evict(pid int) {
	s.mu.Lock()
	delete(s.handles, pid)
	s.mu.Unlock()
}

// Sample returns CPU percent measured over a short interval, resident
// memory, memory percent, and thread count. ErrNotRunning is returned when
// the process is gone; the cached handle is evicted in that case.
func (s *ProcSampler) Sample(pid int) (agent.ResourceUsage, error) {
	proc, err := s.handle(pid)
	if err != nil {
		s.evict(pid)
		return agent.ResourceUsage{}, fmt.Errorf("%w: pid %d", ErrNotRunning, pid)
	}
	running, err := proc.IsRunning()
	if err != nil || !running {
		s.evict(pid)
		return agent.ResourceUsage{}, fmt.Errorf("%w: pid %d", ErrNotRunning, pid)
	}

	cpuPercent, err := proc.Percent(s.cpuInterval)
	if err != nil {
		slog.Debug("cpu percent unavailable", "pid", pid, "error", err)
		cpuPercent = 0
	}
	memInfo, err := proc.MemoryInfo()
	if err != nil {
		s.evict(pid)
		return agent.ResourceUsage{}, fmt.Errorf("%w: pid %d", ErrNotRunning, pid)
	}
	memPercent, err := proc.MemoryPercent()
	if err != nil {
		memPercent = 0
	}
	numThreads, err := proc.NumThreads()
	if err != nil {
		slog.Debug("thread count unavailable", "pid", pid, "error", err)
		numThreads = 0
	}

	return agent.ResourceUsage{
		CPUPercent:    cpuPercent,
		MemoryRSS:     memInfo.RSS,
		MemoryPercent: memPercent,
		NumThreads:    numThreads,
		Timestamp:     time.Now(),
	}, nil
}
