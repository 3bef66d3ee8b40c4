package task

import (
	"container/heap"
	"fmt"
	"sync"
	"time"
)

// Scheduler holds submitted tasks and hands them out by descending priority.
// Ties break by submission order: among equal priorities the task submitted
// first is dequeued first, independent of timestamp resolution.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*Task
	queue taskHeap
	seq   uint64
}

func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*Task)}
}

// Submit stores a pending task and enqueues it. The returned id is unique
// for the lifetime of the scheduler even under back-to-back submission.
func (s *Scheduler) Submit(agentName, action string, params map[string]any, priority int) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	t := &Task{
		ID:        fmt.Sprintf("%s_%s_%d", agentName, action, s.seq),
		AgentName: agentName,
		Action:    action,
		Params:    params,
		Priority:  priority,
		Status:    StatusPending,
		CreatedAt: time.Now(),
		seq:       s.seq,
	}
	s.tasks[t.ID] = t
	heap.Push(&s.queue, t)
	return t.ID
}

// Dequeue pops the highest-priority pending task, transitions it to running
// and returns a copy. ok is false when nothing is pending.
func (s *Scheduler) Dequeue() (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for s.queue.Len() > 0 {
		t := heap.Pop(&s.queue).(*Task)
		if t.Status != StatusPending {
			// cancelled while queued
			continue
		}
		t.Status = StatusRunning
		t.StartedAt = time.Now()
		return *t, true
	}
	return Task{}, false
}

// Get returns a copy of the task with the given id.
func (s *Scheduler) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// Complete marks a running task completed with its result.
func (s *Scheduler) Complete(id string, result any) error {
	return s.finish(id, StatusCompleted, result, "")
}

// Fail marks a running task failed with a cause.
func (s *Scheduler) Fail(id string, cause string) error {
	return s.finish(id, StatusFailed, nil, cause)
}

// Cancel marks a pending task cancelled; it is skipped when reached in the
// queue. Cancelling a non-pending task is an error.
func (s *Scheduler) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task: %s", id)
	}
	if t.Status != StatusPending {
		return fmt.Errorf("task %s is %s, not pending", id, t.Status)
	}
	t.Status = StatusCancelled
	t.CompletedAt = time.Now()
	return nil
}

// Pending reports the number of queued (non-cancelled) tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.Status == StatusPending {
			n++
		}
	}
	return n
}

func (s *Scheduler) finish(id string, st Status, result any, cause string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("unknown task: %s", id)
	}
	if t.Status != StatusRunning {
		return fmt.Errorf("task %s is %s, not running", id, t.Status)
	}
	t.Status = st
	t.Result = result
	t.Error = cause
	t.CompletedAt = time.Now()
	return nil
}

// taskHeap orders by priority descending, then submission sequence ascending.
type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority > h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*Task)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
