package sampler

import (
	"errors"
	"os"
	"testing"
)

func TestSampleOwnProcess(t *testing.T) {
	s := New()
	usage, err := s.Sample(os.Getpid())
	if err != nil {
		t.Fatalf("sample: %v", err)
	}
	if usage.MemoryRSS == 0 {
		t.Fatal("RSS of a live process must be nonzero")
	}
	if usage.NumThreads <= 0 {
		t.Fatalf("threads = %d, want > 0", usage.NumThreads)
	}
	if usage.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}

func TestSampleCachesHandle(t *testing.T) {
	s := New()
	pid := os.Getpid()
	if _, err := s.Sample(pid); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Sample(pid); err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) != 1 {
		t.Fatalf("cached handles = %d, want 1", len(s.handles))
	}
}

func TestSampleDeadProcess(t *testing.T) {
	s := New()
	// PID far above any default pid_max.
	const bogus = 1 << 22
	_, err := s.Sample(bogus)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("err = %v, want ErrNotRunning", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.handles) != 0 {
		t.Fatal("dead pid must not stay cached")
	}
}

func TestSampleSystem(t *testing.T) {
	usage := SampleSystem()
	if usage.MemoryPercent <= 0 || usage.MemoryPercent > 100 {
		t.Fatalf("memory percent = %f", usage.MemoryPercent)
	}
	if usage.Timestamp.IsZero() {
		t.Fatal("timestamp not set")
	}
}
