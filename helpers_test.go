package taskvault

import (
	"context"
	"sync"
	"testing"
	"time"
)

// testOpts uses a short debounce so persistence tests finish quickly
func testOpts() StoreOptions {
	return StoreOptions{Debounce: 30 * time.Millisecond, Retention: 3}
}

func newTestTaskStore(t *testing.T) (*TaskStore, Backend) {
	t.Helper()
	backend := NewFilesystemBackend(t.TempDir())
	s := NewTaskStore(backend, testOpts())
	t.Cleanup(func() { s.Close() })
	return s, backend
}

func newTestProjectStore(t *testing.T) (*ProjectStore, Backend) {
	t.Helper()
	backend := NewFilesystemBackend(t.TempDir())
	s := NewProjectStore(backend, testOpts())
	t.Cleanup(func() { s.Close() })
	return s, backend
}

func newTestTimesheetStore(t *testing.T) (*TimesheetStore, Backend) {
	t.Helper()
	backend := NewFilesystemBackend(t.TempDir())
	s := NewTimesheetStore(backend, testOpts())
	t.Cleanup(func() { s.Close() })
	return s, backend
}

func mustCreateTask(t *testing.T, s *TaskStore, task *Task) *Task {
	t.Helper()
	created, err := s.Create(task)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	return created
}

// countingBackend records Put calls per key so tests can observe how many
// physical writes a burst of mutations produced
type countingBackend struct {
	Backend

	mu   sync.Mutex
	puts map[string]int
}

func newCountingBackend(inner Backend) *countingBackend {
	return &countingBackend{Backend: inner, puts: make(map[string]int)}
}

func (b *countingBackend) Put(ctx context.Context, key string, data []byte) error {
	b.mu.Lock()
	b.puts[key]++
	b.mu.Unlock()
	return b.Backend.Put(ctx, key, data)
}

func (b *countingBackend) putCount(key string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.puts[key]
}

// failingBackend rejects Put for one key, letting tests exercise the
// persistence failure path
type failingBackend struct {
	Backend
	failKey string
}

func (b *failingBackend) Put(ctx context.Context, key string, data []byte) error {
	if key == b.failKey {
		return context.DeadlineExceeded
	}
	return b.Backend.Put(ctx, key, data)
}
