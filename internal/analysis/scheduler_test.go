package analysis

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type blockingWorker struct {
	mu         sync.Mutex
	running    int
	maxRunning int
	calls      []string

	started chan string
	release chan struct{}
}

func newBlockingWorker() *blockingWorker {
	return &blockingWorker{
		started: make(chan string, 16),
		release: make(chan struct{}),
	}
}

func (w *blockingWorker) Analyze(_ context.Context, conversationID string) error {
	w.mu.Lock()
	w.running++
	if w.running > w.maxRunning {
		w.maxRunning = w.running
	}
	w.calls = append(w.calls, conversationID)
	w.mu.Unlock()

	w.started <- conversationID
	<-w.release

	w.mu.Lock()
	w.running--
	w.mu.Unlock()
	return nil
}

func TestSchedulerSingleFlight(t *testing.T) {
	t.Parallel()

	worker := newBlockingWorker()
	sched := NewScheduler(nil, worker, 1)

	sched.Schedule("conv-1")
	<-worker.started

	// Re-scheduling a running id is a no-op; the running pass already sees
	// every message present at its start.
	for i := 0; i < 5; i++ {
		sched.Schedule("conv-1")
	}

	close(worker.release)
	sched.Wait()

	assert.Equal(t, []string{"conv-1"}, worker.calls)
}

func TestSchedulerCoalescesPending(t *testing.T) {
	t.Parallel()

	worker := newBlockingWorker()
	sched := NewScheduler(nil, worker, 1)

	sched.Schedule("conv-1")
	<-worker.started

	// conv-2 is queued while the only slot is busy; repeats coalesce.
	sched.Schedule("conv-2")
	sched.Schedule("conv-2")
	sched.Schedule("conv-2")

	close(worker.release)
	sched.Wait()

	assert.Equal(t, []string{"conv-1", "conv-2"}, worker.calls)
}

func TestSchedulerBoundedConcurrency(t *testing.T) {
	t.Parallel()

	worker := newBlockingWorker()
	sched := NewScheduler(nil, worker, 2)

	for _, id := range []string{"c1", "c2", "c3", "c4", "c5"} {
		sched.Schedule(id)
	}

	// Exactly two workers may start before anyone is released.
	<-worker.started
	<-worker.started

	close(worker.release)
	sched.Wait()

	worker.mu.Lock()
	defer worker.mu.Unlock()
	assert.Equal(t, 2, worker.maxRunning)
	require.Len(t, worker.calls, 5)
	assert.ElementsMatch(t, []string{"c1", "c2", "c3", "c4", "c5"}, worker.calls)
}

type erroringWorker struct {
	mu    sync.Mutex
	calls []string
}

func (w *erroringWorker) Analyze(_ context.Context, conversationID string) error {
	w.mu.Lock()
	w.calls = append(w.calls, conversationID)
	w.mu.Unlock()
	return assert.AnError
}

func TestSchedulerFailureDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	worker := &erroringWorker{}
	sched := NewScheduler(nil, worker, 1)

	sched.Schedule("c1")
	sched.Wait()
	sched.Schedule("c2")
	sched.Wait()

	assert.Equal(t, []string{"c1", "c2"}, worker.calls)
}
