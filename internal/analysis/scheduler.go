package analysis

import (
	"context"
	"log/slog"
	"sync"
)

// Worker runs one analysis pass for a conversation.
type Worker interface {
	Analyze(ctx context.Context, conversationID string) error
}

// Scheduler is a cooperative work queue guaranteeing at most one in-flight
// analysis per conversation and at most limit analyses overall. Failures are
// logged and never block other conversations.
type Scheduler struct {
	worker Worker
	logger *slog.Logger
	limit  int

	mu      sync.Mutex
	pending map[string]struct{}
	running map[string]struct{}
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler draining into the given worker with the
// given global concurrency limit (minimum 1).
func NewScheduler(log *slog.Logger, worker Worker, limit int) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	if limit < 1 {
		limit = 1
	}
	return &Scheduler{
		worker:  worker,
		logger:  log.With(slog.String("service", "analysis")),
		limit:   limit,
		pending: make(map[string]struct{}),
		running: make(map[string]struct{}),
	}
}

// Schedule queues a conversation for analysis. Scheduling an id that is
// already running is a no-op: the running pass has picked up every message
// present at its start, and needs_analysis keeps anything newer visible to
// the next sweep.
func (s *Scheduler) Schedule(conversationID string) {
	if conversationID == "" {
		return
	}
	s.mu.Lock()
	if _, ok := s.running[conversationID]; ok {
		s.mu.Unlock()
		return
	}
	s.pending[conversationID] = struct{}{}
	s.mu.Unlock()

	s.wg.Add(1)
	go s.drain()
}

// drain moves at most one pending id into running and analyzes it. When the
// concurrency limit is saturated it returns immediately; the slot holder
// re-drains on completion.
func (s *Scheduler) drain() {
	defer s.wg.Done()

	s.mu.Lock()
	if len(s.running) >= s.limit {
		s.mu.Unlock()
		return
	}
	var id string
	for k := range s.pending {
		id = k
		break
	}
	if id == "" {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.running[id] = struct{}{}
	s.mu.Unlock()

	if err := s.worker.Analyze(context.Background(), id); err != nil {
		s.logger.Warn("analysis failed",
			slog.String("conversation_id", id),
			slog.Any("error", err),
		)
	}

	s.mu.Lock()
	delete(s.running, id)
	again := len(s.pending) > 0
	s.mu.Unlock()

	if again {
		s.wg.Add(1)
		go s.drain()
	}
}

// Wait blocks until every queued and running analysis has finished. Used on
// shutdown and by tests.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}
