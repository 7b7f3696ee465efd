// Package sweep periodically re-queues conversations that were left dirty,
// either because no completion endpoint was available at ingest time or
// because an analysis pass failed.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

type dirtyLister interface {
	ListDirty(ctx context.Context, quiet time.Duration, limit int32) ([]string, error)
}

type scheduler interface {
	Schedule(conversationID string)
}

// Sweeper runs on a cron spec and feeds dirty, quiet conversations back into
// the analysis scheduler.
type Sweeper struct {
	conversations dirtyLister
	scheduler     scheduler
	logger        *slog.Logger
	spec          string
	quiet         time.Duration
	cron          *cron.Cron
}

// batchLimit caps how many conversations one sweep may enqueue.
const batchLimit = 50

// NewSweeper creates the sweeper. quiet is how long a conversation must have
// been silent before it is re-queued, so mid-exchange conversations are not
// analyzed on every message.
func NewSweeper(log *slog.Logger, conversations dirtyLister, sched scheduler, spec string, quiet time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if spec == "" {
		spec = "@every 5m"
	}
	if quiet <= 0 {
		quiet = 10 * time.Minute
	}
	return &Sweeper{
		conversations: conversations,
		scheduler:     sched,
		logger:        log.With(slog.String("service", "sweep")),
		spec:          spec,
		quiet:         quiet,
	}
}

// Start registers the cron entry and begins ticking.
func (s *Sweeper) Start() error {
	c := cron.New()
	if _, err := c.AddFunc(s.spec, s.Run); err != nil {
		return err
	}
	c.Start()
	s.cron = c
	s.logger.Info("sweep started", slog.String("spec", s.spec))
	return nil
}

// Stop halts the cron loop; a sweep already in flight finishes.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Run performs one sweep immediately.
func (s *Sweeper) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ids, err := s.conversations.ListDirty(ctx, s.quiet, batchLimit)
	if err != nil {
		s.logger.Warn("dirty conversation listing failed", slog.Any("error", err))
		return
	}
	for _, id := range ids {
		s.scheduler.Schedule(id)
	}
	if len(ids) > 0 {
		s.logger.Info("dirty conversations re-queued", slog.Int("count", len(ids)))
	}
}
