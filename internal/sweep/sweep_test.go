package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeLister struct {
	ids   []string
	err   error
	quiet time.Duration
}

func (f *fakeLister) ListDirty(_ context.Context, quiet time.Duration, _ int32) ([]string, error) {
	f.quiet = quiet
	return f.ids, f.err
}

type fakeScheduler struct {
	scheduled []string
}

func (f *fakeScheduler) Schedule(conversationID string) {
	f.scheduled = append(f.scheduled, conversationID)
}

func TestRunQueuesDirtyConversations(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{ids: []string{"c1", "c2"}}
	sched := &fakeScheduler{}
	s := NewSweeper(nil, lister, sched, "", 15*time.Minute)

	s.Run()

	assert.Equal(t, []string{"c1", "c2"}, sched.scheduled)
	assert.Equal(t, 15*time.Minute, lister.quiet)
}

func TestRunToleratesListFailure(t *testing.T) {
	t.Parallel()

	lister := &fakeLister{err: assert.AnError}
	sched := &fakeScheduler{}
	s := NewSweeper(nil, lister, sched, "@every 5m", 0)

	s.Run()

	assert.Empty(t, sched.scheduled)
}
