package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

type fakeReanalyzer struct {
	err    error
	marked []string
}

func (f *fakeReanalyzer) MarkNeedsAnalysis(_ context.Context, conversationID string) error {
	if f.err != nil {
		return f.err
	}
	f.marked = append(f.marked, conversationID)
	return nil
}

type fakeSched struct {
	scheduled []string
}

func (f *fakeSched) Schedule(conversationID string) {
	f.scheduled = append(f.scheduled, conversationID)
}

func postReanalyze(h *ConversationHandler, id string) *httptest.ResponseRecorder {
	e := echo.New()
	h.Register(e)
	req := httptest.NewRequest(http.MethodPost, "/conversations/"+id+"/analyze", nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestReanalyzeSchedules(t *testing.T) {
	t.Parallel()

	conv := &fakeReanalyzer{}
	sched := &fakeSched{}
	h := NewConversationHandler(slog.Default(), conv, sched)

	rec := postReanalyze(h, "conv-1")

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, []string{"conv-1"}, conv.marked)
	assert.Equal(t, []string{"conv-1"}, sched.scheduled)
}

func TestReanalyzeUnknownConversation(t *testing.T) {
	t.Parallel()

	conv := &fakeReanalyzer{err: pgx.ErrNoRows}
	sched := &fakeSched{}
	h := NewConversationHandler(slog.Default(), conv, sched)

	rec := postReanalyze(h, "missing")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, sched.scheduled)
}
