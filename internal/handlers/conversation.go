package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5"
	"github.com/labstack/echo/v4"
)

type reanalyzer interface {
	MarkNeedsAnalysis(ctx context.Context, conversationID string) error
}

type scheduler interface {
	Schedule(conversationID string)
}

// ConversationHandler exposes the manual re-analyze action.
type ConversationHandler struct {
	conversations reanalyzer
	scheduler     scheduler
	logger        *slog.Logger
}

func NewConversationHandler(log *slog.Logger, conversations reanalyzer, sched scheduler) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		scheduler:     sched,
		logger:        log.With(slog.String("handler", "conversation")),
	}
}

func (h *ConversationHandler) Register(e *echo.Echo) {
	e.POST("/conversations/:id/analyze", h.Reanalyze)
}

// Reanalyze marks the conversation dirty and queues an analysis pass.
func (h *ConversationHandler) Reanalyze(c echo.Context) error {
	conversationID := c.Param("id")
	if err := h.conversations.MarkNeedsAnalysis(c.Request().Context(), conversationID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if h.scheduler != nil {
		h.scheduler.Schedule(conversationID)
	}
	return c.JSON(http.StatusAccepted, map[string]string{
		"status":         "scheduled",
		"conversationId": conversationID,
	})
}
