package handlers

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/vendalink/vendalink/internal/ingest"
)

type ingestor interface {
	Handle(ctx context.Context, body []byte) (ingest.Result, error)
}

// WebhookHandler receives gateway deliveries. The gateway retries on
// non-2xx, so every processed request is acknowledged with 200 regardless of
// outcome; failures surface only in logs and the audit trail.
type WebhookHandler struct {
	ingestor ingestor
	token    string
	logger   *slog.Logger
}

// NewWebhookHandler creates the webhook handler. token, when non-empty,
// must match the X-Webhook-Token header of every delivery.
func NewWebhookHandler(log *slog.Logger, ing ingestor, token string) *WebhookHandler {
	return &WebhookHandler{
		ingestor: ing,
		token:    token,
		logger:   log.With(slog.String("handler", "webhook")),
	}
}

func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/whatsapp", h.Receive)
}

func (h *WebhookHandler) Receive(c echo.Context) error {
	if h.token != "" {
		header := c.Request().Header.Get("X-Webhook-Token")
		if subtle.ConstantTimeCompare([]byte(header), []byte(h.token)) != 1 {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid webhook token")
		}
	}

	body, err := io.ReadAll(io.LimitReader(c.Request().Body, 1<<20))
	if err != nil {
		h.logger.Warn("webhook body read failed", slog.Any("error", err))
		return c.JSON(http.StatusOK, ingest.Result{Skipped: true, Reason: "unreadable-body"})
	}

	res, err := h.ingestor.Handle(c.Request().Context(), body)
	if err != nil {
		h.logger.Error("webhook ingestion failed", slog.Any("error", err))
		return c.JSON(http.StatusOK, ingest.Result{Skipped: true, Reason: "internal-error"})
	}
	return c.JSON(http.StatusOK, res)
}
