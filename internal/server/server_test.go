package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/vendalink/vendalink/internal/handlers"
)

func TestServerServesPing(t *testing.T) {
	t.Parallel()

	srv := NewServer(slog.Default(), ":0", handlers.NewPingHandler(slog.Default()), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ok")
}

func TestServerUnknownRoute(t *testing.T) {
	t.Parallel()

	srv := NewServer(slog.Default(), ":0", handlers.NewPingHandler(slog.Default()), nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	srv.echo.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
