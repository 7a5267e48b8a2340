package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
)

// PingHandler answers liveness probes. It has no dependencies on purpose: if
// these routes respond, the process is up, whatever state the backends are in.
type PingHandler struct {
	logger *slog.Logger
}

// NewPingHandler creates a ping handler.
func NewPingHandler(log *slog.Logger) *PingHandler {
	return &PingHandler{logger: log.With(slog.String("handler", "ping"))}
}

// Register mounts the probe routes. /health answers both GET (uptime
// dashboards) and HEAD (load balancers).
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Ping)
	e.HEAD("/health", h.Head)
}

// Ping identifies the service and reports it alive.
func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"service": "relaydesk",
		"status":  "ok",
	})
}

// Head answers with an empty 200.
func (h *PingHandler) Head(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}
