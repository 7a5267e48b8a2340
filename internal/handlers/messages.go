package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/relaydesk/relaydesk/internal/backend"
	"github.com/relaydesk/relaydesk/internal/memory"
	"github.com/relaydesk/relaydesk/internal/orchestrator"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// MessagesHandler exposes the orchestrator surface: trigger processing,
// poll statuses, and delete messages with their dependent memories.
type MessagesHandler struct {
	logger       *slog.Logger
	resolver     *tenant.Resolver
	orchestrator *orchestrator.Service
	memories     *memory.Service
}

// NewMessagesHandler creates the message API handler.
func NewMessagesHandler(log *slog.Logger, resolver *tenant.Resolver, orch *orchestrator.Service, memories *memory.Service) *MessagesHandler {
	return &MessagesHandler{
		logger:       log.With(slog.String("handler", "messages")),
		resolver:     resolver,
		orchestrator: orch,
		memories:     memories,
	}
}

// Register mounts the message routes.
func (h *MessagesHandler) Register(e *echo.Echo) {
	e.POST("/api/messages/:id/process", h.Process)
	e.GET("/api/messages/:id/status", h.Status)
	e.POST("/api/messages/statuses", h.Statuses)
	e.DELETE("/api/messages/:id", h.Delete)
}

// Process triggers orchestration for a message. ?force=true resets any
// previous run first.
func (h *MessagesHandler) Process(c echo.Context) error {
	messageID := c.Param("id")
	if messageID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "message id is required"})
	}
	resolution, err := h.resolver.Resolve(c.Request().Context(), tenant.FromHTTP(c.Request()))
	if err != nil {
		h.logger.Error("tenant resolution failed", slog.Any("error", err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: "backend unavailable"})
	}
	force := c.QueryParam("force") == "true"
	result := h.orchestrator.StartOrGetStatus(c.Request().Context(), resolution.Client, messageID, force)
	return c.JSON(http.StatusOK, result)
}

// Status returns the cached lifecycle record for one message.
func (h *MessagesHandler) Status(c echo.Context) error {
	record, ok := h.orchestrator.GetStatus(c.Param("id"))
	if !ok {
		return c.JSON(http.StatusNotFound, ErrorResponse{Message: "no status for message"})
	}
	return c.JSON(http.StatusOK, record)
}

type statusesRequest struct {
	IDs []string `json:"ids"`
}

// Statuses returns summaries for a batch of message ids.
func (h *MessagesHandler) Statuses(c echo.Context) error {
	var req statusesRequest
	if err := c.Bind(&req); err != nil || len(req.IDs) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "ids are required"})
	}
	return c.JSON(http.StatusOK, h.orchestrator.ListStatuses(req.IDs))
}

// Delete removes a message and its dependent memories. Memories go first; a
// failure there is a logged warning, not a block on the message deletion.
func (h *MessagesHandler) Delete(c echo.Context) error {
	messageID := c.Param("id")
	if messageID == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "message id is required"})
	}
	ctx := c.Request().Context()
	resolution, err := h.resolver.Resolve(ctx, tenant.FromHTTP(c.Request()))
	if err != nil {
		h.logger.Error("tenant resolution failed", slog.Any("error", err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: "backend unavailable"})
	}

	if err := h.memories.DeleteForMessage(ctx, resolution.Client, messageID); err != nil {
		h.logger.Warn("memory cascade failed; deleting message anyway",
			slog.String("message_id", messageID), slog.Any("error", err))
	}
	if err := resolution.Client.Delete(ctx, "messages", backend.Query{}.Eq("id", messageID)); err != nil {
		h.logger.Error("message delete failed", slog.Any("error", err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: "delete failed"})
	}
	return c.NoContent(http.StatusNoContent)
}
