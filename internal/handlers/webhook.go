package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/relaydesk/relaydesk/internal/backend"
	"github.com/relaydesk/relaydesk/internal/orchestrator"
	"github.com/relaydesk/relaydesk/internal/tenant"
)

// WebhookPayload is the normalized inbound message from a channel adapter.
type WebhookPayload struct {
	MessageID      string `json:"message_id,omitempty"`
	Content        string `json:"content"`
	ChannelAddress string `json:"channel_address"`
	ContactName    string `json:"contact_name,omitempty"`
	ContactRef     string `json:"contact_ref,omitempty"`
}

// WebhookHandler ingests channel webhooks: resolve the tenant by bot token,
// persist the inbound message, and orchestrate a reply.
type WebhookHandler struct {
	logger       *slog.Logger
	resolver     *tenant.Resolver
	orchestrator *orchestrator.Service
}

// NewWebhookHandler creates the webhook ingest handler.
func NewWebhookHandler(log *slog.Logger, resolver *tenant.Resolver, orch *orchestrator.Service) *WebhookHandler {
	return &WebhookHandler{
		logger:       log.With(slog.String("handler", "webhook")),
		resolver:     resolver,
		orchestrator: orch,
	}
}

// Register mounts POST /webhooks/:channel/:token.
func (h *WebhookHandler) Register(e *echo.Echo) {
	e.POST("/webhooks/:channel/:token", h.Ingest)
}

// Ingest accepts one inbound message and runs it end to end. The response
// carries the resulting status so channel adapters can log the outcome.
func (h *WebhookHandler) Ingest(c echo.Context) error {
	var payload WebhookPayload
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "invalid payload"})
	}
	if strings.TrimSpace(payload.Content) == "" || strings.TrimSpace(payload.ChannelAddress) == "" {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Message: "content and channel_address are required"})
	}

	ctx := c.Request().Context()
	resolution, err := h.resolver.Resolve(ctx, tenant.FromHTTP(c.Request()))
	if err != nil {
		h.logger.Error("tenant resolution failed", slog.Any("error", err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: "backend unavailable"})
	}

	messageID := payload.MessageID
	if messageID == "" {
		messageID = uuid.NewString()
	}
	contactID, err := h.ensureContact(c, resolution.Client, payload)
	if err != nil {
		h.logger.Error("contact upsert failed", slog.Any("error", err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: "backend unavailable"})
	}

	// Existing-row check keeps webhook retries from double-inserting.
	existing, err := resolution.Client.Select(ctx, "messages", backend.Query{}.Eq("id", messageID).Take(1))
	if err != nil {
		h.logger.Error("message lookup failed", slog.Any("error", err))
		return c.JSON(http.StatusBadGateway, ErrorResponse{Message: "backend unavailable"})
	}
	if len(existing) == 0 {
		if _, err := resolution.Client.Insert(ctx, "messages", backend.Row{
			"id":              messageID,
			"contact_id":      contactID,
			"content":         payload.Content,
			"direction":       orchestrator.DirectionInbound,
			"channel":         c.Param("channel"),
			"channel_address": payload.ChannelAddress,
			"bot_token":       c.Param("token"),
		}); err != nil {
			h.logger.Error("message insert failed", slog.Any("error", err))
			return c.JSON(http.StatusBadGateway, ErrorResponse{Message: "backend unavailable"})
		}
	}

	result := h.orchestrator.StartOrGetStatus(ctx, resolution.Client, messageID, false)
	return c.JSON(http.StatusOK, result)
}

// ensureContact finds or creates the contact for the sender address.
func (h *WebhookHandler) ensureContact(c echo.Context, client backend.Client, payload WebhookPayload) (string, error) {
	ctx := c.Request().Context()
	ref := payload.ContactRef
	if ref == "" {
		ref = payload.ChannelAddress
	}
	rows, err := client.Select(ctx, "contacts", backend.Query{}.Eq("channel_ref", ref).Take(1))
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		if id, ok := rows[0]["id"].(string); ok {
			return id, nil
		}
	}
	id := uuid.NewString()
	_, err = client.Insert(ctx, "contacts", backend.Row{
		"id":          id,
		"name":        payload.ContactName,
		"channel_ref": ref,
	})
	return id, err
}
