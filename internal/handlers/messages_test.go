package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/relaydesk/relaydesk/internal/agents"
	"github.com/relaydesk/relaydesk/internal/channel"
	"github.com/relaydesk/relaydesk/internal/dedupe"
	"github.com/relaydesk/relaydesk/internal/llm"
	"github.com/relaydesk/relaydesk/internal/memory"
	"github.com/relaydesk/relaydesk/internal/orchestrator"
	"github.com/relaydesk/relaydesk/internal/retry"
	"github.com/relaydesk/relaydesk/internal/status"
)

type nopGenerator struct{}

func (nopGenerator) Generate(context.Context, string, string, int, float32) (string, error) {
	return `{"memories": []}`, nil
}

type nopEmbedder struct{}

func (nopEmbedder) Embed(context.Context, string) ([]float32, error) { return []float32{1}, nil }
func (nopEmbedder) Dimensions() int                                  { return 1 }

func newTestOrchestrator(tracker *status.Tracker) *orchestrator.Service {
	log := slog.Default()
	var generator llm.Generator = nopGenerator{}
	return orchestrator.NewService(
		log,
		tracker,
		dedupe.NewService(log),
		agents.NewSelector(log),
		memory.NewService(log, generator, nopEmbedder{}),
		generator,
		channel.NewRegistry(log, 0),
		retry.Options{MaxRetries: 1, InitialDelay: time.Millisecond},
		orchestrator.Tuning{},
	)
}

func TestStatusEndpoint(t *testing.T) {
	tracker := status.NewTracker(slog.Default())
	tracker.UpdateStatus("m1", status.StatusReplying, status.Details{AgentName: "Pricing Bot"})
	handler := NewMessagesHandler(slog.Default(), nil, newTestOrchestrator(tracker), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/messages/m1/status", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("m1")

	require.NoError(t, handler.Status(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var record status.MessageStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.Equal(t, status.StatusReplying, record.Status)
	require.Equal(t, "Pricing Bot", record.AgentName)
}

func TestStatusEndpointNotFound(t *testing.T) {
	handler := NewMessagesHandler(slog.Default(), nil, newTestOrchestrator(status.NewTracker(slog.Default())), nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/messages/ghost/status", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues("ghost")

	require.NoError(t, handler.Status(c))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusesEndpoint(t *testing.T) {
	tracker := status.NewTracker(slog.Default())
	tracker.UpdateStatus("m1", status.StatusCompleted, status.Details{})
	handler := NewMessagesHandler(slog.Default(), nil, newTestOrchestrator(tracker), nil)

	e := echo.New()
	body := strings.NewReader(`{"ids": ["m1", "m2"]}`)
	req := httptest.NewRequest(http.MethodPost, "/api/messages/statuses", body)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	require.NoError(t, handler.Statuses(c))
	require.Equal(t, http.StatusOK, rec.Code)

	var summaries []status.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summaries))
	require.Len(t, summaries, 2)
	require.Equal(t, status.StatusCompleted, summaries[0].Status)
	require.Equal(t, status.StatusNew, summaries[1].Status)
}

func TestWebhookRejectsMissingFields(t *testing.T) {
	handler := NewWebhookHandler(slog.Default(), nil, nil)

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/webhooks/telegram/tok", strings.NewReader(`{"content": ""}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("channel", "token")
	c.SetParamValues("telegram", "tok")

	require.NoError(t, handler.Ingest(c))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
