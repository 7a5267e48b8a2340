// Package orchestrator drives one inbound message end-to-end: guard against
// duplicate triggers, fetch message and subject, store and retrieve memory,
// pick an agent, generate a reply, persist it, and deliver it.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/relaydesk/relaydesk/internal/agents"
	"github.com/relaydesk/relaydesk/internal/backend"
	"github.com/relaydesk/relaydesk/internal/channel"
	"github.com/relaydesk/relaydesk/internal/dedupe"
	"github.com/relaydesk/relaydesk/internal/llm"
	"github.com/relaydesk/relaydesk/internal/memory"
	"github.com/relaydesk/relaydesk/internal/retry"
	"github.com/relaydesk/relaydesk/internal/status"
)

const (
	messagesTable = "messages"
	contactsTable = "contacts"
	agentsTable   = "agents"

	unansweredMessagesFn = "get_unanswered_messages"

	defaultMaxTokens   = 1024
	defaultTemperature = 0.7
	dedupeContext      = "reply"

	// FallbackResponse is sent when generation fails all retries. The end
	// user never sees a raw error.
	FallbackResponse = "I'm sorry, I'm having trouble generating a response right now. Please try again in a few minutes."
)

// Result is the outcome of a start-or-get call.
type Result struct {
	Status status.MessageStatus `json:"status"`
	IsNew  bool                 `json:"is_new"`
}

// Tuning carries the generation and recall knobs exposed through config.
// Zero values fall back to the built-in defaults.
type Tuning struct {
	MaxTokens   int
	Temperature float32
	MemoryLimit int
}

// Service orchestrates message processing. It is tenant-agnostic: callers
// pass the resolved backend handle for the tenant the message belongs to.
type Service struct {
	logger    *slog.Logger
	tracker   *status.Tracker
	dedupe    *dedupe.Service
	selector  *agents.Selector
	memories  *memory.Service
	generator llm.Generator
	channels  *channel.Registry
	retryOpts retry.Options
	tuning    Tuning
}

// NewService wires the orchestrator.
func NewService(
	log *slog.Logger,
	tracker *status.Tracker,
	dedupeSvc *dedupe.Service,
	selector *agents.Selector,
	memories *memory.Service,
	generator llm.Generator,
	channels *channel.Registry,
	retryOpts retry.Options,
	tuning Tuning,
) *Service {
	if log == nil {
		log = slog.Default()
	}
	if tuning.MaxTokens <= 0 {
		tuning.MaxTokens = defaultMaxTokens
	}
	if tuning.Temperature <= 0 {
		tuning.Temperature = defaultTemperature
	}
	return &Service{
		logger:    log.With(slog.String("service", "orchestrator")),
		tracker:   tracker,
		dedupe:    dedupeSvc,
		selector:  selector,
		memories:  memories,
		generator: generator,
		channels:  channels,
		retryOpts: retryOpts,
		tuning:    tuning,
	}
}

// StartOrGetStatus begins orchestration for the message unless it is already
// in flight, in which case the cached status is returned with IsNew=false.
// The processing claim is taken before any side effect runs.
func (s *Service) StartOrGetStatus(ctx context.Context, client backend.Client, messageID string, forceReprocess bool) Result {
	if forceReprocess {
		s.tracker.Reset(messageID)
	}
	if !s.tracker.MarkAsProcessing(messageID) {
		cached, ok := s.tracker.GetStatus(messageID)
		if !ok {
			cached = status.MessageStatus{ID: messageID, Status: status.StatusNew}
		}
		return Result{Status: cached, IsNew: false}
	}

	s.process(ctx, client, messageID)

	final, ok := s.tracker.GetStatus(messageID)
	if !ok {
		final = status.MessageStatus{ID: messageID, Status: status.StatusNew}
	}
	return Result{Status: final, IsNew: true}
}

// GetStatus returns the cached lifecycle record for a message.
func (s *Service) GetStatus(messageID string) (status.MessageStatus, bool) {
	return s.tracker.GetStatus(messageID)
}

// ListStatuses returns summaries for the given message ids.
func (s *Service) ListStatuses(messageIDs []string) []status.Summary {
	return s.tracker.ListStatuses(messageIDs)
}

// process runs the fixed orchestration sequence. Whatever happens, the
// message ends in a terminal state and the processing claim is released; a
// message must never stay stuck "processing" after a failure.
func (s *Service) process(ctx context.Context, client backend.Client, messageID string) {
	defer s.tracker.MarkAsProcessed(messageID)

	message, contact, err := s.fetchMessage(ctx, client, messageID)
	if err != nil {
		s.fail(messageID, err)
		return
	}

	s.tracker.UpdateStatus(messageID, status.StatusAnalyzing, status.Details{
		Stage:        "analysis",
		StageDetails: "reading the message",
	})

	// Memory storage is best-effort; a failed extraction never blocks the
	// reply.
	if _, err := s.memories.Store(ctx, client, message.Content, message.ContactID, message.ID); err != nil {
		s.logger.Warn("memory storage failed", slog.String("message_id", messageID), slog.Any("error", err))
	}

	s.tracker.UpdateStatus(messageID, status.StatusDelegating, status.Details{
		Stage:        "delegation",
		StageDetails: "selecting an agent",
	})
	agent, err := s.selectAgent(ctx, client, message.Content)
	if err != nil {
		s.fail(messageID, err)
		return
	}

	s.tracker.UpdateStatus(messageID, status.StatusReplying, status.Details{
		Stage:            "reply",
		StageDetails:     fmt.Sprintf("%s is composing a reply", agent.Name),
		AgentName:        agent.Name,
		AgentDescription: agent.Description,
	})

	recall, err := s.memories.Retrieve(ctx, client, message.ContactID, message.Content, s.tuning.MemoryLimit)
	if err != nil {
		s.logger.Warn("memory retrieval failed", slog.String("message_id", messageID), slog.Any("error", err))
	}
	displayName := recall.SubjectName
	if displayName == "" {
		displayName = contact.Name
	}

	response := s.generate(ctx, agent, message, recall, displayName)

	if err := s.persistReply(ctx, client, message, response); err != nil {
		s.logger.Warn("reply persistence failed", slog.String("message_id", messageID), slog.Any("error", err))
	}
	s.deliver(ctx, message, response)

	s.tracker.UpdateStatus(messageID, status.StatusCompleted, status.Details{
		Stage:        "done",
		StageDetails: "reply sent",
		Response:     response,
	})
}

// fetchMessage checks existence before the full fetch so "not found" is
// distinguishable from transport errors, then loads the subject.
func (s *Service) fetchMessage(ctx context.Context, client backend.Client, messageID string) (Message, Contact, error) {
	rows, err := client.Select(ctx, messagesTable, backend.Query{}.Eq("id", messageID).Take(1))
	if err != nil {
		return Message{}, Contact{}, fmt.Errorf("fetch message %s: %w", messageID, err)
	}
	if len(rows) == 0 {
		return Message{}, Contact{}, fmt.Errorf("message %s not found", messageID)
	}
	message := messageFromRow(rows[0])

	contact := Contact{ID: message.ContactID}
	if message.ContactID != "" {
		contactRows, err := client.Select(ctx, contactsTable, backend.Query{}.Eq("id", message.ContactID).Take(1))
		if err != nil {
			return Message{}, Contact{}, fmt.Errorf("fetch contact %s: %w", message.ContactID, err)
		}
		if len(contactRows) > 0 {
			contact = contactFromRow(contactRows[0])
		}
	}
	return message, contact, nil
}

func (s *Service) selectAgent(ctx context.Context, client backend.Client, content string) (agents.Agent, error) {
	rows, err := client.Select(ctx, agentsTable, backend.Query{})
	if err != nil {
		return agents.Agent{}, fmt.Errorf("fetch agents: %w", err)
	}
	list := make([]agents.Agent, 0, len(rows))
	for _, row := range rows {
		list = append(list, agentFromRow(row))
	}
	return s.selector.Select(list, content).Agent, nil
}

// generate calls the LLM behind the retry helper. Exhaustion yields the
// fixed apology fallback, never a raw error.
func (s *Service) generate(ctx context.Context, agent agents.Agent, message Message, recall memory.RetrieveResult, displayName string) string {
	systemPrompt, userPrompt := buildPrompts(agent, message, recall, displayName)
	response, err := retry.Do(ctx, s.retryOpts, func(ctx context.Context) (string, error) {
		return s.generator.Generate(ctx, systemPrompt, userPrompt, s.tuning.MaxTokens, s.tuning.Temperature)
	})
	if err != nil {
		s.logger.Error("generation exhausted retries; using fallback response",
			slog.String("message_id", message.ID), slog.Any("error", err))
		return FallbackResponse
	}
	return strings.TrimSpace(response)
}

// persistReply inserts the outgoing message row. An existing reply row for
// the same inbound message short-circuits the insert; that lookup, not the
// dedup map, is what makes replies exactly-once at the storage layer.
func (s *Service) persistReply(ctx context.Context, client backend.Client, message Message, response string) error {
	existing, err := client.Select(ctx, messagesTable,
		backend.Query{}.Eq("in_reply_to", message.ID).Eq("direction", DirectionOutbound).Take(1))
	if err == nil && len(existing) > 0 {
		s.logger.Info("reply row already exists; skipping insert", slog.String("message_id", message.ID))
		return nil
	}

	_, err = client.Insert(ctx, messagesTable, backend.Row{
		"id":              uuid.NewString(),
		"contact_id":      message.ContactID,
		"content":         response,
		"direction":       DirectionOutbound,
		"channel":         message.Channel,
		"channel_address": message.ChannelAddress,
		"bot_token":       message.BotToken,
		"in_reply_to":     message.ID,
	})
	if err != nil {
		return err
	}
	if _, err := client.Update(ctx, messagesTable,
		backend.Query{}.Eq("id", message.ID), backend.Row{"answered": true}); err != nil {
		s.logger.Warn("marking message answered failed", slog.String("message_id", message.ID), slog.Any("error", err))
	}
	return nil
}

// deliver sends the reply out over the message's channel. Best-effort: a
// recent identical send is skipped via the dedup window, and a failed send
// is logged without rolling anything back.
func (s *Service) deliver(ctx context.Context, message Message, response string) {
	if message.Channel == "" || message.ChannelAddress == "" {
		return
	}
	channelType, err := channel.ParseType(message.Channel)
	if err != nil {
		s.logger.Warn("unknown delivery channel", slog.String("channel", message.Channel))
		return
	}
	if s.dedupe.IsDuplicate(message.ContactID, response, dedupeContext) {
		s.logger.Info("duplicate reply suppressed", slog.String("message_id", message.ID))
		return
	}
	if s.channels.Deliver(ctx, channelType, message.BotToken, message.ChannelAddress, response) {
		s.dedupe.MarkSent(message.ContactID, response, dedupeContext)
	}
}

func (s *Service) fail(messageID string, cause error) {
	s.logger.Error("orchestration failed", slog.String("message_id", messageID), slog.Any("error", cause))
	s.tracker.UpdateStatus(messageID, status.StatusError, status.Details{
		Stage:             "error",
		StageDetails:      "processing stopped",
		ProcessingDetails: cause.Error(),
	})
}

// PollUnanswered picks up inbound messages that never got a reply (missed
// webhooks, crashes mid-run) and orchestrates them. Driven by a cron tick.
func (s *Service) PollUnanswered(ctx context.Context, client backend.Client) int {
	rows, err := client.RPC(ctx, unansweredMessagesFn, map[string]any{})
	if err != nil {
		s.logger.Warn("unanswered message poll failed", slog.Any("error", err))
		return 0
	}
	started := 0
	for _, row := range rows {
		id := rowString(row, "id")
		if id == "" {
			continue
		}
		if result := s.StartOrGetStatus(ctx, client, id, false); result.IsNew {
			started++
		}
	}
	if started > 0 {
		s.logger.Info("unanswered messages reprocessed", slog.Int("count", started))
	}
	return started
}

func agentFromRow(row backend.Row) agents.Agent {
	agent := agents.Agent{
		ID:          rowString(row, "id"),
		Name:        rowString(row, "name"),
		Description: rowString(row, "description"),
		Priority:    rowString(row, "priority"),
	}
	if enabled, ok := row["enabled"].(bool); ok {
		agent.Enabled = &enabled
	}
	if config, ok := row["config"].(map[string]any); ok {
		agent.Config = config
	}
	return agent
}
