package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/slack-go/slack"
)

// SlackSender posts messages through the Slack Web API.
type SlackSender struct {
	logger       *slog.Logger
	defaultToken string

	mu      sync.Mutex
	clients map[string]*slack.Client
}

// NewSlackSender creates a SlackSender. defaultToken backs messages that
// carry no bot token of their own; it may be empty.
func NewSlackSender(log *slog.Logger, defaultToken string) *SlackSender {
	if log == nil {
		log = slog.Default()
	}
	return &SlackSender{
		logger:       log.With(slog.String("sender", "slack")),
		defaultToken: defaultToken,
		clients:      map[string]*slack.Client{},
	}
}

func (s *SlackSender) Type() ChannelType { return TypeSlack }

// Send posts text to a Slack channel or user id.
func (s *SlackSender) Send(ctx context.Context, botToken, address, text string) error {
	botToken = s.resolveToken(botToken)
	if botToken == "" {
		return fmt.Errorf("slack: bot token is required")
	}
	client := s.client(botToken)
	_, _, err := client.PostMessageContext(ctx, address,
		slack.MsgOptionText(text, false),
		slack.MsgOptionAsUser(true))
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

func (s *SlackSender) client(token string) *slack.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	client, ok := s.clients[token]
	if !ok {
		client = slack.New(token)
		s.clients[token] = client
	}
	return client
}

func (s *SlackSender) resolveToken(token string) string {
	if strings.TrimSpace(token) == "" {
		return strings.TrimSpace(s.defaultToken)
	}
	return token
}
