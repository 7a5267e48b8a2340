package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSender sends messages through the Telegram Bot API. Bot clients
// are cached per token because webhooks from different tenant bots share one
// process.
type TelegramSender struct {
	logger       *slog.Logger
	defaultToken string

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

// NewTelegramSender creates a TelegramSender. defaultToken is used for
// messages that carry no bot token of their own; it may be empty.
func NewTelegramSender(log *slog.Logger, defaultToken string) *TelegramSender {
	if log == nil {
		log = slog.Default()
	}
	return &TelegramSender{
		logger:       log.With(slog.String("sender", "telegram")),
		defaultToken: defaultToken,
		bots:         map[string]*tgbotapi.BotAPI{},
	}
}

func (s *TelegramSender) Type() ChannelType { return TypeTelegram }

// Send delivers text to a chat id or @channel address.
func (s *TelegramSender) Send(ctx context.Context, botToken, address, text string) error {
	bot, err := s.bot(botToken)
	if err != nil {
		return err
	}

	if strings.HasPrefix(address, "@") {
		message := tgbotapi.NewMessageToChannel(address, text)
		_, err = bot.Send(message)
		return err
	}

	chatID, err := strconv.ParseInt(address, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat id %q: %w", address, err)
	}
	message := tgbotapi.NewMessage(chatID, text)
	_, err = bot.Send(message)
	return err
}

func (s *TelegramSender) bot(token string) (*tgbotapi.BotAPI, error) {
	token = s.resolveToken(token)
	if token == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if bot, ok := s.bots[token]; ok {
		return bot, nil
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	s.bots[token] = bot
	return bot, nil
}

func (s *TelegramSender) resolveToken(token string) string {
	if strings.TrimSpace(token) == "" {
		return strings.TrimSpace(s.defaultToken)
	}
	return token
}
