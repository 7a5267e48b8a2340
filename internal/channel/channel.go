// Package channel delivers outgoing replies to external messaging platforms.
// Delivery is best-effort from the orchestrator's point of view: a failed
// send is reported but never rolls back persistence.
package channel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// ChannelType identifies a messaging platform.
type ChannelType string

const (
	TypeTelegram ChannelType = "telegram"
	TypeSlack    ChannelType = "slack"
)

// Sender delivers one text message to a platform address. botToken selects
// which bot identity performs the send.
type Sender interface {
	Type() ChannelType
	Send(ctx context.Context, botToken, address, text string) error
}

// Registry dispatches deliveries to the sender for the target channel and
// throttles per destination address.
type Registry struct {
	logger  *slog.Logger
	senders map[ChannelType]Sender

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	perChat  rate.Limit
}

// NewRegistry builds a Registry. ratePerChat caps sends per second to one
// address; zero disables throttling.
func NewRegistry(log *slog.Logger, ratePerChat float64, senders ...Sender) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{
		logger:   log.With(slog.String("service", "channel")),
		senders:  map[ChannelType]Sender{},
		limiters: map[string]*rate.Limiter{},
		perChat:  rate.Limit(ratePerChat),
	}
	for _, sender := range senders {
		r.senders[sender.Type()] = sender
	}
	return r
}

// Register adds or replaces the sender for its channel type.
func (r *Registry) Register(sender Sender) {
	r.senders[sender.Type()] = sender
}

// Deliver sends text to the address over the named channel, waiting out the
// per-address rate limit first. Returns whether the send succeeded.
func (r *Registry) Deliver(ctx context.Context, channelType ChannelType, botToken, address, text string) bool {
	sender, ok := r.senders[channelType]
	if !ok {
		r.logger.Warn("no sender for channel", slog.String("channel", string(channelType)))
		return false
	}
	if limiter := r.limiter(string(channelType) + ":" + address); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			r.logger.Warn("rate limit wait aborted", slog.Any("error", err))
			return false
		}
	}
	if err := sender.Send(ctx, botToken, address, text); err != nil {
		r.logger.Warn("delivery failed",
			slog.String("channel", string(channelType)),
			slog.String("address", address),
			slog.Any("error", err))
		return false
	}
	return true
}

func (r *Registry) limiter(key string) *rate.Limiter {
	if r.perChat <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	limiter, ok := r.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(r.perChat, 1)
		r.limiters[key] = limiter
	}
	return limiter
}

// ParseType validates a channel type string.
func ParseType(raw string) (ChannelType, error) {
	switch ChannelType(raw) {
	case TypeTelegram, TypeSlack:
		return ChannelType(raw), nil
	default:
		return "", fmt.Errorf("channel: unknown type %q", raw)
	}
}
