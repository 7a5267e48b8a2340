package channel

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"
)

type fakeSender struct {
	channelType ChannelType
	sends       []string
	err         error
}

func (f *fakeSender) Type() ChannelType { return f.channelType }

func (f *fakeSender) Send(_ context.Context, _, address, text string) error {
	f.sends = append(f.sends, address+":"+text)
	return f.err
}

func TestDeliverDispatchesByType(t *testing.T) {
	telegram := &fakeSender{channelType: TypeTelegram}
	slackSender := &fakeSender{channelType: TypeSlack}
	registry := NewRegistry(slog.Default(), 0, telegram, slackSender)

	if !registry.Deliver(context.Background(), TypeSlack, "tok", "C123", "hi") {
		t.Fatal("expected delivery to succeed")
	}
	if len(slackSender.sends) != 1 || len(telegram.sends) != 0 {
		t.Fatalf("wrong dispatch: slack=%d telegram=%d", len(slackSender.sends), len(telegram.sends))
	}
}

func TestDeliverUnknownChannel(t *testing.T) {
	registry := NewRegistry(slog.Default(), 0)
	if registry.Deliver(context.Background(), TypeTelegram, "tok", "1", "hi") {
		t.Fatal("expected failure for unregistered channel")
	}
}

func TestDeliverReportsSendFailure(t *testing.T) {
	sender := &fakeSender{channelType: TypeTelegram, err: errors.New("boom")}
	registry := NewRegistry(slog.Default(), 0, sender)

	if registry.Deliver(context.Background(), TypeTelegram, "tok", "1", "hi") {
		t.Fatal("expected failure to be reported")
	}
}

func TestPerChatRateLimit(t *testing.T) {
	sender := &fakeSender{channelType: TypeTelegram}
	// 10 sends/second: the third send to one chat has to wait.
	registry := NewRegistry(slog.Default(), 10, sender)

	start := time.Now()
	for i := 0; i < 3; i++ {
		registry.Deliver(context.Background(), TypeTelegram, "tok", "chat-1", "hi")
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("expected throttling, finished in %v", elapsed)
	}
	if len(sender.sends) != 3 {
		t.Fatalf("expected 3 sends, got %d", len(sender.sends))
	}
}

func TestSenderDefaultTokenFallback(t *testing.T) {
	telegram := NewTelegramSender(slog.Default(), "tg-default")
	if got := telegram.resolveToken(""); got != "tg-default" {
		t.Fatalf("expected configured default token, got %q", got)
	}
	if got := telegram.resolveToken("explicit"); got != "explicit" {
		t.Fatalf("message token must win over the default, got %q", got)
	}

	slackSender := NewSlackSender(slog.Default(), "xoxb-default")
	if got := slackSender.resolveToken("  "); got != "xoxb-default" {
		t.Fatalf("expected configured default token, got %q", got)
	}

	// No message token and no default: the send fails before reaching the
	// platform API.
	bare := NewSlackSender(slog.Default(), "")
	if err := bare.Send(context.Background(), "", "C123", "hi"); err == nil {
		t.Fatal("expected an error without any token")
	}
}

func TestParseType(t *testing.T) {
	if _, err := ParseType("telegram"); err != nil {
		t.Fatalf("telegram should parse: %v", err)
	}
	if _, err := ParseType("fax"); err == nil {
		t.Fatal("expected error for unknown type")
	}
}
