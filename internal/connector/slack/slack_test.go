package slackconn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/slack-go/slack"

	"github.com/h1v3-io/frontdesk/internal/connector"
)

// Verify Connector implements connector.Connector at compile time.
var _ connector.Connector = (*Connector)(nil)

type fakePoster struct {
	channels []string
	count    []int
	err      error
}

func (f *fakePoster) PostMessageContext(_ context.Context, channelID string, options ...slack.MsgOption) (string, string, error) {
	f.channels = append(f.channels, channelID)
	f.count = append(f.count, len(options))
	return channelID, "1700000000.000100", f.err
}

func TestStripMention(t *testing.T) {
	tests := []struct {
		input string
		botID string
		want  string
	}{
		{"<@U123> /pending", "U123", "/pending"},
		{"hey <@U123> there", "U123", "hey  there"},
		{"no mention here", "U123", "no mention here"},
		{"<@U999> hello", "U123", "<@U999> hello"},
	}

	for _, tt := range tests {
		got := StripMention(tt.input, tt.botID)
		if got != tt.want {
			t.Errorf("StripMention(%q, %q) = %q, want %q", tt.input, tt.botID, got, tt.want)
		}
	}
}

func TestIsAllowedChannel(t *testing.T) {
	c := &Connector{config: Config{Channels: []string{"C001", "C002"}}}

	if !c.isAllowedChannel("C001") {
		t.Error("C001 should be allowed")
	}
	if c.isAllowedChannel("C999") {
		t.Error("C999 should not be allowed")
	}

	open := &Connector{config: Config{}}
	if !open.isAllowedChannel("anything") {
		t.Error("empty channels list should allow all")
	}
}

func TestSend_Thread(t *testing.T) {
	p := &fakePoster{}
	c := &Connector{api: p}

	if err := c.Send(context.Background(), connector.OutboundMessage{ChatID: "C001", Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := c.Send(context.Background(), connector.OutboundMessage{ChatID: "C001:1700000000.000100", Content: "hi"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if p.channels[0] != "C001" || p.channels[1] != "C001" {
		t.Errorf("channels = %v", p.channels)
	}
	if p.count[0] != 1 || p.count[1] != 2 {
		t.Errorf("thread reply should add the thread option: %v", p.count)
	}

	p.err = errors.New("channel_not_found")
	if err := c.Send(context.Background(), connector.OutboundMessage{ChatID: "C404"}); err == nil {
		t.Error("expected error")
	}
}

func TestDispatch_RepliesInChat(t *testing.T) {
	p := &fakePoster{}
	var got connector.InboundMessage
	c := &Connector{api: p, config: Config{Channels: []string{"C001"}}, logger: discardLogger()}
	c.handler = func(_ context.Context, msg connector.InboundMessage) (string, error) {
		got = msg
		return "No pending help requests.", nil
	}

	c.dispatch(context.Background(), "C001", "1700000000.000100", "U42", "/pending")
	if got.Content != "/pending" || got.SenderID != "U42" || got.ChatID != "C001:1700000000.000100" {
		t.Errorf("inbound = %+v", got)
	}
	if len(p.channels) != 1 || p.channels[0] != "C001" {
		t.Errorf("reply posted to %v", p.channels)
	}

	c.dispatch(context.Background(), "C999", "", "U42", "/pending")
	if len(p.channels) != 1 {
		t.Error("messages from other channels should be ignored")
	}
}

func TestConnectorName(t *testing.T) {
	c := &Connector{}
	if c.Name() != "slack" {
		t.Errorf("Name() = %q", c.Name())
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
