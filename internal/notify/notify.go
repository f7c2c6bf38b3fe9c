// Package notify delivers supervisor and customer messages. Delivery is best
// effort: every adapter reports success as a bool and logs its own failures.
package notify

import (
	"context"
	"log/slog"

	"github.com/h1v3-io/frontdesk/internal/connector"
	"github.com/h1v3-io/frontdesk/internal/metrics"
)

// Notifier sends text to the supervisor or to a customer.
type Notifier interface {
	NotifySupervisor(ctx context.Context, msg string) bool
	NotifyCustomer(ctx context.Context, contact, msg string) bool
}

// LogNotifier writes notifications to the log. It is the fallback when no
// real channel is configured and always reports success.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifySupervisor(ctx context.Context, msg string) bool {
	n.logger.InfoContext(ctx, "supervisor notification", "message", msg)
	return true
}

func (n *LogNotifier) NotifyCustomer(ctx context.Context, contact, msg string) bool {
	n.logger.InfoContext(ctx, "customer notification", "contact", contact, "message", msg)
	return true
}

// ChatNotifier posts supervisor notifications into chats of a messaging
// connector (Slack channels, Telegram chats). It cannot reach customers.
type ChatNotifier struct {
	conn    connector.Connector
	chatIDs []string
	logger  *slog.Logger
}

func NewChatNotifier(conn connector.Connector, chatIDs []string, logger *slog.Logger) *ChatNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChatNotifier{conn: conn, chatIDs: chatIDs, logger: logger}
}

func (n *ChatNotifier) NotifySupervisor(ctx context.Context, msg string) bool {
	ok := false
	for _, id := range n.chatIDs {
		err := n.conn.Send(ctx, connector.OutboundMessage{ChatID: id, Content: msg})
		if err != nil {
			n.logger.Warn("supervisor chat notification failed", "connector", n.conn.Name(), "chat_id", id, "error", err)
			continue
		}
		ok = true
	}
	return ok
}

func (n *ChatNotifier) NotifyCustomer(context.Context, string, string) bool { return false }

// Multi fans a notification out to every notifier. It succeeds if any did.
type Multi struct {
	notifiers []named
	metrics   *metrics.Metrics
}

type named struct {
	name string
	n    Notifier
}

func NewMulti(m *metrics.Metrics) *Multi {
	return &Multi{metrics: m}
}

// Add registers a notifier under a channel name used for metrics.
func (m *Multi) Add(name string, n Notifier) *Multi {
	m.notifiers = append(m.notifiers, named{name: name, n: n})
	return m
}

// Len returns the number of registered notifiers.
func (m *Multi) Len() int { return len(m.notifiers) }

func (m *Multi) NotifySupervisor(ctx context.Context, msg string) bool {
	ok := false
	for _, nn := range m.notifiers {
		sent := nn.n.NotifySupervisor(ctx, msg)
		m.metrics.Notification(nn.name, sent)
		ok = ok || sent
	}
	return ok
}

func (m *Multi) NotifyCustomer(ctx context.Context, contact, msg string) bool {
	ok := false
	for _, nn := range m.notifiers {
		if _, supervisorOnly := nn.n.(*ChatNotifier); supervisorOnly {
			continue
		}
		sent := nn.n.NotifyCustomer(ctx, contact, msg)
		m.metrics.Notification(nn.name, sent)
		ok = ok || sent
	}
	return ok
}
