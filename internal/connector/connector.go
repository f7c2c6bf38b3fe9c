package connector

import "context"

// Connector is a chat platform supervisors use (Telegram, Slack, etc.).
type Connector interface {
	// Name returns the connector type (e.g., "telegram", "slack").
	Name() string
	// Start begins listening for inbound messages. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	// Send delivers an outbound message to the external platform.
	Send(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage is a message posted to a supervisor chat.
type OutboundMessage struct {
	ChatID  string // Platform-specific chat identifier
	Content string // Plain text
}

// InboundMessage is a message received from a supervisor.
type InboundMessage struct {
	Channel  string // Connector name (e.g., "telegram")
	SenderID string // Platform-specific sender identifier
	ChatID   string // Platform-specific chat identifier
	Content  string // Message text
}

// InboundHandler processes a supervisor message and returns the text to
// send back to the same chat. An empty reply sends nothing.
type InboundHandler func(ctx context.Context, msg InboundMessage) (reply string, err error)
