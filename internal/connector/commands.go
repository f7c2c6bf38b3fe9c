package connector

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

// pendingListLimit caps how many requests /pending shows.
const pendingListLimit = 10

// shortIDLen is how much of an escalation id /pending prints.
const shortIDLen = 8

// Escalations is what supervisor commands act on.
type Escalations interface {
	Resolve(ctx context.Context, id, answer string) (*protocol.Escalation, error)
	ListByStatus(ctx context.Context, status protocol.EscalationStatus, limit int) ([]*protocol.Escalation, error)
}

// Commands interprets supervisor messages:
//
//	/answer <escalation-id> <answer text>
//	/pending
//	/help
//
// The leading slash is optional so mentions and dictated voice notes work too.
type Commands struct {
	escalations Escalations
	logger      *slog.Logger
}

func NewCommands(escalations Escalations, logger *slog.Logger) *Commands {
	if logger == nil {
		logger = slog.Default()
	}
	return &Commands{escalations: escalations, logger: logger}
}

// Handle implements InboundHandler.
func (c *Commands) Handle(ctx context.Context, msg InboundMessage) (string, error) {
	c.logger.Info("supervisor command", "channel", msg.Channel, "sender", msg.SenderID)
	return c.Execute(ctx, msg.Content), nil
}

// Execute runs one command and returns the reply text.
func (c *Commands) Execute(ctx context.Context, text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return helpText
	}
	// Telegram appends the bot name in groups: /answer@frontdesk_bot
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	cmd, _, _ = strings.Cut(cmd, "@")

	switch cmd {
	case "answer":
		if len(fields) < 3 {
			return "Usage: /answer <escalation-id> <answer text>"
		}
		return c.answer(ctx, fields[1], skipFields(text, 2))
	case "pending":
		return c.pending(ctx)
	default:
		return helpText
	}
}

const helpText = "Commands:\n" +
	"/pending - list open help requests\n" +
	"/answer <id> <text> - answer a help request\n" +
	"/help - show this message"

func (c *Commands) answer(ctx context.Context, id, answer string) string {
	resolvedID, err := c.expand(ctx, id)
	if err != nil {
		return err.Error()
	}
	e, err := c.escalations.Resolve(ctx, resolvedID, answer)
	switch {
	case err == nil:
		return fmt.Sprintf("Answered %q. The customer will be told: %s", e.Question, e.Answer)
	case errors.Is(err, protocol.ErrNotFound):
		return fmt.Sprintf("No help request %s.", id)
	case errors.Is(err, protocol.ErrConflict):
		return fmt.Sprintf("Help request %s is no longer pending.", id)
	case errors.Is(err, protocol.ErrMalformed):
		return "Usage: /answer <escalation-id> <answer text>"
	default:
		c.logger.Error("resolve from chat failed", "escalation_id", resolvedID, "error", err)
		return "Could not save the answer, please try again."
	}
}

// expand turns the short id printed by /pending into a full one. Ids that do
// not match exactly one pending request are passed through unchanged.
func (c *Commands) expand(ctx context.Context, id string) (string, error) {
	if len(id) >= 36 {
		return id, nil
	}
	pending, err := c.escalations.ListByStatus(ctx, protocol.EscalationPending, 0)
	if err != nil {
		return id, nil
	}
	var match string
	for _, e := range pending {
		if strings.HasPrefix(e.ID, id) {
			if match != "" {
				return "", fmt.Errorf("%s matches more than one request, use a longer id", id)
			}
			match = e.ID
		}
	}
	if match == "" {
		return id, nil
	}
	return match, nil
}

func (c *Commands) pending(ctx context.Context) string {
	list, err := c.escalations.ListByStatus(ctx, protocol.EscalationPending, pendingListLimit)
	if err != nil {
		c.logger.Error("listing pending requests failed", "error", err)
		return "Could not load pending requests."
	}
	if len(list) == 0 {
		return "No pending help requests."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Pending help requests (%d):", len(list))
	for _, e := range list {
		id := e.ID
		if len(id) > shortIDLen {
			id = id[:shortIDLen]
		}
		fmt.Fprintf(&b, "\n%s: \"%s\" from %s", id, e.Question, e.Contact)
	}
	return b.String()
}

// skipFields drops the first n whitespace-separated fields of s and keeps
// the rest as written.
func skipFields(s string, n int) string {
	s = strings.TrimLeftFunc(s, unicode.IsSpace)
	for range n {
		i := strings.IndexFunc(s, unicode.IsSpace)
		if i < 0 {
			return ""
		}
		s = strings.TrimLeftFunc(s[i:], unicode.IsSpace)
	}
	return strings.TrimSpace(s)
}
