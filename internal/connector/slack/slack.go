package slackconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/h1v3-io/frontdesk/internal/connector"
)

// Config holds Slack connector configuration.
type Config struct {
	// BotToken is the xoxb-... Bot User OAuth Token.
	BotToken string `json:"bot_token" yaml:"bot_token"`
	// AppToken is the xapp-... App-Level Token used by Socket Mode.
	AppToken string `json:"app_token" yaml:"app_token"`
	// Channels are the supervisor channels. Alerts go to all of them and
	// commands are only taken from them (empty = any channel, no alerts).
	Channels []string `json:"channels" yaml:"channels"`
}

// poster is the slice of the Slack web API the connector posts with.
type poster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

// Connector lets supervisors answer help requests from Slack via Socket Mode.
type Connector struct {
	api     poster
	socket  *socketmode.Client
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	botID   string
}

// New creates a new Slack connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}
	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))
	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}
	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Connector{
		api:     api,
		socket:  socketmode.New(api),
		config:  cfg,
		handler: handler,
		logger:  logger,
		botID:   authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// Channels returns the supervisor channels alerts are posted to.
func (c *Connector) Channels() []string { return c.config.Channels }

// Start begins listening for events via Socket Mode. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send posts plain text to a channel. A "channel:thread_ts" chat id replies
// in that thread.
func (c *Connector) Send(ctx context.Context, msg connector.OutboundMessage) error {
	channel, thread, _ := strings.Cut(msg.ChatID, ":")
	opts := []slack.MsgOption{slack.MsgOptionText(msg.Content, false)}
	if thread != "" {
		opts = append(opts, slack.MsgOptionTS(thread))
	}
	if _, _, err := c.api.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			switch event.Type {
			case socketmode.EventTypeEventsAPI:
				c.handleEventsAPI(ctx, event)
			case socketmode.EventTypeSlashCommand:
				c.handleSlashCommand(ctx, event)
			}
		}
	}
}

func (c *Connector) handleEventsAPI(ctx context.Context, event socketmode.Event) {
	eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
	if !ok {
		return
	}
	c.socket.Ack(*event.Request)

	switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
	case *slackevents.MessageEvent:
		// bots (including us), edits and deletes
		if ev.BotID != "" || ev.User == "" || ev.User == c.botID || ev.SubType != "" {
			return
		}
		c.dispatch(ctx, ev.Channel, ev.ThreadTimeStamp, ev.User, ev.Text)
	case *slackevents.AppMentionEvent:
		if ev.User == c.botID {
			return
		}
		c.dispatch(ctx, ev.Channel, ev.ThreadTimeStamp, ev.User, StripMention(ev.Text, c.botID))
	}
}

// handleSlashCommand accepts /answer and /pending registered as Slack
// slash commands. Slack passes the arguments without the command name.
func (c *Connector) handleSlashCommand(ctx context.Context, event socketmode.Event) {
	cmd, ok := event.Data.(slack.SlashCommand)
	if !ok {
		return
	}
	c.socket.Ack(*event.Request)
	c.dispatch(ctx, cmd.ChannelID, "", cmd.UserID, strings.TrimSpace(cmd.Command+" "+cmd.Text))
}

func (c *Connector) dispatch(ctx context.Context, channel, thread, user, text string) {
	if text == "" || !c.isAllowedChannel(channel) {
		return
	}
	chatID := channel
	if thread != "" {
		chatID = channel + ":" + thread
	}

	reply, err := c.handler(ctx, connector.InboundMessage{
		Channel:  "slack",
		SenderID: user,
		ChatID:   chatID,
		Content:  text,
	})
	if err != nil {
		c.logger.Error("slack inbound handler error", "channel", channel, "user", user, "error", err)
		return
	}
	if reply == "" {
		return
	}
	if err := c.Send(ctx, connector.OutboundMessage{ChatID: chatID, Content: reply}); err != nil {
		c.logger.Error("slack reply failed", "channel", channel, "error", err)
	}
}

func (c *Connector) isAllowedChannel(channel string) bool {
	if len(c.config.Channels) == 0 {
		return true
	}
	for _, ch := range c.config.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// StripMention removes the <@BOTID> mention from message text.
func StripMention(text, botID string) string {
	mention := fmt.Sprintf("<@%s>", botID)
	text = strings.Replace(text, mention, "", 1)
	return strings.TrimSpace(text)
}
