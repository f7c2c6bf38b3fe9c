package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/frontdesk/internal/connector"
	"github.com/h1v3-io/frontdesk/internal/speech"
)

// Config holds Telegram connector configuration.
type Config struct {
	// Token is the bot token from @BotFather.
	Token string `json:"token" yaml:"token"`
	// AllowFrom lists the Telegram user IDs allowed to answer (empty = allow all).
	AllowFrom []int64 `json:"allow_from,omitempty" yaml:"allow_from,omitempty"`
	// Chats receive supervisor alerts.
	Chats []string `json:"chats" yaml:"chats"`
	// Language is the voice note language hint, e.g. "en".
	Language string `json:"language,omitempty" yaml:"language,omitempty"`
}

// Connector lets supervisors answer help requests from Telegram, by text or
// voice note.
type Connector struct {
	bot         *tgbotapi.BotAPI
	config      Config
	handler     connector.InboundHandler
	transcriber speech.Transcriber
	logger      *slog.Logger
	cancel      context.CancelFunc
}

// New creates a new Telegram connector. transcriber may be nil, in which
// case voice notes are refused.
func New(cfg Config, handler connector.InboundHandler, transcriber speech.Transcriber, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:         bot,
		config:      cfg,
		handler:     handler,
		transcriber: transcriber,
		logger:      logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Chats returns the supervisor chats alerts are posted to.
func (c *Connector) Chats() []string { return c.config.Chats }

// Start begins long-polling for updates. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			c.handleUpdate(ctx, update.Message)

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers plain text to a Telegram chat.
func (c *Connector) Send(_ context.Context, msg connector.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat_id %q: %w", msg.ChatID, err)
	}
	if strings.TrimSpace(msg.Content) == "" {
		c.logger.Warn("skipping empty message", "chat_id", msg.ChatID)
		return nil
	}

	tgMsg := tgbotapi.NewMessage(chatID, msg.Content)
	tgMsg.DisableWebPagePreview = true
	if _, err := c.bot.Send(tgMsg); err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	return nil
}

func (c *Connector) handleUpdate(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}
	userID := msg.From.ID
	chatID := strconv.FormatInt(msg.Chat.ID, 10)

	if len(c.config.AllowFrom) > 0 && !slices.Contains(c.config.AllowFrom, userID) {
		c.logger.Warn("unauthorized user", "user_id", userID, "username", msg.From.UserName)
		return
	}

	text := messageText(msg)
	if text == "" && (msg.Voice != nil || msg.Audio != nil) {
		transcribed, err := c.transcribeVoice(ctx, msg)
		if err != nil {
			c.logger.Error("voice transcription failed", "chat_id", chatID, "error", err)
			c.reply(ctx, chatID, "Sorry, I couldn't transcribe that voice message.")
			return
		}
		text = transcribed
	}
	if text == "" {
		return
	}

	c.bot.Send(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatTyping))

	reply, err := c.handler(ctx, connector.InboundMessage{
		Channel:  "telegram",
		SenderID: strconv.FormatInt(userID, 10),
		ChatID:   chatID,
		Content:  text,
	})
	if err != nil {
		c.logger.Error("inbound handler error", "chat_id", chatID, "error", err)
		return
	}
	c.reply(ctx, chatID, reply)
}

func (c *Connector) reply(ctx context.Context, chatID, text string) {
	if text == "" {
		return
	}
	if err := c.Send(ctx, connector.OutboundMessage{ChatID: chatID, Content: text}); err != nil {
		c.logger.Error("telegram reply failed", "chat_id", chatID, "error", err)
	}
}

// messageText rebuilds a command with its arguments, or returns the text or
// caption of an ordinary message.
func messageText(msg *tgbotapi.Message) string {
	if msg.IsCommand() {
		text := "/" + msg.Command()
		if args := msg.CommandArguments(); args != "" {
			text += " " + args
		}
		return text
	}
	if msg.Text != "" {
		return msg.Text
	}
	return msg.Caption
}
