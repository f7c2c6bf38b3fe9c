package telegram

import (
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/frontdesk/internal/connector"
)

// Verify Connector implements connector.Connector at compile time.
var _ connector.Connector = (*Connector)(nil)

func TestMessageText(t *testing.T) {
	cmd := &tgbotapi.Message{
		Text:     "/answer@frontdesk_bot 3f2a9c1e Yes we do",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 21}},
	}
	if got := messageText(cmd); got != "/answer 3f2a9c1e Yes we do" {
		t.Errorf("command = %q", got)
	}

	if got := messageText(&tgbotapi.Message{Text: "pending"}); got != "pending" {
		t.Errorf("text = %q", got)
	}
	if got := messageText(&tgbotapi.Message{Caption: "answer 3f2a9c1e see photo"}); got != "answer 3f2a9c1e see photo" {
		t.Errorf("caption = %q", got)
	}
}
