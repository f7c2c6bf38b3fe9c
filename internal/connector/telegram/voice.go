package telegram

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/h1v3-io/frontdesk/internal/speech"
)

// maxVoiceBytes is above Telegram's 20MB bot download limit.
const maxVoiceBytes = 25 << 20

// transcribeVoice downloads a voice note or audio file and transcribes it.
func (c *Connector) transcribeVoice(ctx context.Context, msg *tgbotapi.Message) (string, error) {
	if c.transcriber == nil {
		return "", fmt.Errorf("voice transcription not configured")
	}

	var fileID string
	encoding := speech.EncodingOggOpus
	switch {
	case msg.Voice != nil:
		fileID = msg.Voice.FileID
	case msg.Audio != nil:
		fileID = msg.Audio.FileID
		if msg.Audio.MimeType == "audio/mpeg" {
			encoding = speech.EncodingMP3
		}
	default:
		return "", fmt.Errorf("no voice or audio in message")
	}

	fileURL, err := c.bot.GetFileDirectURL(fileID)
	if err != nil {
		return "", fmt.Errorf("get file URL: %w", err)
	}
	return c.transcribeURL(ctx, fileURL, encoding)
}

func (c *Connector) transcribeURL(ctx context.Context, fileURL, encoding string) (string, error) {
	audio, err := downloadFile(ctx, fileURL)
	if err != nil {
		return "", fmt.Errorf("download audio: %w", err)
	}
	text := c.transcriber.Transcribe(ctx, audio, speech.Options{Encoding: encoding, Language: c.config.Language})
	if text == "" {
		return "", fmt.Errorf("empty transcription")
	}
	return text, nil
}

func downloadFile(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	client := &http.Client{Timeout: 60 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxVoiceBytes))
}
