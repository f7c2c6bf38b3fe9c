// Package speech talks to OpenAI-compatible transcription and speech
// synthesis endpoints. Both directions degrade to empty results on failure.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"
)

const (
	EncodingLinear16 = "LINEAR16"
	EncodingOggOpus  = "OGG_OPUS"
	EncodingMP3      = "MP3"
)

// Options describes the audio handed to Transcribe.
type Options struct {
	Encoding   string
	SampleRate int
	Language   string
}

// VoiceOptions selects the synthesized voice.
type VoiceOptions struct {
	Voice string
	Speed float64
}

// Transcriber turns audio into text. It returns "" on any failure.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, opts Options) string
}

// Synthesizer turns text into audio. It returns nil on any failure.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string, opts VoiceOptions) []byte
}

// Config holds endpoint settings.
type Config struct {
	// WhisperURL supports OpenAI-compatible endpoints (OpenAI, Groq, etc.).
	WhisperURL   string `json:"whisper_url,omitempty" yaml:"whisper_url,omitempty"`
	WhisperModel string `json:"whisper_model,omitempty" yaml:"whisper_model,omitempty"`
	TTSURL       string `json:"tts_url,omitempty" yaml:"tts_url,omitempty"`
	TTSModel     string `json:"tts_model,omitempty" yaml:"tts_model,omitempty"`
	APIKey       string `json:"api_key,omitempty" yaml:"api_key,omitempty"`
}

// Client implements Transcriber and Synthesizer over HTTP.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

// New creates a speech client, filling endpoint defaults.
func New(cfg Config, logger *slog.Logger) *Client {
	if cfg.WhisperURL == "" {
		cfg.WhisperURL = "https://api.groq.com/openai/v1/audio/transcriptions"
	}
	if cfg.WhisperModel == "" {
		cfg.WhisperModel = "whisper-large-v3-turbo"
	}
	if cfg.TTSURL == "" {
		cfg.TTSURL = "https://api.openai.com/v1/audio/speech"
	}
	if cfg.TTSModel == "" {
		cfg.TTSModel = "tts-1"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: 120 * time.Second}, logger: logger}
}

func (c *Client) Transcribe(ctx context.Context, audio []byte, opts Options) string {
	if len(audio) == 0 {
		return ""
	}
	text, err := c.transcribe(ctx, audio, opts)
	if err != nil {
		c.logger.Warn("transcription failed", "bytes", len(audio), "error", err)
		return ""
	}
	return text
}

func (c *Client) transcribe(ctx context.Context, audio []byte, opts Options) (string, error) {
	filename := "audio.ogg"
	switch opts.Encoding {
	case EncodingLinear16, "":
		rate := opts.SampleRate
		if rate == 0 {
			rate = 16000
		}
		audio = wavFromPCM(audio, rate)
		filename = "audio.wav"
	case EncodingMP3:
		filename = "audio.mp3"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := fw.Write(audio); err != nil {
		return "", err
	}
	w.WriteField("model", c.cfg.WhisperModel)
	w.WriteField("response_format", "json")
	if opts.Language != "" {
		w.WriteField("language", shortLanguage(opts.Language))
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.WhisperURL, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("whisper API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("parse whisper response: %w", err)
	}
	return result.Text, nil
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	Speed          float64 `json:"speed,omitempty"`
	ResponseFormat string  `json:"response_format"`
}

func (c *Client) Synthesize(ctx context.Context, text string, opts VoiceOptions) []byte {
	if text == "" {
		return nil
	}
	audio, err := c.synthesize(ctx, text, opts)
	if err != nil {
		c.logger.Warn("speech synthesis failed", "error", err)
		return nil
	}
	return audio
}

func (c *Client) synthesize(ctx context.Context, text string, opts VoiceOptions) ([]byte, error) {
	voice := opts.Voice
	if voice == "" {
		voice = "alloy"
	}
	body, err := json.Marshal(speechRequest{
		Model:          c.cfg.TTSModel,
		Input:          text,
		Voice:          voice,
		Speed:          opts.Speed,
		ResponseFormat: "pcm",
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TTSURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("speech API error (status %d): %s", resp.StatusCode, string(msg))
	}
	// 10 minutes of 24 kHz 16-bit mono is well under this
	return io.ReadAll(io.LimitReader(resp.Body, 32<<20))
}

// shortLanguage maps "en-US" to the ISO-639-1 code Whisper expects.
func shortLanguage(lang string) string {
	if len(lang) > 2 && (lang[2] == '-' || lang[2] == '_') {
		return lang[:2]
	}
	return lang
}
