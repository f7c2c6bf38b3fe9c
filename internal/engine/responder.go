package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/h1v3-io/frontdesk/internal/speech"
)

// Responder delivers the assistant's words to the caller.
type Responder interface {
	Respond(ctx context.Context, callID, text string) error
}

// AudioSink plays audio into a live call.
type AudioSink interface {
	SendAudio(ctx context.Context, callID string, audio []byte) error
}

// SpeechResponder speaks responses into the call.
type SpeechResponder struct {
	synth  speech.Synthesizer
	sink   AudioSink
	voice  speech.VoiceOptions
	logger *slog.Logger
}

func NewSpeechResponder(synth speech.Synthesizer, sink AudioSink, voice speech.VoiceOptions, logger *slog.Logger) *SpeechResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &SpeechResponder{synth: synth, sink: sink, voice: voice, logger: logger}
}

var errNoAudio = errors.New("engine: speech synthesis produced no audio")

func (r *SpeechResponder) Respond(ctx context.Context, callID, text string) error {
	audio := r.synth.Synthesize(ctx, text, r.voice)
	if len(audio) == 0 {
		return errNoAudio
	}
	if err := r.sink.SendAudio(ctx, callID, audio); err != nil {
		return fmt.Errorf("engine: send audio to %s: %w", callID, err)
	}
	r.logger.Debug("response spoken", "call_id", callID, "bytes", len(audio))
	return nil
}

// LogResponder only logs what would have been said. Used in simulation mode.
type LogResponder struct {
	logger *slog.Logger
}

func NewLogResponder(logger *slog.Logger) *LogResponder {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogResponder{logger: logger}
}

func (r *LogResponder) Respond(_ context.Context, callID, text string) error {
	r.logger.Info("assistant response", "call_id", callID, "text", text)
	return nil
}
