// Package engine decides, for each customer question, whether to answer it
// directly or hand it to a human supervisor.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/h1v3-io/frontdesk/internal/metrics"
	"github.com/h1v3-io/frontdesk/internal/speech"
	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

// EscalationReply is said while a question waits for the supervisor.
const EscalationReply = "Let me check with my supervisor and get back to you."

// Where an answer came from, as counted in metrics.
const (
	SourceKnowledge = "knowledge"
	SourceRule      = "rule"
	SourceEscalated = "escalated"
)

// Knowledge looks up learned answers.
type Knowledge interface {
	FindMatch(ctx context.Context, question string) (*protocol.KnowledgeEntry, error)
}

// CallLedger is the part of the call ledger the engine writes to.
type CallLedger interface {
	Get(ctx context.Context, callID string) (*protocol.Call, error)
	AppendUtterance(ctx context.Context, callID string, speaker protocol.Speaker, text string) error
	Complete(ctx context.Context, callID string, duration time.Duration) error
}

// Escalations opens help requests.
type Escalations interface {
	Create(ctx context.Context, question, callID, customerID, contact string) (*protocol.Escalation, error)
}

// Engine answers questions asked during calls.
type Engine struct {
	business    BusinessInfo
	knowledge   Knowledge
	calls       CallLedger
	escalations Escalations
	responder   Responder
	transcriber speech.Transcriber
	language    string
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithResponder sets how responses reach the caller. The default only logs.
func WithResponder(r Responder) Option { return func(e *Engine) { e.responder = r } }

// WithTranscriber enables HandleAudio. language is a BCP-47 tag such as "en-US".
func WithTranscriber(t speech.Transcriber, language string) Option {
	return func(e *Engine) {
		e.transcriber = t
		e.language = language
	}
}

func WithMetrics(m *metrics.Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New creates an engine.
func New(business BusinessInfo, knowledge Knowledge, calls CallLedger, escalations Escalations, logger *slog.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		business:    business,
		knowledge:   knowledge,
		calls:       calls,
		escalations: escalations,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.responder == nil {
		e.responder = NewLogResponder(logger)
	}
	return e
}

// Answer picks a reply: a learned answer first, then the fixed rules, and
// otherwise the escalation reply with NeedsHelp set.
func (e *Engine) Answer(ctx context.Context, question string) protocol.Answer {
	ans, _ := e.answer(ctx, question)
	return ans
}

func (e *Engine) answer(ctx context.Context, question string) (protocol.Answer, string) {
	if e.knowledge != nil {
		hit, err := e.knowledge.FindMatch(ctx, question)
		if err != nil {
			e.logger.Warn("knowledge lookup failed", "error", err)
		} else if hit != nil {
			e.logger.Debug("knowledge hit", "entry_id", hit.ID)
			return protocol.Answer{Text: hit.Answer}, SourceKnowledge
		}
	}
	if text, ok := ruleAnswer(e.business, question); ok {
		return protocol.Answer{Text: text}, SourceRule
	}
	return protocol.Answer{Text: EscalationReply, NeedsHelp: true}, SourceEscalated
}

// ProcessQuestion answers a question asked on a call. Both sides go into the
// transcript and the reply is delivered to the caller. Questions that need
// help open an escalation; a failure there is logged, not returned.
func (e *Engine) ProcessQuestion(ctx context.Context, callID, question string) (*protocol.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("engine: process question: empty question: %w", protocol.ErrMalformed)
	}
	call, err := e.calls.Get(ctx, callID)
	if err != nil {
		return nil, fmt.Errorf("engine: process question: %w", err)
	}

	e.record(ctx, callID, protocol.SpeakerCustomer, question)
	ans, source := e.answer(ctx, question)
	e.metrics.Question(source)
	e.say(ctx, callID, ans.Text)

	if ans.NeedsHelp {
		esc, err := e.escalations.Create(ctx, question, callID, call.CustomerID, call.Contact)
		if err != nil {
			e.logger.Error("escalation failed", "call_id", callID, "error", err)
		} else {
			e.logger.Info("question escalated", "call_id", callID, "escalation_id", esc.ID)
		}
	}
	e.logger.Info("question answered", "call_id", callID, "source", source, "needs_help", ans.NeedsHelp)
	return &ans, nil
}

// HandleCallReceived greets the caller.
func (e *Engine) HandleCallReceived(ctx context.Context, callID string) {
	e.say(ctx, callID, e.business.Greeting())
}

// HandleCallEnded closes the call in the ledger.
func (e *Engine) HandleCallEnded(ctx context.Context, callID string, duration time.Duration) error {
	if err := e.calls.Complete(ctx, callID, duration); err != nil {
		return fmt.Errorf("engine: end call: %w", err)
	}
	return nil
}

// HandleAudio transcribes 16 kHz LINEAR16 audio and processes any words it
// contains. Without a transcriber the audio is dropped.
func (e *Engine) HandleAudio(ctx context.Context, callID string, audio []byte) error {
	if e.transcriber == nil || len(audio) == 0 {
		return nil
	}
	text := strings.TrimSpace(e.transcriber.Transcribe(ctx, audio, speech.Options{
		Encoding:   speech.EncodingLinear16,
		SampleRate: 16000,
		Language:   e.language,
	}))
	if text == "" {
		return nil
	}
	e.logger.Debug("transcribed", "call_id", callID, "text", text)
	_, err := e.ProcessQuestion(ctx, callID, text)
	return err
}

// DeliverLive speaks a supervisor's answer into a call still in progress.
func (e *Engine) DeliverLive(ctx context.Context, callID, text string) bool {
	if err := e.responder.Respond(ctx, callID, text); err != nil {
		e.logger.Warn("live delivery failed", "call_id", callID, "error", err)
		return false
	}
	e.record(ctx, callID, protocol.SpeakerAssistant, text)
	return true
}

// say records and delivers an assistant utterance. Failures are logged.
func (e *Engine) say(ctx context.Context, callID, text string) {
	e.record(ctx, callID, protocol.SpeakerAssistant, text)
	if err := e.responder.Respond(ctx, callID, text); err != nil {
		e.logger.Warn("response delivery failed", "call_id", callID, "error", err)
	}
}

func (e *Engine) record(ctx context.Context, callID string, speaker protocol.Speaker, text string) {
	if err := e.calls.AppendUtterance(ctx, callID, speaker, text); err != nil {
		e.logger.Error("transcript write failed", "call_id", callID, "speaker", speaker, "error", err)
	}
}
