package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/h1v3-io/frontdesk/internal/bridge"
)

const (
	// DefaultSilence is how long a caller must stay quiet before the buffered
	// audio is treated as one finished utterance.
	DefaultSilence = 1500 * time.Millisecond

	// DefaultMaxUtterance caps one utterance at 30s of 16 kHz LINEAR16.
	DefaultMaxUtterance = 30 * 16000 * 2
)

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithSilence sets the pause that ends an utterance.
func WithSilence(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.silence = d
		}
	}
}

// WithMaxUtterance sets how many audio bytes are buffered before an
// utterance is cut without waiting for silence.
func WithMaxUtterance(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxUtterance = n
		}
	}
}

// Worker feeds bridge events to the engine. Each call gets its own session
// goroutine, so events of one call run in order while calls never wait on
// each other.
type Worker struct {
	engine       *Engine
	events       <-chan bridge.Event
	logger       *slog.Logger
	silence      time.Duration
	maxUtterance int

	mu       sync.Mutex
	sessions map[string]*session
	wg       sync.WaitGroup
}

func NewWorker(e *Engine, events <-chan bridge.Event, logger *slog.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		engine:       e,
		events:       events,
		logger:       logger,
		silence:      DefaultSilence,
		maxUtterance: DefaultMaxUtterance,
		sessions:     make(map[string]*session),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start processes events until the stream is closed. The bridge closes it on
// shutdown after ending every open call, so handlers run detached from ctx's
// cancellation to let those final events land. Start returns once every
// session has drained.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("engine worker started")
	hctx := context.WithoutCancel(ctx)
	for ev := range w.events {
		w.dispatch(hctx, ev)
	}
	w.logger.Info("event stream closed, engine worker stopping")

	w.mu.Lock()
	open := w.sessions
	w.sessions = make(map[string]*session)
	w.mu.Unlock()
	for _, s := range open {
		s.flushAudio(hctx)
		s.close()
	}
	w.wg.Wait()
	return nil
}

func (w *Worker) dispatch(ctx context.Context, ev bridge.Event) {
	switch ev.Type {
	case bridge.CallReceived:
		w.session(ev.CallID).push(func() { w.engine.HandleCallReceived(ctx, ev.CallID) })
	case bridge.CallEnded:
		s := w.session(ev.CallID)
		w.mu.Lock()
		delete(w.sessions, ev.CallID)
		w.mu.Unlock()
		s.flushAudio(ctx)
		s.push(func() {
			if err := w.engine.HandleCallEnded(ctx, ev.CallID, ev.Duration); err != nil {
				w.logger.Error("call end failed", "call_id", ev.CallID, "error", err)
			}
		})
		s.close()
	case bridge.AudioTrack:
		w.logger.Debug("caller audio available", "call_id", ev.CallID, "track", ev.TrackSID)
	case bridge.AudioChunk:
		w.session(ev.CallID).addAudio(ctx, ev.Audio)
	default:
		w.logger.Warn("unknown event", "type", ev.Type.String())
	}
}

func (w *Worker) session(callID string) *session {
	w.mu.Lock()
	defer w.mu.Unlock()
	if s, ok := w.sessions[callID]; ok {
		return s
	}
	s := &session{worker: w, callID: callID, wake: make(chan struct{}, 1)}
	w.sessions[callID] = s
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		s.run()
	}()
	return s
}

func (w *Worker) handleAudio(ctx context.Context, callID string, audio []byte) {
	if err := w.engine.HandleAudio(ctx, callID, audio); err != nil {
		w.logger.Error("audio handling failed", "call_id", callID, "error", err)
	}
}

// session serializes the work of one call and collects its caller audio
// into utterances.
type session struct {
	worker *Worker
	callID string
	wake   chan struct{}

	mu      sync.Mutex
	queue   []func()
	closed  bool
	audio   []byte
	silence *time.Timer
	gen     uint64 // bumped on every chunk; a timer only flushes its own generation
}

func (s *session) push(job func()) {
	s.mu.Lock()
	queued := s.pushLocked(job)
	s.mu.Unlock()
	if queued {
		s.signal()
	}
}

func (s *session) pushLocked(job func()) bool {
	if s.closed {
		return false
	}
	s.queue = append(s.queue, job)
	return true
}

func (s *session) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// close lets the session exit once its queue is empty.
func (s *session) close() {
	s.mu.Lock()
	s.closed = true
	if s.silence != nil {
		s.silence.Stop()
	}
	s.mu.Unlock()
	s.signal()
}

func (s *session) run() {
	for {
		s.mu.Lock()
		for len(s.queue) == 0 {
			if s.closed {
				s.mu.Unlock()
				return
			}
			s.mu.Unlock()
			<-s.wake
			s.mu.Lock()
		}
		job := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		s.exec(job)
	}
}

func (s *session) exec(job func()) {
	defer func() {
		if r := recover(); r != nil {
			s.worker.logger.Error("event handler panic recovered", "call_id", s.callID, "panic", r)
		}
	}()
	job()
}

func (s *session) addAudio(ctx context.Context, chunk []byte) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.audio = append(s.audio, chunk...)
	s.gen++
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
	if len(s.audio) >= s.worker.maxUtterance {
		queued := s.queueAudioLocked(ctx)
		s.mu.Unlock()
		if queued {
			s.signal()
		}
		return
	}
	gen := s.gen
	s.silence = time.AfterFunc(s.worker.silence, func() { s.flush(ctx, &gen) })
	s.mu.Unlock()
}

// flushAudio queues the buffered utterance, if any, for transcription.
func (s *session) flushAudio(ctx context.Context) {
	s.flush(ctx, nil)
}

// flush queues the buffered audio. A silence timer passes the generation it
// was armed for and does nothing if more audio arrived since.
func (s *session) flush(ctx context.Context, gen *uint64) {
	s.mu.Lock()
	if gen != nil && *gen != s.gen {
		s.mu.Unlock()
		return
	}
	queued := s.queueAudioLocked(ctx)
	s.mu.Unlock()
	if queued {
		s.signal()
	}
}

func (s *session) queueAudioLocked(ctx context.Context) bool {
	audio := s.audio
	s.audio = nil
	if s.silence != nil {
		s.silence.Stop()
		s.silence = nil
	}
	if len(audio) == 0 {
		return false
	}
	return s.pushLocked(func() { s.worker.handleAudio(ctx, s.callID, audio) })
}
