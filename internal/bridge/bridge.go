// Package bridge keeps a live subscription to the telephony transport and
// turns its session events into call events for the engine.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/h1v3-io/frontdesk/internal/metrics"
	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

// State is the connection state.
type State int32

const (
	Disconnected State = iota
	Connecting
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	}
	return "unknown"
}

// monitorIdentityPrefix marks the bridge's own room identities. Other
// participants without SIP metadata are still treated as callers.
const monitorIdentityPrefix = "voice-monitor-"

// ErrNotConnected is returned when writing while no connection is up.
var ErrNotConnected = errors.New("bridge: not connected")

// CallStarter records new calls.
type CallStarter interface {
	Start(ctx context.Context, callID, customerID, contact string, direction protocol.CallDirection) (*protocol.Call, error)
}

// Config holds bridge settings.
type Config struct {
	URL            string        `json:"url" yaml:"url"`
	APIKey         string        `json:"api_key" yaml:"api_key"`
	APISecret      string        `json:"api_secret" yaml:"api_secret"`
	Room           string        `json:"room,omitempty" yaml:"room,omitempty"`
	TokenTTL       time.Duration `json:"token_ttl,omitempty" yaml:"token_ttl,omitempty"`
	InitialBackoff time.Duration `json:"initial_backoff,omitempty" yaml:"initial_backoff,omitempty"`
	MaxBackoff     time.Duration `json:"max_backoff,omitempty" yaml:"max_backoff,omitempty"`
	PingInterval   time.Duration `json:"ping_interval,omitempty" yaml:"ping_interval,omitempty"`
	EventBuffer    int           `json:"event_buffer,omitempty" yaml:"event_buffer,omitempty"`
}

func (c *Config) applyDefaults() {
	if c.TokenTTL <= 0 {
		c.TokenTTL = 6 * time.Hour
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 60 * time.Second
	}
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 64
	}
}

type activeCall struct {
	callID    string
	identity  string
	phone     string
	startedAt time.Time
}

// Bridge owns the transport connection. Run drives the connection state
// machine; Events delivers what it sees.
type Bridge struct {
	cfg     Config
	dialer  Dialer
	calls   CallStarter
	logger  *slog.Logger
	metrics *metrics.Metrics

	state  atomic.Int32
	events chan Event

	mu     sync.Mutex
	active map[string]*activeCall // call id → call

	connMu sync.Mutex
	conn   Conn

	closeMu  sync.RWMutex
	closed   bool
	shutdown sync.Once

	// sleep waits between attempts; tests replace it.
	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a bridge. Run must be called to connect.
func New(cfg Config, dialer Dialer, calls CallStarter, logger *slog.Logger, m *metrics.Metrics) *Bridge {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if dialer == nil {
		dialer = WebsocketDialer{}
	}
	return &Bridge{
		cfg:     cfg,
		dialer:  dialer,
		calls:   calls,
		logger:  logger,
		metrics: m,
		events:  make(chan Event, cfg.EventBuffer),
		active:  make(map[string]*activeCall),
		sleep:   sleepContext,
		now:     time.Now,
	}
}

// Events returns the event stream. It is closed by Shutdown.
func (b *Bridge) Events() <-chan Event { return b.events }

// State returns the current connection state.
func (b *Bridge) State() State { return State(b.state.Load()) }

func (b *Bridge) setState(s State) {
	prev := State(b.state.Swap(int32(s)))
	b.metrics.BridgeState(int(s))
	if prev != s {
		b.logger.Debug("bridge state", "from", prev.String(), "to", s.String())
	}
}

// Run connects and reconnects until ctx is cancelled, then shuts down.
// Failed attempts back off exponentially from InitialBackoff to MaxBackoff;
// a successful connection resets the backoff.
func (b *Bridge) Run(ctx context.Context) error {
	defer b.Shutdown()

	backoff := b.cfg.InitialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}
		b.setState(Connecting)
		conn, err := b.connect(ctx)
		if err != nil {
			b.setState(Disconnected)
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error("bridge connection failed", "error", err, "retry_in", backoff)
		} else {
			backoff = b.cfg.InitialBackoff
			b.setState(Connected)
			b.logger.Info("bridge connected")

			err = b.serve(ctx, conn)
			b.setState(Disconnected)
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Warn("bridge disconnected", "error", err, "retry_in", backoff)
		}

		b.metrics.BridgeReconnect()
		if err := b.sleep(ctx, backoff); err != nil {
			return nil
		}
		backoff = nextBackoff(backoff, b.cfg.MaxBackoff)
	}
}

func nextBackoff(cur, limit time.Duration) time.Duration {
	next := cur * 2
	if next > limit {
		return limit
	}
	return next
}

func (b *Bridge) connect(ctx context.Context) (Conn, error) {
	url, err := b.url()
	if err != nil {
		return nil, err
	}
	conn, err := b.dialer.Dial(ctx, url)
	if err != nil {
		return nil, err
	}
	if err := conn.WriteJSON(presence{Type: "presence", Role: "monitor"}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("bridge: send presence: %w", err)
	}
	return conn, nil
}

// url builds wss://<host>/rtc?access_token=<jwt>. A ws:// or http:// base
// keeps the connection unencrypted (local development).
func (b *Bridge) url() (string, error) {
	scheme := "wss"
	host := b.cfg.URL
	for _, p := range []string{"wss://", "https://", "ws://", "http://"} {
		if strings.HasPrefix(host, p) {
			if p == "ws://" || p == "http://" {
				scheme = "ws"
			}
			host = strings.TrimPrefix(host, p)
			break
		}
	}
	host = strings.TrimSuffix(host, "/")
	if host == "" {
		return "", fmt.Errorf("bridge: url is required")
	}
	identity := fmt.Sprintf("%s%d", monitorIdentityPrefix, b.now().Unix())
	token, err := AccessToken(b.cfg.APIKey, b.cfg.APISecret, identity, b.cfg.Room, b.cfg.TokenTTL, b.now())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s://%s/rtc?access_token=%s", scheme, host, token), nil
}

// serve runs the receive loop and keepalive for one connection. Either
// failing ends both; the connection is closed before serve returns.
func (b *Bridge) serve(ctx context.Context, conn Conn) error {
	b.connMu.Lock()
	b.conn = conn
	b.connMu.Unlock()
	defer func() {
		b.connMu.Lock()
		b.conn = nil
		b.connMu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			data, err := conn.Read()
			if err != nil {
				return fmt.Errorf("bridge: read: %w", err)
			}
			b.handle(gctx, data)
		}
	})
	g.Go(func() error {
		ticker := time.NewTicker(b.cfg.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case <-ticker.C:
				if err := conn.Ping(); err != nil {
					return fmt.Errorf("bridge: ping: %w", err)
				}
			}
		}
	})
	g.Go(func() error {
		// unblocks Read when the other loop fails or ctx ends
		<-gctx.Done()
		conn.Close()
		return nil
	})
	return g.Wait()
}

// handle processes one message. Bad input is logged and skipped.
func (b *Bridge) handle(ctx context.Context, data []byte) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("bridge event panic recovered", "panic", r)
		}
	}()

	var msg inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		b.logger.Warn("malformed transport message", "error", err, "size", len(data))
		return
	}
	switch msg.Type {
	case "participant_joined":
		b.onJoined(ctx, msg.Participant)
	case "participant_left":
		b.onLeft(ctx, msg.Participant)
	case "track_published":
		b.onTrack(ctx, msg.Participant, msg.Track)
	case "audio_data":
		b.onAudio(ctx, msg.Participant, msg.Data)
	default:
		b.logger.Debug("ignoring transport message", "type", msg.Type)
	}
}

func (b *Bridge) onJoined(ctx context.Context, p *participant) {
	if p == nil {
		b.logger.Warn("participant_joined without participant")
		return
	}
	if strings.HasPrefix(p.Identity, monitorIdentityPrefix) {
		b.logger.Debug("ignoring monitor participant", "identity", p.Identity)
		return
	}
	md, ok := parseMetadata(p.Metadata)
	if ok && md.Type != "" && md.Type != "sip" {
		b.logger.Debug("ignoring non-phone participant", "identity", p.Identity, "type", md.Type)
		return
	}
	if !ok {
		b.logger.Warn("participant metadata missing or malformed", "identity", p.Identity)
	}

	callID := md.CallID
	if callID == "" {
		if p.Identity != "" {
			callID = "call_" + p.Identity
		} else {
			callID = "call_" + uuid.NewString()
		}
	}
	phone := md.From
	if phone == "" {
		phone = "unknown"
	}
	b.startCall(ctx, callID, p.Identity, phone)
}

// SimulateCall starts a call as if a phone participant had joined. It backs
// the test-call API used in development.
func (b *Bridge) SimulateCall(ctx context.Context, callID, phone string) (string, error) {
	if callID == "" {
		callID = fmt.Sprintf("voice_call_%d", b.now().UnixNano())
	}
	if phone == "" {
		phone = "unknown"
	}
	if err := b.startCall(ctx, callID, "", phone); err != nil {
		return "", err
	}
	return callID, nil
}

func (b *Bridge) startCall(ctx context.Context, callID, identity, phone string) error {
	customerID := CustomerID(phone)

	b.mu.Lock()
	if ac, ok := b.active[callID]; ok {
		ac.identity = identity
		ac.phone = phone
		b.mu.Unlock()
		b.logger.Info("call participant rejoined", "call_id", callID, "identity", identity)
		return nil
	}
	b.active[callID] = &activeCall{callID: callID, identity: identity, phone: phone, startedAt: b.now()}
	b.mu.Unlock()

	b.logger.Info("call received", "call_id", callID, "phone", phone)
	if b.calls != nil {
		if _, err := b.calls.Start(ctx, callID, customerID, phone, protocol.CallInbound); err != nil {
			b.logger.Error("recording call start failed", "call_id", callID, "error", err)
		}
	}
	b.metrics.Call("started")
	return b.emit(ctx, Event{Type: CallReceived, CallID: callID, CustomerID: customerID, Phone: phone})
}

func (b *Bridge) onLeft(ctx context.Context, p *participant) {
	if p == nil || p.Identity == "" {
		return
	}
	b.mu.Lock()
	var found *activeCall
	for _, ac := range b.active {
		if ac.identity == p.Identity {
			found = ac
			break
		}
	}
	if found != nil {
		delete(b.active, found.callID)
	}
	b.mu.Unlock()

	if found == nil {
		b.logger.Debug("participant left without an active call", "identity", p.Identity)
		return
	}
	b.endTracked(ctx, found)
}

func (b *Bridge) onTrack(ctx context.Context, p *participant, t *track) {
	if t == nil || t.Type != "audio" {
		return
	}
	callID := b.callFor(p)
	if callID == "" {
		b.logger.Debug("audio track without an active call", "track", t.SID)
		return
	}
	b.logger.Debug("audio track published", "call_id", callID, "track", t.SID)
	b.emit(ctx, Event{Type: AudioTrack, CallID: callID, TrackSID: t.SID})
}

func (b *Bridge) onAudio(ctx context.Context, p *participant, data []byte) {
	if len(data) == 0 {
		return
	}
	callID := b.callFor(p)
	if callID == "" {
		return
	}
	b.emit(ctx, Event{Type: AudioChunk, CallID: callID, Audio: data})
}

func (b *Bridge) callFor(p *participant) string {
	if p == nil || p.Identity == "" {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ac := range b.active {
		if ac.identity == p.Identity {
			return ac.callID
		}
	}
	return ""
}

// EndCall ends a tracked call from our side. It reports whether the call was active.
func (b *Bridge) EndCall(ctx context.Context, callID string) bool {
	b.mu.Lock()
	ac, ok := b.active[callID]
	if ok {
		delete(b.active, callID)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	b.endTracked(ctx, ac)
	return true
}

func (b *Bridge) endTracked(ctx context.Context, ac *activeCall) {
	d := b.now().Sub(ac.startedAt)
	b.logger.Info("call ended", "call_id", ac.callID, "duration", d)
	b.metrics.Call("completed")
	b.emit(ctx, Event{Type: CallEnded, CallID: ac.callID, Duration: d})
}

// ActiveCalls returns the ids of calls currently tracked.
func (b *Bridge) ActiveCalls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.active))
	for id := range b.active {
		ids = append(ids, id)
	}
	return ids
}

// SendAudio plays audio into a live call over the current connection.
func (b *Bridge) SendAudio(_ context.Context, callID string, audio []byte) error {
	b.mu.Lock()
	ac, ok := b.active[callID]
	var identity string
	if ok {
		identity = ac.identity
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("bridge: send audio to %s: %w", callID, protocol.ErrNotFound)
	}

	b.connMu.Lock()
	conn := b.conn
	b.connMu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	return conn.WriteJSON(outboundAudio{Type: "audio", CallID: callID, Participant: identity, Data: audio})
}

// emit blocks while the buffer is full. It gives up when ctx ends or the
// stream has been closed.
func (b *Bridge) emit(ctx context.Context, ev Event) error {
	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		return fmt.Errorf("bridge: event stream closed")
	}
	select {
	case b.events <- ev:
		return nil
	case <-ctx.Done():
		b.logger.Warn("event dropped on shutdown", "type", ev.Type.String(), "call_id", ev.CallID)
		return ctx.Err()
	}
}

// Shutdown ends every tracked call, then closes the event stream. It is
// safe to call more than once and whether or not Run was ever started.
func (b *Bridge) Shutdown() {
	b.shutdown.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		b.mu.Lock()
		pending := make([]*activeCall, 0, len(b.active))
		for _, ac := range b.active {
			pending = append(pending, ac)
		}
		b.active = make(map[string]*activeCall)
		b.mu.Unlock()

		for _, ac := range pending {
			b.endTracked(ctx, ac)
		}

		b.closeMu.Lock()
		b.closed = true
		close(b.events)
		b.closeMu.Unlock()
		b.setState(Disconnected)
		b.logger.Info("bridge shut down", "ended_calls", len(pending))
	})
}

// CustomerID derives the customer id from a phone number.
func CustomerID(phone string) string {
	return strings.ReplaceAll(phone, "+", "")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
