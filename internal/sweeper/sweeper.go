// Package sweeper expires escalations that have waited too long for a
// supervisor.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/h1v3-io/frontdesk/internal/escalation"
	"github.com/h1v3-io/frontdesk/internal/metrics"
	"github.com/h1v3-io/frontdesk/pkg/protocol"
)

const (
	DefaultTimeout  = time.Hour
	DefaultInterval = time.Minute
)

// Ledger is the part of the escalation ledger the sweeper needs.
type Ledger interface {
	ListByStatus(ctx context.Context, status protocol.EscalationStatus, limit int) ([]*protocol.Escalation, error)
	Expire(ctx context.Context, id string) error
}

// Config controls how long escalations may wait and how often to look.
type Config struct {
	Timeout  time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	Interval time.Duration `json:"interval,omitempty" yaml:"interval,omitempty"`
}

// Sweeper runs Sweep on a cron schedule.
type Sweeper struct {
	ledger   Ledger
	timeout  time.Duration
	interval time.Duration
	cron     *cron.Cron
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	// base context for scheduled sweeps, set by Start
	runCtx context.Context
}

// New creates a sweeper. Zero config values take the defaults.
func New(ledger Ledger, cfg Config, logger *slog.Logger, m *metrics.Metrics) (*Sweeper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	cl := cronLogger{logger}
	s := &Sweeper{
		ledger:   ledger,
		timeout:  cfg.Timeout,
		interval: cfg.Interval,
		cron:     cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		metrics:  m,
		logger:   logger,
		now:      time.Now,
		runCtx:   context.Background(),
	}
	schedule := fmt.Sprintf("@every %s", cfg.Interval)
	if _, err := s.cron.AddFunc(schedule, s.tick); err != nil {
		return nil, fmt.Errorf("sweeper: invalid schedule %q: %w", schedule, err)
	}
	return s, nil
}

// Start runs the schedule. Blocks until ctx is cancelled, then waits for a
// running sweep to finish.
func (s *Sweeper) Start(ctx context.Context) error {
	s.runCtx = ctx
	s.cron.Start()
	s.logger.Info("sweeper started", "interval", s.interval, "timeout", s.timeout)

	<-ctx.Done()
	<-s.cron.Stop().Done()
	s.logger.Info("sweeper stopped")
	return ctx.Err()
}

func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(s.runCtx, s.interval)
	defer cancel()
	n, err := s.Sweep(ctx)
	if err != nil {
		s.logger.Error("sweep failed", "error", err)
		return
	}
	if n > 0 {
		s.logger.Info("sweep expired escalations", "count", n)
	}
}

// Sweep expires every pending escalation older than the timeout and returns
// how many it expired. Single failures are logged and skipped; only a failed
// listing fails the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveSweep(time.Since(start)) }()

	pending, err := s.ledger.ListByStatus(ctx, protocol.EscalationPending, 0)
	if err != nil {
		return 0, fmt.Errorf("sweeper: list pending: %w", err)
	}

	now := s.now()
	expired := 0
	for _, e := range pending {
		if !escalation.IsTimedOut(e, now, s.timeout) {
			continue
		}
		if err := s.ledger.Expire(ctx, e.ID); err != nil {
			if errors.Is(err, protocol.ErrConflict) {
				s.logger.Debug("escalation settled before expiry", "escalation_id", e.ID)
				continue
			}
			s.logger.Error("expire failed", "escalation_id", e.ID, "error", err)
			continue
		}
		expired++
	}
	s.logger.Debug("sweep finished", "pending", len(pending), "expired", expired)
	return expired, nil
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
