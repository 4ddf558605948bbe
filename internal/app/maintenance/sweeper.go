package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/parleyhq/parley/internal/services"
	"github.com/parleyhq/parley/pkg/logger"
)

const (
	defaultPresenceSpec  = "@every 30s"
	defaultCallSpec      = "@every 15s"
	defaultOfflineGrace  = 60 * time.Second
	defaultRingTimeout   = 45 * time.Second
	defaultSweepDeadline = 30 * time.Second
)

// Sweeper runs the periodic hygiene jobs: flipping stale presence rows
// offline and settling calls nobody answered. Any nil dependency skips the
// corresponding job.
type Sweeper struct {
	presence *services.PresenceService
	calls    *services.CallService
	cron     *cron.Cron
	log      *zap.Logger

	offlineGrace time.Duration
	ringTimeout  time.Duration

	presenceSchedule string
	callSchedule     string
}

// Option customises the Sweeper.
type Option func(*Sweeper)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(s *Sweeper) {
		if c != nil {
			s.cron = c
		}
	}
}

// WithOfflineGrace adjusts how long a silent connection stays online.
func WithOfflineGrace(grace time.Duration) Option {
	return func(s *Sweeper) {
		if grace > 0 {
			s.offlineGrace = grace
		}
	}
}

// WithRingTimeout adjusts how long a call may ring before it counts as missed.
func WithRingTimeout(timeout time.Duration) Option {
	return func(s *Sweeper) {
		if timeout > 0 {
			s.ringTimeout = timeout
		}
	}
}

// WithPresenceSchedule overrides the cron specification for the presence sweep.
func WithPresenceSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.presenceSchedule = spec
		}
	}
}

// WithCallSchedule overrides the cron specification for the call expiry sweep.
func WithCallSchedule(spec string) Option {
	return func(s *Sweeper) {
		if spec != "" {
			s.callSchedule = spec
		}
	}
}

// NewSweeper constructs a Sweeper with sensible defaults.
func NewSweeper(presence *services.PresenceService, calls *services.CallService, opts ...Option) *Sweeper {
	sweeper := &Sweeper{
		presence:         presence,
		calls:            calls,
		offlineGrace:     defaultOfflineGrace,
		ringTimeout:      defaultRingTimeout,
		presenceSchedule: defaultPresenceSpec,
		callSchedule:     defaultCallSpec,
		log:              logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(sweeper)
	}

	if sweeper.cron == nil {
		sweeper.cron = cron.New()
	}
	return sweeper
}

// Start registers and launches the sweep jobs.
func (s *Sweeper) Start() error {
	var errs error

	if s.presence != nil {
		if _, err := s.cron.AddFunc(s.presenceSchedule, s.runPresenceSweep); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("maintenance: schedule presence sweep: %w", err))
		}
	}
	if s.calls != nil {
		if _, err := s.cron.AddFunc(s.callSchedule, s.runCallSweep); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("maintenance: schedule call sweep: %w", err))
		}
	}
	if errs != nil {
		return errs
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for in-flight jobs to finish.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}

	done := s.cron.Stop().Done()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunOnce executes every sweep immediately. Used by tests and operational
// tooling; errors from individual jobs are combined rather than short-circuited.
func (s *Sweeper) RunOnce(ctx context.Context) error {
	var errs error

	if s.presence != nil {
		if _, err := s.presence.SweepStale(ctx, s.offlineGrace); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if s.calls != nil {
		if _, err := s.calls.ExpireUnanswered(ctx, s.ringTimeout); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (s *Sweeper) runPresenceSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultSweepDeadline)
	defer cancel()

	changed, err := s.presence.SweepStale(ctx, s.offlineGrace)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("presence sweep failed", zap.Error(err))
		return
	}
	if changed > 0 {
		s.log.Info("presence sweep", zap.Int64("flipped_offline", changed))
	}
}

func (s *Sweeper) runCallSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultSweepDeadline)
	defer cancel()

	expired, err := s.calls.ExpireUnanswered(ctx, s.ringTimeout)
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("call sweep failed", zap.Error(err))
		return
	}
	if expired > 0 {
		s.log.Info("call sweep", zap.Int("marked_missed", expired))
	}
}
