// Package recovery periodically re-drives instances whose progress was lost
// to a crash, a dropped queue task or an expired lease.
package recovery

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when the sweep schedule cannot be parsed.
var ErrInvalidSchedule = errors.New("invalid sweep schedule")

// Recoverer is the engine surface the sweeper drives.
type Recoverer interface {
	RecoverInFlight(ctx context.Context, staleAfter time.Duration) (int, error)
}

// parser accepts 5-field cron expressions and descriptors like "@every 30s".
var parser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Sweeper runs RecoverInFlight on a cron schedule. Overlapping runs are
// skipped.
type Sweeper struct {
	recoverer  Recoverer
	spec       string
	schedule   cron.Schedule
	staleAfter time.Duration
	logger     *slog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// NewSweeper parses spec and returns a stopped sweeper. Tasks scheduled less
// than staleAfter ago are considered in flight and left alone.
func NewSweeper(r Recoverer, spec string, staleAfter time.Duration, logger *slog.Logger) (*Sweeper, error) {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return nil, errors.Join(ErrInvalidSchedule, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		recoverer:  r,
		spec:       spec,
		schedule:   schedule,
		staleAfter: staleAfter,
		logger:     logger,
	}, nil
}

// Start schedules the sweep. Sweeps run with ctx until Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return
	}

	l := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLogger(l),
		cron.WithChain(cron.Recover(l), cron.SkipIfStillRunning(l)),
	)
	s.cron.Schedule(s.schedule, cron.FuncJob(func() {
		_, _ = s.Sweep(ctx)
	}))
	s.cron.Start()

	s.logger.Info("recovery sweeper started",
		"schedule", s.spec,
		"stale_after", s.staleAfter,
		"next_run", s.NextRun(),
	)
}

// Stop halts the schedule and waits for a running sweep to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
	s.logger.Info("recovery sweeper stopped")
}

// NextRun returns the next scheduled sweep time from now.
func (s *Sweeper) NextRun() time.Time {
	return s.schedule.Next(time.Now())
}

// Sweep runs one recovery pass immediately.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	touched, err := s.recoverer.RecoverInFlight(ctx, s.staleAfter)
	if err != nil {
		s.logger.Warn("recovery sweep completed with errors", "touched", touched, "error", err)
		return touched, err
	}
	if touched > 0 {
		s.logger.Info("recovery sweep re-drove instances", "touched", touched)
	} else {
		s.logger.Debug("recovery sweep found nothing to do")
	}
	return touched, nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
