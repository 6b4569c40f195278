// Package playback replays a frozen event log through an injector with the
// recorded inter-arrival timing.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/eventlog"
	"github.com/offlinefirst/inputreplay/pkg/inject"
)

var (
	// ErrInjectionFailed reports a replay aborted by a fatal injection failure.
	ErrInjectionFailed = errors.New("injection failed")
	// ErrInvalidSpeed rejects non-positive or non-finite speed multipliers.
	ErrInvalidSpeed = errors.New("playback speed must be a positive finite number")
)

// Outcome classifies how a replay ended.
type Outcome int

const (
	Completed Outcome = iota
	Cancelled
	InjectionFailed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case InjectionFailed:
		return "injection_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Options configure the playback scheduler.
type Options struct {
	Injector inject.Injector
	// Speed divides every recorded gap. Zero means real time.
	Speed float64
	// MaxFailures aborts the replay once more than this many events failed.
	// Zero tolerates any number of non-fatal failures.
	MaxFailures int
	Logger      *slog.Logger
	// Clock must carry a monotonic reading; time.Now does.
	Clock   func() time.Time
	Sleeper func(context.Context, time.Duration) error
}

// Scheduler replays logs one at a time. It keeps no per-replay state, so one
// Scheduler can serve consecutive replays.
type Scheduler struct {
	injector    inject.Injector
	speed       float64
	maxFailures int
	logger      *slog.Logger
	clock       func() time.Time
	sleeper     func(context.Context, time.Duration) error
}

// Result summarises one replay.
type Result struct {
	Outcome    Outcome
	Replayed   int
	Failed     int
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// ValidateSpeed checks a speed multiplier supplied by a caller.
func ValidateSpeed(speed float64) error {
	if speed <= 0 || math.IsNaN(speed) || math.IsInf(speed, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, speed)
	}
	return nil
}

// NewScheduler validates options and returns a scheduler instance.
func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Injector == nil {
		return nil, errors.New("injector must be provided")
	}
	speed := opts.Speed
	if speed == 0 {
		speed = 1
	}
	if err := ValidateSpeed(speed); err != nil {
		return nil, err
	}
	if opts.MaxFailures < 0 {
		return nil, errors.New("max failures must not be negative")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = defaultSleeper
	}
	return &Scheduler{
		injector:    opts.Injector,
		speed:       speed,
		maxFailures: opts.MaxFailures,
		logger:      logger,
		clock:       clock,
		sleeper:     sleeper,
	}, nil
}

// Speed reports the configured multiplier.
func (s *Scheduler) Speed() float64 {
	return s.speed
}

// Run replays log at the configured speed and returns once the log is
// exhausted, ctx is cancelled, or a fatal injection failure aborts it.
func (s *Scheduler) Run(ctx context.Context, log *eventlog.Log) (Result, error) {
	return s.RunAt(ctx, log, 0)
}

// RunAt is Run with a per-replay speed override. Zero keeps the configured
// speed.
func (s *Scheduler) RunAt(ctx context.Context, log *eventlog.Log, speed float64) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if speed == 0 {
		speed = s.speed
	}
	if err := ValidateSpeed(speed); err != nil {
		return Result{}, err
	}
	result := Result{StartedAt: s.clock()}
	finish := func(outcome Outcome, err error) (Result, error) {
		result.Outcome = outcome
		result.Err = err
		result.FinishedAt = s.clock()
		return result, err
	}

	if log == nil || log.Len() == 0 {
		return finish(Completed, nil)
	}

	ref := result.StartedAt
	var prev time.Duration
	for i, ev := range log.Iter() {
		if ctx.Err() != nil {
			return finish(Cancelled, nil)
		}
		if i > 0 {
			if err := s.waitUntil(ctx, ref.Add(scale(ev.Offset-prev, speed))); err != nil {
				return finish(Cancelled, nil)
			}
		}

		err := s.injector.Inject(ev.Event)
		ref = s.clock()
		prev = ev.Offset
		if err == nil {
			result.Replayed++
			continue
		}

		result.Failed++
		if inject.IsFatal(err) {
			s.logger.Error("replay aborted", "seq", ev.Seq, "event", ev.Event.String(), "error", err)
			return finish(InjectionFailed, fmt.Errorf("%w: event %d: %w", ErrInjectionFailed, i, err))
		}
		s.logger.Warn("skipping event after injection failure", "seq", ev.Seq, "event", ev.Event.String(), "error", err)
		if s.maxFailures > 0 && result.Failed > s.maxFailures {
			return finish(InjectionFailed, fmt.Errorf("%w: %d events failed, limit %d", ErrInjectionFailed, result.Failed, s.maxFailures))
		}
	}
	return finish(Completed, nil)
}

func scale(gap time.Duration, speed float64) time.Duration {
	if gap <= 0 {
		return 0
	}
	if speed == 1 {
		return gap
	}
	return time.Duration(float64(gap) / speed)
}

func (s *Scheduler) waitUntil(ctx context.Context, target time.Time) error {
	now := s.clock()
	if !now.Before(target) {
		return ctx.Err()
	}
	return s.sleeper(ctx, target.Sub(now))
}

func defaultSleeper(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
