package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/eventlog"
	"github.com/offlinefirst/inputreplay/pkg/playback"
)

// Capturer appends live input to a log between Start and Stop.
type Capturer interface {
	Start(log *eventlog.Log) error
	Stop() error
}

// Player replays a frozen log until it ends or ctx is cancelled.
type Player interface {
	RunAt(ctx context.Context, log *eventlog.Log, speed float64) (playback.Result, error)
}

// Options wires a Controller to its capture and playback backends.
type Options struct {
	Capture Capturer
	Player  Player
	Logger  *slog.Logger
	Clock   func() time.Time
	// TimelineLimit bounds the retained transition history. Zero keeps 256.
	TimelineLimit int
}

const defaultTimelineLimit = 256

// Snapshot is a consistent view of the controller.
type Snapshot struct {
	State      State
	EventCount int
	Duration   time.Duration
	CreatedAt  time.Time
	LastReplay *playback.Result
}

type replayRun struct {
	cancel   context.CancelFunc
	finished chan struct{}
}

// Controller is the session state machine.
type Controller struct {
	capture       Capturer
	player        Player
	logger        *slog.Logger
	clock         func() time.Time
	timelineLimit int
	hub           *hub

	mu         sync.Mutex
	state      State
	log        *eventlog.Log
	replay     *replayRun
	lastReplay *playback.Result
	timeline   []Transition
	closed     bool
}

// NewController validates options and returns an Idle controller holding an
// empty frozen log.
func NewController(opts Options) (*Controller, error) {
	if opts.Capture == nil {
		return nil, errors.New("capture must be provided")
	}
	if opts.Player == nil {
		return nil, errors.New("player must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	limit := opts.TimelineLimit
	if limit <= 0 {
		limit = defaultTimelineLimit
	}
	empty := eventlog.New(clock())
	empty.Freeze()
	return &Controller{
		capture:       opts.Capture,
		player:        opts.Player,
		logger:        logger,
		clock:         clock,
		timelineLimit: limit,
		hub:           newHub(),
		state:         Idle,
		log:           empty,
	}, nil
}

// SetRecord toggles recording. From Idle it starts capture into a fresh log
// that replaces the previous one; from Recording it stops capture and freezes
// the log. It fails with ErrBusy while replaying.
func (c *Controller) SetRecord() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	switch c.state {
	case Idle:
		log := eventlog.New(c.clock())
		if err := c.capture.Start(log); err != nil {
			c.logger.Warn("recording not started", "error", err)
			return fmt.Errorf("start recording: %w", err)
		}
		c.log = log
		c.setState(Recording, "record")
		return nil
	case Recording:
		c.stopRecordingLocked("record")
		return nil
	default:
		return fmt.Errorf("%w: cannot record while %s", ErrBusy, c.state)
	}
}

func (c *Controller) stopRecordingLocked(reason string) {
	err := c.capture.Stop()
	count := c.log.Freeze()
	c.setState(Idle, reason)
	c.logger.Info("recording stopped", "events", count, "duration", c.log.Duration())
	if err != nil {
		c.logger.Error("capture ended with error", "error", err)
		c.hub.publish(Notification{Type: NotifyError, Err: err, At: c.clock()})
	}
}

// SetReplay starts replaying the frozen log at the configured speed.
func (c *Controller) SetReplay() error {
	return c.SetReplaySpeed(0)
}

// SetReplaySpeed starts replaying the frozen log with a speed override. Zero
// keeps the player's configured speed. The call returns once the replay has
// started; its outcome is published as a replay.finished notification.
func (c *Controller) SetReplaySpeed(speed float64) error {
	if speed != 0 {
		if err := playback.ValidateSpeed(speed); err != nil {
			return err
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != Idle {
		return fmt.Errorf("%w: cannot replay while %s", ErrBusy, c.state)
	}
	if c.log.Len() == 0 {
		return ErrNothingToReplay
	}

	ctx, cancel := context.WithCancel(context.Background())
	run := &replayRun{cancel: cancel, finished: make(chan struct{})}
	c.replay = run
	c.setState(Replaying, "replay")

	go c.runReplay(ctx, run, c.log, speed)
	return nil
}

func (c *Controller) runReplay(ctx context.Context, run *replayRun, log *eventlog.Log, speed float64) {
	result, err := c.player.RunAt(ctx, log, speed)
	if err != nil && result.Err == nil {
		result.Err = err
		result.Outcome = playback.InjectionFailed
	}
	close(run.finished)

	c.mu.Lock()
	c.lastReplay = &result
	if c.replay == run {
		c.replay = nil
		run.cancel()
		c.setState(Idle, "replay "+result.Outcome.String())
	}
	c.mu.Unlock()

	attrs := []any{"outcome", result.Outcome.String(), "replayed", result.Replayed, "failed", result.Failed}
	if result.Err != nil {
		c.logger.Error("replay failed", append(attrs, "error", result.Err)...)
	} else {
		c.logger.Info("replay finished", attrs...)
	}
	c.hub.publish(Notification{Type: NotifyReplayFinished, Result: &result, Err: result.Err, At: c.clock()})
}

// StopReplay cancels an active replay and returns once the player has exited
// and the controller is Idle. It is a no-op when nothing is replaying.
func (c *Controller) StopReplay() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != Replaying || c.replay == nil {
		return nil
	}
	c.stopReplayLocked("stop")
	return nil
}

func (c *Controller) stopReplayLocked(reason string) {
	run := c.replay
	run.cancel()
	<-run.finished
	c.replay = nil
	c.setState(Idle, reason)
}

// Load replaces the current log wholesale, freezing it if needed.
func (c *Controller) Load(log *eventlog.Log) error {
	if log == nil {
		return errors.New("event log must be provided")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.state != Idle {
		return fmt.Errorf("%w: cannot load while %s", ErrBusy, c.state)
	}
	log.Freeze()
	c.log = log
	c.logger.Info("event log loaded", "events", log.Len())
	return nil
}

// State reports the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Log returns the frozen log, or nil while a recording is in progress.
func (c *Controller) Log() *eventlog.Log {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == Recording {
		return nil
	}
	return c.log
}

// Snapshot returns the state together with a summary of the current log.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap := Snapshot{State: c.state, CreatedAt: c.log.CreatedAt()}
	if c.state != Recording {
		snap.EventCount = c.log.Len()
		snap.Duration = c.log.Duration()
	}
	if c.lastReplay != nil {
		last := *c.lastReplay
		snap.LastReplay = &last
	}
	return snap
}

// Timeline returns the retained transition history, oldest first.
func (c *Controller) Timeline() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transition(nil), c.timeline...)
}

// Subscribe registers for notifications. The returned function unsubscribes
// and closes the channel.
func (c *Controller) Subscribe() (<-chan Notification, func()) {
	return c.hub.subscribe()
}

// Close stops any recording or replay and closes every subscription.
func (c *Controller) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	switch c.state {
	case Recording:
		c.stopRecordingLocked("shutdown")
	case Replaying:
		c.stopReplayLocked("shutdown")
	}
	c.closed = true
	c.hub.close()
	return nil
}

func (c *Controller) setState(to State, reason string) {
	tr := Transition{From: c.state, To: to, Reason: reason, At: c.clock()}
	c.state = to
	c.timeline = append(c.timeline, tr)
	if over := len(c.timeline) - c.timelineLimit; over > 0 {
		c.timeline = append(c.timeline[:0:0], c.timeline[over:]...)
	}
	c.logger.Debug("session state changed", "from", tr.From.String(), "to", to.String(), "reason", reason)
	c.hub.publish(Notification{Type: NotifyStateChanged, Transition: tr, At: tr.At})
}
