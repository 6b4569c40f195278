package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/eventlog"
	"github.com/offlinefirst/inputreplay/pkg/input"
)

const (
	defaultStartTimeout = 2 * time.Second
	defaultStopTimeout  = 500 * time.Millisecond
)

// Options controls capture behaviour.
type Options struct {
	Source Source
	Filter KeyFilter
	Logger *slog.Logger
	// Clock must carry a monotonic reading; time.Now does.
	Clock        func() time.Time
	StartTimeout time.Duration
	StopTimeout  time.Duration
}

// Stats counts what happened to notifications during the last session.
type Stats struct {
	Captured int
	Filtered int
	Rejected int
}

// Capture turns source notifications into captured events appended to a log.
// One Capture serves many sessions, one at a time.
type Capture struct {
	source       Source
	filter       KeyFilter
	logger       *slog.Logger
	clock        func() time.Time
	startTimeout time.Duration
	stopTimeout  time.Duration

	mu        sync.Mutex
	active    bool
	accepting bool
	log       *eventlog.Log
	start     time.Time
	last      time.Duration
	seq       uint64
	gen       uint64
	stats     Stats
	cancel    context.CancelFunc
	done      chan struct{}
	streamErr error
}

// New validates options and constructs a Capture.
func New(opts Options) (*Capture, error) {
	if opts.Source == nil {
		return nil, errors.New("capture source must be provided")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	startTimeout := opts.StartTimeout
	if startTimeout <= 0 {
		startTimeout = defaultStartTimeout
	}
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = defaultStopTimeout
	}
	return &Capture{
		source:       opts.Source,
		filter:       opts.Filter,
		logger:       logger,
		clock:        clock,
		startTimeout: startTimeout,
		stopTimeout:  stopTimeout,
	}, nil
}

// Start installs the hook and begins appending to log. It returns once the
// source reports the hook is live, or with the installation error.
func (c *Capture) Start(log *eventlog.Log) error {
	if log == nil {
		return errors.New("event log must be provided")
	}

	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return ErrActive
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.active = true
	c.accepting = true
	c.log = log
	c.start = c.clock()
	c.last = 0
	c.seq = 0
	c.stats = Stats{}
	c.cancel = cancel
	c.done = done
	c.streamErr = nil
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	ready := make(chan struct{})
	var readyOnce sync.Once
	markReady := func() { readyOnce.Do(func() { close(ready) }) }

	go func() {
		defer close(done)
		err := c.source.Stream(ctx, markReady, func(n Notification) { c.emit(gen, n) })
		if err != nil && !errors.Is(err, context.Canceled) {
			c.mu.Lock()
			if gen == c.gen {
				c.streamErr = err
			}
			c.mu.Unlock()
			if ctx.Err() == nil {
				c.logger.Error("input capture stream failed", "error", err)
			}
		}
	}()

	timer := time.NewTimer(c.startTimeout)
	defer timer.Stop()

	select {
	case <-ready:
		c.logger.Debug("input capture started")
		return nil
	case <-done:
		cancel()
		c.mu.Lock()
		err := c.streamErr
		c.mu.Unlock()
		c.reset()
		if err == nil {
			err = errors.New("capture source exited before the hook was installed")
		}
		return fmt.Errorf("start capture: %w", err)
	case <-timer.C:
		cancel()
		<-done
		c.reset()
		return fmt.Errorf("start capture: hook not installed within %s", c.startTimeout)
	}
}

// Stop unsubscribes from the source. Once Stop returns no further events will
// be appended to the log handed to Start.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.active {
		c.mu.Unlock()
		return ErrNotActive
	}
	c.accepting = false
	cancel := c.cancel
	done := c.done
	c.mu.Unlock()

	cancel()
	timer := time.NewTimer(c.stopTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		c.logger.Warn("input capture source did not exit promptly", "timeout", c.stopTimeout)
	}

	c.mu.Lock()
	err := c.streamErr
	stats := c.stats
	c.mu.Unlock()
	c.reset()

	c.logger.Debug("input capture stopped", "captured", stats.Captured, "filtered", stats.Filtered, "rejected", stats.Rejected)
	if err != nil {
		return fmt.Errorf("capture stream: %w", err)
	}
	return nil
}

// Active reports whether a session is running.
func (c *Capture) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Stats returns counters for the current or most recent session.
func (c *Capture) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Capture) reset() {
	c.mu.Lock()
	c.active = false
	c.accepting = false
	c.log = nil
	c.cancel = nil
	c.done = nil
	c.mu.Unlock()
}

// emit is the thread-safe append path handed to sources.
func (c *Capture) emit(gen uint64, n Notification) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.accepting || gen != c.gen {
		return
	}
	if n.Synthetic || !c.filter.Allows(n.Event) {
		c.stats.Filtered++
		return
	}

	offset := c.clock().Sub(c.start)
	if offset < c.last {
		offset = c.last
	}
	c.seq++
	ev := input.CapturedEvent{Event: n.Event, Offset: offset, Seq: c.seq}
	if err := c.log.Append(ev); err != nil {
		c.stats.Rejected++
		c.logger.Warn("dropping captured event", "event", n.Event.String(), "error", err)
		return
	}
	c.last = offset
	c.stats.Captured++
}
