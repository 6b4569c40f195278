// Package eventlog holds the ordered, append-only sequence of captured events
// produced by one recording session.
//
// A Log has no synchronisation of its own. The session controller guarantees
// that a single writer appends before Freeze and readers only iterate after.
package eventlog

import (
	"fmt"
	"iter"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/input"
)

// Log is an append-only, offset-ordered sequence of captured events.
type Log struct {
	createdAt time.Time
	events    []input.CapturedEvent
	frozen    bool
}

// New returns an empty, writable log stamped with createdAt.
func New(createdAt time.Time) *Log {
	return &Log{createdAt: createdAt.UTC()}
}

// FromEvents builds a frozen log from already ordered events, for example when
// loading a stored recording.
func FromEvents(createdAt time.Time, events []input.CapturedEvent) (*Log, error) {
	log := New(createdAt)
	for i, ev := range events {
		if err := log.Append(ev); err != nil {
			return nil, fmt.Errorf("event %d: %w", i, err)
		}
	}
	log.Freeze()
	return log, nil
}

// Append adds ev to the end of the log.
func (l *Log) Append(ev input.CapturedEvent) error {
	if l.frozen {
		return ErrFrozen
	}
	if ev.Offset < 0 {
		return fmt.Errorf("%w: negative offset %s", ErrOutOfOrderEvent, ev.Offset)
	}
	if n := len(l.events); n > 0 {
		last := l.events[n-1]
		if ev.Offset < last.Offset {
			return fmt.Errorf("%w: %s after %s", ErrOutOfOrderEvent, ev.Offset, last.Offset)
		}
		if ev.Seq != 0 && ev.Seq <= last.Seq {
			return fmt.Errorf("%w: sequence %d after %d", ErrOutOfOrderEvent, ev.Seq, last.Seq)
		}
	}
	l.events = append(l.events, ev)
	return nil
}

// Freeze marks the log read-only and returns its length. Freezing twice is harmless.
func (l *Log) Freeze() int {
	l.frozen = true
	return len(l.events)
}

// Frozen reports whether Freeze has been called.
func (l *Log) Frozen() bool {
	return l.frozen
}

// Len returns the number of events.
func (l *Log) Len() int {
	return len(l.events)
}

// CreatedAt returns the session start marker.
func (l *Log) CreatedAt() time.Time {
	return l.createdAt
}

// Duration returns the offset of the final event.
func (l *Log) Duration() time.Duration {
	if len(l.events) == 0 {
		return 0
	}
	return l.events[len(l.events)-1].Offset
}

// At returns the i-th event.
func (l *Log) At(i int) input.CapturedEvent {
	return l.events[i]
}

// Iter yields the events in order. Each call starts from the beginning.
func (l *Log) Iter() iter.Seq2[int, input.CapturedEvent] {
	return func(yield func(int, input.CapturedEvent) bool) {
		for i, ev := range l.events {
			if !yield(i, ev) {
				return
			}
		}
	}
}

// Events returns a copy of the events.
func (l *Log) Events() []input.CapturedEvent {
	return append([]input.CapturedEvent(nil), l.events...)
}

// Equal reports whether both logs hold the same events in the same order.
func (l *Log) Equal(other *Log) bool {
	if l == nil || other == nil {
		return l == other
	}
	if len(l.events) != len(other.events) || l.frozen != other.frozen {
		return false
	}
	for i := range l.events {
		if l.events[i] != other.events[i] {
			return false
		}
	}
	return true
}
