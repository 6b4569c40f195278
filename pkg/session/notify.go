package session

import (
	"sync"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/playback"
)

// NotificationType names what a Notification reports.
type NotificationType string

const (
	NotifyStateChanged   NotificationType = "state.changed"
	NotifyReplayFinished NotificationType = "replay.finished"
	NotifyError          NotificationType = "error"
)

// Notification is published for every transition, every replay outcome and
// every failure that happened in the background.
type Notification struct {
	Type       NotificationType
	Transition Transition
	Result     *playback.Result
	Err        error
	At         time.Time
}

const subscriberBuffer = 64

// hub fans notifications out to subscribers. Slow subscribers lose
// notifications instead of stalling the controller.
type hub struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan Notification
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Notification)}
}

func (h *hub) subscribe() (<-chan Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := make(chan Notification, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	id := h.nextID
	h.nextID++
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if sub, ok := h.subs[id]; ok {
				delete(h.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

func (h *hub) publish(n Notification) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
}

func (h *hub) close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for id, ch := range h.subs {
		delete(h.subs, id)
		close(ch)
	}
}
