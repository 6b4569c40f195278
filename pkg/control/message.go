package control

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/playback"
	"github.com/offlinefirst/inputreplay/pkg/session"
)

// Message is the envelope for all WebSocket messages.
type Message struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewMessage creates a server-originated message with the current timestamp.
func NewMessage(msgType string, payload any) (*Message, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Message{
		Type:      msgType,
		Payload:   data,
		Timestamp: time.Now().UTC(),
	}, nil
}

// Server → client message types.
const (
	TypeStateSnapshot  = "state.snapshot"
	TypeStateChanged   = string(session.NotifyStateChanged)
	TypeReplayFinished = string(session.NotifyReplayFinished)
	TypeError          = string(session.NotifyError)
)

// Client → server message types.
const (
	TypeRecord     = "session.record"
	TypeReplay     = "session.replay"
	TypeStopReplay = "session.stop"
)

// Error codes.
const (
	CodeBusy             = "BUSY"
	CodeNothingToReplay  = "NOTHING_TO_REPLAY"
	CodePermissionDenied = "CAPTURE_PERMISSION_DENIED"
	CodeInjectionFailed  = "INJECTION_FAILED"
	CodeInvalidRequest   = "INVALID_REQUEST"
	CodeNotFound         = "NOT_FOUND"
	CodeUnavailable      = "UNAVAILABLE"
	CodeInternal         = "INTERNAL"
)

// StatePayload summarises the controller.
type StatePayload struct {
	State      session.State  `json:"state"`
	EventCount int            `json:"event_count"`
	DurationNS int64          `json:"duration_ns"`
	CreatedAt  time.Time      `json:"created_at"`
	LastReplay *ReplayPayload `json:"last_replay,omitempty"`
}

// ReplayPayload reports how a replay ended.
type ReplayPayload struct {
	Outcome    string    `json:"outcome"`
	Replayed   int       `json:"replayed"`
	Failed     int       `json:"failed"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// ErrorPayload carries a machine-readable code with a human message.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ReplayRequest is the optional payload of session.replay.
type ReplayRequest struct {
	Speed float64 `json:"speed,omitempty"`
}

// SaveRequest is the optional body of POST /recordings.
type SaveRequest struct {
	Name string `json:"name,omitempty"`
}

func statePayload(snap session.Snapshot) StatePayload {
	p := StatePayload{
		State:      snap.State,
		EventCount: snap.EventCount,
		DurationNS: int64(snap.Duration),
		CreatedAt:  snap.CreatedAt.UTC(),
	}
	if snap.LastReplay != nil {
		r := replayPayload(*snap.LastReplay)
		p.LastReplay = &r
	}
	return p
}

func replayPayload(r playback.Result) ReplayPayload {
	p := ReplayPayload{
		Outcome:    r.Outcome.String(),
		Replayed:   r.Replayed,
		Failed:     r.Failed,
		StartedAt:  r.StartedAt.UTC(),
		FinishedAt: r.FinishedAt.UTC(),
	}
	if r.Err != nil {
		p.Error = r.Err.Error()
	}
	return p
}

// notificationMessage converts a controller notification into its wire form.
func notificationMessage(n session.Notification) (*Message, error) {
	var payload any
	switch n.Type {
	case session.NotifyStateChanged:
		payload = n.Transition
	case session.NotifyReplayFinished:
		if n.Result == nil {
			return nil, fmt.Errorf("replay notification without result")
		}
		payload = replayPayload(*n.Result)
	case session.NotifyError:
		code, _ := classify(n.Err)
		msg := ""
		if n.Err != nil {
			msg = n.Err.Error()
		}
		payload = ErrorPayload{Code: code, Message: msg}
	default:
		return nil, fmt.Errorf("unknown notification type %q", n.Type)
	}
	msg, err := NewMessage(string(n.Type), payload)
	if err != nil {
		return nil, err
	}
	if !n.At.IsZero() {
		msg.Timestamp = n.At.UTC()
	}
	return msg, nil
}
