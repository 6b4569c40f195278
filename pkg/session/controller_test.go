package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/capture"
	"github.com/offlinefirst/inputreplay/pkg/eventlog"
	"github.com/offlinefirst/inputreplay/pkg/inject"
	"github.com/offlinefirst/inputreplay/pkg/input"
	"github.com/offlinefirst/inputreplay/pkg/playback"
)

// fakeCapture appends whatever the test pushes while active.
type fakeCapture struct {
	mu       sync.Mutex
	active   bool
	log      *eventlog.Log
	seq      uint64
	startErr error
	starts   int
	busy     *atomic.Bool
	t        *testing.T
}

func (f *fakeCapture) Start(log *eventlog.Log) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	if f.active {
		f.t.Errorf("capture started twice")
	}
	if f.busy != nil && f.busy.Load() {
		f.t.Errorf("capture started while replaying")
	}
	f.active = true
	f.log = log
	f.seq = 0
	f.starts++
	return nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		f.t.Errorf("capture stopped while inactive")
	}
	f.active = false
	f.log = nil
	return nil
}

func (f *fakeCapture) push(offset time.Duration, ev input.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.active {
		return
	}
	f.seq++
	if err := f.log.Append(input.CapturedEvent{Event: ev, Offset: offset, Seq: f.seq}); err != nil {
		f.t.Errorf("append: %v", err)
	}
}

// blockingPlayer replays until cancelled.
type blockingPlayer struct {
	started chan struct{}
	busy    *atomic.Bool
}

func (p *blockingPlayer) RunAt(ctx context.Context, log *eventlog.Log, _ float64) (playback.Result, error) {
	if p.busy != nil {
		p.busy.Store(true)
		defer p.busy.Store(false)
	}
	if p.started != nil {
		p.started <- struct{}{}
	}
	<-ctx.Done()
	return playback.Result{Outcome: playback.Cancelled}, nil
}

func newTestController(t *testing.T, capt *fakeCapture, player Player) *Controller {
	t.Helper()
	capt.t = t
	c, err := NewController(Options{Capture: capt, Player: player})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func recordEvents(t *testing.T, c *Controller, capt *fakeCapture, n int) {
	t.Helper()
	if err := c.SetRecord(); err != nil {
		t.Fatalf("start recording: %v", err)
	}
	for i := 0; i < n; i++ {
		capt.push(time.Duration(i)*time.Millisecond, input.Event{Kind: input.KindKeyDown, Key: input.KeyCode(i + 1)})
	}
	if err := c.SetRecord(); err != nil {
		t.Fatalf("stop recording: %v", err)
	}
}

func waitFor(t *testing.T, ch <-chan Notification, typ NotificationType) Notification {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case n, ok := <-ch:
			if !ok {
				t.Fatalf("subscription closed while waiting for %s", typ)
			}
			if n.Type == typ {
				return n
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

func TestNewControllerValidation(t *testing.T) {
	if _, err := NewController(Options{Player: &blockingPlayer{}}); err == nil {
		t.Fatalf("expected error without capture")
	}
	if _, err := NewController(Options{Capture: &fakeCapture{}}); err == nil {
		t.Fatalf("expected error without player")
	}
}

func TestTransitionTable(t *testing.T) {
	type command int
	const (
		cmdRecord command = iota
		cmdReplay
	)
	cases := []struct {
		name    string
		setup   func(t *testing.T, c *Controller, capt *fakeCapture, started chan struct{})
		cmd     command
		wantErr error
		want    State
	}{
		{
			name:  "record from idle",
			setup: func(*testing.T, *Controller, *fakeCapture, chan struct{}) {},
			cmd:   cmdRecord,
			want:  Recording,
		},
		{
			name:    "replay from idle with empty log",
			setup:   func(*testing.T, *Controller, *fakeCapture, chan struct{}) {},
			cmd:     cmdReplay,
			wantErr: ErrNothingToReplay,
			want:    Idle,
		},
		{
			name: "replay from idle with events",
			setup: func(t *testing.T, c *Controller, capt *fakeCapture, _ chan struct{}) {
				recordEvents(t, c, capt, 2)
			},
			cmd:  cmdReplay,
			want: Replaying,
		},
		{
			name: "record while recording stops",
			setup: func(t *testing.T, c *Controller, _ *fakeCapture, _ chan struct{}) {
				if err := c.SetRecord(); err != nil {
					t.Fatalf("record: %v", err)
				}
			},
			cmd:  cmdRecord,
			want: Idle,
		},
		{
			name: "replay while recording",
			setup: func(t *testing.T, c *Controller, _ *fakeCapture, _ chan struct{}) {
				if err := c.SetRecord(); err != nil {
					t.Fatalf("record: %v", err)
				}
			},
			cmd:     cmdReplay,
			wantErr: ErrBusy,
			want:    Recording,
		},
		{
			name: "record while replaying",
			setup: func(t *testing.T, c *Controller, capt *fakeCapture, started chan struct{}) {
				recordEvents(t, c, capt, 1)
				if err := c.SetReplay(); err != nil {
					t.Fatalf("replay: %v", err)
				}
				<-started
			},
			cmd:     cmdRecord,
			wantErr: ErrBusy,
			want:    Replaying,
		},
		{
			name: "replay while replaying",
			setup: func(t *testing.T, c *Controller, capt *fakeCapture, started chan struct{}) {
				recordEvents(t, c, capt, 1)
				if err := c.SetReplay(); err != nil {
					t.Fatalf("replay: %v", err)
				}
				<-started
			},
			cmd:     cmdReplay,
			wantErr: ErrBusy,
			want:    Replaying,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			started := make(chan struct{}, 1)
			capt := &fakeCapture{}
			c := newTestController(t, capt, &blockingPlayer{started: started})
			tc.setup(t, c, capt, started)
			before := c.State()

			var err error
			switch tc.cmd {
			case cmdRecord:
				err = c.SetRecord()
			case cmdReplay:
				err = c.SetReplay()
			}
			if tc.wantErr == nil && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tc.wantErr != nil && !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if got := c.State(); got != tc.want {
				t.Fatalf("from %s expected %s, got %s", before, tc.want, got)
			}
		})
	}
}

func TestDoubleRecordYieldsEmptyFrozenLog(t *testing.T) {
	capt := &fakeCapture{}
	c := newTestController(t, capt, &blockingPlayer{})
	recordEvents(t, c, capt, 0)

	never := eventlog.New(time.Now())
	never.Freeze()
	log := c.Log()
	if log == nil || !log.Frozen() || !log.Equal(never) {
		t.Fatalf("expected empty frozen log, got %+v", log)
	}
	if err := c.SetReplay(); !errors.Is(err, ErrNothingToReplay) {
		t.Fatalf("expected nothing to replay, got %v", err)
	}
}

func TestNewRecordingReplacesPreviousLog(t *testing.T) {
	capt := &fakeCapture{}
	c := newTestController(t, capt, &blockingPlayer{})
	recordEvents(t, c, capt, 3)
	first := c.Log()
	recordEvents(t, c, capt, 1)
	second := c.Log()
	if first == second || first.Len() != 3 || second.Len() != 1 {
		t.Fatalf("expected a fresh log, got %d then %d events", first.Len(), second.Len())
	}
}

func TestReplayWhileRecordingDoesNotTouchLog(t *testing.T) {
	capt := &fakeCapture{}
	c := newTestController(t, capt, &blockingPlayer{})
	if err := c.SetRecord(); err != nil {
		t.Fatalf("record: %v", err)
	}
	capt.push(0, input.Event{Kind: input.KindKeyDown, Key: 1})
	capt.push(5*time.Millisecond, input.Event{Kind: input.KindKeyUp, Key: 1})

	if err := c.SetReplay(); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	if c.State() != Recording {
		t.Fatalf("expected to keep recording")
	}
	capt.push(9*time.Millisecond, input.Event{Kind: input.KindKeyDown, Key: 2})
	if err := c.SetRecord(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if got := c.Log().Len(); got != 3 {
		t.Fatalf("expected 3 events, got %d", got)
	}
}

func TestCapturePermissionDeniedStaysIdle(t *testing.T) {
	capt := &fakeCapture{startErr: fmt.Errorf("tap refused: %w", capture.ErrPermissionDenied)}
	c := newTestController(t, capt, &blockingPlayer{})
	err := c.SetRecord()
	if !errors.Is(err, ErrCapturePermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("expected idle, got %s", c.State())
	}
	if len(c.Timeline()) != 0 {
		t.Fatalf("failed start must not record a transition")
	}
}

func TestReplayCompletesToIdle(t *testing.T) {
	capt := &fakeCapture{}
	stub := inject.NewStub(nil)
	scheduler, err := playback.NewScheduler(playback.Options{Injector: stub})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	c := newTestController(t, capt, scheduler)
	recordEvents(t, c, capt, 3)

	events, cancel := c.Subscribe()
	defer cancel()
	if err := c.SetReplay(); err != nil {
		t.Fatalf("replay: %v", err)
	}
	n := waitFor(t, events, NotifyReplayFinished)
	if n.Result == nil || n.Result.Outcome != playback.Completed || n.Result.Replayed != 3 {
		t.Fatalf("unexpected result %+v", n.Result)
	}
	if c.State() != Idle {
		t.Fatalf("expected idle after completion, got %s", c.State())
	}
	if len(stub.Events()) != 3 {
		t.Fatalf("expected 3 injected events, got %d", len(stub.Events()))
	}
	if snap := c.Snapshot(); snap.LastReplay == nil || snap.LastReplay.Outcome != playback.Completed {
		t.Fatalf("expected last replay in snapshot, got %+v", snap)
	}
}

func TestStopReplayMidway(t *testing.T) {
	capt := &fakeCapture{}
	var calls atomic.Int32
	second := make(chan struct{})
	injector := inject.Func(func(input.Event) error {
		if calls.Add(1) == 2 {
			close(second)
		}
		return nil
	})
	scheduler, err := playback.NewScheduler(playback.Options{Injector: injector})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	c := newTestController(t, capt, scheduler)

	if err := c.SetRecord(); err != nil {
		t.Fatalf("record: %v", err)
	}
	offsets := []time.Duration{0, time.Millisecond, time.Hour, 2 * time.Hour, 3 * time.Hour}
	for i, offset := range offsets {
		capt.push(offset, input.Event{Kind: input.KindKeyDown, Key: input.KeyCode(i + 1)})
	}
	if err := c.SetRecord(); err != nil {
		t.Fatalf("stop recording: %v", err)
	}

	if err := c.SetReplay(); err != nil {
		t.Fatalf("replay: %v", err)
	}
	<-second
	start := time.Now()
	if err := c.StopReplay(); err != nil {
		t.Fatalf("stop replay: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("stop took too long: %s", elapsed)
	}
	if c.State() != Idle {
		t.Fatalf("expected idle after stop, got %s", c.State())
	}
	if got := calls.Load(); got != 2 {
		t.Fatalf("expected 2 injections, got %d", got)
	}
	if err := c.StopReplay(); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}

func TestFatalInjectionReportsAsynchronously(t *testing.T) {
	capt := &fakeCapture{}
	injector := inject.Func(func(input.Event) error {
		return inject.Fatal(inject.ErrPermissionDenied)
	})
	scheduler, err := playback.NewScheduler(playback.Options{Injector: injector})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	c := newTestController(t, capt, scheduler)
	recordEvents(t, c, capt, 2)

	events, cancel := c.Subscribe()
	defer cancel()
	if err := c.SetReplay(); err != nil {
		t.Fatalf("replay start must succeed: %v", err)
	}
	n := waitFor(t, events, NotifyReplayFinished)
	if !errors.Is(n.Err, ErrInjectionFailed) || n.Result.Outcome != playback.InjectionFailed {
		t.Fatalf("expected injection failure, got %+v", n)
	}
	if c.State() != Idle {
		t.Fatalf("expected idle after failure, got %s", c.State())
	}
}

func TestLoadReplacesLog(t *testing.T) {
	capt := &fakeCapture{}
	started := make(chan struct{}, 1)
	c := newTestController(t, capt, &blockingPlayer{started: started})

	loaded, err := eventlog.FromEvents(time.Now(), []input.CapturedEvent{
		{Event: input.Event{Kind: input.KindKeyDown, Key: 9}, Seq: 1},
	})
	if err != nil {
		t.Fatalf("build log: %v", err)
	}
	if err := c.Load(loaded); err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap := c.Snapshot(); snap.EventCount != 1 {
		t.Fatalf("expected loaded log, got %+v", snap)
	}

	if err := c.SetReplay(); err != nil {
		t.Fatalf("replay: %v", err)
	}
	<-started
	if err := c.Load(loaded); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
}

func TestTimelineAndNotifications(t *testing.T) {
	capt := &fakeCapture{}
	c := newTestController(t, capt, &blockingPlayer{})
	events, cancel := c.Subscribe()
	recordEvents(t, c, capt, 1)

	first := waitFor(t, events, NotifyStateChanged)
	if first.Transition.From != Idle || first.Transition.To != Recording {
		t.Fatalf("unexpected transition %+v", first.Transition)
	}
	timeline := c.Timeline()
	if len(timeline) != 2 || timeline[1].To != Idle {
		t.Fatalf("unexpected timeline %+v", timeline)
	}
	cancel()
	for range events {
	}
}

func TestConcurrentCommandsAreLinearised(t *testing.T) {
	var replaying atomic.Bool
	capt := &fakeCapture{busy: &replaying}
	c := newTestController(t, capt, &blockingPlayer{busy: &replaying})
	recordEvents(t, c, capt, 1)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				var err error
				switch (i + j) % 3 {
				case 0:
					err = c.SetRecord()
				case 1:
					err = c.SetReplay()
				default:
					err = c.StopReplay()
				}
				if err != nil && !errors.Is(err, ErrBusy) && !errors.Is(err, ErrNothingToReplay) {
					t.Errorf("unexpected error: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	switch c.State() {
	case Recording:
		if err := c.SetRecord(); err != nil {
			t.Fatalf("stop recording: %v", err)
		}
	case Replaying:
		if err := c.StopReplay(); err != nil {
			t.Fatalf("stop replay: %v", err)
		}
	}
	if c.State() != Idle {
		t.Fatalf("expected idle, got %s", c.State())
	}
	for _, tr := range c.Timeline() {
		if tr.From == tr.To {
			t.Fatalf("self transition recorded: %+v", tr)
		}
	}
}

func TestCloseStopsActivity(t *testing.T) {
	capt := &fakeCapture{}
	c := newTestController(t, capt, &blockingPlayer{})
	if err := c.SetRecord(); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.State() != Idle {
		t.Fatalf("expected idle after close")
	}
	if err := c.SetRecord(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected closed, got %v", err)
	}
}
