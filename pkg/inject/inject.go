package inject

import (
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/input"
)

// Injector turns one event into OS-level synthetic input. Inject is
// synchronous and must not be called concurrently.
type Injector interface {
	Inject(ev input.Event) error
	Close() error
}

// Func adapts a function literal to the Injector interface. Close is a no-op.
type Func func(ev input.Event) error

// Inject calls the underlying function.
func (f Func) Inject(ev input.Event) error {
	return f(ev)
}

// Close implements Injector.
func (f Func) Close() error {
	return nil
}

// Backend names accepted by New.
const (
	BackendAuto   = "auto"
	BackendQuartz = "quartz"
	BackendUinput = "uinput"
	BackendStub   = "stub"
)

// DefaultDeviceName names the Linux virtual device. Capture ignores devices
// with this name.
const DefaultDeviceName = "inputreplay virtual device"

// Options configures platform injectors.
type Options struct {
	// DeviceName names the uinput device on Linux.
	DeviceName string
	Logger     *slog.Logger
}

// New resolves a backend name into an Injector for this platform.
func New(backend string, opts Options) (Injector, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	if strings.TrimSpace(opts.DeviceName) == "" {
		opts.DeviceName = DefaultDeviceName
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendAuto:
		return platformInjector(opts)
	case BackendStub:
		return NewStub(opts.Logger), nil
	case BackendQuartz:
		if runtime.GOOS != "darwin" {
			return nil, fmt.Errorf("%w: quartz requires darwin", ErrUnsupported)
		}
		return platformInjector(opts)
	case BackendUinput:
		if runtime.GOOS != "linux" {
			return nil, fmt.Errorf("%w: uinput requires linux", ErrUnsupported)
		}
		return platformInjector(opts)
	default:
		return nil, fmt.Errorf("unknown injector backend %q", backend)
	}
}

// Stub logs events instead of synthesising them and keeps a copy of each.
type Stub struct {
	logger *slog.Logger

	mu     sync.Mutex
	events []input.Event
	closed bool
}

// NewStub returns an injector that only records what it was asked to do.
func NewStub(logger *slog.Logger) *Stub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Stub{logger: logger}
}

// Inject implements Injector.
func (s *Stub) Inject(ev input.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Fatal(ErrClosed)
	}
	s.events = append(s.events, ev)
	s.logger.Debug("stub inject", "event", ev.String())
	return nil
}

// Events returns a copy of every injected event.
func (s *Stub) Events() []input.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]input.Event(nil), s.events...)
}

// Close implements Injector.
func (s *Stub) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

type timeoutInjector struct {
	inner   Injector
	timeout time.Duration
}

// WithTimeout bounds every Inject call on inj. A call that does not return
// within timeout yields an error wrapping both ErrTimeout and ErrFatal; the
// hung call is abandoned, not retried. A non-positive timeout returns inj.
func WithTimeout(inj Injector, timeout time.Duration) Injector {
	if timeout <= 0 {
		return inj
	}
	return &timeoutInjector{inner: inj, timeout: timeout}
}

func (t *timeoutInjector) Inject(ev input.Event) error {
	result := make(chan error, 1)
	go func() {
		result <- t.inner.Inject(ev)
	}()

	timer := time.NewTimer(t.timeout)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
		return fmt.Errorf("inject %s: %w after %s: %w", ev.Kind, ErrTimeout, t.timeout, ErrFatal)
	}
}

func (t *timeoutInjector) Close() error {
	return t.inner.Close()
}
