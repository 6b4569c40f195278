package capture

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"

	"github.com/offlinefirst/inputreplay/pkg/input"
)

// Notification is one observation delivered by a Source.
type Notification struct {
	Event input.Event
	// Synthetic marks notifications the platform identified as posted by our own injector.
	Synthetic bool
	Device    string
}

// Source installs a global input hook and delivers notifications until ctx is
// cancelled. Implementations call ready exactly once after the hook is live and
// return an error without calling ready if installation fails. emit may be
// called from multiple goroutines.
type Source interface {
	Stream(ctx context.Context, ready func(), emit func(Notification)) error
}

// SourceFunc adapts a function literal to the Source interface.
type SourceFunc func(ctx context.Context, ready func(), emit func(Notification)) error

// Stream calls the underlying function.
func (f SourceFunc) Stream(ctx context.Context, ready func(), emit func(Notification)) error {
	return f(ctx, ready, emit)
}

// Backend names accepted by NewSource.
const (
	BackendAuto   = "auto"
	BackendQuartz = "quartz"
	BackendEvdev  = "evdev"
	BackendStub   = "stub"
)

// SourceOptions configures platform sources.
type SourceOptions struct {
	// Devices restricts evdev capture to explicit /dev/input/event* paths.
	Devices []string
	// WatchDevices opens evdev nodes that appear while recording.
	WatchDevices bool
	// IgnoreDeviceNames skips evdev devices by name, such as our own uinput device.
	IgnoreDeviceNames []string
	Logger            *slog.Logger
}

// NewSource resolves a backend name into a Source for this platform.
func NewSource(backend string, opts SourceOptions) (Source, error) {
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.DiscardHandler)
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendAuto:
		return platformSource(opts)
	case BackendStub:
		return Idle(), nil
	case BackendQuartz:
		if runtime.GOOS != "darwin" {
			return nil, fmt.Errorf("%w: quartz requires darwin", ErrUnsupported)
		}
		return platformSource(opts)
	case BackendEvdev:
		if runtime.GOOS != "linux" {
			return nil, fmt.Errorf("%w: evdev requires linux", ErrUnsupported)
		}
		return platformSource(opts)
	default:
		return nil, fmt.Errorf("unknown capture backend %q", backend)
	}
}

// Idle returns a source that installs nothing and emits nothing. It backs the
// stub backend so the state machine can be exercised on unsupported hosts.
func Idle() Source {
	return SourceFunc(func(ctx context.Context, ready func(), _ func(Notification)) error {
		ready()
		<-ctx.Done()
		return nil
	})
}
