//go:build linux

package inject

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/offlinefirst/inputreplay/internal/evdev"
	"github.com/offlinefirst/inputreplay/pkg/input"
)

const (
	uinputPath = "/dev/uinput"
	// Highest ordinary keyboard code registered on the virtual device.
	maxKeyboardCode = 0xff
	virtualVendor   = 0x1e9a
	virtualProduct  = 0x0001
)

var openUinput = func() (*os.File, error) {
	return os.OpenFile(uinputPath, os.O_WRONLY|unix.O_NONBLOCK, 0)
}

func platformInjector(opts Options) (Injector, error) {
	return newUinput(opts.DeviceName, opts.Logger)
}

// uinputInjector writes events into a virtual keyboard and mouse. Absolute
// pointer moves have no meaning on a relative device and are reported as
// ErrUnsupported.
type uinputInjector struct {
	logger *slog.Logger

	mu     sync.Mutex
	file   *os.File
	closed bool
}

func newUinput(name string, logger *slog.Logger) (*uinputInjector, error) {
	f, err := openUinput()
	if err != nil {
		if errors.Is(err, fs.ErrPermission) {
			return nil, Fatal(fmt.Errorf("%w: open %s: %v", ErrPermissionDenied, uinputPath, err))
		}
		return nil, fmt.Errorf("open %s: %w", uinputPath, err)
	}
	if err := setupUinput(f, name); err != nil {
		_ = f.Close()
		return nil, err
	}
	logger.Debug("uinput device created", "name", name)
	return &uinputInjector{logger: logger, file: f}, nil
}

func setupUinput(f *os.File, name string) error {
	for _, typ := range []uint16{evdev.EvSyn, evdev.EvKey, evdev.EvRel} {
		if err := evdev.Ioctl(f, evdev.UISetEvBit, uintptr(typ)); err != nil {
			return fmt.Errorf("enable event type %#x: %w", typ, err)
		}
	}
	for code := uintptr(1); code <= maxKeyboardCode; code++ {
		if err := evdev.Ioctl(f, evdev.UISetKeyBit, code); err != nil {
			return fmt.Errorf("enable key %#x: %w", code, err)
		}
	}
	for code := evdev.BtnLeft; code <= evdev.BtnExtra; code++ {
		if err := evdev.Ioctl(f, evdev.UISetKeyBit, uintptr(code)); err != nil {
			return fmt.Errorf("enable button %#x: %w", code, err)
		}
	}
	for _, code := range []uint16{evdev.RelX, evdev.RelY, evdev.RelWheel, evdev.RelHWheel} {
		if err := evdev.Ioctl(f, evdev.UISetRelBit, uintptr(code)); err != nil {
			return fmt.Errorf("enable axis %#x: %w", code, err)
		}
	}

	setup := evdev.UinputSetup{
		ID: evdev.InputID{Bustype: evdev.BusVirtual, Vendor: virtualVendor, Product: virtualProduct, Version: 1},
	}
	copy(setup.Name[:evdev.MaxNameSize-1], name)
	if err := evdev.Ioctl(f, evdev.UIDevSetup, uintptr(unsafe.Pointer(&setup))); err != nil {
		return fmt.Errorf("uinput setup: %w", err)
	}
	if err := evdev.Ioctl(f, evdev.UIDevCreate, 0); err != nil {
		return fmt.Errorf("uinput create: %w", err)
	}
	return nil
}

func (u *uinputInjector) Inject(ev input.Event) error {
	raws, err := encodeUinput(ev)
	if err != nil || len(raws) == 0 {
		return err
	}
	buf, err := evdev.Encode(raws...)
	if err != nil {
		return err
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return Fatal(ErrClosed)
	}
	if _, err := u.file.Write(buf); err != nil {
		if errors.Is(err, fs.ErrPermission) || errors.Is(err, unix.ENODEV) || errors.Is(err, os.ErrClosed) {
			return Fatal(fmt.Errorf("write uinput: %w", err))
		}
		return fmt.Errorf("write uinput: %w", err)
	}
	return nil
}

func (u *uinputInjector) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true
	if err := evdev.Ioctl(u.file, evdev.UIDevDestroy, 0); err != nil {
		u.logger.Warn("uinput destroy failed", "error", err)
	}
	return u.file.Close()
}

// encodeUinput maps an event onto one kernel frame terminated by SYN_REPORT.
func encodeUinput(ev input.Event) ([]evdev.RawEvent, error) {
	var out []evdev.RawEvent
	switch ev.Kind {
	case input.KindPointerMove:
		if !ev.Relative {
			return nil, unsupported("absolute pointer move on a relative device")
		}
		if ev.X != 0 {
			out = append(out, evdev.RawEvent{Type: evdev.EvRel, Code: evdev.RelX, Value: int32(ev.X)})
		}
		if ev.Y != 0 {
			out = append(out, evdev.RawEvent{Type: evdev.EvRel, Code: evdev.RelY, Value: int32(ev.Y)})
		}
		if len(out) == 0 {
			return nil, nil
		}
	case input.KindPointerDown, input.KindPointerUp:
		code, ok := buttonCode(ev.Button)
		if !ok {
			return nil, unsupported("button %s", ev.Button)
		}
		value := evdev.ValueRelease
		if ev.Kind == input.KindPointerDown {
			value = evdev.ValuePress
		}
		out = append(out, evdev.RawEvent{Type: evdev.EvKey, Code: code, Value: value})
	case input.KindKeyDown, input.KindKeyUp:
		if ev.Key == 0 || ev.Key > maxKeyboardCode {
			return nil, unsupported("key code %d", ev.Key)
		}
		value := evdev.ValueRelease
		if ev.Kind == input.KindKeyDown {
			value = evdev.ValuePress
		}
		out = append(out, evdev.RawEvent{Type: evdev.EvKey, Code: uint16(ev.Key), Value: value})
	case input.KindScroll:
		if ev.DY != 0 {
			out = append(out, evdev.RawEvent{Type: evdev.EvRel, Code: evdev.RelWheel, Value: int32(ev.DY)})
		}
		if ev.DX != 0 {
			out = append(out, evdev.RawEvent{Type: evdev.EvRel, Code: evdev.RelHWheel, Value: int32(ev.DX)})
		}
		if len(out) == 0 {
			return nil, nil
		}
	default:
		return nil, unsupported("event kind %s", ev.Kind)
	}
	return append(out, evdev.RawEvent{Type: evdev.EvSyn, Code: evdev.SynReport}), nil
}

func buttonCode(button input.Button) (uint16, bool) {
	switch button {
	case input.ButtonLeft:
		return evdev.BtnLeft, true
	case input.ButtonRight:
		return evdev.BtnRight, true
	case input.ButtonMiddle:
		return evdev.BtnMiddle, true
	case input.ButtonBack:
		return evdev.BtnSide, true
	case input.ButtonForward:
		return evdev.BtnExtra, true
	default:
		return 0, false
	}
}
