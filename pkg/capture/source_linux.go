//go:build linux

package capture

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/offlinefirst/inputreplay/internal/evdev"
	"github.com/offlinefirst/inputreplay/pkg/input"
)

const (
	inputDir          = "/dev/input"
	hotplugRetries    = 10
	hotplugRetryDelay = 50 * time.Millisecond
)

var globEventNodes = func() ([]string, error) {
	return filepath.Glob(filepath.Join(inputDir, "event*"))
}

func platformSource(opts SourceOptions) (Source, error) {
	return &evdevSource{
		devices: append([]string(nil), opts.Devices...),
		watch:   opts.WatchDevices && len(opts.Devices) == 0,
		ignore:  opts.IgnoreDeviceNames,
		logger:  opts.Logger,
	}, nil
}

// evdevSource reads every readable /dev/input/event* node. Relative mouse
// motion is reported as relative pointer moves.
type evdevSource struct {
	devices []string
	watch   bool
	ignore  []string
	logger  *slog.Logger
}

type evdevStream struct {
	source *evdevSource
	emit   func(Notification)

	mu     sync.Mutex
	files  map[string]*os.File
	closed bool
	wg     sync.WaitGroup
}

func (s *evdevSource) Stream(ctx context.Context, ready func(), emit func(Notification)) error {
	paths := s.devices
	if len(paths) == 0 {
		found, err := globEventNodes()
		if err != nil {
			return err
		}
		paths = found
	}

	stream := &evdevStream{source: s, emit: emit, files: make(map[string]*os.File)}

	var watcher *fsnotify.Watcher
	if s.watch {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			s.logger.Warn("device hotplug watch unavailable", "error", err)
		} else if err := w.Add(inputDir); err != nil {
			s.logger.Warn("device hotplug watch unavailable", "error", err)
			_ = w.Close()
		} else {
			watcher = w
		}
	}

	opened, denied := 0, 0
	for _, path := range paths {
		err := stream.open(ctx, path)
		switch {
		case err == nil:
			opened++
		case errors.Is(err, fs.ErrPermission):
			denied++
		case errors.Is(err, errIgnoredDevice):
		default:
			s.logger.Debug("skipping input device", "path", path, "error", err)
		}
	}

	if opened == 0 {
		stream.close()
		if watcher != nil {
			_ = watcher.Close()
		}
		if denied > 0 {
			return newPermissionError("input devices under /dev/input are not readable; add the user to the 'input' group")
		}
		return errors.New("no input devices found under /dev/input")
	}

	s.logger.Debug("evdev capture installed", "devices", opened)
	ready()

	if watcher != nil {
		stream.wg.Add(1)
		go func() {
			defer stream.wg.Done()
			stream.watchHotplug(ctx, watcher)
		}()
	}

	<-ctx.Done()
	if watcher != nil {
		_ = watcher.Close()
	}
	stream.close()
	stream.wg.Wait()
	return nil
}

var errIgnoredDevice = errors.New("device ignored")

func (st *evdevStream) open(ctx context.Context, path string) error {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	name, err := evdev.DeviceName(f)
	if err != nil {
		name = filepath.Base(path)
	}
	for _, ignored := range st.source.ignore {
		if strings.EqualFold(strings.TrimSpace(ignored), name) {
			_ = f.Close()
			return errIgnoredDevice
		}
	}

	st.mu.Lock()
	if st.closed {
		st.mu.Unlock()
		_ = f.Close()
		return context.Canceled
	}
	if _, exists := st.files[path]; exists {
		st.mu.Unlock()
		_ = f.Close()
		return nil
	}
	st.files[path] = f
	st.wg.Add(1)
	st.mu.Unlock()

	go func() {
		defer st.wg.Done()
		st.read(ctx, path, name, f)
	}()
	return nil
}

func (st *evdevStream) read(ctx context.Context, path, name string, f *os.File) {
	var decoder evdevDecoder
	buf := make([]byte, evdev.EventSize*64)
	for {
		n, err := f.Read(buf)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, os.ErrClosed) {
				st.source.logger.Warn("input device read failed", "device", name, "error", err)
			}
			st.forget(path)
			return
		}
		raws, err := evdev.Decode(buf[:n])
		if err != nil {
			st.source.logger.Warn("input device decode failed", "device", name, "error", err)
			continue
		}
		for _, raw := range raws {
			for _, ev := range decoder.feed(raw.Type, raw.Code, raw.Value) {
				st.emit(Notification{Event: ev, Device: name})
			}
		}
	}
}

func (st *evdevStream) watchHotplug(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Create) || !strings.HasPrefix(filepath.Base(event.Name), "event") {
				continue
			}
			// udev applies group permissions shortly after the node appears.
			for attempt := 0; attempt < hotplugRetries; attempt++ {
				err := st.open(ctx, event.Name)
				if err == nil {
					st.source.logger.Info("input device attached", "path", event.Name)
					break
				}
				if !errors.Is(err, fs.ErrPermission) {
					break
				}
				if sleepContext(ctx, hotplugRetryDelay) != nil {
					return
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			st.source.logger.Warn("device hotplug watch error", "error", err)
		}
	}
}

func (st *evdevStream) forget(path string) {
	st.mu.Lock()
	f := st.files[path]
	delete(st.files, path)
	st.mu.Unlock()
	if f != nil {
		_ = f.Close()
	}
}

func (st *evdevStream) close() {
	st.mu.Lock()
	st.closed = true
	files := st.files
	st.files = make(map[string]*os.File)
	st.mu.Unlock()
	for _, f := range files {
		_ = f.Close()
	}
}

// evdevDecoder folds kernel event frames into input events. Everything in a
// frame is held until SYN_REPORT closes it; the flush emits motion first, then
// buttons and keys in arrival order, then wheel deltas.
type evdevDecoder struct {
	relX, relY     int
	wheelX, wheelY int
	absX, absY     int
	absDirty       bool
	pending        []input.Event
}

func (d *evdevDecoder) feed(typ, code uint16, value int32) []input.Event {
	switch typ {
	case evdev.EvKey:
		if value == evdev.ValueRepeat {
			return nil
		}
		kind := input.KindKeyUp
		if value == evdev.ValuePress {
			kind = input.KindKeyDown
		}
		if code >= evdev.BtnMisc && code <= evdev.BtnLast {
			button := buttonFromCode(code)
			if button == input.ButtonNone {
				return nil
			}
			pointerKind := input.KindPointerUp
			if kind == input.KindKeyDown {
				pointerKind = input.KindPointerDown
			}
			d.pending = append(d.pending, input.Event{Kind: pointerKind, Button: button, Relative: true})
			return nil
		}
		d.pending = append(d.pending, input.Event{Kind: kind, Key: input.KeyCode(code)})
		return nil
	case evdev.EvRel:
		switch code {
		case evdev.RelX:
			d.relX += int(value)
		case evdev.RelY:
			d.relY += int(value)
		case evdev.RelWheel:
			d.wheelY += int(value)
		case evdev.RelHWheel:
			d.wheelX += int(value)
		}
		return nil
	case evdev.EvAbs:
		switch code {
		case evdev.AbsX:
			d.absX = int(value)
			d.absDirty = true
		case evdev.AbsY:
			d.absY = int(value)
			d.absDirty = true
		}
		return nil
	case evdev.EvSyn:
		if code != evdev.SynReport {
			return nil
		}
		return d.flush()
	default:
		return nil
	}
}

func (d *evdevDecoder) flush() []input.Event {
	var out []input.Event
	if d.relX != 0 || d.relY != 0 {
		out = append(out, input.Event{Kind: input.KindPointerMove, X: d.relX, Y: d.relY, Relative: true})
	}
	if d.absDirty {
		out = append(out, input.Event{Kind: input.KindPointerMove, X: d.absX, Y: d.absY})
	}
	out = append(out, d.pending...)
	if d.wheelX != 0 || d.wheelY != 0 {
		out = append(out, input.Event{Kind: input.KindScroll, DX: d.wheelX, DY: d.wheelY})
	}
	d.relX, d.relY, d.wheelX, d.wheelY = 0, 0, 0, 0
	d.absDirty = false
	d.pending = d.pending[:0]
	return out
}

func buttonFromCode(code uint16) input.Button {
	switch code {
	case evdev.BtnLeft:
		return input.ButtonLeft
	case evdev.BtnRight:
		return input.ButtonRight
	case evdev.BtnMiddle:
		return input.ButtonMiddle
	case evdev.BtnSide:
		return input.ButtonBack
	case evdev.BtnExtra:
		return input.ButtonForward
	default:
		return input.ButtonNone
	}
}
