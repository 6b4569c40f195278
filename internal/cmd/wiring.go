package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/capture"
	"github.com/offlinefirst/inputreplay/pkg/inject"
	"github.com/offlinefirst/inputreplay/pkg/input"
	"github.com/offlinefirst/inputreplay/pkg/playback"
	"github.com/offlinefirst/inputreplay/pkg/session"
	"github.com/offlinefirst/inputreplay/pkg/store"
)

// Seams replaced by tests.
var (
	timeNow     = time.Now
	newSource   = capture.NewSource
	newInjector = inject.New
	openStore   = store.Open
)

// engine bundles the pieces every session-driving command needs.
type engine struct {
	controller *session.Controller
	capture    *capture.Capture
	injector   inject.Injector
}

// buildEngine wires capture, injection and playback from configuration.
// Key codes for hotkeys are added to the capture ignore list so the keys
// driving the session stay out of the recording.
func buildEngine(app *AppContext, hotkeys ...input.KeyCode) (*engine, error) {
	cfg := app.Config

	source, err := newSource(cfg.Capture.Backend, capture.SourceOptions{
		Devices:      cfg.Capture.Devices,
		WatchDevices: cfg.Capture.WatchDevices,
		// Our own virtual device must never be recorded.
		IgnoreDeviceNames: []string{cfg.Injector.DeviceName},
		Logger:            app.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("capture source: %w", err)
	}
	codes, err := capture.ParseKeyCodes(cfg.Capture.IgnoreKeys)
	if err != nil {
		return nil, err
	}
	codes = append(codes, hotkeys...)
	capturer, err := capture.New(capture.Options{
		Source: source,
		Filter: capture.NewKeyFilter(codes),
		Logger: app.Logger,
		Clock:  timeNow,
	})
	if err != nil {
		return nil, err
	}

	injector, err := newInjector(cfg.Injector.Backend, inject.Options{
		DeviceName: cfg.Injector.DeviceName,
		Logger:     app.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("injector: %w", err)
	}
	injector = inject.WithTimeout(injector, cfg.InjectorTimeout())

	scheduler, err := playback.NewScheduler(playback.Options{
		Injector:    injector,
		Speed:       cfg.Playback.Speed,
		MaxFailures: cfg.Playback.MaxFailures,
		Logger:      app.Logger,
	})
	if err != nil {
		injector.Close()
		return nil, err
	}

	controller, err := session.NewController(session.Options{
		Capture: capturer,
		Player:  scheduler,
		Logger:  app.Logger,
		Clock:   timeNow,
	})
	if err != nil {
		injector.Close()
		return nil, err
	}

	return &engine{controller: controller, capture: capturer, injector: injector}, nil
}

// Close stops the controller and releases the injector.
func (e *engine) Close() error {
	return errors.Join(e.controller.Close(), e.injector.Close())
}

// openLibrary opens the recording library, creating its directory on demand.
func openLibrary(app *AppContext) (*store.Store, error) {
	path := app.Config.Paths.StorePath
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("ensure store directory: %w", err)
	}
	lib, err := openStore(path)
	if err != nil {
		return nil, fmt.Errorf("open recording library: %w", err)
	}
	return lib, nil
}
