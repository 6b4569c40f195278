package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// envOverrides mirrors the tunables that may be set from the environment.
// Unset variables leave pointers nil so file values survive.
type envOverrides struct {
	DataDir   *string `env:"INPUTREPLAY_DATA_DIR"`
	StorePath *string `env:"INPUTREPLAY_STORE_PATH"`
	ExportDir *string `env:"INPUTREPLAY_EXPORT_DIR"`

	CaptureBackend *string  `env:"INPUTREPLAY_CAPTURE_BACKEND"`
	CaptureDevices []string `env:"INPUTREPLAY_CAPTURE_DEVICES" envSeparator:","`
	WatchDevices   *bool    `env:"INPUTREPLAY_CAPTURE_WATCH_DEVICES"`
	IgnoreKeys     []string `env:"INPUTREPLAY_CAPTURE_IGNORE_KEYS" envSeparator:","`

	Speed             *float64 `env:"INPUTREPLAY_PLAYBACK_SPEED"`
	InjectorTimeoutMS *int     `env:"INPUTREPLAY_PLAYBACK_INJECTOR_TIMEOUT_MS"`
	MaxFailures       *int     `env:"INPUTREPLAY_PLAYBACK_MAX_FAILURES"`

	InjectorBackend *string `env:"INPUTREPLAY_INJECTOR_BACKEND"`
	DeviceName      *string `env:"INPUTREPLAY_INJECTOR_DEVICE_NAME"`

	ServerAddr *string `env:"INPUTREPLAY_SERVER_ADDR"`

	LogLevel  *string `env:"INPUTREPLAY_LOG_LEVEL"`
	LogFormat *string `env:"INPUTREPLAY_LOG_FORMAT"`
}

// ParseEnv parses environment variables into the target struct.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// ApplyEnv overlays INPUTREPLAY_* variables onto cfg. A nil environ reads the
// process environment.
func ApplyEnv(cfg *Config, environ map[string]string) error {
	var o envOverrides
	if environ == nil {
		if err := ParseEnv(&o); err != nil {
			return err
		}
	} else if err := env.ParseWithOptions(&o, env.Options{Environment: environ}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}

	setString(&cfg.Paths.DataDir, o.DataDir)
	setString(&cfg.Paths.StorePath, o.StorePath)
	setString(&cfg.Paths.ExportDir, o.ExportDir)

	setLower(&cfg.Capture.Backend, o.CaptureBackend)
	if o.CaptureDevices != nil {
		cfg.Capture.Devices = o.CaptureDevices
	}
	if o.WatchDevices != nil {
		cfg.Capture.WatchDevices = *o.WatchDevices
	}
	if o.IgnoreKeys != nil {
		cfg.Capture.IgnoreKeys = o.IgnoreKeys
	}

	if o.Speed != nil {
		cfg.Playback.Speed = *o.Speed
	}
	if o.InjectorTimeoutMS != nil {
		cfg.Playback.InjectorTimeoutMS = *o.InjectorTimeoutMS
	}
	if o.MaxFailures != nil {
		cfg.Playback.MaxFailures = *o.MaxFailures
	}

	setLower(&cfg.Injector.Backend, o.InjectorBackend)
	setString(&cfg.Injector.DeviceName, o.DeviceName)
	setString(&cfg.Server.Addr, o.ServerAddr)
	setLower(&cfg.Logging.Level, o.LogLevel)
	setLower(&cfg.Logging.Format, o.LogFormat)
	return nil
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}

func setLower(dst *string, v *string) {
	if v != nil {
		*dst = strings.ToLower(strings.TrimSpace(*v))
	}
}
