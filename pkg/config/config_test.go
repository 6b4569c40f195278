package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	cwd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	defer os.Chdir(cwd)

	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir temp dir: %v", err)
	}

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Source != "<defaults>" {
		t.Fatalf("expected default source marker, got %q", cfg.Source)
	}
	if cfg.Paths.StorePath != filepath.Join("data", "library.db") {
		t.Fatalf("unexpected default store path: %q", cfg.Paths.StorePath)
	}
	if cfg.Playback.Speed != 1.0 {
		t.Fatalf("unexpected default speed: %v", cfg.Playback.Speed)
	}
	if cfg.InjectorTimeout() != 250*time.Millisecond {
		t.Fatalf("unexpected injector timeout: %s", cfg.InjectorTimeout())
	}
	if cfg.Capture.Backend != "auto" || cfg.Injector.Backend != "auto" {
		t.Fatalf("unexpected default backends: %q / %q", cfg.Capture.Backend, cfg.Injector.Backend)
	}
	if !cfg.Capture.WatchDevices {
		t.Fatalf("expected device watching enabled by default")
	}
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")
	content := strings.Join([]string{
		"# recorder settings",
		"paths:",
		"  data_dir: state",
		"  export_dir: out",
		"capture:",
		"  backend: STUB",
		"  devices: [/dev/input/event3, /dev/input/event7]",
		"  watch_devices: no",
		"  ignore_keys: 0x19, 20",
		"playback:",
		"  speed: 2.5",
		"  injector_timeout_ms: 100 # tight",
		"  max_failures: 3",
		"injector:",
		"  backend: stub",
		"  device_name: \"test pad\"",
		"server:",
		"  addr: 127.0.0.1:9000",
		"console:",
		"  record_key: R",
		"logging:",
		"  level: DEBUG",
		"  format: console",
		"",
	}, "\n")

	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Paths.DataDir != "state" {
		t.Fatalf("unexpected data dir: %q", cfg.Paths.DataDir)
	}
	if cfg.Paths.StorePath != filepath.Join("state", "library.db") {
		t.Fatalf("store path should follow data dir, got %q", cfg.Paths.StorePath)
	}
	if cfg.Paths.ExportDir != "out" {
		t.Fatalf("unexpected export dir: %q", cfg.Paths.ExportDir)
	}
	if cfg.Capture.Backend != "stub" {
		t.Fatalf("unexpected capture backend: %q", cfg.Capture.Backend)
	}
	if len(cfg.Capture.Devices) != 2 || cfg.Capture.Devices[1] != "/dev/input/event7" {
		t.Fatalf("unexpected devices: %v", cfg.Capture.Devices)
	}
	if cfg.Capture.WatchDevices {
		t.Fatalf("expected device watching disabled")
	}
	if len(cfg.Capture.IgnoreKeys) != 2 || cfg.Capture.IgnoreKeys[0] != "0x19" {
		t.Fatalf("unexpected ignore keys: %v", cfg.Capture.IgnoreKeys)
	}
	if cfg.Playback.Speed != 2.5 {
		t.Fatalf("unexpected speed: %v", cfg.Playback.Speed)
	}
	if cfg.Playback.InjectorTimeoutMS != 100 {
		t.Fatalf("unexpected injector timeout: %d", cfg.Playback.InjectorTimeoutMS)
	}
	if cfg.Playback.MaxFailures != 3 {
		t.Fatalf("unexpected max failures: %d", cfg.Playback.MaxFailures)
	}
	if cfg.Injector.DeviceName != "test pad" {
		t.Fatalf("unexpected device name: %q", cfg.Injector.DeviceName)
	}
	if cfg.Server.Addr != "127.0.0.1:9000" {
		t.Fatalf("unexpected server addr: %q", cfg.Server.Addr)
	}
	if cfg.Console.RecordKey != "r" || cfg.Console.StopKey != "s" {
		t.Fatalf("unexpected console keys: %+v", cfg.Console)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "console" {
		t.Fatalf("unexpected logging config: %+v", cfg.Logging)
	}
	if cfg.Source != cfgPath {
		t.Fatalf("expected source %q, got %q", cfgPath, cfg.Source)
	}
}

func TestLoadExplicitMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config")
	}
}

func TestLoadRejectsUnknownKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("playback:\n  tempo: 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "playback.tempo") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadRejectsOddIndentation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("playback:\n   speed: 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected indentation error")
	}
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"zero speed":        func(c *Config) { c.Playback.Speed = 0 },
		"negative failures": func(c *Config) { c.Playback.MaxFailures = -1 },
		"capture backend":   func(c *Config) { c.Capture.Backend = "x11" },
		"injector backend":  func(c *Config) { c.Injector.Backend = "evdev" },
		"ignore key":        func(c *Config) { c.Capture.IgnoreKeys = []string{"space"} },
		"shared hotkey":     func(c *Config) { c.Console.ReplayKey = c.Console.RecordKey },
		"long hotkey":       func(c *Config) { c.Console.StopKey = "stop" },
		"log level":         func(c *Config) { c.Logging.Level = "trace" },
		"empty addr":        func(c *Config) { c.Server.Addr = "" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestApplyEnvOverridesFileValues(t *testing.T) {
	cfg := Default()
	cfg.Playback.Speed = 3

	environ := map[string]string{
		"INPUTREPLAY_PLAYBACK_SPEED":        "0.5",
		"INPUTREPLAY_CAPTURE_DEVICES":       "/dev/input/event1,/dev/input/event2",
		"INPUTREPLAY_CAPTURE_WATCH_DEVICES": "false",
		"INPUTREPLAY_LOG_LEVEL":             " WARN ",
		"INPUTREPLAY_SERVER_ADDR":           "0.0.0.0:1",
	}
	if err := ApplyEnv(&cfg, environ); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if cfg.Playback.Speed != 0.5 {
		t.Fatalf("unexpected speed: %v", cfg.Playback.Speed)
	}
	if len(cfg.Capture.Devices) != 2 {
		t.Fatalf("unexpected devices: %v", cfg.Capture.Devices)
	}
	if cfg.Capture.WatchDevices {
		t.Fatalf("expected watch devices disabled")
	}
	if cfg.Logging.Level != "warn" {
		t.Fatalf("unexpected level: %q", cfg.Logging.Level)
	}
	if cfg.Server.Addr != "0.0.0.0:1" {
		t.Fatalf("unexpected addr: %q", cfg.Server.Addr)
	}
	if cfg.Injector.DeviceName != Default().Injector.DeviceName {
		t.Fatalf("unset variables must not clear values, got %q", cfg.Injector.DeviceName)
	}
}

func TestApplyEnvRejectsMalformedValue(t *testing.T) {
	cfg := Default()
	if err := ApplyEnv(&cfg, map[string]string{"INPUTREPLAY_PLAYBACK_MAX_FAILURES": "many"}); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestLoadAppliesProcessEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("INPUTREPLAY_LOG_LEVEL", "error")
	t.Setenv("INPUTREPLAY_STORE_PATH", filepath.Join("elsewhere", "lib.db"))

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "error" {
		t.Fatalf("expected env level, got %q", cfg.Logging.Level)
	}
	if cfg.Paths.StorePath != filepath.Join("elsewhere", "lib.db") {
		t.Fatalf("expected env store path, got %q", cfg.Paths.StorePath)
	}
}

func TestNormalizeLogLevelAndFormat(t *testing.T) {
	if level, err := NormalizeLogLevel("Warning"); err != nil || level != "warn" {
		t.Fatalf("unexpected level normalisation: %q %v", level, err)
	}
	if format, err := NormalizeFormat("text"); err != nil || format != "console" {
		t.Fatalf("unexpected format normalisation: %q %v", format, err)
	}
	if _, err := NormalizeFormat("xml"); err == nil {
		t.Fatalf("expected format error")
	}
}

func TestWatchReloadsOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("logging:\n  level: info\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan Config, 8)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, func(cfg Config) { changes <- cfg }, nil)
	}()

	deadline := time.After(5 * time.Second)
	ticker := time.NewTicker(300 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case cfg := <-changes:
			if cfg.Logging.Level != "debug" {
				t.Fatalf("unexpected reloaded level: %q", cfg.Logging.Level)
			}
			cancel()
			if err := <-done; err != nil {
				t.Fatalf("Watch returned error: %v", err)
			}
			return
		case <-ticker.C:
			// Rewrite until the watcher is registered and observes the change.
			if err := os.WriteFile(path, []byte("logging:\n  level: debug\n"), 0o644); err != nil {
				t.Fatalf("rewrite config: %v", err)
			}
		case <-deadline:
			t.Fatalf("config change was not observed")
		}
	}
}
