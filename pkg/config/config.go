package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const DefaultFileName = "config.yaml"

// Config captures the user-adjustable knobs for recording and replay.
type Config struct {
	Paths    PathsConfig
	Capture  CaptureConfig
	Playback PlaybackConfig
	Injector InjectorConfig
	Server   ServerConfig
	Console  ConsoleConfig
	Logging  LoggingConfig

	// Source indicates where the configuration originated (defaults or a file path).
	Source string
}

// PathsConfig controls filesystem locations used by the CLI.
type PathsConfig struct {
	DataDir   string
	StorePath string
	ExportDir string
}

// CaptureConfig selects and tunes the global input hook.
type CaptureConfig struct {
	Backend      string
	Devices      []string
	WatchDevices bool
	IgnoreKeys   []string
}

// PlaybackConfig controls replay timing and failure tolerance.
type PlaybackConfig struct {
	Speed             float64
	InjectorTimeoutMS int
	MaxFailures       int
}

// InjectorConfig selects the synthetic input backend.
type InjectorConfig struct {
	Backend    string
	DeviceName string
}

// ServerConfig configures the local control surface.
type ServerConfig struct {
	Addr string
}

// ConsoleConfig binds the interactive hotkeys.
type ConsoleConfig struct {
	RecordKey string
	ReplayKey string
	StopKey   string
}

// LoggingConfig defines log verbosity and formatting.
type LoggingConfig struct {
	Level  string
	Format string
}

var (
	captureBackends  = []string{"auto", "quartz", "evdev", "stub"}
	injectorBackends = []string{"auto", "quartz", "uinput", "stub"}
)

// Default returns the baseline configuration used when no overrides are supplied.
func Default() Config {
	return Config{
		Paths: PathsConfig{
			DataDir:   "data",
			StorePath: filepath.Join("data", "library.db"),
			ExportDir: "exports",
		},
		Capture: CaptureConfig{
			Backend:      "auto",
			WatchDevices: true,
		},
		Playback: PlaybackConfig{
			Speed:             1.0,
			InjectorTimeoutMS: 250,
			MaxFailures:       0,
		},
		Injector: InjectorConfig{
			Backend:    "auto",
			DeviceName: "inputreplay virtual device",
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:7465",
		},
		Console: ConsoleConfig{
			RecordKey: "t",
			ReplayKey: "p",
			StopKey:   "s",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Source: "<defaults>",
	}
}

// Load reads configuration from disk if present, otherwise returning defaults.
// When path is empty, the loader attempts to read ./config.yaml but tolerates a
// missing file. INPUTREPLAY_* environment variables override both.
func Load(path string) (Config, error) {
	cfg := Default()
	// Derived from data_dir by normalize unless set explicitly.
	cfg.Paths.StorePath = ""

	candidate := strings.TrimSpace(path)
	explicit := candidate != ""
	if !explicit {
		candidate = DefaultFileName
	}

	file, err := os.Open(candidate)
	switch {
	case err == nil:
		defer file.Close()
		if err := decodeYAML(file, &cfg); err != nil {
			return cfg, err
		}
		cfg.Source = candidate
	case errors.Is(err, os.ErrNotExist):
		if explicit {
			return cfg, fmt.Errorf("config file %q not found", candidate)
		}
	default:
		return cfg, fmt.Errorf("open config file %q: %w", candidate, err)
	}

	if err := ApplyEnv(&cfg, nil); err != nil {
		return cfg, err
	}
	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// InjectorTimeout converts the configured bound into a duration.
func (c Config) InjectorTimeout() time.Duration {
	return time.Duration(c.Playback.InjectorTimeoutMS) * time.Millisecond
}

// Validate ensures essential configuration values are present and sensible.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must not be empty")
	}
	if strings.TrimSpace(c.Paths.StorePath) == "" {
		return errors.New("paths.store_path must not be empty")
	}
	if strings.TrimSpace(c.Paths.ExportDir) == "" {
		return errors.New("paths.export_dir must not be empty")
	}

	if _, err := NormalizeLogLevel(c.Logging.Level); err != nil {
		return err
	}
	if _, err := NormalizeFormat(c.Logging.Format); err != nil {
		return err
	}

	if !oneOf(c.Capture.Backend, captureBackends) {
		return fmt.Errorf("capture.backend must be one of %s", strings.Join(captureBackends, ", "))
	}
	for _, key := range c.Capture.IgnoreKeys {
		if _, err := strconv.ParseUint(key, 0, 16); err != nil {
			return fmt.Errorf("capture.ignore_keys: invalid key code %q", key)
		}
	}

	if c.Playback.Speed <= 0 {
		return errors.New("playback.speed must be positive")
	}
	if c.Playback.InjectorTimeoutMS <= 0 {
		return errors.New("playback.injector_timeout_ms must be positive")
	}
	if c.Playback.MaxFailures < 0 {
		return errors.New("playback.max_failures must not be negative")
	}

	if !oneOf(c.Injector.Backend, injectorBackends) {
		return fmt.Errorf("injector.backend must be one of %s", strings.Join(injectorBackends, ", "))
	}
	if strings.TrimSpace(c.Injector.DeviceName) == "" {
		return errors.New("injector.device_name must not be empty")
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		return errors.New("server.addr must not be empty")
	}

	keys := map[string]string{}
	for name, key := range map[string]string{
		"console.record_key": c.Console.RecordKey,
		"console.replay_key": c.Console.ReplayKey,
		"console.stop_key":   c.Console.StopKey,
	} {
		if len([]rune(key)) != 1 {
			return fmt.Errorf("%s must be a single character", name)
		}
		if key == "q" {
			return fmt.Errorf("%s must not be q, which quits the console", name)
		}
		if other, dup := keys[key]; dup {
			return fmt.Errorf("%s and %s share the key %q", name, other, key)
		}
		keys[key] = name
	}

	return nil
}

// decodeYAML ingests a small subset of YAML to avoid external dependencies.
type yamlFrame struct {
	indent int
	key    string
}

func decodeYAML(r io.Reader, cfg *Config) error {
	scanner := bufio.NewScanner(r)
	var stack []yamlFrame

	lineNo := 0
	for scanner.Scan() {
		raw := scanner.Text()
		lineNo++

		trimmed := strings.TrimSpace(raw)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}

		indent := countIndent(raw)
		if indent%2 != 0 {
			return fmt.Errorf("line %d: indentation must be multiples of two spaces", lineNo)
		}

		for len(stack) > 0 && indent <= stack[len(stack)-1].indent {
			stack = stack[:len(stack)-1]
		}

		key, value, hasValue := splitKeyValue(trimmed)
		if !hasValue {
			stack = append(stack, yamlFrame{indent: indent, key: key})
			continue
		}

		if err := applyValue(cfg, stack, key, value); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	return nil
}

func countIndent(line string) int {
	count := 0
	for _, r := range line {
		if r != ' ' {
			break
		}
		count++
	}
	return count
}

func splitKeyValue(line string) (string, string, bool) {
	parts := strings.SplitN(line, ":", 2)
	key := strings.TrimSpace(parts[0])
	if len(parts) < 2 {
		return key, "", false
	}
	value := strings.TrimSpace(parts[1])
	if value == "" {
		return key, "", false
	}
	return key, value, true
}

func applyValue(cfg *Config, stack []yamlFrame, key, rawValue string) error {
	value := sanitizeValue(rawValue)
	segments := make([]string, 0, len(stack)+1)
	for _, fr := range stack {
		segments = append(segments, fr.key)
	}
	segments = append(segments, key)
	path := strings.Join(segments, ".")

	switch path {
	case "paths.data_dir":
		cfg.Paths.DataDir = value
	case "paths.store_path":
		cfg.Paths.StorePath = value
	case "paths.export_dir":
		cfg.Paths.ExportDir = value
	case "capture.backend":
		cfg.Capture.Backend = strings.ToLower(value)
	case "capture.devices":
		cfg.Capture.Devices = parseList(value)
	case "capture.watch_devices":
		b, err := parseBool(value)
		if err != nil {
			return fmt.Errorf("capture.watch_devices: %w", err)
		}
		cfg.Capture.WatchDevices = b
	case "capture.ignore_keys":
		cfg.Capture.IgnoreKeys = parseList(value)
	case "playback.speed":
		speed, err := parseFloat(value)
		if err != nil {
			return fmt.Errorf("playback.speed: %w", err)
		}
		cfg.Playback.Speed = speed
	case "playback.injector_timeout_ms":
		ms, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("playback.injector_timeout_ms: %w", err)
		}
		cfg.Playback.InjectorTimeoutMS = ms
	case "playback.max_failures":
		limit, err := parseInt(value)
		if err != nil {
			return fmt.Errorf("playback.max_failures: %w", err)
		}
		cfg.Playback.MaxFailures = limit
	case "injector.backend":
		cfg.Injector.Backend = strings.ToLower(value)
	case "injector.device_name":
		cfg.Injector.DeviceName = value
	case "server.addr":
		cfg.Server.Addr = value
	case "console.record_key":
		cfg.Console.RecordKey = strings.ToLower(value)
	case "console.replay_key":
		cfg.Console.ReplayKey = strings.ToLower(value)
	case "console.stop_key":
		cfg.Console.StopKey = strings.ToLower(value)
	case "logging.level":
		cfg.Logging.Level = strings.ToLower(value)
	case "logging.format":
		cfg.Logging.Format = strings.ToLower(value)
	default:
		return fmt.Errorf("unknown key %q", path)
	}

	return nil
}

func sanitizeValue(raw string) string {
	value := raw
	if idx := strings.Index(value, " #"); idx >= 0 {
		value = value[:idx]
	}
	if idx := strings.Index(value, "\t#"); idx >= 0 {
		value = value[:idx]
	}
	value = strings.TrimSpace(value)
	value = strings.Trim(value, "'\"")
	return value
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "yes", "on":
		return true, nil
	case "false", "no", "off":
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q", value)
	}
}

func parseInt(value string) (int, error) {
	var i int
	_, err := fmt.Sscanf(value, "%d", &i)
	if err != nil {
		return 0, fmt.Errorf("invalid integer value %q", value)
	}
	return i, nil
}

func parseFloat(value string) (float64, error) {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", value)
	}
	return f, nil
}

func parseList(value string) []string {
	value = strings.TrimSpace(strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(value), "["), "]"))
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.Trim(strings.TrimSpace(part), "'\"")
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func oneOf(value string, allowed []string) bool {
	for _, candidate := range allowed {
		if value == candidate {
			return true
		}
	}
	return false
}

func (c *Config) normalize() {
	defaults := Default()

	c.Paths.DataDir = filepath.Clean(strings.TrimSpace(c.Paths.DataDir))
	if c.Paths.DataDir == "." || c.Paths.DataDir == "" {
		c.Paths.DataDir = defaults.Paths.DataDir
	}
	if strings.TrimSpace(c.Paths.StorePath) == "" {
		c.Paths.StorePath = filepath.Join(c.Paths.DataDir, "library.db")
	}
	c.Paths.StorePath = filepath.Clean(strings.TrimSpace(c.Paths.StorePath))
	c.Paths.ExportDir = filepath.Clean(strings.TrimSpace(c.Paths.ExportDir))
	if c.Paths.ExportDir == "." || c.Paths.ExportDir == "" {
		c.Paths.ExportDir = defaults.Paths.ExportDir
	}

	if strings.TrimSpace(c.Capture.Backend) == "" {
		c.Capture.Backend = defaults.Capture.Backend
	}
	if strings.TrimSpace(c.Injector.Backend) == "" {
		c.Injector.Backend = defaults.Injector.Backend
	}
	if strings.TrimSpace(c.Injector.DeviceName) == "" {
		c.Injector.DeviceName = defaults.Injector.DeviceName
	}
	if c.Playback.InjectorTimeoutMS == 0 {
		c.Playback.InjectorTimeoutMS = defaults.Playback.InjectorTimeoutMS
	}
	if strings.TrimSpace(c.Server.Addr) == "" {
		c.Server.Addr = defaults.Server.Addr
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = defaults.Logging.Level
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = defaults.Logging.Format
	}
}

// NormalizeLogLevel validates and lowercases known logging levels.
func NormalizeLogLevel(level string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return "info", nil
	case "debug":
		return "debug", nil
	case "warn", "warning":
		return "warn", nil
	case "error":
		return "error", nil
	default:
		return "", fmt.Errorf("unsupported log level %q", level)
	}
}

// NormalizeFormat validates and canonicalizes logging format identifiers.
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return "json", nil
	case "console", "text":
		return "console", nil
	default:
		return "", fmt.Errorf("unsupported log format %q", format)
	}
}
