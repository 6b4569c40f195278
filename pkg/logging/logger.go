package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/offlinefirst/inputreplay/pkg/config"
)

// Options describe how to configure a logger instance.
type Options struct {
	Level  string
	Format string
	Output io.Writer
	// LevelVar, when set, receives the parsed level and stays attached to the
	// handler so SetLevel can change verbosity at runtime.
	LevelVar *slog.LevelVar
}

// New creates a structured logger backed by Go's slog package.
func New(opts Options) (*slog.Logger, error) {
	lvl := opts.LevelVar
	if lvl == nil {
		lvl = new(slog.LevelVar)
	}
	if err := SetLevel(lvl, opts.Level); err != nil {
		return nil, err
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	handlerOpts := slog.HandlerOptions{
		Level:       lvl,
		ReplaceAttr: replaceTimeAttr,
	}

	format := strings.ToLower(strings.TrimSpace(opts.Format))
	var handler slog.Handler
	switch format {
	case "", "json":
		handler = slog.NewJSONHandler(out, &handlerOpts)
	case "console", "text":
		handler = slog.NewTextHandler(out, &handlerOpts)
	default:
		return nil, fmt.Errorf("unsupported log format %q", opts.Format)
	}

	return slog.New(handler), nil
}

// SetLevel parses a configured level name into v.
func SetLevel(v *slog.LevelVar, level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	v.Set(lvl)
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	normalized, err := config.NormalizeLogLevel(level)
	if err != nil {
		return 0, err
	}

	switch normalized {
	case "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unhandled log level %q", normalized)
	}
}

func replaceTimeAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key == slog.TimeKey && attr.Value.Kind() == slog.KindTime {
		attr.Value = slog.StringValue(attr.Value.Time().UTC().Format(time.RFC3339))
	}
	return attr
}
