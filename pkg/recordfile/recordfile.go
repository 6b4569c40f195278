// Package recordfile reads and writes recordings as JSON Lines: one header
// line followed by one line per event in log order.
package recordfile

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/offlinefirst/inputreplay/pkg/eventlog"
	"github.com/offlinefirst/inputreplay/pkg/input"
)

const (
	// Format is the header marker identifying a recording file.
	Format = "inputreplay"
	// SchemaVersion captures the file version for compatibility checks.
	SchemaVersion = 1

	maxLineSize = 1 << 20
)

// ErrInvalidHeader reports a first line that is not a recording header.
var ErrInvalidHeader = errors.New("invalid recording header")

// Header is the first line of a recording file.
type Header struct {
	Format     string    `json:"format"`
	Version    int       `json:"version"`
	ID         string    `json:"id"`
	Name       string    `json:"name,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	EventCount int       `json:"event_count"`
	DurationNS int64     `json:"duration_ns"`
}

type eventLine struct {
	Seq      uint64     `json:"seq"`
	OffsetNS int64      `json:"offset_ns"`
	Kind     input.Kind `json:"kind"`
	X        int        `json:"x,omitempty"`
	Y        int        `json:"y,omitempty"`
	Relative bool       `json:"relative,omitempty"`
	Button   string     `json:"button,omitempty"`
	Key      uint16     `json:"key,omitempty"`
	DX       int        `json:"dx,omitempty"`
	DY       int        `json:"dy,omitempty"`
}

// NewHeader describes log for export. An empty id gets a fresh UUID.
func NewHeader(id, name string, log *eventlog.Log) Header {
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}
	return Header{
		Format:     Format,
		Version:    SchemaVersion,
		ID:         id,
		Name:       strings.TrimSpace(name),
		CreatedAt:  log.CreatedAt().UTC(),
		EventCount: log.Len(),
		DurationNS: int64(log.Duration()),
	}
}

// Write streams header and events to w.
func Write(w io.Writer, header Header, log *eventlog.Log) error {
	if log == nil {
		return errors.New("event log must be provided")
	}
	header.Format = Format
	header.Version = SchemaVersion

	encoder := json.NewEncoder(w)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(header); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	for i, ev := range log.Iter() {
		line := eventLine{
			Seq:      ev.Seq,
			OffsetNS: int64(ev.Offset),
			Kind:     ev.Kind,
			X:        ev.X,
			Y:        ev.Y,
			Relative: ev.Relative,
			Key:      uint16(ev.Key),
			DX:       ev.DX,
			DY:       ev.DY,
		}
		if ev.Button != input.ButtonNone {
			line.Button = ev.Button.String()
		}
		if err := encoder.Encode(line); err != nil {
			return fmt.Errorf("write event %d: %w", i, err)
		}
	}
	return nil
}

// Read parses a recording and returns it as a frozen log. Events are appended
// in file order, so a file whose offsets decrease fails with
// eventlog.ErrOutOfOrderEvent.
func Read(r io.Reader) (Header, *eventlog.Log, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return Header{}, nil, fmt.Errorf("read header: %w", err)
		}
		return Header{}, nil, fmt.Errorf("%w: empty file", ErrInvalidHeader)
	}
	header, err := parseHeader(scanner.Bytes())
	if err != nil {
		return Header{}, nil, err
	}

	log := eventlog.New(header.CreatedAt)
	lineNo := 1
	for scanner.Scan() {
		lineNo++
		raw := scanner.Bytes()
		if len(strings.TrimSpace(string(raw))) == 0 {
			continue
		}
		var line eventLine
		if err := json.Unmarshal(raw, &line); err != nil {
			return Header{}, nil, fmt.Errorf("line %d: decode event: %w", lineNo, err)
		}
		button, err := input.ParseButton(line.Button)
		if err != nil {
			return Header{}, nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		ev := input.CapturedEvent{
			Event: input.Event{
				Kind:     line.Kind,
				X:        line.X,
				Y:        line.Y,
				Relative: line.Relative,
				Button:   button,
				Key:      input.KeyCode(line.Key),
				DX:       line.DX,
				DY:       line.DY,
			},
			Offset: time.Duration(line.OffsetNS),
			Seq:    line.Seq,
		}
		if err := ev.Validate(); err != nil {
			return Header{}, nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := log.Append(ev); err != nil {
			return Header{}, nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Header{}, nil, fmt.Errorf("read events: %w", err)
	}

	count := log.Freeze()
	if header.EventCount != 0 && header.EventCount != count {
		return Header{}, nil, fmt.Errorf("header declares %d events, file holds %d", header.EventCount, count)
	}
	header.EventCount = count
	return header, log, nil
}

func parseHeader(raw []byte) (Header, error) {
	if !gjson.ValidBytes(raw) {
		return Header{}, fmt.Errorf("%w: first line is not JSON", ErrInvalidHeader)
	}
	if format := gjson.GetBytes(raw, "format").String(); format != Format {
		return Header{}, fmt.Errorf("%w: format %q", ErrInvalidHeader, format)
	}
	if version := gjson.GetBytes(raw, "version").Int(); version != SchemaVersion {
		return Header{}, fmt.Errorf("%w: unsupported version %d", ErrInvalidHeader, version)
	}
	var header Header
	if err := json.Unmarshal(raw, &header); err != nil {
		return Header{}, fmt.Errorf("%w: %v", ErrInvalidHeader, err)
	}
	if _, err := uuid.Parse(header.ID); err != nil {
		return Header{}, fmt.Errorf("%w: id %q", ErrInvalidHeader, header.ID)
	}
	return header, nil
}

// Export writes log to path, replacing any existing file atomically.
func Export(path string, header Header, log *eventlog.Log) error {
	if strings.TrimSpace(path) == "" {
		return errors.New("export path must not be empty")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("ensure export directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".recording-*.jsonl")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	buffered := bufio.NewWriter(tmp)
	if err := Write(buffered, header, log); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := buffered.Flush(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("flush recording: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close recording: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename recording: %w", err)
	}
	return nil
}

// Import reads a recording file from disk.
func Import(path string) (Header, *eventlog.Log, error) {
	file, err := os.Open(path)
	if err != nil {
		return Header{}, nil, fmt.Errorf("open recording: %w", err)
	}
	defer file.Close()
	return Read(file)
}
