package capture

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/offlinefirst/inputreplay/pkg/input"
)

// KeyFilter drops key events whose code is on an ignore list, typically the
// hotkeys that drive the recorder itself.
// The zero value permits all events.
type KeyFilter struct {
	ignore map[input.KeyCode]struct{}
}

// NewKeyFilter constructs a filter ignoring the supplied key codes.
func NewKeyFilter(codes []input.KeyCode) KeyFilter {
	if len(codes) == 0 {
		return KeyFilter{}
	}
	filter := KeyFilter{ignore: make(map[input.KeyCode]struct{}, len(codes))}
	for _, code := range codes {
		filter.ignore[code] = struct{}{}
	}
	return filter
}

// ParseKeyCodes converts configuration strings into key codes.
func ParseKeyCodes(values []string) ([]input.KeyCode, error) {
	codes := make([]input.KeyCode, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		code, err := strconv.ParseUint(trimmed, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid key code %q", value)
		}
		codes = append(codes, input.KeyCode(code))
	}
	return codes, nil
}

// Allows reports whether the event should be recorded.
func (f KeyFilter) Allows(event input.Event) bool {
	if len(f.ignore) == 0 || !event.Kind.IsKey() {
		return true
	}
	_, ignored := f.ignore[event.Key]
	return !ignored
}
