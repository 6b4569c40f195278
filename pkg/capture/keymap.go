package capture

import (
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/offlinefirst/inputreplay/pkg/input"
)

// Linux evdev KEY_* codes for the US layout.
var evdevKeys = map[rune]input.KeyCode{
	'1': 2, '2': 3, '3': 4, '4': 5, '5': 6, '6': 7, '7': 8, '8': 9, '9': 10, '0': 11,
	'q': 16, 'w': 17, 'e': 18, 'r': 19, 't': 20, 'y': 21, 'u': 22, 'i': 23, 'o': 24, 'p': 25,
	'a': 30, 's': 31, 'd': 32, 'f': 33, 'g': 34, 'h': 35, 'j': 36, 'k': 37, 'l': 38,
	'z': 44, 'x': 45, 'c': 46, 'v': 47, 'b': 48, 'n': 49, 'm': 50,
	' ': 57,
}

// macOS kVK_ANSI_* virtual key codes.
var quartzKeys = map[rune]input.KeyCode{
	'a': 0x00, 's': 0x01, 'd': 0x02, 'f': 0x03, 'h': 0x04, 'g': 0x05, 'z': 0x06, 'x': 0x07,
	'c': 0x08, 'v': 0x09, 'b': 0x0b, 'q': 0x0c, 'w': 0x0d, 'e': 0x0e, 'r': 0x0f, 'y': 0x10,
	't': 0x11, '1': 0x12, '2': 0x13, '3': 0x14, '4': 0x15, '6': 0x16, '5': 0x17, '9': 0x19,
	'7': 0x1a, '8': 0x1c, '0': 0x1d, 'o': 0x1f, 'u': 0x20, 'i': 0x22, 'p': 0x23, 'l': 0x25,
	'j': 0x26, 'k': 0x28, 'n': 0x2d, 'm': 0x2e, ' ': 0x31,
}

func keymapFor(goos string) map[rune]input.KeyCode {
	switch goos {
	case "darwin":
		return quartzKeys
	case "linux":
		return evdevKeys
	default:
		return nil
	}
}

// HotkeyCodes maps single-character console keys to the key codes this
// platform's capture source reports. Keys without a mapping are skipped.
func HotkeyCodes(keys ...string) []input.KeyCode {
	return hotkeyCodes(keymapFor(runtime.GOOS), keys)
}

func hotkeyCodes(keymap map[rune]input.KeyCode, keys []string) []input.KeyCode {
	var codes []input.KeyCode
	for _, key := range keys {
		key = strings.ToLower(strings.TrimSpace(key))
		if utf8.RuneCountInString(key) != 1 {
			continue
		}
		r, _ := utf8.DecodeRuneInString(key)
		if code, ok := keymap[r]; ok {
			codes = append(codes, code)
		}
	}
	return codes
}
