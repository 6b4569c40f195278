package input

import (
	"fmt"
	"strings"
	"time"
)

// Kind enumerates the input actions the recorder understands.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindPointerMove
	KindPointerDown
	KindPointerUp
	KindKeyDown
	KindKeyUp
	KindScroll
)

var kindNames = map[Kind]string{
	KindPointerMove: "pointer_move",
	KindPointerDown: "pointer_down",
	KindPointerUp:   "pointer_up",
	KindKeyDown:     "key_down",
	KindKeyUp:       "key_up",
	KindScroll:      "scroll",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind maps the textual representation back to a Kind.
func ParseKind(value string) (Kind, error) {
	normalised := strings.ToLower(strings.TrimSpace(value))
	for kind, name := range kindNames {
		if name == normalised {
			return kind, nil
		}
	}
	return KindUnknown, fmt.Errorf("unknown event kind %q", value)
}

// MarshalText implements encoding.TextMarshaler.
func (k Kind) MarshalText() ([]byte, error) {
	if _, ok := kindNames[k]; !ok {
		return nil, fmt.Errorf("cannot marshal event kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// IsPointer reports whether the kind carries pointer coordinates.
func (k Kind) IsPointer() bool {
	return k == KindPointerMove || k == KindPointerDown || k == KindPointerUp
}

// IsKey reports whether the kind carries a key code.
func (k Kind) IsKey() bool {
	return k == KindKeyDown || k == KindKeyUp
}

// Button identifies a pointer button.
type Button uint8

const (
	ButtonNone Button = iota
	ButtonLeft
	ButtonRight
	ButtonMiddle
	ButtonBack
	ButtonForward
)

func (b Button) String() string {
	switch b {
	case ButtonLeft:
		return "left"
	case ButtonRight:
		return "right"
	case ButtonMiddle:
		return "middle"
	case ButtonBack:
		return "back"
	case ButtonForward:
		return "forward"
	default:
		return "none"
	}
}

// ParseButton maps a button name back to a Button. The empty string is ButtonNone.
func ParseButton(value string) (Button, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "none":
		return ButtonNone, nil
	case "left":
		return ButtonLeft, nil
	case "right":
		return ButtonRight, nil
	case "middle":
		return ButtonMiddle, nil
	case "back":
		return ButtonBack, nil
	case "forward":
		return ButtonForward, nil
	default:
		return ButtonNone, fmt.Errorf("unknown pointer button %q", value)
	}
}

// KeyCode is the platform key identifier (Quartz virtual key code on macOS,
// evdev KEY_* code on Linux). Codes are not portable between platforms.
type KeyCode uint16

// Event is a single input action without timing information.
//
// X and Y hold absolute screen coordinates for pointer kinds, or deltas when
// Relative is set. DX and DY hold wheel deltas for KindScroll.
type Event struct {
	Kind     Kind
	X        int
	Y        int
	Relative bool
	Button   Button
	Key      KeyCode
	DX       int
	DY       int
}

// Validate checks that the payload matches the kind.
func (e Event) Validate() error {
	switch e.Kind {
	case KindPointerMove:
		return nil
	case KindPointerDown, KindPointerUp:
		if e.Button == ButtonNone {
			return fmt.Errorf("%s requires a button", e.Kind)
		}
		return nil
	case KindKeyDown, KindKeyUp:
		return nil
	case KindScroll:
		if e.DX == 0 && e.DY == 0 {
			return fmt.Errorf("scroll requires a non-zero delta")
		}
		return nil
	default:
		return fmt.Errorf("unknown event kind %d", uint8(e.Kind))
	}
}

func (e Event) String() string {
	switch {
	case e.Kind == KindPointerMove && e.Relative:
		return fmt.Sprintf("%s(dx=%d,dy=%d)", e.Kind, e.X, e.Y)
	case e.Kind.IsPointer():
		return fmt.Sprintf("%s(%s,x=%d,y=%d)", e.Kind, e.Button, e.X, e.Y)
	case e.Kind.IsKey():
		return fmt.Sprintf("%s(key=%d)", e.Kind, e.Key)
	case e.Kind == KindScroll:
		return fmt.Sprintf("%s(dx=%d,dy=%d)", e.Kind, e.DX, e.DY)
	default:
		return e.Kind.String()
	}
}

// CapturedEvent is an Event stamped with its position in a recording session.
// Offset is measured from the start of the session; Seq breaks ties between
// events that share an offset and reflects capture order.
type CapturedEvent struct {
	Event
	Offset time.Duration
	Seq    uint64
}

// SyntheticMarker tags events posted by the injector so that a capture hook
// running at the same time can recognise and drop them.
const SyntheticMarker int64 = 0x1e9a7e5e
