//go:build darwin

package inject

/*
#cgo darwin CFLAGS: -x objective-c -fmodules -fobjc-arc
#cgo darwin LDFLAGS: -framework CoreGraphics -framework ApplicationServices
#include <ApplicationServices/ApplicationServices.h>
#include <stdbool.h>
#include <stdint.h>

static Boolean axIsTrusted(void) {
        return AXIsProcessTrusted();
}

static int postMouse(CGEventType type, double x, double y, CGMouseButton button, int64_t marker) {
        CGEventRef event = CGEventCreateMouseEvent(NULL, type, CGPointMake(x, y), button);
        if (event == NULL) {
                return -1;
        }
        CGEventSetIntegerValueField(event, kCGEventSourceUserData, marker);
        CGEventPost(kCGHIDEventTap, event);
        CFRelease(event);
        return 0;
}

static int postKey(CGKeyCode code, bool down, int64_t marker) {
        CGEventRef event = CGEventCreateKeyboardEvent(NULL, code, down);
        if (event == NULL) {
                return -1;
        }
        CGEventSetIntegerValueField(event, kCGEventSourceUserData, marker);
        CGEventPost(kCGHIDEventTap, event);
        CFRelease(event);
        return 0;
}

static int postScroll(int32_t dy, int32_t dx, int64_t marker) {
        CGEventRef event = CGEventCreateScrollWheelEvent(NULL, kCGScrollEventUnitLine, 2, dy, dx);
        if (event == NULL) {
                return -1;
        }
        CGEventSetIntegerValueField(event, kCGEventSourceUserData, marker);
        CGEventPost(kCGHIDEventTap, event);
        CFRelease(event);
        return 0;
}

static int cursorLocation(double *x, double *y) {
        CGEventRef event = CGEventCreate(NULL);
        if (event == NULL) {
                return -1;
        }
        CGPoint point = CGEventGetLocation(event);
        CFRelease(event);
        *x = point.x;
        *y = point.y;
        return 0;
}
*/
import "C"

import (
	"errors"
	"fmt"
	"sync"

	"github.com/offlinefirst/inputreplay/pkg/input"
)

func platformInjector(opts Options) (Injector, error) {
	if C.axIsTrusted() == C.Boolean(0) {
		return nil, Fatal(fmt.Errorf("%w: grant Accessibility access to post synthetic events", ErrPermissionDenied))
	}
	return &quartzInjector{}, nil
}

// quartzInjector posts CGEvents tagged with input.SyntheticMarker. It tracks
// held buttons so moves are posted as drags, which Quartz needs for
// click-and-drag to replay.
type quartzInjector struct {
	mu     sync.Mutex
	held   input.Button
	closed bool
}

var errPost = errors.New("CGEvent creation failed")

func (q *quartzInjector) Inject(ev input.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return Fatal(ErrClosed)
	}
	if C.axIsTrusted() == C.Boolean(0) {
		return Fatal(ErrPermissionDenied)
	}

	marker := C.int64_t(input.SyntheticMarker)
	switch ev.Kind {
	case input.KindKeyDown, input.KindKeyUp:
		if C.postKey(C.CGKeyCode(ev.Key), C.bool(ev.Kind == input.KindKeyDown), marker) != 0 {
			return errPost
		}
		return nil
	case input.KindScroll:
		if C.postScroll(C.int32_t(ev.DY), C.int32_t(ev.DX), marker) != 0 {
			return errPost
		}
		return nil
	case input.KindPointerMove, input.KindPointerDown, input.KindPointerUp:
	default:
		return unsupported("event kind %s", ev.Kind)
	}

	x, y, err := q.position(ev)
	if err != nil {
		return err
	}

	var eventType C.CGEventType
	var button C.CGMouseButton
	switch ev.Kind {
	case input.KindPointerMove:
		eventType, button = moveType(q.held)
	case input.KindPointerDown, input.KindPointerUp:
		var ok bool
		eventType, button, ok = buttonType(ev.Button, ev.Kind == input.KindPointerDown)
		if !ok {
			return unsupported("button %s", ev.Button)
		}
	}
	if C.postMouse(eventType, C.double(x), C.double(y), button, marker) != 0 {
		return errPost
	}

	switch ev.Kind {
	case input.KindPointerDown:
		q.held = ev.Button
	case input.KindPointerUp:
		if q.held == ev.Button {
			q.held = input.ButtonNone
		}
	}
	return nil
}

// position resolves the target point. Relative events are applied to the
// current cursor location.
func (q *quartzInjector) position(ev input.Event) (float64, float64, error) {
	if !ev.Relative {
		return float64(ev.X), float64(ev.Y), nil
	}
	var cx, cy C.double
	if C.cursorLocation(&cx, &cy) != 0 {
		return 0, 0, errPost
	}
	if ev.Kind != input.KindPointerMove {
		return float64(cx), float64(cy), nil
	}
	return float64(cx) + float64(ev.X), float64(cy) + float64(ev.Y), nil
}

func (q *quartzInjector) Close() error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	return nil
}

func moveType(held input.Button) (C.CGEventType, C.CGMouseButton) {
	switch held {
	case input.ButtonLeft:
		return C.kCGEventLeftMouseDragged, C.kCGMouseButtonLeft
	case input.ButtonRight:
		return C.kCGEventRightMouseDragged, C.kCGMouseButtonRight
	case input.ButtonNone:
		return C.kCGEventMouseMoved, C.kCGMouseButtonLeft
	default:
		return C.kCGEventOtherMouseDragged, otherMouseButton(held)
	}
}

func buttonType(button input.Button, down bool) (C.CGEventType, C.CGMouseButton, bool) {
	switch button {
	case input.ButtonLeft:
		if down {
			return C.kCGEventLeftMouseDown, C.kCGMouseButtonLeft, true
		}
		return C.kCGEventLeftMouseUp, C.kCGMouseButtonLeft, true
	case input.ButtonRight:
		if down {
			return C.kCGEventRightMouseDown, C.kCGMouseButtonRight, true
		}
		return C.kCGEventRightMouseUp, C.kCGMouseButtonRight, true
	case input.ButtonMiddle, input.ButtonBack, input.ButtonForward:
		if down {
			return C.kCGEventOtherMouseDown, otherMouseButton(button), true
		}
		return C.kCGEventOtherMouseUp, otherMouseButton(button), true
	default:
		return 0, 0, false
	}
}

func otherMouseButton(button input.Button) C.CGMouseButton {
	switch button {
	case input.ButtonBack:
		return C.CGMouseButton(3)
	case input.ButtonForward:
		return C.CGMouseButton(4)
	default:
		return C.kCGMouseButtonCenter
	}
}
