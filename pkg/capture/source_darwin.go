//go:build darwin

package capture

/*
#cgo darwin CFLAGS: -x objective-c -fmodules -fobjc-arc
#cgo darwin LDFLAGS: -framework CoreGraphics -framework ApplicationServices
#include <ApplicationServices/ApplicationServices.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdint.h>

static Boolean axCheckTrusted(void) {
        const void *keys[] = { kAXTrustedCheckOptionPrompt };
        const void *values[] = { kCFBooleanTrue };
        CFDictionaryRef options = CFDictionaryCreate(kCFAllocatorDefault, keys, values, 1,
                                                     &kCFTypeDictionaryKeyCallBacks,
                                                     &kCFTypeDictionaryValueCallBacks);
        Boolean trusted = AXIsProcessTrustedWithOptions(options);
        CFRelease(options);
        return trusted;
}

extern CGEventRef goHandleInputEvent(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *userInfo);

static CFRunLoopSourceRef startEventTap(uintptr_t handle, CGEventMask mask, CFMachPortRef *tapOut) {
        CFMachPortRef tap = CGEventTapCreate(kCGSessionEventTap,
                                             kCGHeadInsertEventTap,
                                             kCGEventTapOptionListenOnly,
                                             mask,
                                             goHandleInputEvent,
                                             (void *)handle);
        if (tap == NULL) {
                return NULL;
        }
        CGEventTapEnable(tap, true);
        CFRunLoopSourceRef source = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, tap, 0);
        *tapOut = tap;
        return source;
}

static void reenableTap(CFMachPortRef tap) {
        CGEventTapEnable(tap, true);
}

static CGEventMask cgEventMaskBit(CGEventType type) {
        return ((CGEventMask)1) << type;
}

static CFRunLoopRef currentRunLoop(void) {
        return CFRunLoopGetCurrent();
}

static void addSourceToRunLoop(CFRunLoopRef loop, CFRunLoopSourceRef source) {
        CFRunLoopAddSource(loop, source, kCFRunLoopCommonModes);
}

static void runCurrentRunLoop(void) {
        CFRunLoopRun();
}

static void stopRunLoop(CFRunLoopRef loop) {
        CFRunLoopStop(loop);
}

static double cgEventGetX(CGEventRef event) {
        return CGEventGetLocation(event).x;
}

static double cgEventGetY(CGEventRef event) {
        return CGEventGetLocation(event).y;
}

static int64_t cgEventGetKeycode(CGEventRef event) {
        return CGEventGetIntegerValueField(event, kCGKeyboardEventKeycode);
}

static int64_t cgEventGetUserData(CGEventRef event) {
        return CGEventGetIntegerValueField(event, kCGEventSourceUserData);
}

static int64_t cgEventGetButton(CGEventRef event) {
        return CGEventGetIntegerValueField(event, kCGMouseEventButtonNumber);
}

static int64_t cgEventGetScrollY(CGEventRef event) {
        return CGEventGetIntegerValueField(event, kCGScrollWheelEventDeltaAxis1);
}

static int64_t cgEventGetScrollX(CGEventRef event) {
        return CGEventGetIntegerValueField(event, kCGScrollWheelEventDeltaAxis2);
}

static uint64_t cgEventGetFlags(CGEventRef event) {
        return (uint64_t)CGEventGetFlags(event);
}
*/
import "C"

import (
	"context"
	"runtime"
	"runtime/cgo"
	"sync"
	"unsafe"

	"github.com/offlinefirst/inputreplay/pkg/input"
)

func platformSource(opts SourceOptions) (Source, error) {
	return &quartzSource{}, nil
}

// quartzSource installs a listen-only session event tap on a dedicated,
// locked OS thread running its own CFRunLoop.
type quartzSource struct{}

type quartzStream struct {
	emit func(Notification)
	tap  C.CFMachPortRef
}

func (s *quartzSource) Stream(ctx context.Context, ready func(), emit func(Notification)) error {
	if C.axCheckTrusted() == C.Boolean(0) {
		return newPermissionError("macOS accessibility permission required for input capture")
	}

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stream := &quartzStream{emit: emit}
	handle := cgo.NewHandle(stream)
	defer handle.Delete()

	mask := C.cgEventMaskBit(C.kCGEventKeyDown) |
		C.cgEventMaskBit(C.kCGEventKeyUp) |
		C.cgEventMaskBit(C.kCGEventFlagsChanged) |
		C.cgEventMaskBit(C.kCGEventLeftMouseDown) |
		C.cgEventMaskBit(C.kCGEventLeftMouseUp) |
		C.cgEventMaskBit(C.kCGEventRightMouseDown) |
		C.cgEventMaskBit(C.kCGEventRightMouseUp) |
		C.cgEventMaskBit(C.kCGEventOtherMouseDown) |
		C.cgEventMaskBit(C.kCGEventOtherMouseUp) |
		C.cgEventMaskBit(C.kCGEventMouseMoved) |
		C.cgEventMaskBit(C.kCGEventLeftMouseDragged) |
		C.cgEventMaskBit(C.kCGEventRightMouseDragged) |
		C.cgEventMaskBit(C.kCGEventOtherMouseDragged) |
		C.cgEventMaskBit(C.kCGEventScrollWheel)

	var tap C.CFMachPortRef
	source := C.startEventTap(C.uintptr_t(handle), mask, &tap)
	if source == 0 {
		return newPermissionError("CGEventTapCreate refused; grant Input Monitoring and Accessibility access")
	}
	defer C.CFRelease(C.CFTypeRef(source))
	defer C.CFRelease(C.CFTypeRef(tap))
	stream.tap = tap

	loop := C.currentRunLoop()
	var stopOnce sync.Once
	stopLoop := func() {
		stopOnce.Do(func() {
			C.stopRunLoop(loop)
		})
	}
	C.addSourceToRunLoop(loop, source)

	finished := make(chan struct{})
	watcherDone := make(chan struct{})
	go func() {
		defer close(watcherDone)
		select {
		case <-ctx.Done():
			stopLoop()
		case <-finished:
		}
	}()

	ready()
	C.runCurrentRunLoop()
	close(finished)
	<-watcherDone
	return nil
}

//export goHandleInputEvent
func goHandleInputEvent(_ C.CGEventTapProxy, eventType C.CGEventType, event C.CGEventRef, userInfo unsafe.Pointer) C.CGEventRef {
	stream, ok := cgo.Handle(uintptr(userInfo)).Value().(*quartzStream)
	if !ok {
		return event
	}

	switch eventType {
	case C.kCGEventTapDisabledByTimeout, C.kCGEventTapDisabledByUserInput:
		C.reenableTap(stream.tap)
		return event
	}

	ev, ok := translateQuartz(eventType, event)
	if !ok {
		return event
	}
	stream.emit(Notification{
		Event:     ev,
		Synthetic: int64(C.cgEventGetUserData(event)) == input.SyntheticMarker,
		Device:    "quartz",
	})
	return event
}

func translateQuartz(eventType C.CGEventType, event C.CGEventRef) (input.Event, bool) {
	x := int(C.cgEventGetX(event))
	y := int(C.cgEventGetY(event))

	switch eventType {
	case C.kCGEventKeyDown:
		return input.Event{Kind: input.KindKeyDown, Key: input.KeyCode(C.cgEventGetKeycode(event))}, true
	case C.kCGEventKeyUp:
		return input.Event{Kind: input.KindKeyUp, Key: input.KeyCode(C.cgEventGetKeycode(event))}, true
	case C.kCGEventFlagsChanged:
		code := input.KeyCode(C.cgEventGetKeycode(event))
		kind := input.KindKeyUp
		if modifierPressed(code, uint64(C.cgEventGetFlags(event))) {
			kind = input.KindKeyDown
		}
		return input.Event{Kind: kind, Key: code}, true
	case C.kCGEventMouseMoved, C.kCGEventLeftMouseDragged, C.kCGEventRightMouseDragged, C.kCGEventOtherMouseDragged:
		return input.Event{Kind: input.KindPointerMove, X: x, Y: y}, true
	case C.kCGEventLeftMouseDown:
		return input.Event{Kind: input.KindPointerDown, Button: input.ButtonLeft, X: x, Y: y}, true
	case C.kCGEventLeftMouseUp:
		return input.Event{Kind: input.KindPointerUp, Button: input.ButtonLeft, X: x, Y: y}, true
	case C.kCGEventRightMouseDown:
		return input.Event{Kind: input.KindPointerDown, Button: input.ButtonRight, X: x, Y: y}, true
	case C.kCGEventRightMouseUp:
		return input.Event{Kind: input.KindPointerUp, Button: input.ButtonRight, X: x, Y: y}, true
	case C.kCGEventOtherMouseDown, C.kCGEventOtherMouseUp:
		button := otherButton(int64(C.cgEventGetButton(event)))
		if button == input.ButtonNone {
			return input.Event{}, false
		}
		kind := input.KindPointerDown
		if eventType == C.kCGEventOtherMouseUp {
			kind = input.KindPointerUp
		}
		return input.Event{Kind: kind, Button: button, X: x, Y: y}, true
	case C.kCGEventScrollWheel:
		dx := int(C.cgEventGetScrollX(event))
		dy := int(C.cgEventGetScrollY(event))
		if dx == 0 && dy == 0 {
			return input.Event{}, false
		}
		return input.Event{Kind: input.KindScroll, DX: dx, DY: dy}, true
	default:
		return input.Event{}, false
	}
}

func otherButton(number int64) input.Button {
	switch number {
	case 2:
		return input.ButtonMiddle
	case 3:
		return input.ButtonBack
	case 4:
		return input.ButtonForward
	default:
		return input.ButtonNone
	}
}

// Device-independent modifier masks from CGEventTypes.h.
const (
	flagMaskAlphaShift  = 0x00010000
	flagMaskShift       = 0x00020000
	flagMaskControl     = 0x00040000
	flagMaskAlternate   = 0x00080000
	flagMaskCommand     = 0x00100000
	flagMaskSecondaryFn = 0x00800000
)

func modifierPressed(code input.KeyCode, flags uint64) bool {
	var mask uint64
	switch code {
	case 56, 60:
		mask = flagMaskShift
	case 59, 62:
		mask = flagMaskControl
	case 58, 61:
		mask = flagMaskAlternate
	case 55, 54:
		mask = flagMaskCommand
	case 57:
		mask = flagMaskAlphaShift
	case 63:
		mask = flagMaskSecondaryFn
	default:
		return false
	}
	return flags&mask != 0
}
