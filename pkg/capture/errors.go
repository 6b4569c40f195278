package capture

import (
	"errors"
	"strings"
)

// ErrPermissionDenied indicates the operating system refused to install a global input hook.
var ErrPermissionDenied = errors.New("permission to install a global input hook was denied")

// ErrUnsupported indicates the requested backend is not available on this platform.
var ErrUnsupported = errors.New("input capture backend unsupported on this platform")

// ErrActive is returned by Start while a capture is already running.
var ErrActive = errors.New("capture already active")

// ErrNotActive is returned by Stop when no capture is running.
var ErrNotActive = errors.New("capture not active")

type permissionError struct {
	message string
}

func (e *permissionError) Error() string {
	return e.message
}

func (e *permissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

func newPermissionError(message string) error {
	trimmed := strings.TrimSpace(message)
	if trimmed == "" {
		trimmed = ErrPermissionDenied.Error()
	}
	return &permissionError{message: trimmed}
}

type unsupportedError struct {
	platform string
}

func (e *unsupportedError) Error() string {
	return "no global input hook available on " + e.platform
}

func (e *unsupportedError) Is(target error) bool {
	return target == ErrUnsupported
}

func newUnsupportedError(platform string) error {
	return &unsupportedError{platform: platform}
}
