package inject

import (
	"errors"
	"fmt"
)

var (
	// ErrFatal marks failures that make further injection pointless, such as
	// revoked permission or a hung OS call.
	ErrFatal = errors.New("fatal injection failure")
	// ErrTimeout reports an injection call that exceeded its bound.
	ErrTimeout = errors.New("injection call timed out")
	// ErrUnsupported reports an event the backend cannot synthesise. It is
	// never fatal on its own.
	ErrUnsupported = errors.New("event not supported by injector")
	// ErrPermissionDenied reports that the OS refused synthetic input.
	ErrPermissionDenied = errors.New("permission to synthesise input was denied")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("injector closed")
)

type fatalError struct {
	err error
}

func (e *fatalError) Error() string {
	return e.err.Error()
}

func (e *fatalError) Unwrap() error {
	return e.err
}

func (e *fatalError) Is(target error) bool {
	return target == ErrFatal
}

// Fatal marks err as fatal for the current replay. A nil err stays nil.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrFatal) {
		return err
	}
	return &fatalError{err: err}
}

// IsFatal reports whether err should abort a replay.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

func unsupported(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrUnsupported}, args...)...)
}
