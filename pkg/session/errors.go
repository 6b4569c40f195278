package session

import (
	"errors"

	"github.com/offlinefirst/inputreplay/pkg/capture"
	"github.com/offlinefirst/inputreplay/pkg/playback"
)

var (
	// ErrBusy reports a command that is illegal in the current state.
	ErrBusy = errors.New("session busy")
	// ErrNothingToReplay reports a replay request with an empty log.
	ErrNothingToReplay = errors.New("nothing to replay")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session controller closed")

	// ErrCapturePermissionDenied reports that recording could not start
	// because the OS refused the global input hook.
	ErrCapturePermissionDenied = capture.ErrPermissionDenied
	// ErrInjectionFailed reports a replay aborted by a fatal injection failure.
	ErrInjectionFailed = playback.ErrInjectionFailed
)
