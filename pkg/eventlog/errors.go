package eventlog

import "errors"

// ErrOutOfOrderEvent indicates an append whose offset precedes the last entry.
var ErrOutOfOrderEvent = errors.New("event offset precedes the last recorded event")

// ErrFrozen indicates a write against a log that has been frozen.
var ErrFrozen = errors.New("event log is frozen")
