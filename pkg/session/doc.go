// Package session coordinates recording and replay.
//
// A Controller owns the single active event log and the Idle, Recording and
// Replaying state machine. Every command is linearised through one mutex, so
// capture and playback are never active at the same time. Replay runs in the
// background; its outcome is published on the Controller's notification
// channel rather than returned to the caller that started it.
package session
