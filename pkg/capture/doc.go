// Package capture subscribes to the operating system's global pointer and
// keyboard notifications and turns them into offset-stamped events appended to
// an event log. Platform hooks live behind Source: the Quartz event tap on
// macOS, evdev device nodes on Linux, and a scripted source for tests.
package capture
