package permissions

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// Status enumerates coarse permission results for the input surfaces.
type Status string

const (
	// StatusUnknown indicates no explicit signal about permission state.
	StatusUnknown Status = "unknown"
	// StatusGranted signals that permission was previously granted.
	StatusGranted Status = "granted"
	// StatusDenied indicates the user has explicitly denied access.
	StatusDenied Status = "denied"
	// StatusPromptRequired means the platform will prompt at runtime.
	StatusPromptRequired Status = "prompt"
	// StatusUnavailable reports that the capability is not supported.
	StatusUnavailable Status = "unavailable"
)

// ProbeResult represents the coarse state for a permission surface.
type ProbeResult struct {
	Status   Status
	Message  string
	Guidance string
}

// LookupEnvFunc exposes environment probing for testability.
type LookupEnvFunc func(string) (string, bool)

// lookupEnv is declared for swapping in tests.
var lookupEnv = func(key string) (string, bool) {
	return os.LookupEnv(key)
}

// globDevices lists evdev nodes.
var globDevices = func() ([]string, error) {
	return filepath.Glob("/dev/input/event*")
}

const (
	envAccessibility = "INPUTREPLAY_ACCESSIBILITY"
	envInputDevices  = "INPUTREPLAY_INPUT_DEVICES"
	envUinput        = "INPUTREPLAY_UINPUT"

	uinputPath = "/dev/uinput"

	accessRead  uint32 = 0x4
	accessWrite uint32 = 0x2
)

// ProbeAccessibility reports whether the macOS accessibility trust needed for
// global event taps and CGEventPost is likely to be present.
func ProbeAccessibility(lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = lookupEnv
	}
	if value, ok := lookup(envAccessibility); ok {
		return interpretPermissionFlag("accessibility", value)
	}
	if runtime.GOOS == "darwin" {
		return ProbeResult{Status: StatusPromptRequired, Message: "accessibility trust required"}
	}
	return ProbeResult{Status: StatusUnavailable, Message: "accessibility prompts unavailable"}
}

// ProbeInputDevices checks that at least one evdev node is readable.
func ProbeInputDevices(lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = lookupEnv
	}
	if value, ok := lookup(envInputDevices); ok {
		return interpretPermissionFlag("input devices", value)
	}
	if runtime.GOOS != "linux" {
		return ProbeResult{Status: StatusUnavailable, Message: "evdev capture unsupported on this platform"}
	}
	nodes, err := globDevices()
	if err != nil || len(nodes) == 0 {
		return ProbeResult{Status: StatusUnavailable, Message: "no /dev/input/event* nodes found"}
	}
	for _, node := range nodes {
		if accessCheck(node, accessRead) == nil {
			return ProbeResult{Status: StatusGranted, Message: "input devices readable"}
		}
	}
	return ProbeResult{
		Status:   StatusDenied,
		Message:  "input devices not readable by this user",
		Guidance: "add the user to the 'input' group or run with elevated privileges",
	}
}

// ProbeUinput checks that /dev/uinput can be opened for writing.
func ProbeUinput(lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = lookupEnv
	}
	if value, ok := lookup(envUinput); ok {
		return interpretPermissionFlag("uinput", value)
	}
	if runtime.GOOS != "linux" {
		return ProbeResult{Status: StatusUnavailable, Message: "uinput unsupported on this platform"}
	}
	err := accessCheck(uinputPath, accessWrite)
	switch {
	case err == nil:
		return ProbeResult{Status: StatusGranted, Message: "uinput writable"}
	case errors.Is(err, fs.ErrNotExist):
		return ProbeResult{Status: StatusUnavailable, Message: "uinput module not loaded", Guidance: "run 'modprobe uinput'"}
	default:
		return ProbeResult{
			Status:   StatusDenied,
			Message:  "uinput not writable by this user",
			Guidance: "grant write access to /dev/uinput via a udev rule",
		}
	}
}

func interpretPermissionFlag(name, value string) ProbeResult {
	normalised := strings.ToLower(strings.TrimSpace(value))
	switch normalised {
	case "granted", "allow", "allowed", "yes", "true":
		return ProbeResult{Status: StatusGranted, Message: name + " permission pre-authorised via env override"}
	case "denied", "no", "false", "blocked":
		return ProbeResult{Status: StatusDenied, Message: name + " permission denied via env override", Guidance: "update INPUTREPLAY_* env to re-test"}
	case "prompt", "ask":
		return ProbeResult{Status: StatusPromptRequired, Message: name + " permission will prompt at runtime"}
	case "unavailable", "unsupported":
		return ProbeResult{Status: StatusUnavailable, Message: name + " permission unavailable on this platform"}
	default:
		return ProbeResult{Status: StatusUnknown, Message: name + " permission state unknown"}
	}
}

// Denied reports whether the result rules out using the surface.
func (p ProbeResult) Denied() bool {
	return p.Status == StatusDenied
}

// StatusString returns the string representation for reports.
func (p ProbeResult) StatusString() string {
	if p.Status == "" {
		return string(StatusUnknown)
	}
	return string(p.Status)
}
