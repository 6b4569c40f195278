package capture

import (
	"runtime"

	"github.com/offlinefirst/inputreplay/pkg/permissions"
)

// Environment summarises capture backend support.
type Environment struct {
	Provider   string
	Available  bool
	Permission string
	Message    string
	Guidance   string
}

// DetectEnvironment reports which global hook would be used and whether the
// host is likely to allow it.
func DetectEnvironment(lookup permissions.LookupEnvFunc) Environment {
	var probe permissions.ProbeResult
	env := Environment{Provider: BackendStub}

	switch runtime.GOOS {
	case "darwin":
		probe = permissions.ProbeAccessibility(lookup)
		env.Provider = BackendQuartz
	case "linux":
		probe = permissions.ProbeInputDevices(lookup)
		env.Provider = BackendEvdev
	default:
		env.Permission = "not_applicable"
		env.Message = "no global input hook on this platform; stub backend only"
		env.Available = false
		return env
	}

	env.Permission = probe.StatusString()
	env.Message = probe.Message
	env.Guidance = probe.Guidance
	env.Available = probe.Status != permissions.StatusDenied && probe.Status != permissions.StatusUnavailable
	if !env.Available && env.Message == "" {
		env.Message = "input capture permission missing"
	}
	return env
}
