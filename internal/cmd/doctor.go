package cmd

import (
	"flag"
	"fmt"
	"io"
	"runtime"

	"github.com/offlinefirst/inputreplay/pkg/capture"
	"github.com/offlinefirst/inputreplay/pkg/permissions"
)

func newDoctorCommand() command {
	return command{
		name:        "doctor",
		description: "Report capture and injection backends and their permissions",
		run:         runDoctor,
	}
}

var (
	detectCapture = capture.DetectEnvironment
	probeInjector = func(lookup permissions.LookupEnvFunc) (string, permissions.ProbeResult) {
		switch runtime.GOOS {
		case "darwin":
			return "quartz", permissions.ProbeAccessibility(lookup)
		case "linux":
			return "uinput", permissions.ProbeUinput(lookup)
		default:
			return "stub", permissions.ProbeResult{Status: permissions.StatusUnavailable, Message: "no input injection on this platform"}
		}
	}
)

func runDoctor(fs *flag.FlagSet, args []string, app *AppContext, stdout io.Writer, stderr io.Writer) error {
	if app == nil {
		return fmt.Errorf("application context unavailable")
	}
	cfg := app.Config

	fmt.Fprintf(stdout, "Configuration: %s\n", cfg.Source)
	fmt.Fprintf(stdout, "Library: %s\n", cfg.Paths.StorePath)

	env := detectCapture(nil)
	fmt.Fprintf(stdout, "Capture: backend=%s provider=%s available=%t permission=%s", cfg.Capture.Backend, env.Provider, env.Available, env.Permission)
	if env.Message != "" {
		fmt.Fprintf(stdout, " (%s)", env.Message)
	}
	fmt.Fprintln(stdout)
	if env.Guidance != "" {
		fmt.Fprintf(stdout, "  hint: %s\n", env.Guidance)
	}

	provider, probe := probeInjector(nil)
	fmt.Fprintf(stdout, "Injector: backend=%s provider=%s available=%t permission=%s", cfg.Injector.Backend, provider, !probe.Denied() && probe.Status != permissions.StatusUnavailable, probe.StatusString())
	if probe.Message != "" {
		fmt.Fprintf(stdout, " (%s)", probe.Message)
	}
	fmt.Fprintln(stdout)
	if probe.Guidance != "" {
		fmt.Fprintf(stdout, "  hint: %s\n", probe.Guidance)
	}

	app.Logger.Debug("doctor finished", "capture_available", env.Available, "injector_permission", probe.StatusString())
	return nil
}
