package cmd

import (
	"flag"
	"fmt"
	"io"
	"runtime"

	"github.com/offlinefirst/inputreplay/internal/buildinfo"
)

// Seams for the toolchain details printed next to the build description.
var (
	runtimeVersion = runtime.Version
	runtimeGOOS    = func() string { return runtime.GOOS }
)

func newVersionCommand() command {
	return command{
		name:        "version",
		description: "Print the build version, revision and toolchain",
		skipInit:    true,
		configure: func(fs *flag.FlagSet) {
			fs.Bool("short", false, "Print only the version")
		},
		run: runVersion,
	}
}

func runVersion(fs *flag.FlagSet, args []string, app *AppContext, stdout io.Writer, stderr io.Writer) error {
	if boolFlag(fs, "short") {
		_, err := fmt.Fprintln(stdout, buildinfo.Version())
		return err
	}
	_, err := fmt.Fprintln(stdout, versionString())
	return err
}

func versionString() string {
	return fmt.Sprintf("%s (%s/%s)", buildinfo.Describe(), runtimeVersion(), runtimeGOOS())
}
