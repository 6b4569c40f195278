package buildinfo

import (
	"runtime/debug"
	"strings"
)

// version is overridden at link time:
//
//	go build -ldflags "-X github.com/offlinefirst/inputreplay/internal/buildinfo.version=v1.2.0"
var version = "dev"

var readBuildInfo = debug.ReadBuildInfo

// SetVersion allows build scripts to override the CLI version information.
func SetVersion(v string) {
	if v == "" {
		return
	}
	version = v
}

// Version returns the semantic version associated with the build, falling
// back to the module version and then to "dev".
func Version() string {
	if version != "dev" {
		return version
	}
	if info, ok := readBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return "dev"
}

// Revision returns the short VCS revision stamped by the Go toolchain, with a
// "+dirty" suffix for modified trees. It is empty when unavailable.
func Revision() string {
	info, ok := readBuildInfo()
	if !ok {
		return ""
	}
	var revision string
	var dirty bool
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			dirty = setting.Value == "true"
		}
	}
	if len(revision) > 12 {
		revision = revision[:12]
	}
	if revision != "" && dirty {
		revision += "+dirty"
	}
	return revision
}

// Describe joins version and revision for display.
func Describe() string {
	parts := []string{Version()}
	if rev := Revision(); rev != "" {
		parts = append(parts, rev)
	}
	return strings.Join(parts, " ")
}
