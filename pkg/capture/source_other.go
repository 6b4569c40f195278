//go:build !darwin && !linux

package capture

import "runtime"

func platformSource(opts SourceOptions) (Source, error) {
	return nil, newUnsupportedError(runtime.GOOS)
}
