//go:build !darwin && !linux

package inject

import (
	"fmt"
	"runtime"
)

func platformInjector(Options) (Injector, error) {
	return nil, fmt.Errorf("%w: no synthetic input backend on %s", ErrUnsupported, runtime.GOOS)
}
