//go:build unix

package permissions

import "golang.org/x/sys/unix"

// accessCheck wraps access(2) so tests can fake device permissions.
var accessCheck = func(path string, mode uint32) error {
	return unix.Access(path, mode)
}
