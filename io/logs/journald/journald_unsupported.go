//go:build !linux
// +build !linux

package journald

import "errors"

// Enable returns an error, journald logging requires linux.
func Enable() error {
	return errors.New("journald is not supported on this OS")
}
