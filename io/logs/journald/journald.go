//go:build linux
// +build linux

// Package journald routes logrus output to the systemd journal.
package journald

import (
	"github.com/wercker/journalhook"
)

// Enable adds the journald hook to the process logger.
func Enable() error {
	journalhook.Enable()
	return nil
}
