//go:build !unix

package server

import (
	"errors"
	"io/fs"
	"net"
	"os"

	"github.com/hyp3rd/ewrap"
)

// listenUnix falls back to net.Listen where raw socket calls are unavailable.
// The backlog is left to the platform.
func listenUnix(path string, mode fs.FileMode, _ int) (net.Listener, error) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, ewrap.Wrapf(err, "remove stale socket %q", path)
	}

	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, ewrap.Wrapf(err, "listen on stats socket %q", path)
	}

	if ul, ok := ln.(*net.UnixListener); ok {
		ul.SetUnlinkOnClose(false)
	}

	err = os.Chmod(path, mode)
	if err != nil {
		//nolint:errcheck // the chmod failure is the error worth reporting.
		_ = ln.Close()

		return nil, ewrap.Wrapf(err, "set permissions on %q", path)
	}

	return ln, nil
}
