//go:build unix

package server

import (
	"errors"
	"io/fs"
	"net"
	"os"

	"github.com/hyp3rd/ewrap"
	"golang.org/x/sys/unix"
)

// listenUnix binds a stream socket at path with an explicit listen backlog,
// which net.Listen does not expose.
func listenUnix(path string, mode fs.FileMode, backlog int) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, ewrap.Wrap(os.NewSyscallError("socket", err), "create socket")
	}

	unix.CloseOnExec(fd)

	// file owns fd from here on; net.FileListener works on a duplicate.
	file := os.NewFile(uintptr(fd), path)
	defer func() {
		//nolint:errcheck // closing our copy of the descriptor cannot affect the listener.
		_ = file.Close()
	}()

	err = os.Remove(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, ewrap.Wrapf(err, "remove stale socket %q", path)
	}

	err = unix.Bind(fd, &unix.SockaddrUnix{Name: path})
	if err != nil {
		return nil, ewrap.Wrapf(os.NewSyscallError("bind", err), "bind stats socket %q", path)
	}

	err = os.Chmod(path, mode)
	if err != nil {
		removeQuietly(path)

		return nil, ewrap.Wrapf(err, "set permissions on %q", path)
	}

	err = unix.Listen(fd, backlog)
	if err != nil {
		removeQuietly(path)

		return nil, ewrap.Wrap(os.NewSyscallError("listen", err), "listen on stats socket")
	}

	ln, err := net.FileListener(file)
	if err != nil {
		removeQuietly(path)

		return nil, ewrap.Wrap(err, "wrap stats socket listener")
	}

	return ln, nil
}

func removeQuietly(path string) {
	//nolint:errcheck // best effort cleanup of a half-initialized socket.
	_ = os.Remove(path)
}
