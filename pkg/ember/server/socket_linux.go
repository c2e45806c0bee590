//go:build linux

package server

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// socketControl runs on the listener's raw fd before bind, the only point
// SO_REUSEPORT can take effect (unlike TCP_NODELAY, which applies per
// accepted connection and is set in acceptLoop instead). Disabled under
// TestMode/ECEWO_TEST_MODE=1 so repeated test runs get a clean bind-or-fail
// instead of silently sharing a port with a leftover process, matching
// spec.md §4.11/§6.
//
// shockwave/pkg/shockwave/socket/tuning_linux.go reaches raw fds through
// rawConn.Control using the stdlib syscall package; ember instead wires
// golang.org/x/sys/unix here, since SO_REUSEPORT's option value is not
// exposed uniformly across syscall's per-GOOS files the way unix.SO_REUSEPORT
// is, and ember's go.mod already carries x/sys as a direct dependency for
// this reason rather than the transitive x/sys/cpu pull-in bolt/shockwave
// have.
func (s *Server) socketControl(_, _ string, c syscall.RawConn) error {
	if s.cfg.TestMode {
		return nil
	}
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
