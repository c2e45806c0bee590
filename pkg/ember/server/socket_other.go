//go:build !linux

package server

import "syscall"

// socketControl is a no-op outside Linux: SO_REUSEPORT's semantics vary
// enough across BSD/Darwin that ember does not attempt it there, matching
// spec.md §4.11's "Linux/BSD" wording with the conservative Linux-only
// implementation the teacher's own platform-tuning files (tuning_linux.go
// vs the absence of a SO_REUSEPORT path elsewhere) take for
// platform-specific socket options.
func (s *Server) socketControl(_, _ string, _ syscall.RawConn) error {
	return nil
}
