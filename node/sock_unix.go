//go:build linux
// +build linux

package node

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// fdSocket adapts a raw non-blocking descriptor to the socket interface
// and normalizes the readiness outcomes: EAGAIN and EWOULDBLOCK become
// errWouldBlock, a zero-byte read becomes io.EOF, anything else comes
// back as a syscall error.
type fdSocket struct {
	fd int
	ip string
}

func (s *fdSocket) Read(p []byte) (int, error) {
	n, err := unix.Read(s.fd, p)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, errWouldBlock
	}
	if err != nil {
		return 0, os.NewSyscallError("read", err)
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}

func (s *fdSocket) Write(p []byte) (int, error) {
	n, err := unix.Write(s.fd, p)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, errWouldBlock
	}
	if err != nil {
		return 0, os.NewSyscallError("write", err)
	}
	return n, nil
}

func (s *fdSocket) Close() error {
	return CloseFd(s.fd)
}

func (s *fdSocket) Fd() int { return s.fd }

func (s *fdSocket) Ip() string { return s.ip }
