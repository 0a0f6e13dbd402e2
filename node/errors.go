package node

import (
	"errors"
	"strings"
)

var (
	// ErrTableFull is returned by the connection table when every slot is
	// taken. The incoming socket is rejected and the rest keep being served.
	ErrTableFull = errors.New("connection table full")

	// ErrSignalStopped reports that the event loop exited because a stop
	// was requested.
	ErrSignalStopped = errors.New("signal stopped")

	// errWouldBlock means the socket has nothing for us right now; the next
	// readiness notification retries. Never escapes the connection layer.
	errWouldBlock = errors.New("operation would block")
)

// MultiError collects independent failures from teardown paths.
type MultiError []error

func (m MultiError) Error() string {
	var b strings.Builder
	b.WriteString("multiple errors:")
	for _, err := range m {
		b.WriteString("\n- " + err.Error())
	}
	return b.String()
}
