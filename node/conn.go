package node

import (
	"errors"
	"io"
)

// readChunk is how much a single readiness dispatch pulls off the socket.
// Anything beyond it just retriggers the poller once re-armed.
const readChunk = 4096

// socket is the non-blocking socket surface a Connection drives. Read and
// Write report errWouldBlock instead of EAGAIN, Read reports io.EOF for
// an orderly end of stream; everything else is a genuine socket fault.
type socket interface {
	Read(p []byte) (n int, err error)
	Write(p []byte) (n int, err error)
	Close() error
	Fd() int
	Ip() string
}

// Connection couples one accepted socket with its protocol state. It is
// owned by the connection table and only ever touched from the event loop
// goroutine.
type Connection struct {
	sock  socket
	token Token
	state State
}

// NewConnection wraps an accepted socket. Every connection starts out
// reading into an empty buffer.
func NewConnection(sock socket, token Token) *Connection {
	return &Connection{sock: sock, token: token, state: newReading()}
}

// Token returns the connection's slot in the table.
func (c *Connection) Token() Token { return c.token }

// Fd returns the underlying descriptor for the poller.
func (c *Connection) Fd() int { return c.sock.Fd() }

// Ip reports the peer address the socket was accepted from.
func (c *Connection) Ip() string { return c.sock.Ip() }

// Desired reports the readiness the current state waits for.
func (c *Connection) Desired() Interest { return c.state.Interest() }

// IsClosed reports whether the connection reached its terminal state and
// should be evicted.
func (c *Connection) IsClosed() bool {
	_, ok := c.state.(closed)
	return ok
}

// Close releases the socket. The table entry is the loop's business.
func (c *Connection) Close() error { return c.sock.Close() }

// fault force-closes the state after the poller reported an error
// condition on the descriptor.
func (c *Connection) fault() { c.state = closed{} }

// OnReadable attempts one non-blocking read and applies the outcome to
// the state machine. A returned error is a socket fault; the state is
// already closed when it surfaces, so the same eviction path applies.
func (c *Connection) OnReadable() error {
	s, ok := c.state.(*reading)
	if !ok {
		// Stale notification for a state that no longer reads. The re-arm
		// after this dispatch restores the right interest.
		return nil
	}
	chunk := make([]byte, readChunk)
	n, err := c.sock.Read(chunk)
	switch {
	case errors.Is(err, errWouldBlock):
		return nil
	case errors.Is(err, io.EOF):
		if len(s.buf) == 0 {
			c.state = closed{}
			return nil
		}
		// The peer is done sending; flush whatever was buffered.
		c.state = s.flush()
		return nil
	case err != nil:
		c.state = closed{}
		return err
	default:
		s.push(chunk[:n])
		c.state = s.tryWriting()
		return nil
	}
}

// OnWritable attempts one non-blocking write of the remaining window and
// applies the outcome. Same error contract as OnReadable.
func (c *Connection) OnWritable() error {
	s, ok := c.state.(*writing)
	if !ok {
		return nil
	}
	n, err := c.sock.Write(s.remaining())
	switch {
	case errors.Is(err, errWouldBlock):
		return nil
	case err != nil:
		c.state = closed{}
		return err
	default:
		s.advance(n)
		if s.drained() {
			c.state = s.intoReading()
		}
		return nil
	}
}
