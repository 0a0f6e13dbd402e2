package node

import "bytes"

// Interest is the readiness a connection wants next.
type Interest uint8

const (
	InterestNone Interest = iota
	InterestRead
	InterestWrite
)

// State is the per-connection protocol state. Exactly three
// implementations exist: reading, writing and closed. Transitions hand
// the accumulated bytes from one state to the next and drop the previous
// value, so no two live states ever share a buffer.
type State interface {
	// Interest reports the readiness kind this state waits for.
	Interest() Interest
}

// reading accumulates bytes until a line terminator shows up.
type reading struct {
	buf []byte
}

func newReading() *reading { return &reading{} }

func (s *reading) Interest() Interest { return InterestRead }

// push adds freshly read bytes to the buffer.
func (s *reading) push(p []byte) { s.buf = append(s.buf, p...) }

// tryWriting moves to writing when the buffer holds a full line: the range
// through the terminator becomes the writable window. Without a terminator
// the state is returned unchanged and more input is awaited.
func (s *reading) tryWriting() State {
	if i := bytes.IndexByte(s.buf, '\n'); i >= 0 {
		return &writing{buf: s.buf, end: i + 1}
	}
	return s
}

// flush moves the whole buffer to writing regardless of terminators, so
// nothing buffered is dropped when the peer ends its half of the stream.
func (s *reading) flush() State {
	return &writing{buf: s.buf, end: len(s.buf)}
}

// writing drains buf[pos:end] to the peer. Bytes past end arrived after
// the line terminator and go back to reading once the window is flushed.
type writing struct {
	buf []byte
	end int // writable window is buf[:end]
	pos int // bytes already accepted by the socket
}

func (s *writing) Interest() Interest { return InterestWrite }

// remaining is the slice still to be sent.
func (s *writing) remaining() []byte { return s.buf[s.pos:s.end] }

// advance moves the cursor after a successful, possibly partial, write.
func (s *writing) advance(n int) { s.pos += n }

// drained reports whether the writable window was fully flushed.
func (s *writing) drained() bool { return s.pos >= s.end }

// intoReading recovers the leftover past the flushed window and seeds a
// new reading buffer with it. A second line may already sit in the
// leftover, so the result chains straight back to writing when one is
// found.
func (s *writing) intoReading() State {
	next := &reading{buf: s.buf[s.end:]}
	return next.tryWriting()
}

// closed is terminal: no buffer, no interest, eligible for eviction.
type closed struct{}

func (closed) Interest() Interest { return InterestNone }
