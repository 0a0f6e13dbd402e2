package node

import (
	"bytes"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSocket scripts read and write outcomes so connection behavior can
// be driven without a kernel. Scripted reads are consumed front to back
// and a chunk bigger than the caller's buffer carries over to the next
// read; past the script it reports would-block, or EOF when eof is set.
type fakeSocket struct {
	reads       []fakeRead
	wrote       []byte
	writeCap    int   // max bytes accepted per Write, 0 means all
	blockWrites int   // Writes to refuse with errWouldBlock first
	writeErr    error // next Write fails with this when set
	eof         bool
	closed      bool
}

type fakeRead struct {
	data []byte
	err  error
}

func (f *fakeSocket) Read(p []byte) (int, error) {
	if len(f.reads) == 0 {
		if f.eof {
			return 0, io.EOF
		}
		return 0, errWouldBlock
	}
	r := f.reads[0]
	if r.err != nil {
		f.reads = f.reads[1:]
		return 0, r.err
	}
	if len(r.data) == 0 {
		f.reads = f.reads[1:]
		return 0, errWouldBlock
	}
	n := copy(p, r.data)
	if n < len(r.data) {
		// Undelivered bytes stay scripted for the next read.
		f.reads[0].data = r.data[n:]
		return n, nil
	}
	f.reads = f.reads[1:]
	return n, nil
}

func (f *fakeSocket) Write(p []byte) (int, error) {
	if f.writeErr != nil {
		err := f.writeErr
		f.writeErr = nil
		return 0, err
	}
	if f.blockWrites > 0 {
		f.blockWrites--
		return 0, errWouldBlock
	}
	n := len(p)
	if f.writeCap > 0 && n > f.writeCap {
		n = f.writeCap
	}
	f.wrote = append(f.wrote, p[:n]...)
	return n, nil
}

func (f *fakeSocket) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSocket) Fd() int { return 42 }

func (f *fakeSocket) Ip() string { return "127.0.0.1" }

func assertValidState(t *testing.T, c *Connection) {
	t.Helper()
	switch c.state.(type) {
	case *reading, *writing, closed:
	default:
		t.Fatalf("connection in unknown state %T", c.state)
	}
}

// drive pumps the connection the way the loop would, following its
// desired readiness, until it closes or limit steps pass.
func drive(t *testing.T, c *Connection, limit int) {
	t.Helper()
	for i := 0; i < limit; i++ {
		assertValidState(t, c)
		if c.IsClosed() {
			return
		}
		var err error
		switch c.Desired() {
		case InterestRead:
			err = c.OnReadable()
		case InterestWrite:
			err = c.OnWritable()
		default:
			t.Fatal("open connection wants no readiness")
		}
		require.NoError(t, err)
	}
	t.Fatal("connection did not finish within the step limit")
}

func TestConnectionEchoesSingleLine(t *testing.T) {
	fake := &fakeSocket{reads: []fakeRead{{data: []byte("hello\n")}}}
	c := NewConnection(fake, 1)

	require.NoError(t, c.OnReadable())
	assert.Equal(t, InterestWrite, c.Desired())

	require.NoError(t, c.OnWritable())
	assert.Equal(t, []byte("hello\n"), fake.wrote)
	assert.Equal(t, InterestRead, c.Desired(), "connection keeps reading after the echo")
	assert.False(t, c.IsClosed())
}

func TestConnectionEchoesPipelinedLines(t *testing.T) {
	fake := &fakeSocket{reads: []fakeRead{{data: []byte("a\nb\n")}}}
	c := NewConnection(fake, 1)

	require.NoError(t, c.OnReadable())
	require.Equal(t, InterestWrite, c.Desired())

	// Both lines drain on write readiness alone: finishing the first
	// window chains straight into the second.
	require.NoError(t, c.OnWritable())
	require.Equal(t, InterestWrite, c.Desired())
	require.NoError(t, c.OnWritable())

	assert.Equal(t, []byte("a\nb\n"), fake.wrote)
	assert.Equal(t, InterestRead, c.Desired())
}

func TestConnectionAccumulatesAcrossReads(t *testing.T) {
	fake := &fakeSocket{reads: []fakeRead{
		{data: []byte("hel")},
		{data: []byte("lo")},
		{data: []byte("\n")},
	}}
	c := NewConnection(fake, 1)

	require.NoError(t, c.OnReadable())
	require.Equal(t, InterestRead, c.Desired())
	require.NoError(t, c.OnReadable())
	require.Equal(t, InterestRead, c.Desired())
	require.NoError(t, c.OnReadable())
	require.Equal(t, InterestWrite, c.Desired())

	require.NoError(t, c.OnWritable())
	assert.Equal(t, []byte("hello\n"), fake.wrote)
}

func TestConnectionEchoesLineLargerThanOneRead(t *testing.T) {
	line := append(bytes.Repeat([]byte{'x'}, 2*readChunk+5), '\n')
	fake := &fakeSocket{reads: []fakeRead{{data: line}}, eof: true}
	c := NewConnection(fake, 1)

	drive(t, c, 100)

	require.True(t, c.IsClosed())
	assert.Equal(t, line, fake.wrote, "one scripted chunk spans several reads")
}

func TestConnectionWouldBlockChangesNothing(t *testing.T) {
	fake := &fakeSocket{}
	c := NewConnection(fake, 1)

	require.NoError(t, c.OnReadable())
	assert.Equal(t, InterestRead, c.Desired())
	assert.False(t, c.IsClosed())

	fake.reads = []fakeRead{{data: []byte("x\n")}}
	fake.blockWrites = 1
	require.NoError(t, c.OnReadable())
	require.NoError(t, c.OnWritable())
	assert.Equal(t, InterestWrite, c.Desired(), "blocked write keeps the window")
	assert.Empty(t, fake.wrote)

	require.NoError(t, c.OnWritable())
	assert.Equal(t, []byte("x\n"), fake.wrote)
}

func TestConnectionFlushesBufferOnEOF(t *testing.T) {
	fake := &fakeSocket{reads: []fakeRead{{data: []byte("partial")}}, eof: true}
	c := NewConnection(fake, 1)

	require.NoError(t, c.OnReadable())
	require.Equal(t, InterestRead, c.Desired())

	// EOF with buffered bytes flushes them before closing.
	require.NoError(t, c.OnReadable())
	require.Equal(t, InterestWrite, c.Desired())
	require.NoError(t, c.OnWritable())
	assert.Equal(t, []byte("partial"), fake.wrote)

	require.NoError(t, c.OnReadable())
	assert.True(t, c.IsClosed())
}

func TestConnectionClosesOnBareEOF(t *testing.T) {
	fake := &fakeSocket{eof: true}
	c := NewConnection(fake, 1)

	require.NoError(t, c.OnReadable())
	assert.True(t, c.IsClosed())
	assert.Empty(t, fake.wrote)
}

func TestConnectionPartialWrites(t *testing.T) {
	fake := &fakeSocket{reads: []fakeRead{{data: []byte("hello world\n")}}, writeCap: 3}
	c := NewConnection(fake, 1)

	require.NoError(t, c.OnReadable())
	for i := 0; i < 4 && c.Desired() == InterestWrite; i++ {
		require.NoError(t, c.OnWritable())
	}
	assert.Equal(t, []byte("hello world\n"), fake.wrote)
	assert.Equal(t, InterestRead, c.Desired())
}

func TestConnectionReadFaultCloses(t *testing.T) {
	boom := errors.New("connection reset by peer")
	fake := &fakeSocket{reads: []fakeRead{{err: boom}}}
	c := NewConnection(fake, 1)

	err := c.OnReadable()
	require.ErrorIs(t, err, boom)
	assert.True(t, c.IsClosed())
}

func TestConnectionWriteFaultCloses(t *testing.T) {
	boom := errors.New("broken pipe")
	fake := &fakeSocket{reads: []fakeRead{{data: []byte("x\n")}}, writeErr: boom}
	c := NewConnection(fake, 1)

	require.NoError(t, c.OnReadable())
	err := c.OnWritable()
	require.ErrorIs(t, err, boom)
	assert.True(t, c.IsClosed())
}

func TestConnectionStaleNotificationIsHarmless(t *testing.T) {
	fake := &fakeSocket{reads: []fakeRead{{data: []byte("x\n")}}}
	c := NewConnection(fake, 1)

	// Write readiness while reading, read readiness while writing: both
	// are ignored and the state keeps its interest.
	require.NoError(t, c.OnWritable())
	assert.Equal(t, InterestRead, c.Desired())

	require.NoError(t, c.OnReadable())
	require.Equal(t, InterestWrite, c.Desired())
	require.NoError(t, c.OnReadable())
	assert.Equal(t, InterestWrite, c.Desired())
}

func TestConnectionRandomizedEcho(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for round := 0; round < 100; round++ {
		var payload []byte
		lines := 1 + rng.Intn(5)
		for i := 0; i < lines; i++ {
			n := rng.Intn(30)
			for j := 0; j < n; j++ {
				payload = append(payload, byte('a'+rng.Intn(26)))
			}
			payload = append(payload, '\n')
		}
		if rng.Intn(3) == 0 {
			// Unterminated tail exercises the flush path.
			tail := 1 + rng.Intn(10)
			for j := 0; j < tail; j++ {
				payload = append(payload, byte('a'+rng.Intn(26)))
			}
		}

		fake := &fakeSocket{eof: true}
		for off := 0; off < len(payload); {
			if rng.Intn(4) == 0 {
				fake.reads = append(fake.reads, fakeRead{err: errWouldBlock})
			}
			n := 1 + rng.Intn(len(payload)-off)
			fake.reads = append(fake.reads, fakeRead{data: payload[off : off+n]})
			off += n
		}
		if rng.Intn(2) == 0 {
			fake.writeCap = 1 + rng.Intn(7)
		}
		if rng.Intn(4) == 0 {
			fake.blockWrites = rng.Intn(3)
		}

		c := NewConnection(fake, 1)
		drive(t, c, 10000)

		require.True(t, c.IsClosed())
		assert.Equal(t, payload, fake.wrote, "echo must match input byte for byte")
	}
}
