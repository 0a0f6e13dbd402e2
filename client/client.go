package client

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"time"
)

// Client is a blocking, line-oriented client for the echo server: write a
// newline-terminated line, read one back.
type Client struct {
	conn net.Conn
	r    *bufio.Reader
}

// Dial connects to a running server.
func Dial(addr string) (*Client, error) {
	return DialTimeout(addr, 0)
}

// DialTimeout connects with a dial timeout; zero waits forever.
func DialTimeout(addr string, timeout time.Duration) (*Client, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return &Client{conn: conn, r: bufio.NewReader(conn)}, nil
}

// Echo sends one line and returns the echoed line, terminator included.
// A terminator is appended when line does not already end in one.
func (c *Client) Echo(line string) (string, error) {
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	if err := c.Send([]byte(line)); err != nil {
		return "", err
	}
	return c.ReadLine()
}

// Send writes raw bytes to the server.
func (c *Client) Send(p []byte) error {
	_, err := c.conn.Write(p)
	return err
}

// ReadLine reads through the next line terminator.
func (c *Client) ReadLine() (string, error) {
	return c.r.ReadString('\n')
}

// SetDeadline bounds the next I/O calls in both directions.
func (c *Client) SetDeadline(t time.Time) error {
	return c.conn.SetDeadline(t)
}

// CloseWrite shuts down the sending half, telling the server this client
// is done. Anything the server still holds for us comes back before it
// closes.
func (c *Client) CloseWrite() error {
	tc, ok := c.conn.(*net.TCPConn)
	if !ok {
		return fmt.Errorf("connection does not support half-close")
	}
	return tc.CloseWrite()
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

// RemoteAddr reports the server address this client is connected to.
func (c *Client) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}
