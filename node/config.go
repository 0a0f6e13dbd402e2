package node

import "fmt"

const (
	// DefaultPort is where the server listens unless configured otherwise.
	DefaultPort = 6567

	// DefaultMaxConns caps the connection table.
	DefaultMaxConns = 1024
)

// Config carries the externally configured wiring: where to listen and how
// many concurrent connections to hold.
type Config struct {
	// Addr is the TCP listen address, e.g. ":6567".
	Addr string

	// MaxConns bounds the connection table. Sockets accepted past the
	// limit are turned away while existing connections keep being served.
	MaxConns int
}

func DefaultConfig() Config {
	return Config{
		Addr:     fmt.Sprintf(":%d", DefaultPort),
		MaxConns: DefaultMaxConns,
	}
}
