//go:build linux
// +build linux

package node

import (
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fzft/go-pingpong/log"
	"go.uber.org/zap"
)

// Server owns the listening socket and the reactor driving its poll loop.
type Server struct {
	cfg     Config
	ln      net.Listener
	reactor *Reactor
	sigCh   chan os.Signal
}

func NewServer(addr string) *Server {
	return NewServerWithConfig(Config{Addr: addr})
}

func NewServerWithConfig(cfg Config) *Server {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.MaxConns <= 0 {
		cfg.MaxConns = def.MaxConns
	}
	return &Server{cfg: cfg}
}

// Start binds the listener and launches the event loop. It does not
// block; pair it with Stop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		log.Logger.Error("listen error: ", zap.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	reactor, err := NewReactor(ln, sigCh, s.cfg.MaxConns)
	if err != nil {
		signal.Stop(sigCh)
		ln.Close()
		return err
	}

	s.ln = ln
	s.sigCh = sigCh
	s.reactor = reactor
	reactor.Start()

	log.Logger.Info("listening on ",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_conns", s.cfg.MaxConns))
	return nil
}

// Run starts the server and blocks until a stop signal arrives or the
// loop dies on its own, then tears down.
func (s *Server) Run() error {
	if err := s.Start(); err != nil {
		return err
	}
	s.reactor.Wait()
	s.Stop()
	log.Logger.Info("shutting down server")
	return nil
}

// Stop shuts the loop down and releases the listener. Safe to call more
// than once and after Run has returned.
func (s *Server) Stop() {
	if s.reactor == nil {
		return
	}
	s.reactor.Stop()
	signal.Stop(s.sigCh)
	if err := s.ln.Close(); err != nil {
		log.Logger.Debug("listener close", zap.Error(err))
	}
}

// Addr reports the listener's actual address, handy with ":0".
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}
