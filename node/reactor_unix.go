//go:build linux
// +build linux

package node

import (
	"net"
	"os"
	"sync"

	"github.com/fzft/go-pingpong/log"
	"go.uber.org/zap"
)

// Reactor ties the poll loop to the process: it extracts the listening
// descriptor, owns the loop goroutine and turns process signals into a
// stop task.
type Reactor struct {
	poll   *Poll
	signal chan os.Signal
	once   sync.Once
}

func NewReactor(ln net.Listener, signal chan os.Signal, maxConns int) (*Reactor, error) {
	f, err := ln.(*net.TCPListener).File()
	if err != nil {
		log.Logger.Error("Failed to get listener fd", zap.Error(err))
		return nil, err
	}

	poll, err := NewPoll(f, maxConns)
	if err != nil {
		f.Close()
		return nil, err
	}

	return &Reactor{poll: poll, signal: signal}, nil
}

// Start launches the poll loop goroutine and returns immediately.
func (r *Reactor) Start() {
	go r.poll.poll()
}

// Wait blocks until the loop exits on its own or a process signal asks it
// to stop.
func (r *Reactor) Wait() {
	defer log.Logger.Info("reactor closed")

	select {
	case <-r.poll.Done():
	case sig := <-r.signal:
		log.Logger.Info("signal received", zap.String("signal", sig.String()))
		r.Stop()
	}
}

// Stop submits the stop task once and waits for teardown to finish. Safe
// to call repeatedly and after the loop has already exited.
func (r *Reactor) Stop() {
	r.once.Do(func() {
		if err := r.poll.Stop(); err != nil {
			log.Logger.Debug("stop submit failed", zap.Error(err))
		}
	})
	<-r.poll.Done()
}

// Done exposes loop completion.
func (r *Reactor) Done() <-chan struct{} { return r.poll.Done() }
