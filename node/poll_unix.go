//go:build linux
// +build linux

package node

import (
	"fmt"
	"net"
	"os"
	"sync/atomic"

	"github.com/fzft/go-pingpong/log"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// https://copyconstruct.medium.com/the-method-to-epolls-madness-d9d2d6378642

// Poll owns the epoll instance and drives the wait-dispatch cycle: accept
// on the listener token, read or write dispatch on connection tokens,
// task draining on the wake token. Everything here runs on one goroutine;
// other goroutines only ever touch it through Submit.
type Poll struct {
	*Registry
	epollFd int
	lnFile  *os.File
	lnFd    int
	efd     int
	table   *Slab[Connection]
	tasks   *taskQueue
	done    chan struct{}
	closing atomic.Bool
	stop    bool
}

// NewPoll builds the epoll set with the listener and the wake fd already
// registered. Both stay edge-triggered without one-shot; their handlers
// drain until EAGAIN instead of re-arming.
func NewPoll(lnFile *os.File, maxConns int) (*Poll, error) {
	// Create a new epoll instance
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create epoll", zap.Error(err))
		return nil, err
	}

	r := NewRegistry(epfd)

	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		log.Logger.Error("Failed to create eventfd", zap.Error(err))
		unix.Close(epfd)
		return nil, err
	}

	if err := r.addPersistent(efd, tokenWake); err != nil {
		log.Logger.Error("Failed to add eventfd to epoll", zap.Error(err))
		unix.Close(efd)
		unix.Close(epfd)
		return nil, err
	}

	lnFd := int(lnFile.Fd())
	// Fd can flip the descriptor back to blocking mode, so it must stay
	// the last Fd call on lnFile. Set non-blocking again or the accept
	// drain parks the loop in accept instead of seeing EAGAIN.
	if err := unix.SetNonblock(lnFd, true); err != nil {
		log.Logger.Error("Failed to set listener nonblocking", zap.Error(err))
		unix.Close(efd)
		unix.Close(epfd)
		return nil, err
	}
	if err := r.addPersistent(lnFd, TokenServer); err != nil {
		log.Logger.Error("Failed to add listener to epoll", zap.Error(err))
		unix.Close(efd)
		unix.Close(epfd)
		return nil, err
	}

	poll := &Poll{
		Registry: r,
		epollFd:  epfd,
		lnFile:   lnFile,
		lnFd:     lnFd,
		efd:      efd,
		table:    NewSlab[Connection](TokenServer+1, maxConns),
		tasks:    newTaskQueue(),
		done:     make(chan struct{}),
	}

	return poll, nil
}

// Done is closed once the loop has exited and teardown finished.
func (p *Poll) Done() <-chan struct{} { return p.done }

// Submit queues task to run on the loop goroutine and wakes the loop.
func (p *Poll) Submit(task func()) error {
	p.tasks.push(task)
	return p.wake()
}

// Stop asks the loop to exit and tear everything down.
func (p *Poll) Stop() error {
	return p.Submit(func() { p.stop = true })
}

func (p *Poll) wake() error {
	if p.closing.Load() {
		return nil
	}
	var buf [8]byte
	buf[0] = 1
	if _, err := unix.Write(p.efd, buf[:]); err != nil && err != unix.EAGAIN {
		log.Logger.Error("Failed to write to event fd", zap.Error(err))
		return err
	}
	return nil
}

func (p *Poll) poll() {
	events := make([]unix.EpollEvent, p.table.Cap()+2)
	msec := -1

	defer close(p.done)

	// handle cleanup if necessary,
	defer p.closeGracefully()

	for {
		// EpollWait blocks until there is an event to report
		n, err := unix.EpollWait(p.epollFd, events, msec)
		if n == 0 || (n < 0 && err == unix.EINTR) {
			continue
		} else if err != nil {
			log.Logger.Error("epoll wait error", zap.Error(err))
			return
		}

		for i := 0; i < n; i++ {
			ev := &events[i]
			err := p.processEvent(ev)
			switch err {
			case nil:
			case ErrSignalStopped:
				log.Logger.Info("event loop stopped")
				return
			default:
				log.Logger.Error("Failed to process event", zap.Error(err))
				return
			}
		}
	}
}

// processEvent routes one notification by its token. Connection-level
// trouble is settled inside dispatch; an error returned from here kills
// the loop.
func (p *Poll) processEvent(ev *unix.EpollEvent) error {
	failed := ev.Events&unix.EPOLLERR != 0 || ev.Events&unix.EPOLLHUP != 0

	switch tok := Token(ev.Pad); tok {
	case tokenWake:
		return p.handleWake()
	case TokenServer:
		if failed {
			return fmt.Errorf("listener error events: %#x", ev.Events)
		}
		return p.accept()
	default:
		p.dispatch(tok, ev)
		return nil
	}
}

// dispatch routes one readiness notification to its connection and closes
// the cycle: every path ends in exactly one re-arm or one eviction.
func (p *Poll) dispatch(tok Token, ev *unix.EpollEvent) {
	c, ok := p.table.Get(tok)
	if !ok {
		// One-shot arming makes this unlikely: a notification for an
		// already evicted token. Nothing left to re-arm.
		log.Logger.Warn("event for unknown token",
			zap.Int("token", int(tok)), zap.Int32("fd", ev.Fd))
		return
	}

	if ev.Events&unix.EPOLLERR != 0 || ev.Events&unix.EPOLLHUP != 0 {
		log.Logger.Debug("epoll error event", zap.Int("token", int(tok)), zap.Int32("fd", ev.Fd))
		c.fault()
	} else if ev.Events&unix.EPOLLIN != 0 {
		if err := c.OnReadable(); err != nil {
			log.Logger.Warn("connection read fault",
				zap.Int("token", int(tok)), zap.String("ip", c.Ip()), zap.Error(err))
		}
	} else if ev.Events&unix.EPOLLOUT != 0 {
		if err := c.OnWritable(); err != nil {
			log.Logger.Warn("connection write fault",
				zap.Int("token", int(tok)), zap.String("ip", c.Ip()), zap.Error(err))
		}
	}

	if c.IsClosed() {
		p.evict(tok, c)
		return
	}

	if err := p.rearm(c); err != nil {
		log.Logger.Warn("re-arm failed, dropping connection",
			zap.Int("token", int(tok)), zap.Error(err))
		c.fault()
		p.evict(tok, c)
	}
}

// rearm re-registers the connection for the readiness its state wants.
func (p *Poll) rearm(c *Connection) error {
	switch c.Desired() {
	case InterestRead:
		return p.armRead(c.Fd(), c.Token())
	case InterestWrite:
		return p.armWrite(c.Fd(), c.Token())
	default:
		return fmt.Errorf("connection %d wants no readiness", c.Token())
	}
}

// evict removes a finished connection: epoll first, then the socket, then
// the table slot.
func (p *Poll) evict(tok Token, c *Connection) {
	if err := p.unregister(c.Fd()); err != nil {
		log.Logger.Debug("Failed to delete fd from epoll", zap.Int("fd", c.Fd()), zap.Error(err))
	}
	if err := c.Close(); err != nil {
		log.Logger.Debug("Failed to close connection", zap.Int("fd", c.Fd()), zap.Error(err))
	}
	if _, ok := p.table.Remove(tok); !ok {
		log.Logger.Error("evicting unknown token", zap.Int("token", int(tok)))
		return
	}
	log.Logger.Info("removing connection",
		zap.Int("token", int(tok)),
		zap.Int("left", p.table.Count()))
}

// accept drains the listener. One edge-triggered notification may cover
// any number of pending connections, and "not ready yet" just ends the
// drain.
func (p *Poll) accept() error {
	for {
		connFd, sa, err := unix.Accept(p.lnFd)
		if err != nil {
			// No more connections to accept right now.
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return nil
			}
			if err == unix.EINTR {
				continue
			}
			log.Logger.Error("accept error", zap.Error(err))
			return fmt.Errorf("accept error: %w", err)
		}

		// set the socket to non-blocking mode
		if err := unix.SetNonblock(connFd, true); err != nil {
			log.Logger.Error("set nonblock error", zap.Int("fd", connFd), zap.Error(err))
			unix.Close(connFd)
			continue
		}

		ip := sockaddrIP(sa)

		tok, err := p.table.Insert(func(tok Token) *Connection {
			return NewConnection(&fdSocket{fd: connFd, ip: ip}, tok)
		})
		if err != nil {
			// Table full: turn this socket away, keep serving the rest.
			log.Logger.Warn("connection rejected",
				zap.String("ip", ip),
				zap.Int("live", p.table.Count()),
				zap.Error(err))
			unix.Close(connFd)
			continue
		}

		if err := p.armRead(connFd, tok); err != nil {
			log.Logger.Error("register read error", zap.Int("fd", connFd), zap.Error(err))
			if c, ok := p.table.Remove(tok); ok {
				c.Close()
			}
			continue
		}

		log.Logger.Info("accepted connection",
			zap.Int("token", int(tok)),
			zap.Int("fd", connFd),
			zap.String("ip", ip),
			zap.Int("live", p.table.Count()))
	}
}

// handleWake drains the eventfd counter and runs queued tasks. A stop
// task flips p.stop, which ends the loop from here.
func (p *Poll) handleWake() error {
	var buf [8]byte
	for {
		if _, err := unix.Read(p.efd, buf[:]); err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				break
			}
			if err == unix.EINTR {
				continue
			}
			log.Logger.Error("Failed to read from event fd", zap.Error(err))
			return fmt.Errorf("event fd read error: %w", err)
		}
	}

	p.tasks.drain()

	if p.stop {
		return ErrSignalStopped
	}
	return nil
}

// closeGracefully order: eventfd, listener, connections, epoll
// prevent the fd leak
func (p *Poll) closeGracefully() {
	p.closing.Store(true)

	// close the eventfd fd
	if err := p.unregister(p.efd); err != nil {
		log.Logger.Debug("Failed to delete eventfd from epoll", zap.Error(err))
	}

	if err := CloseFd(p.efd); err != nil {
		log.Logger.Debug("Failed to close eventfd", zap.Error(err))
	}

	// close the listener fd
	if err := p.unregister(p.lnFd); err != nil {
		log.Logger.Debug("Failed to delete listener from epoll", zap.Error(err))
	}

	if err := p.lnFile.Close(); err != nil {
		log.Logger.Debug("Failed to close listener", zap.Error(err))
	}

	// close all connections
	if err := p.closeConnections(); err != nil {
		log.Logger.Debug("Failed to close connections", zap.Error(err))
	}

	// close the epoll fd
	if err := CloseFd(p.epollFd); err != nil {
		log.Logger.Info("Failed to close epoll", zap.Error(err))
	}
}

// closeConnections evicts every live connection during teardown.
func (p *Poll) closeConnections() error {
	var errs MultiError

	var toks []Token
	p.table.Range(func(tok Token, _ *Connection) bool {
		toks = append(toks, tok)
		return true
	})

	for _, tok := range toks {
		c, ok := p.table.Remove(tok)
		if !ok {
			continue
		}
		if err := p.unregister(c.Fd()); err != nil {
			errs = append(errs, fmt.Errorf("delete fd: %d error: %v", c.Fd(), err))
		}
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close fd: %d error: %v", c.Fd(), err))
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func sockaddrIP(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]).String()
	case *unix.SockaddrInet6:
		return net.IP(addr.Addr[:]).String()
	default:
		return ""
	}
}
