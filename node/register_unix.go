//go:build linux
// +build linux

package node

import (
	"os"

	"golang.org/x/sys/unix"
)

const (
	readEvents  = unix.EPOLLPRI | unix.EPOLLIN
	writeEvents = unix.EPOLLOUT

	// Connection fds are edge-triggered and one-shot: a notification fires
	// once and the fd stays quiet until explicitly re-armed, so each
	// dispatch ends in exactly one re-arm or one eviction.
	oneshotEvents = unix.EPOLLET | unix.EPOLLONESHOT
)

// Registry is a wrapper around epoll. It keeps track of which fds are in
// the epoll set so arming can pick between ADD and MOD, and it stashes
// the table token in the event payload next to the fd.
type Registry struct {
	epollFd  int
	epollSet map[int]struct{}
}

func NewRegistry(epollFd int) *Registry {
	return &Registry{
		epollFd:  epollFd,
		epollSet: make(map[int]struct{}),
	}
}

// event builds the epoll payload: Fd carries the descriptor, Pad the
// token. The kernel round-trips both untouched.
func event(fd int, tok Token, events uint32) *unix.EpollEvent {
	return &unix.EpollEvent{Events: events, Fd: int32(fd), Pad: int32(tok)}
}

// armRead arms fd for a single read notification.
func (r *Registry) armRead(fd int, tok Token) error {
	return r.arm(fd, tok, readEvents|oneshotEvents)
}

// armWrite arms fd for a single write notification.
func (r *Registry) armWrite(fd int, tok Token) error {
	return r.arm(fd, tok, writeEvents|oneshotEvents)
}

func (r *Registry) arm(fd int, tok Token, events uint32) error {
	if _, ok := r.epollSet[fd]; ok {
		return os.NewSyscallError("epoll_ctl mod",
			unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_MOD, fd, event(fd, tok, events)))
	}
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_ADD, fd, event(fd, tok, events)); err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	r.epollSet[fd] = struct{}{}
	return nil
}

// addPersistent registers fd edge-triggered without one-shot. The
// listener and the wake fd use it: their handlers drain until EAGAIN
// instead of re-arming.
func (r *Registry) addPersistent(fd int, tok Token) error {
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_ADD, fd,
		event(fd, tok, readEvents|unix.EPOLLET)); err != nil {
		return os.NewSyscallError("epoll_ctl add", err)
	}
	r.epollSet[fd] = struct{}{}
	return nil
}

// unregister removes fd from the epoll set. Unknown fds are a no-op.
func (r *Registry) unregister(fd int) error {
	if _, ok := r.epollSet[fd]; !ok {
		return nil
	}
	delete(r.epollSet, fd)
	if err := unix.EpollCtl(r.epollFd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return os.NewSyscallError("epoll_ctl del", err)
	}
	return nil
}
