//go:build linux

package ws

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// readEvents arms a descriptor for exactly one readiness report. The read
// worker re-arms it with Rearm once the frame is consumed, so a connection
// is never reported to two workers at once.
const readEvents = unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLONESHOT

// waitTimeoutMs bounds each epoll_wait so the event loop notices shutdown.
const waitTimeoutMs = 200

// Epoll multiplexes connection reads over one epoll instance. Descriptors
// are recorded when a connection is added and never re-derived, so a
// connection closed by another path can still be unregistered.
type Epoll struct {
	fd     int
	events []unix.EpollEvent

	mu   sync.RWMutex
	byFd map[int]net.Conn
	fdOf map[net.Conn]int
}

// NewEpoll creates an epoll instance.
func NewEpoll() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	return &Epoll{
		fd:     fd,
		events: make([]unix.EpollEvent, 128),
		byFd:   make(map[int]net.Conn),
		fdOf:   make(map[net.Conn]int),
	}, nil
}

// Add registers conn and arms it for one read.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	if fd < 0 {
		return errors.New("epoll: connection has no socket descriptor")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll add fd %d: %w", fd, err)
	}
	e.byFd[fd] = conn
	e.fdOf[conn] = fd
	return nil
}

// Rearm arms conn for its next read. Unknown connections are ignored.
func (e *Epoll) Rearm(conn net.Conn) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	fd, ok := e.fdOf[conn]
	if !ok {
		return nil
	}
	ev := unix.EpollEvent{Events: readEvents, Fd: int32(fd)}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll rearm fd %d: %w", fd, err)
	}
	return nil
}

// Remove unregisters conn. A descriptor the kernel already dropped because
// the socket was closed is not an error.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	fd, ok := e.fdOf[conn]
	if !ok {
		return nil
	}
	delete(e.fdOf, conn)
	if e.byFd[fd] != conn {
		// The descriptor number was reused by a newer connection.
		return nil
	}
	delete(e.byFd, fd)

	err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, fd, nil)
	if err != nil && !errors.Is(err, unix.ENOENT) && !errors.Is(err, unix.EBADF) {
		return fmt.Errorf("epoll remove fd %d: %w", fd, err)
	}
	return nil
}

// Wait returns the connections that became readable, or none after
// waitTimeoutMs.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.fd, e.events, waitTimeoutMs)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	conns := make([]net.Conn, 0, n)
	for _, ev := range e.events[:n] {
		if conn, ok := e.byFd[int(ev.Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	return conns, nil
}

// Close releases the epoll instance.
func (e *Epoll) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.byFd = make(map[int]net.Conn)
	e.fdOf = make(map[net.Conn]int)
	return unix.Close(e.fd)
}

// socketFD returns the descriptor behind conn without duplicating it, or -1
// when conn is not backed by a socket.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	if err := raw.Control(func(sfd uintptr) { fd = int(sfd) }); err != nil {
		return -1
	}
	return fd
}
