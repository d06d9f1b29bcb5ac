//go:build !linux

package ws

import (
	"net"
	"sync"
)

// Epoll provides a goroutine-per-connection fallback for non-Linux platforms
// so the relay can run on developer machines. Each connection is reported
// ready once, then again after the server calls Rearm.
type Epoll struct {
	mu      sync.Mutex
	conns   map[net.Conn]chan struct{} // conn -> rearm signal
	readyCh chan net.Conn
	done    chan struct{}
	closed  sync.Once
}

// NewEpoll creates a new fallback epoll instance.
func NewEpoll() (*Epoll, error) {
	return &Epoll{
		conns:   make(map[net.Conn]chan struct{}),
		readyCh: make(chan net.Conn, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add registers a connection and starts its monitor goroutine.
func (e *Epoll) Add(conn net.Conn) error {
	rearm := make(chan struct{}, 1)
	e.mu.Lock()
	e.conns[conn] = rearm
	e.mu.Unlock()

	go e.monitor(conn, rearm)
	return nil
}

// monitor reports the connection as ready, waits for the read worker to
// finish, and repeats until the connection is removed. The read worker blocks
// on the socket until a frame or the read deadline arrives.
func (e *Epoll) monitor(conn net.Conn, rearm chan struct{}) {
	for {
		select {
		case e.readyCh <- conn:
		case <-e.done:
			return
		}
		select {
		case _, ok := <-rearm:
			if !ok {
				return
			}
		case <-e.done:
			return
		}
	}
}

// Rearm signals that the connection's read worker finished.
func (e *Epoll) Rearm(conn net.Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	rearm, ok := e.conns[conn]
	if !ok {
		return nil
	}
	select {
	case rearm <- struct{}{}:
	default:
	}
	return nil
}

// Remove unregisters a connection from the fallback epoll.
func (e *Epoll) Remove(conn net.Conn) error {
	e.mu.Lock()
	rearm, ok := e.conns[conn]
	delete(e.conns, conn)
	e.mu.Unlock()
	if ok {
		close(rearm)
	}
	return nil
}

// Wait blocks until at least one connection is ready for reading. It
// collects all currently ready connections from the channel and returns them.
func (e *Epoll) Wait() ([]net.Conn, error) {
	var first net.Conn
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	conns := []net.Conn{first}
	for {
		select {
		case conn := <-e.readyCh:
			conns = append(conns, conn)
		default:
			return conns, nil
		}
	}
}

// Close shuts down the fallback epoll instance.
func (e *Epoll) Close() error {
	e.closed.Do(func() { close(e.done) })
	return nil
}
