// Package ws handles WebSocket connection management, including upgrading
// HTTP connections, maintaining active client connections, and dispatching
// incoming messages to the appropriate handlers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/fefudrive/tripchat/internal/metrics"
	"github.com/fefudrive/tripchat/internal/protocol"
)

// MaxFrameSize is the largest client frame that is processed. Larger frames
// are read and discarded.
const MaxFrameSize = 64 << 10

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string        // address to listen on, e.g. ":8080"
	WorkerPoolSize int           // max concurrent read-worker goroutines
	MaxConnections int           // hard cap on total connections
	ReadTimeout    time.Duration // timeout for WebSocket read operations
	WriteTimeout   time.Duration // timeout for WebSocket write operations
	SendBuffer     int           // per-connection outbound queue length
	Heartbeat      HeartbeatConfig
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendBuffer:     256,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Authenticator resolves the principal of an upgrade request. An empty id
// with a nil error admits the connection anonymously.
type Authenticator interface {
	Authenticate(r *http.Request) (string, error)
}

// Limiter throttles upgrades per client address.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (bool, error)
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// upgrades HTTP connections to WebSocket, registers them with an epoll
// instance for I/O readiness notifications, and dispatches ready
// connections to a bounded worker pool for frame reading.
type Server struct {
	config       ServerConfig
	epoll        *Epoll
	conns        *ConnectionManager
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onConnect    func(connID, userID string)         // called after a connection is registered
	onDisconnect func(connID string)                 // called when a connection is removed
	auth         Authenticator
	limiter      Limiter
	roomStats    func() (rooms, histories int)
	httpServer   *http.Server
	done         chan struct{}
	shutdownOnce sync.Once
	startedAt    time.Time // server start time for uptime calculation
}

// NewServer creates a Server with the given configuration and message
// callback. onMessage receives every complete text frame; frames of one
// connection are delivered one at a time in arrival order, frames of
// different connections concurrently.
func NewServer(config ServerConfig, onMessage func(conn *Connection, data []byte)) *Server {
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DefaultServerConfig().WorkerPoolSize
	}
	return &Server{
		config:     config,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		done:       make(chan struct{}),
	}
}

// SetOnConnect registers a callback invoked once a connection is registered
// and its "connected" frame is queued, before any of its frames are read.
func (s *Server) SetOnConnect(fn func(connID, userID string)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (due to read error, heartbeat timeout, or graceful close).
func (s *Server) SetOnDisconnect(fn func(connID string)) {
	s.onDisconnect = fn
}

// SetAuthenticator requires upgrades to pass a.
func (s *Server) SetAuthenticator(a Authenticator) {
	s.auth = a
}

// SetLimiter throttles upgrades per client address.
func (s *Server) SetLimiter(l Limiter) {
	s.limiter = l
}

// SetRoomStats provides the occupied room and retained history counts
// reported by /health.
func (s *Server) SetRoomStats(fn func() (rooms, histories int)) {
	s.roomStats = fn
}

// Init creates the epoll instance and starts the event loop and heartbeat.
// Start calls it; tests serving Handler through their own listener call it
// directly.
func (s *Server) Init() error {
	var err error
	s.epoll, err = NewEpoll()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}
	s.startedAt = time.Now()

	go s.startEventLoop()
	StartHeartbeat(s, s.config.Heartbeat)
	return nil
}

// Handler returns the HTTP routes: /ws, /health and /metrics.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleUpgrade)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

// Start initializes the server and blocks on http.Server.ListenAndServe.
func (s *Server) Start() error {
	if err := s.Init(); err != nil {
		return err
	}

	s.httpServer = &http.Server{
		Addr:              s.config.ListenAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: s.config.ReadTimeout,
	}

	log.Info().Str("module", "ws").Str("addr", s.config.ListenAddr).
		Int("workers", s.config.WorkerPoolSize).Int("max_conns", s.config.MaxConnections).
		Msg("server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade checks capacity, rate limit and credentials, then upgrades
// the request with the gobwas/ws zero-copy upgrader. On success it registers
// the Connection with the connection manager and epoll instance.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		metrics.UpgradesRejected.WithLabelValues("capacity").Inc()
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	ip := clientIP(r)
	if s.limiter != nil {
		allowed, err := s.limiter.Allow(r.Context(), ip)
		if err != nil {
			log.Warn().Str("module", "ws").Str("ip", ip).Err(err).Msg("rate limiter unavailable")
		}
		if !allowed {
			metrics.UpgradesRejected.WithLabelValues("rate_limited").Inc()
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
	}

	var userID string
	if s.auth != nil {
		var err error
		userID, err = s.auth.Authenticate(r)
		if err != nil {
			metrics.UpgradesRejected.WithLabelValues("unauthorized").Inc()
			log.Debug().Str("module", "ws").Str("ip", ip).Err(err).Msg("upgrade rejected")
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Debug().Str("module", "ws").Str("ip", ip).Err(err).Msg("upgrade failed")
		return
	}

	c := newConnection(uuid.New().String(), conn, s.config.SendBuffer)
	c.UserID = userID
	c.RemoteAddr = ip

	c.onWriteError = s.RemoveConnection
	s.conns.Add(c)
	go c.writeLoop(s.config.WriteTimeout)
	metrics.ConnectionsTotal.Inc()

	connected, err := protocol.NewServerMessage(protocol.TypeConnected, protocol.ConnectedMsg{SocketID: c.ID})
	if err == nil {
		err = c.Enqueue(connected)
	}
	if err != nil {
		log.Warn().Str("module", "ws").Str("session", c.ID).Err(err).Msg("queue connected frame")
	}

	if s.onConnect != nil {
		s.onConnect(c.ID, c.UserID)
	}

	// Reads start only after the session is known to the application.
	if err := s.epoll.Add(conn); err != nil {
		log.Error().Str("module", "ws").Str("session", c.ID).Err(err).Msg("epoll add failed")
		s.RemoveConnection(c)
		return
	}

	log.Info().Str("module", "ws").Str("session", c.ID).Str("user", userID).Str("ip", ip).
		Int("total", s.conns.Count()).Msg("new connection")
}

// handleHealth responds with the server's health status as JSON, including the
// current connection count and uptime. It is used by the load balancer for
// health checks.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	var rooms, histories int
	if s.roomStats != nil {
		rooms, histories = s.roomStats()
	}

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Rooms       int    `json:"rooms"`
		Histories   int    `json:"histories"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Rooms:       rooms,
		Histories:   histories,
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop. Each ready connection gets a
// worker from the bounded pool that reads one frame and re-arms the
// connection. Handling the frame happens off the worker, so a slow handler
// never holds a read slot.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conns, err := s.epoll.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Error().Str("module", "ws").Err(err).Msg("epoll wait error")
				continue
			}
		}

		for _, conn := range conns {
			conn := conn

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				s.handleConn(conn)
				if err := s.epoll.Rearm(conn); err != nil {
					log.Debug().Str("module", "ws").Err(err).Msg("rearm failed")
				}
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. Data frames are queued for
// the connection's in-order handler. If the read fails (connection closed,
// protocol error, etc.) the connection is removed.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// The heartbeat handles dead connections.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	// Any frame proves the connection is alive.
	c.Touch()

	if header.OpCode.IsControl() {
		if header.OpCode == ws.OpClose {
			s.RemoveConnection(c)
			return
		}
		// Pong/ping: consume the payload, nothing else to do.
		if header.Length > 0 {
			_, _ = io.CopyN(io.Discard, reader, header.Length)
		}
		_ = netConn.SetReadDeadline(time.Time{})
		return
	}

	if header.Length > MaxFrameSize {
		_, err = io.CopyN(io.Discard, reader, header.Length)
		_ = netConn.SetReadDeadline(time.Time{})
		if err != nil {
			s.RemoveConnection(c)
			return
		}
		metrics.EventsDropped.WithLabelValues("frame_too_large").Inc()
		log.Debug().Str("module", "ws").Str("session", c.ID).Int64("len", header.Length).Msg("dropping oversized frame")
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err = io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}
	_ = netConn.SetReadDeadline(time.Time{})

	if len(data) == 0 || s.onMessage == nil {
		return
	}

	start, ok := c.pushInbound(data)
	if !ok {
		metrics.EventsDropped.WithLabelValues("inbound_full").Inc()
		log.Debug().Str("module", "ws").Str("session", c.ID).Msg("dropping frame, handler backlog full")
		return
	}
	if start {
		go s.drainInbound(c)
	}
}

// drainInbound hands pending frames to onMessage one at a time, in arrival
// order, until none is left.
func (s *Server) drainInbound(c *Connection) {
	for {
		data, ok := c.nextInbound()
		if !ok {
			return
		}
		s.onMessage(c, data)
	}
}

// RemoveConnection removes a connection from both epoll and the connection
// manager, closes it and notifies the application. It is safe to call from
// several goroutines; only the first call has an effect.
func (s *Server) RemoveConnection(c *Connection) {
	if s.epoll != nil {
		_ = s.epoll.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}
	metrics.ConnectionsTotal.Dec()

	if s.onDisconnect != nil {
		s.onDisconnect(c.ID)
	}

	log.Info().Str("module", "ws").Str("session", c.ID).Int("total", s.conns.Count()).Msg("connection closed")
}

// Send queues data for the connection identified by connID without
// blocking. It fails with ErrConnNotFound for unknown ids and
// ErrBackpressure when the connection's queue is full.
func (s *Server) Send(connID string, data []byte) error {
	c := s.conns.Get(connID)
	if c == nil {
		metrics.DeliveriesDropped.WithLabelValues("not_found").Inc()
		return fmt.Errorf("%w: %s", ErrConnNotFound, connID)
	}
	if err := c.Enqueue(data); err != nil {
		reason := "backpressure"
		if errors.Is(err, ErrConnClosed) {
			reason = "closed"
		}
		metrics.DeliveriesDropped.WithLabelValues(reason).Inc()
		return err
	}
	return nil
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener, signals the event loop to exit, closes all active connections
// (notifying the application of each), and cleans up the epoll instance.
// Later calls return nil.
func (s *Server) Shutdown(ctx context.Context) error {
	first := false
	s.shutdownOnce.Do(func() {
		first = true
		close(s.done)
	})
	if !first {
		return nil
	}
	log.Info().Str("module", "ws").Msg("shutting down server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			log.Error().Str("module", "ws").Err(err).Msg("http shutdown")
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	if s.epoll != nil {
		_ = s.epoll.Close()
	}

	log.Info().Str("module", "ws").Msg("server stopped, all connections closed")
	return nil
}

// clientIP returns the originating client address, honouring the first
// X-Forwarded-For hop set by the load balancer.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	return errors.Is(err, syscall.EINTR)
}
