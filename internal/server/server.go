// Package server is a DROCSID group-chat server. It accepts raw TCP and
// WebSocket clients on one port and serves the line protocol to both.
package server

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"

	"github.com/omochice/drocsid-chat/internal/clock"
	"github.com/omochice/drocsid-chat/pkg/protocol"
)

// ErrServerStopped is returned by Start after Stop.
var ErrServerStopped = errors.New("server stopped")

const handshakeTimeout = 5 * time.Second

// Options configures a Server. Zero fields take defaults.
type Options struct {
	ProbeInterval time.Duration
	IdleTimeout   time.Duration
	MaxLineLength int
	Clock         clock.Clock
	Logger        *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 15 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 60 * time.Second
	}
	if o.MaxLineLength <= 0 {
		o.MaxLineLength = protocol.DefaultMaxLineLength
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

// Server represents a DROCSID chat server
type Server struct {
	address  string
	opts     Options
	hub      *Hub
	listener net.Listener
	ready    chan struct{}
	sessions map[*session]bool
	nextID   atomic.Uint64
	mu       sync.RWMutex
	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a new Server instance
func New(address string, opts Options) *Server {
	return &Server{
		address:  address,
		opts:     opts.withDefaults(),
		hub:      NewHub(),
		ready:    make(chan struct{}),
		sessions: make(map[*session]bool),
		quit:     make(chan struct{}),
	}
}

// Start listens and serves until Stop is called. It always returns a
// non-nil error; ErrServerStopped after a clean Stop.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.ready)

	s.opts.Logger.Info("server started", "addr", listener.Addr().String())

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return ErrServerStopped
			default:
				s.opts.Logger.Warn("failed to accept connection", "error", err)
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Stop closes the listener and every client connection, then waits for
// all session goroutines to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)

		s.mu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		for sess := range s.sessions {
			sess.close()
		}
		s.mu.Unlock()

		s.wg.Wait()
	})
}

// Addr returns the server's listening address
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Hub exposes the user and group directory.
func (s *Server) Hub() *Hub {
	return s.hub
}

// handleConnection detects the transport and runs the session.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	proto, reader, err := detectProtocol(conn)
	if err != nil {
		s.opts.Logger.Debug("failed to peek connection", "error", err)
		_ = conn.Close()
		return
	}

	var c Connection
	id := fmt.Sprintf("%d", s.nextID.Add(1))
	switch proto {
	case protocolWebSocket:
		bc := &bufferedConn{Conn: conn, reader: reader}
		_ = conn.SetDeadline(time.Now().Add(handshakeTimeout))
		if _, err := ws.Upgrade(bc); err != nil {
			s.opts.Logger.Warn("failed to upgrade connection", "error", err)
			_ = conn.Close()
			return
		}
		_ = conn.SetDeadline(time.Time{})
		c = NewWebSocketConnection(conn, reader)
		id = "ws-" + id
	default:
		c = NewTCPConnection(conn, reader)
		id = "tcp-" + id
	}

	s.serve(newSession(id, c, s.hub, s.opts))
}

func (s *Server) serve(sess *session) {
	s.mu.Lock()
	select {
	case <-s.quit:
		s.mu.Unlock()
		sess.close()
		return
	default:
	}
	s.sessions[sess] = true
	s.mu.Unlock()

	sess.logger.Info("client connected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		sess.writeLoop()
	}()
	go func() {
		defer wg.Done()
		sess.livenessLoop(s.opts.ProbeInterval, s.opts.IdleTimeout)
	}()

	sess.reply(greeting)
	sess.readLoop()

	sess.close()
	wg.Wait()

	s.hub.Unregister(sess)
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}
