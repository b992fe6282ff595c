package server

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// Connection represents a client connection (TCP or WebSocket)
type Connection interface {
	// RemoteAddr returns the remote address
	RemoteAddr() net.Addr

	// Write sends data to the client
	Write(data []byte) (int, error)

	// Read receives data from the client
	Read(buf []byte) (int, error)

	// Close closes the connection
	Close() error
}

// TCPConnection wraps a net.Conn for TCP connections
type TCPConnection struct {
	conn   net.Conn
	reader io.Reader
}

// NewTCPConnection creates a new TCPConnection. reader replaces conn as
// the read side when protocol detection already buffered some bytes.
func NewTCPConnection(conn net.Conn, reader io.Reader) *TCPConnection {
	if reader == nil {
		reader = conn
	}
	return &TCPConnection{conn: conn, reader: reader}
}

func (tc *TCPConnection) RemoteAddr() net.Addr {
	return tc.conn.RemoteAddr()
}

func (tc *TCPConnection) Write(data []byte) (int, error) {
	return tc.conn.Write(data)
}

func (tc *TCPConnection) Read(buf []byte) (int, error) {
	return tc.reader.Read(buf)
}

func (tc *TCPConnection) Close() error {
	return tc.conn.Close()
}

// WebSocketConnection carries the line protocol in WebSocket text
// messages using gobwas/ws.
type WebSocketConnection struct {
	conn    net.Conn
	rw      io.ReadWriter
	mu      sync.Mutex
	pending []byte
}

// NewWebSocketConnection wraps an upgraded connection. reader is the
// read side left over from protocol detection and may be nil.
func NewWebSocketConnection(conn net.Conn, reader io.Reader) *WebSocketConnection {
	if reader == nil {
		reader = conn
	}
	wc := &WebSocketConnection{conn: conn}
	wc.rw = struct {
		io.Reader
		io.Writer
	}{reader, controlWriter{wc}}
	return wc
}

// controlWriter serialises control frame replies with data frames.
type controlWriter struct{ wc *WebSocketConnection }

func (cw controlWriter) Write(p []byte) (int, error) {
	cw.wc.mu.Lock()
	defer cw.wc.mu.Unlock()
	return cw.wc.conn.Write(p)
}

func (wc *WebSocketConnection) RemoteAddr() net.Addr {
	return wc.conn.RemoteAddr()
}

func (wc *WebSocketConnection) Write(data []byte) (int, error) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if err := wsutil.WriteServerText(wc.conn, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (wc *WebSocketConnection) Read(buf []byte) (int, error) {
	if len(wc.pending) > 0 {
		n := copy(buf, wc.pending)
		wc.pending = wc.pending[n:]
		return n, nil
	}

	data, _, err := wsutil.ReadClientData(wc.rw)
	if err != nil {
		return 0, err
	}

	n := copy(buf, data)
	wc.pending = data[n:]
	return n, nil
}

func (wc *WebSocketConnection) Close() error {
	_ = wc.conn.SetWriteDeadline(time.Now().Add(time.Second))

	wc.mu.Lock()
	_ = wsutil.WriteServerMessage(wc.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusNormalClosure, ""))
	wc.mu.Unlock()
	return wc.conn.Close()
}
