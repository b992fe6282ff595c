package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	// NetworkTCP carries the line protocol on a raw TCP stream.
	NetworkTCP = "tcp"
	// NetworkWebSocket carries the line protocol in WebSocket text frames.
	NetworkWebSocket = "ws"
)

// closeGrace bounds how long a WebSocket close frame may take to write.
const closeGrace = time.Second

// Transport is the byte stream the client speaks the protocol over.
// Read is only called by the reader goroutine; Write may be called
// concurrently and must be serialised by the caller.
type Transport interface {
	// Write sends data to the server
	Write(data []byte) (int, error)

	// Read receives data from the server
	Read(buf []byte) (int, error)

	// Close closes the connection and unblocks a pending Read
	Close() error

	// RemoteAddr returns the server address
	RemoteAddr() net.Addr
}

// TCPTransport wraps net.Conn for TCP connections
type TCPTransport struct {
	conn net.Conn
}

// NewTCPTransport creates a new TCP transport wrapper
func NewTCPTransport(conn net.Conn) *TCPTransport {
	return &TCPTransport{conn: conn}
}

func (tt *TCPTransport) Write(data []byte) (int, error) {
	return tt.conn.Write(data)
}

func (tt *TCPTransport) Read(buf []byte) (int, error) {
	return tt.conn.Read(buf)
}

func (tt *TCPTransport) Close() error {
	return tt.conn.Close()
}

func (tt *TCPTransport) RemoteAddr() net.Addr {
	return tt.conn.RemoteAddr()
}

// WebSocketTransport carries the byte stream in WebSocket text messages
// using gobwas/ws. Each Write is one message; inbound messages are
// flattened back into a stream, so line framing is unchanged.
type WebSocketTransport struct {
	conn    net.Conn
	rw      io.ReadWriter
	writeMu sync.Mutex
	pending []byte
}

// NewWebSocketTransport wraps an upgraded client connection. br is the
// reader returned by the handshake and may be nil.
func NewWebSocketTransport(conn net.Conn, br io.Reader) *WebSocketTransport {
	wt := &WebSocketTransport{conn: conn}
	var r io.Reader = conn
	if br != nil {
		r = br
	}
	// Control frame replies (pong, close) go through the same lock as
	// data frames.
	wt.rw = struct {
		io.Reader
		io.Writer
	}{r, lockedWriter{wt}}
	return wt
}

type lockedWriter struct{ wt *WebSocketTransport }

func (lw lockedWriter) Write(p []byte) (int, error) {
	lw.wt.writeMu.Lock()
	defer lw.wt.writeMu.Unlock()
	return lw.wt.conn.Write(p)
}

func (wt *WebSocketTransport) Write(data []byte) (int, error) {
	wt.writeMu.Lock()
	defer wt.writeMu.Unlock()

	if err := wsutil.WriteClientText(wt.conn, data); err != nil {
		return 0, err
	}
	return len(data), nil
}

func (wt *WebSocketTransport) Read(buf []byte) (int, error) {
	if len(wt.pending) > 0 {
		n := copy(buf, wt.pending)
		wt.pending = wt.pending[n:]
		return n, nil
	}

	data, _, err := wsutil.ReadServerData(wt.rw)
	if err != nil {
		return 0, err
	}

	n := copy(buf, data)
	wt.pending = data[n:]
	return n, nil
}

func (wt *WebSocketTransport) Close() error {
	// A writer stuck on a full send buffer is released by the deadline.
	_ = wt.conn.SetWriteDeadline(time.Now().Add(closeGrace))

	wt.writeMu.Lock()
	body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
	_ = wsutil.WriteClientMessage(wt.conn, ws.OpClose, body)
	wt.writeMu.Unlock()

	return wt.conn.Close()
}

func (wt *WebSocketTransport) RemoteAddr() net.Addr {
	return wt.conn.RemoteAddr()
}

// dialTransport establishes the transport selected by opts.Network.
func dialTransport(ctx context.Context, opts Options) (Transport, error) {
	addr := opts.Address()

	switch opts.Network {
	case NetworkTCP, "":
		dialer := net.Dialer{Timeout: opts.DialTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, err
		}
		return NewTCPTransport(conn), nil

	case NetworkWebSocket:
		u := url.URL{Scheme: "ws", Host: addr, Path: opts.WSPath}
		dialer := ws.Dialer{Timeout: opts.DialTimeout}
		conn, br, _, err := dialer.Dial(ctx, u.String())
		if err != nil {
			return nil, err
		}
		var r io.Reader
		if br != nil {
			// Frames that arrived with the handshake response sit in the
			// pooled reader. Copy them out so it can go back to the pool.
			buffered := make([]byte, br.Buffered())
			if _, err := io.ReadFull(br, buffered); err != nil {
				_ = conn.Close()
				return nil, err
			}
			ws.PutReader(br)
			r = io.MultiReader(bytes.NewReader(buffered), conn)
		}
		return NewWebSocketTransport(conn, r), nil

	default:
		return nil, fmt.Errorf("unsupported network %q", opts.Network)
	}
}
