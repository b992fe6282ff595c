package server

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"time"
)

type protocolType int

const (
	protocolTCP protocolType = iota
	protocolWebSocket
)

// detectTimeout bounds how long detection waits for the first bytes. A
// line-protocol client may stay silent until it sees the greeting.
const detectTimeout = 250 * time.Millisecond

// httpMethods are the request prefixes that mark a WebSocket handshake.
var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"), // OPTIONS
}

// detectProtocol peeks at the first bytes to tell a WebSocket upgrade
// request from a raw line-protocol client. The returned reader replays
// the peeked bytes before reading from conn.
func detectProtocol(conn net.Conn) (protocolType, io.Reader, error) {
	reader := bufio.NewReader(conn)

	_ = conn.SetReadDeadline(time.Now().Add(detectTimeout))
	peek, err := reader.Peek(4)
	_ = conn.SetReadDeadline(time.Time{})

	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			// bufio keeps the timeout error; hand the buffered bytes to a
			// fresh reader instead.
			buffered, _ := reader.Peek(reader.Buffered())
			replay := bytes.Clone(buffered)
			return protocolTCP, io.MultiReader(bytes.NewReader(replay), conn), nil
		}
		return protocolTCP, reader, err
	}

	for _, method := range httpMethods {
		if bytes.HasPrefix(peek, method) {
			return protocolWebSocket, reader, nil
		}
	}
	return protocolTCP, reader, nil
}

// bufferedConn wraps a net.Conn with a reader that holds peeked data
type bufferedConn struct {
	net.Conn
	reader io.Reader
}

func (bc *bufferedConn) Read(p []byte) (int, error) {
	return bc.reader.Read(p)
}
