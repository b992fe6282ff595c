package client

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by Send after Close, or on a Client that was
// never connected.
var ErrClosed = errors.New("client is closed")

// ConnectionError reports a failure to establish the connection:
// address resolution, socket creation or the connect handshake.
type ConnectionError struct {
	Addr string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to %s: %v", e.Addr, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// TransportError reports a failed read, write or close on an
// established connection.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
