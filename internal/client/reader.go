package client

import (
	"errors"
	"io"

	"github.com/omochice/drocsid-chat/pkg/protocol"
)

// readLoop consumes the transport until it fails or the client is
// closed, turning the byte stream into lines for the sink.
func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.disconnected)

	buf := make([]byte, c.opts.ReadChunkSize)
	lines := protocol.NewLineBuffer(c.opts.MaxLineLength)

	for c.alive.Load() {
		n, err := c.transport.Read(buf)
		if n > 0 {
			_, werr := lines.Write(buf[:n])
			c.drainLines(lines)
			if werr != nil {
				c.logger.Error("inbound line too long, stopping reader",
					"limit", c.opts.MaxLineLength, "error", werr)
				c.sink.Disconnected(werr)
				return
			}
		}

		if err != nil {
			if !c.alive.Load() {
				// Close unblocked the read.
				return
			}
			if errors.Is(err, io.EOF) {
				c.logger.Info("disconnected from server", "addr", c.RemoteAddr())
			} else {
				c.logger.Warn("disconnected from server", "addr", c.RemoteAddr(), "error", err)
			}
			c.sink.Disconnected(&TransportError{Op: "read", Err: err})
			return
		}
	}
}

func (c *Client) drainLines(lines *protocol.LineBuffer) {
	for {
		line, ok := lines.Next()
		if !ok {
			return
		}
		c.handleLine(line)
	}
}

func (c *Client) handleLine(line string) {
	switch protocol.Classify(line) {
	case protocol.LineEmpty:
	case protocol.LineProbe:
		if err := c.heartbeat(); err != nil {
			c.logger.Warn("failed to answer keepalive probe", "error", err)
			return
		}
		c.logger.Debug("answered keepalive probe")
	case protocol.LineEndOfMessage:
		c.sink.Line(line)
		c.sink.EndOfMessage()
	default:
		c.sink.Line(line)
	}
}
