// Package client implements the DROCSID protocol engine: one connection
// shared by the caller's commands, an inbound reader goroutine and a
// keepalive goroutine.
package client

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/drocsid-chat/internal/clock"
	"github.com/omochice/drocsid-chat/internal/display"
	"github.com/omochice/drocsid-chat/pkg/protocol"
)

// Defaults applied by Options for zero fields.
const (
	DefaultKeepalivePeriod = 10 * time.Second
	DefaultIdleThreshold   = 10 * time.Second
	DefaultReadChunkSize   = 1024
	DefaultDialTimeout     = 5 * time.Second
	DefaultWSPath          = "/ws"
)

// Options configures a Client.
type Options struct {
	Host    string
	Port    int
	Network string // NetworkTCP or NetworkWebSocket
	WSPath  string

	DialTimeout     time.Duration
	KeepalivePeriod time.Duration
	IdleThreshold   time.Duration
	ReadChunkSize   int
	MaxLineLength   int

	Clock  clock.Clock
	Logger *slog.Logger
}

// Address returns host:port.
func (o Options) Address() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

func (o Options) withDefaults() Options {
	if o.Network == "" {
		o.Network = NetworkTCP
	}
	if o.WSPath == "" {
		o.WSPath = DefaultWSPath
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.KeepalivePeriod <= 0 {
		o.KeepalivePeriod = DefaultKeepalivePeriod
	}
	if o.IdleThreshold <= 0 {
		o.IdleThreshold = DefaultIdleThreshold
	}
	if o.ReadChunkSize <= 0 {
		o.ReadChunkSize = DefaultReadChunkSize
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

// Client owns the connection to the server. Send is safe for concurrent
// use; each call writes its whole frame before another may start.
type Client struct {
	opts      Options
	transport Transport
	sink      display.Sink
	logger    *slog.Logger

	writeMu  sync.Mutex
	lastSend atomic.Int64 // unix nanoseconds of the last successful send
	alive    atomic.Bool  // cleared once by Close, never set again

	done         chan struct{}
	disconnected chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
}

// Dial connects to the server described by opts and starts the reader
// and keepalive goroutines. Inbound lines are delivered to sink. Any
// failure before the connection is up is returned as *ConnectionError.
func Dial(ctx context.Context, opts Options, sink display.Sink) (*Client, error) {
	opts = opts.withDefaults()

	transport, err := dialTransport(ctx, opts)
	if err != nil {
		return nil, &ConnectionError{Addr: opts.Address(), Err: err}
	}

	opts.Logger.Info("connected", "addr", transport.RemoteAddr().String(), "network", opts.Network)
	return New(transport, opts, sink), nil
}

// New starts a Client over an already established transport.
func New(transport Transport, opts Options, sink display.Sink) *Client {
	opts = opts.withDefaults()
	if sink == nil {
		sink = display.Discard
	}

	c := &Client{
		opts:         opts,
		transport:    transport,
		sink:         sink,
		logger:       opts.Logger,
		done:         make(chan struct{}),
		disconnected: make(chan struct{}),
	}
	c.lastSend.Store(opts.Clock.Now().UnixNano())
	c.alive.Store(true)

	ka := &keepalive{
		clock:  opts.Clock,
		period: opts.KeepalivePeriod,
		idle:   opts.IdleThreshold,
		last:   c.LastActivity,
		send:   c.heartbeat,
		logger: c.logger,
	}

	c.wg.Add(2)
	go c.readLoop()
	go func() {
		defer c.wg.Done()
		ka.run(c.done)
	}()

	return c
}

// Send writes frame to the server and records the send time. Write
// failures are returned as *TransportError and are not retried.
func (c *Client) Send(frame []byte) error {
	if !c.alive.Load() {
		return ErrClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := writeFull(c.transport, frame); err != nil {
		return &TransportError{Op: "write", Err: err}
	}
	c.touch(c.opts.Clock.Now())
	return nil
}

// Dispatch encodes cmd and sends it as one frame.
func (c *Client) Dispatch(cmd protocol.Command) error {
	frame, err := cmd.Encode()
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// Login sends LOGIN name.
func (c *Client) Login(name string) error {
	return c.Dispatch(protocol.Login(name))
}

// CreateGroup sends CREAT group.
func (c *Client) CreateGroup(group string) error {
	return c.Dispatch(protocol.CreateGroup(group))
}

// EnterGroup sends ENTER group.
func (c *Client) EnterGroup(group string) error {
	return c.Dispatch(protocol.EnterGroup(group))
}

// LeaveGroup sends LEAVE group.
func (c *Client) LeaveGroup(group string) error {
	return c.Dispatch(protocol.LeaveGroup(group))
}

// ListMembers sends LSMEM group.
func (c *Client) ListMembers(group string) error {
	return c.Dispatch(protocol.ListMembers(group))
}

// SendGroupMessage sends body to group as a SPEAK frame.
func (c *Client) SendGroupMessage(group, body string) error {
	return c.Dispatch(protocol.SpeakGroup(group, body))
}

// SendPrivateMessage sends body to recipient as an MSGPV frame.
func (c *Client) SendPrivateMessage(recipient, body string) error {
	return c.Dispatch(protocol.PrivateMessage(recipient, body))
}

// LastActivity returns the time of the most recent successful send.
func (c *Client) LastActivity() time.Time {
	return time.Unix(0, c.lastSend.Load())
}

// Alive reports whether Close has not been called yet.
func (c *Client) Alive() bool {
	return c.alive.Load()
}

// RemoteAddr returns the server address, or "" when not connected.
func (c *Client) RemoteAddr() string {
	if c.transport == nil {
		return ""
	}
	return c.transport.RemoteAddr().String()
}

// Disconnected is closed when the reader goroutine stops, whether the
// server went away or Close was called.
func (c *Client) Disconnected() <-chan struct{} {
	return c.disconnected
}

// Close stops the session. It clears the liveness flag, closes the
// transport to unblock the reader, and waits for both goroutines to
// exit. Calling it more than once, or on a Client that never connected,
// is safe.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.alive.Store(false)
		if c.done != nil {
			close(c.done)
		}
		if c.transport != nil {
			if cerr := c.transport.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = &TransportError{Op: "close", Err: cerr}
			}
		}
		c.wg.Wait()
		if c.logger != nil {
			c.logger.Debug("client closed")
		}
	})
	return err
}

func (c *Client) heartbeat() error {
	frame, err := protocol.Heartbeat().Encode()
	if err != nil {
		return err
	}
	return c.Send(frame)
}

// touch advances the activity clock to t unless a later send already
// recorded a newer time.
func (c *Client) touch(t time.Time) {
	next := t.UnixNano()
	for {
		prev := c.lastSend.Load()
		if next <= prev || c.lastSend.CompareAndSwap(prev, next) {
			return
		}
	}
}

func writeFull(t Transport, frame []byte) error {
	for len(frame) > 0 {
		n, err := t.Write(frame)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		frame = frame[n:]
	}
	return nil
}
