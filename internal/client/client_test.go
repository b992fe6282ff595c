package client_test

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/drocsid-chat/internal/client"
	"github.com/omochice/drocsid-chat/internal/clock"
	"github.com/omochice/drocsid-chat/internal/display"
	"github.com/omochice/drocsid-chat/pkg/protocol"
)

const waitFor = 2 * time.Second

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// mockServer is the far end of a net.Pipe. It records every byte the
// client writes and lets the test push bytes to the client.
type mockServer struct {
	conn net.Conn

	mu       sync.Mutex
	received bytes.Buffer
	closed   chan struct{}
}

func startMockServer(t *testing.T, conn net.Conn) *mockServer {
	t.Helper()
	s := &mockServer{conn: conn, closed: make(chan struct{})}
	go func() {
		defer close(s.closed)
		buf := make([]byte, 512)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				s.mu.Lock()
				s.received.Write(buf[:n])
				s.mu.Unlock()
			}
			if err != nil {
				return
			}
		}
	}()
	return s
}

func (s *mockServer) Received() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.received.String()
}

func (s *mockServer) Push(t *testing.T, data string) {
	t.Helper()
	_, err := s.conn.Write([]byte(data))
	require.NoError(t, err)
}

func (s *mockServer) WaitReceived(t *testing.T, want string) {
	t.Helper()
	require.Eventually(t, func() bool { return s.Received() == want },
		waitFor, 5*time.Millisecond, "server received %q, want %q", s.Received(), want)
}

func newPipeClient(t *testing.T, opts client.Options, sink display.Sink) (*client.Client, *mockServer) {
	t.Helper()
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { _ = serverSide.Close() })

	srv := startMockServer(t, serverSide)
	c := client.New(client.NewTCPTransport(clientSide), opts, sink)
	t.Cleanup(func() { _ = c.Close() })
	return c, srv
}

func waitEvents(t *testing.T, rec *display.Recorder, n int) []display.Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(rec.Events()) >= n },
		waitFor, 5*time.Millisecond, "got events %+v", rec.Events())
	return rec.Events()
}

func TestClient_Scenario(t *testing.T) {
	rec := display.NewRecorder()
	c, srv := newPipeClient(t, client.Options{}, rec)

	require.NoError(t, c.Login("Alice"))
	srv.WaitReceived(t, "LOGIN Alice\n")

	require.NoError(t, c.EnterGroup("General"))
	srv.WaitReceived(t, "LOGIN Alice\nENTER General\n")

	require.NoError(t, c.SendGroupMessage("General", "hi\nthere"))
	srv.WaitReceived(t, "LOGIN Alice\nENTER General\nSPEAK General\nhi\nthere\n.\n")

	srv.Push(t, "srv: ALIVE\n")
	srv.WaitReceived(t, "LOGIN Alice\nENTER General\nSPEAK General\nhi\nthere\n.\nALIVE\n")

	srv.Push(t, "Bob: hello\n.\n")
	events := waitEvents(t, rec, 3)
	assert.Equal(t, []display.Event{
		{Kind: display.EventLine, Text: "Bob: hello"},
		{Kind: display.EventLine, Text: "."},
		{Kind: display.EventEndOfMessage},
	}, events)
}

func TestClient_Commands(t *testing.T) {
	tests := []struct {
		name string
		call func(c *client.Client) error
		want string
	}{
		{"login", func(c *client.Client) error { return c.Login("Alice") }, "LOGIN Alice\n"},
		{"create", func(c *client.Client) error { return c.CreateGroup("General") }, "CREAT General\n"},
		{"enter", func(c *client.Client) error { return c.EnterGroup("General") }, "ENTER General\n"},
		{"leave", func(c *client.Client) error { return c.LeaveGroup("General") }, "LEAVE General\n"},
		{"list", func(c *client.Client) error { return c.ListMembers("General") }, "LSMEM General\n"},
		{
			"speak",
			func(c *client.Client) error { return c.SendGroupMessage("General", "one\ntwo") },
			"SPEAK General\none\ntwo\n.\n",
		},
		{
			"private",
			func(c *client.Client) error { return c.SendPrivateMessage("Bob", "secret") },
			"MSGPV Bob\nsecret\n.\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, srv := newPipeClient(t, client.Options{}, nil)
			require.NoError(t, tt.call(c))
			srv.WaitReceived(t, tt.want)
		})
	}
}

func TestClient_RejectsBodyTerminator(t *testing.T) {
	c, srv := newPipeClient(t, client.Options{}, nil)

	err := c.SendGroupMessage("General", "hi\n.\nbye")
	require.ErrorIs(t, err, protocol.ErrBodyTerminator)

	// A CR after the dot is stripped on the far side, so it is no escape.
	err = c.SendGroupMessage("General", "hi\n.\r\r\nCREAT evil")
	require.ErrorIs(t, err, protocol.ErrBodyTerminator)

	require.NoError(t, c.Login("Alice"))
	srv.WaitReceived(t, "LOGIN Alice\n")
}

func TestClient_ReadBoundaryIndependence(t *testing.T) {
	stream := "TCHAT 1\nOKAY!\n\n[General] Bob: line one\n[General] Bob: line two\n.\nERROR 33\n"
	want := []string{"TCHAT 1", "OKAY!", "[General] Bob: line one", "[General] Bob: line two", ".", "ERROR 33"}

	for _, chunk := range []int{1, 3, 7, 1024} {
		t.Run(fmt.Sprintf("chunk=%d", chunk), func(t *testing.T) {
			rec := display.NewRecorder()
			_, srv := newPipeClient(t, client.Options{ReadChunkSize: chunk}, rec)

			// Push in pieces that never line up with line boundaries.
			for i := 0; i < len(stream); i += 5 {
				srv.Push(t, stream[i:min(i+5, len(stream))])
			}

			require.Eventually(t, func() bool { return len(rec.Lines()) == len(want) },
				waitFor, 5*time.Millisecond)
			assert.Equal(t, want, rec.Lines())
		})
	}
}

func TestClient_ProbeAnsweredOncePerProbe(t *testing.T) {
	rec := display.NewRecorder()
	_, srv := newPipeClient(t, client.Options{}, rec)

	srv.Push(t, "srv: ALIVE\nsrv: ALIVE\nhello\nsrv: ALIVE\n")
	srv.WaitReceived(t, "ALIVE\nALIVE\nALIVE\n")

	waitEvents(t, rec, 1)
	assert.Equal(t, []string{"hello"}, rec.Lines())
}

func TestClient_ActivityClockTracksEverySend(t *testing.T) {
	fake := clock.Fake(epoch)
	c, srv := newPipeClient(t, client.Options{Clock: fake}, nil)
	assert.Equal(t, epoch, c.LastActivity().UTC())

	t1 := epoch.Add(3 * time.Second)
	fake.Set(t1)
	require.NoError(t, c.Login("Alice"))
	assert.Equal(t, t1, c.LastActivity().UTC())

	t2 := epoch.Add(5 * time.Second)
	fake.Set(t2)
	require.NoError(t, c.SendPrivateMessage("Bob", "hey"))
	assert.Equal(t, t2, c.LastActivity().UTC())

	t3 := epoch.Add(8 * time.Second)
	fake.Set(t3)
	srv.Push(t, "srv: ALIVE\n")
	srv.WaitReceived(t, "LOGIN Alice\nMSGPV Bob\nhey\n.\nALIVE\n")
	require.Eventually(t, func() bool { return c.LastActivity().UTC().Equal(t3) },
		waitFor, 5*time.Millisecond)
}

func TestClient_KeepaliveHeartbeat(t *testing.T) {
	fake := clock.Fake(epoch)
	c, srv := newPipeClient(t, client.Options{
		Clock:           fake,
		KeepalivePeriod: 10 * time.Second,
		IdleThreshold:   10 * time.Second,
	}, nil)
	fake.WaitForTickers(1)

	fake.Advance(10 * time.Second)
	srv.WaitReceived(t, "ALIVE\n")

	// A send between ticks resets the idle timer, so the next tick is quiet.
	fake.Advance(5 * time.Second)
	require.NoError(t, c.Login("Alice"))
	fake.Advance(5 * time.Second)

	assert.Never(t, func() bool { return srv.Received() != "ALIVE\nLOGIN Alice\n" },
		100*time.Millisecond, 10*time.Millisecond)

	// Idle for a full threshold again.
	fake.Advance(10 * time.Second)
	srv.WaitReceived(t, "ALIVE\nLOGIN Alice\nALIVE\n")
}

func TestClient_KeepaliveIdleCadence(t *testing.T) {
	fake := clock.Fake(epoch)
	c, srv := newPipeClient(t, client.Options{
		Clock:           fake,
		KeepalivePeriod: 10 * time.Second,
		IdleThreshold:   10 * time.Second,
	}, nil)
	fake.WaitForTickers(1)

	// Idle equal to the threshold is due, so a silent client sends exactly
	// one heartbeat per period.
	want := ""
	for i := 0; i < 3; i++ {
		fake.Advance(10 * time.Second)
		want += "ALIVE\n"
		srv.WaitReceived(t, want)
		now := fake.Now()
		require.Eventually(t, func() bool { return c.LastActivity().Equal(now) },
			waitFor, 5*time.Millisecond)
	}

	// Half a period later nothing more is due.
	fake.Advance(5 * time.Second)
	assert.Never(t, func() bool { return srv.Received() != want },
		100*time.Millisecond, 10*time.Millisecond)
}

func TestClient_ConcurrentSendsAreNotTorn(t *testing.T) {
	c, srv := newPipeClient(t, client.Options{}, nil)

	const senders, perSender = 8, 25
	var wg sync.WaitGroup
	for s := 0; s < senders; s++ {
		wg.Add(1)
		go func(s int) {
			defer wg.Done()
			for i := 0; i < perSender; i++ {
				body := fmt.Sprintf("s%d-m%d-a\ns%d-m%d-b", s, i, s, i)
				assert.NoError(t, c.SendGroupMessage(fmt.Sprintf("g%d", s), body))
			}
		}(s)
	}
	wg.Wait()

	var lines []string
	require.Eventually(t, func() bool {
		lines = strings.Split(strings.TrimSuffix(srv.Received(), "\n"), "\n")
		return len(lines) == senders*perSender*4
	}, waitFor, 5*time.Millisecond)

	for i := 0; i < len(lines); i += 4 {
		var s, m int
		_, err := fmt.Sscanf(lines[i], "SPEAK g%d", &s)
		require.NoError(t, err, "frame header %q", lines[i])
		_, err = fmt.Sscanf(lines[i+1], fmt.Sprintf("s%d-m%%d-a", s), &m)
		require.NoError(t, err, "body line %q", lines[i+1])
		assert.Equal(t, fmt.Sprintf("s%d-m%d-b", s, m), lines[i+2])
		assert.Equal(t, ".", lines[i+3])
	}
}

func TestClient_CloseUnblocksReader(t *testing.T) {
	rec := display.NewRecorder()
	c, _ := newPipeClient(t, client.Options{}, rec)

	closed := make(chan error, 1)
	go func() { closed <- c.Close() }()

	select {
	case err := <-closed:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("Close did not return")
	}

	select {
	case <-c.Disconnected():
	default:
		t.Fatal("reader still running after Close")
	}

	assert.False(t, c.Alive())
	assert.NoError(t, c.Close(), "second Close")
	assert.ErrorIs(t, c.Login("Alice"), client.ErrClosed)

	// Shutdown initiated locally is not reported as a lost connection.
	assert.Empty(t, rec.Events())
}

func TestClient_CloseWithoutConnect(t *testing.T) {
	var c client.Client

	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
	assert.ErrorIs(t, c.Login("Alice"), client.ErrClosed)
}

func TestClient_ServerHangup(t *testing.T) {
	rec := display.NewRecorder()
	c, srv := newPipeClient(t, client.Options{}, rec)

	srv.Push(t, "bye\n")
	require.NoError(t, srv.conn.Close())

	select {
	case <-c.Disconnected():
	case <-time.After(waitFor):
		t.Fatal("reader did not stop after hangup")
	}

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, display.Event{Kind: display.EventLine, Text: "bye"}, events[0])
	assert.Equal(t, display.EventDisconnected, events[1].Kind)

	var transportErr *client.TransportError
	require.ErrorAs(t, events[1].Err, &transportErr)
	assert.Equal(t, "read", transportErr.Op)

	err := c.Login("Alice")
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, "write", transportErr.Op)

	require.NoError(t, c.Close())
}

func TestClient_OversizedLineStopsReader(t *testing.T) {
	rec := display.NewRecorder()
	c, srv := newPipeClient(t, client.Options{MaxLineLength: 16}, rec)

	srv.Push(t, "fine\n"+strings.Repeat("x", 32))

	select {
	case <-c.Disconnected():
	case <-time.After(waitFor):
		t.Fatal("reader did not stop on oversized line")
	}

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "fine", events[0].Text)
	assert.ErrorIs(t, events[1].Err, protocol.ErrLineTooLong)
}

func TestDial_ConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	_, err = client.Dial(context.Background(), client.Options{Host: "127.0.0.1", Port: port}, nil)
	require.Error(t, err)

	var connErr *client.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Equal(t, fmt.Sprintf("127.0.0.1:%d", port), connErr.Addr)
}

func TestDial_UnknownNetwork(t *testing.T) {
	_, err := client.Dial(context.Background(), client.Options{Host: "127.0.0.1", Port: 1, Network: "udp"}, nil)

	var connErr *client.ConnectionError
	require.ErrorAs(t, err, &connErr)
	assert.Contains(t, err.Error(), "unsupported network")
}
