package server

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/drocsid-chat/internal/clock"
	"github.com/omochice/drocsid-chat/pkg/protocol"
)

// Reply lines sent by the server.
const (
	greeting = "TCHAT 1"
	okay     = "OKAY!"
)

// Wire error codes.
const (
	codeUnknownCommand  = 10
	codeMissingArgument = 11
	codeInvalidName     = 20
	codeNotLoggedIn     = 21
	codeAlreadyLoggedIn = 22
	codeNameTaken       = 23
	codeUnknownUser     = 24
	codeInvalidGroup    = 30
	codeUnknownGroup    = 31
	codeNotMember       = 32
	codeGroupExists     = 33
	codeAlreadyMember   = 34
)

var errorCodes = map[error]int{
	ErrInvalidName:     codeInvalidName,
	ErrAlreadyLoggedIn: codeAlreadyLoggedIn,
	ErrNameTaken:       codeNameTaken,
	ErrUnknownUser:     codeUnknownUser,
	ErrInvalidGroup:    codeInvalidGroup,
	ErrUnknownGroup:    codeUnknownGroup,
	ErrNotMember:       codeNotMember,
	ErrGroupExists:     codeGroupExists,
	ErrAlreadyMember:   codeAlreadyMember,
}

const outgoingQueue = 64

// session serves one connected client.
type session struct {
	id       string
	conn     Connection
	hub      *Hub
	clock    clock.Clock
	logger   *slog.Logger
	maxLine  int
	outgoing chan []byte
	done     chan struct{}
	doneOnce sync.Once
	lastSeen atomic.Int64

	// name and body are only touched by the read goroutine, and name
	// additionally under the hub lock.
	name string
	body *pendingBody
}

// pendingBody collects the lines of a SPEAK or MSGPV frame until the
// terminator arrives.
type pendingBody struct {
	verb   protocol.Verb
	target string
	lines  []string
}

func newSession(id string, conn Connection, hub *Hub, opts Options) *session {
	s := &session{
		id:       id,
		conn:     conn,
		hub:      hub,
		clock:    opts.Clock,
		logger:   opts.Logger.With("session", id, "remote", conn.RemoteAddr().String()),
		maxLine:  opts.MaxLineLength,
		outgoing: make(chan []byte, outgoingQueue),
		done:     make(chan struct{}),
	}
	s.lastSeen.Store(opts.Clock.Now().UnixNano())
	return s
}

// close stops the session's goroutines and closes the connection.
func (s *session) close() {
	s.doneOnce.Do(func() {
		close(s.done)
		_ = s.conn.Close()
	})
}

// reply queues lines for this client, waiting for queue space.
func (s *session) reply(lines ...string) {
	select {
	case s.outgoing <- frame(lines):
	case <-s.done:
	}
}

// deliver queues lines from another session. A full queue drops the
// message rather than stalling the sender.
func (s *session) deliver(lines ...string) {
	select {
	case s.outgoing <- frame(lines):
	case <-s.done:
	default:
		s.logger.Warn("client queue full, dropping message")
	}
}

func (s *session) replyError(code int) {
	s.reply(fmt.Sprintf("ERROR %d", code))
}

func (s *session) replyResult(err error) {
	if err == nil {
		s.reply(okay)
		return
	}
	code, ok := errorCodes[err]
	if !ok {
		code = codeUnknownCommand
	}
	s.replyError(code)
}

func frame(lines []string) []byte {
	var b strings.Builder
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return []byte(b.String())
}

// writeLoop drains the outgoing queue onto the connection.
func (s *session) writeLoop() {
	for {
		select {
		case data := <-s.outgoing:
			if _, err := s.conn.Write(data); err != nil {
				s.logger.Warn("failed to write to client", "error", err)
				s.close()
				return
			}
		case <-s.done:
			return
		}
	}
}

// livenessLoop probes quiet clients and drops ones idle past the timeout.
func (s *session) livenessLoop(probeInterval, idleTimeout time.Duration) {
	ticker := s.clock.NewTicker(probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			idle := s.clock.Now().Sub(time.Unix(0, s.lastSeen.Load()))
			switch {
			case idle >= idleTimeout:
				s.logger.Info("client idle timeout", "idle", idle)
				s.close()
				return
			case idle >= probeInterval:
				s.deliver(protocol.ProbeLine)
			}
		}
	}
}

// readLoop reads lines until the connection fails or closes.
func (s *session) readLoop() {
	lines := protocol.NewLineBuffer(s.maxLine)
	buf := make([]byte, 4096)

	for {
		n, err := s.conn.Read(buf)
		if n > 0 {
			s.lastSeen.Store(s.clock.Now().UnixNano())
			_, werr := lines.Write(buf[:n])
			for {
				line, ok := lines.Next()
				if !ok {
					break
				}
				s.handleLine(line)
			}
			if werr != nil {
				s.logger.Warn("dropping client", "error", werr)
				return
			}
		}
		if err != nil {
			select {
			case <-s.done:
			default:
				s.logger.Info("client disconnected", "error", err)
			}
			return
		}
	}
}

func (s *session) handleLine(line string) {
	if s.body != nil {
		if line == protocol.Terminator {
			body := s.body
			s.body = nil
			s.finishBody(body)
			return
		}
		s.body.lines = append(s.body.lines, line)
		return
	}

	if line == "" {
		return
	}

	verb, arg, err := protocol.ParseHeader(line)
	if err != nil {
		s.logger.Debug("rejected command", "line", line, "error", err)
		if errors.Is(err, protocol.ErrUnknownVerb) {
			s.replyError(codeUnknownCommand)
		} else {
			s.replyError(codeMissingArgument)
		}
		return
	}
	s.logger.Debug("command received", "verb", verb.String(), "arg", arg)

	if verb.HasBody() {
		s.body = &pendingBody{verb: verb, target: arg}
		return
	}

	switch verb {
	case protocol.VerbAlive:
		return
	case protocol.VerbLogin:
		err := s.hub.Login(s, arg)
		if err == nil {
			s.logger.Info("user logged in", "user", arg)
		}
		s.replyResult(err)
		return
	}

	if s.name == "" {
		s.replyError(codeNotLoggedIn)
		return
	}

	switch verb {
	case protocol.VerbCreate:
		err := s.hub.CreateGroup(arg)
		if err == nil {
			s.logger.Info("group created", "group", arg, "user", s.name)
		}
		s.replyResult(err)
	case protocol.VerbEnter:
		s.replyResult(s.hub.Enter(s, arg))
	case protocol.VerbLeave:
		s.replyResult(s.hub.Leave(s, arg))
	case protocol.VerbListMembers:
		names, err := s.hub.Members(arg)
		if err != nil {
			s.replyResult(err)
			return
		}
		s.reply(append(names, protocol.Terminator)...)
	}
}

func (s *session) finishBody(body *pendingBody) {
	if s.name == "" {
		s.replyError(codeNotLoggedIn)
		return
	}

	switch body.verb {
	case protocol.VerbSpeak:
		recipients, err := s.hub.GroupRecipients(s, body.target)
		if err != nil {
			s.replyResult(err)
			return
		}
		out := prefixLines(fmt.Sprintf("[%s] %s: ", body.target, s.name), body.lines)
		for _, r := range recipients {
			r.deliver(out...)
		}
		s.reply(okay)

	case protocol.VerbPrivate:
		recipient, err := s.hub.User(body.target)
		if err != nil {
			s.replyResult(err)
			return
		}
		recipient.deliver(prefixLines(fmt.Sprintf("(private) %s: ", s.name), body.lines)...)
		s.reply(okay)
	}
}

func prefixLines(prefix string, lines []string) []string {
	out := make([]string, 0, len(lines)+1)
	for _, line := range lines {
		out = append(out, prefix+line)
	}
	return append(out, protocol.Terminator)
}
