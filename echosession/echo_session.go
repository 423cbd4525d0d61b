// Package echosession implements the echo protocol session managed by the
// session manager: everything read from the client is written straight back,
// until the client disconnects, goes quiet for too long, or the session is
// stopped.
package echosession

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/echo-server/logger"
)

// ErrNoTransport is returned when a session is started before a connection
// has been adopted.
var ErrNoTransport = errors.New("echosession: no transport adopted")

// ErrAlreadyStarted is returned when a session is started twice without an
// intervening release.
var ErrAlreadyStarted = errors.New("echosession: already started")

// ErrInactivityTimeout reports a session that was torn down because the
// client sent nothing for the configured inactivity window.
var ErrInactivityTimeout = errors.New("echosession: inactivity timeout")

// Config is the per-session configuration.
type Config struct {
	// BufferSize is the size of the session's read buffer in bytes.
	BufferSize int
	// NoDelay disables Nagle's algorithm on the accepted connection.
	NoDelay bool
	// InactivityTimeout tears the session down when the client sends
	// nothing for this long. Zero disables the timeout.
	InactivityTimeout time.Duration
}

// DefaultConfig returns the session configuration used when the manager
// supplies none.
//
// Returns:
//   - A Config with a 4 KiB buffer, no-delay enabled, and no timeout
func DefaultConfig() Config {
	return Config{
		BufferSize: 4096,
		NoDelay:    true,
	}
}

// Session is one echo conversation. The manager adopts a connection into it,
// the factory starts its pump, and the pump echoes until the conversation
// ends. The read buffer survives recycling.
type Session struct {
	id  uint32
	cfg Config
	log logger.Logger
	buf []byte

	mu      sync.Mutex
	conn    net.Conn
	started bool
	done    chan struct{}
	waitErr error
}

func newSession(id uint32, cfg Config, log logger.Logger) *Session {
	if cfg.BufferSize < 1 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}

	return &Session{
		id:  id,
		cfg: cfg,
		log: log,
		buf: make([]byte, cfg.BufferSize),
	}
}

// ID returns the session's identifier.
//
// Returns:
//   - The unique session ID assigned at creation
func (s *Session) ID() uint32 {
	return s.id
}

// Adopt hands the accepted connection to the session.
//
// Parameters:
//   - conn: The accepted connection; owned by the session afterwards
func (s *Session) Adopt(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// start begins the echo pump. It fails when no transport has been adopted or
// the session is already running.
func (s *Session) start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return ErrNoTransport
	}
	if s.started {
		return ErrAlreadyStarted
	}

	if s.cfg.NoDelay {
		if tcp, ok := s.conn.(*net.TCPConn); ok {
			if err := tcp.SetNoDelay(true); err != nil {
				s.log.Warn("set no-delay failed",
					logger.Field{Key: "session_id", Value: s.id},
					logger.Field{Key: "error", Value: err})
			}
		}
	}

	s.started = true
	s.done = make(chan struct{})
	go s.pump(s.conn, s.done)
	return nil
}

// pump is the session's read/echo loop. It runs until the conversation ends
// and records how it ended before signalling done.
func (s *Session) pump(conn net.Conn, done chan struct{}) {
	var result error

	for {
		if s.cfg.InactivityTimeout > 0 {
			if err := conn.SetReadDeadline(time.Now().Add(s.cfg.InactivityTimeout)); err != nil {
				result = classifyPumpError(err)
				break
			}
		}

		n, err := conn.Read(s.buf)
		if n > 0 {
			if _, werr := conn.Write(s.buf[:n]); werr != nil {
				result = classifyPumpError(werr)
				break
			}
		}
		if err != nil {
			result = classifyPumpError(err)
			break
		}
	}

	s.mu.Lock()
	s.waitErr = result
	s.mu.Unlock()
	close(done)
}

// classifyPumpError maps transport errors to the session's wait outcome: a
// clean client disconnect and a stop-driven close both end the conversation
// without error, inactivity gets its own sentinel, and everything else is
// surfaced as-is.
func classifyPumpError(err error) error {
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return nil
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrInactivityTimeout
	}
	return fmt.Errorf("echosession: transport error: %w", err)
}

// wait blocks until the pump has ended and returns its outcome. It must only
// be called after a successful start.
func (s *Session) wait() error {
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	<-done

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitErr
}

// stop ends the conversation by closing the transport and waits for the pump
// to wind down. Stopping a session that never started just closes whatever
// transport it holds.
func (s *Session) stop() error {
	s.mu.Lock()
	conn := s.conn
	done := s.done
	started := s.started
	s.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if started {
		<-done
	}
	return nil
}

// release returns the session to its unstarted state so it can adopt a new
// connection. The read buffer is kept.
func (s *Session) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conn = nil
	s.started = false
	s.done = nil
	s.waitErr = nil
}
