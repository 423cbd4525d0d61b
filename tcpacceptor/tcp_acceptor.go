// Package tcpacceptor provides a TCP listening endpoint with explicit
// control over the OS accept backlog and an asynchronous accept operation
// whose completion runs on a work pool.
package tcpacceptor

import (
	"errors"
	"net"
	"sync"

	"github.com/cyberinferno/echo-server/logger"
	"github.com/cyberinferno/echo-server/workpool"
)

// ErrNotOpen is returned when an operation requires an open listener.
var ErrNotOpen = errors.New("tcpacceptor: not open")

// ErrAlreadyOpen is returned by Open when the acceptor already holds a
// listener.
var ErrAlreadyOpen = errors.New("tcpacceptor: already open")

// ErrAcceptInProgress is returned by AsyncAccept when a previous accept has
// not completed yet.
var ErrAcceptInProgress = errors.New("tcpacceptor: accept already in progress")

// TCPAcceptor owns one listening TCP socket. Open binds and listens with an
// explicit backlog, AsyncAccept waits for a single inbound connection, and
// Close tears the listener down, failing any accept in flight with
// net.ErrClosed. All methods are safe for concurrent use.
type TCPAcceptor struct {
	pool *workpool.Pool
	log  logger.Logger

	mu        sync.Mutex
	ln        net.Listener
	accepting bool
}

// New creates a TCPAcceptor whose accept completions run on the given pool.
//
// Parameters:
//   - pool: Executes accept completion callbacks
//   - log: Structured logger for listener lifecycle events
//
// Returns:
//   - A pointer to a new, unopened TCPAcceptor
func New(pool *workpool.Pool, log logger.Logger) *TCPAcceptor {
	return &TCPAcceptor{
		pool: pool,
		log:  log,
	}
}

// Open binds the endpoint and starts listening with the given backlog.
//
// Parameters:
//   - endpoint: The "host:port" address to bind
//   - backlog: The OS-level accept backlog; values below 1 use the system
//     default
//
// Returns:
//   - ErrAlreadyOpen if a listener is already held, or the bind/listen error
func (a *TCPAcceptor) Open(endpoint string, backlog int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ln != nil {
		return ErrAlreadyOpen
	}

	ln, err := listenTCP(endpoint, backlog)
	if err != nil {
		return err
	}

	a.ln = ln
	a.log.Info("listener opened",
		logger.Field{Key: "addr", Value: ln.Addr().String()},
		logger.Field{Key: "backlog", Value: backlog})
	return nil
}

// Addr returns the listener's bound address, useful when the endpoint
// requested port 0.
//
// Returns:
//   - The bound address, or nil if the acceptor is not open
func (a *TCPAcceptor) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.ln == nil {
		return nil
	}
	return a.ln.Addr()
}

// Close closes the listening socket. An accept in flight completes with
// net.ErrClosed. Close is idempotent.
//
// Returns:
//   - An error if closing the listener fails
func (a *TCPAcceptor) Close() error {
	a.mu.Lock()
	ln := a.ln
	a.ln = nil
	a.mu.Unlock()

	if ln == nil {
		return nil
	}

	a.log.Info("listener closed",
		logger.Field{Key: "addr", Value: ln.Addr().String()})
	return ln.Close()
}

// AsyncAccept waits for one inbound connection in its own goroutine and
// delivers the outcome through cb on the work pool. At most one accept may be
// in flight; a second call before the first completes fails the new request
// with ErrAcceptInProgress, and a call on a closed acceptor fails it with
// ErrNotOpen.
//
// Parameters:
//   - cb: Invoked exactly once with the accepted connection or the error
func (a *TCPAcceptor) AsyncAccept(cb func(conn net.Conn, err error)) {
	a.mu.Lock()
	ln := a.ln
	switch {
	case ln == nil:
		a.mu.Unlock()
		a.dispatch(cb, nil, ErrNotOpen)
		return
	case a.accepting:
		a.mu.Unlock()
		a.dispatch(cb, nil, ErrAcceptInProgress)
		return
	}
	a.accepting = true
	a.mu.Unlock()

	go func() {
		conn, err := ln.Accept()

		a.mu.Lock()
		a.accepting = false
		a.mu.Unlock()

		a.dispatch(cb, conn, err)
	}()
}

// dispatch posts the completion to the pool, falling back to running it
// inline when the pool has been closed.
func (a *TCPAcceptor) dispatch(cb func(conn net.Conn, err error), conn net.Conn, err error) {
	if perr := a.pool.Post(func() { cb(conn, err) }); perr != nil {
		cb(conn, err)
	}
}
