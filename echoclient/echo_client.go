// Package echoclient provides an event-driven client for echo servers. It
// notifies callers of connection state changes, per-round-trip completions,
// and errors via registered handlers, and verifies that each payload comes
// back byte-for-byte.
package echoclient

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cyberinferno/echo-server/perfmonitor"
	"github.com/cyberinferno/echo-server/utils"
)

// ConnectionState represents the current state of the client's connection.
type ConnectionState int

const (
	Disconnected ConnectionState = iota // Not connected
	Connecting                          // Connection attempt in progress
	Connected                           // Successfully connected
	Closed                              // Client has been closed for good
)

// String returns a human-readable name for the connection state.
func (cs ConnectionState) String() string {
	switch cs {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Closed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// ConnectionStateEvent is emitted when the connection state changes.
type ConnectionStateEvent struct {
	State     ConnectionState // The new connection state
	Address   string          // The remote address (e.g. "host:port")
	Timestamp time.Time       // When the state change occurred
	Error     error           // Non-nil if the state change was due to an error
}

// RoundTripEvent is emitted after each verified echo round trip.
type RoundTripEvent struct {
	Bytes     int       // Size of the echoed payload
	ElapsedMs float64   // Wall-clock time of the round trip in milliseconds
	Timestamp time.Time // When the round trip completed
}

// ErrorEvent is emitted when a connect, send, or receive error occurs.
type ErrorEvent struct {
	Error     error     // The error that occurred
	Timestamp time.Time // When the error occurred
}

// ConnectionStateHandler is called when the connection state changes.
// Handlers are invoked from goroutines; implementations must be safe for
// concurrent use.
type ConnectionStateHandler func(event ConnectionStateEvent)

// RoundTripHandler is called after each verified echo round trip.
// Handlers are invoked from goroutines; implementations must be safe for
// concurrent use.
type RoundTripHandler func(event RoundTripEvent)

// ErrorHandler is called when a connect, send, or receive error occurs.
// Handlers are invoked from goroutines; implementations must be safe for
// concurrent use.
type ErrorHandler func(event ErrorEvent)

// Config holds configuration for the echo client.
type Config struct {
	// Address is the "host:port" of the echo server.
	Address string
	// ReadBufferSize is the size of the receive buffer per read.
	ReadBufferSize int
	// ConnectionTimeout is the max duration for establishing a connection.
	ConnectionTimeout time.Duration
	// EchoTimeout bounds one full round trip (write plus echo read);
	// 0 means no timeout.
	EchoTimeout time.Duration
}

// DefaultConfig returns a Config with default values for the given address.
//
// Parameters:
//   - address: The "host:port" of the echo server
//
// Returns:
//   - A Config with a 4 KiB read buffer and 10s connect/echo timeouts
func DefaultConfig(address string) Config {
	return Config{
		Address:           address,
		ReadBufferSize:    4096,
		ConnectionTimeout: 10 * time.Second,
		EchoTimeout:       10 * time.Second,
	}
}

// EchoClient talks to an echo server over a single TCP connection. Register
// handlers, call Connect, then issue Echo round trips. Echo calls are
// serialized; the client is safe for concurrent use.
type EchoClient struct {
	config Config

	mu     sync.RWMutex
	conn   net.Conn
	state  ConnectionState
	closed bool

	// echoMu serializes round trips so echoed bytes cannot interleave.
	echoMu sync.Mutex

	onConnectionState ConnectionStateHandler
	onRoundTrip       RoundTripHandler
	onError           ErrorHandler
}

// New creates an echo client in the Disconnected state.
//
// Parameters:
//   - config: Connection and behavior settings (e.g. from DefaultConfig)
//
// Returns:
//   - A new *EchoClient; call Close when done to release resources
func New(config Config) *EchoClient {
	return &EchoClient{
		config: config,
		state:  Disconnected,
	}
}

// OnConnectionState registers the handler for connection state changes.
// Only one handler is active; repeated calls replace the previous handler.
//
// Parameters:
//   - handler: Function called on state changes; nil clears the handler
func (c *EchoClient) OnConnectionState(handler ConnectionStateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnectionState = handler
}

// OnRoundTrip registers the handler for completed echo round trips.
// Only one handler is active; repeated calls replace the previous handler.
//
// Parameters:
//   - handler: Function called after each verified round trip; nil clears it
func (c *EchoClient) OnRoundTrip(handler RoundTripHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRoundTrip = handler
}

// OnError registers the handler for connect, send, and receive errors.
// Only one handler is active; repeated calls replace the previous handler.
//
// Parameters:
//   - handler: Function called when an error occurs; nil clears the handler
func (c *EchoClient) OnError(handler ErrorHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = handler
}

// Connect establishes the TCP connection to the configured address.
//
// Returns:
//   - nil on success; an error if the client is closed, already connected,
//     or the dial fails
func (c *EchoClient) Connect() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return fmt.Errorf("client is closed")
	}
	if c.state == Connected || c.state == Connecting {
		c.mu.Unlock()
		return fmt.Errorf("already connected or connecting")
	}
	c.mu.Unlock()

	c.setState(Connecting, nil)

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	conn, err := dialer.Dial("tcp", c.config.Address)
	if err != nil {
		c.setState(Disconnected, err)
		c.emitError(err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.setState(Connected, nil)
	return nil
}

// Disconnect closes the current connection and moves to Disconnected state.
// Connect may be called again afterwards. Safe to call when already
// disconnected or closed.
//
// Returns:
//   - nil if already disconnected/closed, or the error from closing
func (c *EchoClient) Disconnect() error {
	c.mu.Lock()
	if c.state == Disconnected || c.state == Closed {
		c.mu.Unlock()
		return nil
	}

	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.setState(Disconnected, nil)
	return err
}

// Close shuts the client down for good. After Close the client is in the
// Closed state and must not be used further. Idempotent.
//
// Returns:
//   - nil
func (c *EchoClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.setState(Closed, nil)
	return nil
}

// GetState returns the current connection state.
//
// Returns:
//   - The current ConnectionState
func (c *EchoClient) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected returns true if the client is in Connected state.
func (c *EchoClient) IsConnected() bool {
	return c.GetState() == Connected
}

// Echo sends payload and blocks until the same bytes have come back. On
// success a RoundTripEvent is emitted with the measured latency; on any
// failure after the connection check an ErrorEvent is emitted and the error
// returned. When the client is not connected the error is returned without
// an event.
//
// Parameters:
//   - payload: The bytes to send; not modified
//
// Returns:
//   - nil on a verified round trip, or the write/read/verification error
func (c *EchoClient) Echo(payload []byte) error {
	c.echoMu.Lock()
	defer c.echoMu.Unlock()

	c.mu.RLock()
	conn := c.conn
	state := c.state
	c.mu.RUnlock()

	if state != Connected || conn == nil {
		return fmt.Errorf("not connected")
	}

	if c.config.EchoTimeout > 0 {
		if err := conn.SetDeadline(time.Now().Add(c.config.EchoTimeout)); err != nil {
			c.emitError(err)
			return err
		}
		defer func() {
			_ = conn.SetDeadline(time.Time{}) // Best effort to clear deadline
		}()
	}

	monitor := perfmonitor.NewPerformanceMonitor()
	monitor.Start()

	if _, err := conn.Write(payload); err != nil {
		c.emitError(err)
		return err
	}

	echoed, err := c.readEchoed(conn, len(payload))
	if err != nil {
		c.emitError(err)
		return err
	}

	monitor.Stop()

	if !bytes.Equal(payload, echoed) {
		err = fmt.Errorf("echo mismatch: sent %d bytes, received different content", len(payload))
		c.emitError(err)
		return err
	}

	c.emitRoundTrip(len(payload), monitor.ElapsedMilliseconds())
	return nil
}

// readEchoed accumulates reads until total bytes have arrived. The server may
// echo one write back in several chunks.
func (c *EchoClient) readEchoed(conn net.Conn, total int) ([]byte, error) {
	buffer := make([]byte, c.config.ReadBufferSize)
	received := make([]byte, 0, total)

	for len(received) < total {
		n, err := conn.Read(buffer)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buffer[:n])
			received = utils.JoinBytes(received, chunk)
		}
		if err != nil {
			return nil, err
		}
	}

	if len(received) > total {
		return nil, fmt.Errorf("echo overrun: expected %d bytes, received %d", total, len(received))
	}
	return received, nil
}

func (c *EchoClient) setState(state ConnectionState, err error) {
	c.mu.Lock()
	c.state = state
	handler := c.onConnectionState
	c.mu.Unlock()

	if handler != nil {
		event := ConnectionStateEvent{
			State:     state,
			Address:   c.config.Address,
			Timestamp: time.Now(),
			Error:     err,
		}

		go handler(event)
	}
}

func (c *EchoClient) emitRoundTrip(size int, elapsedMs float64) {
	c.mu.RLock()
	handler := c.onRoundTrip
	c.mu.RUnlock()

	if handler != nil {
		event := RoundTripEvent{
			Bytes:     size,
			ElapsedMs: elapsedMs,
			Timestamp: time.Now(),
		}

		go handler(event)
	}
}

func (c *EchoClient) emitError(err error) {
	c.mu.RLock()
	handler := c.onError
	c.mu.RUnlock()

	if handler != nil {
		event := ErrorEvent{
			Error:     err,
			Timestamp: time.Now(),
		}

		go handler(event)
	}
}
