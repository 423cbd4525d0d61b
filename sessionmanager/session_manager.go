// Package sessionmanager owns a listening socket, hands each accepted
// connection to a freshly created session, and orchestrates the lifetime of
// the whole session population from first accept through graceful or forced
// shutdown. All manager state is mutated on a single serialization lane;
// public entry points post to the lane and return immediately, and completion
// callbacks run on the underlying work pool.
package sessionmanager

import (
	"net"

	"github.com/cyberinferno/echo-server/intrusivelist"
	"github.com/cyberinferno/echo-server/lane"
	"github.com/cyberinferno/echo-server/logger"
	"github.com/cyberinferno/echo-server/sharedlist"
	"github.com/cyberinferno/echo-server/workpool"
)

// Session is the managed unit: one accepted connection's server side. The
// manager never touches the session's I/O; it only hands over the accepted
// transport and drives the factory's start/wait/stop handshakes.
type Session interface {
	// Adopt hands the accepted transport to the session. The manager calls
	// Adopt exactly once before asking the factory to start the session.
	//
	// Parameters:
	//   - conn: The accepted connection; owned by the session afterwards
	Adopt(conn net.Conn)
}

// SessionFactory creates and drives sessions on behalf of the manager. The
// completion callbacks must be invoked exactly once each, from any
// goroutine; the manager re-dispatches them through its lane.
type SessionFactory interface {
	// Create builds a fresh, unstarted session.
	//
	// Parameters:
	//   - config: The opaque session configuration from the manager's Config
	//
	// Returns:
	//   - The new session, or an error if one could not be built
	Create(config any) (Session, error)

	// AsyncStart begins the session's I/O and reports the outcome.
	//
	// Parameters:
	//   - session: The session to start; its transport has been adopted
	//   - cb: Invoked once with nil on success or the start error
	AsyncStart(session Session, cb func(err error))

	// AsyncWait reports when the session's conversation has ended. A clean
	// client disconnect completes with nil.
	//
	// Parameters:
	//   - session: The started session to observe
	//   - cb: Invoked once when the session's work is over
	AsyncWait(session Session, cb func(err error))

	// AsyncStop tears the session down and reports the outcome. It must be
	// callable for sessions whose start failed or never happened. Stopping a
	// started session ends its conversation, so a pending AsyncWait for it
	// completes as well; the manager releases a session only once both have
	// reported.
	//
	// Parameters:
	//   - session: The session to stop
	//   - cb: Invoked once with nil on success or the stop error
	AsyncStop(session Session, cb func(err error))

	// Release returns a stopped session's resources to a reusable state
	// before the manager parks its handle in the recycled pool.
	//
	// Parameters:
	//   - session: The stopped session about to be recycled
	Release(session Session)
}

// Acceptor owns the listening endpoint on behalf of the manager.
type Acceptor interface {
	// Open binds the endpoint and starts listening with the given backlog.
	//
	// Parameters:
	//   - endpoint: The "host:port" address to bind
	//   - backlog: The OS-level accept backlog
	//
	// Returns:
	//   - An error if binding or listening fails
	Open(endpoint string, backlog int) error

	// Close closes the listening socket. Any accept in flight completes
	// with net.ErrClosed.
	//
	// Returns:
	//   - An error if closing fails
	Close() error

	// AsyncAccept waits for one inbound connection. At most one accept may
	// be in flight at a time; cb is invoked exactly once on the work pool.
	//
	// Parameters:
	//   - cb: Invoked with the accepted connection or the accept error
	AsyncAccept(cb func(conn net.Conn, err error))
}

// Config is the session manager's configuration surface.
type Config struct {
	// Endpoint is the bind address and port for the listening socket.
	Endpoint string
	// ListenBacklog is the OS-level accept backlog.
	ListenBacklog int
	// MaxSessionCount caps the number of concurrently active sessions. A
	// value of zero makes the manager accept nothing.
	MaxSessionCount int
	// RecycledSessionCount caps the pool of stopped session handles kept
	// for reuse. Zero forces every session to be freshly allocated.
	RecycledSessionCount int
	// MaxStoppingSessions caps the number of concurrently outstanding
	// session stop operations. Values below 1 are treated as 1.
	MaxStoppingSessions int
	// SessionConfig is forwarded untouched to SessionFactory.Create.
	SessionConfig any
}

type externState int

const (
	externReady externState = iota
	externWork
	externStop
	externStopped
)

type internState int

const (
	internWork internState = iota
	internStop
	internStopped
)

type acceptState int

const (
	acceptReady acceptState = iota
	acceptInProgress
	acceptStopped
)

// Manager is the session-manager state machine. Create one with New, start
// it with AsyncStart, and observe its end with AsyncWait or AsyncStop. All
// methods are safe to call from any goroutine.
type Manager struct {
	cfg      Config
	factory  SessionFactory
	acceptor Acceptor
	pool     *workpool.Pool
	lane     *lane.Lane
	log      logger.Logger

	extern externState
	intern internState
	accept acceptState

	// pendingOperations counts in-flight continuations (accept, session
	// start, session wait, session stop) the manager must see complete
	// before it may announce stopped.
	pendingOperations int

	active      *sharedlist.List[sessionHandle]
	recycled    *sharedlist.List[sessionHandle]
	pendingStop *intrusivelist.List[sessionHandle]

	// stoppingCount is the number of session stop operations in flight;
	// never exceeds cfg.MaxStoppingSessions.
	stoppingCount int

	// acceptError is the latched terminal error: a fatal accept failure or
	// an acceptor open failure. Nil means a clean lifecycle so far.
	acceptError error

	waitHandler func(err error)
	stopHandler func(err error)

	stats statsCollector
}

// New creates a Manager over the given collaborators. The manager starts in
// the ready state; nothing happens until AsyncStart.
//
// Parameters:
//   - cfg: The manager configuration
//   - factory: Creates and drives the managed sessions
//   - acceptor: Owns the listening endpoint
//   - pool: Executes completion callbacks and the manager's lane
//   - log: Structured logger for lifecycle events
//
// Returns:
//   - A pointer to a new Manager in the ready state
func New(cfg Config, factory SessionFactory, acceptor Acceptor, pool *workpool.Pool, log logger.Logger) *Manager {
	if cfg.MaxStoppingSessions < 1 {
		cfg.MaxStoppingSessions = 1
	}

	return &Manager{
		cfg:         cfg,
		factory:     factory,
		acceptor:    acceptor,
		pool:        pool,
		lane:        lane.New(pool),
		log:         log,
		extern:      externReady,
		intern:      internWork,
		accept:      acceptReady,
		active:      sharedlist.New(handleListHook),
		recycled:    sharedlist.New(handleListHook),
		pendingStop: intrusivelist.New(handleStopHook),
	}
}

// AsyncStart requests the transition from ready to work: the acceptor is
// opened and the first accept is posted before cb fires. cb completes with
// nil on success, ErrInvalidState if the manager is not ready, or the
// acceptor open failure.
//
// Parameters:
//   - cb: Invoked once on the work pool with the outcome
func (m *Manager) AsyncStart(cb func(err error)) {
	m.post(func() { m.doExternStart(cb) })
}

// AsyncStop requests graceful shutdown: no further accepts, every active
// session stopped in bounded waves, cb fired once everything has drained.
// cb completes with the terminal error (nil for a clean stop) or
// ErrInvalidState if the manager is already stopped or a stop request is
// already outstanding.
//
// Parameters:
//   - cb: Invoked once on the work pool with the outcome
func (m *Manager) AsyncStop(cb func(err error)) {
	m.post(func() { m.doExternStop(cb) })
}

// AsyncWait registers a one-shot notification of the manager's terminal
// stop, clean or forced. cb completes with the terminal error (nil for a
// clean stop), or ErrInvalidState if a wait is already pending or the
// manager is not running.
//
// Parameters:
//   - cb: Invoked once on the work pool with the terminal outcome
func (m *Manager) AsyncWait(cb func(err error)) {
	m.post(func() { m.doExternWait(cb) })
}

// Stats returns a consistent snapshot of the manager's counters without
// blocking on the lane.
//
// Returns:
//   - The current Stats snapshot
func (m *Manager) Stats() Stats {
	return m.stats.Stats()
}

// Reset returns a stopped (or never started) manager to the ready state so
// it can be started again with the same configuration. Reset blocks until
// the lane has applied it.
//
// Parameters:
//   - freeRecycled: Drop the recycled pool instead of retaining it
//
// Returns:
//   - ErrInvalidState if the manager is still running, nil otherwise
func (m *Manager) Reset(freeRecycled bool) error {
	done := make(chan error, 1)
	if err := m.lane.Post(func() { done <- m.doReset(freeRecycled) }); err != nil {
		return err
	}
	return <-done
}

func (m *Manager) post(fn func()) {
	if err := m.lane.Post(fn); err != nil {
		m.log.Error("lane post failed", logger.Field{Key: "error", Value: err})
	}
}

// complete dispatches a completion callback onto the work pool so it never
// runs under the lane. If the pool is already closed the callback runs
// inline.
func (m *Manager) complete(cb func(err error), err error) {
	if cb == nil {
		return
	}
	if perr := m.pool.Post(func() { cb(err) }); perr != nil {
		cb(err)
	}
}

func (m *Manager) doExternStart(cb func(err error)) {
	if m.extern != externReady {
		m.complete(cb, ErrInvalidState)
		return
	}

	if err := m.acceptor.Open(m.cfg.Endpoint, m.cfg.ListenBacklog); err != nil {
		openErr := &acceptorOpenError{err: err}
		m.acceptError = openErr
		m.extern = externStopped
		m.intern = internStopped
		m.accept = acceptStopped
		m.log.Error("acceptor open failed",
			logger.Field{Key: "endpoint", Value: m.cfg.Endpoint},
			logger.Field{Key: "error", Value: err})
		m.complete(cb, openErr)
		return
	}

	m.extern = externWork
	m.intern = internWork
	m.accept = acceptReady
	m.log.Info("session manager started",
		logger.Field{Key: "endpoint", Value: m.cfg.Endpoint},
		logger.Field{Key: "max_sessions", Value: m.cfg.MaxSessionCount})

	m.continueWork()
	m.complete(cb, nil)
}

func (m *Manager) doExternStop(cb func(err error)) {
	switch {
	case m.extern == externStopped || m.stopHandler != nil:
		m.complete(cb, ErrInvalidState)
	case m.extern == externReady:
		// Nothing was ever started; stop completes on the spot.
		m.extern = externStopped
		m.intern = internStopped
		m.accept = acceptStopped
		m.complete(cb, nil)
	case m.extern == externWork:
		m.extern = externStop
		m.stopHandler = cb
		m.startStop()
	default:
		// An internal stop drive is already running; adopt the caller so
		// it completes with the same terminal value.
		m.stopHandler = cb
	}
}

func (m *Manager) doExternWait(cb func(err error)) {
	if m.waitHandler != nil {
		m.complete(cb, ErrInvalidState)
		return
	}
	if m.extern != externWork && m.extern != externStop {
		m.complete(cb, ErrInvalidState)
		return
	}

	m.waitHandler = cb
}

func (m *Manager) doReset(freeRecycled bool) error {
	if m.extern != externStopped && m.extern != externReady {
		return ErrInvalidState
	}

	m.active.Clear()
	m.pendingStop.Clear()
	if freeRecycled {
		m.recycled.Clear()
	}

	m.acceptError = nil
	m.stopHandler = nil
	m.waitHandler = nil
	m.pendingOperations = 0
	m.stoppingCount = 0
	m.extern = externReady
	m.intern = internWork
	m.accept = acceptReady

	m.stats.Reset()
	m.stats.SetRecycledCount(m.recycled.Size())
	return nil
}

// continueWork issues the next accept when the manager is working, no accept
// is already in flight, no fatal error is latched, and the session cap
// leaves room.
func (m *Manager) continueWork() {
	if m.intern != internWork || m.accept != acceptReady || m.acceptError != nil {
		return
	}
	if m.active.Size() >= m.cfg.MaxSessionCount {
		return
	}

	h, err := m.takeHandle()
	if err != nil {
		m.stats.SessionAccepted(err)
		m.acceptError = &acceptFatalError{err: err}
		m.log.Error("session creation failed",
			logger.Field{Key: "error", Value: err})
		m.startStop()
		return
	}

	m.accept = acceptInProgress
	m.pendingOperations++
	m.acceptor.AsyncAccept(func(conn net.Conn, aerr error) {
		m.post(func() { m.handleAccept(h, conn, aerr) })
	})
}

// takeHandle reuses a recycled handle when one is available, otherwise
// builds a fresh session through the factory.
func (m *Manager) takeHandle() (*sessionHandle, error) {
	if !m.recycled.Empty() {
		h := m.recycled.Front()
		m.recycled.Erase(h)
		m.stats.SetRecycledCount(m.recycled.Size())
		return h, nil
	}

	session, err := m.factory.Create(m.cfg.SessionConfig)
	if err != nil {
		return nil, err
	}
	return &sessionHandle{session: session}, nil
}

func (m *Manager) handleAccept(h *sessionHandle, conn net.Conn, err error) {
	m.pendingOperations--
	if m.accept == acceptInProgress {
		m.accept = acceptReady
	}

	if m.intern != internWork {
		if conn != nil {
			_ = conn.Close()
		}
		m.recycle(h)
		m.maybeCompleteStop()
		return
	}

	if err != nil {
		switch {
		case isCanceledAcceptError(err):
			m.recycle(h)
		case isRecoverableAcceptError(err):
			m.stats.SessionAccepted(err)
			m.log.Warn("recoverable accept error",
				logger.Field{Key: "error", Value: err})
			m.recycle(h)
			m.continueWork()
		default:
			m.stats.SessionAccepted(err)
			m.acceptError = &acceptFatalError{err: err}
			m.log.Error("fatal accept error, shutting down",
				logger.Field{Key: "error", Value: err})
			m.recycle(h)
			m.startStop()
		}
		return
	}

	h.session.Adopt(conn)
	m.active.PushBack(h)
	m.stats.SessionAccepted(nil)
	m.stats.SetActiveCount(m.active.Size())
	m.startSessionStart(h)
	m.continueWork()
}

func (m *Manager) startSessionStart(h *sessionHandle) {
	h.startPending = true
	m.pendingOperations++
	m.factory.AsyncStart(h.session, func(err error) {
		m.post(func() { m.handleSessionStart(h, err) })
	})
}

func (m *Manager) handleSessionStart(h *sessionHandle, err error) {
	m.pendingOperations--
	h.startPending = false

	if err != nil {
		h.err = err
		m.log.Warn("session start failed",
			logger.Field{Key: "error", Value: err})
		m.scheduleStop(h)
		m.maybeCompleteStop()
		return
	}

	h.start = startStarted
	if m.intern == internStop {
		m.scheduleStop(h)
	} else {
		m.startSessionWait(h)
	}
	m.maybeCompleteStop()
}

func (m *Manager) startSessionWait(h *sessionHandle) {
	h.wait = waitInProgress
	m.pendingOperations++
	m.factory.AsyncWait(h.session, func(err error) {
		m.post(func() { m.handleSessionWait(h, err) })
	})
}

func (m *Manager) handleSessionWait(h *sessionHandle, err error) {
	m.pendingOperations--
	h.wait = waitComplete
	if err != nil && h.err == nil {
		h.err = err
	}

	if h.stop == stopStopped {
		// The stop handshake raced ahead of the wait notification; the
		// session is settled now.
		m.releaseStopped(h)
	} else {
		m.scheduleStop(h)
	}
	m.maybeCompleteStop()
}

// scheduleStop queues h for a stop wave. Already scheduled, stopping, or
// stopped handles are left alone.
func (m *Manager) scheduleStop(h *sessionHandle) {
	if h.stopScheduled || h.stop != stopNotStopped {
		return
	}

	h.stopScheduled = true
	m.pendingStop.PushBack(h)
	m.issueStops()
}

// issueStops starts queued session stops while staying under the
// MaxStoppingSessions cap.
func (m *Manager) issueStops() {
	for m.stoppingCount < m.cfg.MaxStoppingSessions && !m.pendingStop.Empty() {
		h := m.pendingStop.PopFront()
		h.stopScheduled = false
		h.stop = stopInProgress
		m.stoppingCount++
		m.pendingOperations++
		m.factory.AsyncStop(h.session, func(err error) {
			m.post(func() { m.handleSessionStop(h, err) })
		})
	}
}

func (m *Manager) handleSessionStop(h *sessionHandle, err error) {
	m.pendingOperations--
	m.stoppingCount--
	h.stop = stopStopped
	h.start = startStopped
	m.stats.SessionStopped(err)
	if err != nil && h.err == nil {
		h.err = err
	}

	if h.wait != waitInProgress {
		m.releaseStopped(h)
	}
	m.issueStops()
	m.maybeCompleteStop()
}

// releaseStopped removes a fully settled handle from the active list,
// recycles it when permitted, and wakes the accept loop now that the cap has
// room again.
func (m *Manager) releaseStopped(h *sessionHandle) {
	m.active.Erase(h)
	m.stats.SetActiveCount(m.active.Size())
	m.recycle(h)
	if m.intern == internWork {
		m.continueWork()
	}
}

// recycle parks an unlinked handle in the recycled pool when there is room
// and the session's resources are reusable; otherwise the handle is dropped.
func (m *Manager) recycle(h *sessionHandle) {
	if m.recycled.Size() >= m.cfg.RecycledSessionCount || !h.reusable() {
		return
	}

	m.factory.Release(h.session)
	h.resetForReuse()
	m.recycled.PushFront(h)
	m.stats.SetRecycledCount(m.recycled.Size())
}

// startStop begins the internal stop drive: close the listener, stop active
// sessions in bounded waves, and complete once everything has drained.
func (m *Manager) startStop() {
	if m.intern != internWork {
		return
	}

	m.intern = internStop
	if m.extern == externWork {
		m.extern = externStop
	}

	if m.accept != acceptStopped {
		m.accept = acceptStopped
		if err := m.acceptor.Close(); err != nil {
			m.log.Warn("acceptor close failed",
				logger.Field{Key: "error", Value: err})
		}
	}

	for h := m.active.Front(); h != nil; h = m.active.Next(h) {
		if h.startPending {
			// The start handshake is still in flight; its completion
			// schedules the stop.
			continue
		}
		m.scheduleStop(h)
	}

	m.maybeCompleteStop()
}

// maybeCompleteStop announces the terminal state once the active list is
// empty and no continuations remain, firing the pending stop and wait
// handlers with the terminal error.
func (m *Manager) maybeCompleteStop() {
	if m.intern != internStop {
		return
	}
	if !m.active.Empty() || m.pendingOperations != 0 {
		return
	}

	m.intern = internStopped
	m.extern = externStopped

	terminal := m.acceptError
	stopCb := m.stopHandler
	waitCb := m.waitHandler
	m.stopHandler = nil
	m.waitHandler = nil

	m.log.Info("session manager stopped",
		logger.Field{Key: "error", Value: terminal})
	m.complete(stopCb, terminal)
	m.complete(waitCb, terminal)
}
