package sessionmanager

import (
	"github.com/cyberinferno/echo-server/intrusivelist"
	"github.com/cyberinferno/echo-server/sharedlist"
)

// startState tracks whether the underlying session has been started.
type startState int

const (
	startNotStarted startState = iota
	startStarted
	startStopped
)

// stopState tracks the session's stop handshake.
type stopState int

const (
	stopNotStopped stopState = iota
	stopInProgress
	stopStopped
)

// waitState tracks the session's wait handshake.
type waitState int

const (
	waitNotStarted waitState = iota
	waitInProgress
	waitComplete
)

// sessionHandle is the bookkeeping wrapper around one managed session. It
// lives in exactly one of the active list and the recycled pool (or neither
// while an accept is in flight for it), and carries a second hook so that a
// session can simultaneously sit in the pending-stop chain.
type sessionHandle struct {
	session Session

	start startState
	stop  stopState
	wait  waitState

	// err is the most recent error observed for the session: a failed
	// start or a wait that ended with something other than a clean
	// disconnect.
	err error

	// startPending is true between issuing the factory start and its
	// completion; no stop may be issued for the session in that window.
	startPending bool

	// stopScheduled marks membership in the pending-stop chain. The chain
	// hook alone cannot answer this for a single-element chain.
	stopScheduled bool

	listHook sharedlist.Hook[sessionHandle]
	stopHook intrusivelist.Hook[sessionHandle]
}

func handleListHook(h *sessionHandle) *sharedlist.Hook[sessionHandle] {
	return &h.listHook
}

func handleStopHook(h *sessionHandle) *intrusivelist.Hook[sessionHandle] {
	return &h.stopHook
}

// resetForReuse returns the handle to its freshly created state so a
// recycled handle behaves exactly like a new one.
func (h *sessionHandle) resetForReuse() {
	h.start = startNotStarted
	h.stop = stopNotStopped
	h.wait = waitNotStarted
	h.err = nil
	h.startPending = false
	h.stopScheduled = false
}

// reusable reports whether the handle's session may be recycled. A session
// that never started or stopped cleanly keeps its allocations in a known
// state; one that failed does not.
func (h *sessionHandle) reusable() bool {
	return h.err == nil
}
