package sessionmanager

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrInvalidState is returned when a request is not legal in the manager's
// current lifecycle state: a second AsyncStart, an AsyncWait while one is
// already pending, or any request after the manager has stopped.
var ErrInvalidState = errors.New("sessionmanager: invalid state")

// acceptFatalError wraps the listener-level error that forced the manager to
// shut down. It becomes the terminal error reported to AsyncWait and
// AsyncStop.
type acceptFatalError struct {
	err error
}

func (e *acceptFatalError) Error() string {
	return fmt.Sprintf("sessionmanager: fatal accept error: %v", e.err)
}

func (e *acceptFatalError) Unwrap() error {
	return e.err
}

// acceptorOpenError wraps the bind/listen failure reported by AsyncStart.
type acceptorOpenError struct {
	err error
}

func (e *acceptorOpenError) Error() string {
	return fmt.Sprintf("sessionmanager: acceptor open failed: %v", e.err)
}

func (e *acceptorOpenError) Unwrap() error {
	return e.err
}

// IsAcceptFatal reports whether err is (or wraps) a fatal accept error
// latched by the manager.
//
// Parameters:
//   - err: The error to inspect
//
// Returns:
//   - true if err carries a fatal accept error, false otherwise
func IsAcceptFatal(err error) bool {
	var fatal *acceptFatalError
	return errors.As(err, &fatal)
}

// IsAcceptorOpenError reports whether err is (or wraps) an acceptor open
// failure reported by AsyncStart.
//
// Parameters:
//   - err: The error to inspect
//
// Returns:
//   - true if err carries an acceptor open failure, false otherwise
func IsAcceptorOpenError(err error) bool {
	var open *acceptorOpenError
	return errors.As(err, &open)
}

// recoverableAcceptErrnos are transient accept failures: the handle is
// recycled and the accept re-issued. Everything else, cancellation aside,
// latches as the terminal error.
var recoverableAcceptErrnos = []error{
	syscall.ECONNABORTED,
	syscall.EMFILE,
	syscall.ENFILE,
	syscall.ENOBUFS,
	syscall.ENOMEM,
	syscall.EAGAIN,
	syscall.EINTR,
}

// isRecoverableAcceptError reports whether an accept failure should be
// swallowed into stats and the accept loop continued.
func isRecoverableAcceptError(err error) bool {
	for _, errno := range recoverableAcceptErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// isCanceledAcceptError reports whether an accept failure is the listener
// being closed underneath the accept. The only path that closes the listener
// is the manager's own stop drive, so the completion is released quietly.
func isCanceledAcceptError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
