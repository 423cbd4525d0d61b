package echosession

import (
	"github.com/cyberinferno/echo-server/idgenerator"
	"github.com/cyberinferno/echo-server/logger"
	"github.com/cyberinferno/echo-server/safemap"
	"github.com/cyberinferno/echo-server/sessionmanager"
)

// Factory builds echo sessions for the session manager and drives their
// lifecycle handshakes. It keeps a registry of the sessions currently
// running so operators can inspect the live population.
type Factory struct {
	log      logger.Logger
	ids      *idgenerator.IdGenerator
	sessions *safemap.SafeMap[uint32, *Session]
}

// NewFactory creates a Factory that allocates session IDs starting at 1.
//
// Parameters:
//   - log: Structured logger shared by all sessions
//
// Returns:
//   - A pointer to a new Factory
func NewFactory(log logger.Logger) *Factory {
	return &Factory{
		log:      log,
		ids:      idgenerator.NewIdGenerator(0),
		sessions: safemap.NewSafeMap[uint32, *Session](),
	}
}

// Create builds a fresh, unstarted echo session.
//
// Parameters:
//   - config: An echosession.Config; anything else falls back to DefaultConfig
//
// Returns:
//   - The new session; Create itself cannot fail
func (f *Factory) Create(config any) (sessionmanager.Session, error) {
	cfg, ok := config.(Config)
	if !ok {
		cfg = DefaultConfig()
	}

	s := newSession(f.ids.Id(), cfg, f.log)
	f.log.Debug("session created", logger.Field{Key: "session_id", Value: s.id})
	return s, nil
}

// AsyncStart starts the session's echo pump and reports the outcome.
//
// Parameters:
//   - session: The session to start; its transport has been adopted
//   - cb: Invoked once with nil on success or the start error
func (f *Factory) AsyncStart(session sessionmanager.Session, cb func(err error)) {
	s := session.(*Session)
	go func() {
		err := s.start()
		if err == nil {
			f.sessions.Store(s.id, s)
			f.log.Debug("session started",
				logger.Field{Key: "session_id", Value: s.id})
		}
		cb(err)
	}()
}

// AsyncWait reports when the session's conversation has ended. A clean
// client disconnect completes with nil.
//
// Parameters:
//   - session: The started session to observe
//   - cb: Invoked once when the conversation is over
func (f *Factory) AsyncWait(session sessionmanager.Session, cb func(err error)) {
	s := session.(*Session)
	go func() {
		cb(s.wait())
	}()
}

// AsyncStop tears the session down and reports the outcome. Stopping a
// session whose start failed or never happened is allowed.
//
// Parameters:
//   - session: The session to stop
//   - cb: Invoked once with nil on success or the stop error
func (f *Factory) AsyncStop(session sessionmanager.Session, cb func(err error)) {
	s := session.(*Session)
	go func() {
		err := s.stop()
		f.sessions.Delete(s.id)
		f.log.Debug("session stopped",
			logger.Field{Key: "session_id", Value: s.id})
		cb(err)
	}()
}

// Release returns a stopped session to its unstarted state before the
// manager parks it in the recycled pool.
//
// Parameters:
//   - session: The stopped session about to be recycled
func (f *Factory) Release(session sessionmanager.Session) {
	session.(*Session).release()
}

// RunningCount returns the number of sessions currently running.
//
// Returns:
//   - The size of the live-session registry
func (f *Factory) RunningCount() int {
	return f.sessions.Len()
}
