// ABOUTME: Process-wide registry of SSE transport sessions
// ABOUTME: FIFO per-session message queues with channel-notified drain and a hard lifetime

package mcp

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrYang2016/learn-assistant/internal/auth"
)

// DefaultSessionLifetime is the absolute lifetime of an SSE session.
// There is no idle-based renewal; sessions always end within this window.
const DefaultSessionLifetime = time.Hour

// Session binds one SSE connection to an authenticated identity, a server
// instance, and a pending-message queue. The identity never changes after
// creation. Messages are appended by request handling and drained only by
// the SSE delivery loop for this session.
type Session struct {
	ID        string
	Identity  auth.Identity
	Server    *ServerInstance
	CreatedAt time.Time

	mu      sync.Mutex
	pending []*JSONRPCResponse
	closed  bool

	// notify wakes the delivery loop when pending grows; buffered so
	// enqueue never blocks.
	notify chan struct{}
	// done is closed exactly once when the session is destroyed.
	done chan struct{}

	lifetime *time.Timer
}

// Notify returns a channel that receives after messages are enqueued.
func (s *Session) Notify() <-chan struct{} { return s.notify }

// Done returns a channel closed when the session is destroyed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) enqueue(msg *JSONRPCResponse) bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.pending = append(s.pending, msg)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// Drain removes and returns all pending messages in enqueue order.
func (s *Session) Drain() []*JSONRPCResponse {
	s.mu.Lock()
	defer s.mu.Unlock()
	msgs := s.pending
	s.pending = nil
	return msgs
}

// SessionRegistry is the single process-wide table of live SSE sessions.
// It is in-memory only: sessions do not survive a restart and are sticky to
// the process that created them. Horizontal scaling of the SSE transport
// would require an external message bus behind this interface.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	lifetime time.Duration
	logger   *slog.Logger
}

// NewSessionRegistry creates a registry. A non-positive lifetime uses
// DefaultSessionLifetime.
func NewSessionRegistry(lifetime time.Duration, logger *slog.Logger) *SessionRegistry {
	if lifetime <= 0 {
		lifetime = DefaultSessionLifetime
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionRegistry{
		sessions: make(map[string]*Session),
		lifetime: lifetime,
		logger:   logger.With("component", "mcp.sessions"),
	}
}

// Create registers a new session bound to identity with a fresh server
// instance, and arms the absolute-lifetime timer.
func (r *SessionRegistry) Create(identity auth.Identity, server *ServerInstance) *Session {
	sess := &Session{
		ID:        uuid.New().String(),
		Identity:  identity,
		Server:    server,
		CreatedAt: time.Now(),
		notify:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
	sess.lifetime = time.AfterFunc(r.lifetime, func() {
		r.logger.Info("session lifetime reached", "session_id", sess.ID)
		r.Destroy(sess.ID)
	})

	r.mu.Lock()
	r.sessions[sess.ID] = sess
	r.mu.Unlock()

	r.logger.Info("session created", "session_id", sess.ID, "user_id", identity.UserID)
	return sess
}

// Get looks up a live session.
func (r *SessionRegistry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	return sess, ok
}

// Enqueue appends a message to the session's queue in FIFO order.
// Returns false if the session does not exist or was destroyed.
func (r *SessionRegistry) Enqueue(sessionID string, msg *JSONRPCResponse) bool {
	sess, ok := r.Get(sessionID)
	if !ok {
		return false
	}
	return sess.enqueue(msg)
}

// Destroy removes a session, stops its lifetime timer, and signals its
// delivery loop to stop. Idempotent.
func (r *SessionRegistry) Destroy(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return
	}

	sess.lifetime.Stop()
	sess.mu.Lock()
	sess.closed = true
	sess.mu.Unlock()
	close(sess.done)

	r.logger.Info("session destroyed", "session_id", id)
}

// LiveIDs returns the ids of all live sessions, for server-side diagnostics
// only. Never expose these to clients.
func (r *SessionRegistry) LiveIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of live sessions.
func (r *SessionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Shutdown destroys all live sessions. Called once at process shutdown.
func (r *SessionRegistry) Shutdown() {
	for _, id := range r.LiveIDs() {
		r.Destroy(id)
	}
}
