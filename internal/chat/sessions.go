package chat

import (
	"sync"
	"time"

	"shopping-assistant/internal/util"

	"go.uber.org/zap"
)

// SessionStore keeps sessions in memory and expires idle ones lazily
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	turner   Turner
	ttl      time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

// NewSessionStore creates a new session store. A zero ttl disables expiry.
func NewSessionStore(turner Turner, ttl time.Duration) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		turner:   turner,
		ttl:      ttl,
		now:      time.Now,
		logger:   util.GetLogger(),
	}
}

// Create starts a new empty session
func (st *SessionStore) Create() *Session {
	st.sweep()
	s := newSession(st.turner, st.now)

	st.mu.Lock()
	st.sessions[s.ID] = s
	st.mu.Unlock()

	st.logger.Info("Session created", zap.String("session_id", s.ID))
	return s
}

// Get returns a live session
func (st *SessionStore) Get(id string) (*Session, error) {
	st.sweep()

	st.mu.RLock()
	s, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Delete removes a session
func (st *SessionStore) Delete(id string) {
	st.mu.Lock()
	delete(st.sessions, id)
	st.mu.Unlock()
}

// Len returns the number of live sessions
func (st *SessionStore) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.sessions)
}

func (st *SessionStore) sweep() {
	if st.ttl <= 0 {
		return
	}
	cutoff := st.now().Add(-st.ttl)

	st.mu.Lock()
	defer st.mu.Unlock()
	for id, s := range st.sessions {
		if s.idleSince().Before(cutoff) {
			delete(st.sessions, id)
			st.logger.Debug("Session expired", zap.String("session_id", id))
		}
	}
}

// AppendUserText records a user message in a session without running a turn
func (st *SessionStore) AppendUserText(sessionID, text string) error {
	s, err := st.Get(sessionID)
	if err != nil {
		return err
	}
	s.AppendUserText(text)
	return nil
}
