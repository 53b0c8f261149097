package session

import (
	"sync"
	"time"

	"m365gate/pkg/logging"
)

// DefaultStateExpiry bounds how long a login may take.
const DefaultStateExpiry = 10 * time.Minute

// PKCEState is a pending authorization-code exchange.
type PKCEState struct {
	CodeVerifier string
	SessionID    string
	CreatedAt    time.Time
}

// StateStore maps OAuth state values to PKCE verifiers. Entries are removed
// on first use so a state cannot be replayed.
type StateStore struct {
	mu     sync.Mutex
	states map[string]*PKCEState

	expiry      time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewStateStore creates a store and starts its cleanup loop.
func NewStateStore(expiry time.Duration) *StateStore {
	if expiry <= 0 {
		expiry = DefaultStateExpiry
	}
	ss := &StateStore{
		states:      make(map[string]*PKCEState),
		expiry:      expiry,
		now:         time.Now,
		stopCleanup: make(chan struct{}),
	}
	go ss.cleanupLoop()
	return ss
}

// Put records verifier under state.
func (ss *StateStore) Put(state, verifier, sessionID string) {
	ss.mu.Lock()
	ss.states[state] = &PKCEState{CodeVerifier: verifier, SessionID: sessionID, CreatedAt: ss.now()}
	ss.mu.Unlock()
	logging.Debug("Session", "Stored PKCE state for session=%s", logging.TruncateSessionID(sessionID))
}

// Take returns and deletes the entry for state. Expired entries are deleted
// and reported as missing.
func (ss *StateStore) Take(state string) (*PKCEState, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	st, ok := ss.states[state]
	if !ok {
		return nil, false
	}
	delete(ss.states, state)
	if ss.now().Sub(st.CreatedAt) > ss.expiry {
		logging.Warn("Session", "PKCE state expired after %v", ss.now().Sub(st.CreatedAt))
		return nil, false
	}
	return st, true
}

// Count returns the number of pending states.
func (ss *StateStore) Count() int {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return len(ss.states)
}

// Stop stops the cleanup loop.
func (ss *StateStore) Stop() {
	ss.stopOnce.Do(func() { close(ss.stopCleanup) })
}

func (ss *StateStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ss.cleanup()
		case <-ss.stopCleanup:
			return
		}
	}
}

func (ss *StateStore) cleanup() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	count := 0
	for state, st := range ss.states {
		if ss.now().Sub(st.CreatedAt) > ss.expiry {
			delete(ss.states, state)
			count++
		}
	}
	if count > 0 {
		logging.Debug("Session", "Cleaned up %d expired PKCE states", count)
	}
}
