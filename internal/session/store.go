package session

import (
	"net/http"
	"sync"
	"time"

	"m365gate/internal/identity"
	"m365gate/pkg/logging"
	"m365gate/pkg/oauth"
)

// User is the signed-in user recorded in a session.
type User struct {
	CanonicalUserID string `json:"canonicalUserId"`
	ID              string `json:"id"`
	Email           string `json:"email"`
	Name            string `json:"name"`
}

// Session is the server-side state behind a session cookie.
type Session struct {
	ID        string
	CreatedAt time.Time
	ExpiresAt time.Time

	// CodeVerifier and State live between /login and /callback only.
	CodeVerifier string
	State        string
	// ReturnTo is a local path to redirect to after the callback.
	ReturnTo string

	User *User
}

// Config configures a Store.
type Config struct {
	CookieName string
	TTL        time.Duration
	// Secure sets the Secure attribute on cookies.
	Secure          bool
	CleanupInterval time.Duration
}

// Store is an in-memory session store.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	cookieName string
	ttl        time.Duration
	secure     bool
	now        func() time.Time

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewStore creates a store and starts its cleanup loop.
func NewStore(cfg Config) *Store {
	s := &Store{
		sessions:        make(map[string]*Session),
		cookieName:      cfg.CookieName,
		ttl:             cfg.TTL,
		secure:          cfg.Secure,
		now:             time.Now,
		cleanupInterval: cfg.CleanupInterval,
		stopCleanup:     make(chan struct{}),
	}
	if s.cookieName == "" {
		s.cookieName = "m365gate_session"
	}
	if s.ttl <= 0 {
		s.ttl = 24 * time.Hour
	}
	if s.cleanupInterval <= 0 {
		s.cleanupInterval = 5 * time.Minute
	}
	go s.cleanupLoop()
	return s
}

// CookieName returns the session cookie name.
func (s *Store) CookieName() string { return s.cookieName }

// Get returns the live session referenced by the request cookie.
func (s *Store) Get(r *http.Request) (*Session, bool) {
	c, err := r.Cookie(s.cookieName)
	if err != nil || c.Value == "" {
		return nil, false
	}
	return s.Lookup(c.Value)
}

// Lookup returns a copy of the live session with the given id.
func (s *Store) Lookup(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || !s.now().Before(sess.ExpiresAt) {
		return nil, false
	}
	cp := *sess
	if sess.User != nil {
		u := *sess.User
		cp.User = &u
	}
	return &cp, true
}

// GetOrCreate returns the request's session, creating one and setting the
// cookie when none exists.
func (s *Store) GetOrCreate(w http.ResponseWriter, r *http.Request) (*Session, error) {
	if sess, ok := s.Get(r); ok {
		return sess, nil
	}
	id, err := oauth.GenerateState()
	if err != nil {
		return nil, err
	}
	now := s.now()
	sess := &Session{ID: id, CreatedAt: now, ExpiresAt: now.Add(s.ttl)}

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	s.setCookie(w, id, s.ttl)
	logging.Debug("Session", "Created session %s", logging.TruncateSessionID(id))
	cp := *sess
	return &cp, nil
}

// Update applies fn to the stored session. It reports false when the session
// no longer exists.
func (s *Store) Update(id string, fn func(*Session)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	fn(sess)
	return true
}

// SetUser records the signed-in user and clears any pending PKCE state.
func (s *Store) SetUser(id string, user User) bool {
	return s.Update(id, func(sess *Session) {
		sess.User = &user
		sess.CodeVerifier = ""
		sess.State = ""
		sess.ReturnTo = ""
	})
}

// Destroy removes the request's session and expires the cookie.
func (s *Store) Destroy(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(s.cookieName); err == nil {
		s.Delete(c.Value)
	}
	s.setCookie(w, "", -1)
}

// Delete removes a session by id.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// DeleteUser removes every session signed in as canonicalUserID.
func (s *Store) DeleteUser(canonicalUserID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for id, sess := range s.sessions {
		if sess.User != nil && sess.User.CanonicalUserID == canonicalUserID {
			delete(s.sessions, id)
			count++
		}
	}
	return count
}

// Count returns the number of stored sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ResolveSession implements identity.SessionResolver.
func (s *Store) ResolveSession(r *http.Request) (*identity.Identity, bool) {
	sess, ok := s.Get(r)
	if !ok || sess.User == nil || sess.User.CanonicalUserID == "" {
		return nil, false
	}
	return &identity.Identity{
		CanonicalUserID: sess.User.CanonicalUserID,
		DeviceID:        identity.DeriveDeviceID(sess.User.Email),
		Source:          identity.SourceSession,
		Email:           sess.User.Email,
		Name:            sess.User.Name,
		SessionID:       sess.ID,
	}, true
}

func (s *Store) setCookie(w http.ResponseWriter, value string, ttl time.Duration) {
	c := &http.Cookie{
		Name:     s.cookieName,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	}
	if ttl < 0 {
		c.MaxAge = -1
	} else {
		c.MaxAge = int(ttl / time.Second)
	}
	http.SetCookie(w, c)
}

// Stop stops the cleanup loop.
func (s *Store) Stop() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCleanup:
			return
		}
	}
}

func (s *Store) cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	count := 0
	for id, sess := range s.sessions {
		if !now.Before(sess.ExpiresAt) {
			delete(s.sessions, id)
			count++
		}
	}
	if count > 0 {
		logging.Debug("Session", "Cleaned up %d expired sessions", count)
	}
}
