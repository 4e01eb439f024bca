package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/weather-history-service/internal/history"
)

var (
	// ErrSessionNotFound is returned for unknown, deleted or expired session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTooManySessions is returned by Create when the registry is at capacity.
	ErrTooManySessions = errors.New("too many sessions")
)

// Session is one dashboard view with its own observation history.
type Session struct {
	ID        string
	Store     *history.Store
	CreatedAt time.Time

	lastSeen time.Time
}

// Registry owns every live session. Sessions idle for longer than idleTTL are
// dropped on access and by Sweep.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	idleTTL  time.Duration
	max      int
	clock    clockwork.Clock
	onChange func(active int)
}

// NewRegistry returns an empty registry. idleTTL <= 0 disables expiry and
// maxSessions <= 0 disables the capacity bound. A nil clock uses wall time.
func NewRegistry(idleTTL time.Duration, maxSessions int, clock clockwork.Clock) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		idleTTL:  idleTTL,
		max:      maxSessions,
		clock:    clock,
	}
}

// OnChange registers a callback invoked with the live session count after
// every create, delete or expiry. Used to drive the active sessions gauge.
func (r *Registry) OnChange(fn func(active int)) {
	r.mu.Lock()
	r.onChange = fn
	r.mu.Unlock()
}

// Create starts a new session with an empty history.
func (r *Registry) Create() (*Session, error) {
	r.mu.Lock()
	now := r.clock.Now()
	r.sweepLocked(now)
	if r.max > 0 && len(r.sessions) >= r.max {
		r.mu.Unlock()
		return nil, ErrTooManySessions
	}
	s := &Session{
		ID:        uuid.NewString(),
		Store:     history.NewStore(),
		CreatedAt: now,
		lastSeen:  now,
	}
	r.sessions[s.ID] = s
	n, notify := len(r.sessions), r.onChange
	r.mu.Unlock()

	if notify != nil {
		notify(n)
	}
	return s, nil
}

// Get returns the session and marks it as recently used.
func (r *Registry) Get(id string) (*Session, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrSessionNotFound
	}
	r.mu.Lock()
	now := r.clock.Now()
	s, ok := r.sessions[id]
	if ok && r.expired(s, now) {
		delete(r.sessions, id)
		ok = false
		n, notify := len(r.sessions), r.onChange
		r.mu.Unlock()
		if notify != nil {
			notify(n)
		}
		return nil, ErrSessionNotFound
	}
	if !ok {
		r.mu.Unlock()
		return nil, ErrSessionNotFound
	}
	s.lastSeen = now
	r.mu.Unlock()
	return s, nil
}

// Delete ends the session. Its history is discarded.
func (r *Registry) Delete(id string) error {
	r.mu.Lock()
	if _, ok := r.sessions[id]; !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(r.sessions, id)
	n, notify := len(r.sessions), r.onChange
	r.mu.Unlock()

	if notify != nil {
		notify(n)
	}
	return nil
}

// Len returns the number of sessions held, including any not yet swept.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep removes expired sessions and returns how many were dropped.
func (r *Registry) Sweep() int {
	r.mu.Lock()
	dropped := r.sweepLocked(r.clock.Now())
	n, notify := len(r.sessions), r.onChange
	r.mu.Unlock()

	if dropped > 0 && notify != nil {
		notify(n)
	}
	return dropped
}

// Run sweeps on every interval tick until ctx is done.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || r.idleTTL <= 0 {
		return
	}
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			r.Sweep()
		}
	}
}

func (r *Registry) sweepLocked(now time.Time) int {
	dropped := 0
	for id, s := range r.sessions {
		if r.expired(s, now) {
			delete(r.sessions, id)
			dropped++
		}
	}
	return dropped
}

func (r *Registry) expired(s *Session, now time.Time) bool {
	return r.idleTTL > 0 && now.Sub(s.lastSeen) > r.idleTTL
}
