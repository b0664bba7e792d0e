// Package session implements the dense monotonic SessionId sequence and the
// bounded registry of active sessions that the Room owns.
package session

import (
	"sync"
	"sync/atomic"

	"github.com/communityvi/communityvi-sub000/internal/broadcast"
	"github.com/communityvi/communityvi-sub000/internal/identity"
)

// ID is a non-negative, dense, monotonically assigned session identifier.
// It is stable for the session's lifetime and never reused within a
// server run (reuse across restarts is permitted since the sequence
// resets).
type ID uint64

// Sequence hands out dense monotonic ids starting from 0.
type Sequence struct {
	next atomic.Uint64
}

// Next returns the next id in the sequence.
func (s *Sequence) Next() ID {
	return ID(s.next.Add(1) - 1)
}

// Session is one registered participant, owned exclusively by the
// Repository: its id, its user and its broadcast buffer. It holds no
// outgoing sink; the lifecycle keeps the transport's send function and
// serializes the broadcast pump and the request handler reply path on it.
type Session struct {
	ID     ID
	User   identity.User
	Buffer *broadcast.Buffer
}

// Repository is the bounded, roster-ordering-preserving registry of active
// sessions, keyed by ID and by normalized name for uniqueness checks.
type Repository struct {
	mu          sync.RWMutex
	maxSessions int
	order       []ID // insertion order, for deterministic roster snapshots
	byID        map[ID]*Session
	byName      map[string]ID
}

// NewRepository creates an empty repository bounded at maxSessions.
func NewRepository(maxSessions int) *Repository {
	return &Repository{
		maxSessions: maxSessions,
		byID:        make(map[ID]*Session),
		byName:      make(map[string]ID),
	}
}

// ErrRoomFull is returned by Add when the repository is already at
// capacity.
var ErrRoomFull = repoError("room is already full")

// ErrNameAlreadyInUse is returned by Add when the normalized name collides
// with an existing session.
var ErrNameAlreadyInUse = repoError("name is already in use")

type repoError string

func (e repoError) Error() string { return string(e) }

// CanAdd reports whether a session for user could currently be added,
// failing with ErrRoomFull or ErrNameAlreadyInUse. Callers that must not
// burn a sequence id on a rejected registration call this before drawing
// the id and then calling Add; must be called under the Room's mutation
// lock along with the subsequent Add for the check to remain valid.
func (r *Repository) CanAdd(user identity.User) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.order) >= r.maxSessions {
		return ErrRoomFull
	}
	if _, exists := r.byName[user.NormalizedName]; exists {
		return ErrNameAlreadyInUse
	}
	return nil
}

// Add registers a new session for user, failing with ErrRoomFull or
// ErrNameAlreadyInUse. Must be called under the Room's mutation lock: the
// repository itself only guards its own maps, not the check-then-act
// sequence across Room state (medium, sequence counters) that Room.AddSession
// performs atomically.
func (r *Repository) Add(id ID, user identity.User, maxBufferHint int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) >= r.maxSessions {
		return nil, ErrRoomFull
	}
	if _, exists := r.byName[user.NormalizedName]; exists {
		return nil, ErrNameAlreadyInUse
	}

	s := &Session{ID: id, User: user, Buffer: broadcast.New(maxBufferHint)}
	r.byID[id] = s
	r.byName[user.NormalizedName] = id
	r.order = append(r.order, id)
	return s, nil
}

// Remove deregisters a session. It is a no-op if the id is not present,
// making removal idempotent as required when multiple lifecycle sub-tasks
// race to tear a session down.
func (r *Repository) Remove(id ID) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	delete(r.byID, id)
	delete(r.byName, s.User.NormalizedName)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return s, true
}

// Get returns the session for id, if present.
func (r *Repository) Get(id ID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[id]
	return s, ok
}

// Snapshot returns every currently registered session in registration
// order. The returned slice is a copy safe to read without holding any
// lock.
func (r *Repository) Snapshot() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}

// Len reports the number of currently registered sessions.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
