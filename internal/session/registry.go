package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Summary is a read-only view of one session for listings.
type Summary struct {
	ID            uuid.UUID `json:"id"`
	Slot          string    `json:"slot"`
	State         State     `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// Summary returns a read-only view of the session's current state.
func (s *Session) Summary() Summary {
	return Summary{
		ID:            s.ID,
		Slot:          s.Slot,
		State:         s.State(),
		CreatedAt:     s.CreatedAt,
		LastActivity:  s.LastActivity(),
		FailureReason: s.FailureReason(),
	}
}

// Registry tracks live sessions. A slot (agent identity) holds at most one
// non-terminal session at a time; terminal sessions stay readable until
// reaped.
type Registry struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[uuid.UUID]*Session)}
}

// Create registers a new session in the given slot. It fails while the
// slot still holds a non-terminal session.
func (r *Registry) Create(slot string, worker Worker, logBufferSize int) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.sessions {
		if existing.Slot == slot && !existing.State().Terminal() {
			return nil, fmt.Errorf("session.Registry.Create: slot %q: %w", slot, ErrSlotOccupied)
		}
	}

	s := New(slot, worker, logBufferSize)
	r.sessions[s.ID] = s
	return s, nil
}

// Get looks a session up by ID.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session.Registry.Get: %s: %w", id, ErrNotFound)
	}
	return s, nil
}

// Stop stops the identified session. Stopping an already-terminal session
// succeeds as a no-op, matching Session.Stop.
func (r *Registry) Stop(ctx context.Context, id uuid.UUID) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	return s.Stop(ctx)
}

// List returns summaries of every tracked session, newest first.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Summary, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

// Reap removes a terminal session from the registry.
func (r *Registry) Reap(id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return fmt.Errorf("session.Registry.Reap: %s: %w", id, ErrNotFound)
	}
	if !s.State().Terminal() {
		return fmt.Errorf("session.Registry.Reap: %s: %w", id, ErrNotTerminal)
	}
	delete(r.sessions, id)
	return nil
}
