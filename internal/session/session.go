// Package session wraps one running agent pipeline with a lifecycle state
// machine and a log broadcaster, and tracks live sessions in a registry.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// State is a session lifecycle phase.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Terminal reports whether the state admits no further transitions.
func (s State) Terminal() bool { return s == StateStopped || s == StateFailed }

var (
	ErrAlreadyStarted = errors.New("session: already started")       //nolint:gochecknoglobals // sentinel error
	ErrTerminal       = errors.New("session: session is terminal")   //nolint:gochecknoglobals // sentinel error
	ErrSlotOccupied   = errors.New("session: slot already occupied") //nolint:gochecknoglobals // sentinel error
	ErrNotFound       = errors.New("session: session not found")     //nolint:gochecknoglobals // sentinel error
	ErrNotTerminal    = errors.New("session: session still active")  //nolint:gochecknoglobals // sentinel error
)

// Worker is the pipeline a session owns. Start allocates the agent and
// begins processing, streaming activity into the given broadcaster; Stop
// winds the pipeline down and releases the agent.
type Worker interface {
	Start(ctx context.Context, logs *Broadcaster) error
	Stop(ctx context.Context) error
}

// Session tracks one agent pipeline through its lifecycle. State moves
// Created -> Starting -> Running -> Stopping -> Stopped, or to Failed from
// Starting/Running. A session that never started stops without touching
// its worker.
type Session struct {
	ID        uuid.UUID
	Slot      string
	CreatedAt time.Time

	worker      Worker
	broadcaster *Broadcaster

	mu      sync.Mutex
	state   State
	failure string
}

func New(slot string, worker Worker, logBufferSize int) *Session {
	id := uuid.New()
	return &Session{
		ID:          id,
		Slot:        slot,
		CreatedAt:   time.Now().UTC(),
		worker:      worker,
		broadcaster: NewBroadcaster(id, logBufferSize),
		state:       StateCreated,
	}
}

// Broadcaster exposes the session's log stream.
func (s *Session) Broadcaster() *Broadcaster { return s.broadcaster }

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// FailureReason is non-empty only in the Failed state.
func (s *Session) FailureReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// LastActivity is the time of the session's most recent log record,
// falling back to creation time for a quiet session.
func (s *Session) LastActivity() time.Time {
	if last := s.broadcaster.LastAppend(); !last.IsZero() {
		return last
	}
	return s.CreatedAt
}

// Start allocates the worker and moves the session to Running. A start
// failure is terminal; the session lands in Failed with the reason kept.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateCreated {
		cur := s.state
		s.mu.Unlock()
		if cur.Terminal() {
			return fmt.Errorf("session.Session.Start: %w", ErrTerminal)
		}
		return fmt.Errorf("session.Session.Start: %w", ErrAlreadyStarted)
	}
	s.state = StateStarting
	s.mu.Unlock()

	s.broadcaster.Append(LevelInfo, "session starting")

	if err := s.worker.Start(ctx, s.broadcaster); err != nil {
		s.fail(err.Error())
		return fmt.Errorf("session.Session.Start: %w", err)
	}

	s.mu.Lock()
	// Stop may have raced in while the worker was coming up.
	if s.state != StateStarting {
		s.mu.Unlock()
		return nil
	}
	s.state = StateRunning
	s.mu.Unlock()

	s.broadcaster.Append(LevelInfo, "session running")
	return nil
}

// Stop winds the session down. Stopping a session that never reached
// Running skips the worker entirely. Stopping a terminal session is a
// no-op. A worker stop error still lands the session in Stopped; the
// error is logged, not surfaced as session failure.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateStopped, StateFailed:
		s.mu.Unlock()
		return nil
	case StateCreated, StateStarting:
		s.state = StateStopped
		s.mu.Unlock()
		s.broadcaster.Append(LevelInfo, "session stopped before start completed")
		s.broadcaster.Close()
		return nil
	case StateStopping:
		s.mu.Unlock()
		return nil
	case StateRunning:
		s.state = StateStopping
		s.mu.Unlock()
	}

	s.broadcaster.Append(LevelInfo, "session stopping")

	if err := s.worker.Stop(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID.String()).Msg("session: worker stop failed")
		s.broadcaster.Append(LevelWarn, fmt.Sprintf("worker stop reported: %v", err))
	}

	s.mu.Lock()
	s.state = StateStopped
	s.mu.Unlock()

	s.broadcaster.Append(LevelInfo, "session stopped")
	s.broadcaster.Close()
	return nil
}

// Fail marks the session failed with the given reason. No-op once
// terminal.
func (s *Session) Fail(reason string) {
	s.fail(reason)
}

func (s *Session) fail(reason string) {
	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return
	}
	s.state = StateFailed
	s.failure = reason
	s.mu.Unlock()

	s.broadcaster.Append(LevelError, "session failed: "+reason)
	s.broadcaster.Close()
}
