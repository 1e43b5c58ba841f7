package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// LogLevel classifies a broadcast record.
type LogLevel string

const (
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// LogRecord is one line of session activity. Missed is set on the first
// record a subscriber receives after its queue overflowed.
type LogRecord struct {
	SessionID uuid.UUID `json:"session_id"`
	Level     LogLevel  `json:"level"`
	At        time.Time `json:"at"`
	Message   string    `json:"message"`
	Missed    bool      `json:"missed,omitempty"`
}

// Subscriber is one live consumer of a broadcaster. Records are delivered
// on a bounded queue; slow consumers lose oldest records, never block
// producers.
type Subscriber struct {
	ch     chan LogRecord
	missed bool // guarded by the owning broadcaster's mutex
}

// Records is the subscriber's delivery channel. It is closed when the
// broadcaster closes or the subscriber is removed.
func (s *Subscriber) Records() <-chan LogRecord { return s.ch }

// Broadcaster retains a bounded ring of recent records and fans new ones
// out to subscribers. Appending never blocks on a slow subscriber.
type Broadcaster struct {
	sessionID uuid.UUID

	mu         sync.Mutex
	buffer     []LogRecord
	size       int
	subs       map[*Subscriber]struct{}
	lastAppend time.Time
	closed     bool
}

func NewBroadcaster(sessionID uuid.UUID, bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Broadcaster{
		sessionID: sessionID,
		size:      bufferSize,
		subs:      make(map[*Subscriber]struct{}),
	}
}

// Append records a line, retains it in the ring, and offers it to every
// subscriber. When a subscriber's queue is full the oldest queued record
// is dropped and the gap is flagged on the next record it receives.
func (b *Broadcaster) Append(level LogLevel, message string) {
	record := LogRecord{
		SessionID: b.sessionID,
		Level:     level,
		At:        time.Now().UTC(),
		Message:   message,
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}

	b.buffer = append(b.buffer, record)
	if len(b.buffer) > b.size {
		b.buffer = b.buffer[len(b.buffer)-b.size:]
	}
	b.lastAppend = record.At

	for sub := range b.subs {
		out := record
		if sub.missed {
			out.Missed = true
		}
		select {
		case sub.ch <- out:
			sub.missed = false
		default:
			select {
			case <-sub.ch:
			default:
			}
			sub.missed = true
			out.Missed = true
			select {
			case sub.ch <- out:
				sub.missed = false
			default:
			}
		}
	}
}

// Record adapts Append to the overseer's activity sink.
func (b *Broadcaster) Record(level, message string) {
	b.Append(LogLevel(level), message)
}

// Subscribe registers a consumer and returns a snapshot of the retained
// ring. A late subscriber therefore still sees the most recent records.
func (b *Broadcaster) Subscribe() (*Subscriber, []LogRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{ch: make(chan LogRecord, b.size)}
	if b.closed {
		close(sub.ch)
		return sub, nil
	}
	b.subs[sub] = struct{}{}

	snapshot := make([]LogRecord, len(b.buffer))
	copy(snapshot, b.buffer)
	return sub, snapshot
}

// Unsubscribe removes a consumer and closes its channel. Safe to call
// twice.
func (b *Broadcaster) Unsubscribe(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[sub]; !ok {
		return
	}
	delete(b.subs, sub)
	close(sub.ch)
}

// LastAppend is the timestamp of the most recent record, zero if none.
func (b *Broadcaster) LastAppend() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastAppend
}

// Close drops all subscribers and rejects further appends. The retained
// ring stays readable through Subscribe snapshots of existing callers.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
	}
	b.subs = make(map[*Subscriber]struct{})
}
