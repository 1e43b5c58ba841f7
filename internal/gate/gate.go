// Package gate filters and batches raw filesystem change events. The gate is
// a pure state machine: it is mutated only by the overseer loop, so it does
// no locking of its own.
package gate

import (
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/parax/internal/watch"
)

// Config holds the filtering and batching thresholds.
type Config struct {
	// MinChangeInterval is the quiet period after the last accepted change
	// before a pending batch is released.
	MinChangeInterval time.Duration
	// BatchTimeout bounds how long any change can sit pending, even under
	// continuous edits.
	BatchTimeout time.Duration
	MinFileSize  int64
	MaxFileSize  int64
	// IgnorePatterns are matched against the file's base name and against
	// every path segment (so ".git" and "__pycache__" exclude whole trees).
	IgnorePatterns []string
	// Extensions is the allow-list; empty allows everything.
	Extensions []string
}

// DefaultConfig mirrors the standalone overseer's thresholds.
func DefaultConfig() Config {
	return Config{
		MinChangeInterval: 500 * time.Millisecond,
		BatchTimeout:      2 * time.Second,
		MinFileSize:       1,
		MaxFileSize:       1024 * 1024,
		IgnorePatterns:    []string{"*.pyc", "__pycache__", ".git", "*.log", "*.tmp", "*.swp", ".DS_Store"},
	}
}

// Batch is a deduplicated, ordered set of changes released together.
// Once returned by GetBatch the underlying pending state is cleared;
// batches are not re-issuable.
type Batch struct {
	ID     uuid.UUID
	Events []watch.Event
}

// Empty reports whether the batch carries no changes. Callers skip dispatch
// for empty batches.
func (b Batch) Empty() bool { return len(b.Events) == 0 }

type pending struct {
	event     watch.Event
	firstSeen time.Time
}

// Gate coalesces change events per path and decides when a batch is ready.
type Gate struct {
	cfg        Config
	now        func() time.Time
	extensions map[string]struct{}

	changes      map[string]*pending
	lastAccepted time.Time
}

// New creates a Gate. The clock defaults to time.Now; tests inject their own.
func New(cfg Config) *Gate {
	return NewWithClock(cfg, time.Now)
}

func NewWithClock(cfg Config, now func() time.Time) *Gate {
	extSet := make(map[string]struct{}, len(cfg.Extensions))
	for _, ext := range cfg.Extensions {
		extSet[strings.ToLower(ext)] = struct{}{}
	}
	return &Gate{
		cfg:        cfg,
		now:        now,
		extensions: extSet,
		changes:    make(map[string]*pending),
	}
}

// AddChange filters one change event and, when accepted, coalesces it into
// the pending set: the latest kind wins per path while the first-seen
// timestamp is retained. Returns false with no state change on rejection.
func (g *Gate) AddChange(ev watch.Event) bool {
	if g.shouldIgnore(ev.Path) {
		return false
	}
	if !g.allowedExtension(ev.Path) {
		return false
	}
	// Size bounds are meaningless for deletes; the file is gone.
	if ev.Kind != watch.KindDeleted {
		if ev.Size < g.cfg.MinFileSize || ev.Size > g.cfg.MaxFileSize {
			return false
		}
	}

	now := g.now()
	if existing, ok := g.changes[ev.Path]; ok {
		existing.event = ev
	} else {
		g.changes[ev.Path] = &pending{event: ev, firstSeen: now}
	}
	g.lastAccepted = now

	return true
}

// ShouldProcessBatch reports whether a batch is ready: either the oldest
// pending change has waited past BatchTimeout, or the gate has been quiet
// for MinChangeInterval with something pending. Idempotent between events.
func (g *Gate) ShouldProcessBatch() bool {
	if len(g.changes) == 0 {
		return false
	}

	now := g.now()
	if now.Sub(g.oldestFirstSeen()) >= g.cfg.BatchTimeout {
		return true
	}
	return now.Sub(g.lastAccepted) >= g.cfg.MinChangeInterval
}

// GetBatch snapshots the pending set into a Batch ordered by first-seen time
// and clears all gate state. An empty gate yields a valid empty Batch.
func (g *Gate) GetBatch() Batch {
	batch := Batch{ID: uuid.New(), Events: make([]watch.Event, 0, len(g.changes))}

	entries := make([]*pending, 0, len(g.changes))
	for _, p := range g.changes {
		entries = append(entries, p)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].firstSeen.Equal(entries[j].firstSeen) {
			return entries[i].event.Path < entries[j].event.Path
		}
		return entries[i].firstSeen.Before(entries[j].firstSeen)
	})
	for _, p := range entries {
		batch.Events = append(batch.Events, p.event)
	}

	g.ClearPending()

	return batch
}

// PendingCount returns the number of coalesced paths waiting for dispatch.
func (g *Gate) PendingCount() int { return len(g.changes) }

// ClearPending drops all pending changes and resets both timers.
func (g *Gate) ClearPending() {
	g.changes = make(map[string]*pending)
	g.lastAccepted = time.Time{}
}

func (g *Gate) oldestFirstSeen() time.Time {
	var oldest time.Time
	for _, p := range g.changes {
		if oldest.IsZero() || p.firstSeen.Before(oldest) {
			oldest = p.firstSeen
		}
	}
	return oldest
}

func (g *Gate) allowedExtension(path string) bool {
	if len(g.extensions) == 0 {
		return true
	}
	_, ok := g.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// shouldIgnore checks every path segment against the ignore patterns and
// treats dotfile segments as hidden.
func (g *Gate) shouldIgnore(path string) bool {
	segments := strings.Split(filepath.ToSlash(path), "/")
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			continue
		}
		if strings.HasPrefix(seg, ".") {
			return true
		}
		for _, pattern := range g.cfg.IgnorePatterns {
			if ok, _ := filepath.Match(pattern, seg); ok {
				return true
			}
		}
	}
	return false
}
