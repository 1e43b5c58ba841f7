package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Source wraps an fsnotify watcher over one or more roots and emits typed
// Events for files matching the extension allow-list. Events flow through a
// single channel so downstream consumers get the single-reader discipline the
// gate relies on.
type Source struct {
	watcher    *fsnotify.Watcher
	extensions map[string]struct{}
	events     chan Event
	done       chan struct{}
}

// NewSource creates a Source watching every directory under the given roots.
// A root that does not exist is skipped with a warning so one missing
// directory does not take down the whole pipeline.
func NewSource(roots, extensions []string) (*Source, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch.NewSource: %w", err)
	}

	extSet := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		extSet[strings.ToLower(ext)] = struct{}{}
	}

	s := &Source{
		watcher:    watcher,
		extensions: extSet,
		events:     make(chan Event, 256),
		done:       make(chan struct{}),
	}

	watched := 0
	for _, root := range roots {
		if _, statErr := os.Stat(root); statErr != nil {
			log.Warn().Str("root", root).Msg("watch: root does not exist, skipping")
			continue
		}
		if addErr := s.addRecursive(root); addErr != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("watch.NewSource: %w", addErr)
		}
		watched++
	}
	if watched == 0 {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch.NewSource: no watchable roots in %v", roots)
	}

	return s, nil
}

// Events returns the channel of filtered change events. The channel is closed
// when the source stops.
func (s *Source) Events() <-chan Event {
	return s.events
}

// Run translates raw fsnotify events until ctx is cancelled or Close is
// called. Newly created directories are added to the watch set so recursive
// watching keeps up with the tree.
func (s *Source) Run(ctx context.Context) {
	defer close(s.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(ctx, ev)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watch: watcher error")
		}
	}
}

// Close stops the underlying watcher. Safe to call once.
func (s *Source) Close() error {
	close(s.done)
	if err := s.watcher.Close(); err != nil {
		return fmt.Errorf("watch.Source.Close: %w", err)
	}
	return nil
}

func (s *Source) handle(ctx context.Context, ev fsnotify.Event) {
	kind, ok := translateOp(ev.Op)
	if !ok {
		return
	}

	// Track new directories; fsnotify watches are not recursive by default.
	if kind == KindCreated {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if addErr := s.addRecursive(ev.Name); addErr != nil {
				log.Warn().Err(addErr).Str("dir", ev.Name).Msg("watch: failed to watch new directory")
			}
			return
		}
	}

	if !s.allowed(ev.Name) {
		return
	}

	size := int64(-1)
	if kind != KindDeleted {
		if info, err := os.Stat(ev.Name); err == nil {
			if info.IsDir() {
				return
			}
			size = info.Size()
		}
	}

	out := Event{Path: ev.Name, Kind: kind, At: time.Now(), Size: size}
	select {
	case s.events <- out:
	case <-ctx.Done():
	case <-s.done:
	}
}

func (s *Source) allowed(path string) bool {
	if len(s.extensions) == 0 {
		return true
	}
	_, ok := s.extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

func (s *Source) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if addErr := s.watcher.Add(path); addErr != nil {
			return fmt.Errorf("add %s: %w", path, addErr)
		}
		return nil
	})
}

func translateOp(op fsnotify.Op) (Kind, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return KindCreated, true
	case op.Has(fsnotify.Write):
		return KindModified, true
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return KindDeleted, true
	default:
		// Chmod and friends carry no content change.
		return "", false
	}
}
