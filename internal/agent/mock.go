package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gosuda/parax/internal/gate"
	"github.com/gosuda/parax/internal/watch"
)

// MockBackend produces deterministic canned responses, used for demos and
// tests. Outputs depend only on the batch contents: one generated test
// artifact per surviving file and one low-severity report per deletion.
type MockBackend struct {
	opts    Options
	history *historyRing

	// Delay stalls Invoke until it elapses or the context expires; tests use
	// it to simulate slow or hung agents.
	Delay time.Duration
	// Err, when set, makes every Invoke fail.
	Err error

	mu        sync.Mutex
	artifacts []Artifact
	closed    bool
}

func NewMockBackend(opts Options) (Backend, error) {
	return &MockBackend{
		opts:    opts,
		history: newHistoryRing(opts.HistoryLimit),
	}, nil
}

func (b *MockBackend) Invoke(ctx context.Context, batch gate.Batch) (Result, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Result{}, fmt.Errorf("agent.MockBackend.Invoke: backend closed")
	}
	b.mu.Unlock()

	start := time.Now()

	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-ctx.Done():
			return Result{}, fmt.Errorf("agent.MockBackend.Invoke: %w", ctx.Err())
		}
	}
	if b.Err != nil {
		return Result{}, fmt.Errorf("agent.MockBackend.Invoke: %w", b.Err)
	}

	prompt := BuildPrompt(b.opts.Mission, batch, b.history.snapshot(), b.opts.MaxContentSize,
		func(string) ([]byte, error) { return nil, fmt.Errorf("mock backend does not read files") })
	b.history.append("prompt", prompt)

	var (
		lines     []string
		reports   []ErrorReport
		artifacts []Artifact
	)
	for _, ev := range batch.Events {
		if ev.Kind == watch.KindDeleted {
			lines = append(lines, fmt.Sprintf("noted deletion of %s", ev.Path))
			reports = append(reports, ErrorReport{
				Timestamp:   time.Now().UTC(),
				File:        ev.Path,
				Severity:    SeverityLow,
				Description: "file was deleted; dependent tests may be orphaned",
			})
			continue
		}
		stem := strings.TrimSuffix(filepath.Base(ev.Path), filepath.Ext(ev.Path))
		name := fmt.Sprintf("test_%s_generated%s", stem, filepath.Ext(ev.Path))
		artifacts = append(artifacts, Artifact{
			Name:    name,
			Content: fmt.Sprintf("# generated by %s for %s (%s)\n", b.opts.AgentID, ev.Path, ev.Kind),
		})
		lines = append(lines, fmt.Sprintf("generated %s for %s", name, ev.Path))
	}

	output := strings.Join(lines, "\n")
	b.history.append("response", output)

	b.mu.Lock()
	b.artifacts = artifacts
	b.mu.Unlock()

	return Result{
		AgentID:      b.opts.AgentID,
		BatchID:      batch.ID,
		Succeeded:    true,
		Output:       output,
		ErrorReports: reports,
		Duration:     time.Since(start),
	}, nil
}

func (b *MockBackend) History() []HistoryEntry {
	return b.history.snapshot()
}

// Artifacts returns the files produced by the most recent invocation.
func (b *MockBackend) Artifacts() []Artifact {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Artifact, len(b.artifacts))
	copy(out, b.artifacts)
	return out
}

func (b *MockBackend) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
