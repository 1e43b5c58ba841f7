package overseer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/parax/internal/agent"
	"github.com/gosuda/parax/internal/gate"
	"github.com/gosuda/parax/internal/watch"
)

type fakeReporter struct {
	mu       sync.Mutex
	reports  []agent.ErrorReport
	failures int
}

func (r *fakeReporter) Report(reports []agent.ErrorReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures > 0 {
		r.failures--
		return errors.New("reporter unavailable")
	}
	r.reports = append(r.reports, reports...)
	return nil
}

func (r *fakeReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

type fakeStore struct {
	mu     sync.Mutex
	stored map[string][]agent.Artifact
}

func (s *fakeStore) Store(agentID string, artifacts []agent.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stored == nil {
		s.stored = make(map[string][]agent.Artifact)
	}
	s.stored[agentID] = append(s.stored[agentID], artifacts...)
	return nil
}

func (s *fakeStore) artifactsFor(agentID string) []agent.Artifact {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stored[agentID]
}

type fakeSink struct {
	mu      sync.Mutex
	records []string
}

func (s *fakeSink) Record(level, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, level+": "+message)
}

func (s *fakeSink) contains(substr string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		if strings.Contains(rec, substr) {
			return true
		}
	}
	return false
}

func mockMember(t *testing.T, id string, delay time.Duration) Member {
	t.Helper()
	backend, err := agent.NewMockBackend(agent.Options{
		AgentID:      id,
		Mission:      agent.MissionTesting,
		HistoryLimit: 10,
	})
	require.NoError(t, err)
	backend.(*agent.MockBackend).Delay = delay
	return Member{ID: id, Backend: backend, Timeout: time.Second}
}

func dispatchBatch(events ...watch.Event) gate.Batch {
	return gate.Batch{ID: uuid.New(), Events: events}
}

func TestDispatchFansOutToEveryMember(t *testing.T) {
	t.Parallel()

	reporter := &fakeReporter{}
	store := &fakeStore{}
	sink := &fakeSink{}

	o := New(nil, nil, reporter, store, WithRecordSink(sink))
	for _, m := range []Member{mockMember(t, "verifier", 0), mockMember(t, "docs", 0)} {
		o.AddMember(m.ID, m.Backend, m.Timeout)
	}

	batch := dispatchBatch(
		watch.Event{Path: "pkg/handler.go", Kind: watch.KindModified, At: time.Now(), Size: 64},
		watch.Event{Path: "pkg/old.go", Kind: watch.KindDeleted, At: time.Now(), Size: -1},
	)
	o.dispatch(context.Background(), batch)

	// Both members produced one artifact for the surviving file and one
	// deletion report each.
	assert.Len(t, store.artifactsFor("verifier"), 1)
	assert.Len(t, store.artifactsFor("docs"), 1)
	assert.Equal(t, 2, reporter.count())
	assert.True(t, sink.contains("dispatching batch"))
	assert.True(t, sink.contains("agent verifier finished"))
	assert.True(t, sink.contains("agent docs finished"))
}

func TestDispatchHungMemberTimesOutIndependently(t *testing.T) {
	t.Parallel()

	reporter := &fakeReporter{}
	store := &fakeStore{}
	sink := &fakeSink{}

	o := New(nil, nil, reporter, store, WithRecordSink(sink))
	fast := mockMember(t, "fast", 0)
	hung := mockMember(t, "hung", 5*time.Second)
	o.AddMember(fast.ID, fast.Backend, fast.Timeout)
	o.AddMember(hung.ID, hung.Backend, 50*time.Millisecond)

	start := time.Now()
	o.dispatch(context.Background(), dispatchBatch(
		watch.Event{Path: "svc/main.go", Kind: watch.KindCreated, At: time.Now(), Size: 32},
	))
	elapsed := time.Since(start)

	// The hung member is cut off at its own timeout, not the full delay.
	assert.Less(t, elapsed, 2*time.Second)
	assert.True(t, sink.contains("agent fast finished"))
	assert.True(t, sink.contains("agent hung failed"))
	assert.True(t, sink.contains(context.DeadlineExceeded.Error()))
	assert.Len(t, store.artifactsFor("fast"), 1)
	assert.Empty(t, store.artifactsFor("hung"))
}

func TestDeliverRetriesReporterOnce(t *testing.T) {
	t.Parallel()

	reporter := &fakeReporter{failures: 1}
	o := New(nil, nil, reporter, nil)

	o.deliver(agent.Result{
		AgentID:   "verifier",
		BatchID:   uuid.New(),
		Succeeded: true,
		ErrorReports: []agent.ErrorReport{
			{Timestamp: time.Now().UTC(), File: "a.go", Severity: agent.SeverityLow, Description: "stale test"},
		},
	})

	assert.Equal(t, 1, reporter.count())
}

func TestDeliverDropsReportsWhenReporterStaysDown(t *testing.T) {
	t.Parallel()

	reporter := &fakeReporter{failures: 2}
	sink := &fakeSink{}
	o := New(nil, nil, reporter, nil, WithRecordSink(sink))

	o.deliver(agent.Result{
		AgentID:   "verifier",
		BatchID:   uuid.New(),
		Succeeded: true,
		ErrorReports: []agent.ErrorReport{
			{Timestamp: time.Now().UTC(), File: "a.go", Severity: agent.SeverityHigh, Description: "broken import"},
		},
	})

	assert.Zero(t, reporter.count())
	assert.True(t, sink.contains("dropped 1 error reports"))
}

func TestOverseerLoopBatchesAndDispatches(t *testing.T) {
	t.Parallel()

	g := gate.New(gate.Config{
		MinChangeInterval: 30 * time.Millisecond,
		BatchTimeout:      500 * time.Millisecond,
		MinFileSize:       1,
		MaxFileSize:       1024,
	})
	events := make(chan watch.Event, 8)
	store := &fakeStore{}

	o := New(g, events, &fakeReporter{}, store, WithPollInterval(10*time.Millisecond))
	verifier := mockMember(t, "verifier", 0)
	o.AddMember(verifier.ID, verifier.Backend, verifier.Timeout)

	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()
	assert.True(t, o.IsRunning())

	events <- watch.Event{Path: "cmd/a.go", Kind: watch.KindCreated, At: time.Now(), Size: 10}
	events <- watch.Event{Path: "cmd/b.go", Kind: watch.KindModified, At: time.Now(), Size: 20}

	require.Eventually(t, func() bool {
		return len(store.artifactsFor("verifier")) == 2
	}, 3*time.Second, 10*time.Millisecond)
}

func TestOverseerWithFilesystemWatcher(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	source, err := watch.NewSource([]string{dir}, []string{".go"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go source.Run(ctx)
	defer source.Close()

	g := gate.New(gate.Config{
		MinChangeInterval: 50 * time.Millisecond,
		BatchTimeout:      time.Second,
		MinFileSize:       1,
		MaxFileSize:       1024 * 1024,
		Extensions:        []string{".go"},
	})
	store := &fakeStore{}

	o := New(g, source.Events(), &fakeReporter{}, store, WithPollInterval(10*time.Millisecond))
	verifier := mockMember(t, "verifier", 0)
	o.AddMember(verifier.ID, verifier.Backend, verifier.Timeout)

	require.NoError(t, o.Start(ctx))
	defer o.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "service.go"), []byte("package svc\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored\n"), 0o644))

	// Only the .go file makes it through the watcher and gate.
	require.Eventually(t, func() bool {
		return len(store.artifactsFor("verifier")) >= 1
	}, 5*time.Second, 20*time.Millisecond)
	for _, artifact := range store.artifactsFor("verifier") {
		assert.Equal(t, "test_service_generated.go", artifact.Name)
	}
}

func TestOverseerStartTwiceFails(t *testing.T) {
	t.Parallel()

	o := New(gate.New(gate.DefaultConfig()), nil, nil, nil)
	require.NoError(t, o.Start(context.Background()))
	defer o.Stop()

	assert.ErrorIs(t, o.Start(context.Background()), ErrAlreadyRunning)
}

func TestOverseerStopIsIdempotent(t *testing.T) {
	t.Parallel()

	o := New(gate.New(gate.DefaultConfig()), nil, nil, nil)

	// Stop before start is a no-op.
	o.Stop()

	require.NoError(t, o.Start(context.Background()))
	o.Stop()
	o.Stop()
	assert.False(t, o.IsRunning())
}
