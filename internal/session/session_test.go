package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	starts   atomic.Int32
	stops    atomic.Int32
	startErr error
	stopErr  error
}

func (w *fakeWorker) Start(context.Context, *Broadcaster) error {
	w.starts.Add(1)
	return w.startErr
}

func (w *fakeWorker) Stop(context.Context) error {
	w.stops.Add(1)
	return w.stopErr
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{}
	s := New("verifier", worker, 16)
	assert.Equal(t, StateCreated, s.State())

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, StateRunning, s.State())
	assert.EqualValues(t, 1, worker.starts.Load())

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
	assert.EqualValues(t, 1, worker.stops.Load())
}

func TestSessionStartTwice(t *testing.T) {
	t.Parallel()

	s := New("verifier", &fakeWorker{}, 16)
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
}

func TestSessionStartFailureIsTerminal(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{startErr: errors.New("binary not found")}
	s := New("verifier", worker, 16)

	require.Error(t, s.Start(context.Background()))
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, "binary not found", s.FailureReason())

	// Terminal sessions reject restart and absorb stop.
	assert.ErrorIs(t, s.Start(context.Background()), ErrTerminal)
	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateFailed, s.State())
}

func TestSessionStopBeforeStartSkipsWorker(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{}
	s := New("verifier", worker, 16)

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
	assert.EqualValues(t, 0, worker.stops.Load())
}

func TestSessionStopIsIdempotent(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{}
	s := New("verifier", worker, 16)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
	assert.EqualValues(t, 1, worker.stops.Load())
}

func TestSessionWorkerStopErrorStillStops(t *testing.T) {
	t.Parallel()

	worker := &fakeWorker{stopErr: errors.New("process already gone")}
	s := New("verifier", worker, 16)
	require.NoError(t, s.Start(context.Background()))

	require.NoError(t, s.Stop(context.Background()))
	assert.Equal(t, StateStopped, s.State())
	assert.Empty(t, s.FailureReason())
}

func TestSessionFailFromRunning(t *testing.T) {
	t.Parallel()

	s := New("verifier", &fakeWorker{}, 16)
	require.NoError(t, s.Start(context.Background()))

	s.Fail("watcher died")
	assert.Equal(t, StateFailed, s.State())
	assert.Equal(t, "watcher died", s.FailureReason())

	// Fail on a terminal session keeps the original reason.
	s.Fail("something else")
	assert.Equal(t, "watcher died", s.FailureReason())
}

func TestRegistrySlotExclusivity(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	first, err := r.Create("verifier", &fakeWorker{}, 16)
	require.NoError(t, err)

	_, err = r.Create("verifier", &fakeWorker{}, 16)
	assert.ErrorIs(t, err, ErrSlotOccupied)

	// Another slot is fine.
	_, err = r.Create("docs", &fakeWorker{}, 16)
	require.NoError(t, err)

	// Once the first session is terminal the slot frees up.
	require.NoError(t, first.Stop(context.Background()))
	_, err = r.Create("verifier", &fakeWorker{}, 16)
	require.NoError(t, err)
}

func TestRegistryGetStopList(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	s, err := r.Create("verifier", &fakeWorker{}, 16)
	require.NoError(t, err)
	require.NoError(t, s.Start(context.Background()))

	got, err := r.Get(s.ID)
	require.NoError(t, err)
	assert.Same(t, s, got)

	require.NoError(t, r.Stop(context.Background(), s.ID))
	assert.Equal(t, StateStopped, s.State())

	summaries := r.List()
	require.Len(t, summaries, 1)
	assert.Equal(t, s.ID, summaries[0].ID)
	assert.Equal(t, StateStopped, summaries[0].State)
}

func TestRegistryReap(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	s, err := r.Create("verifier", &fakeWorker{}, 16)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Reap(s.ID), ErrNotTerminal)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, r.Reap(s.ID))

	_, err = r.Get(s.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, r.Reap(s.ID), ErrNotFound)
}

func TestBroadcasterLateSubscriberGetsRecentRing(t *testing.T) {
	t.Parallel()

	s := New("verifier", &fakeWorker{}, 4)
	b := s.Broadcaster()
	for i := 0; i < 10; i++ {
		b.Append(LevelInfo, fmt.Sprintf("line %d", i))
	}

	sub, snapshot := b.Subscribe()
	defer b.Unsubscribe(sub)

	require.Len(t, snapshot, 4)
	assert.Equal(t, "line 6", snapshot[0].Message)
	assert.Equal(t, "line 9", snapshot[3].Message)
	for _, rec := range snapshot {
		assert.Equal(t, s.ID, rec.SessionID)
	}
}

func TestBroadcasterDeliversLive(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(New("verifier", &fakeWorker{}, 8).ID, 8)
	sub, snapshot := b.Subscribe()
	defer b.Unsubscribe(sub)
	assert.Empty(t, snapshot)

	b.Append(LevelWarn, "slow disk")

	rec := <-sub.Records()
	assert.Equal(t, LevelWarn, rec.Level)
	assert.Equal(t, "slow disk", rec.Message)
	assert.False(t, rec.Missed)
}

func TestBroadcasterSlowSubscriberDropsOldest(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(New("verifier", &fakeWorker{}, 2).ID, 2)
	sub, _ := b.Subscribe()
	defer b.Unsubscribe(sub)

	// Queue capacity is 2; the third append evicts "line 0" and flags the
	// gap on the record that replaced it.
	b.Append(LevelInfo, "line 0")
	b.Append(LevelInfo, "line 1")
	b.Append(LevelInfo, "line 2")

	first := <-sub.Records()
	assert.Equal(t, "line 1", first.Message)
	assert.False(t, first.Missed)

	second := <-sub.Records()
	assert.Equal(t, "line 2", second.Message)
	assert.True(t, second.Missed)
}

func TestBroadcasterCloseEndsSubscribers(t *testing.T) {
	t.Parallel()

	b := NewBroadcaster(New("verifier", &fakeWorker{}, 8).ID, 8)
	sub, _ := b.Subscribe()

	b.Close()
	_, open := <-sub.Records()
	assert.False(t, open)

	// Appends after close are dropped, subscribe still yields nothing live.
	b.Append(LevelInfo, "too late")
	late, snapshot := b.Subscribe()
	assert.Empty(t, snapshot)
	_, open = <-late.Records()
	assert.False(t, open)
}
