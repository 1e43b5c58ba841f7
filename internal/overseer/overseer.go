// Package overseer drives the change-detection-and-dispatch pipeline: it
// owns the delta gate, polls it from a single loop, and fans ready batches
// out to every registered agent in parallel.
package overseer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/parax/internal/agent"
	"github.com/gosuda/parax/internal/gate"
	"github.com/gosuda/parax/internal/report"
	"github.com/gosuda/parax/internal/watch"
)

// ErrAlreadyRunning is returned when Start is called on a running overseer.
var ErrAlreadyRunning = errors.New("overseer: already running") //nolint:gochecknoglobals // sentinel error

const defaultPollInterval = 100 * time.Millisecond

// Reporter persists agent findings. Failures here are external-I/O failures,
// not pipeline failures: the overseer logs them and moves on.
type Reporter interface {
	Report(reports []agent.ErrorReport) error
}

// ArtifactStore persists generated files from agents that produce them.
type ArtifactStore interface {
	Store(agentID string, artifacts []agent.Artifact) error
}

// RecordSink receives pipeline activity for live streaming. Nil-able.
type RecordSink interface {
	Record(level, message string)
}

// Member is one registered agent with its invocation timeout.
type Member struct {
	ID      string
	Backend agent.Backend
	Timeout time.Duration
}

// Overseer coordinates watcher events, the gate, and agent dispatch. The
// gate is touched only by the overseer's single loop goroutine.
type Overseer struct {
	gate         *gate.Gate
	events       <-chan watch.Event
	members      []Member
	reporter     Reporter
	artifacts    ArtifactStore
	monitor      *report.Monitor
	sink         RecordSink
	pollInterval time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// Option customizes an Overseer.
type Option func(*Overseer)

// WithPollInterval overrides the gate polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(o *Overseer) { o.pollInterval = d }
}

// WithRecordSink streams pipeline activity records to the given sink.
func WithRecordSink(sink RecordSink) Option {
	return func(o *Overseer) { o.sink = sink }
}

// WithMonitor surfaces error reports landing in the report file, including
// those written by other processes sharing it.
func WithMonitor(m *report.Monitor) Option {
	return func(o *Overseer) { o.monitor = m }
}

func New(g *gate.Gate, events <-chan watch.Event, reporter Reporter, artifacts ArtifactStore, opts ...Option) *Overseer {
	o := &Overseer{
		gate:         g,
		events:       events,
		reporter:     reporter,
		artifacts:    artifacts,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// AddMember registers an agent. Must be called before Start.
func (o *Overseer) AddMember(id string, backend agent.Backend, timeout time.Duration) {
	o.members = append(o.members, Member{ID: id, Backend: backend, Timeout: timeout})
}

// Start launches the orchestration loop. The loop exits when ctx is
// cancelled or Stop is called.
func (o *Overseer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	o.running = true
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	o.mu.Unlock()

	go o.run(ctx)

	return nil
}

// Stop signals the loop to exit once the in-flight dispatch (if any)
// completes, and waits for it. In-flight agent invocations are not
// abandoned; they run out their own timeouts. Idempotent.
func (o *Overseer) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stop)
	done := o.done
	o.mu.Unlock()

	<-done
}

// IsRunning reflects loop state, not individual invocation state.
func (o *Overseer) IsRunning() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

func (o *Overseer) run(ctx context.Context) {
	defer close(o.done)
	defer func() {
		o.mu.Lock()
		o.running = false
		o.mu.Unlock()
	}()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	events := o.events

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stop:
			return
		case ev, ok := <-events:
			if !ok {
				// Watcher gone; keep polling so pending changes still flush.
				events = nil
				continue
			}
			if o.gate.AddChange(ev) {
				log.Debug().Str("path", ev.Path).Str("kind", string(ev.Kind)).Msg("overseer: change accepted")
			} else {
				log.Debug().Str("path", ev.Path).Str("kind", string(ev.Kind)).Msg("overseer: change ignored")
			}
		case <-ticker.C:
			o.surfaceReports()
			if !o.gate.ShouldProcessBatch() {
				continue
			}
			batch := o.gate.GetBatch()
			if batch.Empty() {
				continue
			}
			o.dispatch(ctx, batch)
		}
	}
}

// surfaceReports drains newly filed error reports and renders them at a
// log level matching their severity.
func (o *Overseer) surfaceReports() {
	if o.monitor == nil || !o.monitor.HasNewReports() {
		return
	}
	reports, err := o.monitor.Drain()
	if err != nil {
		log.Warn().Err(err).Msg("overseer: draining error reports")
		return
	}
	for _, r := range reports {
		evt := log.Info()
		level := "info"
		switch r.Severity {
		case agent.SeverityHigh:
			evt = log.Error()
			level = "error"
		case agent.SeverityMedium:
			evt = log.Warn()
			level = "warn"
		case agent.SeverityLow:
		}
		evt.Str("file", r.File).Str("severity", string(r.Severity)).Msg(r.Description)
		o.record(level, fmt.Sprintf("[%s] %s: %s", r.Severity, r.File, r.Description))
	}
}

// dispatch fans one batch out to every member concurrently. Invocations are
// independent: one member's timeout or failure never blocks the others.
func (o *Overseer) dispatch(ctx context.Context, batch gate.Batch) {
	o.record("info", fmt.Sprintf("dispatching batch %s (%d changes) to %d agents",
		batch.ID, len(batch.Events), len(o.members)))

	results := make(chan agent.Result, len(o.members))

	var wg sync.WaitGroup
	for _, member := range o.members {
		wg.Add(1)
		go func(m Member) {
			defer wg.Done()
			results <- o.invokeMember(ctx, m, batch)
		}(member)
	}
	wg.Wait()
	close(results)

	for result := range results {
		o.deliver(result)
	}
}

func (o *Overseer) invokeMember(ctx context.Context, m Member, batch gate.Batch) agent.Result {
	ictx, cancel := context.WithTimeout(ctx, m.Timeout)
	defer cancel()

	start := time.Now()
	result, err := m.Backend.Invoke(ictx, batch)
	if err != nil {
		// A member failure becomes a failed result, never a pipeline failure.
		log.Warn().Err(err).Str("agent_id", m.ID).Str("batch_id", batch.ID.String()).Msg("overseer: invocation failed")
		return agent.Result{
			AgentID:       m.ID,
			BatchID:       batch.ID,
			Succeeded:     false,
			FailureReason: err.Error(),
			Duration:      time.Since(start),
		}
	}

	return result
}

// deliver hands one result to the reporter and artifact store. Sink errors
// are retried once, then dropped with a warning.
func (o *Overseer) deliver(result agent.Result) {
	if result.Succeeded {
		o.record("info", fmt.Sprintf("agent %s finished batch %s in %s", result.AgentID, result.BatchID, result.Duration.Round(time.Millisecond)))
		if result.Output != "" {
			o.record("info", result.Output)
		}
	} else {
		o.record("error", fmt.Sprintf("agent %s failed batch %s: %s", result.AgentID, result.BatchID, result.FailureReason))
	}

	if o.reporter != nil && len(result.ErrorReports) > 0 {
		if err := withOneRetry(func() error { return o.reporter.Report(result.ErrorReports) }); err != nil {
			log.Warn().Err(err).Str("agent_id", result.AgentID).Msg("overseer: dropping error reports after retry")
			o.record("warn", fmt.Sprintf("dropped %d error reports from %s", len(result.ErrorReports), result.AgentID))
		}
	}

	if o.artifacts != nil && result.Succeeded {
		if producer, ok := o.backendFor(result.AgentID).(agent.ArtifactProducer); ok {
			artifacts := producer.Artifacts()
			if len(artifacts) > 0 {
				if err := withOneRetry(func() error { return o.artifacts.Store(result.AgentID, artifacts) }); err != nil {
					log.Warn().Err(err).Str("agent_id", result.AgentID).Msg("overseer: dropping artifacts after retry")
				}
			}
		}
	}
}

func (o *Overseer) backendFor(agentID string) agent.Backend {
	for _, m := range o.members {
		if m.ID == agentID {
			return m.Backend
		}
	}
	return nil
}

func (o *Overseer) record(level, message string) {
	if o.sink == nil {
		return
	}
	o.sink.Record(level, message)
}

func withOneRetry(fn func() error) error {
	if err := fn(); err == nil {
		return nil
	}
	return fn()
}
