package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/gosuda/parax/internal/agent"
	v1 "github.com/gosuda/parax/internal/api/v1"
	"github.com/gosuda/parax/internal/config"
	"github.com/gosuda/parax/internal/gate"
	"github.com/gosuda/parax/internal/overseer"
	"github.com/gosuda/parax/internal/report"
	"github.com/gosuda/parax/internal/session"
	"github.com/gosuda/parax/internal/watch"
)

// NewPipelineFactory returns a WorkerFactory wiring the full
// watcher-gate-overseer pipeline for each session. An empty backend name
// picks the configured default. baseCtx bounds the lifetime of every
// pipeline it creates; cancelling it (app shutdown) stops them all.
func NewPipelineFactory(baseCtx context.Context, cfg *config.Config, agents *agent.Registry) v1.WorkerFactory {
	return func(slot string, mission agent.Mission, backendName string) (session.Worker, error) {
		if backendName == "" {
			backendName = cfg.Agents.Backend
		}
		backend, err := agents.Create(backendName, agent.Options{
			AgentID:        slot,
			Mission:        mission,
			Command:        cfg.Agents.Command,
			RemoteURL:      cfg.Agents.RemoteURL,
			HistoryLimit:   cfg.Agents.HistoryLimit,
			MaxContentSize: cfg.Agents.MaxContentSize,
		})
		if err != nil {
			return nil, fmt.Errorf("server.NewPipelineFactory: %w", err)
		}
		return &pipeline{
			baseCtx: baseCtx,
			cfg:     cfg,
			slot:    slot,
			backend: backend,
		}, nil
	}
}

// pipeline is one session's watcher-gate-overseer stack around a single
// agent backend.
type pipeline struct {
	baseCtx context.Context
	cfg     *config.Config
	slot    string
	backend agent.Backend

	mu       sync.Mutex
	source   *watch.Source
	overseer *overseer.Overseer
	cancel   context.CancelFunc
}

// Start wires the pipeline and launches it. The incoming ctx is the
// caller's request scope; the running pipeline is bound to baseCtx
// instead so it outlives the request.
func (p *pipeline) Start(_ context.Context, logs *session.Broadcaster) error {
	source, err := watch.NewSource(p.cfg.Watch.Roots, p.cfg.Watch.Extensions)
	if err != nil {
		return fmt.Errorf("server.pipeline.Start: %w", err)
	}

	reporter, err := report.NewFileReporter(p.cfg.Report.ErrorReportFile)
	if err != nil {
		_ = source.Close()
		return fmt.Errorf("server.pipeline.Start: %w", err)
	}

	workingSet, err := report.NewWorkingSet(p.cfg.Report.WorkingSetDir)
	if err != nil {
		_ = source.Close()
		return fmt.Errorf("server.pipeline.Start: %w", err)
	}
	if err := workingSet.EnsureStructure(); err != nil {
		_ = source.Close()
		return fmt.Errorf("server.pipeline.Start: %w", err)
	}

	g := gate.New(gate.Config{
		MinChangeInterval: p.cfg.Gate.MinChangeInterval,
		BatchTimeout:      p.cfg.Gate.BatchTimeout,
		MinFileSize:       p.cfg.Gate.MinFileSize,
		MaxFileSize:       p.cfg.Gate.MaxFileSize,
		IgnorePatterns:    p.cfg.Gate.IgnorePatterns,
		Extensions:        p.cfg.Watch.Extensions,
	})

	ov := overseer.New(g, source.Events(), reporter, workingSet,
		overseer.WithRecordSink(logs),
		overseer.WithMonitor(report.NewMonitor(reporter)),
	)
	ov.AddMember(p.slot, p.backend, p.cfg.Agents.InvokeTimeout)

	runCtx, cancel := context.WithCancel(p.baseCtx)
	go source.Run(runCtx)
	if err := ov.Start(runCtx); err != nil {
		cancel()
		_ = source.Close()
		return fmt.Errorf("server.pipeline.Start: %w", err)
	}

	p.mu.Lock()
	p.source = source
	p.overseer = ov
	p.cancel = cancel
	p.mu.Unlock()

	logs.Append(session.LevelInfo, fmt.Sprintf("watching %d roots for agent %s", len(p.cfg.Watch.Roots), p.slot))
	return nil
}

// Stop winds the pipeline down in dependency order: watcher, overseer,
// then the agent backend.
func (p *pipeline) Stop(ctx context.Context) error {
	p.mu.Lock()
	source, ov, cancel := p.source, p.overseer, p.cancel
	p.source, p.overseer, p.cancel = nil, nil, nil
	p.mu.Unlock()

	if source != nil {
		_ = source.Close()
	}
	if ov != nil {
		ov.Stop()
	}
	if cancel != nil {
		cancel()
	}

	if err := p.backend.Close(ctx); err != nil {
		return fmt.Errorf("server.pipeline.Stop: %w", err)
	}
	return nil
}
