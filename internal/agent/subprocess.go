package agent

import (
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/gosuda/parax/internal/gate"
)

// subprocessGrace bounds how long Invoke may linger after its context is
// cancelled while the process group is torn down.
const subprocessGrace = 5 * time.Second

// SubprocessBackend runs an external code-generation binary per invocation.
// The prompt is fed on stdin; structured findings are read from stdout; any
// files the tool writes into its scratch directory are collected as
// artifacts. The scratch directory and the process group are released on
// every exit path, including timeout.
type SubprocessBackend struct {
	opts    Options
	history *historyRing

	mu        sync.Mutex
	artifacts []Artifact
	closed    bool
}

func NewSubprocessBackend(opts Options) (Backend, error) {
	if opts.Command == "" {
		return nil, fmt.Errorf("agent.NewSubprocessBackend: command is required")
	}
	if _, err := exec.LookPath(opts.Command); err != nil {
		return nil, fmt.Errorf("agent.NewSubprocessBackend: %w", err)
	}
	return &SubprocessBackend{
		opts:    opts,
		history: newHistoryRing(opts.HistoryLimit),
	}, nil
}

func (b *SubprocessBackend) Invoke(ctx context.Context, batch gate.Batch) (Result, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Result{}, fmt.Errorf("agent.SubprocessBackend.Invoke: backend closed")
	}
	b.mu.Unlock()

	start := time.Now()
	prompt := BuildPrompt(b.opts.Mission, batch, b.history.snapshot(), b.opts.MaxContentSize, os.ReadFile)
	b.history.append("prompt", prompt)

	scratch, err := os.MkdirTemp("", "parax-agent-*")
	if err != nil {
		return Result{}, fmt.Errorf("agent.SubprocessBackend.Invoke: scratch dir: %w", err)
	}
	defer func() {
		if rmErr := os.RemoveAll(scratch); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", scratch).Msg("agent: failed to remove scratch dir")
		}
	}()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, b.opts.Command)
	cmd.Dir = scratch
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = subprocessGrace
	configureCommandProcess(cmd)
	cmd.Cancel = func() error {
		terminateCommandProcess(cmd)
		return nil
	}

	runErr := cmd.Run()
	duration := time.Since(start)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return Result{}, fmt.Errorf("agent.SubprocessBackend.Invoke: %s after %s: %w", b.opts.Command, duration, ctxErr)
	}
	if runErr != nil {
		return Result{}, fmt.Errorf("agent.SubprocessBackend.Invoke: %s: %w (stderr: %s)",
			b.opts.Command, runErr, strings.TrimSpace(stderr.String()))
	}

	output, reports := splitFindings(stdout.String())
	b.history.append("response", output)

	artifacts, err := collectArtifacts(scratch)
	if err != nil {
		log.Warn().Err(err).Str("agent_id", b.opts.AgentID).Msg("agent: failed to collect artifacts")
	}
	b.mu.Lock()
	b.artifacts = artifacts
	b.mu.Unlock()

	return Result{
		AgentID:      b.opts.AgentID,
		BatchID:      batch.ID,
		Succeeded:    true,
		Output:       output,
		ErrorReports: reports,
		Duration:     duration,
	}, nil
}

func (b *SubprocessBackend) History() []HistoryEntry {
	return b.history.snapshot()
}

// Artifacts returns the files produced by the most recent invocation.
func (b *SubprocessBackend) Artifacts() []Artifact {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Artifact, len(b.artifacts))
	copy(out, b.artifacts)
	return out
}

// Close marks the backend unusable. Processes are per-invocation so there is
// nothing long-lived to tear down.
func (b *SubprocessBackend) Close(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// splitFindings separates structured JSON findings from plain output lines.
func splitFindings(raw string) (string, []ErrorReport) {
	var (
		plain   []string
		reports []ErrorReport
	)
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if report, ok := parseReportLine(trimmed); ok {
			reports = append(reports, report)
			continue
		}
		plain = append(plain, trimmed)
	}
	return strings.Join(plain, "\n"), reports
}

// collectArtifacts reads every regular file the tool left in its scratch
// directory.
func collectArtifacts(scratch string) ([]Artifact, error) {
	var artifacts []Artifact
	err := filepath.WalkDir(scratch, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		content, readErr := os.ReadFile(path)
		if readErr != nil {
			return readErr
		}
		rel, relErr := filepath.Rel(scratch, path)
		if relErr != nil {
			rel = d.Name()
		}
		artifacts = append(artifacts, Artifact{Name: rel, Content: string(content)})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("agent.collectArtifacts: %w", err)
	}
	return artifacts, nil
}
