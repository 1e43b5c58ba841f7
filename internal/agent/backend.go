package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/gosuda/parax/internal/gate"
)

// ErrInvalidSeverity is returned for severities outside the closed set.
var ErrInvalidSeverity = errors.New("agent: invalid severity") //nolint:gochecknoglobals // sentinel error

// Severity ranks an error report.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// ParseSeverity validates a severity string.
func ParseSeverity(s string) (Severity, error) {
	switch Severity(s) {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return Severity(s), nil
	default:
		return "", fmt.Errorf("agent.ParseSeverity(%q): %w", s, ErrInvalidSeverity)
	}
}

// ErrorReport is a single finding emitted by an agent. Reports are
// append-only records; corrections are new reports, never edits.
type ErrorReport struct {
	Timestamp    time.Time `json:"timestamp"`
	File         string    `json:"file"`
	Line         *int      `json:"line"`
	Severity     Severity  `json:"severity"`
	Description  string    `json:"description"`
	SuggestedFix string    `json:"suggested_fix,omitempty"`
}

// Result is the outcome of one agent invocation for one batch. Created once
// the invocation settles; never mutated afterwards.
type Result struct {
	AgentID      string        `json:"agent_id"`
	BatchID      uuid.UUID     `json:"batch_id"`
	Succeeded    bool          `json:"succeeded"`
	Output       string        `json:"output"`
	ErrorReports []ErrorReport `json:"error_reports,omitempty"`
	Duration     time.Duration `json:"duration"`
	// FailureReason is set when Succeeded is false (timeout, backend exit,
	// malformed output).
	FailureReason string `json:"failure_reason,omitempty"`
}

// Artifact is a generated file (test, doc) an agent wants persisted.
type Artifact struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// HistoryEntry is one turn of an agent's conversation, kept for prompt
// continuity.
type HistoryEntry struct {
	At      time.Time `json:"at"`
	Role    string    `json:"role"` // "prompt" or "response"
	Content string    `json:"content"`
}

// Backend is the universal interface over code-generation integrations.
// Invoke must honor the caller's context deadline: on expiry the backend
// best-effort terminates its underlying process or request and returns
// within a small grace bound. Scratch files and spawned processes are
// released on every exit path.
type Backend interface {
	Invoke(ctx context.Context, batch gate.Batch) (Result, error)
	History() []HistoryEntry
	Close(ctx context.Context) error
}

// ArtifactProducer is implemented by backends whose results carry generated
// files for the working set.
type ArtifactProducer interface {
	Artifacts() []Artifact
}

// Options configures a backend instance.
type Options struct {
	AgentID        string
	Mission        Mission
	Command        string // subprocess backend binary
	RemoteURL      string // remote backend endpoint
	HistoryLimit   int
	MaxContentSize int64 // per-file cap when inlining file contents into prompts
}

// parseReportLine recognizes a structured finding in backend output. Lines
// shaped like {"file":...,"severity":...,"description":...} become
// ErrorReports; anything else stays plain output.
func parseReportLine(line string) (ErrorReport, bool) {
	var raw struct {
		File         string `json:"file"`
		Line         *int   `json:"line"`
		Severity     string `json:"severity"`
		Description  string `json:"description"`
		SuggestedFix string `json:"suggested_fix"`
	}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return ErrorReport{}, false
	}
	if raw.File == "" || raw.Description == "" {
		return ErrorReport{}, false
	}
	severity, err := ParseSeverity(raw.Severity)
	if err != nil {
		return ErrorReport{}, false
	}
	return ErrorReport{
		Timestamp:    time.Now().UTC(),
		File:         raw.File,
		Line:         raw.Line,
		Severity:     severity,
		Description:  raw.Description,
		SuggestedFix: raw.SuggestedFix,
	}, true
}
