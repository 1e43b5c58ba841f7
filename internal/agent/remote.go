package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gosuda/parax/internal/gate"
)

// remoteMaxResponse caps how much of a remote reply is read.
const remoteMaxResponse = 4 * 1024 * 1024

// RemoteBackend delegates invocations to an HTTP code-generation service.
// The caller's context deadline bounds the whole request.
type RemoteBackend struct {
	opts    Options
	client  *http.Client
	history *historyRing
}

type remoteRequest struct {
	AgentID string `json:"agent_id"`
	Mission string `json:"mission"`
	Prompt  string `json:"prompt"`
}

type remoteResponse struct {
	Output  string `json:"output"`
	Reports []struct {
		File         string `json:"file"`
		Line         *int   `json:"line"`
		Severity     string `json:"severity"`
		Description  string `json:"description"`
		SuggestedFix string `json:"suggested_fix"`
	} `json:"reports"`
}

func NewRemoteBackend(opts Options) (Backend, error) {
	if opts.RemoteURL == "" {
		return nil, fmt.Errorf("agent.NewRemoteBackend: remote URL is required")
	}
	return &RemoteBackend{
		opts:    opts,
		client:  &http.Client{},
		history: newHistoryRing(opts.HistoryLimit),
	}, nil
}

func (b *RemoteBackend) Invoke(ctx context.Context, batch gate.Batch) (Result, error) {
	start := time.Now()
	prompt := BuildPrompt(b.opts.Mission, batch, b.history.snapshot(), b.opts.MaxContentSize, os.ReadFile)
	b.history.append("prompt", prompt)

	body, err := json.Marshal(remoteRequest{
		AgentID: b.opts.AgentID,
		Mission: string(b.opts.Mission),
		Prompt:  prompt,
	})
	if err != nil {
		return Result{}, fmt.Errorf("agent.RemoteBackend.Invoke: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.opts.RemoteURL, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("agent.RemoteBackend.Invoke: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("agent.RemoteBackend.Invoke: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("agent.RemoteBackend.Invoke: unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, remoteMaxResponse))
	if err != nil {
		return Result{}, fmt.Errorf("agent.RemoteBackend.Invoke: read: %w", err)
	}

	var parsed remoteResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return Result{}, fmt.Errorf("agent.RemoteBackend.Invoke: malformed response: %w", err)
	}

	reports := make([]ErrorReport, 0, len(parsed.Reports))
	for _, r := range parsed.Reports {
		severity, sevErr := ParseSeverity(r.Severity)
		if sevErr != nil {
			return Result{}, fmt.Errorf("agent.RemoteBackend.Invoke: %w", sevErr)
		}
		reports = append(reports, ErrorReport{
			Timestamp:    time.Now().UTC(),
			File:         r.File,
			Line:         r.Line,
			Severity:     severity,
			Description:  r.Description,
			SuggestedFix: r.SuggestedFix,
		})
	}

	b.history.append("response", parsed.Output)

	return Result{
		AgentID:      b.opts.AgentID,
		BatchID:      batch.ID,
		Succeeded:    true,
		Output:       parsed.Output,
		ErrorReports: reports,
		Duration:     time.Since(start),
	}, nil
}

func (b *RemoteBackend) History() []HistoryEntry {
	return b.history.snapshot()
}

func (b *RemoteBackend) Close(_ context.Context) error {
	b.client.CloseIdleConnections()
	return nil
}
