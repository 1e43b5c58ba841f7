// Package report persists agent findings and generated artifacts. The error
// report file is append-only newline-delimited JSON; corrections are new
// records, never in-place edits.
package report

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gosuda/parax/internal/agent"
)

// FileReporter appends ErrorReports to a JSONL file, one record per line.
// External consumers tail the file; there is no compaction.
type FileReporter struct {
	mu   sync.Mutex
	path string
}

func NewFileReporter(path string) (*FileReporter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("report.NewFileReporter: %w", err)
	}
	return &FileReporter{path: path}, nil
}

// Path returns the report file location.
func (r *FileReporter) Path() string { return r.path }

// Report appends the given findings. The write is atomic per call: either
// every line lands or the error is returned with nothing guaranteed.
func (r *FileReporter) Report(reports []agent.ErrorReport) error {
	if len(reports) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("report.FileReporter.Report: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, report := range reports {
		if encErr := enc.Encode(report); encErr != nil {
			return fmt.Errorf("report.FileReporter.Report: encode: %w", encErr)
		}
	}
	if flushErr := w.Flush(); flushErr != nil {
		return fmt.Errorf("report.FileReporter.Report: flush: %w", flushErr)
	}

	return nil
}

// Pending reads every report currently in the file. Malformed lines are
// skipped rather than failing the whole read.
func (r *FileReporter) Pending() ([]agent.ErrorReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readAll()
}

// Pop removes and returns the oldest report, rewriting the file with the
// remainder. Returns false when the file is empty or absent.
func (r *FileReporter) Pop() (agent.ErrorReport, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	reports, err := r.readAll()
	if err != nil {
		return agent.ErrorReport{}, false, err
	}
	if len(reports) == 0 {
		return agent.ErrorReport{}, false, nil
	}

	first, rest := reports[0], reports[1:]
	if len(rest) == 0 {
		if rmErr := os.Remove(r.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return agent.ErrorReport{}, false, fmt.Errorf("report.FileReporter.Pop: %w", rmErr)
		}
		return first, true, nil
	}

	var buf []byte
	for _, report := range rest {
		line, marshalErr := json.Marshal(report)
		if marshalErr != nil {
			return agent.ErrorReport{}, false, fmt.Errorf("report.FileReporter.Pop: %w", marshalErr)
		}
		buf = append(buf, line...)
		buf = append(buf, '\n')
	}
	if writeErr := os.WriteFile(r.path, buf, 0o644); writeErr != nil {
		return agent.ErrorReport{}, false, fmt.Errorf("report.FileReporter.Pop: %w", writeErr)
	}

	return first, true, nil
}

// Clear removes the report file entirely.
func (r *FileReporter) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.Remove(r.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("report.FileReporter.Clear: %w", err)
	}
	return nil
}

func (r *FileReporter) readAll() ([]agent.ErrorReport, error) {
	f, err := os.Open(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report.FileReporter: %w", err)
	}
	defer f.Close()

	var reports []agent.ErrorReport
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var report agent.ErrorReport
		if unmarshalErr := json.Unmarshal(line, &report); unmarshalErr != nil {
			continue
		}
		reports = append(reports, report)
	}
	if scanErr := scanner.Err(); scanErr != nil {
		return nil, fmt.Errorf("report.FileReporter: scan: %w", scanErr)
	}

	return reports, nil
}
