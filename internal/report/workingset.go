package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gosuda/parax/internal/agent"
)

// WorkingSet manages the on-disk directory where generated tests and other
// agent artifacts are written.
type WorkingSet struct {
	dir string
}

func NewWorkingSet(dir string) (*WorkingSet, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report.NewWorkingSet: %w", err)
	}
	return &WorkingSet{dir: dir}, nil
}

// Dir returns the working set root.
func (w *WorkingSet) Dir() string { return w.dir }

// EnsureStructure creates the standard subdirectories.
func (w *WorkingSet) EnsureStructure() error {
	for _, sub := range []string{"tests", "artifacts", "reports"} {
		if err := os.MkdirAll(filepath.Join(w.dir, sub), 0o755); err != nil {
			return fmt.Errorf("report.WorkingSet.EnsureStructure: %w", err)
		}
	}
	return nil
}

// Store persists one agent's artifacts. Test files (test_* names) land in
// tests/, everything else in artifacts/. Path separators in artifact names
// are flattened so a tool cannot write outside the working set.
func (w *WorkingSet) Store(agentID string, artifacts []agent.Artifact) error {
	for _, artifact := range artifacts {
		name := flattenName(artifact.Name)
		if name == "" {
			continue
		}
		sub := "artifacts"
		if strings.HasPrefix(name, "test_") {
			sub = "tests"
		}
		dir := filepath.Join(w.dir, sub)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("report.WorkingSet.Store: %w", err)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(artifact.Content), 0o644); err != nil {
			return fmt.Errorf("report.WorkingSet.Store(%s): %w", agentID, err)
		}
	}
	return nil
}

// ListTestFiles returns the generated test files in sorted order.
func (w *WorkingSet) ListTestFiles() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(w.dir, "tests", "test_*"))
	if err != nil {
		return nil, fmt.Errorf("report.WorkingSet.ListTestFiles: %w", err)
	}
	sort.Strings(matches)
	return matches, nil
}

// RemoveTestFile deletes one generated test file by name. Returns false when
// the file did not exist.
func (w *WorkingSet) RemoveTestFile(name string) (bool, error) {
	path := filepath.Join(w.dir, "tests", flattenName(name))
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("report.WorkingSet.RemoveTestFile: %w", err)
	}
	return true, nil
}

// Clean empties the working set and recreates the directory.
func (w *WorkingSet) Clean() error {
	if err := os.RemoveAll(w.dir); err != nil {
		return fmt.Errorf("report.WorkingSet.Clean: %w", err)
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("report.WorkingSet.Clean: %w", err)
	}
	return nil
}

// Size returns the number of entries directly under the working set root.
func (w *WorkingSet) Size() (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return 0, fmt.Errorf("report.WorkingSet.Size: %w", err)
	}
	return len(entries), nil
}

// WriteMetadata persists a metadata document for the working set.
func (w *WorkingSet) WriteMetadata(metadata map[string]any) error {
	data, err := json.MarshalIndent(metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("report.WorkingSet.WriteMetadata: %w", err)
	}
	path := filepath.Join(w.dir, "metadata.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("report.WorkingSet.WriteMetadata: %w", err)
	}
	return nil
}

// ReadMetadata loads the metadata document, returning nil when absent.
func (w *WorkingSet) ReadMetadata() (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(w.dir, "metadata.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("report.WorkingSet.ReadMetadata: %w", err)
	}
	var metadata map[string]any
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, fmt.Errorf("report.WorkingSet.ReadMetadata: %w", err)
	}
	return metadata, nil
}

func flattenName(name string) string {
	name = filepath.Base(filepath.Clean(name))
	if name == "." || name == ".." || name == string(filepath.Separator) {
		return ""
	}
	return name
}
