package report

import (
	"os"
	"time"

	"github.com/gosuda/parax/internal/agent"
)

// Monitor watches the report file for new records so the overseer loop can
// surface fresh findings without re-reading unchanged files.
type Monitor struct {
	reporter     *FileReporter
	lastModified time.Time
}

func NewMonitor(reporter *FileReporter) *Monitor {
	return &Monitor{reporter: reporter}
}

// HasNewReports reports whether the file changed since the last check.
func (m *Monitor) HasNewReports() bool {
	info, err := os.Stat(m.reporter.Path())
	if err != nil {
		return false
	}
	if info.ModTime().After(m.lastModified) {
		m.lastModified = info.ModTime()
		return true
	}
	return false
}

// Drain pops every pending report, marking them processed.
func (m *Monitor) Drain() ([]agent.ErrorReport, error) {
	var out []agent.ErrorReport
	for {
		report, ok, err := m.reporter.Pop()
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, report)
	}
}
