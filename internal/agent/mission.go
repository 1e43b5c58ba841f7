package agent

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gosuda/parax/internal/gate"
	"github.com/gosuda/parax/internal/watch"
)

// ErrUnknownMission is returned for missions outside the closed set.
var ErrUnknownMission = errors.New("agent: unknown mission") //nolint:gochecknoglobals // sentinel error

// Mission selects the prompt-construction strategy for an agent. The set is
// closed so a bad mission fails at construction time, not mid-dispatch.
type Mission string

const (
	MissionTesting Mission = "testing"
	MissionDocs    Mission = "docs"
	MissionTooling Mission = "tooling"
)

// ParseMission validates a mission name.
func ParseMission(s string) (Mission, error) {
	switch Mission(s) {
	case MissionTesting, MissionDocs, MissionTooling:
		return Mission(s), nil
	default:
		return "", fmt.Errorf("agent.ParseMission(%q): %w", s, ErrUnknownMission)
	}
}

func (m Mission) instructions() string {
	switch m {
	case MissionDocs:
		return "Update documentation for the changed files. Emit one JSON object per finding " +
			`({"file","line","severity","description","suggested_fix"}) for anything undocumented or stale.`
	case MissionTooling:
		return "Review build and tooling impact of the changed files. Emit one JSON object per finding " +
			`({"file","line","severity","description","suggested_fix"}).`
	default: // MissionTesting
		return "Write or update tests covering the changed files. Emit one JSON object per finding " +
			`({"file","line","severity","description","suggested_fix"}) for every defect you detect.`
	}
}

// BuildPrompt renders a batch into the prompt fed to the backend: mission
// instructions, recent history for continuity, then per-file sections with
// contents truncated to maxContentSize.
func BuildPrompt(mission Mission, batch gate.Batch, history []HistoryEntry, maxContentSize int64, readFile func(string) ([]byte, error)) string {
	var sb strings.Builder
	sb.WriteString("## Mission\n")
	sb.WriteString(mission.instructions())
	sb.WriteString("\n\n")

	if len(history) > 0 {
		sb.WriteString("## Recent context\n")
		for _, h := range history {
			sb.WriteString(h.Role)
			sb.WriteString(": ")
			sb.WriteString(firstLine(h.Content))
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Changed files\n")
	for _, ev := range batch.Events {
		fmt.Fprintf(&sb, "### %s (%s)\n", ev.Path, ev.Kind)
		if ev.Kind == watch.KindDeleted {
			sb.WriteString("(file deleted)\n\n")
			continue
		}
		content, err := readFile(ev.Path)
		if err != nil {
			fmt.Fprintf(&sb, "(unreadable: %v)\n\n", err)
			continue
		}
		if maxContentSize > 0 && int64(len(content)) > maxContentSize {
			content = content[:maxContentSize]
			sb.Write(content)
			sb.WriteString("\n... (truncated)\n\n")
			continue
		}
		sb.Write(content)
		sb.WriteString("\n\n")
	}

	return sb.String()
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
