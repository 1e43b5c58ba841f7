package watch

import "time"

// Kind classifies a filesystem change.
type Kind string

const (
	KindCreated  Kind = "created"
	KindModified Kind = "modified"
	KindDeleted  Kind = "deleted"
)

// Event is a single observed filesystem change. Events are immutable; the
// source creates them and the gate consumes and discards them.
type Event struct {
	Path string    `json:"path"`
	Kind Kind      `json:"kind"`
	At   time.Time `json:"at"`
	// Size is the file size at observation time, -1 when unknown (deletes).
	Size int64 `json:"size"`
}
