package v1

import (
	"github.com/gosuda/parax/internal/agent"
	"github.com/gosuda/parax/internal/session"
)

// WorkerFactory builds the pipeline worker backing a new session. The
// server layer supplies the concrete wiring; handlers stay decoupled from
// it so tests can substitute stub workers.
type WorkerFactory func(slot string, mission agent.Mission, backendName string) (session.Worker, error)
