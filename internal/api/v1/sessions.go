// Package v1 exposes the session lifecycle over a typed huma API.
package v1

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/google/uuid"

	"github.com/gosuda/parax/internal/agent"
	"github.com/gosuda/parax/internal/session"
)

type CreateSessionInput struct {
	Body struct {
		Slot    string `json:"slot" minLength:"1" maxLength:"64" doc:"Agent identity; one live session per slot"`
		Mission string `json:"mission" doc:"Agent mission (testing, docs, tooling)"`
		Backend string `json:"backend,omitempty" doc:"Backend type; defaults to the configured backend"`
	}
}

type CreateSessionOutput struct {
	Body session.Summary
}

type GetSessionInput struct {
	ID uuid.UUID `path:"id" doc:"Session ID"`
}

type GetSessionOutput struct {
	Body session.Summary
}

type StopSessionInput struct {
	ID   uuid.UUID `path:"id" doc:"Session ID"`
	Reap bool      `query:"reap" doc:"Also remove the stopped session from the registry"`
}

type StopSessionOutput struct {
	Body session.Summary
}

type ListSessionsOutput struct {
	Body []session.Summary
}

func RegisterSessionRoutes(api huma.API, registry *session.Registry, workers WorkerFactory, logBufferSize int) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-session",
		Method:        http.MethodPost,
		Path:          "/sessions",
		Summary:       "Create and start an agent session",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusCreated,
	}, func(ctx context.Context, input *CreateSessionInput) (*CreateSessionOutput, error) {
		mission, err := agent.ParseMission(input.Body.Mission)
		if err != nil {
			return nil, huma.Error400BadRequest("unknown mission: " + input.Body.Mission)
		}

		worker, err := workers(input.Body.Slot, mission, input.Body.Backend)
		if err != nil {
			if errors.Is(err, agent.ErrUnknownBackend) {
				return nil, huma.Error400BadRequest("unknown backend type: " + input.Body.Backend)
			}
			return nil, huma.Error500InternalServerError("failed to build session worker", err)
		}

		s, err := registry.Create(input.Body.Slot, worker, logBufferSize)
		if err != nil {
			if errors.Is(err, session.ErrSlotOccupied) {
				return nil, huma.Error409Conflict("slot already holds a live session: " + input.Body.Slot)
			}
			return nil, huma.Error500InternalServerError("failed to create session", err)
		}

		if err := s.Start(ctx); err != nil {
			// The failed session stays listed with its failure reason.
			return nil, huma.Error500InternalServerError("failed to start session", err)
		}

		return &CreateSessionOutput{Body: s.Summary()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-session",
		Method:      http.MethodGet,
		Path:        "/sessions/{id}",
		Summary:     "Get a session by ID",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, input *GetSessionInput) (*GetSessionOutput, error) {
		s, err := registry.Get(input.ID)
		if err != nil {
			return nil, huma.Error404NotFound("session not found")
		}
		return &GetSessionOutput{Body: s.Summary()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "stop-session",
		Method:      http.MethodDelete,
		Path:        "/sessions/{id}",
		Summary:     "Stop a session",
		Tags:        []string{"Sessions"},
	}, func(ctx context.Context, input *StopSessionInput) (*StopSessionOutput, error) {
		s, err := registry.Get(input.ID)
		if err != nil {
			return nil, huma.Error404NotFound("session not found")
		}

		if err := s.Stop(ctx); err != nil {
			return nil, huma.Error500InternalServerError("failed to stop session", err)
		}

		summary := s.Summary()
		if input.Reap {
			if err := registry.Reap(input.ID); err != nil {
				return nil, huma.Error500InternalServerError("failed to reap session", err)
			}
		}

		return &StopSessionOutput{Body: summary}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-sessions",
		Method:      http.MethodGet,
		Path:        "/sessions",
		Summary:     "List all sessions",
		Tags:        []string{"Sessions"},
	}, func(_ context.Context, _ *struct{}) (*ListSessionsOutput, error) {
		return &ListSessionsOutput{Body: registry.List()}, nil
	})
}
