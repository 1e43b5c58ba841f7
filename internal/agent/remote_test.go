package agent_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gosuda/parax/internal/agent"
	"github.com/gosuda/parax/internal/watch"
)

func TestRemoteBackend_Invoke(t *testing.T) {
	t.Parallel()

	var gotMission string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			AgentID string `json:"agent_id"`
			Mission string `json:"mission"`
			Prompt  string `json:"prompt"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotMission = req.Mission
		assert.Contains(t, req.Prompt, "src/a.py")

		_ = json.NewEncoder(w).Encode(map[string]any{
			"output": "remote says hi",
			"reports": []map[string]any{
				{"file": "src/a.py", "severity": "medium", "description": "missing doc comment"},
			},
		})
	}))
	defer srv.Close()

	backend, err := agent.NewRemoteBackend(agent.Options{
		AgentID:      "remote-1",
		Mission:      agent.MissionDocs,
		RemoteURL:    srv.URL,
		HistoryLimit: 5,
	})
	require.NoError(t, err)

	result, err := backend.Invoke(context.Background(), testBatch(
		watch.Event{Path: "src/a.py", Kind: watch.KindDeleted, At: time.Now(), Size: -1},
	))

	require.NoError(t, err)
	assert.Equal(t, "docs", gotMission)
	assert.True(t, result.Succeeded)
	assert.Equal(t, "remote says hi", result.Output)
	require.Len(t, result.ErrorReports, 1)
	assert.Equal(t, agent.SeverityMedium, result.ErrorReports[0].Severity)
}

func TestRemoteBackend_Errors(t *testing.T) {
	t.Parallel()

	t.Run("non-200 status", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		backend, err := agent.NewRemoteBackend(agent.Options{AgentID: "r", Mission: agent.MissionTesting, RemoteURL: srv.URL, HistoryLimit: 5})
		require.NoError(t, err)

		_, err = backend.Invoke(context.Background(), testBatch(watch.Event{Path: "a.py", Kind: watch.KindDeleted, Size: -1}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "502")
	})

	t.Run("malformed body", func(t *testing.T) {
		t.Parallel()

		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		}))
		defer srv.Close()

		backend, err := agent.NewRemoteBackend(agent.Options{AgentID: "r", Mission: agent.MissionTesting, RemoteURL: srv.URL, HistoryLimit: 5})
		require.NoError(t, err)

		_, err = backend.Invoke(context.Background(), testBatch(watch.Event{Path: "a.py", Kind: watch.KindDeleted, Size: -1}))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "malformed")
	})

	t.Run("deadline cancels request", func(t *testing.T) {
		t.Parallel()

		block := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, _ *http.Request) {
			<-block
		}))
		defer srv.Close()
		defer close(block)

		backend, err := agent.NewRemoteBackend(agent.Options{AgentID: "r", Mission: agent.MissionTesting, RemoteURL: srv.URL, HistoryLimit: 5})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()

		_, err = backend.Invoke(ctx, testBatch(watch.Event{Path: "a.py", Kind: watch.KindDeleted, Size: -1}))
		require.Error(t, err)
	})
}

func TestNewRemoteBackend_RequiresURL(t *testing.T) {
	t.Parallel()

	_, err := agent.NewRemoteBackend(agent.Options{AgentID: "r"})
	require.Error(t, err)
}
