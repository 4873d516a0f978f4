package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/ocrflow/internal/api/response"
	"github.com/kiranshivaraju/ocrflow/internal/cache"
	"github.com/kiranshivaraju/ocrflow/pkg/models"
)

// fakeServer answers the admin endpoints with canned envelopes and records
// the requests it sees.
type fakeServer struct {
	*httptest.Server
	requests []string
	clientID string
}

func newFakeServer(t *testing.T) *fakeServer {
	t.Helper()
	fs := &fakeServer{}
	mux := http.NewServeMux()
	record := func(r *http.Request) {
		fs.requests = append(fs.requests, r.Method+" "+r.URL.Path)
		fs.clientID = r.Header.Get("X-Client-ID")
	}

	mux.HandleFunc("/api/v1/cache/stats", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		response.JSON(w, cache.Stats{TotalEntries: 12, TotalSizeBytes: 3 << 20, TotalAccessCount: 40})
	})
	mux.HandleFunc("/api/v1/cache/cleanup", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		response.JSON(w, cache.EvictReport{RemovedExpired: 2, RemovedLRU: 1, BytesFreed: 2048})
	})
	mux.HandleFunc("/api/v1/cache", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		response.JSON(w, map[string]int{"removed": 12})
	})
	mux.HandleFunc("/api/v1/tasks/", func(w http.ResponseWriter, r *http.Request) {
		record(r)
		path := strings.TrimPrefix(r.URL.Path, "/api/v1/tasks/")
		switch {
		case path == "missing":
			response.Error(w, http.StatusNotFound, "NOT_FOUND", "task not found: missing", nil)
		case strings.HasSuffix(path, "/cancel"):
			response.Accepted(w, models.TaskSnapshot{ID: "task-1", Status: models.TaskStatusProcessing})
		case strings.HasSuffix(path, "/resume"):
			response.Accepted(w, map[string]string{"task_id": "task-2", "resumed_from": "task-1"})
		case strings.HasSuffix(path, "/stream"):
			streamTwoFrames(t, w, r)
		default:
			response.JSON(w, models.TaskSnapshot{
				ID: path, Status: models.TaskStatusProcessing, Phase: models.PhaseProcessing,
				ProgressPercent: 45, CurrentPage: 5, TotalPages: 10, TotalChunks: 2,
			})
		}
	})

	fs.Server = httptest.NewServer(mux)
	t.Cleanup(fs.Close)
	return fs
}

func streamTwoFrames(t *testing.T, w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	for _, status := range []models.TaskStatus{models.TaskStatusProcessing, models.TaskStatusCompleted} {
		_ = conn.WriteJSON(map[string]any{
			"type": "progress",
			"data": models.TaskSnapshot{ID: "task-1", Status: status, ProgressPercent: 100},
		})
	}
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "completed"))
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	err := run(context.Background(), args, &out, &errOut)
	return out.String(), err
}

// --- cache ---

func TestCacheStats(t *testing.T) {
	srv := newFakeServer(t)

	out, err := runCLI(t, "-server", srv.URL, "-client", "ops", "cache", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "entries:      12")
	assert.Contains(t, out, "3.0 MiB")
	assert.Equal(t, []string{"GET /api/v1/cache/stats"}, srv.requests)
	assert.Equal(t, "ops", srv.clientID)
}

func TestCacheCleanupAndClear(t *testing.T) {
	srv := newFakeServer(t)

	out, err := runCLI(t, "-server", srv.URL, "cache", "cleanup")
	require.NoError(t, err)
	assert.Equal(t, "removed 2 expired and 1 least recently used entries, freed 2.0 KiB\n", out)

	out, err = runCLI(t, "-server", srv.URL, "cache", "clear")
	require.NoError(t, err)
	assert.Equal(t, "removed 12 entries\n", out)

	assert.Equal(t, []string{"POST /api/v1/cache/cleanup", "DELETE /api/v1/cache"}, srv.requests)
}

func TestCacheStats_JSON(t *testing.T) {
	srv := newFakeServer(t)

	out, err := runCLI(t, "-server", srv.URL, "-json", "cache", "stats")
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, float64(12), got["total_entries"])
}

// --- task ---

func TestTaskPoll(t *testing.T) {
	srv := newFakeServer(t)

	out, err := runCLI(t, "-server", srv.URL, "task", "poll", "task-1")
	require.NoError(t, err)
	assert.Contains(t, out, "task-1")
	assert.Contains(t, out, "processing/processing")
	assert.Contains(t, out, "45.0%")
	assert.Contains(t, out, "pages 5/10")
}

func TestTaskPoll_NotFound(t *testing.T) {
	srv := newFakeServer(t)

	_, err := runCLI(t, "-server", srv.URL, "task", "poll", "missing")
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusNotFound, apiErr.Status)
	assert.Equal(t, "NOT_FOUND", apiErr.Code)
}

func TestTaskCancelAndResume(t *testing.T) {
	srv := newFakeServer(t)

	out, err := runCLI(t, "-server", srv.URL, "task", "cancel", "task-1")
	require.NoError(t, err)
	assert.Equal(t, "cancellation requested for task-1 (status processing)\n", out)

	out, err = runCLI(t, "-server", srv.URL, "task", "resume", "task-1")
	require.NoError(t, err)
	assert.Equal(t, "resumed task-1 as task-2\n", out)

	assert.Equal(t, []string{
		"POST /api/v1/tasks/task-1/cancel",
		"POST /api/v1/tasks/task-1/resume",
	}, srv.requests)
}

func TestTaskWatch(t *testing.T) {
	srv := newFakeServer(t)

	out, err := runCLI(t, "-server", srv.URL, "task", "watch", "task-1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "processing")
	assert.Contains(t, lines[1], "completed")
}

// --- usage ---

func TestUsageErrors(t *testing.T) {
	cases := map[string][]string{
		"no command":     {},
		"unknown group":  {"queue", "stats"},
		"unknown cache":  {"cache", "vacuum"},
		"missing id":     {"task", "poll"},
		"extra argument": {"cache", "stats", "now"},
		"bad flag":       {"-verbose", "cache", "stats"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := runCLI(t, append([]string{"-server", "http://127.0.0.1:1"}, args...)...)
			assert.ErrorIs(t, err, errUsage)
		})
	}
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "5.0 GiB", humanBytes(5<<30))
}
