package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinderfn/cinder/internal/alloc"
	"github.com/cinderfn/cinder/internal/blob"
	"github.com/cinderfn/cinder/internal/codec"
	"github.com/cinderfn/cinder/internal/dispatch"
	"github.com/cinderfn/cinder/internal/runner"
	"github.com/cinderfn/cinder/internal/statestore"
)

type stubStore struct{}

func (stubStore) Get(_ context.Context, _ blob.Blob, _, size int64) ([]byte, error) {
	return make([]byte, size), nil
}

func (stubStore) Put(_ context.Context, b blob.Blob, dataChunks [][]byte) (blob.Blob, error) {
	uploaded := blob.Blob{Name: b.Name, Chunks: make([]blob.Chunk, len(b.Chunks))}
	for i, chunk := range b.Chunks {
		uploaded.Chunks[i] = blob.Chunk{URI: chunk.URI, Size: int64(len(dataChunks[i]))}
	}
	return uploaded, nil
}

type testServer struct {
	app      *fiber.App
	registry *runner.Registry
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	states, err := statestore.Open(filepath.Join(t.TempDir(), "cinder.db"))
	require.NoError(t, err)
	t.Cleanup(func() { states.Close() })

	registry := runner.NewRegistry()
	placer, err := runner.NewLocalPlacer("/outputs")
	require.NoError(t, err)
	r, err := runner.New(runner.Options{
		Store:    stubStore{},
		Registry: registry,
		Placer:   placer,
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		UserLog:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	d := dispatch.NewDispatcher(r, states,
		dispatch.NewFixedGenerator("alloc-1", "req-1", "alloc-2", "req-2"),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	app := New(Options{
		Dispatcher:         d,
		Store:              stubStore{},
		Placer:             placer,
		States:             states,
		MaxLongPollSeconds: 2,
		Log:                slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	return &testServer{app: app, registry: registry}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.app.Test(req, int((10 * time.Second).Milliseconds()))
	require.NoError(t, err)
	payload, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, payload
}

func submitBody(t *testing.T, function string) alloc.Allocation {
	t.Helper()
	meta, err := codec.EncodeCallMetadata(codec.CallMetadata{
		Kind:     codec.UpdateFunctionCall,
		Function: function,
	})
	require.NoError(t, err)
	return alloc.Allocation{
		Function: alloc.FunctionRef{Name: function},
		Inputs:   alloc.InputBundle{CallMetadata: meta},
	}
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "UP")
}

func TestSubmitAndPollToTerminal(t *testing.T) {
	ts := newTestServer(t)
	ts.registry.Register("app.ok", func(_ context.Context, _ *runner.Invocation) (any, error) {
		return int64(7), nil
	})

	resp, body := ts.do(t, http.MethodPost, "/api/allocations", submitBody(t, "app.ok"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var accepted struct {
		ID        string `json:"id"`
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(body, &accepted))
	assert.Equal(t, "alloc-1", accepted.ID)
	assert.Equal(t, "req-1", accepted.RequestID)

	// Poll until terminal, chaining hashes like a real caller.
	deadline := time.Now().Add(5 * time.Second)
	last := ""
	var snap alloc.Snapshot
	for {
		require.True(t, time.Now().Before(deadline), "allocation never became terminal")
		resp, body = ts.do(t, http.MethodGet,
			"/api/allocations/"+accepted.ID+"/updates?timeout=1&hash="+last, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.NoError(t, json.Unmarshal(body, &snap))
		if snap.Terminal() {
			break
		}
		last = snap.Hash
	}
	assert.Equal(t, alloc.ResultValue, snap.Result.Kind)
}

func TestUpdates_UnknownAllocation(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodGet, "/api/allocations/ghost/updates", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestUpdates_BadTimeout(t *testing.T) {
	ts := newTestServer(t)
	ts.registry.Register("app.ok", func(_ context.Context, _ *runner.Invocation) (any, error) {
		return int64(0), nil
	})
	ts.do(t, http.MethodPost, "/api/allocations", submitBody(t, "app.ok"))

	resp, _ := ts.do(t, http.MethodGet, "/api/allocations/alloc-1/updates?timeout=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSubmit_MissingFunction(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost, "/api/allocations", alloc.Allocation{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDelete_LifecycleRules(t *testing.T) {
	ts := newTestServer(t)
	release := make(chan struct{})
	ts.registry.Register("app.block", func(_ context.Context, _ *runner.Invocation) (any, error) {
		<-release
		return int64(0), nil
	})

	resp, _ := ts.do(t, http.MethodPost, "/api/allocations", submitBody(t, "app.block"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	// Running allocation cannot be deleted.
	resp, _ = ts.do(t, http.MethodDelete, "/api/allocations/alloc-1", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for {
		require.True(t, time.Now().Before(deadline))
		resp, body := ts.do(t, http.MethodGet, "/api/allocations/alloc-1/updates?timeout=1", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var snap alloc.Snapshot
		require.NoError(t, json.Unmarshal(body, &snap))
		if snap.Terminal() {
			break
		}
	}

	resp, _ = ts.do(t, http.MethodDelete, "/api/allocations/alloc-1", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodDelete, "/api/allocations/alloc-1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRequestState_PrepareCommitRead(t *testing.T) {
	ts := newTestServer(t)

	// Uncommitted key is absent.
	resp, _ := ts.do(t, http.MethodGet, "/api/requests/req-9/state/counter", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Prepare a write: the server hands back a descriptor to fill.
	resp, body := ts.do(t, http.MethodPost,
		"/api/requests/req-9/state/counter/prepare", prepareWriteRequest{Size: 16})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var placed blob.Blob
	require.NoError(t, json.Unmarshal(body, &placed))
	require.Len(t, placed.Chunks, 1)
	assert.Equal(t, int64(16), placed.Chunks[0].Size)

	// Still absent until committed.
	resp, _ = ts.do(t, http.MethodGet, "/api/requests/req-9/state/counter", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Commit, then reads serve the descriptor.
	resp, _ = ts.do(t, http.MethodPost,
		"/api/requests/req-9/state/counter/commit", placed)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/requests/req-9/state/counter", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got blob.Blob
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, placed, got)
}

func TestRequestState_VisibleOnLiveAllocations(t *testing.T) {
	ts := newTestServer(t)
	release := make(chan struct{})
	ts.registry.Register("app.block", func(_ context.Context, _ *runner.Invocation) (any, error) {
		<-release
		return int64(0), nil
	})

	resp, _ := ts.do(t, http.MethodPost, "/api/allocations", submitBody(t, "app.block"))
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	snapshot := func() alloc.Snapshot {
		resp, body := ts.do(t, http.MethodGet, "/api/allocations/alloc-1/updates?timeout=0", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		var snap alloc.Snapshot
		require.NoError(t, json.Unmarshal(body, &snap))
		return snap
	}

	// A read miss registers the reader's interest on the request's
	// running allocation.
	resp, _ = ts.do(t, http.MethodGet, "/api/requests/req-1/state/cursor", nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	snap := snapshot()
	require.Len(t, snap.Watchers, 1)
	assert.Equal(t, "cursor", snap.Watchers[0].Key)

	// Preparing a write announces the pending upload.
	resp, body := ts.do(t, http.MethodPost,
		"/api/requests/req-1/state/cursor/prepare", prepareWriteRequest{Size: 8})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var placed blob.Blob
	require.NoError(t, json.Unmarshal(body, &placed))
	snap = snapshot()
	require.Len(t, snap.OutputRequests, 1)
	assert.Equal(t, "cursor", snap.OutputRequests[0].Key)
	assert.Equal(t, int64(8), snap.OutputRequests[0].Size)

	// Commit resolves both, and the response says how many allocations
	// were waiting.
	resp, body = ts.do(t, http.MethodPost,
		"/api/requests/req-1/state/cursor/commit", placed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var committed struct {
		Committed bool `json:"committed"`
		Resolved  int  `json:"resolved"`
	}
	require.NoError(t, json.Unmarshal(body, &committed))
	assert.True(t, committed.Committed)
	assert.Equal(t, 1, committed.Resolved)

	snap = snapshot()
	assert.Empty(t, snap.Watchers)
	assert.Empty(t, snap.OutputRequests)

	resp, _ = ts.do(t, http.MethodGet, "/api/requests/req-1/state/cursor", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	close(release)
	deadline := time.Now().Add(5 * time.Second)
	for !snapshot().Terminal() {
		require.True(t, time.Now().Before(deadline))
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRequestState_CommitWithoutChunksRejected(t *testing.T) {
	ts := newTestServer(t)
	resp, _ := ts.do(t, http.MethodPost,
		"/api/requests/req-9/state/counter/commit", blob.Blob{Name: "empty"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
