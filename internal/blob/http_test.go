package blob

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTP_RangeGet(t *testing.T) {
	content := []byte("0123456789")
	var gotRange atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange.Store(r.Header.Get("Range"))
		w.WriteHeader(http.StatusPartialContent)
		w.Write(content[2:7])
	}))
	defer srv.Close()

	router := NewRouter(nil, nil, NewHTTPStoreWithClient(srv.Client()))
	b := Blob{Name: "remote", Chunks: []Chunk{{URI: srv.URL + "/chunk0", Size: 10}}}

	got, err := router.Get(context.Background(), b, 2, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("23456"), got)
	assert.Equal(t, "bytes=2-6", gotRange.Load())
}

func TestHTTP_NotFoundIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "no such key", http.StatusNotFound)
	}))
	defer srv.Close()

	router := NewRouter(nil, nil, NewHTTPStoreWithClient(srv.Client()))
	b := Blob{Name: "gone", Chunks: []Chunk{{URI: srv.URL + "/chunk0", Size: 4}}}

	_, err := router.Get(context.Background(), b, 0, 4)
	require.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, int32(1), calls.Load(), "404 must fail immediately")
}

func TestHTTP_ForbiddenIsNeverRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "signature expired", http.StatusForbidden)
	}))
	defer srv.Close()

	router := NewRouter(nil, nil, NewHTTPStoreWithClient(srv.Client()))
	b := Blob{Name: "sealed", Chunks: []Chunk{{URI: srv.URL + "/chunk0", Size: 4}}}

	_, err := router.Get(context.Background(), b, 0, 4)
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusForbidden, terr.Status)
	assert.Equal(t, int32(1), calls.Load())
}

func TestHTTP_ServerErrorRetriedToCap(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "transient", http.StatusInternalServerError)
	}))
	defer srv.Close()

	router := NewRouter(nil, nil, NewHTTPStoreWithClient(srv.Client()))
	b := Blob{Name: "flaky", Chunks: []Chunk{{URI: srv.URL + "/chunk0", Size: 4}}}

	_, err := router.Get(context.Background(), b, 0, 4)
	var terr *TransferError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, http.StatusInternalServerError, terr.Status)
	assert.Equal(t, int32(maxAttempts), calls.Load(), "5xx retries up to the cap, then fails")
}

func TestHTTP_TransientThenSuccess(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "warming up", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("data"))
	}))
	defer srv.Close()

	router := NewRouter(nil, nil, NewHTTPStoreWithClient(srv.Client()))
	b := Blob{Name: "warm", Chunks: []Chunk{{URI: srv.URL + "/chunk0", Size: 4}}}

	got, err := router.Get(context.Background(), b, 0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), got)
	assert.Equal(t, int32(2), calls.Load())
}

func TestHTTP_ShortRangeResponseIsIntegrityError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("ab"))
	}))
	defer srv.Close()

	router := NewRouter(nil, nil, NewHTTPStoreWithClient(srv.Client()))
	b := Blob{Name: "short", Chunks: []Chunk{{URI: srv.URL + "/chunk0", Size: 8}}}

	_, err := router.Get(context.Background(), b, 0, 8)
	var integrity *IntegrityError
	require.ErrorAs(t, err, &integrity)
}

func TestHTTP_PutSendsContentLengthAndReturnsETag(t *testing.T) {
	var gotLength atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLength.Store(r.ContentLength)
		w.Header().Set("ETag", `"abc123"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	router := NewRouter(nil, nil, NewHTTPStoreWithClient(srv.Client()))
	b := Blob{Name: "up", Chunks: []Chunk{{URI: srv.URL + "/chunk0", Size: 0}}}

	uploaded, err := router.Put(context.Background(), b, [][]byte{[]byte("payload")})
	require.NoError(t, err)
	assert.Equal(t, int64(7), gotLength.Load())
	assert.Equal(t, `"abc123"`, uploaded.Chunks[0].ETag)
	assert.Equal(t, int64(7), uploaded.Chunks[0].Size)
}

func TestTransferError_NeverEchoesURI(t *testing.T) {
	terr := &TransferError{Op: "get", Status: 403, Body: "denied"}
	msg := terr.Error()
	assert.NotContains(t, msg, "https://")
	assert.Contains(t, msg, "403")
}

func TestIntegrityError_Message(t *testing.T) {
	err := &IntegrityError{Name: "b1", Reason: "digest mismatch"}
	assert.Equal(t, "blob b1 failed integrity check: digest mismatch", err.Error())
	_ = fmt.Sprintf("%v", err)
}
