package blob

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// HTTPStore serves http(s):// chunk URIs, typically pre-signed object
// URLs handed out by a remote store. Connections are pooled and kept
// alive for the duration of a data-heavy operation; there is no other
// state.
type HTTPStore struct {
	client *http.Client
}

// NewHTTPStore returns a backend with a keep-alive connection pool
// sized for chunked transfers.
func NewHTTPStore() *HTTPStore {
	return &HTTPStore{client: &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        32,
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
		},
	}}
}

// NewHTTPStoreWithClient is for tests that need to reach a fake
// endpoint.
func NewHTTPStoreWithClient(client *http.Client) *HTTPStore {
	return &HTTPStore{client: client}
}

func (s *HTTPStore) readRange(ctx context.Context, chunk Chunk, base, offset, size int64) ([]byte, error) {
	var data []byte
	err := withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, chunk.URI, nil)
		if err != nil {
			return backoff.Permanent(&TransferError{Op: "get", Body: "malformed request"})
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", offset, offset+size-1))
		if chunk.ETag != "" {
			req.Header.Set("If-Match", chunk.ETag)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			// URL stays out of logs; the transport error may embed it.
			slog.Warn("retrying blob get", "error", "request failed without response")
			return &TransferError{Op: "get", Body: "request failed without response"}
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
			return classifyHTTPStatus("get", resp)
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return &TransferError{Op: "get", Body: "truncated response body"}
		}

		// A server free to ignore Range sends the full chunk back.
		if resp.StatusCode == http.StatusOK && int64(len(body)) > size {
			if offset+size > int64(len(body)) {
				return backoff.Permanent(&IntegrityError{Reason: fmt.Sprintf(
					"full response has %d bytes, range ends at %d", len(body), offset+size)})
			}
			body = body[offset : offset+size]
		}
		data = body
		return nil
	})
	if err != nil {
		return nil, err
	}

	if int64(len(data)) != size {
		return nil, &IntegrityError{Reason: fmt.Sprintf(
			"range response has %d bytes, want %d", len(data), size)}
	}
	return data, nil
}

func (s *HTTPStore) writeRange(ctx context.Context, chunk Chunk, base int64, data []byte) (string, error) {
	var etag string
	err := withRetry(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, chunk.URI, bytes.NewReader(data))
		if err != nil {
			return backoff.Permanent(&TransferError{Op: "put", Body: "malformed request"})
		}
		req.ContentLength = int64(len(data))

		resp, err := s.client.Do(req)
		if err != nil {
			slog.Warn("retrying blob put", "error", "request failed without response")
			return &TransferError{Op: "put", Body: "request failed without response"}
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return classifyHTTPStatus("put", resp)
		}
		etag = resp.Header.Get("ETag")
		io.Copy(io.Discard, resp.Body)
		return nil
	})
	return etag, err
}

// classifyHTTPStatus drains a bounded body excerpt for diagnostics and
// maps the status onto the retry taxonomy.
func classifyHTTPStatus(op string, resp *http.Response) error {
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	terr := &TransferError{Op: op, Status: resp.StatusCode, Body: string(excerpt)}

	if resp.StatusCode == http.StatusNotFound {
		return backoff.Permanent(fmt.Errorf("%s: %w", terr.Error(), ErrNotFound))
	}
	if permanentStatus(resp.StatusCode) {
		return backoff.Permanent(terr)
	}
	slog.Warn("retrying blob transfer", "op", op, "status", resp.StatusCode, "body", string(excerpt))
	return terr
}
