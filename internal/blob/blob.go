package blob

import (
	"context"
	"fmt"
	"strings"
)

// Chunk is one addressable byte range of a blob: a URI, its size, and
// an optional integrity tag assigned at upload time.
type Chunk struct {
	URI  string `json:"uri"`
	Size int64  `json:"size"`
	ETag string `json:"etag,omitempty"`
}

// Blob is a named, ordered sequence of chunks. The descriptor's owner
// is whichever component requested its creation; the bytes live until
// the allocation referencing them is deleted.
type Blob struct {
	Name   string  `json:"name"`
	Chunks []Chunk `json:"chunks"`
	ETag   string  `json:"etag,omitempty"`
}

// Size is the total byte length across all chunks.
func (b Blob) Size() int64 {
	var total int64
	for _, c := range b.Chunks {
		total += c.Size
	}
	return total
}

// Store reads and writes blob byte ranges. Implementations must not
// keep handles open across calls.
type Store interface {
	// Get returns exactly size bytes starting at offset. Short data is
	// an IntegrityError, an absent key is ErrNotFound.
	Get(ctx context.Context, b Blob, offset, size int64) ([]byte, error)

	// Put writes one data slice per chunk descriptor and returns the
	// uploaded descriptor with sizes and integrity tags filled in.
	Put(ctx context.Context, b Blob, dataChunks [][]byte) (Blob, error)
}

// backend performs chunk-level I/O for one URI scheme. base is the
// chunk's starting offset within the whole blob; local files hold every
// chunk of a blob and need it, remote objects are one chunk each and
// ignore it.
type backend interface {
	readRange(ctx context.Context, chunk Chunk, base, offset, size int64) ([]byte, error)
	writeRange(ctx context.Context, chunk Chunk, base int64, data []byte) (etag string, err error)
}

// Router is the Store used throughout the runner: it inspects each
// chunk's URI scheme and hands the operation to the matching backend.
type Router struct {
	local  *LocalStore
	object *ObjectStore
	http   *HTTPStore
}

// NewRouter wires the three backends together. Any backend may be nil
// when its scheme cannot occur in a deployment; hitting a nil backend
// is an error, not a panic.
func NewRouter(local *LocalStore, object *ObjectStore, http *HTTPStore) *Router {
	return &Router{local: local, object: object, http: http}
}

func (r *Router) backendFor(uri string) (backend, error) {
	switch {
	case strings.HasPrefix(uri, "file://"):
		if r.local == nil {
			return nil, fmt.Errorf("no local backend configured")
		}
		return r.local, nil
	case strings.HasPrefix(uri, "s3://"):
		if r.object == nil {
			return nil, fmt.Errorf("no object backend configured")
		}
		return r.object, nil
	case strings.HasPrefix(uri, "https://"), strings.HasPrefix(uri, "http://"):
		if r.http == nil {
			return nil, fmt.Errorf("no http backend configured")
		}
		return r.http, nil
	default:
		return nil, fmt.Errorf("unsupported blob URI scheme")
	}
}

// Get assembles the requested range from however many chunks it spans.
func (r *Router) Get(ctx context.Context, b Blob, offset, size int64) ([]byte, error) {
	if offset < 0 || size < 0 {
		return nil, fmt.Errorf("negative range for blob %s", b.Name)
	}
	if total := b.Size(); offset+size > total {
		return nil, &IntegrityError{Name: b.Name, Reason: fmt.Sprintf(
			"range [%d,%d) exceeds blob size %d", offset, offset+size, total)}
	}

	out := make([]byte, 0, size)
	remaining := size
	pos := offset
	var base int64

	for _, chunk := range b.Chunks {
		if remaining == 0 {
			break
		}
		chunkEnd := base + chunk.Size
		if pos >= chunkEnd {
			base = chunkEnd
			continue
		}

		within := pos - base
		n := chunk.Size - within
		if n > remaining {
			n = remaining
		}

		be, err := r.backendFor(chunk.URI)
		if err != nil {
			return nil, err
		}
		data, err := be.readRange(ctx, chunk, base, within, n)
		if err != nil {
			return nil, err
		}
		if int64(len(data)) != n {
			return nil, &IntegrityError{Name: b.Name, Reason: fmt.Sprintf(
				"chunk returned %d bytes, want %d", len(data), n)}
		}

		out = append(out, data...)
		remaining -= n
		pos += n
		base = chunkEnd
	}

	if remaining != 0 {
		return nil, &IntegrityError{Name: b.Name, Reason: fmt.Sprintf(
			"assembled %d of %d requested bytes", size-remaining, size)}
	}
	return out, nil
}

// Put uploads one data slice per chunk descriptor. The returned
// descriptor carries actual sizes and the tags the backends reported.
func (r *Router) Put(ctx context.Context, b Blob, dataChunks [][]byte) (Blob, error) {
	if len(dataChunks) != len(b.Chunks) {
		return Blob{}, fmt.Errorf("blob %s: %d data chunks for %d chunk descriptors",
			b.Name, len(dataChunks), len(b.Chunks))
	}

	uploaded := Blob{Name: b.Name, Chunks: make([]Chunk, len(b.Chunks))}
	var base int64
	for i, chunk := range b.Chunks {
		be, err := r.backendFor(chunk.URI)
		if err != nil {
			return Blob{}, err
		}
		etag, err := be.writeRange(ctx, chunk, base, dataChunks[i])
		if err != nil {
			return Blob{}, err
		}
		uploaded.Chunks[i] = Chunk{URI: chunk.URI, Size: int64(len(dataChunks[i])), ETag: etag}
		base += int64(len(dataChunks[i]))
	}

	// Local blobs get a whole-blob tag: a running MD5 digest over the
	// chunks in upload order. Remote chunks carry per-object tags from
	// the object store instead.
	if len(b.Chunks) > 0 && strings.HasPrefix(b.Chunks[0].URI, "file://") {
		uploaded.ETag = runningDigest(dataChunks)
	}
	return uploaded, nil
}

var _ Store = (*Router)(nil)
