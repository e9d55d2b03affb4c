package blob

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// LocalStore serves file:// chunk URIs. Every chunk of a local blob
// addresses the same absolute-path file; the chunk's base offset within
// the blob is its offset within the file.
//
// Writes are create-if-missing, seek, write: the filesystem zero-fills
// any gap past the current length, and concurrent writers to disjoint
// offsets of one file are safe. Overlapping writes are the caller's
// bug; the store does not serialize them.
type LocalStore struct{}

// NewLocalStore returns the local-filesystem backend.
func NewLocalStore() *LocalStore {
	return &LocalStore{}
}

// localPath strips the file:// scheme and validates the path.
func localPath(uri string) (string, error) {
	path := strings.TrimPrefix(uri, "file://")
	if !filepath.IsAbs(path) {
		return "", fmt.Errorf("local blob path must be absolute")
	}
	return path, nil
}

func (s *LocalStore) readRange(ctx context.Context, chunk Chunk, base, offset, size int64) ([]byte, error) {
	path, err := localPath(chunk.URI)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("local read: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("local read: %w", err)
	}
	defer f.Close()

	// A file shorter than the descriptor claims is corruption, not a
	// short read to be papered over.
	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("local read: %w", err)
	}
	end := base + offset + size
	if info.Size() < end {
		return nil, &IntegrityError{Name: filepath.Base(path), Reason: fmt.Sprintf(
			"file is %d bytes, range ends at %d", info.Size(), end)}
	}

	buf := make([]byte, size)
	if _, err := f.ReadAt(buf, base+offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("local read: %w", err)
	}
	return buf, nil
}

func (s *LocalStore) writeRange(ctx context.Context, chunk Chunk, base int64, data []byte) (string, error) {
	path, err := localPath(chunk.URI)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("local write: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return "", fmt.Errorf("local write: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(data, base); err != nil {
		return "", fmt.Errorf("local write: %w", err)
	}

	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:]), nil
}

// runningDigest is the whole-blob MD5 over chunks in upload order.
func runningDigest(dataChunks [][]byte) string {
	h := md5.New()
	for _, data := range dataChunks {
		h.Write(data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
