package runner

import (
	"fmt"
	"net/url"
	"path"
	"path/filepath"

	"github.com/cinderfn/cinder/internal/blob"
)

// Placer decides where a new output blob's bytes will live. The runner
// asks it for a descriptor, writes through the blob store, and
// publishes the descriptor the store returns.
type Placer interface {
	Place(allocationID, name string, size int64) (blob.Blob, error)
}

// LocalPlacer places blobs as single-chunk files under a root
// directory, one subdirectory per allocation.
type LocalPlacer struct {
	Root string
}

func NewLocalPlacer(root string) (*LocalPlacer, error) {
	if !filepath.IsAbs(root) {
		return nil, fmt.Errorf("local placer root must be absolute, got %q", root)
	}
	return &LocalPlacer{Root: root}, nil
}

func (p *LocalPlacer) Place(allocationID, name string, size int64) (blob.Blob, error) {
	if allocationID == "" || name == "" {
		return blob.Blob{}, fmt.Errorf("place blob: empty allocation id or name")
	}
	uri := url.URL{
		Scheme: "file",
		Path:   path.Join(filepath.ToSlash(p.Root), allocationID, name),
	}
	return blob.Blob{
		Name:   name,
		Chunks: []blob.Chunk{{URI: uri.String(), Size: size}},
	}, nil
}
