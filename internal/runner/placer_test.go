package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinderfn/cinder/internal/blob"
)

func TestLocalPlacer_PlacedBlobIsWritable(t *testing.T) {
	placer, err := NewLocalPlacer(t.TempDir())
	require.NoError(t, err)

	b, err := placer.Place("alloc-1", "output", 3)
	require.NoError(t, err)
	require.Len(t, b.Chunks, 1)

	// The per-allocation directory does not exist yet; the first write
	// must still land.
	router := blob.NewRouter(blob.NewLocalStore(), nil, nil)
	uploaded, err := router.Put(context.Background(), b, [][]byte{[]byte("abc")})
	require.NoError(t, err)

	got, err := router.Get(context.Background(), uploaded, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestLocalPlacer_Validation(t *testing.T) {
	_, err := NewLocalPlacer("relative/root")
	assert.ErrorContains(t, err, "absolute")

	placer, err := NewLocalPlacer(t.TempDir())
	require.NoError(t, err)
	_, err = placer.Place("", "output", 1)
	assert.Error(t, err)
	_, err = placer.Place("alloc-1", "", 1)
	assert.Error(t, err)
}
