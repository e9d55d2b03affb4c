package statestore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cinderfn/cinder/internal/alloc"
	"github.com/cinderfn/cinder/internal/blob"
)

func openTemp(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "cinder.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testAllocation(id, requestID string) alloc.Allocation {
	return alloc.Allocation{
		ID:        id,
		RequestID: requestID,
		Function:  alloc.FunctionRef{Name: "app.sum", Serializer: "json"},
	}
}

func TestOpen_AppliesPragmas(t *testing.T) {
	s := openTemp(t)
	require.NoError(t, s.verifyPragma("journal_mode", "wal"))
	require.NoError(t, s.verifyPragma("foreign_keys", "1"))
	require.NoError(t, s.verifyPragma("busy_timeout", "5000"))
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cinder.db")
	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.RecordIntake(context.Background(), testAllocation("a1", "r1")))
	require.NoError(t, s1.Close())

	// Reopening an existing database applies migrations without
	// disturbing existing rows.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	entry, err := s2.Lookup(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "r1", entry.RequestID)
}

func TestRecordIntake_DuplicateIgnored(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	require.NoError(t, s.RecordIntake(ctx, testAllocation("a1", "r1")))
	// Redelivered intake for the same allocation: different request id
	// must not clobber the original row.
	require.NoError(t, s.RecordIntake(ctx, testAllocation("a1", "r2")))

	entry, err := s.Lookup(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, "r1", entry.RequestID)
	assert.False(t, entry.Finished())
}

func TestRecordOutcome_FirstWins(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.RecordIntake(ctx, testAllocation("a1", "r1")))

	require.NoError(t, s.RecordOutcome(ctx, "a1", alloc.Result{Kind: alloc.ResultValue}))
	require.NoError(t, s.RecordOutcome(ctx, "a1", alloc.Result{
		Kind:      alloc.ResultInternalError,
		ErrorCode: "internal",
	}))

	entry, err := s.Lookup(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, string(alloc.ResultValue), entry.ResultKind)
	assert.Empty(t, entry.ErrorCode)
	assert.True(t, entry.Finished())
	assert.False(t, entry.FinishedAt.IsZero())
}

func TestRecordOutcome_MissingIntake(t *testing.T) {
	s := openTemp(t)
	err := s.RecordOutcome(context.Background(), "ghost", alloc.Result{Kind: alloc.ResultValue})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLookup_Absent(t *testing.T) {
	s := openTemp(t)
	_, err := s.Lookup(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestByRequest_OrderedOldestFirst(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	require.NoError(t, s.RecordIntake(ctx, testAllocation("a1", "r1")))
	require.NoError(t, s.RecordIntake(ctx, testAllocation("a2", "r1")))
	require.NoError(t, s.RecordIntake(ctx, testAllocation("b1", "r2")))

	entries, err := s.ByRequest(ctx, "r1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a1", entries[0].AllocationID)
	assert.Equal(t, "a2", entries[1].AllocationID)
}

func TestRequestState_CommitAndRead(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	committed := blob.Blob{
		Name: "state-counter",
		Chunks: []blob.Chunk{
			{URI: "file:///data/state-counter", Size: 64, ETag: "abc"},
		},
		ETag: "abc",
	}
	require.NoError(t, s.CommitState(ctx, "r1", "counter", committed))

	got, err := s.ReadState(ctx, "r1", "counter")
	require.NoError(t, err)
	assert.Equal(t, committed, got)
}

func TestRequestState_UncommittedKeyAbsent(t *testing.T) {
	s := openTemp(t)
	_, err := s.ReadState(context.Background(), "r1", "counter")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRequestState_RecommitReplaces(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()

	first := blob.Blob{Name: "v1", Chunks: []blob.Chunk{{URI: "file:///d/v1", Size: 8}}}
	second := blob.Blob{Name: "v2", Chunks: []blob.Chunk{{URI: "file:///d/v2", Size: 16}}}
	require.NoError(t, s.CommitState(ctx, "r1", "counter", first))
	require.NoError(t, s.CommitState(ctx, "r1", "counter", second))

	got, err := s.ReadState(ctx, "r1", "counter")
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Name)
}

func TestRequestState_KeysScopedToRequest(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	b := blob.Blob{Name: "x", Chunks: []blob.Chunk{{URI: "file:///d/x", Size: 1}}}

	require.NoError(t, s.CommitState(ctx, "r1", "beta", b))
	require.NoError(t, s.CommitState(ctx, "r1", "alpha", b))
	require.NoError(t, s.CommitState(ctx, "r2", "gamma", b))

	keys, err := s.StateKeys(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, keys)

	// Same key name under a different request is a different key.
	_, err = s.ReadState(ctx, "r2", "alpha")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRequest_RemovesJournalAndState(t *testing.T) {
	s := openTemp(t)
	ctx := context.Background()
	b := blob.Blob{Name: "x", Chunks: []blob.Chunk{{URI: "file:///d/x", Size: 1}}}

	require.NoError(t, s.RecordIntake(ctx, testAllocation("a1", "r1")))
	require.NoError(t, s.CommitState(ctx, "r1", "counter", b))
	require.NoError(t, s.RecordIntake(ctx, testAllocation("b1", "r2")))

	require.NoError(t, s.DeleteRequest(ctx, "r1"))

	_, err := s.Lookup(ctx, "a1")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.ReadState(ctx, "r1", "counter")
	require.ErrorIs(t, err, ErrNotFound)

	// Unrelated request untouched.
	_, err = s.Lookup(ctx, "b1")
	require.NoError(t, err)
}
