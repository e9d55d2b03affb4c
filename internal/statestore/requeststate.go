package statestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cinderfn/cinder/internal/blob"
)

// CommitState records the committed BLOB for a request-state key. A
// later commit for the same key replaces the earlier descriptor; reads
// always serve the newest committed write.
func (s *Store) CommitState(ctx context.Context, requestID, key string, b blob.Blob) error {
	descriptor, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("commit state: marshal descriptor: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO request_state (request_id, key, blob, committed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(request_id, key) DO UPDATE SET
			blob = excluded.blob,
			committed_at = excluded.committed_at
	`,
		requestID, key, string(descriptor), time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("commit state: %w", err)
	}
	return nil
}

// ReadState returns the committed BLOB for a request-state key.
// Returns ErrNotFound for keys with no committed write; an in-flight
// prepare-write does not make a key readable.
func (s *Store) ReadState(ctx context.Context, requestID, key string) (blob.Blob, error) {
	var descriptor string
	err := s.db.QueryRowContext(ctx, `
		SELECT blob FROM request_state
		WHERE request_id = ? AND key = ?
	`, requestID, key).Scan(&descriptor)
	if errors.Is(err, sql.ErrNoRows) {
		return blob.Blob{}, fmt.Errorf("read state %q: %w", key, ErrNotFound)
	}
	if err != nil {
		return blob.Blob{}, fmt.Errorf("read state: %w", err)
	}

	var b blob.Blob
	if err := json.Unmarshal([]byte(descriptor), &b); err != nil {
		return blob.Blob{}, fmt.Errorf("read state: decode descriptor: %w", err)
	}
	return b, nil
}

// StateKeys lists the committed keys for one request, sorted.
func (s *Store) StateKeys(ctx context.Context, requestID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key FROM request_state
		WHERE request_id = ?
		ORDER BY key
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list state keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("list state keys: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list state keys: %w", err)
	}
	return keys, nil
}

// DeleteRequest removes all state rows and journal entries for one
// request. Used when a request's retention window lapses.
func (s *Store) DeleteRequest(ctx context.Context, requestID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete request: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM request_state WHERE request_id = ?`, requestID); err != nil {
		return fmt.Errorf("delete request state: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM allocations WHERE request_id = ?`, requestID); err != nil {
		return fmt.Errorf("delete request journal: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete request: commit: %w", err)
	}
	return nil
}
