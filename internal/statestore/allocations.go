package statestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cinderfn/cinder/internal/alloc"
)

// ErrNotFound is returned when a journal row or request-state key is
// absent.
var ErrNotFound = errors.New("statestore: not found")

// JournalEntry is one row of the allocation journal.
type JournalEntry struct {
	AllocationID string
	RequestID    string
	Function     string
	Serializer   string
	// ResultKind and ErrorCode are empty until the allocation finished.
	ResultKind string
	ErrorCode  string
	CreatedAt  time.Time
	FinishedAt time.Time
}

// Finished reports whether the journal has recorded a terminal outcome.
func (e JournalEntry) Finished() bool { return e.ResultKind != "" }

// RecordIntake journals a newly accepted allocation. Duplicate ids are
// silently ignored so redelivered intake messages stay idempotent.
func (s *Store) RecordIntake(ctx context.Context, a alloc.Allocation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO allocations
		(id, request_id, function, serializer, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		a.ID,
		a.RequestID,
		a.Function.Name,
		a.Function.Serializer,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("record intake: %w", err)
	}
	return nil
}

// RecordOutcome stamps the journal row with the allocation's terminal
// outcome. The first recorded outcome wins; later attempts are no-ops,
// matching the single-transition contract of the in-memory state.
func (s *Store) RecordOutcome(ctx context.Context, allocationID string, r alloc.Result) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE allocations
		SET result_kind = ?, error_code = ?, finished_at = ?
		WHERE id = ? AND result_kind IS NULL
	`,
		string(r.Kind),
		nullable(r.ErrorCode),
		time.Now().UnixMilli(),
		allocationID,
	)
	if err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("record outcome: rows affected: %w", err)
	}
	if affected == 0 {
		// Either the row is absent or an outcome already landed.
		// Distinguish so a missing intake record surfaces loudly.
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM allocations WHERE id = ?`, allocationID,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("record outcome: check row: %w", err)
		}
		if exists == 0 {
			return fmt.Errorf("record outcome for %s: %w", allocationID, ErrNotFound)
		}
	}
	return nil
}

// Lookup returns the journal entry for one allocation.
func (s *Store) Lookup(ctx context.Context, allocationID string) (JournalEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, request_id, function, serializer,
		       result_kind, error_code, created_at, finished_at
		FROM allocations WHERE id = ?
	`, allocationID)
	return scanEntry(row, allocationID)
}

// ByRequest returns all journal entries for a request, oldest first.
func (s *Store) ByRequest(ctx context.Context, requestID string) ([]JournalEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_id, function, serializer,
		       result_kind, error_code, created_at, finished_at
		FROM allocations WHERE request_id = ?
		ORDER BY created_at, id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("list by request: %w", err)
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		e, err := scanEntry(rows, "")
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list by request: %w", err)
	}
	return entries, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner, id string) (JournalEntry, error) {
	var e JournalEntry
	var resultKind, errorCode sql.NullString
	var createdAt int64
	var finishedAt sql.NullInt64
	err := row.Scan(
		&e.AllocationID, &e.RequestID, &e.Function, &e.Serializer,
		&resultKind, &errorCode, &createdAt, &finishedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return JournalEntry{}, fmt.Errorf("lookup %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return JournalEntry{}, fmt.Errorf("scan journal entry: %w", err)
	}
	e.ResultKind = resultKind.String
	e.ErrorCode = errorCode.String
	e.CreatedAt = time.UnixMilli(createdAt)
	if finishedAt.Valid {
		e.FinishedAt = time.UnixMilli(finishedAt.Int64)
	}
	return e, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
