package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/drive_relay/internal/storage"
	"github.com/italolelis/drive_relay/internal/transfer"
)

type JournalReadRepository struct {
	db *sql.DB
}

func NewJournalReadRepository(dbConn *sql.DB) *JournalReadRepository {
	return &JournalReadRepository{db: dbConn}
}

// Recent returns up to limit attempts, most recently queued first.
func (r *JournalReadRepository) Recent(ctx context.Context, limit int) ([]storage.AttemptRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT
			attempt_id,
			source_id,
			target_key,
			status,
			error,
			bytes,
			queued_at,
			started_at,
			finished_at
		FROM attempts
		ORDER BY queued_at DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	records := make([]storage.AttemptRecord, 0, limit)

	for rows.Next() {
		var (
			record                         storage.AttemptRecord
			status, queuedAt               string
			errText, startedAt, finishedAt sql.NullString
		)

		if err := rows.Scan(
			&record.AttemptID, &record.SourceID, &record.TargetKey, &status, &errText,
			&record.Bytes, &queuedAt, &startedAt, &finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}

		record.Status = transfer.State(status)
		record.Error = errText.String

		if record.QueuedAt, err = time.Parse(timeLayout, queuedAt); err != nil {
			return nil, fmt.Errorf("invalid queued_at %q: %w", queuedAt, err)
		}

		if record.StartedAt, err = parseNullTime(startedAt); err != nil {
			return nil, err
		}

		if record.FinishedAt, err = parseNullTime(finishedAt); err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}

	t, err := time.Parse(timeLayout, s.String)
	if err != nil {
		return nil, fmt.Errorf("invalid timestamp %q: %w", s.String, err)
	}

	return &t, nil
}
