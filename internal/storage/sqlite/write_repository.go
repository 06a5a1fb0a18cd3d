package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/italolelis/drive_relay/internal/transfer"
)

// JournalWriteRepository implements storage.JournalWriteRepository
// and stores attempt records in SQLite.
type JournalWriteRepository struct {
	db *sql.DB
}

func NewJournalWriteRepository(db *sql.DB) *JournalWriteRepository {
	return &JournalWriteRepository{db: db}
}

// RecordQueued inserts the attempt unless a later event already did.
func (r *JournalWriteRepository) RecordQueued(ctx context.Context, task *transfer.Task) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attempts (attempt_id, source_id, target_key, status, queued_at)
		VALUES (?, ?, ?, 'queued', ?)
		ON CONFLICT(attempt_id) DO NOTHING`,
		task.AttemptID, task.SourceID, task.TargetKey, formatTime(task.AdmittedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record queued attempt: %w", err)
	}

	return nil
}

// RecordStarted marks the attempt running unless it already finished.
func (r *JournalWriteRepository) RecordStarted(ctx context.Context, task *transfer.Task, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attempts (attempt_id, source_id, target_key, status, queued_at, started_at)
		VALUES (?, ?, ?, 'running', ?, ?)
		ON CONFLICT(attempt_id) DO UPDATE SET
			started_at = excluded.started_at,
			status = CASE WHEN attempts.status = 'queued' THEN 'running' ELSE attempts.status END`,
		task.AttemptID, task.SourceID, task.TargetKey, formatTime(task.AdmittedAt), formatTime(at),
	)
	if err != nil {
		return fmt.Errorf("failed to record started attempt: %w", err)
	}

	return nil
}

// RecordFinished stores the terminal state of the attempt.
func (r *JournalWriteRepository) RecordFinished(ctx context.Context, outcome *transfer.Outcome) error {
	task := outcome.Task

	var errText sql.NullString
	if outcome.Err != nil {
		errText = sql.NullString{String: outcome.Err.Error(), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO attempts (attempt_id, source_id, target_key, status, error, bytes, queued_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(attempt_id) DO UPDATE SET
			status = excluded.status,
			error = excluded.error,
			bytes = excluded.bytes,
			started_at = COALESCE(attempts.started_at, excluded.started_at),
			finished_at = excluded.finished_at`,
		task.AttemptID, task.SourceID, task.TargetKey, string(outcome.State), errText, outcome.Bytes,
		formatTime(task.AdmittedAt), formatTime(outcome.StartedAt), formatTime(outcome.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record finished attempt: %w", err)
	}

	return nil
}

// PruneFinished deletes finished attempts older than before. Unfinished rows
// are kept.
func (r *JournalWriteRepository) PruneFinished(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM attempts WHERE finished_at IS NOT NULL AND finished_at < ?`,
		formatTime(before),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune attempts: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return affected, nil
}
