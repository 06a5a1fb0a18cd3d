package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/drive_relay/internal/storage"
	"github.com/italolelis/drive_relay/internal/telemetry"
	"github.com/italolelis/drive_relay/internal/transfer"
)

// InstrumentedJournalRepository wraps JournalRepository with telemetry.
type InstrumentedJournalRepository struct {
	repo      *JournalRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedJournalRepository creates a new instrumented journal repository.
func NewInstrumentedJournalRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedJournalRepository {
	return &InstrumentedJournalRepository{
		repo:      NewJournalRepository(dbConn),
		telemetry: tel,
	}
}

// Recent lists attempts with telemetry.
func (r *InstrumentedJournalRepository) Recent(ctx context.Context, limit int) ([]storage.AttemptRecord, error) {
	var result []storage.AttemptRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "recent_attempts", func(ctx context.Context) error {
		var err error

		result, err = r.repo.Recent(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// RecordQueued records a queued attempt with telemetry.
func (r *InstrumentedJournalRepository) RecordQueued(ctx context.Context, task *transfer.Task) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_queued", func(ctx context.Context) error {
		return r.repo.RecordQueued(ctx, task)
	})
}

// RecordStarted records a started attempt with telemetry.
func (r *InstrumentedJournalRepository) RecordStarted(ctx context.Context, task *transfer.Task, at time.Time) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_started", func(ctx context.Context) error {
		return r.repo.RecordStarted(ctx, task, at)
	})
}

// RecordFinished records a finished attempt with telemetry.
func (r *InstrumentedJournalRepository) RecordFinished(ctx context.Context, outcome *transfer.Outcome) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_finished", func(ctx context.Context) error {
		return r.repo.RecordFinished(ctx, outcome)
	})
}

// PruneFinished prunes old attempts with telemetry.
func (r *InstrumentedJournalRepository) PruneFinished(ctx context.Context, before time.Time) (int64, error) {
	var pruned int64

	err := r.telemetry.InstrumentDBOperation(ctx, "prune_attempts", func(ctx context.Context) error {
		var err error

		pruned, err = r.repo.PruneFinished(ctx, before)

		return err
	})

	return pruned, err
}
