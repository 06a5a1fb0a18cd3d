// Package storage keeps the transfer journal: an operational history of
// attempts. Nothing in it feeds back into admission.
package storage

import (
	"context"
	"time"

	"github.com/italolelis/drive_relay/internal/transfer"
)

// AttemptRecord is one journaled transfer attempt.
type AttemptRecord struct {
	AttemptID  string         `json:"attempt_id"`
	SourceID   string         `json:"source_id"`
	TargetKey  string         `json:"target_key"`
	Status     transfer.State `json:"status"`
	Error      string         `json:"error,omitempty"`
	Bytes      int64          `json:"bytes"`
	QueuedAt   time.Time      `json:"queued_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// JournalReadRepository lists journaled attempts.
type JournalReadRepository interface {
	Recent(ctx context.Context, limit int) ([]AttemptRecord, error)
}

// JournalWriteRepository records attempt lifecycle events. Events for one
// attempt may arrive in any order; each write is an upsert keyed by attempt id.
type JournalWriteRepository interface {
	RecordQueued(ctx context.Context, task *transfer.Task) error
	RecordStarted(ctx context.Context, task *transfer.Task, at time.Time) error
	RecordFinished(ctx context.Context, outcome *transfer.Outcome) error
	PruneFinished(ctx context.Context, before time.Time) (int64, error)
}

// JournalRepository is the full journal.
type JournalRepository interface {
	JournalReadRepository
	JournalWriteRepository
}
