package storage

import (
	"context"
	"time"

	"github.com/italolelis/drive_relay/internal/logctx"
	"github.com/italolelis/drive_relay/internal/transfer"
)

// JournalObserver writes scheduler events to the journal. Journal failures
// are logged and never affect the transfer.
type JournalObserver struct {
	repo JournalWriteRepository
	now  func() time.Time
}

// NewJournalObserver creates an observer writing to repo.
func NewJournalObserver(repo JournalWriteRepository) *JournalObserver {
	return &JournalObserver{repo: repo, now: time.Now}
}

func (o *JournalObserver) TransferQueued(ctx context.Context, task *transfer.Task) {
	ctx = context.WithoutCancel(ctx)

	if err := o.repo.RecordQueued(ctx, task); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to journal queued transfer",
			"attempt_id", task.AttemptID, "err", err)
	}
}

func (o *JournalObserver) TransferStarted(ctx context.Context, task *transfer.Task) {
	ctx = context.WithoutCancel(ctx)

	if err := o.repo.RecordStarted(ctx, task, o.now()); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to journal started transfer",
			"attempt_id", task.AttemptID, "err", err)
	}
}

// TransferFinished runs after shutdown has cancelled the transfer too, so it
// must not inherit cancellation.
func (o *JournalObserver) TransferFinished(ctx context.Context, outcome *transfer.Outcome) {
	ctx = context.WithoutCancel(ctx)

	if err := o.repo.RecordFinished(ctx, outcome); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to journal finished transfer",
			"attempt_id", outcome.Task.AttemptID, "err", err)
	}
}
