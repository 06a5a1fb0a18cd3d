package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/italolelis/drive_relay/internal/logctx"
	"github.com/italolelis/drive_relay/internal/transfer"
)

const notifyTimeout = 10 * time.Second

// TransferObserver announces finished transfers.
type TransferObserver struct {
	notifier Notifier
}

// NewTransferObserver creates an observer sending through n.
func NewTransferObserver(n Notifier) *TransferObserver {
	return &TransferObserver{notifier: n}
}

func (o *TransferObserver) TransferQueued(context.Context, *transfer.Task)  {}
func (o *TransferObserver) TransferStarted(context.Context, *transfer.Task) {}

func (o *TransferObserver) TransferFinished(ctx context.Context, outcome *transfer.Outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := o.notifier.Notify(ctx, Message(outcome)); err != nil {
		logctx.LoggerFromContext(ctx).ErrorContext(ctx, "failed to send notification",
			"attempt_id", outcome.Task.AttemptID, "err", err)
	}
}

// Message renders the notification text for an outcome.
func Message(outcome *transfer.Outcome) string {
	task := outcome.Task

	if outcome.Succeeded() {
		return fmt.Sprintf("✅ Upload finished: %s (%s in %s)",
			task.TargetKey, humanize.Bytes(uint64(max(outcome.Bytes, 0))), outcome.Duration().Round(time.Second))
	}

	return fmt.Sprintf("❌ Upload failed: %s (source %s): %v", task.TargetKey, task.SourceID, outcome.Err)
}
