package telemetry

import (
	"context"

	"github.com/italolelis/drive_relay/internal/transfer"
)

// TransferObserver feeds scheduler events into the queue and outcome metrics.
type TransferObserver struct {
	telemetry *Telemetry
}

// NewTransferObserver creates an observer recording into t.
func NewTransferObserver(t *Telemetry) *TransferObserver {
	return &TransferObserver{telemetry: t}
}

func (o *TransferObserver) TransferQueued(context.Context, *transfer.Task) {
	o.telemetry.AddQueuedTransfers(1)
}

func (o *TransferObserver) TransferStarted(context.Context, *transfer.Task) {
	o.telemetry.AddQueuedTransfers(-1)
}

func (o *TransferObserver) TransferFinished(_ context.Context, outcome *transfer.Outcome) {
	o.telemetry.RecordTransfer(string(outcome.State), outcome.Bytes, outcome.Duration())

	if !outcome.Succeeded() {
		o.telemetry.RecordSystemError("engine", "transfer_failed")
	}
}
