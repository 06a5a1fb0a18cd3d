// Package engine streams one source object into a store multipart upload
// without holding more than a bounded number of parts in memory.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/drive_relay/internal/engine/progress"
	"github.com/italolelis/drive_relay/internal/logctx"
	"github.com/italolelis/drive_relay/internal/source"
	"github.com/italolelis/drive_relay/internal/store"
	"github.com/italolelis/drive_relay/internal/telemetry"
	"github.com/italolelis/drive_relay/internal/transfer"
)

const (
	progressInterval = 100 * 1024 * 1024 // 100MB
	abortTimeout     = 30 * time.Second

	// DefaultMaxParts is the S3 limit on parts per multipart upload.
	DefaultMaxParts = 10000
)

// ErrTooManyParts is returned when a stream of undeclared size outgrows the
// part limit.
var ErrTooManyParts = errors.New("object exceeds the multipart part limit")

// Config bounds memory per transfer to PartSize * PartsInFlight. When the
// declared size would need more than MaxParts parts, the part size of that
// transfer grows to fit.
type Config struct {
	PartSize      int64
	PartsInFlight int
	MaxParts      int32
}

// Engine runs transfers. It is safe for concurrent use.
type Engine struct {
	source    source.Fetcher
	store     store.Gateway
	cfg       Config
	telemetry *telemetry.Telemetry
	now       func() time.Time
}

// New creates an engine.
func New(src source.Fetcher, gw store.Gateway, cfg Config, tel *telemetry.Telemetry) *Engine {
	if cfg.PartsInFlight < 1 {
		cfg.PartsInFlight = 1
	}

	if cfg.MaxParts < 1 {
		cfg.MaxParts = DefaultMaxParts
	}

	return &Engine{
		source:    src,
		store:     gw,
		cfg:       cfg,
		telemetry: tel,
		now:       time.Now,
	}
}

// Run executes one attempt. Every exit path closes the source stream, and a
// failed upload is aborted so nothing becomes visible under the target key.
func (e *Engine) Run(ctx context.Context, task *transfer.Task) *transfer.Outcome {
	out := &transfer.Outcome{Task: task, StartedAt: e.now()}

	err := e.telemetry.InstrumentTransfer(ctx, func(ctx context.Context) error {
		var err error

		out.Bytes, err = e.relay(ctx, task)

		return err
	})

	out.FinishedAt = e.now()
	out.Err = err
	out.State = transfer.StateSucceeded

	if err != nil {
		out.State = transfer.StateFailed
	}

	return out
}

func (e *Engine) relay(ctx context.Context, task *transfer.Task) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	stream, err := e.source.Open(ctx, task.SourceID)
	if err != nil {
		return 0, fmt.Errorf("failed to open source stream: %w", err)
	}
	defer stream.Body.Close()

	total := stream.Size
	if total <= 0 {
		total = task.SizeHint
	}

	partSize := e.partSize(total)

	logger.InfoContext(ctx, "relaying object",
		"size", humanize.Bytes(uint64(max(total, 0))),
		"part_size", humanize.IBytes(uint64(partSize)))

	reader := progress.NewReader(stream.Body, total, progressInterval, func(read, total int64) {
		if total > 0 {
			logger.DebugContext(ctx, "transfer progress",
				"uploaded", humanize.Bytes(uint64(read)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(read)*100/float64(total), 2))
		} else {
			logger.DebugContext(ctx, "transfer progress", "uploaded", humanize.Bytes(uint64(read)))
		}
	})

	// Buffers are allocated on first use; the channel capacity is the bound.
	pool := make(chan []byte, e.cfg.PartsInFlight)
	for range e.cfg.PartsInFlight {
		pool <- nil
	}

	first, eof, err := e.readPart(task, reader, <-pool, partSize)
	if err != nil {
		return reader.BytesRead(), err
	}

	opts := store.UploadOptions{
		ContentType:        transfer.PickContentType(stream.ContentType, task.ContentTypeHint, sniff(first)),
		ContentDisposition: transfer.ContentDisposition(task.TargetKey),
	}

	upload, err := e.store.CreateMultipartUpload(ctx, task.TargetKey, opts)
	if err != nil {
		return reader.BytesRead(), fmt.Errorf("failed to start multipart upload: %w", err)
	}

	parts, err := e.uploadParts(ctx, task, upload, reader, pool, partSize, first, eof)
	if err == nil {
		sort.Slice(parts, func(i, j int) bool { return parts[i].Number < parts[j].Number })

		if err = upload.Complete(ctx, parts); err != nil {
			err = fmt.Errorf("failed to complete multipart upload: %w", err)
		}
	}

	if err != nil {
		e.abort(ctx, upload)

		return reader.BytesRead(), err
	}

	logger.DebugContext(ctx, "multipart upload completed", "parts", len(parts), "content_type", opts.ContentType)

	return reader.BytesRead(), nil
}

// uploadParts keeps reading parts from r and hands each to an upload worker.
// A worker returns its buffer to pool when done, so at most cap(pool) parts
// exist at once and a slow store throttles reads from the source.
func (e *Engine) uploadParts(
	ctx context.Context,
	task *transfer.Task,
	upload store.MultipartUpload,
	r io.Reader,
	pool chan []byte,
	partSize int64,
	first []byte,
	eof bool,
) ([]store.CompletedPart, error) {
	g, gctx := errgroup.WithContext(ctx)

	var (
		mu    sync.Mutex
		parts []store.CompletedPart
	)

	submit := func(number int32, data []byte) {
		g.Go(func() error {
			defer func() { pool <- data[:0] }()

			part, err := upload.UploadPart(gctx, number, data)
			if err != nil {
				return fmt.Errorf("failed to upload part %d: %w", number, err)
			}

			mu.Lock()
			parts = append(parts, part)
			mu.Unlock()

			return nil
		})
	}

	submit(1, first)

	var (
		number  int32 = 1
		readErr error
	)

read:
	for !eof && gctx.Err() == nil {
		var buf []byte

		select {
		case buf = <-pool:
		case <-gctx.Done():
			break read
		}

		var data []byte

		data, eof, readErr = e.readPart(task, r, buf, partSize)
		if readErr != nil {
			pool <- buf

			break
		}

		if len(data) == 0 {
			// The previous part ended exactly at the end of the stream.
			pool <- buf

			break
		}

		if number >= e.cfg.MaxParts {
			pool <- buf
			readErr = fmt.Errorf("%w: more than %d parts of %s", ErrTooManyParts, e.cfg.MaxParts, humanize.IBytes(uint64(partSize)))

			break
		}

		number++
		submit(number, data)
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	if readErr != nil {
		return nil, readErr
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return parts, nil
}

// partSize is the configured part size, raised when an object of the given
// size would not fit in MaxParts parts.
func (e *Engine) partSize(total int64) int64 {
	limit := int64(e.cfg.MaxParts)

	return max(e.cfg.PartSize, (total+limit-1)/limit)
}

// readPart fills buf (allocating it when too small) with up to size bytes.
// eof reports that the stream has no more data after the returned part.
func (e *Engine) readPart(task *transfer.Task, r io.Reader, buf []byte, size int64) (data []byte, eof bool, err error) {
	if int64(cap(buf)) < size {
		buf = make([]byte, size)
	}

	buf = buf[:size]

	n, err := io.ReadFull(r, buf)

	switch {
	case err == nil:
		return buf[:n], false, nil
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return buf[:n], true, nil
	default:
		return nil, false, &transfer.SourceError{
			Op:       "read_stream",
			SourceID: task.SourceID,
			Err:      fmt.Errorf("%w: %v", transfer.ErrUnavailable, err),
		}
	}
}

// abort discards the upload even when ctx is already cancelled.
func (e *Engine) abort(ctx context.Context, upload store.MultipartUpload) {
	abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
	defer cancel()

	if err := upload.Abort(abortCtx); err != nil {
		logctx.LoggerFromContext(ctx).WarnContext(ctx, "failed to abort multipart upload", "err", err)

		return
	}

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "multipart upload aborted")
}

func sniff(data []byte) string {
	if len(data) == 0 {
		return ""
	}

	return mimetype.Detect(data).String()
}
