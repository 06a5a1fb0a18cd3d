package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/drive_relay/internal/transfer"
)

type runnerFunc func(ctx context.Context, task *transfer.Task) *transfer.Outcome

func (f runnerFunc) Run(ctx context.Context, task *transfer.Task) *transfer.Outcome {
	return f(ctx, task)
}

func outcome(task *transfer.Task, err error) *transfer.Outcome {
	state := transfer.StateSucceeded
	if err != nil {
		state = transfer.StateFailed
	}

	return &transfer.Outcome{Task: task, State: state, Err: err, StartedAt: time.Now(), FinishedAt: time.Now()}
}

type recordingObserver struct {
	queued   atomic.Int32
	started  atomic.Int32
	finished chan *transfer.Outcome
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{finished: make(chan *transfer.Outcome, 100)}
}

func (o *recordingObserver) TransferQueued(context.Context, *transfer.Task)  { o.queued.Add(1) }
func (o *recordingObserver) TransferStarted(context.Context, *transfer.Task) { o.started.Add(1) }
func (o *recordingObserver) TransferFinished(_ context.Context, out *transfer.Outcome) {
	o.finished <- out
}

func (o *recordingObserver) waitFinished(t *testing.T) *transfer.Outcome {
	t.Helper()

	select {
	case out := <-o.finished:
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a transfer to finish")

		return nil
	}
}

func TestScheduler_DeduplicatesConcurrentAdmissions(t *testing.T) {
	var runs atomic.Int32

	release := make(chan struct{})
	runner := runnerFunc(func(_ context.Context, task *transfer.Task) *transfer.Outcome {
		runs.Add(1)
		<-release

		return outcome(task, nil)
	})

	obs := newRecordingObserver()
	s := New(context.Background(), runner, 2, obs)

	const callers = 50

	var (
		wg      sync.WaitGroup
		created atomic.Int32
	)

	for range callers {
		wg.Add(1)

		go func() {
			defer wg.Done()

			adm, err := s.Admit(context.Background(), "1AbCdEfGhIjKlMnOp", "movie.mkv", "", 0)
			assert.NoError(t, err)
			assert.Equal(t, 0, adm.Position, "the only task for the identity must be running")

			if !adm.AlreadyActive {
				created.Add(1)
			}
		}()
	}

	wg.Wait()
	close(release)
	obs.waitFinished(t)

	assert.Equal(t, int32(1), created.Load())
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, int32(1), obs.queued.Load())
}

func TestScheduler_NeverExceedsCeiling(t *testing.T) {
	const (
		ceiling = 3
		tasks   = 20
	)

	var active, peak atomic.Int32

	runner := runnerFunc(func(_ context.Context, task *transfer.Task) *transfer.Outcome {
		n := active.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}

		time.Sleep(5 * time.Millisecond)
		active.Add(-1)

		return outcome(task, nil)
	})

	obs := newRecordingObserver()
	s := New(context.Background(), runner, ceiling, obs)

	var wg sync.WaitGroup

	for i := range tasks {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := s.Admit(context.Background(), fmt.Sprintf("source-%02d-xxxxxxxx", i), fmt.Sprintf("key-%02d", i), "", 0)
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	for range tasks {
		obs.waitFinished(t)
	}

	assert.LessOrEqual(t, peak.Load(), int32(ceiling))
	assert.Equal(t, int32(tasks), obs.started.Load())
	require.NoError(t, s.Wait(context.Background()))
}

func TestScheduler_QueuePositions(t *testing.T) {
	gates := map[string]chan struct{}{
		"a": make(chan struct{}),
		"b": make(chan struct{}),
		"c": make(chan struct{}),
	}
	runner := runnerFunc(func(_ context.Context, task *transfer.Task) *transfer.Outcome {
		<-gates[task.SourceID]

		return outcome(task, nil)
	})

	obs := newRecordingObserver()
	s := New(context.Background(), runner, 1, obs)
	ctx := context.Background()

	adm, err := s.Admit(ctx, "a", "a.bin", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, adm.Position)

	adm, err = s.Admit(ctx, "b", "b.bin", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 1, adm.Position)

	adm, err = s.Admit(ctx, "c", "c.bin", "", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, adm.Position)

	adm, err = s.Admit(ctx, "c", "c.bin", "", 0)
	require.NoError(t, err)
	assert.True(t, adm.AlreadyActive)
	assert.Equal(t, 2, adm.Position)

	snap := s.Snapshot()
	require.Len(t, snap.Running, 1)
	require.Len(t, snap.Queued, 2)
	assert.Equal(t, "a", snap.Running[0].SourceID)
	assert.Equal(t, "c", snap.Queued[1].SourceID)
	assert.Equal(t, 2, snap.Queued[1].Position)

	close(gates["a"])
	obs.waitFinished(t)

	require.Eventually(t, func() bool {
		pos, ok := s.Position("c")

		return ok && pos == 1
	}, time.Second, 5*time.Millisecond)

	pos, ok := s.Position("b")
	assert.True(t, ok)
	assert.Equal(t, 0, pos)

	_, ok = s.Position("a")
	assert.False(t, ok)

	close(gates["b"])
	close(gates["c"])
	obs.waitFinished(t)
	obs.waitFinished(t)
}

func TestScheduler_FailedAttemptCanBeReadmitted(t *testing.T) {
	var runs atomic.Int32

	runner := runnerFunc(func(_ context.Context, task *transfer.Task) *transfer.Outcome {
		if runs.Add(1) == 1 {
			return outcome(task, &transfer.SourceError{Op: "open_stream", SourceID: task.SourceID, Err: transfer.ErrUnavailable})
		}

		return outcome(task, nil)
	})

	obs := newRecordingObserver()
	s := New(context.Background(), runner, 1, obs)

	first, err := s.Admit(context.Background(), "retry-me-please", "r.bin", "", 0)
	require.NoError(t, err)

	out := obs.waitFinished(t)
	assert.False(t, out.Succeeded())
	assert.ErrorIs(t, out.Err, transfer.ErrUnavailable)

	second, err := s.Admit(context.Background(), "retry-me-please", "r.bin", "", 0)
	require.NoError(t, err)
	assert.False(t, second.AlreadyActive)
	assert.NotEqual(t, first.Task.AttemptID, second.Task.AttemptID)

	out = obs.waitFinished(t)
	assert.True(t, out.Succeeded())
	assert.Equal(t, int32(2), runs.Load())
}

func TestScheduler_RecoversPanics(t *testing.T) {
	runner := runnerFunc(func(context.Context, *transfer.Task) *transfer.Outcome {
		panic("boom")
	})

	obs := newRecordingObserver()
	s := New(context.Background(), runner, 1, obs)

	_, err := s.Admit(context.Background(), "panicky-source-id", "p.bin", "", 0)
	require.NoError(t, err)

	out := obs.waitFinished(t)
	assert.Equal(t, transfer.StateFailed, out.State)
	assert.Contains(t, out.Err.Error(), "boom")

	_, ok := s.Position("panicky-source-id")
	assert.False(t, ok, "a panicked attempt must release its identity")
}

func TestScheduler_CloseAndWait(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := runnerFunc(func(ctx context.Context, task *transfer.Task) *transfer.Outcome {
		<-ctx.Done()

		return outcome(task, ctx.Err())
	})

	s := New(ctx, runner, 1)

	_, err := s.Admit(context.Background(), "long-running-id", "l.bin", "", 0)
	require.NoError(t, err)
	_, err = s.Admit(context.Background(), "queued-forever-id", "q.bin", "", 0)
	require.NoError(t, err)

	s.Close()

	_, err = s.Admit(context.Background(), "too-late-source", "t.bin", "", 0)
	require.True(t, errors.Is(err, ErrClosed))
	assert.Empty(t, s.Snapshot().Queued)

	waitCtx, waitCancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer waitCancel()

	require.Error(t, s.Wait(waitCtx), "running transfer is still blocked")

	cancel()
	require.NoError(t, s.Wait(context.Background()))
}
