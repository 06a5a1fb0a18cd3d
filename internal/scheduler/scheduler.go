// Package scheduler admits transfer tasks, deduplicates them by source
// identity and runs at most a fixed number of them at once.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/italolelis/drive_relay/internal/logctx"
	"github.com/italolelis/drive_relay/internal/transfer"
)

// ErrClosed is returned by Admit after Close.
var ErrClosed = errors.New("scheduler is closed")

// Runner executes one task to a terminal outcome.
type Runner interface {
	Run(ctx context.Context, task *transfer.Task) *transfer.Outcome
}

// Observer is told about task lifecycle events. Calls for one task may
// interleave with calls for others; TransferQueued may even arrive after
// TransferStarted for the same attempt. Implementations must not block for long.
type Observer interface {
	TransferQueued(ctx context.Context, task *transfer.Task)
	TransferStarted(ctx context.Context, task *transfer.Task)
	TransferFinished(ctx context.Context, outcome *transfer.Outcome)
}

// Admission is the answer to Admit.
type Admission struct {
	// AlreadyActive is true when the identity was queued or running before
	// this call and no task was created.
	AlreadyActive bool
	// Position is the 1-based index in the pending queue, or 0 when running.
	Position int
	// Task is the tracked task for the identity.
	Task *transfer.Task
}

type running struct {
	task      *transfer.Task
	startedAt time.Time
}

// Scheduler owns the dedup set, the pending queue and the running count.
type Scheduler struct {
	runner    Runner
	observers []Observer
	ceiling   int
	baseCtx   context.Context
	now       func() time.Time

	mu      sync.Mutex
	pending []*transfer.Task
	running map[string]*running
	closed  bool

	wg sync.WaitGroup
}

// New creates a scheduler. Executions inherit ctx, so cancelling it cancels
// every running transfer.
func New(ctx context.Context, runner Runner, ceiling int, observers ...Observer) *Scheduler {
	if ceiling < 1 {
		ceiling = 1
	}

	return &Scheduler{
		runner:    runner,
		observers: observers,
		ceiling:   ceiling,
		baseCtx:   ctx,
		now:       time.Now,
		running:   make(map[string]*running),
	}
}

// Admit registers a transfer of sourceID into targetKey unless one is already
// queued or running for that identity.
func (s *Scheduler) Admit(ctx context.Context, sourceID, targetKey, contentTypeHint string, sizeHint int64) (Admission, error) {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()

		return Admission{}, ErrClosed
	}

	if task, pos, ok := s.lookupLocked(sourceID); ok {
		s.mu.Unlock()

		return Admission{AlreadyActive: true, Position: pos, Task: task}, nil
	}

	task := &transfer.Task{
		AttemptID:       uuid.NewString(),
		SourceID:        sourceID,
		TargetKey:       targetKey,
		ContentTypeHint: contentTypeHint,
		SizeHint:        sizeHint,
		AdmittedAt:      s.now(),
	}
	s.pending = append(s.pending, task)

	started := s.dispatchLocked()
	_, pos, _ := s.lookupLocked(sourceID)

	s.mu.Unlock()

	logctx.LoggerFromContext(ctx).InfoContext(ctx, "transfer admitted",
		"source_id", sourceID, "target_key", targetKey, "attempt_id", task.AttemptID, "queue_position", pos)

	for _, o := range s.observers {
		o.TransferQueued(ctx, task)
	}

	s.start(started)

	return Admission{Position: pos, Task: task}, nil
}

// Position reports the queue position of sourceID, 0 when running. ok is
// false when the identity is not tracked.
func (s *Scheduler) Position(sourceID string) (pos int, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, pos, ok = s.lookupLocked(sourceID)

	return pos, ok
}

// Entry describes one tracked task.
type Entry struct {
	AttemptID  string         `json:"attempt_id"`
	SourceID   string         `json:"source_id"`
	TargetKey  string         `json:"target_key"`
	State      transfer.State `json:"state"`
	Position   int            `json:"queue_position"`
	AdmittedAt time.Time      `json:"admitted_at"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
}

// Snapshot is a point-in-time view of the scheduler.
type Snapshot struct {
	Ceiling int     `json:"max_concurrent"`
	Running []Entry `json:"running"`
	Queued  []Entry `json:"queued"`
}

// Snapshot returns running tasks oldest first followed by the queue in order.
func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		Ceiling: s.ceiling,
		Running: make([]Entry, 0, len(s.running)),
		Queued:  make([]Entry, 0, len(s.pending)),
	}

	for _, r := range s.running {
		startedAt := r.startedAt
		snap.Running = append(snap.Running, Entry{
			AttemptID:  r.task.AttemptID,
			SourceID:   r.task.SourceID,
			TargetKey:  r.task.TargetKey,
			State:      transfer.StateRunning,
			AdmittedAt: r.task.AdmittedAt,
			StartedAt:  &startedAt,
		})
	}

	sortByStart(snap.Running)

	for i, task := range s.pending {
		snap.Queued = append(snap.Queued, Entry{
			AttemptID:  task.AttemptID,
			SourceID:   task.SourceID,
			TargetKey:  task.TargetKey,
			State:      transfer.StateQueued,
			Position:   i + 1,
			AdmittedAt: task.AdmittedAt,
		})
	}

	return snap
}

// Close stops admission and dispatch. Queued tasks are dropped; running ones
// keep going until they finish or the base context is cancelled.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
	s.pending = nil
}

// Wait blocks until every running execution has finished or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	done := make(chan struct{})

	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running transfers: %w", ctx.Err())
	}
}

// lookupLocked returns the tracked task and its position. Must hold s.mu.
func (s *Scheduler) lookupLocked(sourceID string) (*transfer.Task, int, bool) {
	if r, ok := s.running[sourceID]; ok {
		return r.task, 0, true
	}

	for i, task := range s.pending {
		if task.SourceID == sourceID {
			return task, i + 1, true
		}
	}

	return nil, 0, false
}

// dispatchLocked moves tasks from the queue head into running slots while
// slots are free. The returned tasks must be passed to start once the lock is
// released. Must hold s.mu.
func (s *Scheduler) dispatchLocked() []*transfer.Task {
	var started []*transfer.Task

	for !s.closed && len(s.running) < s.ceiling && len(s.pending) > 0 {
		task := s.pending[0]
		s.pending[0] = nil
		s.pending = s.pending[1:]

		s.running[task.SourceID] = &running{task: task, startedAt: s.now()}
		s.wg.Add(1)

		started = append(started, task)
	}

	return started
}

func sortByStart(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].StartedAt.Before(*entries[j].StartedAt)
	})
}

func (s *Scheduler) start(tasks []*transfer.Task) {
	for _, task := range tasks {
		go s.execute(task)
	}
}

// execute runs one task and retires it. The originating request never waits on this.
func (s *Scheduler) execute(task *transfer.Task) {
	defer s.wg.Done()

	ctx, logger := logctx.With(s.baseCtx,
		"source_id", task.SourceID, "target_key", task.TargetKey, "attempt_id", task.AttemptID)

	for _, o := range s.observers {
		o.TransferStarted(ctx, task)
	}

	logger.InfoContext(ctx, "transfer started")

	outcome := s.runSafely(ctx, task)

	s.complete(task.SourceID)

	if outcome.Succeeded() {
		logger.InfoContext(ctx, "transfer succeeded", "bytes", outcome.Bytes, "duration", outcome.Duration())
	} else {
		logger.ErrorContext(ctx, "transfer failed", "err", outcome.Err, "bytes", outcome.Bytes, "duration", outcome.Duration())
	}

	for _, o := range s.observers {
		o.TransferFinished(ctx, outcome)
	}
}

func (s *Scheduler) runSafely(ctx context.Context, task *transfer.Task) (outcome *transfer.Outcome) {
	startedAt := s.now()

	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).ErrorContext(ctx, "transfer panicked",
				"panic", r, "stack", string(debug.Stack()))

			outcome = &transfer.Outcome{
				Task:       task,
				State:      transfer.StateFailed,
				Err:        fmt.Errorf("transfer panicked: %v", r),
				StartedAt:  startedAt,
				FinishedAt: s.now(),
			}
		}
	}()

	outcome = s.runner.Run(ctx, task)
	if outcome == nil {
		outcome = &transfer.Outcome{
			Task:       task,
			State:      transfer.StateFailed,
			Err:        errors.New("runner returned no outcome"),
			StartedAt:  startedAt,
			FinishedAt: s.now(),
		}
	}

	return outcome
}

// complete frees the identity and the slot regardless of outcome, then
// refills free slots from the queue.
func (s *Scheduler) complete(sourceID string) {
	s.mu.Lock()
	delete(s.running, sourceID)
	started := s.dispatchLocked()
	s.mu.Unlock()

	s.start(started)
}
