package transfer

import (
	"time"
)

// State is the lifecycle state of a transfer attempt. It lives only in memory.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Task is one admitted relay of a source object into the store.
type Task struct {
	// AttemptID is unique per admission; a retried identity gets a new one.
	AttemptID       string
	SourceID        string
	TargetKey       string
	ContentTypeHint string
	SizeHint        int64
	AdmittedAt      time.Time
}

// Outcome is the terminal report of one engine execution.
type Outcome struct {
	Task       *Task
	State      State
	Bytes      int64
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration returns how long the execution ran.
func (o *Outcome) Duration() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// Succeeded reports whether the attempt stored the object.
func (o *Outcome) Succeeded() bool {
	return o.State == StateSucceeded
}

// ObjectRecord is what the store reports about a stored object.
type ObjectRecord struct {
	Key         string
	Size        int64
	ContentType string
}

// RangeSpec is an inclusive byte span of a stored object.
type RangeSpec struct {
	Start int64
	End   int64
}

// Length returns the number of bytes covered by the span.
func (r RangeSpec) Length() int64 {
	return r.End - r.Start + 1
}

// Valid reports whether the span lies inside an object of the given size.
func (r RangeSpec) Valid(size int64) bool {
	return r.Start >= 0 && r.Start <= r.End && r.End <= size-1
}
