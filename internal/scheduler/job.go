package scheduler

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Result is a completed dispatch's outcome, handed back to the job's
// submitter once the upstream call (or its final retry) finishes.
type Result struct {
	StatusCode   int
	Body         []byte
	OutputTokens int
	Err          error
}

// Job is a single chat-completion request waiting for admission, per
// spec.md §4.2. A Job is submitted once and travels through the queue
// until either dispatched or its caller's context is cancelled.
type Job struct {
	ID          string
	Payload     []byte
	InputTokens int
	EnqueuedAt  time.Time

	// Ctx is the originating HTTP request's context. Its cancellation
	// (client disconnect or GetJobTimeout expiry) is how the scheduler
	// recognizes an orphaned job without a separate heartbeat, before
	// admission. It is not used once a job is dispatched: the in-flight
	// upstream call outlives the Front Door handler that created Ctx.
	Ctx context.Context

	done chan Result
}

// NewJob constructs a Job with a fresh ID and a buffered completion channel.
func NewJob(ctx context.Context, payload []byte, inputTokens int) *Job {
	return &Job{
		ID:          uuid.NewString(),
		Payload:     payload,
		InputTokens: inputTokens,
		EnqueuedAt:  time.Now(),
		Ctx:         ctx,
		done:        make(chan Result, 1),
	}
}

// Wait blocks until the job completes, the caller's context is cancelled, or
// the given job timeout elapses, whichever comes first.
func (j *Job) Wait(timeout time.Duration) (Result, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-j.done:
		return r, nil
	case <-j.Ctx.Done():
		return Result{}, j.Ctx.Err()
	case <-timer.C:
		return Result{}, context.DeadlineExceeded
	}
}

// complete delivers the final result to whoever is waiting, if anyone still
// is; a full or abandoned channel is dropped silently since done is
// buffered with capacity 1 and written at most once.
func (j *Job) complete(r Result) {
	select {
	case j.done <- r:
	default:
	}
}
