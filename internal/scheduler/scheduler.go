// Package scheduler runs the broker's admission loop: a single FIFO queue
// of jobs, each repeatedly checked against the shared rate limiter until
// admitted or abandoned, then dispatched to the upstream LLM API.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/cortexhub/apim-broker/internal/logging"
	"github.com/cortexhub/apim-broker/internal/metrics"
	"github.com/cortexhub/apim-broker/internal/ratelimit"
)

// ErrQueueFull is returned by Submit when the in-process queue is saturated.
var ErrQueueFull = errors.New("scheduler: queue full")

// Store is the admission-control dependency the scheduler needs from
// internal/ratelimit; both RedisStore and MemStore satisfy it.
type Store interface {
	TryAdmit(ctx context.Context, now time.Time, inputTokens int) (ratelimit.Decision, error)
}

// Dispatcher sends an admitted job's payload upstream and reports the
// result; internal/dispatcher.Client satisfies this.
type Dispatcher interface {
	Dispatch(ctx context.Context, payload []byte) (statusCode int, body []byte, outputTokens int, err error)
}

// Recorder applies admission and completed-dispatch usage to the accounting
// counters; internal/accounting.Recorder satisfies this.
type Recorder interface {
	// RecordAdmission mirrors a just-admitted request's RPM window entry
	// under the companion prefix, independent of whether the dispatch that
	// follows succeeds.
	RecordAdmission(ctx context.Context, now time.Time) error
	RecordSuccess(ctx context.Context, now time.Time, inputTokens, outputTokens int) error
}

// Scheduler is the admission loop described in spec.md §4.2: IDLE, ADMIT,
// DISPATCH, RECORD, BACKOFF.
type Scheduler struct {
	store      Store
	dispatcher Dispatcher
	recorder   Recorder

	queue chan *Job
	cron  *cron.Cron

	active sync.Map // job ID -> *Job, tracked for the orphan reaper
}

// New constructs a Scheduler with the given queue depth.
func New(store Store, dispatcher Dispatcher, recorder Recorder, queueSize int) *Scheduler {
	return &Scheduler{
		store:      store,
		dispatcher: dispatcher,
		recorder:   recorder,
		queue:      make(chan *Job, queueSize),
		cron:       cron.New(cron.WithLocation(time.UTC)),
	}
}

// Submit enqueues a job for admission, failing fast if the queue is full
// rather than blocking the HTTP handler indefinitely.
func (s *Scheduler) Submit(job *Job) error {
	s.active.Store(job.ID, job)
	select {
	case s.queue <- job:
		metrics.QueueDepth.Inc()
		return nil
	default:
		s.active.Delete(job.ID)
		return ErrQueueFull
	}
}

// Run drives the admission loop until ctx is cancelled. It also starts the
// periodic orphan-slot reaper and the daily counter-rollover log, both
// scheduled via robfig/cron/v3 in place of the teacher's nightly sleep-cycle
// job.
func (s *Scheduler) Run(ctx context.Context) {
	if _, err := s.cron.AddFunc("@every 1m", s.reapOrphans); err != nil {
		logging.WithComponent("scheduler").Error("failed to schedule orphan reaper", "error", err)
	}
	if _, err := s.cron.AddFunc("0 0 * * *", s.logDailyRollover); err != nil {
		logging.WithComponent("scheduler").Error("failed to schedule daily rollover log", "error", err)
	}
	s.cron.Start()
	defer func() {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.queue:
			metrics.QueueDepth.Dec()
			s.admit(ctx, job)
		}
	}
}

// admit performs one ADMIT-phase attempt for job: drop it if its caller has
// already given up, otherwise consult the rate limiter and either dispatch
// or back off and re-enqueue at the tail (spec.md Open Question: fairness
// favors tail re-enqueue over head-of-line blocking, so one slow-to-admit
// job never starves everything behind it).
func (s *Scheduler) admit(ctx context.Context, job *Job) {
	if job.Ctx.Err() != nil {
		s.active.Delete(job.ID)
		return
	}

	decision, err := s.store.TryAdmit(ctx, time.Now(), job.InputTokens)
	if err != nil {
		s.active.Delete(job.ID)
		job.complete(Result{Err: fmt.Errorf("admission check: %w", err)})
		return
	}

	if decision.Status != ratelimit.Admit {
		metrics.DenialsTotal.WithLabelValues(string(decision.Status)).Inc()
		go s.backoffAndRequeue(job, decision.Wait)
		return
	}

	metrics.AdmissionsTotal.Inc()
	if err := s.recorder.RecordAdmission(ctx, time.Now()); err != nil {
		logging.WithComponent("scheduler").Error("failed to record admission", "job", job.ID, "error", err)
	}
	go s.dispatchAndRecord(ctx, job)
}

// backoffAndRequeue implements the BACKOFF phase: wait out the limiter's
// suggested delay, then resubmit at the tail unless the caller gave up
// first.
func (s *Scheduler) backoffAndRequeue(job *Job, wait time.Duration) {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-job.Ctx.Done():
		s.active.Delete(job.ID)
		return
	case <-timer.C:
	}

	select {
	case s.queue <- job:
		metrics.QueueDepth.Inc()
	default:
		// Queue is momentarily saturated; retry the same backoff shortly
		// rather than blocking this goroutine forever on a full channel.
		go s.backoffAndRequeue(job, wait)
	}
}

// dispatchAndRecord implements DISPATCH and RECORD: send the admitted job
// upstream, account for its token usage on success, and deliver the result.
//
// It dispatches against ctx (the scheduler's own Run-loop context), not
// job.Ctx (the inbound HTTP request's context): spec.md §4.5 requires that a
// client's JOB_TIMEOUT expiring does not cancel an in-flight upstream call,
// but job.Ctx is exactly the context net/http cancels the moment the Front
// Door handler returns, which happens as soon as job.Wait times out. Only
// scheduler shutdown should cancel a dispatch in flight; job.Ctx stays
// reserved for the pre-admission abandonment checks in admit and
// backoffAndRequeue.
func (s *Scheduler) dispatchAndRecord(ctx context.Context, job *Job) {
	defer s.active.Delete(job.ID)

	start := time.Now()
	status, body, outputTokens, err := s.dispatcher.Dispatch(ctx, job.Payload)
	metrics.DispatchDuration.Observe(time.Since(start).Seconds())

	if err == nil && status < 300 {
		if recErr := s.recorder.RecordSuccess(ctx, time.Now(), job.InputTokens, outputTokens); recErr != nil {
			logging.WithComponent("scheduler").Error("failed to record usage", "job", job.ID, "error", recErr)
		}
	}

	job.complete(Result{StatusCode: status, Body: body, OutputTokens: outputTokens, Err: err})
}

// reapOrphans sweeps the active-job table for jobs whose caller has already
// disconnected but which are still parked waiting on a future admission
// retry, dropping them and freeing the slot (spec.md §4.5: implementations
// SHOULD reap orphan slots).
func (s *Scheduler) reapOrphans() {
	reaped := 0
	s.active.Range(func(key, value interface{}) bool {
		job := value.(*Job)
		if job.Ctx.Err() != nil {
			s.active.Delete(key)
			reaped++
		}
		return true
	})
	if reaped > 0 {
		metrics.OrphanSlotsReapedTotal.Add(float64(reaped))
		logging.WithComponent("scheduler").Info("reaped orphaned jobs", "count", reaped)
	}
}

// logDailyRollover notes the UTC-midnight rollover of the RPD/TPD daily
// counters, which expire naturally via their TTL-to-midnight keys
// (spec.md §3); this is observability only, not a correctness dependency.
func (s *Scheduler) logDailyRollover() {
	logging.WithComponent("scheduler").Info("daily RPD/TPD counters rolled over")
}
