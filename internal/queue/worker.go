package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/law-makers/panelwatch/internal/ratelimit"
	"github.com/law-makers/panelwatch/internal/reqctx"
)

// Handler processes one job. The returned value is stored as the job result.
type Handler func(ctx context.Context, job *Job) (any, error)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the job fails without further attempts
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// WorkerOptions configures a WorkerPool
type WorkerOptions struct {
	Concurrency  int
	PollInterval time.Duration
	// CourtesyDelay spaces out job starts of the same type across all workers
	CourtesyDelay time.Duration
}

// WorkerPool pulls jobs from the broker with a fixed number of slots. Every job
// runs inside its own recover boundary so one failure never stops a slot.
type WorkerPool struct {
	broker   *BadgerBroker
	events   *EventBus
	opts     WorkerOptions
	courtesy ratelimit.RateLimiter

	mu       sync.RWMutex
	handlers map[JobType]Handler

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorkerPool creates a pool. events may be nil.
func NewWorkerPool(broker *BadgerBroker, events *EventBus, opts WorkerOptions) *WorkerPool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 2
	}
	if opts.Concurrency > 50 {
		opts.Concurrency = 50
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if events == nil {
		events = NewEventBus()
	}
	return &WorkerPool{
		broker:   broker,
		events:   events,
		opts:     opts,
		courtesy: ratelimit.NewIntervalLimiter(opts.CourtesyDelay),
		handlers: make(map[JobType]Handler),
	}
}

// Events returns the bus the pool publishes to
func (wp *WorkerPool) Events() *EventBus {
	return wp.events
}

// RegisterHandler routes jobs of typ to h
func (wp *WorkerPool) RegisterHandler(typ JobType, h Handler) {
	wp.mu.Lock()
	wp.handlers[typ] = h
	wp.mu.Unlock()
	log.Debug().Str("job_type", string(typ)).Msg("Job handler registered")
}

func (wp *WorkerPool) handler(typ JobType) (Handler, bool) {
	wp.mu.RLock()
	defer wp.mu.RUnlock()
	h, ok := wp.handlers[typ]
	return h, ok
}

// Start launches the worker slots. They run until ctx is cancelled or Stop is called.
func (wp *WorkerPool) Start(ctx context.Context) {
	ctx, wp.cancel = context.WithCancel(ctx)

	log.Info().
		Int("concurrency", wp.opts.Concurrency).
		Dur("poll_interval", wp.opts.PollInterval).
		Msg("Starting worker pool")

	for i := 0; i < wp.opts.Concurrency; i++ {
		wp.wg.Add(1)
		go wp.worker(ctx, i+1)
	}
}

// Stop cancels the slots and waits for in-flight jobs to return
func (wp *WorkerPool) Stop() {
	if wp.cancel != nil {
		wp.cancel()
	}
	wp.wg.Wait()
	log.Info().Msg("Worker pool stopped")
}

// Wait blocks until every slot has exited
func (wp *WorkerPool) Wait() {
	wp.wg.Wait()
}

func (wp *WorkerPool) worker(ctx context.Context, id int) {
	defer wp.wg.Done()

	// Stagger starts so slots do not all poll at the same instant
	stagger := (wp.opts.PollInterval / time.Duration(wp.opts.Concurrency)) * time.Duration(id-1)
	if stagger > 0 {
		select {
		case <-time.After(stagger):
		case <-ctx.Done():
			return
		}
	}

	log.Debug().Int("worker_id", id).Dur("stagger_delay", stagger).Msg("Worker started")

	ticker := time.NewTicker(wp.opts.PollInterval)
	defer ticker.Stop()

	for {
		// Drain everything that is ready before sleeping
		for {
			processed, err := wp.ProcessNext(ctx, id)
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Int("worker_id", id).Msg("Error processing job")
			}
			if !processed || ctx.Err() != nil {
				break
			}
		}

		select {
		case <-ctx.Done():
			log.Debug().Int("worker_id", id).Msg("Worker stopped")
			return
		case <-ticker.C:
		}
	}
}

// ProcessNext claims and runs one job. processed is false when nothing was ready.
func (wp *WorkerPool) ProcessNext(ctx context.Context, workerID int) (processed bool, err error) {
	job, expired, err := wp.broker.Poll(ctx)
	for _, j := range expired {
		wp.publish(j, EventFailed, errors.New(j.LastError), nil, 0)
	}
	if errors.Is(err, ErrNoJob) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to receive job: %w", err)
	}

	jobCtx := reqctx.WithJob(ctx, reqctx.JobContext{
		JobID:    job.ID,
		JobType:  string(job.Type),
		Attempt:  job.Attempts,
		WorkerID: workerID,
	})
	logger := reqctx.Logger(jobCtx)
	// Broker bookkeeping must land even while shutting down
	bookCtx := context.WithoutCancel(ctx)

	h, ok := wp.handler(job.Type)
	if !ok {
		cause := fmt.Errorf("no handler for job type %q", job.Type)
		logger.Error().Msg("No handler registered for job type")
		if err := wp.broker.Abandon(bookCtx, job.ID, cause); err != nil {
			return true, err
		}
		wp.publish(job, EventFailed, cause, nil, 0)
		return true, nil
	}

	wp.publish(job, EventActive, nil, nil, 0)

	if err := wp.courtesy.Wait(ctx, string(job.Type)); err != nil {
		// Shutting down before the job started; hand it back
		retrying, ferr := wp.broker.Fail(bookCtx, job.ID, err)
		if ferr != nil {
			return true, ferr
		}
		wp.publish(job, EventFailed, err, nil, 0)
		if retrying {
			wp.publish(job, EventRetrying, err, nil, 0)
		}
		return true, nil
	}

	logger.Debug().Msg("Processing job")
	start := time.Now()
	result, herr := wp.run(jobCtx, h, job)
	duration := time.Since(start)

	if herr == nil {
		if err := wp.broker.Complete(bookCtx, job.ID, result); err != nil {
			return true, err
		}
		raw, _ := json.Marshal(result)
		logger.Info().Dur("duration", duration).Msg("Job completed")
		wp.publish(job, EventCompleted, nil, raw, duration)
		return true, nil
	}

	logger.Error().Err(herr).Dur("duration", duration).Msg("Job failed")

	var retrying bool
	if IsPermanent(herr) {
		err = wp.broker.Abandon(bookCtx, job.ID, herr)
	} else {
		retrying, err = wp.broker.Fail(bookCtx, job.ID, herr)
	}
	if err != nil {
		return true, err
	}
	wp.publish(job, EventFailed, herr, nil, duration)
	if retrying {
		wp.publish(job, EventRetrying, herr, nil, duration)
	}
	return true, nil
}

// run calls h, converting a panic into an error
func (wp *WorkerPool) run(ctx context.Context, h Handler, job *Job) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			reqctx.Logger(ctx).Error().
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Job handler panicked")
			result, err = nil, fmt.Errorf("job handler panic: %v", r)
		}
	}()
	return h(ctx, job)
}

func (wp *WorkerPool) publish(job *Job, typ EventType, cause error, result json.RawMessage, d time.Duration) {
	ev := Event{
		Type:     typ,
		JobID:    job.ID,
		JobType:  job.Type,
		Attempt:  job.Attempts,
		Result:   result,
		Duration: d,
	}
	if cause != nil {
		ev.Error = cause.Error()
	}
	wp.events.Publish(ev)
}
