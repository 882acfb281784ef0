package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// claimRetries bounds how often Receive retries after a transaction conflict with
// another worker claiming the same job
const claimRetries = 3

// BrokerOptions configures a BadgerBroker
type BrokerOptions struct {
	// Name namespaces keys so several queues can share one DB
	Name string
	// VisibilityTimeout hides a claimed job from other workers; an active job whose
	// timeout passes is delivered again
	VisibilityTimeout time.Duration
	// MaxAttempts is the default delivery budget per job
	MaxAttempts int
	// Backoff is the delay before the first retry; it doubles per attempt
	Backoff time.Duration
	// MaxBackoff caps the retry delay
	MaxBackoff time.Duration
}

// BadgerBroker is a persistent queue stored in BadgerDB.
//
// Keys:
//
//	queue:{name}:job:{id}              -> Job JSON
//	queue:{name}:index:{unixnano}:{id} -> empty, present while the job can be delivered
type BadgerBroker struct {
	db   *badger.DB
	opts BrokerOptions
	now  func() time.Time
}

// NewBadgerBroker creates a broker on an open DB. The DB is owned by the caller.
func NewBadgerBroker(db *badger.DB, opts BrokerOptions) (*BadgerBroker, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if opts.Name == "" {
		opts.Name = "jobs"
	}
	if opts.VisibilityTimeout <= 0 {
		opts.VisibilityTimeout = 10 * time.Minute
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 30 * time.Second
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Minute
	}
	return &BadgerBroker{db: db, opts: opts, now: time.Now}, nil
}

// EnqueueOption customizes a single job
type EnqueueOption func(*Job)

// WithMaxAttempts overrides the broker's delivery budget for one job
func WithMaxAttempts(n int) EnqueueOption {
	return func(j *Job) {
		if n > 0 {
			j.MaxAttempts = n
		}
	}
}

// WithDelay makes the job visible only after d
func WithDelay(d time.Duration) EnqueueOption {
	return func(j *Job) {
		if d > 0 {
			j.VisibleAt = j.VisibleAt.Add(d)
		}
	}
}

// Enqueue stores a new pending job and returns its id
func (b *BadgerBroker) Enqueue(ctx context.Context, typ JobType, payload any, opts ...EnqueueOption) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal job payload: %w", err)
	}

	now := b.now()
	job := Job{
		ID:          uuid.New().String(),
		Type:        typ,
		Payload:     raw,
		Status:      StatusPending,
		MaxAttempts: b.opts.MaxAttempts,
		EnqueuedAt:  now,
		VisibleAt:   now,
		UpdatedAt:   now,
	}
	for _, opt := range opts {
		opt(&job)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if err := b.putJob(txn, &job); err != nil {
			return err
		}
		return txn.Set(b.indexKey(job.VisibleAt, job.ID), []byte{})
	})
	if err != nil {
		return "", fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Debug().Str("job_id", job.ID).Str("type", string(typ)).Msg("Job enqueued")
	return job.ID, nil
}

// Receive claims the next ready job: attempts is incremented, the status becomes
// active and the job is hidden for the visibility timeout. Returns ErrNoJob when
// nothing is ready.
func (b *BadgerBroker) Receive(ctx context.Context) (*Job, error) {
	job, _, err := b.Poll(ctx)
	return job, err
}

// Poll is Receive that also returns the jobs it failed on the way because they
// outlived their visibility timeout on their last attempt. expired can be
// non-empty when err is ErrNoJob.
func (b *BadgerBroker) Poll(ctx context.Context) (job *Job, expired []*Job, err error) {
	for i := 0; ; i++ {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		job, expired, err = b.claim()
		if errors.Is(err, badger.ErrConflict) && i < claimRetries {
			continue
		}
		if errors.Is(err, badger.ErrConflict) {
			return nil, nil, ErrNoJob
		}
		return job, expired, err
	}
}

func (b *BadgerBroker) claim() (*Job, []*Job, error) {
	var (
		claimed *Job
		failed  []*Job
	)

	err := b.db.Update(func(txn *badger.Txn) error {
		now := b.now()
		var (
			expired     []*Job
			expiredKeys [][]byte
		)

		scan := func() error {
			opts := badger.DefaultIteratorOptions
			opts.PrefetchValues = false
			prefix := b.indexPrefix()
			it := txn.NewIterator(opts)
			defer it.Close()

			for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
				key := it.Item().KeyCopy(nil)
				ts, id, err := b.parseIndexKey(key)
				if err != nil {
					continue
				}
				// index is sorted by time; nothing later is ready
				if ts.After(now) {
					return nil
				}

				job, err := b.getJob(txn, id)
				if errors.Is(err, ErrJobNotFound) {
					// dangling index entry
					expiredKeys = append(expiredKeys, key)
					continue
				}
				if err != nil {
					return err
				}

				// An active job reappearing here outlived its visibility timeout
				if job.Status == StatusActive && job.Attempts >= job.MaxAttempts {
					job.LastError = "visibility timeout exceeded"
					expired = append(expired, job)
					expiredKeys = append(expiredKeys, key)
					continue
				}

				job.Attempts++
				job.Status = StatusActive
				job.VisibleAt = now.Add(b.opts.VisibilityTimeout)
				job.UpdatedAt = now
				claimed = job
				expiredKeys = append(expiredKeys, key)
				return nil
			}
			return nil
		}
		if err := scan(); err != nil {
			return err
		}

		for _, key := range expiredKeys {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		for _, job := range expired {
			b.finish(job, StatusFailed, now)
			if err := b.putJob(txn, job); err != nil {
				return err
			}
			log.Warn().Str("job_id", job.ID).Int("attempts", job.Attempts).Msg("Job abandoned after visibility timeout")
		}
		failed = expired

		if claimed == nil {
			return nil
		}
		if err := b.putJob(txn, claimed); err != nil {
			return err
		}
		return txn.Set(b.indexKey(claimed.VisibleAt, claimed.ID), []byte{})
	})
	if err != nil {
		return nil, nil, err
	}
	if claimed == nil {
		return nil, failed, ErrNoJob
	}
	return claimed, failed, nil
}

// Complete marks a job completed and stores its result
func (b *BadgerBroker) Complete(ctx context.Context, id string, result any) error {
	var raw json.RawMessage
	if result != nil {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal job result: %w", err)
		}
		raw = data
	}

	return b.db.Update(func(txn *badger.Txn) error {
		job, err := b.getJob(txn, id)
		if err != nil {
			return err
		}
		if err := b.dropIndex(txn, job); err != nil {
			return err
		}
		job.Result = raw
		job.LastError = ""
		b.finish(job, StatusCompleted, b.now())
		return b.putJob(txn, job)
	})
}

// Fail records cause. The job is rescheduled with exponential backoff while
// attempts remain, otherwise it becomes terminally failed. retrying reports which.
func (b *BadgerBroker) Fail(ctx context.Context, id string, cause error) (retrying bool, err error) {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		job, err := b.getJob(txn, id)
		if err != nil {
			return err
		}
		if err := b.dropIndex(txn, job); err != nil {
			return err
		}

		now := b.now()
		job.LastError = msg
		if job.Attempts < job.MaxAttempts {
			retrying = true
			job.Status = StatusPending
			job.VisibleAt = now.Add(b.backoff(job.Attempts))
			job.UpdatedAt = now
			if err := b.putJob(txn, job); err != nil {
				return err
			}
			return txn.Set(b.indexKey(job.VisibleAt, job.ID), []byte{})
		}

		retrying = false
		b.finish(job, StatusFailed, now)
		return b.putJob(txn, job)
	})
	return retrying, err
}

// Abandon marks a job terminally failed regardless of its remaining attempts.
// Used for payloads that can never succeed.
func (b *BadgerBroker) Abandon(ctx context.Context, id string, cause error) error {
	msg := "abandoned"
	if cause != nil {
		msg = cause.Error()
	}
	return b.db.Update(func(txn *badger.Txn) error {
		job, err := b.getJob(txn, id)
		if err != nil {
			return err
		}
		if err := b.dropIndex(txn, job); err != nil {
			return err
		}
		job.LastError = msg
		b.finish(job, StatusFailed, b.now())
		return b.putJob(txn, job)
	})
}

// Get returns the job record
func (b *BadgerBroker) Get(ctx context.Context, id string) (*Job, error) {
	var job *Job
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		job, err = b.getJob(txn, id)
		return err
	})
	return job, err
}

// Stats counts stored jobs per status
func (b *BadgerBroker) Stats(ctx context.Context) (Stats, error) {
	var stats Stats
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := b.jobPrefix()
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			switch job.Status {
			case StatusPending:
				stats.Pending++
			case StatusActive:
				stats.Active++
			case StatusCompleted:
				stats.Completed++
			case StatusFailed:
				stats.Failed++
			}
		}
		return nil
	})
	return stats, err
}

// Purge deletes terminal jobs that finished before cutoff and returns how many
func (b *BadgerBroker) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	var keys [][]byte
	err := b.db.View(func(txn *badger.Txn) error {
		prefix := b.jobPrefix()
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var job Job
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &job)
			}); err != nil {
				return err
			}
			if job.Status.Terminal() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
				keys = append(keys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return 0, err
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (b *BadgerBroker) backoff(attempts int) time.Duration {
	d := b.opts.Backoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= b.opts.MaxBackoff {
			return b.opts.MaxBackoff
		}
	}
	return d
}

func (b *BadgerBroker) finish(job *Job, status Status, now time.Time) {
	job.Status = status
	job.UpdatedAt = now
	job.FinishedAt = &now
}

// dropIndex removes the visibility entry of a job that is not terminal
func (b *BadgerBroker) dropIndex(txn *badger.Txn, job *Job) error {
	if job.Status.Terminal() {
		return fmt.Errorf("job %s already %s", job.ID, job.Status)
	}
	if err := txn.Delete(b.indexKey(job.VisibleAt, job.ID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}
	return nil
}

func (b *BadgerBroker) getJob(txn *badger.Txn, id string) (*Job, error) {
	item, err := txn.Get(b.jobKey(id))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
		}
		return nil, err
	}
	var job Job
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &job)
	}); err != nil {
		return nil, fmt.Errorf("failed to decode job %s: %w", id, err)
	}
	return &job, nil
}

func (b *BadgerBroker) putJob(txn *badger.Txn, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	return txn.Set(b.jobKey(job.ID), data)
}

// Helpers

func (b *BadgerBroker) jobPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:job:", b.opts.Name))
}

func (b *BadgerBroker) jobKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:job:%s", b.opts.Name, id))
}

func (b *BadgerBroker) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", b.opts.Name))
}

func (b *BadgerBroker) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so byte order matches numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", b.opts.Name, visibleAt.UnixNano(), id))
}

func (b *BadgerBroker) parseIndexKey(key []byte) (time.Time, string, error) {
	prefix := b.indexPrefix()
	if len(key) <= len(prefix)+21 {
		return time.Time{}, "", fmt.Errorf("invalid index key %q", key)
	}
	suffix := string(key[len(prefix):])

	ts, err := strconv.ParseInt(suffix[:20], 10, 64)
	if err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), suffix[21:], nil
}
