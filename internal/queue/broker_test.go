package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/law-makers/panelwatch/pkg/models"
)

type clock struct{ t time.Time }

func newClock() *clock {
	return &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func openDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newTestBroker(t *testing.T, opts BrokerOptions) (*BadgerBroker, *clock) {
	t.Helper()
	b, err := NewBadgerBroker(openDB(t), opts)
	require.NoError(t, err)
	c := newClock()
	b.now = c.now
	return b, c
}

func TestNewBadgerBrokerDefaults(t *testing.T) {
	_, err := NewBadgerBroker(nil, BrokerOptions{})
	require.Error(t, err)

	b, _ := newTestBroker(t, BrokerOptions{})
	assert.Equal(t, "jobs", b.opts.Name)
	assert.Equal(t, 10*time.Minute, b.opts.VisibilityTimeout)
	assert.Equal(t, 3, b.opts.MaxAttempts)
	assert.Equal(t, 30*time.Second, b.opts.Backoff)
	assert.Equal(t, 30*time.Minute, b.opts.MaxBackoff)
}

func TestBrokerLifecycle(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t, BrokerOptions{})

	id, err := b.Enqueue(ctx, JobTypeScrape, models.ScrapeJob{ChannelID: "UC1", URL: "https://www.youtube.com/channel/UC1"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	job, err := b.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, 0, job.Attempts)

	claimed, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, claimed.ID)
	assert.Equal(t, StatusActive, claimed.Status)
	assert.Equal(t, 1, claimed.Attempts)

	var payload models.ScrapeJob
	require.NoError(t, claimed.Decode(&payload))
	assert.Equal(t, "UC1", payload.ChannelID)

	// hidden while active
	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoJob)

	require.NoError(t, b.Complete(ctx, id, models.ScrapeResult{ChannelID: "UC1", NewVideos: 2}))

	done, err := b.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, done.Status)
	assert.NotNil(t, done.FinishedAt)
	assert.JSONEq(t, `{"channel_id":"UC1","new_videos":2,"source":""}`, string(done.Result))

	stats, err := b.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Completed: 1}, stats)

	// terminal jobs cannot be completed twice
	assert.Error(t, b.Complete(ctx, id, nil))
}

func TestBrokerFIFO(t *testing.T) {
	ctx := context.Background()
	b, c := newTestBroker(t, BrokerOptions{})

	var ids []string
	for i := 0; i < 3; i++ {
		id, err := b.Enqueue(ctx, JobTypeScrape, map[string]int{"n": i})
		require.NoError(t, err)
		ids = append(ids, id)
		c.advance(time.Millisecond)
	}

	for _, want := range ids {
		job, err := b.Receive(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, job.ID)
	}
}

func TestBrokerFailRetriesWithBackoff(t *testing.T) {
	ctx := context.Background()
	b, c := newTestBroker(t, BrokerOptions{MaxAttempts: 2, Backoff: 30 * time.Second})

	id, err := b.Enqueue(ctx, JobTypeScrape, map[string]string{})
	require.NoError(t, err)

	_, err = b.Receive(ctx)
	require.NoError(t, err)

	retrying, err := b.Fail(ctx, id, errors.New("upstream 500"))
	require.NoError(t, err)
	assert.True(t, retrying)

	job, err := b.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, job.Status)
	assert.Equal(t, "upstream 500", job.LastError)
	assert.True(t, job.VisibleAt.Equal(c.now().Add(30*time.Second)))

	// not visible until the backoff passes
	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoJob)

	c.advance(31 * time.Second)
	job, err = b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, job.Attempts)

	retrying, err = b.Fail(ctx, id, errors.New("still failing"))
	require.NoError(t, err)
	assert.False(t, retrying)

	job, err = b.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "still failing", job.LastError)

	c.advance(time.Hour)
	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
}

func TestBrokerBackoffCap(t *testing.T) {
	b, _ := newTestBroker(t, BrokerOptions{Backoff: time.Second, MaxBackoff: 5 * time.Second})

	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{10, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.backoff(tt.attempts), "attempts=%d", tt.attempts)
	}
}

func TestBrokerVisibilityTimeoutRedelivers(t *testing.T) {
	ctx := context.Background()
	b, c := newTestBroker(t, BrokerOptions{MaxAttempts: 2, VisibilityTimeout: time.Minute})

	id, err := b.Enqueue(ctx, JobTypeScrape, map[string]string{})
	require.NoError(t, err)

	_, err = b.Receive(ctx)
	require.NoError(t, err)

	// worker died without acknowledging
	c.advance(2 * time.Minute)
	job, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 2, job.Attempts)

	c.advance(2 * time.Minute)
	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoJob)

	job, err = b.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, "visibility timeout exceeded", job.LastError)
}

func TestBrokerPollReturnsExpiredJobs(t *testing.T) {
	ctx := context.Background()
	b, c := newTestBroker(t, BrokerOptions{VisibilityTimeout: time.Minute})

	id, err := b.Enqueue(ctx, JobTypeScrape, map[string]string{}, WithMaxAttempts(1))
	require.NoError(t, err)
	_, err = b.Receive(ctx)
	require.NoError(t, err)

	c.advance(2 * time.Minute)
	job, expired, err := b.Poll(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
	assert.Nil(t, job)
	require.Len(t, expired, 1)
	assert.Equal(t, id, expired[0].ID)
	assert.Equal(t, StatusFailed, expired[0].Status)
	assert.Equal(t, "visibility timeout exceeded", expired[0].LastError)

	_, expired, err = b.Poll(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
	assert.Empty(t, expired, "a failed job is reported once")
}

func TestBrokerWithDelayAndMaxAttempts(t *testing.T) {
	ctx := context.Background()
	b, c := newTestBroker(t, BrokerOptions{})

	id, err := b.Enqueue(ctx, JobTypeCheckLogin, map[string]string{}, WithDelay(time.Minute), WithMaxAttempts(1))
	require.NoError(t, err)

	_, err = b.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoJob)

	c.advance(time.Minute)
	job, err := b.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, 1, job.MaxAttempts)

	retrying, err := b.Fail(ctx, id, errors.New("boom"))
	require.NoError(t, err)
	assert.False(t, retrying)
}

func TestBrokerAbandon(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBroker(t, BrokerOptions{MaxAttempts: 5})

	id, err := b.Enqueue(ctx, JobTypeScrape, map[string]string{})
	require.NoError(t, err)
	_, err = b.Receive(ctx)
	require.NoError(t, err)

	require.NoError(t, b.Abandon(ctx, id, errors.New("bad payload")))

	job, err := b.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
}

func TestBrokerGetUnknown(t *testing.T) {
	b, _ := newTestBroker(t, BrokerOptions{})
	_, err := b.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrJobNotFound)
}

func TestBrokerPurge(t *testing.T) {
	ctx := context.Background()
	b, c := newTestBroker(t, BrokerOptions{})

	oldID, err := b.Enqueue(ctx, JobTypeScrape, map[string]string{})
	require.NoError(t, err)
	_, err = b.Receive(ctx)
	require.NoError(t, err)
	require.NoError(t, b.Complete(ctx, oldID, nil))

	c.advance(48 * time.Hour)
	pendingID, err := b.Enqueue(ctx, JobTypeScrape, map[string]string{})
	require.NoError(t, err)

	n, err := b.Purge(ctx, c.now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = b.Get(ctx, oldID)
	assert.ErrorIs(t, err, ErrJobNotFound)
	_, err = b.Get(ctx, pendingID)
	assert.NoError(t, err)
}

func TestBrokerNamespaces(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	a, err := NewBadgerBroker(db, BrokerOptions{Name: "a"})
	require.NoError(t, err)
	other, err := NewBadgerBroker(db, BrokerOptions{Name: "b"})
	require.NoError(t, err)

	_, err = a.Enqueue(ctx, JobTypeScrape, map[string]string{})
	require.NoError(t, err)

	_, err = other.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoJob)
	_, err = a.Receive(ctx)
	assert.NoError(t, err)
}

func TestBrokerEnqueueCancelled(t *testing.T) {
	b, _ := newTestBroker(t, BrokerOptions{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Enqueue(ctx, JobTypeScrape, map[string]string{})
	assert.ErrorIs(t, err, context.Canceled)
}
