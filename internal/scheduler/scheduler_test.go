package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/law-makers/panelwatch/internal/queue"
	"github.com/law-makers/panelwatch/pkg/models"
)

type channelList struct {
	channels []models.Channel
	err      error
}

func (c channelList) ListChannels() ([]models.Channel, error) {
	return c.channels, c.err
}

type recorder struct {
	mu     sync.Mutex
	jobs   []models.ScrapeJob
	delays []time.Duration
	failOn string
}

func (r *recorder) EnqueueScrape(ctx context.Context, job models.ScrapeJob, opts ...queue.EnqueueOption) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if job.ChannelID == r.failOn {
		return "", errors.New("invalid job")
	}
	r.jobs = append(r.jobs, job)
	var q queue.Job
	for _, opt := range opts {
		opt(&q)
	}
	r.delays = append(r.delays, q.VisibleAt.Sub(time.Time{}))
	return fmt.Sprintf("job-%d", len(r.jobs)), nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

func tracked() []models.Channel {
	return []models.Channel{
		{ID: "UC1", Title: "One", URL: "https://www.youtube.com/channel/UC1"},
		{ID: "UC2", Title: "Two", Description: "second", URL: "https://www.youtube.com/channel/UC2"},
		{ID: "UC3", Title: "Three", URL: "https://www.youtube.com/channel/UC3"},
	}
}

func TestEnqueueAll(t *testing.T) {
	rec := &recorder{}
	s := New(channelList{channels: tracked()}, rec)

	ids, err := s.EnqueueAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"job-1", "job-2", "job-3"}, ids)
	assert.Equal(t, models.ScrapeJob{
		Title:       "Two",
		Description: "second",
		URL:         "https://www.youtube.com/channel/UC2",
		ChannelID:   "UC2",
	}, rec.jobs[1])
}

func TestEnqueueAll_SpreadsJobs(t *testing.T) {
	rec := &recorder{}
	s := New(channelList{channels: tracked()}, rec)

	_, err := s.EnqueueAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, 0, 0}, rec.delays)

	rec = &recorder{}
	s = New(channelList{channels: tracked()}, rec)
	s.SetSpread(30 * time.Second)
	_, err = s.EnqueueAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{0, 30 * time.Second, time.Minute}, rec.delays)
}

func TestEnqueueAll_ContinuesPastFailures(t *testing.T) {
	rec := &recorder{failOn: "UC2"}
	s := New(channelList{channels: tracked()}, rec)

	ids, err := s.EnqueueAll(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "channel UC2")
	assert.Len(t, ids, 2)
	assert.Equal(t, 2, rec.count())
}

func TestEnqueueAll_ListError(t *testing.T) {
	s := New(channelList{err: errors.New("db closed")}, &recorder{})

	_, err := s.EnqueueAll(context.Background())
	assert.ErrorContains(t, err, "db closed")
}

func TestStart_InvalidSchedule(t *testing.T) {
	s := New(channelList{}, &recorder{})
	assert.Error(t, s.Start("not a schedule"))
	assert.True(t, s.Next().IsZero())
}

func TestStartStop(t *testing.T) {
	s := New(channelList{}, &recorder{})
	require.NoError(t, s.Start("@every 1h"))
	defer s.Stop()

	assert.Error(t, s.Start("@every 1h"), "second start is rejected")
	next := s.Next()
	assert.WithinDuration(t, time.Now().Add(time.Hour), next, time.Minute)
}

func TestRunNow(t *testing.T) {
	rec := &recorder{}
	s := New(channelList{channels: tracked()}, rec)

	s.RunNow()
	assert.Eventually(t, func() bool { return rec.count() == 3 }, 2*time.Second, 10*time.Millisecond)
}
