// Package scheduler periodically queues a scrape of every tracked channel.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/panelwatch/internal/queue"
	"github.com/law-makers/panelwatch/pkg/models"
)

// DefaultSchedule is used when Start is given an empty spec
const DefaultSchedule = "@every 6h"

// ChannelLister returns the tracked channels
type ChannelLister interface {
	ListChannels() ([]models.Channel, error)
}

// Enqueuer queues one scrape
type Enqueuer interface {
	EnqueueScrape(ctx context.Context, job models.ScrapeJob, opts ...queue.EnqueueOption) (string, error)
}

// Scheduler enqueues one scrape job per tracked channel on a cron schedule
type Scheduler struct {
	channels ChannelLister
	producer Enqueuer
	cron     *cron.Cron
	spread   time.Duration

	mu      sync.Mutex
	entry   cron.EntryID
	started bool
}

// New creates a Scheduler. A run that is still enqueueing when the next one is
// due is skipped.
func New(channels ChannelLister, producer Enqueuer) *Scheduler {
	logger := cronLogger{log.Logger.With().Str("component", "scheduler").Logger()}
	return &Scheduler{
		channels: channels,
		producer: producer,
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
	}
}

// SetSpread delays the n-th job of a run by n*d so the channels of one run are
// not all scraped at once
func (s *Scheduler) SetSpread(d time.Duration) {
	s.spread = d
}

// Start adds the schedule and starts the cron loop
func (s *Scheduler) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}

	id, err := s.cron.AddFunc(schedule, s.run)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	s.entry = id
	s.started = true
	s.cron.Start()

	log.Info().
		Str("schedule", schedule).
		Time("next_run", s.cron.Entry(id).Next).
		Msg("Channel scrape scheduler started")
	return nil
}

// Stop stops the cron loop and waits for a running enqueue to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	<-s.cron.Stop().Done()
	s.started = false
	log.Info().Msg("Channel scrape scheduler stopped")
}

// Next returns the next scheduled run, or the zero time when not started
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return time.Time{}
	}
	return s.cron.Entry(s.entry).Next
}

// RunNow triggers an immediate enqueue in the background
func (s *Scheduler) RunNow() {
	log.Info().Msg("Triggering immediate channel scrape")
	go s.run()
}

func (s *Scheduler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	ids, err := s.EnqueueAll(ctx)
	if err != nil {
		log.Error().Err(err).Int("queued", len(ids)).Msg("Scheduled scrape incomplete")
		return
	}
	log.Info().Int("queued", len(ids)).Msg("Scheduled scrape queued")
}

// EnqueueAll queues a scrape for every tracked channel. A channel that cannot be
// queued does not stop the others; the returned error joins every failure.
func (s *Scheduler) EnqueueAll(ctx context.Context) ([]string, error) {
	channels, err := s.channels.ListChannels()
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}

	var (
		ids  []string
		errs []error
	)
	for i, ch := range channels {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		id, err := s.producer.EnqueueScrape(ctx, models.ScrapeJob{
			Title:       ch.Title,
			Description: ch.Description,
			URL:         ch.URL,
			ChannelID:   ch.ID,
		}, queue.WithDelay(time.Duration(i)*s.spread))
		if err != nil {
			log.Warn().Err(err).Str("channel_id", ch.ID).Msg("Failed to queue channel scrape")
			errs = append(errs, fmt.Errorf("channel %s: %w", ch.ID, err))
			continue
		}
		ids = append(ids, id)
	}
	return ids, errors.Join(errs...)
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
