package queue

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/panelwatch/pkg/models"
)

// LoginJob is the payload of a queued login
type LoginJob struct {
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Password string `json:"password,omitempty" validate:"required_with=Email"`
}

// Producer validates payloads and enqueues them. Enqueueing returns as soon as
// the job is stored; callers learn the outcome from events or Get.
type Producer struct {
	broker   *BadgerBroker
	validate *validator.Validate
}

// NewProducer creates a Producer on broker
func NewProducer(broker *BadgerBroker) *Producer {
	return &Producer{broker: broker, validate: validator.New(validator.WithRequiredStructEnabled())}
}

// Validate checks a payload against its struct tags
func (p *Producer) Validate(v any) error {
	if err := p.validate.Struct(v); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}
	return nil
}

// EnqueueScrape queues a channel scrape
func (p *Producer) EnqueueScrape(ctx context.Context, job models.ScrapeJob, opts ...EnqueueOption) (string, error) {
	if err := p.Validate(job); err != nil {
		return "", err
	}
	id, err := p.broker.Enqueue(ctx, JobTypeScrape, job, opts...)
	if err != nil {
		return "", err
	}
	log.Info().
		Str("job_id", id).
		Str("channel_id", job.ChannelID).
		Bool("authenticated", job.RequiresAuth()).
		Msg("Scrape job queued")
	return id, nil
}

// EnqueueLogin queues a CHECK_LOGIN job. The login manager applies its own attempt
// budget, so the job itself is delivered once.
func (p *Producer) EnqueueLogin(ctx context.Context, job LoginJob) (string, error) {
	if err := p.Validate(job); err != nil {
		return "", err
	}
	id, err := p.broker.Enqueue(ctx, JobTypeCheckLogin, job, WithMaxAttempts(1))
	if err != nil {
		return "", err
	}
	log.Info().Str("job_id", id).Msg("Login job queued")
	return id, nil
}

// Get returns the job record for id
func (p *Producer) Get(ctx context.Context, id string) (*Job, error) {
	return p.broker.Get(ctx, id)
}
