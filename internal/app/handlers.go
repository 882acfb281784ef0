package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/law-makers/panelwatch/internal/auth"
	"github.com/law-makers/panelwatch/internal/queue"
	"github.com/law-makers/panelwatch/internal/reqctx"
	"github.com/law-makers/panelwatch/internal/scrape"
	"github.com/law-makers/panelwatch/pkg/models"
)

// Validator checks job payloads
type Validator interface {
	Validate(v any) error
}

// ChannelScraper runs one scrape
type ChannelScraper interface {
	Scrape(ctx context.Context, job models.ScrapeJob) (*models.ScrapeResult, error)
}

// LoginRunner runs the login state machine under its attempt budget
type LoginRunner interface {
	Login(ctx context.Context, creds *auth.Credentials) auth.LoginResult
}

// CredentialSource supplies stored credentials
type CredentialSource interface {
	Get() (*auth.Credentials, error)
}

// ScrapeHandler consumes scrape jobs. Payload and classification errors that
// another delivery cannot fix are returned as permanent.
func ScrapeHandler(v Validator, s ChannelScraper) queue.Handler {
	return func(ctx context.Context, job *queue.Job) (any, error) {
		var payload models.ScrapeJob
		if err := job.Decode(&payload); err != nil {
			return nil, queue.Permanent(fmt.Errorf("invalid scrape payload: %w", err))
		}
		if err := v.Validate(payload); err != nil {
			return nil, queue.Permanent(err)
		}

		res, err := s.Scrape(ctx, payload)
		if err != nil {
			reqctx.Logger(ctx).Error().
				Err(err).
				Str("channel_id", payload.ChannelID).
				Str("code", string(scrape.CodeOf(err))).
				Msg("Scrape failed")
			if !scrape.Retryable(err) {
				return nil, queue.Permanent(err)
			}
			return nil, err
		}
		return res, nil
	}
}

// LoginHandler consumes check-login jobs. Credentials missing from the payload
// come from creds when it has any.
func LoginHandler(l LoginRunner, creds CredentialSource) queue.Handler {
	return func(ctx context.Context, job *queue.Job) (any, error) {
		var payload queue.LoginJob
		if err := job.Decode(&payload); err != nil {
			return nil, queue.Permanent(fmt.Errorf("invalid login payload: %w", err))
		}

		c := &auth.Credentials{Email: payload.Email, Password: payload.Password}
		if !c.HasEmail() && creds != nil {
			stored, err := creds.Get()
			switch {
			case err == nil:
				c = stored
			case !errors.Is(err, auth.ErrNoCredentials):
				reqctx.Logger(ctx).Warn().Err(err).Msg("Failed to read stored credentials, continuing without")
			}
		}

		res := l.Login(ctx, c)
		if !res.Success {
			return res, queue.Permanent(errors.New(res.Error))
		}
		return res, nil
	}
}
