// Package scrape implements the channel scrape operation run by queue workers:
// new-video discovery through the Data API, with an authenticated browser
// fallback when the API quota is spent.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/law-makers/panelwatch/internal/auth"
	"github.com/law-makers/panelwatch/internal/browser"
	"github.com/law-makers/panelwatch/internal/diagnostics"
	"github.com/law-makers/panelwatch/internal/reqctx"
	"github.com/law-makers/panelwatch/internal/storage"
	"github.com/law-makers/panelwatch/internal/utils/output"
	urlutil "github.com/law-makers/panelwatch/internal/utils/url"
	"github.com/law-makers/panelwatch/internal/youtube"
	"github.com/law-makers/panelwatch/pkg/models"
)

// VideoAPI is the video-platform metadata service
type VideoAPI interface {
	Configured() bool
	ResolveChannel(ctx context.Context, ref urlutil.ChannelRef) (*youtube.Channel, error)
	ListVideosSince(ctx context.Context, channelID string, since time.Time, max int) ([]youtube.Video, error)
	VideoDetails(ctx context.Context, ids []string) (map[string]youtube.Video, error)
}

// SessionBrowser gives access to the logged-in browser profile
type SessionBrowser interface {
	EnsureSession(ctx context.Context, creds *auth.Credentials) error
	Browse(ctx context.Context, fn func(ctx context.Context, page browser.Page) error) error
}

// Options configures a Scraper
type Options struct {
	// MaxVideos caps how many new videos one scrape stores
	MaxVideos int
	// BrowserFallback scrapes the channel page when the API cannot be used
	BrowserFallback bool
	// FetchDescriptions opens each new video's watch page during a browser scrape
	FetchDescriptions bool
	// Diagnostics records the channel page when a browser scrape cannot read it. May be nil.
	Diagnostics *diagnostics.Capturer
}

// Scraper runs channel scrapes
type Scraper struct {
	api     VideoAPI
	store   *storage.Store
	browser SessionBrowser
	opts    Options
	now     func() time.Time
}

// New creates a Scraper. browser may be nil when no fallback is wanted.
func New(api VideoAPI, store *storage.Store, sb SessionBrowser, opts Options) *Scraper {
	if opts.MaxVideos <= 0 {
		opts.MaxVideos = 25
	}
	return &Scraper{api: api, store: store, browser: sb, opts: opts, now: time.Now}
}

// Scrape discovers and stores the new videos of the job's channel
func (s *Scraper) Scrape(ctx context.Context, job models.ScrapeJob) (*models.ScrapeResult, error) {
	logger := reqctx.Logger(ctx)

	ref, err := channelRef(job)
	if err != nil {
		return nil, NewError(ErrCodeValidation, "invalid channel", err)
	}

	if job.RequiresAuth() {
		creds := &auth.Credentials{Email: job.Email, Password: job.Password}
		if s.browser == nil {
			return nil, NewError(ErrCodeBrowser, "authenticated scrape needs a browser", nil)
		}
		if err := s.browser.EnsureSession(ctx, creds); err != nil {
			return nil, wrap("login before scrape failed", err)
		}
	}

	var apiErr error
	if s.api != nil && s.api.Configured() {
		res, err := s.scrapeAPI(ctx, ref, job)
		if err == nil {
			return res, nil
		}
		apiErr = wrap("api scrape failed", err)
		if CodeOf(apiErr) != ErrCodeQuota {
			return nil, apiErr
		}
		logger.Warn().Err(err).Str("channel", ref.String()).Msg("Video API quota exhausted")
	} else {
		apiErr = NewError(ErrCodeValidation, "no video API key configured", nil)
	}

	if !s.opts.BrowserFallback || s.browser == nil {
		return nil, apiErr
	}

	logger.Info().Str("channel", ref.String()).Msg("Falling back to browser scrape")
	res, err := s.scrapeBrowser(ctx, ref, job)
	if err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			// the quota condition is the more useful signal to the operator
			logger.Warn().Msg("Browser fallback skipped, no saved session")
			return nil, apiErr
		}
		return nil, err
	}
	return res, nil
}

func channelRef(job models.ScrapeJob) (urlutil.ChannelRef, error) {
	if ref, err := urlutil.ParseChannel(job.ChannelID); err == nil {
		return ref, nil
	}
	return urlutil.ParseChannel(job.URL)
}

func (s *Scraper) scrapeAPI(ctx context.Context, ref urlutil.ChannelRef, job models.ScrapeJob) (*models.ScrapeResult, error) {
	started := s.now()

	var ch *models.Channel
	if ref.ID != "" {
		if existing, err := s.store.GetChannel(ref.ID); err == nil {
			ch = existing
		}
	}
	if ch == nil || ch.Title == "" {
		info, err := s.api.ResolveChannel(ctx, ref)
		if err != nil {
			return nil, err
		}
		if ch == nil {
			if existing, err := s.store.GetChannel(info.ID); err == nil {
				ch = existing
			} else {
				ch = &models.Channel{ID: info.ID}
			}
		}
		ch.Title = info.Title
		ch.Description = info.Description
		ch.Handle = info.Handle
	}
	applyJob(ch, ref, job)
	if err := s.store.SaveChannel(ch); err != nil {
		return nil, NewError(ErrCodeStorage, "failed to save channel", err).WithRetry()
	}

	listed, err := s.api.ListVideosSince(ctx, ch.ID, ch.LastCheckedAt, s.opts.MaxVideos)
	if err != nil {
		return nil, err
	}

	fresh, err := unseen(s.store, listed, func(v youtube.Video) string { return v.ID })
	if err != nil {
		return nil, err
	}

	res := &models.ScrapeResult{ChannelID: ch.ID, Source: models.SourceAPI}
	if len(fresh) > 0 {
		ids := make([]string, len(fresh))
		for i, v := range fresh {
			ids[i] = v.ID
		}
		details, err := s.api.VideoDetails(ctx, ids)
		if err != nil {
			return nil, err
		}

		for _, v := range fresh {
			if d, ok := details[v.ID]; ok {
				v.Duration = d.Duration
				if d.Description != "" {
					v.Description = d.Description
				}
			}
			if err := s.saveVideo(ctx, ch.ID, v, models.SourceAPI); err != nil {
				return nil, err
			}
			res.VideoIDs = append(res.VideoIDs, v.ID)
		}
	}
	res.NewVideos = len(res.VideoIDs)

	if err := s.store.MarkChecked(ch.ID, started); err != nil {
		return nil, NewError(ErrCodeStorage, "failed to update channel", err).WithRetry()
	}

	reqctx.Logger(ctx).Info().
		Str("channel_id", ch.ID).
		Int("listed", len(listed)).
		Int("new_videos", res.NewVideos).
		Msg("Channel scraped via API")
	return res, nil
}

func (s *Scraper) scrapeBrowser(ctx context.Context, ref urlutil.ChannelRef, job models.ScrapeJob) (*models.ScrapeResult, error) {
	started := s.now()
	var res *models.ScrapeResult

	err := s.browser.Browse(ctx, func(ctx context.Context, page browser.Page) error {
		if err := page.Goto(ctx, ref.VideosURL(), browser.WaitNetworkIdle); err != nil {
			return NewError(ErrCodeBrowser, "failed to open channel page", err).WithRetry()
		}
		html, err := page.Content(ctx)
		if err != nil {
			return NewError(ErrCodeBrowser, "failed to read channel page", err).WithRetry()
		}
		meta, listed, err := ParseChannelPage(ctx, html)
		if err != nil {
			if s.opts.Diagnostics != nil {
				s.opts.Diagnostics.Capture(ctx, page, err)
			}
			return NewError(ErrCodeParse, "failed to parse channel page", err)
		}

		channelID := ref.ID
		if channelID == "" {
			channelID = meta.ID
		}
		if channelID == "" {
			return NewError(ErrCodeParse, "channel id missing from page", nil)
		}

		ch, err := s.store.GetChannel(channelID)
		if err != nil {
			ch = &models.Channel{ID: channelID}
		}
		if ch.Title == "" {
			ch.Title = meta.Title
			ch.Description = meta.Description
		}
		applyJob(ch, ref, job)
		if err := s.store.SaveChannel(ch); err != nil {
			return NewError(ErrCodeStorage, "failed to save channel", err).WithRetry()
		}

		fresh, err := unseen(s.store, listed, func(v PageVideo) string { return v.ID })
		if err != nil {
			return err
		}
		if len(fresh) > s.opts.MaxVideos {
			fresh = fresh[:s.opts.MaxVideos]
		}

		res = &models.ScrapeResult{ChannelID: channelID, Source: models.SourceBrowser}
		for _, pv := range fresh {
			v := youtube.Video{
				ID:          pv.ID,
				ChannelID:   channelID,
				Title:       pv.Title,
				Description: pv.Description,
				Duration:    pv.Duration,
				PublishedAt: started,
			}
			if t, ok := parseRelative(pv.Published, started); ok {
				v.PublishedAt = t
			}
			if s.opts.FetchDescriptions {
				s.enrichFromWatchPage(ctx, page, &v)
			}
			if err := s.saveVideo(ctx, channelID, v, models.SourceBrowser); err != nil {
				return err
			}
			res.VideoIDs = append(res.VideoIDs, v.ID)
		}
		res.NewVideos = len(res.VideoIDs)

		if err := s.store.MarkChecked(channelID, started); err != nil {
			return NewError(ErrCodeStorage, "failed to update channel", err).WithRetry()
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, auth.ErrNoSession) {
			return nil, err
		}
		return nil, wrapBrowser(err)
	}

	reqctx.Logger(ctx).Info().
		Str("channel_id", res.ChannelID).
		Int("new_videos", res.NewVideos).
		Msg("Channel scraped via browser")
	return res, nil
}

func wrapBrowser(err error) error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	return NewError(ErrCodeBrowser, "browser scrape failed", err).WithRetry()
}

// enrichFromWatchPage replaces the snippet with the full description. Failures
// keep the listing data.
func (s *Scraper) enrichFromWatchPage(ctx context.Context, page browser.Page, v *youtube.Video) {
	logger := reqctx.Logger(ctx)
	if err := page.Goto(ctx, urlutil.VideoURL(v.ID), browser.WaitDOMContentLoaded); err != nil {
		logger.Warn().Err(err).Str("video_id", v.ID).Msg("Failed to open watch page")
		return
	}
	html, err := page.Content(ctx)
	if err != nil {
		logger.Warn().Err(err).Str("video_id", v.ID).Msg("Failed to read watch page")
		return
	}
	details, err := ParseWatchPage(ctx, html)
	if err != nil {
		logger.Warn().Err(err).Str("video_id", v.ID).Msg("Failed to parse watch page")
		return
	}
	if details.Description != "" {
		v.Description = details.Description
	}
	if details.Duration > 0 {
		v.Duration = details.Duration
	}
	if !details.PublishDate.IsZero() {
		v.PublishedAt = details.PublishDate
	}
}

func applyJob(ch *models.Channel, ref urlutil.ChannelRef, job models.ScrapeJob) {
	if job.Title != "" {
		ch.Title = job.Title
	}
	if job.Description != "" {
		ch.Description = job.Description
	}
	if job.URL != "" {
		ch.URL = job.URL
	} else if ch.URL == "" {
		ch.URL = ref.URL()
	}
	if ch.Handle == "" && ref.Handle != "" {
		ch.Handle = ref.Handle
	}
}

// unseen drops items whose video is already stored
func unseen[T any](store *storage.Store, items []T, id func(T) string) ([]T, error) {
	var out []T
	for _, item := range items {
		exists, err := store.VideoExists(id(item))
		if err != nil {
			return nil, NewError(ErrCodeStorage, "failed to check video", err).WithRetry()
		}
		if !exists {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *Scraper) saveVideo(ctx context.Context, channelID string, v youtube.Video, source models.ScrapeSource) error {
	url := urlutil.VideoURL(v.ID)
	if err := s.store.SaveVideo(&models.Video{
		ID:          v.ID,
		ChannelID:   channelID,
		Title:       v.Title,
		Description: v.Description,
		URL:         url,
		PublishedAt: v.PublishedAt,
		Duration:    v.Duration,
	}); err != nil {
		return NewError(ErrCodeStorage, fmt.Sprintf("failed to save video %s", v.ID), err).WithRetry()
	}

	content, err := output.DescriptionMarkdown(v.Description, url)
	if err != nil {
		reqctx.Logger(ctx).Warn().Err(err).Str("video_id", v.ID).Msg("Failed to convert description, storing plain text")
		content = v.Description
	}
	if err := s.store.SaveScript(&models.Script{VideoID: v.ID, Content: content, Source: string(source)}); err != nil {
		return NewError(ErrCodeStorage, fmt.Sprintf("failed to save script %s", v.ID), err).WithRetry()
	}
	return nil
}
