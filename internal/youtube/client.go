package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"github.com/law-makers/panelwatch/internal/cache"
	"github.com/law-makers/panelwatch/internal/ratelimit"
	"github.com/law-makers/panelwatch/internal/retry"
	urlutil "github.com/law-makers/panelwatch/internal/utils/url"
)

// DefaultBaseURL is the public Data API endpoint
const DefaultBaseURL = "https://www.googleapis.com/youtube/v3"

// maxPageSize is the largest maxResults the API accepts
const maxPageSize = 50

// Options configures a Client
type Options struct {
	APIKey            string
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	// CacheTTL applies to channel and video detail lookups; search is never cached
	CacheTTL time.Duration
	// CacheMaxBytes bounds the response cache
	CacheMaxBytes int64
	Retry         retry.Config
}

// Client calls the Data API through a rate limiter, a response cache and retries
type Client struct {
	http    *resty.Client
	apiKey  string
	limiter ratelimit.RateLimiter
	cache   cache.Cache
	ttl     time.Duration
	retry   retry.Config
}

// New creates a Client
func New(opts Options) *Client {
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = time.Hour
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = retry.DefaultConfig()
	}
	// quota errors never clear up within a retry window
	opts.Retry.Retryable = func(err error) bool {
		if errors.Is(err, ErrQuotaExceeded) || errors.Is(err, context.Canceled) {
			return false
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) {
			return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 || errors.Is(err, ErrRateLimited)
		}
		return true
	}

	client := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.BaseURL, "/")).
		SetTimeout(opts.Timeout).
		SetHeader("Accept", "application/json")

	return &Client{
		http:    client,
		apiKey:  opts.APIKey,
		limiter: ratelimit.NewDomainLimiter(opts.RequestsPerSecond, opts.Burst),
		cache:   cache.NewMemoryCache(opts.CacheMaxBytes),
		ttl:     opts.CacheTTL,
		retry:   opts.Retry,
	}
}

// Close releases the response cache
func (c *Client) Close() {
	c.cache.Close()
}

// Configured reports whether an API key is set
func (c *Client) Configured() bool {
	return c.apiKey != ""
}

// ResolveChannel looks a channel up by id, handle or legacy username
func (c *Client) ResolveChannel(ctx context.Context, ref urlutil.ChannelRef) (*Channel, error) {
	params := url.Values{}
	params.Set("part", "snippet")
	switch {
	case ref.ID != "":
		params.Set("id", ref.ID)
	case ref.Handle != "":
		params.Set("forHandle", ref.Handle)
	case ref.Username != "":
		params.Set("forUsername", ref.Username)
	default:
		return nil, fmt.Errorf("empty channel reference")
	}

	var resp channelListResponse
	if err := c.get(ctx, "/channels", params, true, &resp); err != nil {
		return nil, err
	}
	if len(resp.Items) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrChannelNotFound, ref)
	}

	item := resp.Items[0]
	return &Channel{
		ID:          item.ID,
		Title:       item.Snippet.Title,
		Description: item.Snippet.Description,
		Handle:      item.Snippet.CustomURL,
	}, nil
}

// ListVideosSince returns up to max videos of a channel published after since,
// newest first. A zero since lists the most recent uploads.
func (c *Client) ListVideosSince(ctx context.Context, channelID string, since time.Time, max int) ([]Video, error) {
	if max <= 0 {
		max = maxPageSize
	}

	var videos []Video
	pageToken := ""
	for len(videos) < max {
		params := url.Values{}
		params.Set("part", "snippet")
		params.Set("channelId", channelID)
		params.Set("type", "video")
		params.Set("order", "date")
		params.Set("maxResults", strconv.Itoa(min(maxPageSize, max-len(videos))))
		if !since.IsZero() {
			params.Set("publishedAfter", since.UTC().Format(time.RFC3339))
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp searchResponse
		if err := c.get(ctx, "/search", params, false, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			if item.ID.VideoID == "" {
				continue
			}
			videos = append(videos, Video{
				ID:          item.ID.VideoID,
				ChannelID:   channelID,
				Title:       item.Snippet.Title,
				Description: item.Snippet.Description,
				PublishedAt: item.Snippet.PublishedAt,
			})
		}
		if resp.NextPageToken == "" || len(resp.Items) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(videos) > max {
		videos = videos[:max]
	}
	return videos, nil
}

// VideoDetails fetches full descriptions and durations, keyed by video id. Ids the
// API does not return are absent from the map.
func (c *Client) VideoDetails(ctx context.Context, ids []string) (map[string]Video, error) {
	details := make(map[string]Video, len(ids))
	for start := 0; start < len(ids); start += maxPageSize {
		end := min(start+maxPageSize, len(ids))

		params := url.Values{}
		params.Set("part", "snippet,contentDetails")
		params.Set("id", strings.Join(ids[start:end], ","))

		var resp videoListResponse
		if err := c.get(ctx, "/videos", params, true, &resp); err != nil {
			return nil, err
		}
		for _, item := range resp.Items {
			d, err := ParseDuration(item.ContentDetails.Duration)
			if err != nil {
				log.Debug().Str("video_id", item.ID).Str("duration", item.ContentDetails.Duration).Msg("Unparseable duration")
			}
			details[item.ID] = Video{
				ID:          item.ID,
				ChannelID:   item.Snippet.ChannelID,
				Title:       item.Snippet.Title,
				Description: item.Snippet.Description,
				PublishedAt: item.Snippet.PublishedAt,
				Duration:    d,
			}
		}
	}
	return details, nil
}

// get performs a rate-limited, retried GET and decodes the JSON body into out
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, cacheable bool, out any) error {
	key := cache.Key(endpoint, params)
	if cacheable {
		if body, ok := c.cache.Get(key); ok {
			return json.Unmarshal(body, out)
		}
	}

	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	if c.apiKey != "" {
		query.Set("key", c.apiKey)
	}

	var body []byte
	err := retry.Do(ctx, c.retry, func(ctx context.Context) error {
		if err := c.limiter.Wait(ctx, c.http.BaseURL); err != nil {
			return err
		}

		resp, err := c.http.R().
			SetContext(ctx).
			SetQueryParamsFromValues(query).
			Get(endpoint)
		if err != nil {
			return fmt.Errorf("youtube API request failed: %w", err)
		}
		if resp.IsError() {
			return decodeError(resp.StatusCode(), resp.Body())
		}
		body = resp.Body()
		return nil
	})
	if err != nil {
		log.Debug().Err(err).Str("endpoint", endpoint).Msg("YouTube API call failed")
		return err
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	if cacheable {
		c.cache.Set(key, body, c.ttl)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil && er.Error.Message != "" {
		apiErr.Message = er.Error.Message
		if len(er.Error.Errors) > 0 {
			apiErr.Reason = er.Error.Errors[0].Reason
		}
	}
	if len(apiErr.Message) > 512 {
		apiErr.Message = apiErr.Message[:512]
	}
	return apiErr
}
