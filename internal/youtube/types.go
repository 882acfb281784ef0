// Package youtube is a small client for the YouTube Data API v3 covering channel
// lookup, new-video discovery and duration metadata.
package youtube

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	// ErrQuotaExceeded is returned when the daily API quota is spent
	ErrQuotaExceeded = errors.New("youtube API quota exceeded")
	// ErrRateLimited is returned when requests are sent too fast
	ErrRateLimited = errors.New("youtube API rate limited")
	// ErrChannelNotFound is returned when a channel lookup matches nothing
	ErrChannelNotFound = errors.New("channel not found")
)

// APIError is a non-2xx response from the API
type APIError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("youtube API %d (%s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("youtube API %d: %s", e.StatusCode, e.Message)
}

// GetStatusCode lets the retry package classify the error
func (e *APIError) GetStatusCode() int {
	return e.StatusCode
}

// Unwrap maps quota and rate-limit reasons onto the package sentinels
func (e *APIError) Unwrap() error {
	switch e.Reason {
	case "quotaExceeded", "dailyLimitExceeded":
		return ErrQuotaExceeded
	case "rateLimitExceeded", "userRateLimitExceeded":
		return ErrRateLimited
	}
	if e.StatusCode == 429 {
		return ErrRateLimited
	}
	return nil
}

// Channel is the subset of channel metadata the scraper stores
type Channel struct {
	ID          string
	Title       string
	Description string
	Handle      string
}

// Video is a discovered upload. Duration is zero until details are fetched.
type Video struct {
	ID          string
	ChannelID   string
	Title       string
	Description string
	PublishedAt time.Time
	Duration    time.Duration
}

// Wire formats

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Errors  []struct {
			Reason string `json:"reason"`
		} `json:"errors"`
	} `json:"error"`
}

type channelListResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title       string `json:"title"`
			Description string `json:"description"`
			CustomURL   string `json:"customUrl"`
		} `json:"snippet"`
	} `json:"items"`
}

type searchResponse struct {
	NextPageToken string `json:"nextPageToken"`
	Items         []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet snippet `json:"snippet"`
	} `json:"items"`
}

type videoListResponse struct {
	Items []struct {
		ID             string  `json:"id"`
		Snippet        snippet `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type snippet struct {
	ChannelID   string    `json:"channelId"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	PublishedAt time.Time `json:"publishedAt"`
}

var durationPattern = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseDuration parses the ISO 8601 durations used by contentDetails.duration,
// such as PT1H2M3S or P1DT30M
func ParseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(s)
	if m == nil || s == "P" || s == "PT" {
		return 0, fmt.Errorf("invalid ISO 8601 duration %q", s)
	}

	var d time.Duration
	units := []time.Duration{24 * time.Hour, time.Hour, time.Minute}
	for i, unit := range units {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.ParseInt(m[i+1], 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", s, err)
		}
		d += time.Duration(n) * unit
	}
	if m[4] != "" {
		secs, err := strconv.ParseFloat(m[4], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid ISO 8601 duration %q: %w", s, err)
		}
		d += time.Duration(secs * float64(time.Second))
	}
	return d, nil
}
