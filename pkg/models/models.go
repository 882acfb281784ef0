package models

import (
	"encoding/json"
	"time"
)

// Cookie is a single browser cookie as exported by the automation engine.
// Expires is seconds since the Unix epoch; zero or negative means a session cookie.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// Channel is a tracked video channel
type Channel struct {
	ID            string    `json:"id" badgerhold:"key"`
	Title         string    `json:"title"`
	Description   string    `json:"description,omitempty"`
	URL           string    `json:"url"`
	Handle        string    `json:"handle,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Video is a discovered upload belonging to a channel
type Video struct {
	ID          string        `json:"id" badgerhold:"key"`
	ChannelID   string        `json:"channel_id" badgerhold:"index"`
	Title       string        `json:"title"`
	Description string        `json:"description,omitempty"`
	URL         string        `json:"url"`
	PublishedAt time.Time     `json:"published_at"`
	Duration    time.Duration `json:"duration"`
	CreatedAt   time.Time     `json:"created_at"`
}

// Script is the textual content collected for a video, stored as Markdown
type Script struct {
	VideoID   string    `json:"video_id" badgerhold:"key"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}

// Analysis holds structured insight data produced for a video
type Analysis struct {
	VideoID   string          `json:"video_id" badgerhold:"key"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// ScrapeJob is the payload of a queued channel scrape.
// Email and Password are only set for the authenticated variant.
type ScrapeJob struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url" validate:"required,url"`
	ChannelID   string `json:"channelId" validate:"required"`
	Email       string `json:"email,omitempty" validate:"omitempty,email"`
	Password    string `json:"password,omitempty" validate:"required_with=Email"`
}

// RequiresAuth reports whether the job carries account credentials
func (j ScrapeJob) RequiresAuth() bool {
	return j.Email != ""
}

// ScrapeSource identifies where new videos were discovered
type ScrapeSource string

const (
	SourceAPI     ScrapeSource = "api"
	SourceBrowser ScrapeSource = "browser"
)

// ScrapeResult is returned by a completed scrape job
type ScrapeResult struct {
	ChannelID string       `json:"channel_id"`
	NewVideos int          `json:"new_videos"`
	VideoIDs  []string     `json:"video_ids,omitempty"`
	Source    ScrapeSource `json:"source"`
}

// LoginRequest is the RPC input for an interactive login. With Queue set the
// login runs as a check-login job and the response carries its id.
type LoginRequest struct {
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Password string `json:"password,omitempty"`
	Queue    bool   `json:"queue,omitempty"`
}

// LoginResponse is the RPC output for an interactive login
type LoginResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Message string `json:"message,omitempty"`
	JobID   string `json:"jobId,omitempty"`
}

// ScrapChannelRequest is the RPC input for enqueueing a channel scrape
type ScrapChannelRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	URL         string `json:"url" validate:"required,url"`
	ChannelID   string `json:"channelId" validate:"required"`
}

// ScrapChannelResponse is the RPC output for a channel scrape request
type ScrapChannelResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	JobID   string `json:"jobId,omitempty"`
}
