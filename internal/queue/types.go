// Package queue is a persistent at-least-once job queue on BadgerDB together with
// the producer and worker sides used by the scrape and login workflows.
package queue

import (
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrNoJob is returned by Receive when nothing is ready
	ErrNoJob = errors.New("no job available")
	// ErrJobNotFound is returned for an unknown job id
	ErrJobNotFound = errors.New("job not found")
	// ErrInvalidJob wraps payload validation failures
	ErrInvalidJob = errors.New("invalid job")
)

// JobType routes a job to its handler
type JobType string

const (
	JobTypeScrape     JobType = "scrape-channel"
	JobTypeCheckLogin JobType = "check-login"
)

// Status of a job
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the job will not run again
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Job is the stored record. Payload never changes after Enqueue; the remaining
// fields track delivery.
type Job struct {
	ID          string          `json:"id"`
	Type        JobType         `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      Status          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"maxAttempts"`
	LastError   string          `json:"lastError,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	VisibleAt   time.Time       `json:"visibleAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
	FinishedAt  *time.Time      `json:"finishedAt,omitempty"`
}

// Decode unmarshals the payload into v
func (j *Job) Decode(v any) error {
	return json.Unmarshal(j.Payload, v)
}

// Stats counts jobs per status
type Stats struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Total is the number of stored jobs
func (s Stats) Total() int {
	return s.Pending + s.Active + s.Completed + s.Failed
}
