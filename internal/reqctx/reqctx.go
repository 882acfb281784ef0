// Package reqctx carries per-request and per-job metadata, and a logger tagged
// with it, through context.Context.
package reqctx

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type key int

const (
	requestKey key = iota
	jobKey
)

// RequestContext identifies one RPC request
type RequestContext struct {
	RequestID string
	StartTime time.Time
}

// WithRequestContext assigns a request id and attaches a logger carrying it
func WithRequestContext(ctx context.Context) context.Context {
	rc := &RequestContext{
		RequestID: generateID(),
		StartTime: time.Now(),
	}
	ctx = context.WithValue(ctx, requestKey, rc)
	logger := log.With().Str("request_id", rc.RequestID).Logger()
	return logger.WithContext(ctx)
}

// GetRequestContext returns the request metadata, or a placeholder
func GetRequestContext(ctx context.Context) *RequestContext {
	if rc, ok := ctx.Value(requestKey).(*RequestContext); ok {
		return rc
	}
	return &RequestContext{
		RequestID: "unknown",
		StartTime: time.Now(),
	}
}

// JobContext identifies the queue job being processed
type JobContext struct {
	JobID     string
	JobType   string
	Attempt   int
	WorkerID  int
	StartTime time.Time
}

// WithJob attaches job metadata and a logger tagged with job_id and attempt
func WithJob(ctx context.Context, jc JobContext) context.Context {
	if jc.StartTime.IsZero() {
		jc.StartTime = time.Now()
	}
	ctx = context.WithValue(ctx, jobKey, &jc)
	logger := log.With().
		Str("job_id", jc.JobID).
		Str("job_type", jc.JobType).
		Int("attempt", jc.Attempt).
		Int("worker_id", jc.WorkerID).
		Logger()
	return logger.WithContext(ctx)
}

// GetJob returns the job metadata, or nil outside a job
func GetJob(ctx context.Context) *JobContext {
	if jc, ok := ctx.Value(jobKey).(*JobContext); ok {
		return jc
	}
	return nil
}

// Logger returns the context logger, falling back to the global logger
func Logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &log.Logger
}

func generateID() string {
	b := make([]byte, 8)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// RequestError wraps an error with the id of the request or job that produced it
type RequestError struct {
	RequestID string
	Err       error
}

// Error implements the error interface
func (e *RequestError) Error() string {
	return fmt.Sprintf("[%s] %v", e.RequestID, e.Err)
}

// Unwrap returns the underlying error
func (e *RequestError) Unwrap() error {
	return e.Err
}

// NewRequestError tags err with the job id when running inside a job, else the request id
func NewRequestError(ctx context.Context, err error) error {
	if jc := GetJob(ctx); jc != nil {
		return &RequestError{RequestID: jc.JobID, Err: err}
	}
	return &RequestError{
		RequestID: GetRequestContext(ctx).RequestID,
		Err:       err,
	}
}
