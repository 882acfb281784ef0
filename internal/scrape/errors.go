package scrape

import (
	"context"
	"errors"
	"fmt"

	"github.com/law-makers/panelwatch/internal/auth"
	"github.com/law-makers/panelwatch/internal/storage"
	"github.com/law-makers/panelwatch/internal/ui"
	"github.com/law-makers/panelwatch/internal/youtube"
)

// ErrorCode classifies a scrape failure
type ErrorCode string

const (
	ErrCodeValidation ErrorCode = "VALIDATION"
	ErrCodeQuota      ErrorCode = "QUOTA"
	ErrCodeRateLimit  ErrorCode = "RATE_LIMIT"
	ErrCodeNoSession  ErrorCode = "NO_SESSION"
	ErrCodeNotFound   ErrorCode = "NOT_FOUND"
	ErrCodeBrowser    ErrorCode = "BROWSER"
	ErrCodeParse      ErrorCode = "PARSE_ERROR"
	ErrCodeStorage    ErrorCode = "STORAGE"
	ErrCodeUpstream   ErrorCode = "UPSTREAM"
)

// Error wraps a scrape failure with its code
type Error struct {
	Code       ErrorCode
	Message    string
	Underlying error
	Retry      bool
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Underlying)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Underlying
}

// Is matches another *Error by code
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// NewError creates an Error
func NewError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Underlying: err}
}

// WithRetry marks the error as retryable
func (e *Error) WithRetry() *Error {
	e.Retry = true
	return e
}

// wrap classifies err from a lower layer
func wrap(message string, err error) *Error {
	var se *Error
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, youtube.ErrQuotaExceeded):
		return NewError(ErrCodeQuota, message, err)
	case errors.Is(err, youtube.ErrRateLimited):
		return NewError(ErrCodeRateLimit, message, err).WithRetry()
	case errors.Is(err, youtube.ErrChannelNotFound), errors.Is(err, storage.ErrNotFound):
		return NewError(ErrCodeNotFound, message, err)
	case errors.Is(err, auth.ErrNoSession):
		return NewError(ErrCodeNoSession, message, err)
	case errors.Is(err, context.Canceled):
		return NewError(ErrCodeUpstream, message, err)
	}
	return NewError(ErrCodeUpstream, message, err).WithRetry()
}

// CodeOf returns the code of err, or ErrCodeUpstream when it is not a scrape error
func CodeOf(err error) ErrorCode {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return wrap("", err).Code
}

// Retryable reports whether another attempt could succeed
func Retryable(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Retry
	}
	return true
}

// UserMessage returns the operator-facing status for a failed scrape
func UserMessage(err error) string {
	switch CodeOf(err) {
	case ErrCodeQuota:
		return ui.MsgScrapeQuota
	case ErrCodeRateLimit:
		return ui.MsgScrapeRateLimit
	case ErrCodeNoSession:
		return ui.MsgScrapeNoSession
	case ErrCodeValidation:
		return ui.MsgInvalidScrapeJob
	}
	return ui.MsgScrapeFailed
}

// Summary counts failures per code and renders the user-visible line shown after
// a batch of scrapes
type Summary struct {
	Succeeded int
	Failed    int
	ByCode    map[ErrorCode]int
}

// Add records one outcome
func (s *Summary) Add(err error) {
	if err == nil {
		s.Succeeded++
		return
	}
	if s.ByCode == nil {
		s.ByCode = make(map[ErrorCode]int)
	}
	s.Failed++
	s.ByCode[CodeOf(err)]++
}

// Message returns the bilingual status line for the batch
func (s Summary) Message() string {
	if s.Failed == 0 {
		return ui.MsgScrapeSucceeded
	}
	msg := ui.MsgScrapeFailed
	switch {
	case s.ByCode[ErrCodeQuota] > 0:
		msg = ui.MsgScrapeQuota
	case s.ByCode[ErrCodeRateLimit] > 0:
		msg = ui.MsgScrapeRateLimit
	case s.ByCode[ErrCodeNoSession] > 0:
		msg = ui.MsgScrapeNoSession
	}
	return fmt.Sprintf("%d/%d failed: %s", s.Failed, s.Failed+s.Succeeded, msg)
}
