// Package browser drives a real Chrome instance for the login and scrape flows.
//
// Callers depend on the narrow Page and Browser interfaces; ChromeLauncher is the
// chromedp-backed implementation.
package browser

import (
	"context"
	"errors"
	"regexp"
	"time"

	"github.com/law-makers/panelwatch/pkg/models"
)

// ErrTimeout is returned (wrapped) when a bounded wait elapses
var ErrTimeout = errors.New("browser wait timed out")

// WaitUntil selects the page lifecycle event a navigation waits for
type WaitUntil string

const (
	WaitDOMContentLoaded WaitUntil = "DOMContentLoaded"
	WaitNetworkIdle      WaitUntil = "networkIdle"
)

// Page is a single browser tab
type Page interface {
	// Goto navigates and blocks until the requested lifecycle event fires
	Goto(ctx context.Context, url string, until WaitUntil) error
	// Reload reloads the current document
	Reload(ctx context.Context, until WaitUntil) error
	// URL returns the current location
	URL(ctx context.Context) (string, error)
	// WaitForURL polls the location until it matches pattern or timeout elapses
	WaitForURL(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) error
	// WaitForSelector waits until the element is visible or timeout elapses
	WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error
	Fill(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// Cookies returns every cookie visible to the browser context
	Cookies(ctx context.Context) ([]models.Cookie, error)
	SetCookies(ctx context.Context, cookies []models.Cookie) error
	// Screenshot captures the full page as PNG
	Screenshot(ctx context.Context) ([]byte, error)
	// Content returns the rendered document markup
	Content(ctx context.Context) (string, error)
	Close() error
}

// Browser owns one running browser process
type Browser interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

// Launcher starts a browser
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// IsTimeout reports whether err came from an elapsed bounded wait
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}
