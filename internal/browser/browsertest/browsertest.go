// Package browsertest provides scripted in-memory implementations of the browser
// interfaces for tests.
package browsertest

import (
	"context"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/law-makers/panelwatch/internal/browser"
	"github.com/law-makers/panelwatch/pkg/models"
)

// Page is a scripted browser.Page. Zero values behave like a blank tab that
// navigates wherever it is told.
type Page struct {
	mu sync.Mutex

	// Current is the URL the tab is on
	Current string
	// Redirects maps a Goto target to the URL the tab lands on
	Redirects map[string]string
	// ReloadURL, if set, is where Reload lands
	ReloadURL string
	// Visible lists selectors that WaitForSelector finds
	Visible map[string]bool
	// SelectorDelay delays the answer for a selector
	SelectorDelay map[string]time.Duration
	// RevealOnClick makes selectors visible once the key selector is clicked
	RevealOnClick map[string][]string
	// FinalURL is reached while WaitForURL is waiting, e.g. after a manual challenge
	FinalURL string

	Jar           []models.Cookie
	HTML          string
	HTMLByURL     map[string]string
	PNG           []byte
	GotoErr       error
	CookiesErr    error
	SetCookiesErr error
	ScreenshotErr error
	ContentErr    error

	// Recorded interactions
	Calls    []string
	Filled   map[string]string
	Clicked  []string
	Injected []models.Cookie
	Closed   int
}

var _ browser.Page = (*Page)(nil)

func (p *Page) record(format string, args ...any) {
	p.Calls = append(p.Calls, fmt.Sprintf(format, args...))
}

func (p *Page) Goto(ctx context.Context, url string, until browser.WaitUntil) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("goto %s %s", url, until)
	if p.GotoErr != nil {
		return p.GotoErr
	}
	if landing, ok := p.Redirects[url]; ok {
		p.Current = landing
	} else {
		p.Current = url
	}
	return ctx.Err()
}

func (p *Page) Reload(ctx context.Context, until browser.WaitUntil) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("reload %s", until)
	if p.ReloadURL != "" {
		p.Current = p.ReloadURL
	}
	return ctx.Err()
}

func (p *Page) URL(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Current, ctx.Err()
}

func (p *Page) WaitForURL(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("waitURL %s", pattern)
	if pattern.MatchString(p.Current) {
		return nil
	}
	if p.FinalURL != "" && pattern.MatchString(p.FinalURL) {
		p.Current = p.FinalURL
		return nil
	}
	return fmt.Errorf("%w after %s waiting for URL %s", browser.ErrTimeout, timeout, pattern)
}

func (p *Page) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	p.mu.Lock()
	visible := p.Visible[selector]
	delay := p.SelectorDelay[selector]
	p.mu.Unlock()

	if delay > 0 {
		if delay > timeout {
			delay = timeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	if !visible {
		return fmt.Errorf("%w after %s waiting for %s", browser.ErrTimeout, timeout, selector)
	}
	return nil
}

func (p *Page) Fill(ctx context.Context, selector, value string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("fill %s", selector)
	if p.Filled == nil {
		p.Filled = make(map[string]string)
	}
	p.Filled[selector] = value
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("click %s", selector)
	p.Clicked = append(p.Clicked, selector)
	for _, sel := range p.RevealOnClick[selector] {
		if p.Visible == nil {
			p.Visible = make(map[string]bool)
		}
		p.Visible[sel] = true
	}
	return nil
}

func (p *Page) Cookies(ctx context.Context) ([]models.Cookie, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.CookiesErr != nil {
		return nil, p.CookiesErr
	}
	out := make([]models.Cookie, len(p.Jar))
	copy(out, p.Jar)
	return out, nil
}

func (p *Page) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.record("setCookies %d", len(cookies))
	if p.SetCookiesErr != nil {
		return p.SetCookiesErr
	}
	p.Injected = append(p.Injected, cookies...)
	return nil
}

func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	if p.PNG == nil {
		return []byte("\x89PNG\r\n\x1a\n"), nil
	}
	return p.PNG, nil
}

func (p *Page) Content(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ContentErr != nil {
		return "", p.ContentErr
	}
	if html, ok := p.HTMLByURL[p.Current]; ok {
		return html, nil
	}
	return p.HTML, nil
}

func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Closed++
	return nil
}

// Snapshot returns a copy of the recorded calls
func (p *Page) Snapshot() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	copy(out, p.Calls)
	return out
}

// Browser hands out the same scripted Page on every NewPage
type Browser struct {
	Page       *Page
	NewPageErr error

	mu     sync.Mutex
	Pages  int
	Closed int
}

func (b *Browser) NewPage(ctx context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.NewPageErr != nil {
		return nil, b.NewPageErr
	}
	b.Pages++
	return b.Page, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Closed++
	return nil
}

// Launcher returns Browser from every Launch
type Launcher struct {
	Browser *Browser
	Err     error

	mu       sync.Mutex
	Launches int
}

func (l *Launcher) Launch(ctx context.Context) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.Launches++
	if l.Err != nil {
		return nil, l.Err
	}
	return l.Browser, nil
}
