package browser

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/law-makers/panelwatch/pkg/models"
)

const urlPollInterval = 250 * time.Millisecond

type chromePage struct {
	ctx        context.Context
	cancel     context.CancelFunc
	navTimeout time.Duration

	closeOnce sync.Once
}

// run executes actions on the tab. The caller's ctx cancels the run without
// closing the tab; a positive timeout becomes ErrTimeout when it elapses.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(p.ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(p.ctx)
	}
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s: %v", ErrTimeout, timeout, err)
	}
	return err
}

func (p *chromePage) Goto(ctx context.Context, url string, until WaitUntil) error {
	if err := p.navigate(ctx, chromedp.Navigate(url), until); err != nil {
		return fmt.Errorf("navigate to %s: %w", url, err)
	}
	return nil
}

func (p *chromePage) Reload(ctx context.Context, until WaitUntil) error {
	if err := p.navigate(ctx, chromedp.Reload(), until); err != nil {
		return fmt.Errorf("reload: %w", err)
	}
	return nil
}

// navigate runs a navigation action. chromedp already waits for the document to
// load; networkIdle additionally waits for the lifecycle event of the new loader.
func (p *chromePage) navigate(ctx context.Context, action chromedp.Action, until WaitUntil) error {
	if until != WaitNetworkIdle {
		return p.run(ctx, p.navTimeout, action)
	}

	idle := make(chan struct{}, 1)
	var (
		mu       sync.Mutex
		loaderID cdp.LoaderID
	)
	listenCtx, stopListening := context.WithCancel(p.ctx)
	defer stopListening()
	chromedp.ListenTarget(listenCtx, func(ev interface{}) {
		e, ok := ev.(*page.EventLifecycleEvent)
		if !ok {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		switch e.Name {
		case "init":
			// first init after the navigation starts belongs to the main frame
			if loaderID == "" {
				loaderID = e.LoaderID
			}
		case "networkIdle":
			if loaderID != "" && e.LoaderID == loaderID {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		}
	})

	start := time.Now()
	if err := p.run(ctx, p.navTimeout, action); err != nil {
		return err
	}

	remaining := p.navTimeout - time.Since(start)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-idle:
		return nil
	case <-timer.C:
		return fmt.Errorf("%w waiting for network idle", ErrTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *chromePage) URL(ctx context.Context) (string, error) {
	var loc string
	if err := p.run(ctx, 0, chromedp.Location(&loc)); err != nil {
		return "", err
	}
	return loc, nil
}

func (p *chromePage) WaitForURL(ctx context.Context, pattern *regexp.Regexp, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(urlPollInterval)
	defer ticker.Stop()

	for {
		loc, err := p.URL(ctx)
		if err == nil && pattern.MatchString(loc) {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w after %s waiting for URL %s (last %q)", ErrTimeout, timeout, pattern, loc)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *chromePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	return p.run(ctx, timeout, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	return p.run(ctx, p.navTimeout,
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, p.navTimeout, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) Cookies(ctx context.Context) ([]models.Cookie, error) {
	var cookies []*network.Cookie
	err := p.run(ctx, p.navTimeout, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to read cookies: %w", err)
	}

	out := make([]models.Cookie, len(cookies))
	for i, c := range cookies {
		out[i] = models.Cookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Expires:  c.Expires,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
			SameSite: string(c.SameSite),
		}
	}
	return out, nil
}

func (p *chromePage) SetCookies(ctx context.Context, cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		cookie := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.Expires > 0 {
			expires := cdp.TimeSinceEpoch(time.Unix(int64(c.Expires), 0))
			cookie.Expires = &expires
		}
		switch c.SameSite {
		case "Strict":
			cookie.SameSite = network.CookieSameSiteStrict
		case "Lax":
			cookie.SameSite = network.CookieSameSiteLax
		case "None":
			cookie.SameSite = network.CookieSameSiteNone
		}
		params = append(params, cookie)
	}
	if err := p.run(ctx, p.navTimeout, network.SetCookies(params)); err != nil {
		return fmt.Errorf("failed to set cookies: %w", err)
	}
	return nil
}

func (p *chromePage) Screenshot(ctx context.Context) ([]byte, error) {
	var buf []byte
	// quality 100 yields PNG
	if err := p.run(ctx, p.navTimeout, chromedp.FullScreenshot(&buf, 100)); err != nil {
		return nil, fmt.Errorf("failed to capture screenshot: %w", err)
	}
	return buf, nil
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, p.navTimeout, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}
	return html, nil
}

// Close closes the tab. Safe to call more than once.
func (p *chromePage) Close() error {
	p.closeOnce.Do(func() {
		_ = chromedp.Cancel(p.ctx)
		p.cancel()
	})
	return nil
}
