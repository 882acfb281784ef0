package browser

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// Options configures a ChromeLauncher. The fingerprint fields (UserAgent, Locale,
// Timezone, window size) are fixed per installation so the account provider keeps
// recognising the device between runs.
type Options struct {
	Channel    string
	ExecPath   string
	ProfileDir string
	Headless   bool

	UserAgent    string
	Locale       string
	Timezone     string
	WindowWidth  int
	WindowHeight int

	// NavigationTimeout bounds Goto and Reload
	NavigationTimeout time.Duration
}

// ChromeLauncher launches Chrome through chromedp with a persistent profile
type ChromeLauncher struct {
	opts Options
}

// NewChromeLauncher creates a launcher. Missing options fall back to safe values.
func NewChromeLauncher(opts Options) *ChromeLauncher {
	if opts.Channel == "" {
		opts.Channel = "chrome"
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 60 * time.Second
	}
	if opts.WindowWidth <= 0 || opts.WindowHeight <= 0 {
		opts.WindowWidth, opts.WindowHeight = 1366, 768
	}
	return &ChromeLauncher{opts: opts}
}

// Launch starts a browser. The process lives until Close is called; ctx only
// bounds startup.
func (l *ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	execPath := l.opts.ExecPath
	if execPath == "" {
		execPath = FindChrome(l.opts.Channel)
	}

	if !l.opts.Headless && needsDisplay() {
		return nil, fmt.Errorf("headed browser requires a display server (DISPLAY not set)")
	}

	if l.opts.ProfileDir != "" {
		if err := os.MkdirAll(l.opts.ProfileDir, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create profile directory: %w", err)
		}
	}

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-infobars", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("lang", l.opts.Locale),
		chromedp.Flag("log-level", "3"),
		chromedp.WindowSize(l.opts.WindowWidth, l.opts.WindowHeight),
	}
	if execPath != "" {
		allocOpts = append([]chromedp.ExecAllocatorOption{chromedp.ExecPath(execPath)}, allocOpts...)
	}
	if l.opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(l.opts.UserAgent))
	}
	if l.opts.ProfileDir != "" {
		allocOpts = append(allocOpts, chromedp.UserDataDir(l.opts.ProfileDir))
	}
	if l.opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	b := &chromeBrowser{
		opts:        l.opts,
		allocCancel: allocCancel,
		ctx:         browserCtx,
		cancel:      browserCancel,
	}

	// The first Run starts the process and must use the browser context itself,
	// a derived deadline would tear the whole browser down when it fires.
	stop := context.AfterFunc(ctx, browserCancel)
	err := chromedp.Run(browserCtx)
	stop()
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	log.Info().
		Str("channel", l.opts.Channel).
		Str("profile", l.opts.ProfileDir).
		Bool("headless", l.opts.Headless).
		Msg("Browser launched")

	return b, nil
}

type chromeBrowser struct {
	opts        Options
	allocCancel context.CancelFunc
	ctx         context.Context
	cancel      context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// NewPage opens a new tab with the fingerprint overrides applied
func (b *chromeBrowser) NewPage(ctx context.Context) (Page, error) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return nil, fmt.Errorf("browser is closed")
	}

	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	p := &chromePage{ctx: tabCtx, cancel: tabCancel, navTimeout: b.opts.NavigationTimeout}

	setup := []chromedp.Action{
		network.Enable(),
		page.SetLifecycleEventsEnabled(true),
	}
	if b.opts.Locale != "" {
		setup = append(setup, emulation.SetLocaleOverride().WithLocale(b.opts.Locale))
	}
	if b.opts.Timezone != "" {
		setup = append(setup, emulation.SetTimezoneOverride(b.opts.Timezone))
	}
	// First Run on the tab context creates the target
	stop := context.AfterFunc(ctx, tabCancel)
	err := chromedp.Run(tabCtx, setup...)
	stop()
	if err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}
	return p, nil
}

// Close shuts the browser down. Safe to call more than once.
func (b *chromeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	if err := chromedp.Cancel(b.ctx); err != nil {
		log.Debug().Err(err).Msg("Browser cancel returned error")
	}
	b.cancel()
	b.allocCancel()
	log.Debug().Msg("Browser closed")
	return nil
}

// needsDisplay reports whether a headed launch on this OS requires an X or Wayland display
func needsDisplay() bool {
	return runtime.GOOS == "linux" && os.Getenv("DISPLAY") == "" && os.Getenv("WAYLAND_DISPLAY") == ""
}
