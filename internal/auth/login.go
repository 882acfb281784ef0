package auth

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/law-makers/panelwatch/internal/browser"
	"github.com/law-makers/panelwatch/internal/diagnostics"
	urlutil "github.com/law-makers/panelwatch/internal/utils/url"
)

// State of a login attempt
type State string

const (
	StateCheckLogin              State = "CHECK_LOGIN"
	StateAlreadyAuthenticated    State = "ALREADY_AUTHENTICATED"
	StateAwaitingCredentialInput State = "AWAITING_CREDENTIAL_INPUT"
	StateAwaitingManualStep      State = "AWAITING_MANUAL_STEP"
	StateAuthenticated           State = "AUTHENTICATED"
	StateFailed                  State = "FAILED"
)

// Succeeded reports whether s is a successful terminal state
func (s State) Succeeded() bool {
	return s == StateAlreadyAuthenticated || s == StateAuthenticated
}

// Default selectors of the Google sign-in form
const (
	DefaultEmailSelector        = `input[type="email"]`
	DefaultPasswordSelector     = `input[type="password"]`
	DefaultEmailNextSelector    = `#identifierNext`
	DefaultPasswordNextSelector = `#passwordNext`
)

// FlowOptions configures the login state machine
type FlowOptions struct {
	AccountURL string
	SignInURL  string

	// FormWaitTimeout bounds the wait for a credential input to appear
	FormWaitTimeout time.Duration
	// ManualWaitTimeout bounds the wait for the account page after the form step,
	// long enough for a human to finish a passkey, QR or 2FA challenge
	ManualWaitTimeout time.Duration

	EmailSelector        string
	PasswordSelector     string
	EmailNextSelector    string
	PasswordNextSelector string
}

func (o *FlowOptions) setDefaults() {
	if o.AccountURL == "" {
		o.AccountURL = "https://myaccount.google.com/"
	}
	if o.SignInURL == "" {
		o.SignInURL = "https://accounts.google.com/"
	}
	if o.FormWaitTimeout <= 0 {
		o.FormWaitTimeout = 10 * time.Second
	}
	if o.ManualWaitTimeout <= 0 {
		o.ManualWaitTimeout = 120 * time.Second
	}
	if o.EmailSelector == "" {
		o.EmailSelector = DefaultEmailSelector
	}
	if o.PasswordSelector == "" {
		o.PasswordSelector = DefaultPasswordSelector
	}
	if o.EmailNextSelector == "" {
		o.EmailNextSelector = DefaultEmailNextSelector
	}
	if o.PasswordNextSelector == "" {
		o.PasswordNextSelector = DefaultPasswordNextSelector
	}
}

// Attempt is the in-memory record of one pass through the flow
type Attempt struct {
	Email   string
	URL     string
	State   State
	Started time.Time
	Elapsed time.Duration
	// Cookies is the number of cookies persisted on success
	Cookies int
	// SaveErr is set when the login succeeded but the session could not be written
	SaveErr error
	Err     error
}

// Flow runs one login attempt against a browser
type Flow struct {
	opts     FlowOptions
	sessions *Store
	diag     *diagnostics.Capturer

	accountPattern *regexp.Regexp
	signInHost     string
}

// NewFlow builds the state machine
func NewFlow(opts FlowOptions, sessions *Store, diag *diagnostics.Capturer) (*Flow, error) {
	opts.setDefaults()

	if err := urlutil.ValidateURL(opts.AccountURL); err != nil {
		return nil, fmt.Errorf("account URL %q: %w", opts.AccountURL, err)
	}
	if err := urlutil.ValidateURL(opts.SignInURL); err != nil {
		return nil, fmt.Errorf("sign-in URL %q: %w", opts.SignInURL, err)
	}
	account, _ := url.Parse(opts.AccountURL)
	signIn, _ := url.Parse(opts.SignInURL)

	return &Flow{
		opts:           opts,
		sessions:       sessions,
		diag:           diag,
		accountPattern: hostPattern(account.Host),
		signInHost:     strings.ToLower(signIn.Host),
	}, nil
}

// hostPattern matches any http(s) URL on host
func hostPattern(host string) *regexp.Regexp {
	return regexp.MustCompile(`^https?://` + regexp.QuoteMeta(strings.ToLower(host)) + `(?:[:/?#]|$)`)
}

// Run opens a page on b, drives it to the account page and persists the cookies.
// The page is closed on every path. Hard failures are captured by diagnostics
// before being returned.
func (f *Flow) Run(ctx context.Context, b browser.Browser, creds *Credentials) (*Attempt, error) {
	attempt := &Attempt{State: StateCheckLogin, Started: time.Now()}
	if creds != nil {
		attempt.Email = creds.Email
	}
	logger := log.With().Str("email", attempt.Email).Logger()

	handle, err := f.sessions.Acquire(ctx)
	if err != nil {
		return f.fail(attempt, err), err
	}
	defer handle.Release()

	page, err := b.NewPage(ctx)
	if err != nil {
		err = fmt.Errorf("failed to open page: %w", err)
		return f.fail(attempt, err), err
	}
	defer func() {
		if cerr := page.Close(); cerr != nil {
			logger.Debug().Err(cerr).Msg("Page close returned error")
		}
	}()

	if err := f.drive(ctx, page, handle, creds, attempt); err != nil {
		if u, uerr := page.URL(context.WithoutCancel(ctx)); uerr == nil {
			attempt.URL = u
		}
		f.diag.Capture(ctx, page, err)
		return f.fail(attempt, err), err
	}

	attempt.Elapsed = time.Since(attempt.Started)
	return attempt, nil
}

func (f *Flow) fail(attempt *Attempt, err error) *Attempt {
	attempt.State = StateFailed
	attempt.Err = err
	attempt.Elapsed = time.Since(attempt.Started)
	return attempt
}

func (f *Flow) transition(attempt *Attempt, next State) {
	log.Debug().Str("from", string(attempt.State)).Str("to", string(next)).Msg("Login state")
	attempt.State = next
}

func (f *Flow) drive(ctx context.Context, page browser.Page, handle *SessionHandle, creds *Credentials, attempt *Attempt) error {
	// Restore the previous session. Any problem here degrades to a fresh login.
	injected := 0
	if handle.Exists() {
		if cookies := handle.Load(); len(cookies) > 0 {
			if err := f.sessions.Apply(ctx, page, cookies); err != nil {
				log.Warn().Err(err).Msg("Failed to inject saved session, continuing without it")
			} else {
				injected = len(cookies)
				log.Debug().Int("cookie_count", injected).Msg("Saved session injected")
			}
		}
	}

	if err := page.Goto(ctx, f.opts.AccountURL, browser.WaitDOMContentLoaded); err != nil {
		return err
	}
	if injected > 0 {
		if err := page.Reload(ctx, browser.WaitDOMContentLoaded); err != nil {
			return err
		}
	}

	current, err := page.URL(ctx)
	if err != nil {
		return err
	}
	attempt.URL = current

	if f.accountPattern.MatchString(current) {
		f.transition(attempt, StateAlreadyAuthenticated)
		log.Info().Str("url", current).Msg("Already authenticated")
		f.persist(ctx, page, handle, attempt)
		return nil
	}

	f.transition(attempt, StateAwaitingCredentialInput)
	if err := f.fillForm(ctx, page, current, creds); err != nil {
		return err
	}

	f.transition(attempt, StateAwaitingManualStep)
	log.Info().
		Dur("timeout", f.opts.ManualWaitTimeout).
		Msg("Waiting for the account page, complete any verification in the browser window")
	if err := page.WaitForURL(ctx, f.accountPattern, f.opts.ManualWaitTimeout); err != nil {
		return fmt.Errorf("account page not reached: %w", err)
	}

	if u, err := page.URL(ctx); err == nil {
		attempt.URL = u
	}
	f.transition(attempt, StateAuthenticated)
	f.persist(ctx, page, handle, attempt)
	return nil
}

// fillForm handles the credential step. Missing inputs and missing credentials are
// not failures; the manual wait that follows decides the outcome.
func (f *Flow) fillForm(ctx context.Context, page browser.Page, current string, creds *Credentials) error {
	if !f.onSignInHost(current) {
		if err := page.Goto(ctx, f.opts.SignInURL, browser.WaitNetworkIdle); err != nil {
			return err
		}
	}

	found, err := f.waitForEither(ctx, page, f.opts.EmailSelector, f.opts.PasswordSelector)
	if err != nil {
		return err
	}

	switch found {
	case f.opts.EmailSelector:
		if !creds.HasEmail() {
			log.Info().Msg("Email input shown but no credentials supplied, waiting for manual input")
			return nil
		}
		if err := submit(ctx, page, f.opts.EmailSelector, creds.Email, f.opts.EmailNextSelector); err != nil {
			return fmt.Errorf("email step: %w", err)
		}
		log.Debug().Msg("Email submitted")

		if err := page.WaitForSelector(ctx, f.opts.PasswordSelector, f.opts.FormWaitTimeout); err != nil {
			if browser.IsTimeout(err) && ctx.Err() == nil {
				log.Info().Msg("Password input did not appear, assuming a non-form challenge")
				return nil
			}
			return err
		}
		return f.submitPassword(ctx, page, creds)

	case f.opts.PasswordSelector:
		return f.submitPassword(ctx, page, creds)

	default:
		log.Info().
			Dur("waited", f.opts.FormWaitTimeout).
			Msg("No credential form visible, assuming passkey, QR or device challenge")
		return nil
	}
}

func (f *Flow) submitPassword(ctx context.Context, page browser.Page, creds *Credentials) error {
	if !creds.HasPassword() {
		log.Info().Msg("Password input shown but no password supplied, waiting for manual input")
		return nil
	}
	if err := submit(ctx, page, f.opts.PasswordSelector, creds.Password, f.opts.PasswordNextSelector); err != nil {
		return fmt.Errorf("password step: %w", err)
	}
	log.Debug().Msg("Password submitted")
	return nil
}

func submit(ctx context.Context, page browser.Page, input, value, next string) error {
	if err := page.Fill(ctx, input, value); err != nil {
		return err
	}
	return page.Click(ctx, next)
}

// waitForEither races two selector waits and returns the one that became visible
// first, or "" when neither did within FormWaitTimeout.
func (f *Flow) waitForEither(ctx context.Context, page browser.Page, a, b string) (string, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type hit struct {
		selector string
		err      error
	}
	results := make(chan hit, 2)
	for _, sel := range []string{a, b} {
		go func(sel string) {
			results <- hit{sel, page.WaitForSelector(raceCtx, sel, f.opts.FormWaitTimeout)}
		}(sel)
	}

	var hardErr error
	for range 2 {
		h := <-results
		if h.err == nil {
			return h.selector, nil
		}
		if !browser.IsTimeout(h.err) && !errors.Is(h.err, context.Canceled) && hardErr == nil {
			hardErr = h.err
		}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", hardErr
}

func (f *Flow) onSignInHost(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, f.signInHost)
}

// persist saves the full cookie jar. Failures are logged; the login still counts.
func (f *Flow) persist(ctx context.Context, page browser.Page, handle *SessionHandle, attempt *Attempt) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		attempt.SaveErr = err
		log.Error().Err(err).Msg("Failed to read cookies after login")
		return
	}
	if err := handle.Save(cookies); err != nil {
		attempt.SaveErr = err
		log.Error().Err(err).Msg("Failed to persist session")
		return
	}
	attempt.Cookies = len(cookies)
	log.Info().Int("cookie_count", len(cookies)).Msg("Session saved")
}
