package auth

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/law-makers/panelwatch/internal/browser"
	"github.com/law-makers/panelwatch/internal/browser/browsertest"
	"github.com/law-makers/panelwatch/internal/config"
	"github.com/law-makers/panelwatch/internal/diagnostics"
	"github.com/law-makers/panelwatch/pkg/models"
)

const (
	accountURL = "https://myaccount.google.com/"
	signInURL  = "https://accounts.google.com/"
	identifier = "https://accounts.google.com/v3/signin/identifier?continue=https%3A%2F%2Fmyaccount.google.com%2F"
)

type harness struct {
	store    *Store
	flow     *Flow
	debugDir string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	store := NewStore(filepath.Join(dir, "session", "cookies.json"))
	debugDir := filepath.Join(dir, "debug")
	flow, err := NewFlow(FlowOptions{
		AccountURL:        accountURL,
		SignInURL:         signInURL,
		FormWaitTimeout:   20 * time.Millisecond,
		ManualWaitTimeout: 50 * time.Millisecond,
	}, store, diagnostics.New(debugDir))
	require.NoError(t, err)
	return &harness{store: store, flow: flow, debugDir: debugDir}
}

func (h *harness) manager(page *browsertest.Page, attempts int) (*Manager, *browsertest.Browser) {
	b := &browsertest.Browser{Page: page}
	return NewManager(&browsertest.Launcher{Browser: b}, h.flow, h.store, attempts), b
}

func (h *harness) debugFiles(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.debugDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func googleCookies() []models.Cookie {
	return []models.Cookie{
		{Name: "SID", Value: "sid-value", Domain: ".google.com", Path: "/", Expires: 1893456000, HTTPOnly: true, Secure: true},
		{Name: "HSID", Value: "hsid-value", Domain: ".google.com", Path: "/", Expires: 1893456000, HTTPOnly: true},
	}
}

// freshSignInPage lands on the identifier step; the password input appears after
// the email is submitted and the account page is reached after the password.
func freshSignInPage() *browsertest.Page {
	return &browsertest.Page{
		Redirects: map[string]string{accountURL: identifier},
		Visible:   map[string]bool{DefaultEmailSelector: true},
		RevealOnClick: map[string][]string{
			DefaultEmailNextSelector: {DefaultPasswordSelector},
		},
		FinalURL: "https://myaccount.google.com/?pli=1",
		Jar:      googleCookies(),
	}
}

func TestLogin_FreshLoginWithCredentials(t *testing.T) {
	h := newHarness(t)
	page := freshSignInPage()
	mgr, b := h.manager(page, 1)

	res := mgr.Login(context.Background(), &Credentials{Email: "operator@example.com", Password: "secret"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, StateAuthenticated, res.State)
	assert.Equal(t, 2, res.Cookies)
	assert.Equal(t, "operator@example.com", page.Filled[DefaultEmailSelector])
	assert.Equal(t, "secret", page.Filled[DefaultPasswordSelector])
	assert.Equal(t, []string{DefaultEmailNextSelector, DefaultPasswordNextSelector}, page.Clicked)

	saved, err := h.store.Read()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, len(saved), 1)

	assert.Equal(t, 1, page.Closed, "page must be closed")
	assert.Equal(t, 1, b.Closed, "browser must be closed")
	assert.Empty(t, h.debugFiles(t))
}

func TestLogin_SessionReuseWithoutCredentials(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Save(googleCookies()))

	// Without cookies the account URL bounces to sign-in; after the reload the
	// injected session is honoured.
	page := &browsertest.Page{
		Redirects: map[string]string{accountURL: identifier},
		ReloadURL: accountURL,
		Jar:       googleCookies(),
	}
	mgr, _ := h.manager(page, 1)

	res := mgr.Login(context.Background(), nil)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, StateAlreadyAuthenticated, res.State)
	assert.Empty(t, page.Filled, "no form interaction expected")
	assert.Empty(t, page.Clicked, "no form interaction expected")
	assert.Len(t, page.Injected, 2)
	assert.Contains(t, page.Snapshot(), "reload DOMContentLoaded")
	assert.Equal(t, 1, page.Closed)
}

func TestLogin_SessionRoundTrip(t *testing.T) {
	h := newHarness(t)

	first := freshSignInPage()
	mgr, _ := h.manager(first, 1)
	require.True(t, mgr.Login(context.Background(), &Credentials{Email: "operator@example.com", Password: "secret"}).Success)

	// A fresh browser context only reaches the account page with the saved cookies
	second := &browsertest.Page{
		Redirects: map[string]string{accountURL: identifier},
		ReloadURL: accountURL,
		Jar:       googleCookies(),
	}
	mgr2, _ := h.manager(second, 1)
	res := mgr2.Login(context.Background(), nil)

	require.True(t, res.Success, res.Error)
	assert.Equal(t, googleCookies(), second.Injected)
	assert.Empty(t, second.Filled)
	assert.Empty(t, second.Clicked)
}

func TestLogin_IdempotentWhenAuthenticated(t *testing.T) {
	h := newHarness(t)
	page := &browsertest.Page{Jar: googleCookies()}
	mgr, _ := h.manager(page, 1)

	for i := 0; i < 2; i++ {
		res := mgr.Login(context.Background(), &Credentials{Email: "operator@example.com", Password: "secret"})
		require.True(t, res.Success, res.Error)
		assert.Equal(t, StateAlreadyAuthenticated, res.State)
	}
	assert.Empty(t, page.Filled)
	assert.Empty(t, page.Clicked)
}

func TestLogin_CorruptSessionBehavesLikeNoSession(t *testing.T) {
	run := func(t *testing.T, prepare func(h *harness)) []string {
		h := newHarness(t)
		prepare(h)
		page := &browsertest.Page{Jar: googleCookies()}
		mgr, _ := h.manager(page, 1)
		res := mgr.Login(context.Background(), nil)
		require.True(t, res.Success, res.Error)
		return page.Snapshot()
	}

	clean := run(t, func(*harness) {})
	corrupt := run(t, func(h *harness) {
		require.NoError(t, os.MkdirAll(filepath.Dir(h.store.Path()), 0o700))
		require.NoError(t, os.WriteFile(h.store.Path(), []byte(`[{"name": "SID", "val`), 0o600))
	})
	empty := run(t, func(h *harness) {
		require.NoError(t, h.store.Save(nil))
	})

	assert.Equal(t, clean, corrupt)
	assert.Equal(t, clean, empty)
	assert.NotContains(t, strings.Join(corrupt, "\n"), "setCookies")
	assert.NotContains(t, strings.Join(corrupt, "\n"), "reload")
}

func TestLogin_NoFormFallsThroughToManualWait(t *testing.T) {
	h := newHarness(t)
	// Passkey screen: neither input ever shows, a human completes the challenge
	page := &browsertest.Page{
		Redirects: map[string]string{accountURL: identifier},
		FinalURL:  accountURL,
		Jar:       googleCookies(),
	}
	mgr, _ := h.manager(page, 1)

	res := mgr.Login(context.Background(), &Credentials{Email: "operator@example.com", Password: "secret"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, StateAuthenticated, res.State)
	assert.Empty(t, page.Filled)
	assert.Contains(t, strings.Join(page.Snapshot(), "\n"), "waitURL")
	assert.Empty(t, h.debugFiles(t))
}

func TestLogin_PasswordStepMissingIsNotAFailure(t *testing.T) {
	h := newHarness(t)
	page := &browsertest.Page{
		Redirects: map[string]string{accountURL: identifier},
		Visible:   map[string]bool{DefaultEmailSelector: true},
		FinalURL:  accountURL,
		Jar:       googleCookies(),
	}
	mgr, _ := h.manager(page, 1)

	res := mgr.Login(context.Background(), &Credentials{Email: "operator@example.com", Password: "secret"})

	require.True(t, res.Success, res.Error)
	assert.Equal(t, []string{DefaultEmailNextSelector}, page.Clicked)
	assert.NotContains(t, page.Filled, DefaultPasswordSelector)
}

func TestLogin_CredentialLessSkipsForm(t *testing.T) {
	h := newHarness(t)
	page := freshSignInPage()
	mgr, _ := h.manager(page, 1)

	res := mgr.Login(context.Background(), nil)

	require.True(t, res.Success, res.Error)
	assert.Empty(t, page.Filled)
	assert.Empty(t, page.Clicked)
}

func TestLogin_NavigatesToSignInWithNetworkIdle(t *testing.T) {
	h := newHarness(t)
	page := &browsertest.Page{
		Redirects: map[string]string{accountURL: "https://www.google.com/intl/en/account/about/"},
		FinalURL:  accountURL,
		Jar:       googleCookies(),
	}
	mgr, _ := h.manager(page, 1)

	res := mgr.Login(context.Background(), nil)

	require.True(t, res.Success, res.Error)
	assert.Contains(t, page.Snapshot(), "goto "+signInURL+" "+string(browser.WaitNetworkIdle))
}

func TestLogin_ManualChallengeTimesOut(t *testing.T) {
	h := newHarness(t)
	page := &browsertest.Page{
		Redirects: map[string]string{accountURL: identifier},
		HTML:      "<html><body>Use your passkey</body></html>",
	}
	mgr, b := h.manager(page, 1)

	res := mgr.Login(context.Background(), nil)

	require.False(t, res.Success)
	assert.Equal(t, StateFailed, res.State)
	assert.Contains(t, res.Error, "timed out")
	assert.NotEmpty(t, res.Message)

	files := h.debugFiles(t)
	require.Len(t, files, 2, "exactly one screenshot and one html file")
	assert.True(t, strings.HasPrefix(files[0], "login-failure-") && strings.HasSuffix(files[0], ".html"))
	assert.True(t, strings.HasPrefix(files[1], "login-failure-") && strings.HasSuffix(files[1], ".png"))

	assert.Equal(t, 1, page.Closed)
	assert.Equal(t, 1, b.Closed)
	_, err := h.store.Read()
	assert.ErrorIs(t, err, ErrNoSession, "failed login must not write a session")
}

func TestFlow_OriginalErrorSurvivesArtifactWriteFailure(t *testing.T) {
	h := newHarness(t)
	// A regular file where the debug directory should be makes every artifact write fail
	require.NoError(t, os.WriteFile(h.debugDir, []byte("not a directory"), 0o600))

	cause := errors.New("net::ERR_CONNECTION_RESET")
	page := &browsertest.Page{GotoErr: cause}

	attempt, err := h.flow.Run(context.Background(), &browsertest.Browser{Page: page}, nil)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StateFailed, attempt.State)
	assert.Equal(t, 1, page.Closed)
}

func TestLogin_AttemptBudget(t *testing.T) {
	h := newHarness(t)
	page := &browsertest.Page{Redirects: map[string]string{accountURL: identifier}}
	mgr, _ := h.manager(page, 2)

	res := mgr.Login(context.Background(), nil)

	require.False(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, page.Closed)
	assert.NotEmpty(t, h.debugFiles(t))
}

func TestLogin_DefaultBudgetRetriesOnce(t *testing.T) {
	h := newHarness(t)
	page := &browsertest.Page{Redirects: map[string]string{accountURL: identifier}}
	mgr, _ := h.manager(page, config.DefaultLoginAttempts)

	res := mgr.Login(context.Background(), nil)

	require.False(t, res.Success)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, page.Closed)
}

func TestLogin_SaveFailureKeepsSuccess(t *testing.T) {
	h := newHarness(t)
	page := &browsertest.Page{CookiesErr: errors.New("target closed")}
	mgr, _ := h.manager(page, 1)

	res := mgr.Login(context.Background(), nil)

	require.True(t, res.Success)
	assert.Equal(t, 0, res.Cookies)
}

func TestLogin_InjectFailureDegradesSilently(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Save(googleCookies()))
	page := &browsertest.Page{SetCookiesErr: errors.New("protocol error"), Jar: googleCookies()}
	mgr, _ := h.manager(page, 1)

	res := mgr.Login(context.Background(), nil)

	require.True(t, res.Success, res.Error)
	assert.NotContains(t, page.Snapshot(), "reload DOMContentLoaded")
}

func TestLogin_LaunchFailure(t *testing.T) {
	h := newHarness(t)
	mgr := NewManager(&browsertest.Launcher{Err: errors.New("chrome not found")}, h.flow, h.store, 1)

	res := mgr.Login(context.Background(), nil)

	require.False(t, res.Success)
	assert.Contains(t, res.Error, "chrome not found")
}

func TestManager_TryLoginReportsBusy(t *testing.T) {
	h := newHarness(t)
	mgr, _ := h.manager(&browsertest.Page{}, 1)

	mgr.mu.Lock()
	res, ok := mgr.TryLogin(context.Background(), nil)
	mgr.mu.Unlock()

	assert.False(t, ok)
	assert.False(t, res.Success)
}

func TestManager_EnsureSession(t *testing.T) {
	h := newHarness(t)
	mgr, _ := h.manager(&browsertest.Page{Jar: googleCookies()}, 1)

	assert.ErrorIs(t, mgr.EnsureSession(context.Background(), nil), ErrNoSession)

	require.NoError(t, mgr.EnsureSession(context.Background(), &Credentials{Email: "operator@example.com"}))
	require.NoError(t, mgr.EnsureSession(context.Background(), nil))
}

func TestManager_BrowseAppliesSession(t *testing.T) {
	h := newHarness(t)
	page := &browsertest.Page{}
	mgr, b := h.manager(page, 1)

	called := false
	err := mgr.Browse(context.Background(), func(ctx context.Context, p browser.Page) error {
		called = true
		return nil
	})
	require.ErrorIs(t, err, ErrNoSession)
	assert.False(t, called)
	assert.Zero(t, b.Pages, "no browser without a session")

	require.NoError(t, h.store.Save(googleCookies()))

	err = mgr.Browse(context.Background(), func(ctx context.Context, p browser.Page) error {
		called = true
		return p.Goto(ctx, "https://www.youtube.com/@panelshow/videos", browser.WaitNetworkIdle)
	})
	require.NoError(t, err)
	assert.True(t, called)
	assert.Len(t, page.Injected, 2)
	assert.Equal(t, 1, b.Closed)
	assert.Equal(t, 1, page.Closed)
	assert.Equal(t, []string{"setCookies 2", "goto https://www.youtube.com/@panelshow/videos networkIdle"}, page.Snapshot())
}

func TestManager_BrowsePropagatesError(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.store.Save(googleCookies()))
	mgr, b := h.manager(&browsertest.Page{}, 1)

	boom := errors.New("boom")
	err := mgr.Browse(context.Background(), func(ctx context.Context, p browser.Page) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, b.Closed)
}

func TestWaitForEither_RacePicksFirstVisible(t *testing.T) {
	h := newHarness(t)
	page := &browsertest.Page{
		Visible:       map[string]bool{"#a": true, "#b": true},
		SelectorDelay: map[string]time.Duration{"#a": 15 * time.Millisecond},
	}
	got, err := h.flow.waitForEither(context.Background(), page, "#a", "#b")
	require.NoError(t, err)
	assert.Equal(t, "#b", got)

	got, err = h.flow.waitForEither(context.Background(), &browsertest.Page{}, "#a", "#b")
	require.NoError(t, err)
	assert.Equal(t, "", got)
}

func TestState(t *testing.T) {
	assert.False(t, StateCheckLogin.Succeeded())
	assert.False(t, StateAwaitingManualStep.Succeeded())
	assert.True(t, StateAuthenticated.Succeeded())
	assert.True(t, StateAlreadyAuthenticated.Succeeded())
	assert.False(t, StateFailed.Succeeded())
}

func TestHostPattern(t *testing.T) {
	p := hostPattern("myaccount.google.com")
	assert.True(t, p.MatchString("https://myaccount.google.com/"))
	assert.True(t, p.MatchString("https://myaccount.google.com/?pli=1"))
	assert.True(t, p.MatchString("https://myaccount.google.com"))
	assert.False(t, p.MatchString("https://accounts.google.com/?continue=https://myaccount.google.com/"))
	assert.False(t, p.MatchString("https://myaccount.google.com.evil.example/"))
}
