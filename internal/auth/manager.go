package auth

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/law-makers/panelwatch/internal/browser"
	"github.com/law-makers/panelwatch/internal/ui"
)

// LoginResult is what callers outside the package see of a login
type LoginResult struct {
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Message  string `json:"message"`
	State    State  `json:"state"`
	Cookies  int    `json:"cookies"`
	Attempts int    `json:"attempts"`
}

// Manager serializes login flows against the single browser profile and applies
// the attempt budget.
type Manager struct {
	launcher browser.Launcher
	flow     *Flow
	sessions *Store
	attempts int

	mu sync.Mutex
}

// NewManager creates a Manager. attempts is the total number of flow runs per
// Login call; values below 1 are treated as 1.
func NewManager(launcher browser.Launcher, flow *Flow, sessions *Store, attempts int) *Manager {
	if attempts < 1 {
		attempts = 1
	}
	return &Manager{launcher: launcher, flow: flow, sessions: sessions, attempts: attempts}
}

// Sessions returns the session store used by the manager
func (m *Manager) Sessions() *Store {
	return m.sessions
}

// Login runs the flow until it succeeds or the attempt budget is spent.
// Only one Login runs at a time; later callers wait for the current one.
func (m *Manager) Login(ctx context.Context, creds *Credentials) LoginResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.run(ctx, creds)
}

// TryLogin is Login without waiting: ok is false when a flow is already running
func (m *Manager) TryLogin(ctx context.Context, creds *Credentials) (res LoginResult, ok bool) {
	if !m.mu.TryLock() {
		return LoginResult{Error: "login already in progress", Message: ui.MsgLoginBusy, State: StateCheckLogin}, false
	}
	defer m.mu.Unlock()
	return m.run(ctx, creds), true
}

func (m *Manager) run(ctx context.Context, creds *Credentials) LoginResult {
	res, err := m.login(ctx, creds)
	if err != nil {
		log.Error().Err(err).Int("attempts", res.Attempts).Msg("Login failed")
		res.Success = false
		res.Error = err.Error()
		res.Message = ui.MsgLoginFailed
		res.State = StateFailed
		return res
	}
	res.Success = true
	res.Message = ui.MsgLoginSuccess
	return res
}

func (m *Manager) login(ctx context.Context, creds *Credentials) (LoginResult, error) {
	var res LoginResult

	b, err := m.launcher.Launch(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close browser")
		}
	}()

	var lastErr error
	for i := 1; i <= m.attempts; i++ {
		res.Attempts = i
		log.Info().Int("attempt", i).Int("max_attempts", m.attempts).Msg("Starting login")

		attempt, err := m.flow.Run(ctx, b, creds)
		if err == nil && !attempt.State.Succeeded() {
			err = fmt.Errorf("login ended in state %s", attempt.State)
		}
		if err == nil {
			res.State = attempt.State
			res.Cookies = attempt.Cookies
			log.Info().
				Str("state", string(attempt.State)).
				Int("cookie_count", attempt.Cookies).
				Dur("elapsed", attempt.Elapsed).
				Msg("Login complete")
			return res, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	return res, lastErr
}

// EnsureSession makes a session available for an authenticated scrape. With
// credentials a full login runs; otherwise an existing session file is reused.
func (m *Manager) EnsureSession(ctx context.Context, creds *Credentials) error {
	if creds.HasEmail() {
		res := m.Login(ctx, creds)
		if !res.Success {
			return fmt.Errorf("login failed: %s", res.Error)
		}
		return nil
	}
	if m.sessions.Load() == nil {
		return ErrNoSession
	}
	return nil
}

// Browse opens the persistent profile with the saved session applied and hands a
// page to fn. It shares the login lock, so a scrape never drives the profile
// while a login is running. Returns ErrNoSession when nothing is saved.
func (m *Manager) Browse(ctx context.Context, fn func(ctx context.Context, page browser.Page) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	handle, err := m.sessions.Acquire(ctx)
	if err != nil {
		return err
	}
	cookies := handle.Load()
	handle.Release()
	if len(cookies) == 0 {
		return ErrNoSession
	}

	b, err := m.launcher.Launch(ctx)
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}
	defer func() {
		if cerr := b.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("Failed to close browser")
		}
	}()

	page, err := b.NewPage(ctx)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	defer page.Close()

	if err := m.sessions.Apply(ctx, page, cookies); err != nil {
		return fmt.Errorf("failed to apply session: %w", err)
	}
	return fn(ctx, page)
}
