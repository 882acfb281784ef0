package auth

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/law-makers/panelwatch/internal/browser"
	"github.com/law-makers/panelwatch/pkg/models"
)

// ErrNoSession is returned by Read when the session file does not exist
var ErrNoSession = errors.New("no session")

// Import formats
const (
	FormatJSON     = "json"
	FormatNetscape = "netscape"
)

// Store persists the authenticated cookie jar as a JSON array in a single file.
// The file is always replaced in full; a missing or corrupt file reads as "no session".
type Store struct {
	path string

	// mu serializes writes to the file
	mu sync.Mutex
	// owner is a one-slot semaphore held by the current SessionHandle
	owner chan struct{}
}

// NewStore creates a Store for the session file at path
func NewStore(path string) *Store {
	return &Store{path: path, owner: make(chan struct{}, 1)}
}

// Path returns the session file location
func (s *Store) Path() string {
	return s.path
}

// Exists reports whether a session file is present. It does not validate content.
func (s *Store) Exists() bool {
	info, err := os.Stat(s.path)
	return err == nil && !info.IsDir()
}

// Read returns the stored cookies, ErrNoSession when the file is missing, or a
// parse error when it is corrupt.
func (s *Store) Read() ([]models.Cookie, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	var cookies []models.Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("failed to parse session file: %w", err)
	}
	return cookies, nil
}

// Load returns the stored cookies or nil. It never fails: a corrupt or unreadable
// file is logged and treated as no session.
func (s *Store) Load() []models.Cookie {
	cookies, err := s.Read()
	if err != nil {
		if !errors.Is(err, ErrNoSession) {
			log.Warn().Err(err).Str("path", s.path).Msg("Ignoring unusable session file")
		}
		return nil
	}
	return cookies
}

// Save replaces the session file with cookies. The write goes to a temp file in
// the same directory and is renamed into place so readers never see a partial jar.
func (s *Store) Save(cookies []models.Cookie) error {
	if cookies == nil {
		cookies = []models.Cookie{}
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".cookies-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp session file: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpName) }

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to write session file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		cleanup()
		return fmt.Errorf("failed to sync session file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("failed to close session file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("failed to set session file permissions: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		cleanup()
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	log.Debug().Int("cookie_count", len(cookies)).Str("path", s.path).Msg("Session saved")
	return nil
}

// Clear removes the session file. Removing a missing file is not an error.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}
	return nil
}

// Apply injects cookies into the browser context behind page
func (s *Store) Apply(ctx context.Context, page browser.Page, cookies []models.Cookie) error {
	if len(cookies) == 0 {
		return nil
	}
	return page.SetCookies(ctx, cookies)
}

// Import parses an operator-supplied cookie export and replaces the session with it.
// Nothing is written unless the whole input parses and yields at least one cookie.
func (s *Store) Import(r io.Reader, format string) (int, error) {
	var (
		cookies []models.Cookie
		err     error
	)
	switch format {
	case "", FormatJSON:
		cookies, err = parseJSONCookies(r)
	case FormatNetscape:
		cookies, err = parseNetscapeCookies(r)
	default:
		return 0, fmt.Errorf("unsupported format: %s (use: json, netscape)", format)
	}
	if err != nil {
		return 0, err
	}
	if len(cookies) == 0 {
		return 0, fmt.Errorf("no cookies found in input")
	}
	if err := s.Save(cookies); err != nil {
		return 0, err
	}
	return len(cookies), nil
}

func parseJSONCookies(r io.Reader) ([]models.Cookie, error) {
	var cookies []models.Cookie
	if err := json.NewDecoder(r).Decode(&cookies); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	for i, c := range cookies {
		if c.Name == "" || c.Domain == "" {
			return nil, fmt.Errorf("cookie %d is missing name or domain", i)
		}
		if cookies[i].Path == "" {
			cookies[i].Path = "/"
		}
	}
	return cookies, nil
}

// parseNetscapeCookies reads the curl/wget cookies.txt format
func parseNetscapeCookies(r io.Reader) ([]models.Cookie, error) {
	var cookies []models.Cookie
	scanner := bufio.NewScanner(r)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		httpOnly := false
		if strings.HasPrefix(line, "#HttpOnly_") {
			httpOnly = true
			line = strings.TrimPrefix(line, "#HttpOnly_")
		}
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			fields = strings.Fields(line)
		}
		if len(fields) < 7 {
			continue
		}

		cookie := models.Cookie{
			Domain:   fields[0],
			Path:     fields[2],
			Secure:   strings.EqualFold(fields[3], "TRUE"),
			Name:     fields[5],
			Value:    fields[6],
			HTTPOnly: httpOnly,
		}
		if exp, err := strconv.ParseInt(fields[4], 10, 64); err == nil && exp > 0 {
			cookie.Expires = float64(exp)
		}
		cookies = append(cookies, cookie)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return cookies, nil
}

// Summary describes the stored session without exposing cookie values
type Summary struct {
	Path           string    `json:"path"`
	Exists         bool      `json:"exists"`
	Valid          bool      `json:"valid"`
	Cookies        int       `json:"cookies"`
	Domains        []string  `json:"domains,omitempty"`
	EarliestExpiry time.Time `json:"earliestExpiry,omitempty"`
	LatestExpiry   time.Time `json:"latestExpiry,omitempty"`
	ModifiedAt     time.Time `json:"modifiedAt,omitempty"`
	Error          string    `json:"error,omitempty"`
}

// Summary inspects the session file
func (s *Store) Summary() Summary {
	sum := Summary{Path: s.path}
	info, err := os.Stat(s.path)
	if err != nil {
		return sum
	}
	sum.Exists = true
	sum.ModifiedAt = info.ModTime()

	cookies, err := s.Read()
	if err != nil {
		sum.Error = err.Error()
		return sum
	}
	sum.Valid = true
	sum.Cookies = len(cookies)

	domains := make(map[string]struct{})
	for _, c := range cookies {
		domains[c.Domain] = struct{}{}
		if c.Expires <= 0 {
			continue
		}
		exp := time.Unix(int64(c.Expires), 0)
		if sum.EarliestExpiry.IsZero() || exp.Before(sum.EarliestExpiry) {
			sum.EarliestExpiry = exp
		}
		if exp.After(sum.LatestExpiry) {
			sum.LatestExpiry = exp
		}
	}
	for d := range domains {
		sum.Domains = append(sum.Domains, d)
	}
	sort.Strings(sum.Domains)
	return sum
}

// SessionHandle grants exclusive use of the session to one owner until Release
type SessionHandle struct {
	store    *Store
	once     sync.Once
	released bool
}

// Acquire blocks until no other handle is held or ctx is done
func (s *Store) Acquire(ctx context.Context) (*SessionHandle, error) {
	select {
	case s.owner <- struct{}{}:
		return &SessionHandle{store: s}, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for session: %w", ctx.Err())
	}
}

// Exists reports whether the session file is present
func (h *SessionHandle) Exists() bool {
	return h.store.Exists()
}

// Load returns the stored cookies or nil
func (h *SessionHandle) Load() []models.Cookie {
	return h.store.Load()
}

// Save replaces the stored cookies
func (h *SessionHandle) Save(cookies []models.Cookie) error {
	if h.released {
		return fmt.Errorf("session handle already released")
	}
	return h.store.Save(cookies)
}

// Release gives up ownership. Safe to call more than once.
func (h *SessionHandle) Release() {
	h.once.Do(func() {
		h.released = true
		<-h.store.owner
	})
}
