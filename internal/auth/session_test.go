package auth

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/law-makers/panelwatch/internal/browser/browsertest"
	"github.com/law-makers/panelwatch/pkg/models"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "nested", "session", "cookies.json"))
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	assert.False(t, s.Exists())

	require.NoError(t, s.Save(googleCookies()))
	assert.True(t, s.Exists())
	assert.Equal(t, googleCookies(), s.Load())

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	if os.PathSeparator == '/' {
		assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
	}
}

func TestStore_SaveReplacesInsteadOfMerging(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(googleCookies()))

	replacement := []models.Cookie{{Name: "NEW", Value: "1", Domain: ".youtube.com", Path: "/"}}
	require.NoError(t, s.Save(replacement))

	assert.Equal(t, replacement, s.Load())

	// no temp files left behind
	entries, err := os.ReadDir(filepath.Dir(s.Path()))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStore_MissingFile(t *testing.T) {
	s := newStore(t)
	assert.Nil(t, s.Load())
	_, err := s.Read()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestStore_CorruptFileIsNoSession(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(s.Path()), 0o700))
	require.NoError(t, os.WriteFile(s.Path(), []byte("not json"), 0o600))

	assert.True(t, s.Exists())
	assert.Nil(t, s.Load())

	_, err := s.Read()
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoSession)
}

func TestStore_Clear(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Clear(), "clearing a missing session is fine")
	require.NoError(t, s.Save(googleCookies()))
	require.NoError(t, s.Clear())
	assert.False(t, s.Exists())
}

func TestStore_Apply(t *testing.T) {
	s := newStore(t)
	page := &browsertest.Page{}

	require.NoError(t, s.Apply(context.Background(), page, nil))
	assert.Empty(t, page.Snapshot(), "nothing to inject")

	require.NoError(t, s.Apply(context.Background(), page, googleCookies()))
	assert.Equal(t, googleCookies(), page.Injected)
}

func TestStore_ImportJSON(t *testing.T) {
	s := newStore(t)
	input := `[{"name":"SID","value":"x","domain":".google.com"},{"name":"LOGIN_INFO","value":"y","domain":".youtube.com","path":"/","secure":true}]`

	n, err := s.Import(strings.NewReader(input), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	cookies := s.Load()
	require.Len(t, cookies, 2)
	assert.Equal(t, "/", cookies[0].Path, "missing path defaults to /")
	assert.True(t, cookies[1].Secure)
}

func TestStore_ImportRejectsBadInputWithoutWriting(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.Save(googleCookies()))

	tests := []struct {
		name   string
		input  string
		format string
	}{
		{"invalid json", `[{"name":`, FormatJSON},
		{"missing domain", `[{"name":"SID","value":"x"}]`, FormatJSON},
		{"empty array", `[]`, FormatJSON},
		{"unknown format", `x`, "yaml"},
		{"netscape comments only", "# Netscape HTTP Cookie File\n", FormatNetscape},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Import(strings.NewReader(tt.input), tt.format)
			require.Error(t, err)
			assert.Equal(t, googleCookies(), s.Load(), "existing session must be untouched")
		})
	}
}

func TestStore_ImportNetscape(t *testing.T) {
	s := newStore(t)
	input := strings.Join([]string{
		"# Netscape HTTP Cookie File",
		".youtube.com\tTRUE\t/\tTRUE\t1893456000\tPREF\tf6=40000000",
		"#HttpOnly_.google.com\tTRUE\t/\tTRUE\t0\tSID\tabc",
		"",
	}, "\n")

	n, err := s.Import(strings.NewReader(input), FormatNetscape)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	cookies := s.Load()
	assert.Equal(t, "PREF", cookies[0].Name)
	assert.Equal(t, float64(1893456000), cookies[0].Expires)
	assert.False(t, cookies[0].HTTPOnly)
	assert.Equal(t, "SID", cookies[1].Name)
	assert.True(t, cookies[1].HTTPOnly)
	assert.Zero(t, cookies[1].Expires)
}

func TestStore_Summary(t *testing.T) {
	s := newStore(t)
	assert.False(t, s.Summary().Exists)

	cookies := append(googleCookies(), models.Cookie{Name: "YSC", Value: "z", Domain: ".youtube.com", Path: "/", Expires: 1800000000})
	require.NoError(t, s.Save(cookies))

	sum := s.Summary()
	assert.True(t, sum.Exists)
	assert.True(t, sum.Valid)
	assert.Equal(t, 3, sum.Cookies)
	assert.Equal(t, []string{".google.com", ".youtube.com"}, sum.Domains)
	assert.Equal(t, time.Unix(1800000000, 0), sum.EarliestExpiry)
	assert.Equal(t, time.Unix(1893456000, 0), sum.LatestExpiry)

	require.NoError(t, os.WriteFile(s.Path(), []byte("{"), 0o600))
	sum = s.Summary()
	assert.True(t, sum.Exists)
	assert.False(t, sum.Valid)
	assert.NotEmpty(t, sum.Error)
}

func TestStore_AcquireIsExclusive(t *testing.T) {
	s := newStore(t)

	h, err := s.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = s.Acquire(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, h.Save(googleCookies()))
	h.Release()
	h.Release()
	assert.Error(t, h.Save(nil), "released handle cannot write")

	h2, err := s.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, googleCookies(), h2.Load())
	h2.Release()
}

func TestCredentialStore(t *testing.T) {
	keyring.MockInit()
	cs := NewCredentialStore()

	_, err := cs.Get()
	assert.ErrorIs(t, err, ErrNoCredentials)

	require.Error(t, cs.Set(Credentials{}))
	require.NoError(t, cs.Set(Credentials{Email: "operator@example.com", Password: "secret"}))

	got, err := cs.Get()
	require.NoError(t, err)
	assert.Equal(t, "operator@example.com", got.Email)
	assert.Equal(t, "secret", got.Password)
	assert.NotContains(t, got.String(), "secret")

	require.NoError(t, cs.Delete())
	require.NoError(t, cs.Delete())
	_, err = cs.Get()
	assert.ErrorIs(t, err, ErrNoCredentials)
}

func TestCredentials_NilSafe(t *testing.T) {
	var c *Credentials
	assert.False(t, c.HasEmail())
	assert.False(t, c.HasPassword())
	assert.Equal(t, "<none>", c.String())
}
