package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/law-makers/panelwatch/internal/storage"
	"github.com/law-makers/panelwatch/pkg/models"
)

const testChannelID = "UCabcdefghijklmnopqrstuv"

func TestWrapText(t *testing.T) {
	text := "one two three four five six\n- keep this bullet whole even though it is long\n\nsecond paragraph"
	got := wrapText(text, 10)
	assert.Equal(t, "one two\nthree four\nfive six\n- keep this bullet whole even though it is long\n\nsecond\nparagraph", got)
}

func TestPrintFlagsAlignsColumns(t *testing.T) {
	var buf bytes.Buffer
	printFlags(&buf, "      --all        Scrape every tracked channel\n  -o, --output string   Save results\n")

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "--all")
	assert.Contains(t, lines[0], "Scrape every tracked channel")
	assert.Contains(t, lines[1], "-o, --output string")
	// both descriptions start at the same column
	assert.Equal(t, strings.Index(lines[0], "Scrape"), strings.Index(lines[1], "Save"))
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestScrapeJobsForOneChannel(t *testing.T) {
	store := openStore(t)
	require.NoError(t, store.SaveChannel(&models.Channel{ID: testChannelID, Title: "Panel", Description: "Weekly"}))

	jobs, err := scrapeJobs(store, []string{"https://www.youtube.com/channel/" + testChannelID}, false)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, testChannelID, jobs[0].ChannelID)
	assert.Equal(t, "Panel", jobs[0].Title)
	assert.Equal(t, "Weekly", jobs[0].Description)
	assert.Equal(t, "https://www.youtube.com/channel/"+testChannelID, jobs[0].URL)

	jobs, err = scrapeJobs(store, []string{"@somepanel"}, false)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "@somepanel", jobs[0].ChannelID)
	assert.Equal(t, "https://www.youtube.com/@somepanel", jobs[0].URL)

	_, err = scrapeJobs(store, []string{"https://example.com/nope"}, false)
	assert.Error(t, err)
}

func TestScrapeJobsForAllChannels(t *testing.T) {
	store := openStore(t)

	jobs, err := scrapeJobs(store, nil, true)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	require.NoError(t, store.SaveChannel(&models.Channel{ID: "UC1", URL: "https://www.youtube.com/channel/UC1"}))
	require.NoError(t, store.SaveChannel(&models.Channel{ID: "UC2", URL: "https://www.youtube.com/channel/UC2"}))

	jobs, err = scrapeJobs(store, nil, true)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.ElementsMatch(t, []string{"UC1", "UC2"}, []string{jobs[0].ChannelID, jobs[1].ChannelID})
}

func TestLoginCredentialsFromFlags(t *testing.T) {
	t.Cleanup(func() { loginEmail, loginPassword = "", "" })

	loginEmail, loginPassword = "panel@example.com", "secret"
	creds, err := loginCredentials(nil, false)
	require.NoError(t, err)
	assert.Equal(t, "panel@example.com", creds.Email)
	assert.Equal(t, "secret", creds.Password)

	loginEmail = ""
	_, err = loginCredentials(nil, false)
	assert.Error(t, err)

	loginPassword = ""
	creds, err = loginCredentials(nil, true)
	require.NoError(t, err)
	assert.False(t, creds.HasEmail())
}

func TestLoginJobFromFlags(t *testing.T) {
	t.Cleanup(func() { loginEmail, loginPassword = "", "" })

	job, err := loginJob()
	require.NoError(t, err)
	assert.Empty(t, job.Email, "an empty payload lets the worker read the keyring")

	loginEmail, loginPassword = "panel@example.com", "secret"
	job, err = loginJob()
	require.NoError(t, err)
	assert.Equal(t, "panel@example.com", job.Email)
	assert.Equal(t, "secret", job.Password)

	loginEmail = ""
	_, err = loginJob()
	assert.Error(t, err)
}

func TestDisplayTitle(t *testing.T) {
	assert.Equal(t, "Panel", displayTitle(models.Channel{ID: "UC1", Title: "Panel", Handle: "@panel"}))
	assert.Equal(t, "@panel", displayTitle(models.Channel{ID: "UC1", Handle: "@panel"}))
	assert.Equal(t, "UC1", displayTitle(models.Channel{ID: "UC1"}))
}
