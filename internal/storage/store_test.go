package storage

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/law-makers/panelwatch/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open("")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestChannelCRUD(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetChannel("UC1")
	assert.ErrorIs(t, err, ErrNotFound)

	ch := &models.Channel{ID: "UC1", Title: "Panel One", URL: "https://www.youtube.com/channel/UC1"}
	require.NoError(t, s.SaveChannel(ch))
	created := ch.CreatedAt
	require.False(t, created.IsZero())

	// re-saving a fresh value keeps the original creation time
	require.NoError(t, s.SaveChannel(&models.Channel{ID: "UC1", Title: "Panel One (renamed)"}))
	got, err := s.GetChannel("UC1")
	require.NoError(t, err)
	assert.Equal(t, "Panel One (renamed)", got.Title)
	assert.True(t, got.CreatedAt.Equal(created))

	checked := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.MarkChecked("UC1", checked))
	got, err = s.GetChannel("UC1")
	require.NoError(t, err)
	assert.True(t, got.LastCheckedAt.Equal(checked))

	assert.Error(t, s.SaveChannel(&models.Channel{}))
}

func TestListChannelsOrdered(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"UCb", "UCa", "UCc"} {
		require.NoError(t, s.SaveChannel(&models.Channel{ID: id, CreatedAt: base.Add(time.Duration(i) * time.Hour)}))
	}

	channels, err := s.ListChannels()
	require.NoError(t, err)
	require.Len(t, channels, 3)
	assert.Equal(t, []string{"UCb", "UCa", "UCc"}, []string{channels[0].ID, channels[1].ID, channels[2].ID})
}

func TestVideos(t *testing.T) {
	s := openTestStore(t)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.SaveVideo(&models.Video{ID: "v1", ChannelID: "UC1", PublishedAt: base}))
	require.NoError(t, s.SaveVideo(&models.Video{ID: "v2", ChannelID: "UC1", PublishedAt: base.Add(time.Hour), Duration: 90 * time.Second}))
	require.NoError(t, s.SaveVideo(&models.Video{ID: "v3", ChannelID: "UC2", PublishedAt: base}))

	exists, err := s.VideoExists("v2")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.VideoExists("nope")
	require.NoError(t, err)
	assert.False(t, exists)

	videos, err := s.ListVideos("UC1")
	require.NoError(t, err)
	require.Len(t, videos, 2)
	assert.Equal(t, "v2", videos[0].ID)
	assert.Equal(t, 90*time.Second, videos[0].Duration)

	n, err := s.CountVideos("UC2")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Error(t, s.SaveVideo(&models.Video{ID: "orphan"}))
}

func TestScriptsAndAnalyses(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetScript("v1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveScript(&models.Script{VideoID: "v1", Content: "# Episode", Source: "api"}))
	sc, err := s.GetScript("v1")
	require.NoError(t, err)
	assert.Equal(t, "# Episode", sc.Content)

	err = s.SaveAnalysis(&models.Analysis{VideoID: "v1", Data: json.RawMessage(`{"topics":`)})
	assert.Error(t, err)
	_, err = s.GetAnalysis("v1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SaveAnalysis(&models.Analysis{VideoID: "v1", Data: json.RawMessage(`{"topics":["economy"]}`)}))
	a, err := s.GetAnalysis("v1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"topics":["economy"]}`, string(a.Data))
}

func TestDeleteChannelCascades(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.SaveChannel(&models.Channel{ID: "UC1"}))
	require.NoError(t, s.SaveChannel(&models.Channel{ID: "UC2"}))
	require.NoError(t, s.SaveVideo(&models.Video{ID: "v1", ChannelID: "UC1"}))
	require.NoError(t, s.SaveVideo(&models.Video{ID: "v2", ChannelID: "UC2"}))
	require.NoError(t, s.SaveScript(&models.Script{VideoID: "v1", Content: "x"}))

	require.NoError(t, s.DeleteChannel("UC1"))

	_, err := s.GetChannel("UC1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetVideo("v1")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetScript("v1")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.GetVideo("v2")
	assert.NoError(t, err)

	assert.ErrorIs(t, s.DeleteChannel("UC1"), ErrNotFound)
}

func TestSharedBadgerHandle(t *testing.T) {
	s := openTestStore(t)
	assert.NotNil(t, s.Badger())
}
