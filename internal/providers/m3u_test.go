package providers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogarr/catalogarr/internal/cachepolicy"
	"github.com/catalogarr/catalogarr/internal/diskcache"
	"github.com/catalogarr/catalogarr/internal/fetch"
	"github.com/catalogarr/catalogarr/internal/models"
)

const samplePlaylist = `#EXTM3U
#EXTINF:-1 tvg-name="The Matrix (1999)" group-title="VOD | Action",The Matrix (1999)
http://example.com/movie/u/p/1001.mp4
#EXTINF:-1 tvg-name="Breaking Bad S01E01" group-title="Series | Drama",Breaking Bad S01E01
http://example.com/series/u/p/2001.mp4
#EXTINF:-1 tvg-name="Breaking Bad S01E02" group-title="Series | Drama",Breaking Bad S01E02
http://example.com/series/u/p/2002.mp4
#EXTINF:-1 tvg-name="CNN HD" tvg-id="cnn.us" tvg-logo="http://logo/cnn.png" group-title="News",CNN HD
http://example.com/live/u/p/3001.ts
#EXTINF:-1,Heat (1995) 1080p
http://example.com/movie/u/p/1002.mkv
`

func newM3UFixture(t *testing.T, playlist string) (*M3UAdapter, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(playlist))
	}))
	t.Cleanup(srv.Close)

	cache, err := diskcache.NewStore(t.TempDir(), &cachepolicy.Policy{})
	require.NoError(t, err)
	fetcher := fetch.NewClient(5 * time.Second)

	p := models.Provider{
		ID:          "m3u-test",
		Kind:        models.KindM3U,
		BaseURL:     srv.URL,
		Enabled:     true,
		SyncMovies:  true,
		SyncTVShows: true,
		SyncLive:    true,
	}
	return NewM3UAdapter(p, fetcher, cache), srv
}

func TestParsePlaylistClassification(t *testing.T) {
	adapter, _ := newM3UFixture(t, samplePlaylist)
	entries, err := adapter.playlist(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 5)

	assert.Equal(t, models.MediaMovies, entries[0].Type)
	assert.Equal(t, models.MediaTVShows, entries[1].Type)
	assert.Equal(t, models.MediaLive, entries[3].Type)
	assert.Equal(t, "Heat (1995) 1080p", entries[4].Name, "comma name used when tvg-name missing")
}

func TestFetchCategories(t *testing.T) {
	adapter, _ := newM3UFixture(t, samplePlaylist)
	cats, err := adapter.FetchCategories(context.Background(), models.MediaMovies)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	// Sorted by name.
	assert.Equal(t, "VOD | Action", cats[0].Name)
	assert.Equal(t, uncategorized, cats[1].Name)
}

func TestFetchTitlesMovies(t *testing.T) {
	adapter, _ := newM3UFixture(t, samplePlaylist)
	var got []RawTitle
	err := adapter.FetchTitles(context.Background(), models.MediaMovies, func(rt RawTitle) error {
		got = append(got, rt)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	byName := map[string]RawTitle{}
	for _, rt := range got {
		byName[rt.CleanName] = rt
	}
	matrix := byName["The Matrix"]
	assert.Equal(t, 1999, matrix.Year)
	assert.Len(t, matrix.Streams, 1)

	heat := byName["Heat"]
	assert.Equal(t, 1995, heat.Year, "quality tags are stripped before the year split")
}

func TestFetchTitlesAggregatesEpisodes(t *testing.T) {
	adapter, _ := newM3UFixture(t, samplePlaylist)
	var got []RawTitle
	err := adapter.FetchTitles(context.Background(), models.MediaTVShows, func(rt RawTitle) error {
		got = append(got, rt)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1, "episodes of one series collapse into one title")

	show := got[0]
	assert.Equal(t, "Breaking Bad", show.CleanName)
	assert.Equal(t, "http://example.com/series/u/p/2001.mp4", show.Streams["s01e01"])
	assert.Equal(t, "http://example.com/series/u/p/2002.mp4", show.Streams["s01e02"])
}

func TestFetchTitlesDeterministicOrder(t *testing.T) {
	adapter, _ := newM3UFixture(t, samplePlaylist)
	run := func() []string {
		var ids []string
		err := adapter.FetchTitles(context.Background(), models.MediaMovies, func(rt RawTitle) error {
			ids = append(ids, rt.ProviderItemID)
			return nil
		})
		require.NoError(t, err)
		return ids
	}
	assert.Equal(t, run(), run())
}

func TestFetchTitlesRejectsLive(t *testing.T) {
	adapter, _ := newM3UFixture(t, samplePlaylist)
	err := adapter.FetchTitles(context.Background(), models.MediaLive, func(RawTitle) error { return nil })
	assert.Error(t, err)
}

func TestFetchChannels(t *testing.T) {
	adapter, _ := newM3UFixture(t, samplePlaylist)
	channels, err := adapter.FetchChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 1)

	cnn := channels[0]
	assert.Equal(t, "cnn.us", cnn.ChannelID)
	assert.Equal(t, "CNN HD", cnn.Name)
	assert.Equal(t, "http://logo/cnn.png", cnn.LogoURL)
	assert.Equal(t, "http://example.com/live/u/p/3001.ts", cnn.StreamURL)
	assert.Equal(t, "m3u-test", cnn.ProviderID)
}

func TestPlaylistIsCached(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(samplePlaylist))
	}))
	defer srv.Close()

	cache, err := diskcache.NewStore(t.TempDir(), &cachepolicy.Policy{})
	require.NoError(t, err)
	adapter := NewM3UAdapter(models.Provider{ID: "p", BaseURL: srv.URL}, fetch.NewClient(5*time.Second), cache)

	_, err = adapter.playlist(context.Background())
	require.NoError(t, err)
	_, err = adapter.playlist(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "second read comes from the disk cache")
}
