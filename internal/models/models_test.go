package models

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimitUnmarshal(t *testing.T) {
	var rl RateLimit
	require.NoError(t, json.Unmarshal([]byte(`{"concurrency":4,"window_sec":2}`), &rl))
	assert.Equal(t, 4, rl.Concurrency)
	assert.Equal(t, 2, rl.WindowSec)
}

func TestRateLimitUnmarshalLegacySpelling(t *testing.T) {
	var rl RateLimit
	require.NoError(t, json.Unmarshal([]byte(`{"concurrency":4,"widnow_sec":3}`), &rl))
	assert.Equal(t, 3, rl.WindowSec)

	// The correct spelling wins when both are present.
	require.NoError(t, json.Unmarshal([]byte(`{"concurrency":4,"window_sec":2,"widnow_sec":9}`), &rl))
	assert.Equal(t, 2, rl.WindowSec)
}

func TestCategoryAllowed(t *testing.T) {
	p := Provider{}
	assert.True(t, p.CategoryAllowed(MediaMovies, "any"), "nil map allows everything")

	p.EnabledCategories = map[MediaType][]string{
		MediaMovies:  {"1", "2"},
		MediaTVShows: {},
	}
	assert.True(t, p.CategoryAllowed(MediaMovies, "1"))
	assert.False(t, p.CategoryAllowed(MediaMovies, "3"))
	assert.False(t, p.CategoryAllowed(MediaTVShows, "1"), "empty set allows nothing")
	assert.True(t, p.CategoryAllowed(MediaLive, "x"), "absent type allows everything")
}

func TestTypeEnabled(t *testing.T) {
	p := Provider{SyncMovies: true, SyncLive: true}
	assert.True(t, p.TypeEnabled(MediaMovies))
	assert.False(t, p.TypeEnabled(MediaTVShows))
	assert.True(t, p.TypeEnabled(MediaLive))
}

func TestTitleKeys(t *testing.T) {
	assert.Equal(t, "movies-603", TitleKey(MediaMovies, 603))
	assert.Equal(t, "tvshows-raw-ab12cd34", PlaceholderTitleKey(MediaTVShows, "ab12cd34"))
}

func TestMDBMetaYear(t *testing.T) {
	m := MDBMeta{ReleaseDate: "1999-03-31"}
	assert.Equal(t, 1999, m.Year())
	assert.Equal(t, 0, (&MDBMeta{}).Year())
	assert.Equal(t, 0, (&MDBMeta{ReleaseDate: "n/a"}).Year())
}

func TestCategoryKey(t *testing.T) {
	c := ProviderCategory{Type: MediaMovies, CategoryID: "42"}
	assert.Equal(t, "movies-42", c.CategoryKey())
}
