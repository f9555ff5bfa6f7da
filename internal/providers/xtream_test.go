package providers

import (
	"context"
	"fmt"
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

// xtreamHandler fakes a panel. Note the mixed id types: some panels send
// numbers, some send quoted strings.
func xtreamHandler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/player_api.php", r.URL.Path)
		assert.Equal(t, "user", r.URL.Query().Get("username"))
		assert.Equal(t, "pass", r.URL.Query().Get("password"))

		switch r.URL.Query().Get("action") {
		case "get_vod_categories":
			fmt.Fprint(w, `[{"category_id":"10","category_name":"Action"},{"category_id":11,"category_name":"Drama"}]`)
		case "get_series_categories":
			fmt.Fprint(w, `[{"category_id":"20","category_name":"Shows"}]`)
		case "get_live_categories":
			fmt.Fprint(w, `[{"category_id":"30","category_name":"News"}]`)
		case "get_vod_streams":
			fmt.Fprint(w, `[
				{"stream_id":1001,"name":"The Matrix (1999)","category_id":"10","container_extension":"mp4","tmdb":"603"},
				{"stream_id":"1002","name":"Heat (1995)","category_id":11,"container_extension":"mkv"}
			]`)
		case "get_series":
			fmt.Fprint(w, `[{"series_id":2001,"name":"Breaking Bad (2008)","category_id":"20","tmdb":1396}]`)
		case "get_series_info":
			assert.Equal(t, "2001", r.URL.Query().Get("series_id"))
			fmt.Fprint(w, `{"info":{"tmdb":"1396"},"episodes":{"1":[
				{"id":5001,"episode_num":1,"season":1,"container_extension":"mp4"},
				{"id":"5002","episode_num":"2","season":"1","container_extension":"mkv"}
			]}}`)
		case "get_live_streams":
			fmt.Fprint(w, `[{"stream_id":3001,"name":"CNN","stream_icon":"http://logo/cnn.png","category_id":"30"}]`)
		default:
			http.NotFound(w, r)
		}
	}
}

func newXtreamFixture(t *testing.T) *XtreamAdapter {
	t.Helper()
	srv := httptest.NewServer(xtreamHandler(t))
	t.Cleanup(srv.Close)

	cache, err := diskcache.NewStore(t.TempDir(), &cachepolicy.Policy{})
	require.NoError(t, err)

	p := models.Provider{
		ID:          "xt-test",
		Kind:        models.KindXtream,
		BaseURL:     srv.URL,
		Username:    "user",
		Password:    "pass",
		Enabled:     true,
		SyncMovies:  true,
		SyncTVShows: true,
		SyncLive:    true,
	}
	return NewXtreamAdapter(p, fetch.NewClient(5*time.Second), cache)
}

func TestXtreamCategoriesFlexibleIDs(t *testing.T) {
	adapter := newXtreamFixture(t)
	cats, err := adapter.FetchCategories(context.Background(), models.MediaMovies)
	require.NoError(t, err)
	require.Len(t, cats, 2)
	assert.Equal(t, "10", cats[0].ID)
	assert.Equal(t, "11", cats[1].ID, "numeric category_id decodes to the same string form")
}

func TestXtreamFetchMovies(t *testing.T) {
	adapter := newXtreamFixture(t)
	var got []RawTitle
	err := adapter.FetchTitles(context.Background(), models.MediaMovies, func(rt RawTitle) error {
		got = append(got, rt)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 2)

	matrix := got[0]
	assert.Equal(t, "1001", matrix.ProviderItemID)
	assert.Equal(t, "The Matrix", matrix.CleanName)
	assert.Equal(t, 1999, matrix.Year)
	assert.Equal(t, int64(603), matrix.MDBID, "panel-supplied id is carried through")
	assert.Contains(t, matrix.Streams["main"], "/movie/user/pass/1001.mp4")

	heat := got[1]
	assert.Equal(t, int64(0), heat.MDBID)
	assert.Contains(t, heat.Streams["main"], "/movie/user/pass/1002.mkv")
}

func TestXtreamFetchSeries(t *testing.T) {
	adapter := newXtreamFixture(t)
	var got []RawTitle
	err := adapter.FetchTitles(context.Background(), models.MediaTVShows, func(rt RawTitle) error {
		got = append(got, rt)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)

	show := got[0]
	assert.Equal(t, "2001", show.ProviderItemID)
	assert.Equal(t, "Breaking Bad", show.CleanName)
	assert.Equal(t, 2008, show.Year)
	assert.Equal(t, int64(1396), show.MDBID)
	assert.Contains(t, show.Streams["s01e01"], "/series/user/pass/5001.mp4")
	assert.Contains(t, show.Streams["s01e02"], "/series/user/pass/5002.mkv")
}

func TestXtreamFetchChannels(t *testing.T) {
	adapter := newXtreamFixture(t)
	channels, err := adapter.FetchChannels(context.Background())
	require.NoError(t, err)
	require.Len(t, channels, 1)

	cnn := channels[0]
	assert.Equal(t, "3001", cnn.ChannelID)
	assert.Equal(t, "CNN", cnn.Name)
	assert.Equal(t, "http://logo/cnn.png", cnn.LogoURL)
	assert.Contains(t, cnn.StreamURL, "/live/user/pass/3001.ts")
}

func TestXtreamFetchTitlesRejectsLive(t *testing.T) {
	adapter := newXtreamFixture(t)
	err := adapter.FetchTitles(context.Background(), models.MediaLive, func(RawTitle) error { return nil })
	assert.Error(t, err)
}

func TestAdapterFactory(t *testing.T) {
	cache, err := diskcache.NewStore(t.TempDir(), &cachepolicy.Policy{})
	require.NoError(t, err)
	fetcher := fetch.NewClient(time.Second)

	a, err := New(models.Provider{Kind: models.KindM3U}, fetcher, cache)
	require.NoError(t, err)
	assert.Equal(t, models.KindM3U, a.Kind())

	a, err = New(models.Provider{Kind: models.KindXtream}, fetcher, cache)
	require.NoError(t, err)
	assert.Equal(t, models.KindXtream, a.Kind())

	_, err = New(models.Provider{Kind: "bogus"}, fetcher, cache)
	assert.Error(t, err)
}
