package mdb

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogarr/catalogarr/internal/cachepolicy"
	"github.com/catalogarr/catalogarr/internal/diskcache"
	"github.com/catalogarr/catalogarr/internal/fetch"
	"github.com/catalogarr/catalogarr/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cache, err := diskcache.NewStore(t.TempDir(), &cachepolicy.Policy{})
	require.NoError(t, err)
	fetcher := fetch.NewClient(5 * time.Second)
	fetcher.RegisterBucket(Bucket, 4, 1)

	return NewClient(srv.URL, "test-token", fetcher, cache), &calls
}

func TestSearchTitle(t *testing.T) {
	c, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/movie", r.URL.Path)
		assert.Equal(t, "test-token", r.URL.Query().Get("api_key"))
		assert.Equal(t, "the matrix", r.URL.Query().Get("query"))
		assert.Equal(t, "1999", r.URL.Query().Get("year"))
		fmt.Fprint(w, `{"results":[
			{"id":603,"title":"The Matrix","original_title":"The Matrix","release_date":"1999-03-31","popularity":80.1,"vote_average":8.2}
		]}`)
	})

	results, err := c.SearchTitle(context.Background(), models.MediaMovies, "the matrix", 1999)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int64(603), results[0].ID)
	assert.Equal(t, 1999, results[0].Year())

	// Second call is served from the cache.
	_, err = c.SearchTitle(context.Background(), models.MediaMovies, "the matrix", 1999)
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestSearchTitleTVUsesFirstAirDateYear(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/tv", r.URL.Path)
		assert.Equal(t, "2008", r.URL.Query().Get("first_air_date_year"))
		fmt.Fprint(w, `{"results":[{"id":1396,"name":"Breaking Bad","first_air_date":"2008-01-20"}]}`)
	})

	results, err := c.SearchTitle(context.Background(), models.MediaTVShows, "breaking bad", 2008)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Breaking Bad", results[0].Title, "tv payloads use name, not title")
	assert.Equal(t, 2008, results[0].Year())
}

func TestGetTitle(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/movie/603", r.URL.Path)
		fmt.Fprint(w, `{"id":603,"title":"The Matrix","overview":"o","imdb_id":"tt0133093",
			"genres":[{"name":"Action"},{"name":"Science Fiction"}],"release_date":"1999-03-31"}`)
	})

	meta, err := c.GetTitle(context.Background(), models.MediaMovies, 603)
	require.NoError(t, err)
	assert.Equal(t, int64(603), meta.ID)
	assert.Equal(t, "tt0133093", meta.IMDBID)
	assert.Equal(t, []string{"Action", "Science Fiction"}, meta.Genres)
	assert.Equal(t, models.MediaMovies, meta.Type)
}

func TestFindByExternalIDSingleMatch(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/find/tt0133093", r.URL.Path)
		assert.Equal(t, "imdb_id", r.URL.Query().Get("external_source"))
		fmt.Fprint(w, `{"movie_results":[{"id":603,"title":"The Matrix"}],"tv_results":[]}`)
	})

	meta, err := c.FindByExternalID(context.Background(), ExternalIMDB, "tt0133093", models.MediaMovies)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, int64(603), meta.ID)
}

func TestFindByExternalIDAmbiguousOrEmpty(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"movie_results":[{"id":1},{"id":2}],"tv_results":[]}`)
	})

	meta, err := c.FindByExternalID(context.Background(), ExternalIMDB, "tt0000001", models.MediaMovies)
	require.NoError(t, err)
	assert.Nil(t, meta, "more than one match is treated as no match")

	meta, err = c.FindByExternalID(context.Background(), ExternalIMDB, "tt0000001", models.MediaTVShows)
	require.NoError(t, err)
	assert.Nil(t, meta, "empty result set is no match")
}

func TestGetSeasons(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tv/1396", r.URL.Path)
		fmt.Fprint(w, `{"seasons":[
			{"season_number":1,"name":"Season 1","episode_count":7,"air_date":"2008-01-20"},
			{"season_number":2,"name":"Season 2","episode_count":13,"air_date":"2009-03-08"}
		]}`)
	})

	seasons, err := c.GetSeasons(context.Background(), 1396)
	require.NoError(t, err)
	require.Len(t, seasons, 2)
	assert.Equal(t, 7, seasons[0].EpisodeCount)
}

func TestGetTitleNotFound(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	_, err := c.GetTitle(context.Background(), models.MediaMovies, 999)
	require.Error(t, err)
	assert.Equal(t, fetch.KindHTTP4xx, fetch.KindOf(err))
}
