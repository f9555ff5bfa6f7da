// Package mdb is the adapter for the external movie database used for
// enrichment and as the identity authority. All requests go through the
// shared rate-limited client (bucket "mdb") and the disk cache.
package mdb

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"github.com/catalogarr/catalogarr/internal/diskcache"
	"github.com/catalogarr/catalogarr/internal/fetch"
	"github.com/catalogarr/catalogarr/internal/models"
)

// Bucket is the rate-limit scope shared by all MDB requests.
const Bucket = "mdb"

// ExternalIDKind names the foreign id namespaces FindByExternalID accepts.
type ExternalIDKind string

const (
	ExternalIMDB ExternalIDKind = "imdb_id"
	ExternalTVDB ExternalIDKind = "tvdb_id"
)

// SearchResult is one candidate returned by title search.
type SearchResult struct {
	ID            int64
	Title         string
	OriginalTitle string
	ReleaseDate   string
	Popularity    float64
	VoteAverage   float64
}

// Year returns the candidate's release year, or 0 when unknown.
func (r *SearchResult) Year() int {
	if len(r.ReleaseDate) < 4 {
		return 0
	}
	y := 0
	for _, ch := range r.ReleaseDate[:4] {
		if ch < '0' || ch > '9' {
			return 0
		}
		y = y*10 + int(ch-'0')
	}
	return y
}

// Season is a normalized season summary for a TV show.
type Season struct {
	SeasonNumber int    `json:"season_number"`
	Name         string `json:"name"`
	EpisodeCount int    `json:"episode_count"`
	AirDate      string `json:"air_date"`
}

// Client talks to the movie database.
type Client struct {
	baseURL string
	token   string
	fetcher *fetch.Client
	cache   *diskcache.Store
}

func NewClient(baseURL, token string, fetcher *fetch.Client, cache *diskcache.Store) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		fetcher: fetcher,
		cache:   cache,
	}
}

// get fetches an endpoint through the cache. cacheKey is the logical disk
// cache path; endpoint is relative to the base URL.
func (c *Client) get(ctx context.Context, cacheKey, endpoint string, params url.Values) ([]byte, error) {
	if data, ok := c.cache.Get(cacheKey); ok {
		return data, nil
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.token)
	u := fmt.Sprintf("%s%s?%s", c.baseURL, endpoint, params.Encode())

	data, err := c.fetcher.Fetch(ctx, Bucket, u, nil)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Put(cacheKey, data); err != nil {
		// A failed cache write is not fatal; the response is still good.
		return data, nil
	}
	return data, nil
}

func searchPath(t models.MediaType) string {
	if t == models.MediaTVShows {
		return "/search/tv"
	}
	return "/search/movie"
}

func detailPath(t models.MediaType) string {
	if t == models.MediaTVShows {
		return "tv"
	}
	return "movie"
}

// rawEntry covers both movie and TV payload field names.
type rawEntry struct {
	ID            int64   `json:"id"`
	Title         string  `json:"title"`
	Name          string  `json:"name"`
	OriginalTitle string  `json:"original_title"`
	OriginalName  string  `json:"original_name"`
	Overview      string  `json:"overview"`
	PosterPath    string  `json:"poster_path"`
	BackdropPath  string  `json:"backdrop_path"`
	ReleaseDate   string  `json:"release_date"`
	FirstAirDate  string  `json:"first_air_date"`
	Popularity    float64 `json:"popularity"`
	VoteAverage   float64 `json:"vote_average"`
	IMDBID        string  `json:"imdb_id"`
	Genres        []struct {
		Name string `json:"name"`
	} `json:"genres"`
	NumberOfSeasons int `json:"number_of_seasons"`
}

func (e *rawEntry) displayTitle() string {
	if e.Title != "" {
		return e.Title
	}
	return e.Name
}

func (e *rawEntry) originalTitle() string {
	if e.OriginalTitle != "" {
		return e.OriginalTitle
	}
	return e.OriginalName
}

func (e *rawEntry) releaseDate() string {
	if e.ReleaseDate != "" {
		return e.ReleaseDate
	}
	return e.FirstAirDate
}

func (e *rawEntry) toMeta(t models.MediaType) models.MDBMeta {
	genres := make([]string, 0, len(e.Genres))
	for _, g := range e.Genres {
		genres = append(genres, g.Name)
	}
	return models.MDBMeta{
		ID:            e.ID,
		Type:          t,
		Title:         e.displayTitle(),
		OriginalTitle: e.originalTitle(),
		Overview:      e.Overview,
		PosterPath:    e.PosterPath,
		BackdropPath:  e.BackdropPath,
		ReleaseDate:   e.releaseDate(),
		Genres:        genres,
		Popularity:    e.Popularity,
		VoteAverage:   e.VoteAverage,
		IMDBID:        e.IMDBID,
		Seasons:       e.NumberOfSeasons,
	}
}

func (e *rawEntry) toSearchResult() SearchResult {
	return SearchResult{
		ID:            e.ID,
		Title:         e.displayTitle(),
		OriginalTitle: e.originalTitle(),
		ReleaseDate:   e.releaseDate(),
		Popularity:    e.Popularity,
		VoteAverage:   e.VoteAverage,
	}
}

// SearchTitle searches for candidates of type t by name, optionally
// filtered by release year (0 means no year known).
func (c *Client) SearchTitle(ctx context.Context, t models.MediaType, name string, year int) ([]SearchResult, error) {
	params := url.Values{}
	params.Set("query", name)
	if year > 0 {
		if t == models.MediaTVShows {
			params.Set("first_air_date_year", fmt.Sprintf("%d", year))
		} else {
			params.Set("year", fmt.Sprintf("%d", year))
		}
	}
	cacheKey := fmt.Sprintf("mdb/%s/search/%s-%d", detailPath(t), url.QueryEscape(strings.ToLower(name)), year)

	data, err := c.get(ctx, cacheKey, searchPath(t), params)
	if err != nil {
		return nil, err
	}

	var result struct {
		Results []rawEntry `json:"results"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal search results: %w", err)
	}
	out := make([]SearchResult, 0, len(result.Results))
	for _, e := range result.Results {
		out = append(out, e.toSearchResult())
	}
	return out, nil
}

// GetTitle retrieves the full metadata snapshot for one MDB id.
func (c *Client) GetTitle(ctx context.Context, t models.MediaType, mdbID int64) (*models.MDBMeta, error) {
	endpoint := fmt.Sprintf("/%s/%d", detailPath(t), mdbID)
	cacheKey := fmt.Sprintf("mdb/%s/%d", detailPath(t), mdbID)

	data, err := c.get(ctx, cacheKey, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var entry rawEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal title %d: %w", mdbID, err)
	}
	meta := entry.toMeta(t)
	return &meta, nil
}

// FindByExternalID resolves a foreign id (e.g. an IMDB id) to MDB entries.
// Returns the single match of the requested type, or nil when the result
// is empty or ambiguous.
func (c *Client) FindByExternalID(ctx context.Context, kind ExternalIDKind, id string, t models.MediaType) (*models.MDBMeta, error) {
	params := url.Values{}
	params.Set("external_source", string(kind))
	endpoint := fmt.Sprintf("/find/%s", url.PathEscape(id))
	cacheKey := fmt.Sprintf("mdb/find/%s/%s", kind, id)

	data, err := c.get(ctx, cacheKey, endpoint, params)
	if err != nil {
		return nil, err
	}

	var result struct {
		MovieResults []rawEntry `json:"movie_results"`
		TVResults    []rawEntry `json:"tv_results"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to parse find response: %w", err)
	}

	matches := result.MovieResults
	if t == models.MediaTVShows {
		matches = result.TVResults
	}
	if len(matches) != 1 {
		return nil, nil
	}
	meta := matches[0].toMeta(t)
	return &meta, nil
}

// GetSeasons lists the seasons of a TV show.
func (c *Client) GetSeasons(ctx context.Context, mdbID int64) ([]Season, error) {
	endpoint := fmt.Sprintf("/tv/%d", mdbID)
	cacheKey := fmt.Sprintf("mdb/tv/%d/seasons", mdbID)

	data, err := c.get(ctx, cacheKey, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Seasons []Season `json:"seasons"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seasons for %d: %w", mdbID, err)
	}
	return result.Seasons, nil
}

// GetSimilar lists titles similar to one MDB entry.
func (c *Client) GetSimilar(ctx context.Context, t models.MediaType, mdbID int64) ([]SearchResult, error) {
	endpoint := fmt.Sprintf("/%s/%d/similar", detailPath(t), mdbID)
	cacheKey := fmt.Sprintf("mdb/%s/%d/similar", detailPath(t), mdbID)

	data, err := c.get(ctx, cacheKey, endpoint, nil)
	if err != nil {
		return nil, err
	}
	var result struct {
		Results []rawEntry `json:"results"`
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal similar for %d: %w", mdbID, err)
	}
	out := make([]SearchResult, 0, len(result.Results))
	for _, e := range result.Results {
		out = append(out, e.toSearchResult())
	}
	return out, nil
}
