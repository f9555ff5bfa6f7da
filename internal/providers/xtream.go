package providers

import (
	"context"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/catalogarr/catalogarr/internal/diskcache"
	"github.com/catalogarr/catalogarr/internal/fetch"
	"github.com/catalogarr/catalogarr/internal/models"
)

// XtreamAdapter enumerates a provider through the player_api.php actions.
// Series enumeration needs one extra request per series for its episodes.
type XtreamAdapter struct {
	provider models.Provider
	fetcher  *fetch.Client
	cache    *diskcache.Store
	clean    *cleaner
}

func NewXtreamAdapter(p models.Provider, fetcher *fetch.Client, cache *diskcache.Store) *XtreamAdapter {
	return &XtreamAdapter{provider: p, fetcher: fetcher, cache: cache, clean: newCleaner(p)}
}

func (a *XtreamAdapter) Kind() models.ProviderKind { return models.KindXtream }

// flexID tolerates the id fields Xtream panels send as either a JSON
// number or a quoted string.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" {
		s = ""
	}
	*f = flexID(s)
	return nil
}

func (f flexID) String() string { return string(f) }

type xtreamCategory struct {
	CategoryID   flexID `json:"category_id"`
	CategoryName string `json:"category_name"`
}

type xtreamVOD struct {
	StreamID           flexID `json:"stream_id"`
	Name               string `json:"name"`
	CategoryID         flexID `json:"category_id"`
	ContainerExtension string `json:"container_extension"`
	TMDBID             flexID `json:"tmdb"`
}

type xtreamSeries struct {
	SeriesID   flexID `json:"series_id"`
	Name       string `json:"name"`
	CategoryID flexID `json:"category_id"`
	TMDBID     flexID `json:"tmdb"`
}

type xtreamEpisode struct {
	ID                 flexID `json:"id"`
	EpisodeNum         flexID `json:"episode_num"`
	Season             flexID `json:"season"`
	ContainerExtension string `json:"container_extension"`
}

type xtreamSeriesInfo struct {
	Episodes map[string][]xtreamEpisode `json:"episodes"`
	Info     struct {
		TMDBID flexID `json:"tmdb"`
	} `json:"info"`
}

type xtreamLive struct {
	StreamID   flexID `json:"stream_id"`
	Name       string `json:"name"`
	StreamIcon string `json:"stream_icon"`
	CategoryID flexID `json:"category_id"`
	EPGID      string `json:"epg_channel_id"`
}

// apiGet calls one player_api.php action through the disk cache. extra is
// appended to the query string (e.g. series_id).
func (a *XtreamAdapter) apiGet(ctx context.Context, action string, extra url.Values, out interface{}) error {
	params := url.Values{}
	params.Set("username", a.provider.Username)
	params.Set("password", a.provider.Password)
	params.Set("action", action)
	for k, vs := range extra {
		for _, v := range vs {
			params.Add(k, v)
		}
	}

	cacheKey := fmt.Sprintf("xtream/%s/%s", a.provider.ID, action)
	if id := extra.Get("series_id"); id != "" {
		cacheKey += "/" + id
	}

	data, ok := a.cache.Get(cacheKey)
	if !ok {
		var err error
		u := fmt.Sprintf("%s/player_api.php?%s", strings.TrimSuffix(a.provider.BaseURL, "/"), params.Encode())
		data, err = a.fetcher.Fetch(ctx, a.provider.ID, u, nil)
		if err != nil {
			return err
		}
		_ = a.cache.Put(cacheKey, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("action %s: %w", action, err)
	}
	return nil
}

func categoryAction(t models.MediaType) string {
	switch t {
	case models.MediaTVShows:
		return "get_series_categories"
	case models.MediaLive:
		return "get_live_categories"
	default:
		return "get_vod_categories"
	}
}

// FetchCategories lists provider-native categories of type t.
func (a *XtreamAdapter) FetchCategories(ctx context.Context, t models.MediaType) ([]Category, error) {
	var cats []xtreamCategory
	if err := a.apiGet(ctx, categoryAction(t), nil, &cats); err != nil {
		return nil, err
	}
	out := make([]Category, 0, len(cats))
	for _, c := range cats {
		if c.CategoryID == "" {
			continue
		}
		out = append(out, Category{ID: c.CategoryID.String(), Name: c.CategoryName, Type: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// streamURL builds the playable URL for one stream id.
func (a *XtreamAdapter) streamURL(segment, id, ext string) string {
	if ext == "" {
		ext = "mp4"
	}
	return fmt.Sprintf("%s/%s/%s/%s/%s.%s",
		strings.TrimSuffix(a.provider.BaseURL, "/"), segment,
		a.provider.Username, a.provider.Password, id, ext)
}

// FetchTitles streams the VOD or series catalog to emit.
func (a *XtreamAdapter) FetchTitles(ctx context.Context, t models.MediaType, emit func(RawTitle) error) error {
	switch t {
	case models.MediaMovies:
		return a.fetchMovies(ctx, emit)
	case models.MediaTVShows:
		return a.fetchSeries(ctx, emit)
	default:
		return fmt.Errorf("live entries are channels, not titles")
	}
}

func (a *XtreamAdapter) fetchMovies(ctx context.Context, emit func(RawTitle) error) error {
	var items []xtreamVOD
	if err := a.apiGet(ctx, "get_vod_streams", nil, &items); err != nil {
		return err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].StreamID < items[j].StreamID })

	for _, it := range items {
		if it.StreamID == "" || it.Name == "" {
			continue
		}
		name, year := SplitTitleYear(a.clean.Clean(it.Name))
		if name == "" || a.clean.Ignored(name) {
			continue
		}
		rt := RawTitle{
			ProviderItemID: it.StreamID.String(),
			Name:           it.Name,
			CleanName:      name,
			Year:           year,
			Type:           models.MediaMovies,
			CategoryID:     it.CategoryID.String(),
			MDBID:          atoi64(it.TMDBID.String()),
			Streams: models.StreamMap{
				"main": a.streamURL("movie", it.StreamID.String(), it.ContainerExtension),
			},
		}
		if err := emit(rt); err != nil {
			return err
		}
	}
	return nil
}

func (a *XtreamAdapter) fetchSeries(ctx context.Context, emit func(RawTitle) error) error {
	var items []xtreamSeries
	if err := a.apiGet(ctx, "get_series", nil, &items); err != nil {
		return err
	}
	sort.Slice(items, func(i, j int) bool { return items[i].SeriesID < items[j].SeriesID })

	for _, it := range items {
		if it.SeriesID == "" || it.Name == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		name, year := SplitTitleYear(a.clean.Clean(it.Name))
		if name == "" || a.clean.Ignored(name) {
			continue
		}

		extra := url.Values{}
		extra.Set("series_id", it.SeriesID.String())
		var info xtreamSeriesInfo
		if err := a.apiGet(ctx, "get_series_info", extra, &info); err != nil {
			return err
		}

		mdbID := atoi64(it.TMDBID.String())
		if mdbID == 0 {
			mdbID = atoi64(info.Info.TMDBID.String())
		}
		rt := RawTitle{
			ProviderItemID: it.SeriesID.String(),
			Name:           it.Name,
			CleanName:      name,
			Year:           year,
			Type:           models.MediaTVShows,
			CategoryID:     it.CategoryID.String(),
			MDBID:          mdbID,
			Streams:        a.episodeStreams(info),
		}
		if err := emit(rt); err != nil {
			return err
		}
	}
	return nil
}

// episodeStreams flattens a series-info response into an sXXeYY stream map.
func (a *XtreamAdapter) episodeStreams(info xtreamSeriesInfo) models.StreamMap {
	streams := models.StreamMap{}
	for season, eps := range info.Episodes {
		for _, ep := range eps {
			if ep.ID == "" {
				continue
			}
			s := ep.Season.String()
			if s == "" {
				s = season
			}
			key := fmt.Sprintf("s%se%s", pad2(s), pad2(ep.EpisodeNum.String()))
			streams[key] = a.streamURL("series", ep.ID.String(), ep.ContainerExtension)
		}
	}
	return streams
}

// FetchChannels lists the provider's live streams.
func (a *XtreamAdapter) FetchChannels(ctx context.Context) ([]models.Channel, error) {
	var items []xtreamLive
	if err := a.apiGet(ctx, "get_live_streams", nil, &items); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	out := make([]models.Channel, 0, len(items))
	for _, it := range items {
		if it.StreamID == "" {
			continue
		}
		out = append(out, models.Channel{
			ProviderID: a.provider.ID,
			ChannelID:  it.StreamID.String(),
			Name:       it.Name,
			LogoURL:    it.StreamIcon,
			CategoryID: it.CategoryID.String(),
			StreamURL:  a.streamURL("live", it.StreamID.String(), "ts"),
			UpdatedAt:  now,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func atoi64(s string) int64 {
	var n int64
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return 0
		}
		n = n*10 + int64(ch-'0')
	}
	return n
}
