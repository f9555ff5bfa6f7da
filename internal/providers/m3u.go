package providers

import (
	"bufio"
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/catalogarr/catalogarr/internal/diskcache"
	"github.com/catalogarr/catalogarr/internal/fetch"
	"github.com/catalogarr/catalogarr/internal/models"
)

// uncategorized is the category name assigned when a playlist entry has
// no group-title attribute.
const uncategorized = "uncategorized"

var (
	reTvgName = regexp.MustCompile(`tvg-name="([^"]*)"`)
	reTvgID   = regexp.MustCompile(`tvg-id="([^"]*)"`)
	reTvgLogo = regexp.MustCompile(`tvg-logo="([^"]*)"`)
	reGroup   = regexp.MustCompile(`group-title="([^"]*)"`)
)

// M3UAdapter enumerates a flat playlist in one pass, deriving category ids
// by hashing category names and grouping episode entries into one title
// per series.
type M3UAdapter struct {
	provider models.Provider
	fetcher  *fetch.Client
	cache    *diskcache.Store
	clean    *cleaner
}

func NewM3UAdapter(p models.Provider, fetcher *fetch.Client, cache *diskcache.Store) *M3UAdapter {
	return &M3UAdapter{provider: p, fetcher: fetcher, cache: cache, clean: newCleaner(p)}
}

func (a *M3UAdapter) Kind() models.ProviderKind { return models.KindM3U }

// playlistEntry is one EXTINF/URL pair from the playlist.
type playlistEntry struct {
	Name  string
	Group string
	Logo  string
	TvgID string
	URL   string
	Type  models.MediaType
}

func (a *M3UAdapter) playlist(ctx context.Context) ([]playlistEntry, error) {
	cacheKey := fmt.Sprintf("m3u/%s/playlist", a.provider.ID)
	data, ok := a.cache.Get(cacheKey)
	if !ok {
		var err error
		data, err = a.fetcher.Fetch(ctx, a.provider.ID, a.provider.BaseURL, nil)
		if err != nil {
			return nil, err
		}
		_ = a.cache.Put(cacheKey, data)
	}
	return parsePlaylist(strings.NewReader(string(data))), nil
}

// parsePlaylist scans M3U content. Each stream is an EXTINF attribute line
// followed by a URL line.
func parsePlaylist(r *strings.Reader) []playlistEntry {
	var entries []playlistEntry
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var current *playlistEntry
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(line, "#EXTINF:"):
			e := playlistEntry{}
			e.Name = matchFirst(reTvgName, line)
			if e.Name == "" {
				if c := strings.LastIndex(line, ","); c != -1 {
					e.Name = strings.TrimSpace(line[c+1:])
				}
			}
			e.Group = matchFirst(reGroup, line)
			e.Logo = matchFirst(reTvgLogo, line)
			e.TvgID = matchFirst(reTvgID, line)
			current = &e
		case line == "" || strings.HasPrefix(line, "#"):
			// directives between EXTINF and URL are skipped
		default:
			if current == nil || current.Name == "" {
				current = nil
				continue
			}
			current.URL = line
			current.Type = classifyEntry(current.Name, current.Group, line)
			entries = append(entries, *current)
			current = nil
		}
	}
	return entries
}

// classifyEntry decides whether a playlist entry is a movie, a TV episode,
// or a live channel from its URL, group and title markers.
func classifyEntry(name, group, url string) models.MediaType {
	lowerURL := strings.ToLower(url)
	lowerGroup := strings.ToLower(group)

	isSeries := strings.Contains(lowerURL, "/series/") ||
		strings.Contains(lowerGroup, "series") || strings.Contains(lowerGroup, "tv shows") ||
		seasonEpisodeRe.MatchString(name)
	if isSeries {
		return models.MediaTVShows
	}

	isMovie := strings.Contains(lowerURL, "/movie/") ||
		strings.HasSuffix(lowerURL, ".mp4") || strings.HasSuffix(lowerURL, ".mkv") || strings.HasSuffix(lowerURL, ".avi") ||
		strings.Contains(lowerGroup, "vod") || strings.Contains(lowerGroup, "movie") || strings.Contains(lowerGroup, "film")
	if isMovie {
		return models.MediaMovies
	}
	return models.MediaLive
}

func matchFirst(re *regexp.Regexp, s string) string {
	m := re.FindStringSubmatch(s)
	if len(m) < 2 {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func groupOrDefault(group string) string {
	if strings.TrimSpace(group) == "" {
		return uncategorized
	}
	return group
}

// categoryID derives a stable id from the category name.
func categoryID(group string) string {
	return HashID("category", strings.ToLower(groupOrDefault(group)))
}

// FetchCategories collects the distinct groups of type t from the playlist.
func (a *M3UAdapter) FetchCategories(ctx context.Context, t models.MediaType) ([]Category, error) {
	entries, err := a.playlist(ctx)
	if err != nil {
		return nil, err
	}
	seen := map[string]string{}
	for _, e := range entries {
		if e.Type != t {
			continue
		}
		name := groupOrDefault(e.Group)
		seen[categoryID(name)] = name
	}
	out := make([]Category, 0, len(seen))
	for id, name := range seen {
		out = append(out, Category{ID: id, Name: name, Type: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// FetchTitles emits one RawTitle per movie, and one per series with the
// episode streams aggregated, in a stable order.
func (a *M3UAdapter) FetchTitles(ctx context.Context, t models.MediaType, emit func(RawTitle) error) error {
	if t == models.MediaLive {
		return fmt.Errorf("live entries are channels, not titles")
	}
	entries, err := a.playlist(ctx)
	if err != nil {
		return err
	}

	titles := map[string]*RawTitle{}
	for _, e := range entries {
		if e.Type != t {
			continue
		}
		cleaned := a.clean.Clean(e.Name)
		if t == models.MediaTVShows {
			cleaned = ExtractSeriesName(cleaned)
		}
		name, year := SplitTitleYear(cleaned)
		if name == "" || a.clean.Ignored(name) {
			continue
		}

		itemID := HashID(string(t), NormalizeTitle(name), fmt.Sprintf("%d", year))
		rt, ok := titles[itemID]
		if !ok {
			rt = &RawTitle{
				ProviderItemID: itemID,
				Name:           e.Name,
				CleanName:      name,
				Year:           year,
				Type:           t,
				CategoryID:     categoryID(e.Group),
				Streams:        models.StreamMap{},
			}
			titles[itemID] = rt
		}
		streamID := EpisodeMarker(e.Name)
		if streamID == "" {
			streamID = HashID("stream", e.URL)
		}
		rt.Streams[streamID] = e.URL
	}

	ids := make([]string, 0, len(titles))
	for id := range titles {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if err := emit(*titles[id]); err != nil {
			return err
		}
	}
	return nil
}

// FetchChannels returns the live entries of the playlist as channels.
func (a *M3UAdapter) FetchChannels(ctx context.Context) ([]models.Channel, error) {
	entries, err := a.playlist(ctx)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var out []models.Channel
	for _, e := range entries {
		if e.Type != models.MediaLive {
			continue
		}
		id := e.TvgID
		if id == "" {
			id = HashID("channel", NormalizeTitle(e.Name))
		}
		out = append(out, models.Channel{
			ProviderID: a.provider.ID,
			ChannelID:  id,
			Name:       e.Name,
			LogoURL:    e.Logo,
			CategoryID: categoryID(e.Group),
			StreamURL:  e.URL,
			UpdatedAt:  now,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}
