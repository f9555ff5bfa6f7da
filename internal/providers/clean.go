package providers

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/catalogarr/catalogarr/internal/models"
)

// cleaner applies a provider's ordered cleanup rules and ignored-title set.
type cleaner struct {
	rules   []compiledCleanupRule
	ignored map[string]bool
}

type compiledCleanupRule struct {
	re          *regexp.Regexp
	replacement string
}

func newCleaner(p models.Provider) *cleaner {
	c := &cleaner{ignored: make(map[string]bool, len(p.IgnoredTitles))}
	for _, r := range p.CleanupRules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			// A broken rule is skipped rather than failing the whole sync.
			continue
		}
		c.rules = append(c.rules, compiledCleanupRule{re: re, replacement: r.Replacement})
	}
	for _, t := range p.IgnoredTitles {
		c.ignored[NormalizeTitle(t)] = true
	}
	return c
}

// Clean runs the ordered rules over a raw name and strips quality tags.
func (c *cleaner) Clean(name string) string {
	for _, r := range c.rules {
		name = r.re.ReplaceAllString(name, r.replacement)
	}
	return strings.TrimSpace(stripQualityTags(name))
}

// Ignored reports whether a cleaned name is in the provider's ignored set.
func (c *cleaner) Ignored(name string) bool {
	return c.ignored[NormalizeTitle(name)]
}

var yearRe = regexp.MustCompile(`(?i)\b(19|20)\d{2}\b`)

// SplitTitleYear extracts a release-year hint from a title, preferring the
// last year-looking token, and returns the title without it. A title that
// is nothing but a year keeps its name and carries no hint.
func SplitTitleYear(name string) (string, int) {
	year := 0
	stripped := name
	if m := yearRe.FindAllStringIndex(name, -1); len(m) > 0 {
		last := m[len(m)-1]
		year = atoiSafe(name[last[0]:last[1]])
		stripped = name[:last[0]] + name[last[1]:]
	}
	title := strings.TrimSpace(strings.Trim(stripped, "()[] -"))
	if title == "" {
		return collapseWhitespace(strings.TrimSpace(name)), 0
	}
	return collapseWhitespace(title), year
}

var qualityTagRe = regexp.MustCompile(`(?i)\b(2160p|1080p|720p|480p|4k|uhd|hdr|x264|x265|h264|h265|hevc|webrip|web-dl|dvdrip|bluray|remux|multi-sub|multisub)\b`)

// stripQualityTags removes common quality/rip tags without touching the
// casing of what remains.
func stripQualityTags(s string) string {
	return collapseWhitespace(qualityTagRe.ReplaceAllString(s, " "))
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeTitle lowercases and flattens punctuation for dedup keys.
func NormalizeTitle(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(":", " ", "-", " ", ".", " ", "_", " ", "(", " ", ")", " ", "[", " ", "]", " ").Replace(s)
	return collapseWhitespace(s)
}

var (
	seasonEpisodeRe = regexp.MustCompile(`(?i)\bs(\d{1,2})\s*e(\d{1,3})\b`)
	seasonWordRe    = regexp.MustCompile(`(?i)\s*season\s*\d+.*$`)
	episodeWordRe   = regexp.MustCompile(`(?i)\s*episode\s*\d+.*$`)
)

// ExtractSeriesName removes season/episode markers from an episode title.
func ExtractSeriesName(title string) string {
	if loc := seasonEpisodeRe.FindStringIndex(title); loc != nil {
		title = title[:loc[0]]
	}
	title = seasonWordRe.ReplaceAllString(title, "")
	title = episodeWordRe.ReplaceAllString(title, "")
	return strings.TrimSpace(strings.Trim(title, " -"))
}

// EpisodeMarker returns a stable "sXXeYY" stream id for an episode title,
// or "" when the title carries no marker.
func EpisodeMarker(title string) string {
	m := seasonEpisodeRe.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	return fmt.Sprintf("s%se%s", pad2(m[1]), pad2(m[2]))
}

func pad2(s string) string {
	if len(s) == 1 {
		return "0" + s
	}
	return s
}

// HashID generates a stable id for items lacking a provider-native id.
// 32-bit FNV-1a over the normalized key.
func HashID(parts ...string) string {
	h := uint32(2166136261)
	key := strings.Join(parts, "|")
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return fmt.Sprintf("%08x", h)
}

func atoiSafe(s string) int {
	n := 0
	for _, ch := range s {
		if ch >= '0' && ch <= '9' {
			n = n*10 + int(ch-'0')
		}
	}
	return n
}
