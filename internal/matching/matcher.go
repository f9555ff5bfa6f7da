// Package matching resolves cleaned provider titles to movie-database
// entries. A title either matches exactly one entry or is ignored; the
// matcher never guesses between close candidates.
package matching

import (
	"context"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/catalogarr/catalogarr/internal/fetch"
	"github.com/catalogarr/catalogarr/internal/mdb"
	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/providers"
)

const (
	// acceptThreshold is the minimum similarity of the best candidate.
	acceptThreshold = 0.90
	// marginThreshold is the minimum lead of the best candidate over the
	// runner-up. A narrower lead is ambiguous and rejected.
	marginThreshold = 0.05
	// yearTolerance allows provider year hints to be off by one.
	yearTolerance = 1

	// ReasonNoMatch marks provider titles that found no acceptable entry.
	ReasonNoMatch = "no-mdb-match"
)

// MetadataSource is the slice of the movie-database client the matcher needs.
type MetadataSource interface {
	SearchTitle(ctx context.Context, t models.MediaType, name string, year int) ([]mdb.SearchResult, error)
	GetTitle(ctx context.Context, t models.MediaType, mdbID int64) (*models.MDBMeta, error)
	FindByExternalID(ctx context.Context, kind mdb.ExternalIDKind, id string, t models.MediaType) (*models.MDBMeta, error)
}

// Result is the outcome for one provider title. Meta is nil when the title
// was rejected; SearchedName records the query used, for diagnostics.
type Result struct {
	Meta         *models.MDBMeta
	SearchedName string
}

func (r Result) Matched() bool { return r.Meta != nil }

// Matcher resolves provider titles against a metadata source.
type Matcher struct {
	source MetadataSource
}

func New(source MetadataSource) *Matcher {
	return &Matcher{source: source}
}

// Match resolves one raw title. Provider-supplied ids short-circuit the
// search. A client error from the metadata source (bad request, not found)
// counts as a rejection, not a failure.
func (m *Matcher) Match(ctx context.Context, raw providers.RawTitle) (Result, error) {
	if raw.MDBID != 0 {
		meta, err := m.source.GetTitle(ctx, raw.Type, raw.MDBID)
		if err != nil {
			if fetch.KindOf(err) == fetch.KindHTTP4xx {
				return Result{SearchedName: raw.CleanName}, nil
			}
			return Result{}, err
		}
		return Result{Meta: meta, SearchedName: raw.CleanName}, nil
	}

	if raw.ExternalIMDB != "" {
		meta, err := m.source.FindByExternalID(ctx, mdb.ExternalIMDB, raw.ExternalIMDB, raw.Type)
		if err != nil {
			if fetch.KindOf(err) != fetch.KindHTTP4xx {
				return Result{}, err
			}
		} else if meta != nil {
			return Result{Meta: meta, SearchedName: raw.CleanName}, nil
		}
		// Fall through to name search when the external id resolves to
		// nothing or to more than one entry.
	}

	return m.search(ctx, raw)
}

func (m *Matcher) search(ctx context.Context, raw providers.RawTitle) (Result, error) {
	query := raw.CleanName
	candidates, err := m.source.SearchTitle(ctx, raw.Type, query, raw.Year)
	if err != nil {
		if fetch.KindOf(err) == fetch.KindHTTP4xx {
			return Result{SearchedName: query}, nil
		}
		return Result{}, err
	}
	// A year hint can be wrong; widen the search before giving up.
	if len(candidates) == 0 && raw.Year > 0 {
		candidates, err = m.source.SearchTitle(ctx, raw.Type, query, 0)
		if err != nil {
			if fetch.KindOf(err) == fetch.KindHTTP4xx {
				return Result{SearchedName: query}, nil
			}
			return Result{}, err
		}
	}

	best := pick(query, raw.Year, candidates)
	if best == nil {
		return Result{SearchedName: query}, nil
	}

	meta, err := m.source.GetTitle(ctx, raw.Type, best.ID)
	if err != nil {
		if fetch.KindOf(err) == fetch.KindHTTP4xx {
			return Result{SearchedName: query}, nil
		}
		return Result{}, err
	}
	return Result{Meta: meta, SearchedName: query}, nil
}

type scored struct {
	candidate mdb.SearchResult
	score     float64
}

// pick applies year eligibility, similarity scoring and the acceptance
// margin, returning the winning candidate or nil.
func pick(query string, year int, candidates []mdb.SearchResult) *mdb.SearchResult {
	normQuery := Normalize(query)
	var eligible []scored
	for _, c := range candidates {
		if year > 0 {
			cy := c.Year()
			if cy != 0 && abs(cy-year) > yearTolerance {
				continue
			}
		}
		s := Similarity(normQuery, Normalize(c.Title))
		if c.OriginalTitle != "" {
			if alt := Similarity(normQuery, Normalize(c.OriginalTitle)); alt > s {
				s = alt
			}
		}
		eligible = append(eligible, scored{candidate: c, score: s})
	}
	if len(eligible) == 0 {
		return nil
	}

	sort.Slice(eligible, func(i, j int) bool {
		a, b := eligible[i], eligible[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.candidate.Popularity != b.candidate.Popularity {
			return a.candidate.Popularity > b.candidate.Popularity
		}
		if a.candidate.ReleaseDate != b.candidate.ReleaseDate {
			return a.candidate.ReleaseDate < b.candidate.ReleaseDate
		}
		return a.candidate.ID < b.candidate.ID
	})

	if eligible[0].score < acceptThreshold {
		return nil
	}
	if len(eligible) > 1 && eligible[0].score-eligible[1].score < marginThreshold {
		return nil
	}
	return &eligible[0].candidate
}

// Normalize case-folds, strips diacritics and turns punctuation into word
// breaks so that "Spider-Man: 2" and "spider man 2" compare equal.
func Normalize(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		switch {
		case unicode.Is(unicode.Mn, r):
			// combining marks from decomposition are dropped
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			// punctuation separates words instead of vanishing
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Similarity is a Levenshtein ratio in [0,1]; 1 means equal strings.
func Similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	la, lb := len(a), len(b)
	if la == 0 || lb == 0 {
		return 0
	}
	maxLen := la
	if lb > maxLen {
		maxLen = lb
	}
	return 1 - float64(levenshtein(a, b))/float64(maxLen)
}

func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	if len(ra) == 0 {
		return len(rb)
	}
	if len(rb) == 0 {
		return len(ra)
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(curr[j-1]+1, prev[j]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
