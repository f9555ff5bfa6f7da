// Package memory holds in-memory repository implementations backing the
// service tests. They mirror the Postgres semantics, including source
// ordering and empty-title deletion.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/catalogarr/catalogarr/internal/models"
	"github.com/catalogarr/catalogarr/internal/repository"
)

// NewStore returns a repository.Store backed entirely by memory.
func NewStore() *repository.Store {
	return &repository.Store{
		Providers:      NewProviderRepo(),
		ProviderTitles: NewProviderTitleRepo(),
		Titles:         NewTitleRepo(),
		Categories:     NewCategoryRepo(),
		Channels:       NewChannelRepo(),
		Programs:       NewProgramRepo(),
		Jobs:           NewJobHistoryRepo(),
		Watchlists:     NewWatchlistRepo(),
	}
}

type ProviderRepo struct {
	mu    sync.Mutex
	items map[string]models.Provider
}

func NewProviderRepo() *ProviderRepo {
	return &ProviderRepo{items: map[string]models.Provider{}}
}

func (r *ProviderRepo) Upsert(_ context.Context, p models.Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[p.ID] = p
	return nil
}

func (r *ProviderRepo) Get(_ context.Context, id string) (*models.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.items[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &p, nil
}

func (r *ProviderRepo) List(_ context.Context) ([]models.Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.Provider, 0, len(r.items))
	for _, p := range r.items {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *ProviderRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.items, id)
	return nil
}

type ProviderTitleRepo struct {
	mu    sync.Mutex
	items map[string]models.ProviderTitle // "{provider_id}/{title_key}"
}

func NewProviderTitleRepo() *ProviderTitleRepo {
	return &ProviderTitleRepo{items: map[string]models.ProviderTitle{}}
}

func ptKey(providerID, titleKey string) string { return providerID + "/" + titleKey }

func (r *ProviderTitleRepo) BulkUpsert(_ context.Context, items []models.ProviderTitle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, it := range items {
		r.items[ptKey(it.ProviderID, it.TitleKey)] = it
	}
	return nil
}

func (r *ProviderTitleRepo) ListByProvider(_ context.Context, providerID string, t models.MediaType) ([]models.ProviderTitle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProviderTitle
	for _, it := range r.items {
		if it.ProviderID != providerID {
			continue
		}
		if t != "" && it.Type != t {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TitleKey < out[j].TitleKey })
	return out, nil
}

func (r *ProviderTitleRepo) DeleteByProvider(_ context.Context, providerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, it := range r.items {
		if it.ProviderID == providerID {
			delete(r.items, k)
			n++
		}
	}
	return n, nil
}

func (r *ProviderTitleRepo) DeleteByProviderType(_ context.Context, providerID string, t models.MediaType) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, it := range r.items {
		if it.ProviderID == providerID && it.Type == t {
			delete(r.items, k)
			n++
		}
	}
	return n, nil
}

func (r *ProviderTitleRepo) DeleteKeys(_ context.Context, providerID string, titleKeys []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, tk := range titleKeys {
		k := ptKey(providerID, tk)
		if _, ok := r.items[k]; ok {
			delete(r.items, k)
			n++
		}
	}
	return n, nil
}

func (r *ProviderTitleRepo) ResetLastUpdated(_ context.Context, providerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, it := range r.items {
		if it.ProviderID == providerID {
			it.LastUpdated = time.Time{}
			r.items[k] = it
			n++
		}
	}
	return n, nil
}

type TitleRepo struct {
	mu    sync.Mutex
	items map[string]models.Title
}

func NewTitleRepo() *TitleRepo {
	return &TitleRepo{items: map[string]models.Title{}}
}

func (r *TitleRepo) BulkUpsertSources(_ context.Context, updates []repository.SourceUpdate) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range updates {
		t, ok := r.items[u.Key]
		if !ok {
			t = models.Title{
				Key:          u.Key,
				MDBID:        u.MDBID,
				Type:         u.Type,
				DisplayTitle: u.DisplayTitle,
				Meta:         u.Meta,
			}
		}
		kept := t.Sources[:0]
		for _, s := range t.Sources {
			if s.ProviderID != u.Source.ProviderID {
				kept = append(kept, s)
			}
		}
		t.Sources = append(kept, u.Source)
		sort.SliceStable(t.Sources, func(i, j int) bool {
			if t.Sources[i].Priority != t.Sources[j].Priority {
				return t.Sources[i].Priority < t.Sources[j].Priority
			}
			return t.Sources[i].ProviderID < t.Sources[j].ProviderID
		})
		t.UpdatedAt = time.Now().UTC()
		r.items[u.Key] = t
	}
	return nil
}

func (r *TitleRepo) Get(_ context.Context, key string) (*models.Title, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.items[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &t, nil
}

func (r *TitleRepo) List(_ context.Context, t models.MediaType) ([]models.Title, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Title
	for _, it := range r.items {
		if t != "" && it.Type != t {
			continue
		}
		out = append(out, it)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (r *TitleRepo) removeSources(match func(models.Source, models.Title) bool) int {
	n := 0
	for k, t := range r.items {
		kept := t.Sources[:0]
		for _, s := range t.Sources {
			if match(s, t) {
				n++
				continue
			}
			kept = append(kept, s)
		}
		t.Sources = kept
		r.items[k] = t
	}
	return n
}

func (r *TitleRepo) RemoveSourcesByProvider(_ context.Context, providerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeSources(func(s models.Source, _ models.Title) bool {
		return s.ProviderID == providerID
	}), nil
}

func (r *TitleRepo) RemoveSourcesByProviderType(_ context.Context, providerID string, t models.MediaType) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeSources(func(s models.Source, title models.Title) bool {
		return s.ProviderID == providerID && title.Type == t
	}), nil
}

func (r *TitleRepo) RemoveSourceKeys(_ context.Context, providerID string, titleKeys []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, key := range titleKeys {
		t, ok := r.items[key]
		if !ok {
			continue
		}
		kept := t.Sources[:0]
		for _, s := range t.Sources {
			if s.ProviderID == providerID {
				n++
				continue
			}
			kept = append(kept, s)
		}
		t.Sources = kept
		r.items[key] = t
	}
	return n, nil
}

func (r *TitleRepo) DeleteEmpty(_ context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var keys []string
	for k, t := range r.items {
		if len(t.Sources) == 0 {
			delete(r.items, k)
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (r *TitleRepo) Count(_ context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.items), nil
}

type CategoryRepo struct {
	mu    sync.Mutex
	items map[string]models.ProviderCategory // "{provider_id}/{type}-{category_id}"
}

func NewCategoryRepo() *CategoryRepo {
	return &CategoryRepo{items: map[string]models.ProviderCategory{}}
}

func (r *CategoryRepo) BulkUpsert(_ context.Context, cats []models.ProviderCategory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range cats {
		r.items[c.ProviderID+"/"+c.CategoryKey()] = c
	}
	return nil
}

func (r *CategoryRepo) ListByProvider(_ context.Context, providerID string) ([]models.ProviderCategory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ProviderCategory
	for _, c := range r.items {
		if c.ProviderID == providerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryKey() < out[j].CategoryKey() })
	return out, nil
}

func (r *CategoryRepo) DeleteByProvider(_ context.Context, providerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, c := range r.items {
		if c.ProviderID == providerID {
			delete(r.items, k)
			n++
		}
	}
	return n, nil
}

type ChannelRepo struct {
	mu    sync.Mutex
	items map[string]models.Channel // "{provider_id}/{channel_id}"
}

func NewChannelRepo() *ChannelRepo {
	return &ChannelRepo{items: map[string]models.Channel{}}
}

func (r *ChannelRepo) BulkUpsert(_ context.Context, channels []models.Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range channels {
		r.items[c.ProviderID+"/"+c.ChannelID] = c
	}
	return nil
}

func (r *ChannelRepo) ListByProvider(_ context.Context, providerID string) ([]models.Channel, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Channel
	for _, c := range r.items {
		if c.ProviderID == providerID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelID < out[j].ChannelID })
	return out, nil
}

func (r *ChannelRepo) DeleteByProvider(_ context.Context, providerID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var refs []string
	for k, c := range r.items {
		if c.ProviderID == providerID {
			delete(r.items, k)
			refs = append(refs, k)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

func (r *ChannelRepo) ListStale(_ context.Context, providerID string, before time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var refs []string
	for k, c := range r.items {
		if c.ProviderID == providerID && c.UpdatedAt.Before(before) {
			refs = append(refs, k)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

func (r *ChannelRepo) DeleteStale(_ context.Context, providerID string, before time.Time) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var refs []string
	for k, c := range r.items {
		if c.ProviderID == providerID && c.UpdatedAt.Before(before) {
			delete(r.items, k)
			refs = append(refs, k)
		}
	}
	sort.Strings(refs)
	return refs, nil
}

type ProgramRepo struct {
	mu    sync.Mutex
	items []models.Program
}

func NewProgramRepo() *ProgramRepo { return &ProgramRepo{} }

func (r *ProgramRepo) BulkUpsert(_ context.Context, programs []models.Program) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range programs {
		replaced := false
		for i, old := range r.items {
			if old.ProviderID == p.ProviderID && old.ChannelID == p.ChannelID && old.StartTS == p.StartTS {
				r.items[i] = p
				replaced = true
				break
			}
		}
		if !replaced {
			r.items = append(r.items, p)
		}
	}
	return nil
}

func (r *ProgramRepo) deleteWhere(match func(models.Program) bool) int {
	kept := r.items[:0]
	n := 0
	for _, p := range r.items {
		if match(p) {
			n++
			continue
		}
		kept = append(kept, p)
	}
	r.items = kept
	return n
}

func (r *ProgramRepo) DeleteByProvider(_ context.Context, providerID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteWhere(func(p models.Program) bool { return p.ProviderID == providerID }), nil
}

func (r *ProgramRepo) DeleteByChannel(_ context.Context, providerID, channelID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteWhere(func(p models.Program) bool {
		return p.ProviderID == providerID && p.ChannelID == channelID
	}), nil
}

func (r *ProgramRepo) DeleteEndedBefore(_ context.Context, ts int64) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.deleteWhere(func(p models.Program) bool { return p.StopTS < ts }), nil
}

type JobHistoryRepo struct {
	mu    sync.Mutex
	items []models.JobHistory
}

func NewJobHistoryRepo() *JobHistoryRepo { return &JobHistoryRepo{} }

func (r *JobHistoryRepo) Record(_ context.Context, h models.JobHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, old := range r.items {
		if old.JobName == h.JobName && old.RunID == h.RunID {
			r.items[i] = h
			return nil
		}
	}
	r.items = append(r.items, h)
	return nil
}

func (r *JobHistoryRepo) List(_ context.Context, jobName string, limit int) ([]models.JobHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.JobHistory
	for _, h := range r.items {
		if jobName != "" && h.JobName != jobName {
			continue
		}
		out = append(out, h)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *JobHistoryRepo) LastRuns(_ context.Context) (map[string]time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := map[string]time.Time{}
	for _, h := range r.items {
		if h.Status != models.JobCompleted {
			continue
		}
		if h.StartedAt.After(out[h.JobName]) {
			out[h.JobName] = h.StartedAt
		}
	}
	return out, nil
}

type WatchlistRepo struct {
	mu    sync.Mutex
	items map[string]models.Watchlist
}

func NewWatchlistRepo() *WatchlistRepo {
	return &WatchlistRepo{items: map[string]models.Watchlist{}}
}

// Put seeds a watchlist; used by tests.
func (r *WatchlistRepo) Put(w models.Watchlist) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[w.UserID] = w
}

// Get returns a watchlist snapshot; used by tests.
func (r *WatchlistRepo) Get(userID string) (models.Watchlist, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.items[userID]
	return w, ok
}

func (r *WatchlistRepo) RemoveTitleRefs(_ context.Context, titleKeys []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := map[string]bool{}
	for _, k := range titleKeys {
		drop[k] = true
	}
	n := 0
	for id, w := range r.items {
		kept := w.TitleKeys[:0]
		for _, k := range w.TitleKeys {
			if drop[k] {
				n++
				continue
			}
			kept = append(kept, k)
		}
		w.TitleKeys = kept
		r.items[id] = w
	}
	return n, nil
}

func (r *WatchlistRepo) RemoveChannelRefs(_ context.Context, channelRefs []string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop := map[string]bool{}
	for _, ref := range channelRefs {
		drop[strings.TrimSpace(ref)] = true
	}
	n := 0
	for id, w := range r.items {
		kept := w.Channels[:0]
		for _, ref := range w.Channels {
			if drop[ref] {
				n++
				continue
			}
			kept = append(kept, ref)
		}
		w.Channels = kept
		r.items[id] = w
	}
	return n, nil
}
