// Package diskcache is the on-disk response cache shared by the provider
// and movie-database adapters. Entries are keyed by a hierarchical logical
// path; writes replace atomically and a background purger evicts entries
// per the active cache policy.
package diskcache

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/catalogarr/catalogarr/internal/cachepolicy"
)

// Store is the content-addressed disk store. Safe for concurrent use:
// writers use atomic rename, readers tolerate entries vanishing.
type Store struct {
	root   string
	policy *cachepolicy.Policy
}

// NewStore opens (creating if needed) a store rooted at dir.
func NewStore(dir string, policy *cachepolicy.Policy) (*Store, error) {
	if policy == nil {
		policy = &cachepolicy.Policy{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &Store{root: dir, policy: policy}, nil
}

// filePath maps a logical path to its on-disk location. Path segments are
// sanitized so a hostile key cannot escape the root.
func (s *Store) filePath(logical string) string {
	segments := strings.Split(strings.Trim(logical, "/"), "/")
	clean := make([]string, 0, len(segments))
	for _, seg := range segments {
		seg = strings.Map(func(r rune) rune {
			switch r {
			case '\\', ':', '*', '?', '"', '<', '>', '|':
				return '_'
			}
			return r
		}, seg)
		if seg == "" || seg == "." || seg == ".." {
			seg = "_"
		}
		clean = append(clean, seg)
	}
	return filepath.Join(append([]string{s.root}, clean...)...)
}

// Get returns the stored bytes for a logical path if present and not
// expired under the active policy.
func (s *Store) Get(logical string) ([]byte, bool) {
	path := s.filePath(logical)
	info, err := os.Stat(path)
	if err != nil {
		return nil, false
	}
	if ttl, bounded := s.policy.TTL(logical); bounded {
		if time.Since(info.ModTime()) > ttl {
			return nil, false
		}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		// The purger may have removed the entry between stat and read.
		return nil, false
	}
	return data, true
}

// Put atomically writes data under a logical path.
func (s *Store) Put(logical string, data []byte) error {
	path := s.filePath(logical)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create cache entry dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp cache file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write cache entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close cache entry: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("publish cache entry: %w", err)
	}
	return nil
}

// Delete removes one logical path. Missing entries are not an error.
func (s *Store) Delete(logical string) error {
	err := os.Remove(s.filePath(logical))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// DeletePrefix removes every entry under a logical prefix, e.g. the whole
// subtree of a deleted provider.
func (s *Store) DeletePrefix(logical string) error {
	return os.RemoveAll(s.filePath(logical))
}

// Purge walks the store once, removing entries older than their matched
// TTL, then prunes empty directories. Returns the number of removed
// entries.
func (s *Store) Purge(now time.Time) (int, error) {
	removed := 0
	err := filepath.Walk(s.root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() || strings.HasPrefix(info.Name(), ".tmp-") {
			return nil
		}
		rel, relErr := filepath.Rel(s.root, path)
		if relErr != nil {
			return relErr
		}
		logical := filepath.ToSlash(rel)
		ttl, bounded := s.policy.TTL(logical)
		if !bounded {
			return nil
		}
		if now.Sub(info.ModTime()) > ttl {
			if rmErr := os.Remove(path); rmErr == nil || os.IsNotExist(rmErr) {
				removed++
			}
		}
		return nil
	})
	if err != nil {
		return removed, err
	}
	s.pruneEmptyDirs(s.root)
	return removed, nil
}

// pruneEmptyDirs removes directories left empty by eviction, depth first.
func (s *Store) pruneEmptyDirs(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	empty := true
	for _, e := range entries {
		if e.IsDir() {
			if !s.pruneEmptyDirs(filepath.Join(dir, e.Name())) {
				empty = false
			}
		} else {
			empty = false
		}
	}
	if empty && dir != s.root {
		if err := os.Remove(dir); err == nil {
			return true
		}
		return false
	}
	return empty && dir == s.root
}
