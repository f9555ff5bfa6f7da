package diskcache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/catalogarr/catalogarr/internal/cachepolicy"
)

func hours(n int) *int { return &n }

func newTestStore(t *testing.T, rules []cachepolicy.Rule) *Store {
	t.Helper()
	policy, err := cachepolicy.Compile(rules)
	require.NoError(t, err)
	s, err := NewStore(t.TempDir(), policy)
	require.NoError(t, err)
	return s
}

func TestPutGetRoundTrip(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.Put("mdb/movie/603", []byte(`{"id":603}`)))

	data, ok := s.Get("mdb/movie/603")
	require.True(t, ok)
	assert.Equal(t, `{"id":603}`, string(data))

	_, ok = s.Get("mdb/movie/604")
	assert.False(t, ok)
}

func TestPutReplaces(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.Put("k/v", []byte("one")))
	require.NoError(t, s.Put("k/v", []byte("two")))
	data, ok := s.Get("k/v")
	require.True(t, ok)
	assert.Equal(t, "two", string(data))
}

func TestGetHonorsTTL(t *testing.T) {
	s := newTestStore(t, []cachepolicy.Rule{{Pattern: "short/{id}", TTLHours: hours(1)}})
	require.NoError(t, s.Put("short/a", []byte("x")))
	require.NoError(t, s.Put("forever/a", []byte("y")))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.filePath("short/a"), old, old))
	require.NoError(t, os.Chtimes(s.filePath("forever/a"), old, old))

	_, ok := s.Get("short/a")
	assert.False(t, ok, "expired entry must not be served")
	_, ok = s.Get("forever/a")
	assert.True(t, ok, "unmatched path never expires")
}

func TestDeletePrefix(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.Put("xtream/p1/get_series/1", []byte("a")))
	require.NoError(t, s.Put("xtream/p1/get_vod_streams", []byte("b")))
	require.NoError(t, s.Put("xtream/p2/get_vod_streams", []byte("c")))

	require.NoError(t, s.DeletePrefix("xtream/p1"))

	_, ok := s.Get("xtream/p1/get_vod_streams")
	assert.False(t, ok)
	_, ok = s.Get("xtream/p2/get_vod_streams")
	assert.True(t, ok)
}

func TestPurge(t *testing.T) {
	s := newTestStore(t, []cachepolicy.Rule{{Pattern: "short/{id}", TTLHours: hours(1)}})
	require.NoError(t, s.Put("short/old", []byte("x")))
	require.NoError(t, s.Put("short/new", []byte("y")))
	require.NoError(t, s.Put("keep/me", []byte("z")))

	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(s.filePath("short/old"), old, old))
	require.NoError(t, os.Chtimes(s.filePath("keep/me"), old, old))

	removed, err := s.Purge(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok := s.Get("short/old")
	assert.False(t, ok)
	_, ok = s.Get("short/new")
	assert.True(t, ok)
	_, ok = s.Get("keep/me")
	assert.True(t, ok)
}

func TestPurgePrunesEmptyDirs(t *testing.T) {
	s := newTestStore(t, []cachepolicy.Rule{{Pattern: "a/b/{id}", TTLHours: hours(1)}})
	require.NoError(t, s.Put("a/b/c", []byte("x")))

	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(s.filePath("a/b/c"), old, old))

	_, err := s.Purge(time.Now())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(s.root, "a"))
	assert.True(t, os.IsNotExist(err), "emptied directories are removed")
	_, err = os.Stat(s.root)
	assert.NoError(t, err, "the root itself stays")
}

func TestHostileKeysStayInRoot(t *testing.T) {
	s := newTestStore(t, nil)
	require.NoError(t, s.Put("../../etc/passwd", []byte("nope")))

	entries, err := os.ReadDir(filepath.Dir(s.root))
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "etc", e.Name())
	}
	_, ok := s.Get("../../etc/passwd")
	assert.True(t, ok, "sanitized key still round-trips")
}
