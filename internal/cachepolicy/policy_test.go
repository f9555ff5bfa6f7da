package cachepolicy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hours(n int) *int { return &n }

func TestCompileAndTTL(t *testing.T) {
	p, err := Compile([]Rule{
		{Pattern: "mdb/movie/search/{query}", TTLHours: hours(24)},
		{Pattern: "mdb/{type}/{id}", TTLHours: nil},
		{Pattern: "m3u/{provider}/playlist", TTLHours: hours(6)},
	})
	require.NoError(t, err)

	ttl, ok := p.TTL("mdb/movie/search/heat-1995")
	assert.True(t, ok)
	assert.Equal(t, 24*time.Hour, ttl)

	_, ok = p.TTL("mdb/movie/603")
	assert.False(t, ok, "infinite rule means no expiry")

	ttl, ok = p.TTL("m3u/prov1/playlist")
	assert.True(t, ok)
	assert.Equal(t, 6*time.Hour, ttl)

	_, ok = p.TTL("unmatched/path")
	assert.False(t, ok, "unmatched path never expires")

	_, ok = p.TTL("m3u/prov1/playlist/extra")
	assert.False(t, ok, "segment count must match exactly")
}

func TestFirstMatchWins(t *testing.T) {
	p, err := Compile([]Rule{
		{Pattern: "a/{x}", TTLHours: hours(1)},
		{Pattern: "a/b", TTLHours: hours(99)},
	})
	require.NoError(t, err)

	ttl, ok := p.TTL("a/b")
	assert.True(t, ok)
	assert.Equal(t, time.Hour, ttl)
}

func TestCompileRejectsBadRules(t *testing.T) {
	_, err := Compile([]Rule{{Pattern: "", TTLHours: hours(1)}})
	assert.Error(t, err)

	zero := 0
	_, err = Compile([]Rule{{Pattern: "a/b", TTLHours: &zero}})
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "policy.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
- pattern: mdb/movie/search/{query}
  ttl_hours: 12
- pattern: mdb/{type}/{id}
`), 0o644))

	p, err := Load(file)
	require.NoError(t, err)

	ttl, ok := p.TTL("mdb/movie/search/alien")
	assert.True(t, ok)
	assert.Equal(t, 12*time.Hour, ttl)
	_, ok = p.TTL("mdb/tv/42")
	assert.False(t, ok)
}

func TestLoadEmptyPath(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	_, ok := p.TTL("anything")
	assert.False(t, ok)
}
