package database

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// exerciseBackend runs the same persistence checks against any backend:
// a store written through b must be readable by a second store on b.
func exerciseBackend(t *testing.T, b Backend) {
	t.Helper()
	ctx := context.Background()

	s := New(b)
	require.NoError(t, s.Initialize(ctx, seed))
	v, err := s.Insert(ctx, Videos, Record{"title": "demo", "uploaded_by": 1})
	require.NoError(t, err)

	reopened := New(b)
	got, err := reopened.Get(ctx, Videos, Conditions{"id": v.ID()})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, v, got)

	admins, err := reopened.Query(ctx, Users, Conditions{"is_admin": true})
	require.NoError(t, err)
	assert.Len(t, admins, 1)
}

func TestFileBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "data.json")
	exerciseBackend(t, NewFileBackend(path))
}

func TestFileBackendMissingFileIsEmpty(t *testing.T) {
	b := NewFileBackend(filepath.Join(t.TempDir(), "absent.json"))
	d, err := b.Load(context.Background())
	require.NoError(t, err)
	for _, name := range Collections {
		assert.NotNil(t, d[name], name)
		assert.Empty(t, d[name], name)
	}
}

func TestFileBackendLayout(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.json")
	s := New(NewFileBackend(path))
	require.NoError(t, s.Initialize(ctx, seed))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	text := string(raw)

	assert.True(t, strings.HasPrefix(text, "{\n  \"users\": ["), text)
	usersAt := strings.Index(text, `"users"`)
	videosAt := strings.Index(text, `"videos"`)
	historyAt := strings.Index(text, `"play_history"`)
	assert.True(t, usersAt < videosAt && videosAt < historyAt, "collections out of order:\n%s", text)

	var doc map[string][]map[string]any
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc["users"], 1)
	assert.Empty(t, doc["videos"])
}

func TestFileBackendPreservesUnknownCollections(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"users":[],"favorites":[{"id":1,"video_id":2}]}`), 0o644))

	s := New(NewFileBackend(path))
	require.NoError(t, s.Initialize(ctx, seed))

	favs, err := s.Query(ctx, "favorites", nil)
	require.NoError(t, err)
	require.Len(t, favs, 1)
	assert.Equal(t, int64(2), favs[0].Int64("video_id"))
}

func TestFileBackendCorruptFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "data.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := New(NewFileBackend(path)).Query(ctx, Users, nil)
	assert.ErrorIs(t, err, ErrPersistence)

	recs, err := New(NewFileBackend(path), WithDegradeOnReadError(true)).Query(ctx, Users, nil)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestMemoryBackend(t *testing.T) {
	exerciseBackend(t, NewMemoryBackend(nil))
}

func TestMemoryBackendIsolatesCallers(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(nil)
	d, err := b.Load(ctx)
	require.NoError(t, err)
	d[Videos] = append(d[Videos], Record{"id": float64(1)})

	again, err := b.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, again[Videos])
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := newRedisBackend(client, "")
	defer b.Close()

	exerciseBackend(t, b)
	assert.True(t, mr.Exists(DefaultRedisKey))
}

func TestRedisBackendConnect(t *testing.T) {
	mr := miniredis.RunT(t)
	b, err := NewRedisBackend(context.Background(), RedisConfig{Addr: mr.Addr(), Key: "custom"})
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, b.Save(context.Background(), NewDataset()))
	assert.True(t, mr.Exists("custom"))
}

func TestRedisBackendUnavailable(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	b := newRedisBackend(client, "k")
	mr.Close()

	_, err = New(b).Query(context.Background(), Videos, nil)
	assert.ErrorIs(t, err, ErrPersistence)
}

func TestSQLBackend(t *testing.T) {
	b, err := NewSQLBackend("sqlite3", filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	defer b.Close()

	exerciseBackend(t, b)
}

func TestOpenBackend(t *testing.T) {
	dir := t.TempDir()

	b, err := OpenBackend(BackendConfig{Kind: "memory"})
	require.NoError(t, err)
	assert.IsType(t, &MemoryBackend{}, b)

	b, err = OpenBackend(BackendConfig{Path: filepath.Join(dir, "data.json")})
	require.NoError(t, err)
	assert.IsType(t, &FileBackend{}, b)

	b, err = OpenBackend(BackendConfig{Kind: "sqlite", Path: filepath.Join(dir, "x.db")})
	require.NoError(t, err)
	assert.IsType(t, &SQLBackend{}, b)
	require.NoError(t, b.Close())

	_, err = OpenBackend(BackendConfig{Kind: "file"})
	assert.Error(t, err)

	_, err = OpenBackend(BackendConfig{Kind: "etcd"})
	assert.Error(t, err)
}
