package cache

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() map[string][]float32 {
	return map[string][]float32{
		Key("nomic", "aaa"): {0.1, -0.2, 0.3},
		Key("nomic", "bbb"): {float32(math.Pi), 0, -1e-7},
	}
}

// exerciseStore runs the contract every Store must satisfy.
func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.GetMany(ctx, []string{Key("nomic", "aaa")})
	require.NoError(t, err)
	assert.Empty(t, got)

	require.NoError(t, s.PutMany(ctx, sampleEntries()))

	got, err = s.GetMany(ctx, []string{Key("nomic", "aaa"), Key("nomic", "bbb"), Key("nomic", "zzz")})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, sampleEntries()[Key("nomic", "bbb")], got[Key("nomic", "bbb")], "vectors round-trip bit-identical")

	// Same hash, other model: separate entry.
	got, err = s.GetMany(ctx, []string{Key("minilm", "aaa")})
	require.NoError(t, err)
	assert.Empty(t, got)

	// Last writer wins.
	require.NoError(t, s.PutMany(ctx, map[string][]float32{Key("nomic", "aaa"): {9, 9, 9}}))
	got, err = s.GetMany(ctx, []string{Key("nomic", "aaa")})
	require.NoError(t, err)
	assert.Equal(t, []float32{9, 9, 9}, got[Key("nomic", "aaa")])

	require.NoError(t, s.PutMany(ctx, nil))
	got, err = s.GetMany(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	exerciseStore(t, s)
	assert.Equal(t, 2, s.Len())
}

func TestMemoryStore_CopiesVectors(t *testing.T) {
	s := NewMemoryStore()
	v := []float32{1, 2}
	require.NoError(t, s.PutMany(context.Background(), map[string][]float32{"k": v}))
	v[0] = 42

	got, err := s.GetMany(context.Background(), []string{"k"})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, got["k"])
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache", "embeddings.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	exerciseStore(t, s)
	require.NoError(t, s.Close())

	// Reopen: entries survive.
	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()

	n, err := s.Len(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := s.GetMany(context.Background(), []string{Key("nomic", "bbb")})
	require.NoError(t, err)
	assert.Equal(t, sampleEntries()[Key("nomic", "bbb")], got[Key("nomic", "bbb")])
}

func TestSQLiteStore_LargeLookup(t *testing.T) {
	s, err := OpenSQLite(filepath.Join(t.TempDir(), "embeddings.db"))
	require.NoError(t, err)
	defer s.Close()

	entries := make(map[string][]float32)
	keys := make([]string, 0, 1200)
	for i := 0; i < 1200; i++ {
		k := Key("m", fmt.Sprintf("hash-%d", i))
		entries[k] = []float32{float32(i)}
		keys = append(keys, k)
	}
	require.NoError(t, s.PutMany(context.Background(), entries))

	got, err := s.GetMany(context.Background(), keys)
	require.NoError(t, err)
	assert.Len(t, got, len(entries))
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisFromClient(client, "", time.Hour)
	defer s.Close()

	exerciseStore(t, s)
	assert.True(t, mr.Exists("coderag:emb:"+Key("nomic", "aaa")))

	mr.FastForward(2 * time.Hour)
	got, err := s.GetMany(context.Background(), []string{Key("nomic", "aaa")})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestNewRedis_ConnectionFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := NewRedis(ctx, RedisOptions{Addr: "127.0.0.1:1"})
	assert.Error(t, err)
}

type countingStore struct {
	*MemoryStore
	lookups int
}

func (c *countingStore) GetMany(ctx context.Context, keys []string) (map[string][]float32, error) {
	c.lookups += len(keys)
	return c.MemoryStore.GetMany(ctx, keys)
}

func TestLRU(t *testing.T) {
	back := &countingStore{MemoryStore: NewMemoryStore()}
	l, err := NewLRU(back, 10)
	require.NoError(t, err)
	exerciseStore(t, l)

	back.lookups = 0
	_, err = l.GetMany(context.Background(), []string{Key("nomic", "aaa"), Key("nomic", "bbb")})
	require.NoError(t, err)
	assert.Zero(t, back.lookups, "warm keys are served from memory")
}

func TestLRU_FillsFromBackingStore(t *testing.T) {
	back := &countingStore{MemoryStore: NewMemoryStore()}
	require.NoError(t, back.PutMany(context.Background(), sampleEntries()))

	l, err := NewLRU(back, 0)
	require.NoError(t, err)

	got, err := l.GetMany(context.Background(), []string{Key("nomic", "aaa")})
	require.NoError(t, err)
	assert.Len(t, got, 1)
	assert.Equal(t, 1, back.lookups)
	assert.Equal(t, 1, l.Len())

	_, err = l.GetMany(context.Background(), []string{Key("nomic", "aaa")})
	require.NoError(t, err)
	assert.Equal(t, 1, back.lookups)
}
