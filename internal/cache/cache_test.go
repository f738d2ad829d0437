package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestCache(maxEntries int, maxBytes int64, clock *fakeClock) *Cache[string] {
	return New[string](Options{
		MaxEntries: maxEntries,
		MaxBytes:   maxBytes,
		DefaultTTL: time.Minute,
		Now:        clock.Now,
	})
}

func TestSetGet(t *testing.T) {
	c := newTestCache(10, 1024, newFakeClock())

	require.NoError(t, c.Set("artist:title", "lyrics"))
	v, ok := c.Get("artist:title")
	require.True(t, ok)
	assert.Equal(t, "lyrics", v)

	_, ok = c.Get("missing")
	assert.False(t, ok)
}

func TestKeyNormalization(t *testing.T) {
	c := newTestCache(10, 1024, newFakeClock())

	require.NoError(t, c.Set("  The Beatles : Let It Be ", "v1"))
	v, ok := c.Get("the beatles:let it be")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	require.NoError(t, c.Set("THE BEATLES:LET IT BE", "v2"))
	assert.Equal(t, 1, c.Stats().Entries)

	// decomposed and composed e-acute
	require.NoError(t, c.Set("beyonce\u0301:halo", "x"))
	assert.True(t, c.Contains("beyonc\u00e9:halo"))
}

func TestTTLExpiry(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(10, 1024, clock)

	require.NoError(t, c.SetWithTTL("k", "v", 10*time.Second))
	clock.Advance(9 * time.Second)
	assert.True(t, c.Contains("k"))

	clock.Advance(time.Second)
	assert.False(t, c.Contains("k"))
	_, ok := c.Get("k")
	assert.False(t, ok)
	assert.Equal(t, 0, c.Stats().Entries)
}

func TestContainsDoesNotTouchAccess(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(2, 1024, clock)

	require.NoError(t, c.Set("a", "1"))
	require.NoError(t, c.Set("b", "2"))
	assert.True(t, c.Contains("a"))
	require.NoError(t, c.Set("c", "3"))

	assert.False(t, c.Contains("a"), "contains must not refresh recency")
	assert.Zero(t, c.Stats().Accesses)
}

func TestEvictsLeastRecentlyAccessed(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(3, 1024, clock)

	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(k, k))
		clock.Advance(time.Second)
	}
	_, ok := c.Get("a")
	require.True(t, ok)

	require.NoError(t, c.Set("d", "d"))

	assert.True(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.True(t, c.Contains("d"))
}

func TestByteLimitEvictsUntilFit(t *testing.T) {
	c := newTestCache(100, 30, newFakeClock())

	// each JSON encoded value is len+2 bytes
	require.NoError(t, c.Set("a", strings.Repeat("a", 8)))
	require.NoError(t, c.Set("b", strings.Repeat("b", 8)))
	require.NoError(t, c.Set("c", strings.Repeat("c", 8)))
	assert.Equal(t, int64(30), c.Stats().TotalBytes)

	require.NoError(t, c.Set("d", strings.Repeat("d", 18)))
	assert.False(t, c.Contains("a"))
	assert.False(t, c.Contains("b"))
	assert.True(t, c.Contains("c"))
	assert.True(t, c.Contains("d"))
	assert.Equal(t, int64(30), c.Stats().TotalBytes)
}

func TestOversizeValueRejected(t *testing.T) {
	c := newTestCache(100, 16, newFakeClock())

	require.NoError(t, c.Set("small", "x"))
	err := c.Set("big", strings.Repeat("z", 64))
	assert.ErrorIs(t, err, ErrTooLarge)
	assert.False(t, c.Contains("big"))
	assert.LessOrEqual(t, c.Stats().TotalBytes, int64(16))
}

func TestReplaceAdjustsSize(t *testing.T) {
	c := newTestCache(10, 1024, newFakeClock())

	require.NoError(t, c.Set("k", strings.Repeat("a", 10)))
	assert.Equal(t, int64(12), c.Stats().TotalBytes)

	require.NoError(t, c.Set("k", "b"))
	st := c.Stats()
	assert.Equal(t, 1, st.Entries)
	assert.Equal(t, int64(3), st.TotalBytes)
}

func TestLimitsHoldForAnySequence(t *testing.T) {
	const maxEntries, maxBytes = 5, 200
	c := newTestCache(maxEntries, maxBytes, newFakeClock())

	for i := range 500 {
		key := fmt.Sprintf("k%d", i%37)
		_ = c.Set(key, strings.Repeat("x", (i*7)%90))
		if i%3 == 0 {
			c.Get(fmt.Sprintf("k%d", i%11))
		}
		st := c.Stats()
		require.LessOrEqual(t, st.Entries, maxEntries)
		require.LessOrEqual(t, st.TotalBytes, int64(maxBytes))
	}
}

func TestRemoveAndSweep(t *testing.T) {
	clock := newFakeClock()
	c := newTestCache(10, 1024, clock)

	require.NoError(t, c.SetWithTTL("short", "1", time.Second))
	require.NoError(t, c.SetWithTTL("long", "2", time.Hour))
	require.NoError(t, c.Set("gone", "3"))

	c.Remove("gone")
	assert.False(t, c.Contains("gone"))

	clock.Advance(2 * time.Second)
	st := c.Stats()
	assert.Equal(t, 2, st.Entries)
	assert.Equal(t, 1, st.Valid)

	assert.Equal(t, 1, c.RemoveExpired())
	assert.Equal(t, 1, c.Stats().Entries)

	c.RemoveAll()
	st = c.Stats()
	assert.Zero(t, st.Entries)
	assert.Zero(t, st.TotalBytes)
}

func TestAccessStatistics(t *testing.T) {
	c := newTestCache(10, 1024, newFakeClock())
	require.NoError(t, c.Set("k", "v"))
	c.Get("k")
	c.Get("k")
	c.Get("nope")

	assert.Equal(t, uint64(2), c.Stats().Accesses)
	assert.Equal(t, int64(1024), c.Stats().MaxBytes)
}

type memRemote struct {
	data map[string][]byte
	ttls map[string]time.Duration
	sets int
}

func (m *memRemote) Get(_ context.Context, key string) ([]byte, bool, error) {
	b, ok := m.data[key]
	return b, ok, nil
}

func (m *memRemote) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	m.sets++
	m.data[key] = payload
	if m.ttls != nil {
		m.ttls[key] = ttl
	}
	return nil
}

func (m *memRemote) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestTieredBackfill(t *testing.T) {
	remote := &memRemote{data: map[string][]byte{"a:b": []byte(`"from remote"`)}}
	tier := &Tiered[string]{Mem: newTestCache(10, 1024, newFakeClock()), Remote: remote}
	ctx := context.Background()

	v, ok := tier.Lookup(ctx, "A:B")
	require.True(t, ok)
	assert.Equal(t, "from remote", v)
	assert.True(t, tier.Mem.Contains("a:b"))

	tier.Store(ctx, "x:y", "stored")
	assert.Equal(t, 1, remote.sets)
	assert.Equal(t, []byte(`"stored"`), remote.data["x:y"])

	tier.Forget(ctx, "x:y")
	_, ok = tier.Lookup(ctx, "x:y")
	assert.False(t, ok)
}

func TestTieredRemoteTTL(t *testing.T) {
	remote := &memRemote{data: map[string][]byte{}, ttls: map[string]time.Duration{}}
	tier := &Tiered[string]{Mem: newTestCache(10, 1024, newFakeClock()), Remote: remote, RemoteTTL: time.Hour}
	ctx := context.Background()

	tier.Store(ctx, "a", "1")
	tier.StoreWithTTL(ctx, "b", "2", time.Second)

	assert.Equal(t, time.Hour, remote.ttls["a"])
	assert.Equal(t, time.Second, remote.ttls["b"])
}
