package cache

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"VKMBot/model"
)

func candidates(prefix string, n int) []model.Candidate {
	out := make([]model.Candidate, n)
	for i := range out {
		out[i] = model.Candidate{
			Title:    fmt.Sprintf("%s%d", prefix, i),
			Locator:  fmt.Sprintf("https://www.youtube.com/watch?v=%s%d", prefix, i),
			Duration: time.Duration(i+1) * time.Minute,
			Uploader: "Uploader",
		}
	}
	return out
}

// exerciseResultCache runs the behaviour every ResultCache must share.
func exerciseResultCache(t *testing.T, c ResultCache) {
	ctx := context.Background()

	_, err := c.Resolve(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrExpiredOrInvalid, "no set yet")

	require.NoError(t, c.Put(ctx, 1, candidates("a", 5)))
	got, err := c.Resolve(ctx, 1, 4)
	require.NoError(t, err)
	assert.Equal(t, "a4", got.Title)
	assert.Equal(t, 5*time.Minute, got.Duration)

	_, err = c.Resolve(ctx, 1, 5)
	assert.ErrorIs(t, err, ErrExpiredOrInvalid)
	_, err = c.Resolve(ctx, 1, -1)
	assert.ErrorIs(t, err, ErrExpiredOrInvalid)

	// A later, shorter set fully replaces the earlier one.
	require.NoError(t, c.Put(ctx, 1, candidates("b", 3)))
	got, err = c.Resolve(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, "b0", got.Title)
	_, err = c.Resolve(ctx, 1, 4)
	assert.ErrorIs(t, err, ErrExpiredOrInvalid)

	// Users do not see each other's results.
	_, err = c.Resolve(ctx, 2, 0)
	assert.ErrorIs(t, err, ErrExpiredOrInvalid)

	require.NoError(t, c.Drop(ctx, 1))
	_, err = c.Resolve(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrExpiredOrInvalid)
}

func TestMemoryResultCache(t *testing.T) {
	exerciseResultCache(t, NewMemoryResultCache(time.Minute))
}

func TestMemoryResultCacheExpiry(t *testing.T) {
	now := time.Now()
	c := NewMemoryResultCache(30 * time.Minute)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Put(context.Background(), 9, candidates("a", 2)))

	now = now.Add(29 * time.Minute)
	_, err := c.Resolve(context.Background(), 9, 1)
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = c.Resolve(context.Background(), 9, 1)
	assert.ErrorIs(t, err, ErrExpiredOrInvalid)
	assert.Equal(t, 1, c.Sweep())
	assert.Equal(t, 0, c.Sweep())
}

func TestMemoryResultCacheStoresCopy(t *testing.T) {
	c := NewMemoryResultCache(time.Minute)
	results := candidates("a", 2)
	require.NoError(t, c.Put(context.Background(), -3, results))

	results[0].Title = "mutated"
	got, err := c.Resolve(context.Background(), -3, 0)
	require.NoError(t, err)
	assert.Equal(t, "a0", got.Title)
}

func TestMemoryResultCacheConcurrentReplace(t *testing.T) {
	c := NewMemoryResultCache(time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Put(ctx, 1, candidates("a", 5)))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = c.Put(ctx, 1, candidates(fmt.Sprintf("s%d-", i), 5))
		}(i)
		go func() {
			defer wg.Done()
			got, err := c.Resolve(ctx, 1, 4)
			if assert.NoError(t, err) {
				assert.Contains(t, got.Title, "4")
			}
		}()
	}
	wg.Wait()
}

func newMiniredisClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisResultCache(t *testing.T) {
	_, client := newMiniredisClient(t)
	exerciseResultCache(t, NewRedisResultCache(client, time.Minute))
}

func TestRedisResultCacheTTL(t *testing.T) {
	mr, client := newMiniredisClient(t)
	c := NewRedisResultCache(client, 30*time.Minute)
	ctx := context.Background()

	require.NoError(t, c.Put(ctx, 5, candidates("a", 3)))
	assert.Equal(t, 30*time.Minute, mr.TTL(GetSearchKey(5)))

	mr.FastForward(31 * time.Minute)
	_, err := c.Resolve(ctx, 5, 0)
	assert.ErrorIs(t, err, ErrExpiredOrInvalid)
}

func TestRedisResultCacheUnknownDurationRoundTrip(t *testing.T) {
	_, client := newMiniredisClient(t)
	c := NewRedisResultCache(client, time.Minute)
	ctx := context.Background()

	in := []model.Candidate{{Title: "live", Locator: "https://x", Duration: model.UnknownDuration}}
	require.NoError(t, c.Put(ctx, 1, in))
	got, err := c.Resolve(ctx, 1, 0)
	require.NoError(t, err)
	assert.False(t, got.DurationKnown())
	assert.Equal(t, "Unknown", model.FormatDuration(got.Duration))
}

func TestRedisResultCacheCorruptAndDownBackend(t *testing.T) {
	mr, client := newMiniredisClient(t)
	c := NewRedisResultCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, mr.Set(GetSearchKey(1), "{not json"))
	_, err := c.Resolve(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrExpiredOrInvalid)

	mr.Close()
	_, err = c.Resolve(ctx, 1, 0)
	assert.ErrorIs(t, err, ErrExpiredOrInvalid)
}

func TestTestRedis(t *testing.T) {
	_, client := newMiniredisClient(t)
	prev := RedisClient
	RedisClient = client
	t.Cleanup(func() { RedisClient = prev })

	require.NoError(t, TestRedis(context.Background()))
}
