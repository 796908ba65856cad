package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"tymr/domain"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rc := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rc.Close() })
	return mr, rc
}

func TestCacheServesSecondRead(t *testing.T) {
	s := newTestStore(t)
	_, rc := newTestRedis(t)
	cache := NewCache(s, rc, time.Minute)
	ctx := context.Background()

	task := domain.Task{UserID: "u1", Title: "cached"}
	require.NoError(t, s.CreateTask(ctx, &task))

	first, err := cache.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, first, 1)

	// Mutate behind the cache's back; the stale copy must still serve.
	require.NoError(t, s.DeleteTask(ctx, task.ID, "u1"))
	second, err := cache.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, second, 1)

	cache.Evict(ctx, "u1")
	third, err := cache.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, third, 0)
}

func TestCacheCorruptEntryFallsBack(t *testing.T) {
	s := newTestStore(t)
	mr, rc := newTestRedis(t)
	cache := NewCache(s, rc, time.Minute)
	ctx := context.Background()

	task := domain.Task{UserID: "u1", Title: "real"}
	require.NoError(t, s.CreateTask(ctx, &task))
	require.NoError(t, mr.Set(tasksCacheKey("u1"), "{corrupt"))

	tasks, err := cache.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "real", tasks[0].Title)
}

func TestCacheNilRedisPassesThrough(t *testing.T) {
	s := newTestStore(t)
	cache := NewCache(s, nil, time.Minute)
	ctx := context.Background()

	task := domain.Task{UserID: "u1", Title: "direct"}
	require.NoError(t, s.CreateTask(ctx, &task))
	tasks, err := cache.ListTasks(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	cache.Evict(ctx, "u1") // must not panic
}
