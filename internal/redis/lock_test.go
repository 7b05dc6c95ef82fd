package redisclient

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sashanth17/medicare-scheduling/internal/allocator"
	"github.com/sashanth17/medicare-scheduling/internal/lock"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

func TestRedisKeyLocker_ReleasesAfterRun(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedisKeyLocker(rdb, time.Second, 100*time.Millisecond)

	err := l.WithKeyLock(context.Background(), "counter:1:2024-06-01", func(context.Context) error {
		assert.True(t, mr.Exists("lock:counter:1:2024-06-01"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("lock:counter:1:2024-06-01"))
}

func TestRedisKeyLocker_ReleasesOnError(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedisKeyLocker(rdb, time.Second, 100*time.Millisecond)
	boom := errors.New("boom")

	err := l.WithKeyLock(context.Background(), "k", func(context.Context) error { return boom })
	require.ErrorIs(t, err, boom)
	assert.False(t, mr.Exists("lock:k"))
}

func TestRedisKeyLocker_TimesOutWhileHeldElsewhere(t *testing.T) {
	mr, rdb := newTestRedis(t)
	require.NoError(t, mr.Set("lock:k", "someone-else"))

	l := NewRedisKeyLocker(rdb, time.Second, 30*time.Millisecond)

	called := false
	err := l.WithKeyLock(context.Background(), "k", func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, lock.ErrLockTimeout)
	assert.False(t, called)

	v, err := mr.Get("lock:k")
	require.NoError(t, err)
	assert.Equal(t, "someone-else", v, "foreign token must not be released")
}

func TestRedisKeyLocker_SerializesSameKey(t *testing.T) {
	_, rdb := newTestRedis(t)
	l := NewRedisKeyLocker(rdb, time.Second, 2*time.Second)

	var mu sync.Mutex
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.WithKeyLock(context.Background(), "k", func(context.Context) error {
				mu.Lock()
				v := counter
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				counter = v + 1
				mu.Unlock()
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, counter)
}

type stalledCounterStore struct{}

func (stalledCounterStore) Increment(ctx context.Context, _ int64, _ time.Time) (int, error) {
	<-ctx.Done()
	return 0, fmt.Errorf("commit counter tx: %w", ctx.Err())
}

func TestRedisKeyLocker_WriteOutlivingTTLIsAllocationFailure(t *testing.T) {
	mr, rdb := newTestRedis(t)
	l := NewRedisKeyLocker(rdb, 50*time.Millisecond, 100*time.Millisecond)
	a := allocator.New(l, stalledCounterStore{}, nil, zerolog.Nop())

	_, err := a.Reserve(context.Background(), 1, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, allocator.ErrAllocationFailed)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, mr.Exists("lock:counter:1:2024-06-01"))
}
