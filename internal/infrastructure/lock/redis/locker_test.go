package redis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

func setupLocker(t *testing.T, ttl time.Duration) (*Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewLocker(client, ttl, 5*time.Millisecond, logger), mr
}

func TestLockSetsKeyWithTTL(t *testing.T) {
	locker, mr := setupLocker(t, 10*time.Second)

	unlock, err := locker.Lock(context.Background(), "loan:1")
	require.NoError(t, err)

	assert.True(t, mr.Exists(keyPrefix+"loan:1"))
	assert.Equal(t, 10*time.Second, mr.TTL(keyPrefix+"loan:1"))

	unlock()
	assert.False(t, mr.Exists(keyPrefix+"loan:1"))
}

func TestLockWaitsForHolder(t *testing.T) {
	locker, _ := setupLocker(t, 10*time.Second)
	ctx := context.Background()

	unlock, err := locker.Lock(ctx, "loan:1")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		second, err := locker.Lock(ctx, "loan:1")
		if err == nil {
			second()
		}
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("second lock acquired while the first was held")
	case <-time.After(50 * time.Millisecond):
	}

	unlock()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second lock never acquired after release")
	}
}

func TestLockHonoursContext(t *testing.T) {
	locker, _ := setupLocker(t, 10*time.Second)

	unlock, err := locker.Lock(context.Background(), "loan:1")
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err = locker.Lock(ctx, "loan:1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestUnlockDoesNotReleaseForeignToken(t *testing.T) {
	locker, mr := setupLocker(t, time.Second)

	unlock, err := locker.Lock(context.Background(), "loan:1")
	require.NoError(t, err)

	// The lock expires and another replica takes it over.
	mr.FastForward(2 * time.Second)
	require.NoError(t, mr.Set(keyPrefix+"loan:1", "other-replica"))

	unlock()

	got, err := mr.Get(keyPrefix + "loan:1")
	require.NoError(t, err)
	assert.Equal(t, "other-replica", got)
}

func TestLockFailsWhenRedisIsDown(t *testing.T) {
	locker, mr := setupLocker(t, time.Second)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := locker.Lock(ctx, "loan:1")
	assert.ErrorContains(t, err, "failed to acquire lock loan:1")
}

func TestConcurrentLockersSerialize(t *testing.T) {
	locker, _ := setupLocker(t, 10*time.Second)
	ctx := context.Background()

	var mu sync.Mutex
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := locker.Lock(ctx, "loan:1")
			if !assert.NoError(t, err) {
				return
			}
			defer unlock()

			mu.Lock()
			v := counter
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			counter = v + 1
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, counter)
}
