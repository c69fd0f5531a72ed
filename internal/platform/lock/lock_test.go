package lock

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newRedisLocker(t *testing.T) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisLocker(client), mr
}

func TestKeyID(t *testing.T) {
	require.Equal(t, int64(424242), KeyID("424242"))
	require.Equal(t, KeyID("bank-reconciliation"), KeyID("bank-reconciliation"))
	require.NotEqual(t, KeyID("bank-reconciliation"), KeyID("subscription-timeline"))
	require.GreaterOrEqual(t, KeyID("bank-reconciliation"), int64(0))
}

func TestRedisLocker_TryAcquireHeld(t *testing.T) {
	l, _ := newRedisLocker(t)
	ctx := context.Background()

	release, ok, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok2, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.False(t, ok2)

	release()
	release()

	release3, ok3, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok3)
	release3()
}

func TestRedisLocker_ExpiredLockNotReleasedByStaleHolder(t *testing.T) {
	l, mr := newRedisLocker(t)
	ctx := context.Background()

	staleRelease, ok, err := l.TryAcquire(ctx, "k", time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(2 * time.Second)

	release, ok, err := l.TryAcquire(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	defer release()

	staleRelease()
	require.True(t, mr.Exists(redisKeyPrefix+"k"))
}

func TestRedisLocker_ExactlyOneConcurrentHolder(t *testing.T) {
	l, _ := newRedisLocker(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		acquired atomic.Int32
		start    = make(chan struct{})
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := l.TryAcquire(ctx, "contended", time.Minute)
			if err == nil && ok {
				acquired.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()
	require.Equal(t, int32(1), acquired.Load())
}
