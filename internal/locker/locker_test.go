package locker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalSerializesSameKey(t *testing.T) {
	l := NewLocal()
	var inside, maxInside int32
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := l.Lock(context.Background(), "campaign")
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, l.held())
}

func TestLocalDistinctKeysDoNotBlock(t *testing.T) {
	l := NewLocal()
	unlockA, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)
	defer unlockA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockB, err := l.Lock(ctx, "b")
	require.NoError(t, err)
	unlockB()
}

func TestLocalHonoursContext(t *testing.T) {
	l := NewLocal()
	unlock, err := l.Lock(context.Background(), "a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Lock(ctx, "a")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock() // second call is a no-op
	assert.Equal(t, 0, l.held())
}

type fakeLeases struct {
	mu       sync.Mutex
	owners   map[string]string
	acquires int
	fail     bool
}

func (f *fakeLeases) Acquire(_ context.Context, key, token string, _ time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquires++
	if f.fail {
		return false, errors.New("redis down")
	}
	if _, taken := f.owners[key]; taken {
		return false, nil
	}
	f.owners[key] = token
	return true, nil
}

func (f *fakeLeases) Release(_ context.Context, key, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.owners[key] != token {
		return false, nil
	}
	delete(f.owners, key)
	return true, nil
}

func (f *fakeLeases) LockKey(scope string) string { return "lock:" + scope }

func TestRedisLeaseLifecycle(t *testing.T) {
	leases := &fakeLeases{owners: map[string]string{}}
	r, err := NewRedis(leases, time.Second)
	require.NoError(t, err)

	unlock, err := r.Lock(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Contains(t, leases.owners, "lock:0xabc")

	unlock()
	assert.NotContains(t, leases.owners, "lock:0xabc")
}

func TestRedisWaitsForForeignHolder(t *testing.T) {
	leases := &fakeLeases{owners: map[string]string{"lock:0xabc": "other-replica"}}
	r, err := NewRedis(leases, time.Second)
	require.NoError(t, err)

	go func() {
		time.Sleep(60 * time.Millisecond)
		_, _ = leases.Release(context.Background(), "lock:0xabc", "other-replica")
	}()

	unlock, err := r.Lock(context.Background(), "0xabc")
	require.NoError(t, err)
	defer unlock()
	assert.Greater(t, leases.acquires, 1)
}

func TestRedisGivesUpOnContext(t *testing.T) {
	leases := &fakeLeases{owners: map[string]string{"lock:0xabc": "other-replica"}}
	r, err := NewRedis(leases, time.Second)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	_, err = r.Lock(ctx, "0xabc")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 0, r.local.held())
}

func TestRedisSurfacesStoreErrors(t *testing.T) {
	r, err := NewRedis(&fakeLeases{owners: map[string]string{}, fail: true}, time.Second)
	require.NoError(t, err)

	_, err = r.Lock(context.Background(), "0xabc")
	assert.Error(t, err)
	assert.Equal(t, 0, r.local.held())
}
