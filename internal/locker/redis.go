package locker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LeaseStore is the subset of the redis client used for distributed leases.
type LeaseStore interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) (bool, error)
	LockKey(scope string) string
}

// Redis extends Local across replicas with a SET NX lease per key. The
// lease expires after ttl so a crashed holder cannot wedge a campaign;
// commands must finish well inside it.
type Redis struct {
	store LeaseStore
	local *Local
	ttl   time.Duration
	retry time.Duration
}

func NewRedis(store LeaseStore, ttl time.Duration) (*Redis, error) {
	if store == nil {
		return nil, fmt.Errorf("lease store required")
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Redis{store: store, local: NewLocal(), ttl: ttl, retry: 25 * time.Millisecond}, nil
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	unlockLocal, err := r.local.Lock(ctx, key)
	if err != nil {
		return nil, err
	}

	leaseKey := r.store.LockKey(key)
	token := uuid.NewString()
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			unlockLocal()
			return nil, ctx.Err()
		case <-timer.C:
		}

		ok, err := r.store.Acquire(ctx, leaseKey, token, r.ttl)
		if err != nil {
			unlockLocal()
			return nil, fmt.Errorf("acquire %s: %w", leaseKey, err)
		}
		if ok {
			break
		}
		timer.Reset(r.retry)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// an expired lease is already gone; nothing to report
		_, _ = r.store.Release(releaseCtx, leaseKey, token)
		unlockLocal()
	}, nil
}
