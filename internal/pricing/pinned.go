package pricing

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

// PinStore is the subset of the redis client used to pin rates.
type PinStore interface {
	Lookup(ctx context.Context, key string) (string, bool, error)
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	RateKey(asset string, bucket time.Time) string
}

// Pinned fixes the first rate observed for each (asset, time bucket) in a
// shared store, so every replica and every replay of the same ledger event
// converts with the same rate.
type Pinned struct {
	store  PinStore
	source RateSource
	bucket time.Duration
	ttl    time.Duration
}

func NewPinned(store PinStore, source RateSource, bucket, ttl time.Duration) (*Pinned, error) {
	if store == nil || source == nil {
		return nil, fmt.Errorf("pin store and rate source required")
	}
	if bucket <= 0 {
		bucket = time.Minute
	}
	return &Pinned{store: store, source: source, bucket: bucket, ttl: ttl}, nil
}

func (p *Pinned) Rate(ctx context.Context, asset domain.Asset, at time.Time) (decimal.Decimal, error) {
	bucket := at.UTC().Truncate(p.bucket)
	key := p.store.RateKey(asset.String(), bucket)

	if rate, ok, err := p.lookup(ctx, key); err != nil || ok {
		return rate, err
	}

	rate, err := p.source.Rate(ctx, asset, bucket)
	if err != nil {
		return decimal.Zero, err
	}
	won, err := p.store.SetNX(ctx, key, rate.String(), p.ttl)
	if err != nil {
		return decimal.Zero, fmt.Errorf("pin %s: %w", key, err)
	}
	if won {
		return rate, nil
	}

	// another replica pinned first
	pinned, ok, err := p.lookup(ctx, key)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return rate, nil
	}
	return pinned, nil
}

func (p *Pinned) lookup(ctx context.Context, key string) (decimal.Decimal, bool, error) {
	raw, ok, err := p.store.Lookup(ctx, key)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("lookup %s: %w", key, err)
	}
	if !ok {
		return decimal.Zero, false, nil
	}
	rate, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("decode pinned rate %s: %w", key, err)
	}
	return rate, true, nil
}
