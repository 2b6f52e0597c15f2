package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

func units(t *testing.T, asset domain.Asset, value string) *uint256.Int {
	t.Helper()
	amount, err := asset.FromUnits(decimal.RequireFromString(value))
	require.NoError(t, err)
	return amount
}

func TestConvertWithDefaultRates(t *testing.T) {
	conv, err := NewConverter(DefaultRates())
	require.NoError(t, err)
	at := time.Now()

	eth, err := conv.Convert(context.Background(), domain.AssetETH, units(t, domain.AssetETH, "1.0"), at)
	require.NoError(t, err)
	assert.True(t, eth.Value.Equal(decimal.NewFromInt(2300)), eth.Value.String())

	wbtc, err := conv.Convert(context.Background(), domain.AssetWBTC, units(t, domain.AssetWBTC, "0.01"), at)
	require.NoError(t, err)
	assert.True(t, wbtc.Value.Equal(decimal.NewFromInt(450)), wbtc.Value.String())
	assert.True(t, wbtc.Rate.Equal(decimal.NewFromInt(45000)))
}

func TestConvertErrors(t *testing.T) {
	conv, err := NewConverter(StaticRates{domain.AssetETH: decimal.NewFromInt(1)})
	require.NoError(t, err)

	_, err = conv.Convert(context.Background(), domain.AssetWBTC, uint256.NewInt(1), time.Now())
	assert.ErrorIs(t, err, ErrNoRate)

	_, err = conv.Convert(context.Background(), "DOGE", uint256.NewInt(1), time.Now())
	assert.ErrorIs(t, err, ErrNoRate)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = conv.Convert(ctx, domain.AssetETH, uint256.NewInt(1), time.Now())
	assert.ErrorIs(t, err, context.Canceled)

	_, err = NewConverter(nil)
	assert.Error(t, err)
}

type memoryPins struct {
	mu      sync.Mutex
	values  map[string]string
	failGet bool
}

func (m *memoryPins) Lookup(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return "", false, errors.New("redis down")
	}
	v, ok := m.values[key]
	return v, ok, nil
}

func (m *memoryPins) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.values[key]; ok {
		return false, nil
	}
	m.values[key] = fmt.Sprint(value)
	return true, nil
}

func (m *memoryPins) RateKey(asset string, bucket time.Time) string {
	return fmt.Sprintf("rate:%s:%d", asset, bucket.Unix())
}

type movingRates struct {
	calls int
}

func (m *movingRates) Rate(_ context.Context, _ domain.Asset, _ time.Time) (decimal.Decimal, error) {
	m.calls++
	return decimal.NewFromInt(int64(2000 + m.calls)), nil
}

func TestPinnedKeepsFirstRatePerBucket(t *testing.T) {
	pins := &memoryPins{values: map[string]string{}}
	source := &movingRates{}
	pinned, err := NewPinned(pins, source, time.Minute, time.Hour)
	require.NoError(t, err)

	at := time.Date(2026, 1, 1, 12, 0, 10, 0, time.UTC)
	first, err := pinned.Rate(context.Background(), domain.AssetETH, at)
	require.NoError(t, err)
	again, err := pinned.Rate(context.Background(), domain.AssetETH, at.Add(30*time.Second))
	require.NoError(t, err)
	assert.True(t, first.Equal(again))
	assert.Equal(t, 1, source.calls)

	next, err := pinned.Rate(context.Background(), domain.AssetETH, at.Add(time.Minute))
	require.NoError(t, err)
	assert.False(t, next.Equal(first))
}

func TestPinnedPrefersExistingPin(t *testing.T) {
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	pins := &memoryPins{values: map[string]string{}}
	pins.values[pins.RateKey("WBTC", at)] = "44000.5"

	pinned, err := NewPinned(pins, &movingRates{}, time.Minute, time.Hour)
	require.NoError(t, err)

	rate, err := pinned.Rate(context.Background(), domain.AssetWBTC, at)
	require.NoError(t, err)
	assert.Equal(t, "44000.5", rate.String())
}

func TestPinnedSurfacesStoreErrors(t *testing.T) {
	pins := &memoryPins{values: map[string]string{}, failGet: true}
	pinned, err := NewPinned(pins, DefaultRates(), time.Minute, time.Hour)
	require.NoError(t, err)

	_, err = pinned.Rate(context.Background(), domain.AssetETH, time.Now())
	assert.Error(t, err)
}
