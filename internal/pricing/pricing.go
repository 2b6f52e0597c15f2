// Package pricing converts asset amounts into the accounting unit.
package pricing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

var ErrNoRate = errors.New("no rate for asset")

// RateSource returns the accounting-unit price of one whole unit of asset
// at a point in time.
type RateSource interface {
	Rate(ctx context.Context, asset domain.Asset, at time.Time) (decimal.Decimal, error)
}

// Quote is a resolved conversion. Value is what gets added to a campaign's
// raised total.
type Quote struct {
	Asset  domain.Asset
	Amount *uint256.Int
	Rate   decimal.Decimal
	Value  decimal.Decimal
	At     time.Time
}

// Converter turns smallest-unit amounts into accounting amounts.
type Converter struct {
	source RateSource
}

func NewConverter(source RateSource) (*Converter, error) {
	if source == nil {
		return nil, fmt.Errorf("rate source required")
	}
	return &Converter{source: source}, nil
}

// Convert prices amount of asset at the given time. The result depends only
// on the rate the source returns for (asset, at).
func (c *Converter) Convert(ctx context.Context, asset domain.Asset, amount *uint256.Int, at time.Time) (Quote, error) {
	if !asset.IsValid() {
		return Quote{}, fmt.Errorf("convert %q: %w", asset, ErrNoRate)
	}
	rate, err := c.source.Rate(ctx, asset, at)
	if err != nil {
		return Quote{}, fmt.Errorf("rate %s at %s: %w", asset, at.Format(time.RFC3339), err)
	}
	return Quote{
		Asset:  asset,
		Amount: amount,
		Rate:   rate,
		Value:  asset.ToUnits(amount).Mul(rate),
		At:     at,
	}, nil
}

// StaticRates is a fixed price table.
type StaticRates map[domain.Asset]decimal.Decimal

// DefaultRates are the reference rates the dashboard used for its estimates.
func DefaultRates() StaticRates {
	return StaticRates{
		domain.AssetETH:  decimal.NewFromInt(2300),
		domain.AssetWBTC: decimal.NewFromInt(45000),
	}
}

func (s StaticRates) Rate(ctx context.Context, asset domain.Asset, _ time.Time) (decimal.Decimal, error) {
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	rate, ok := s[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", asset, ErrNoRate)
	}
	return rate, nil
}
