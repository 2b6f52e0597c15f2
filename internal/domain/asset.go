package domain

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Asset identifies a fungible value type a campaign accepts.
type Asset string

const (
	AssetETH  Asset = "ETH"
	AssetWBTC Asset = "WBTC"
)

// AssetKind separates the network's base currency from secondary tokens.
type AssetKind uint8

const (
	AssetKindNative AssetKind = iota
	AssetKindToken
)

type assetInfo struct {
	kind     AssetKind
	decimals int32
}

var assetCatalogue = map[Asset]assetInfo{
	AssetETH:  {kind: AssetKindNative, decimals: 18},
	AssetWBTC: {kind: AssetKindToken, decimals: 8},
}

// Assets returns the supported assets in a stable order.
func Assets() []Asset {
	return []Asset{AssetETH, AssetWBTC}
}

func (a Asset) String() string {
	return string(a)
}

// IsValid reports whether the asset is in the catalogue.
func (a Asset) IsValid() bool {
	_, ok := assetCatalogue[a]
	return ok
}

// Kind returns whether the asset is native or a token. Unknown assets are tokens.
func (a Asset) Kind() AssetKind {
	if info, ok := assetCatalogue[a]; ok {
		return info.kind
	}
	return AssetKindToken
}

// Decimals is the number of fractional digits of one whole unit.
func (a Asset) Decimals() int32 {
	return assetCatalogue[a].decimals
}

// ToUnits renders a smallest-unit amount as a decimal number of whole units.
func (a Asset) ToUnits(amount *uint256.Int) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount.ToBig(), -a.Decimals())
}

// FromUnits converts a whole-unit decimal (e.g. "0.01") into the smallest unit.
func (a Asset) FromUnits(value decimal.Decimal) (*uint256.Int, error) {
	if value.IsNegative() {
		return nil, fmt.Errorf("negative %s amount %s", a, value)
	}
	scaled := value.Shift(a.Decimals())
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, fmt.Errorf("%s amount %s exceeds %d decimals", a, value, a.Decimals())
	}
	amount, overflow := uint256.FromBig(scaled.BigInt())
	if overflow {
		return nil, fmt.Errorf("%s amount %s overflows", a, value)
	}
	return amount, nil
}

// ParseAsset converts raw input into an Asset.
func ParseAsset(value string) (Asset, error) {
	candidate := Asset(strings.ToUpper(strings.TrimSpace(value)))
	if !candidate.IsValid() {
		return "", fmt.Errorf("invalid asset %q", value)
	}
	return candidate, nil
}
