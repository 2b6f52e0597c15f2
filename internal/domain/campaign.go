package domain

import (
	"math"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Campaign is the engine's mirror of a ledger crowdfunding contract.
// Status changes only through the lifecycle state machine; Raised, Balances
// and PaidOut only through the accounting engine.
type Campaign struct {
	Address     Address
	Name        string
	Description string
	Creator     Address
	// PreviousCreator is the creator replaced by the latest transfer.
	PreviousCreator Address
	Admin           Address
	Factory         Address
	Network         string
	Goal            decimal.Decimal
	Raised          decimal.Decimal
	Balances        map[Asset]*uint256.Int
	Status          Status
	PaidOut         bool
	Donation        bool
	Deadline        time.Time
	TokenEnabled    bool
	MetadataHash    string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// ContributionCount is the number of recorded contributions and the
	// sequence of the latest one.
	ContributionCount int64
	// Version increases on every committed mutation.
	Version int64
}

// Clone returns a deep copy so callers can mutate it without touching the
// stored instance.
func (c *Campaign) Clone() *Campaign {
	if c == nil {
		return nil
	}
	clone := *c
	clone.Balances = make(map[Asset]*uint256.Int, len(c.Balances))
	for asset, amount := range c.Balances {
		if amount == nil {
			continue
		}
		clone.Balances[asset] = new(uint256.Int).Set(amount)
	}
	return &clone
}

// Balance returns the held amount of an asset, zero when nothing was contributed.
func (c *Campaign) Balance(asset Asset) *uint256.Int {
	if amount, ok := c.Balances[asset]; ok && amount != nil {
		return new(uint256.Int).Set(amount)
	}
	return new(uint256.Int)
}

// Progress is Raised/Goal. Goal is positive for every created campaign.
func (c *Campaign) Progress() decimal.Decimal {
	return c.Raised.DivRound(c.Goal, 6)
}

// Expired reports whether the deadline has been reached at now.
func (c *Campaign) Expired(now time.Time) bool {
	return !now.Before(c.Deadline)
}

// DaysLeft counts whole days until the deadline, rounding up, and never
// goes below zero.
func (c *Campaign) DaysLeft(now time.Time) int {
	remaining := c.Deadline.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Hours() / 24))
}

// IsAdmin reports whether actor may run privileged lifecycle commands.
func (c *Campaign) IsAdmin(actor Address) bool {
	return actor != "" && (actor == c.Admin || actor == c.Creator)
}

// Contribution is one immutable funding record, keyed by campaign and ledger
// transaction reference.
type Contribution struct {
	CampaignAddress  Address
	TxRef            string
	Contributor      Address
	Asset            Asset
	Amount           *uint256.Int
	AccountingAmount decimal.Decimal
	Rate             decimal.Decimal
	Timestamp        time.Time
	Sequence         int64
}
