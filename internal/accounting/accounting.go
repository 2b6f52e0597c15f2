// Package accounting applies contributions, withdrawals and creator
// transfers to campaign snapshots. Every function validates first and
// returns a modified clone, so a rejected command never leaves a partially
// updated campaign behind.
package accounting

import (
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/campaignledger/internal/apperr"
	"github.com/punchamoorthee/campaignledger/internal/domain"
)

// ContributionRequest is a contribution before price conversion.
type ContributionRequest struct {
	TxRef       string
	Contributor domain.Address
	Asset       domain.Asset
	Amount      *uint256.Int
	Timestamp   time.Time
}

// CheckContribution runs the contribution guards in their fixed order:
// amount, asset, status, payout, deadline. Duplicate detection happens
// against the store before this is called.
func CheckContribution(c *domain.Campaign, req ContributionRequest) error {
	if req.Amount == nil || req.Amount.IsZero() {
		return apperr.New(apperr.CodeInvalidAmount, "contribution amount must be positive")
	}
	if !req.Asset.IsValid() {
		return apperr.Newf(apperr.CodeAssetNotEnabled, "asset %q is not supported", req.Asset)
	}
	if req.Asset.Kind() == domain.AssetKindToken && !c.TokenEnabled {
		return apperr.Newf(apperr.CodeAssetNotEnabled, "campaign %s does not accept %s", c.Address, req.Asset)
	}
	if !c.Status.AcceptsContributions() {
		return apperr.Newf(apperr.CodeInvalidTransition, "campaign %s is %s", c.Address, c.Status)
	}
	if c.PaidOut {
		return apperr.Newf(apperr.CodeAlreadyPaidOut, "campaign %s already paid out", c.Address)
	}
	if c.Expired(req.Timestamp) {
		return apperr.Newf(apperr.CodeCampaignExpired, "campaign %s closed at %s", c.Address, c.Deadline.Format(time.RFC3339))
	}
	return nil
}

// ApplyContribution records a converted contribution. accountingAmount and
// rate are the values resolved by the price converter and are stored as-is.
func ApplyContribution(c *domain.Campaign, req ContributionRequest, accountingAmount, rate decimal.Decimal) (*domain.Campaign, *domain.Contribution, error) {
	if err := CheckContribution(c, req); err != nil {
		return nil, nil, err
	}
	if accountingAmount.IsNegative() {
		return nil, nil, apperr.Newf(apperr.CodeInvalidAmount, "negative accounting amount %s", accountingAmount)
	}

	next := c.Clone()
	balance, overflow := new(uint256.Int).AddOverflow(next.Balance(req.Asset), req.Amount)
	if overflow {
		return nil, nil, apperr.Newf(apperr.CodeInvalidAmount, "%s balance overflow", req.Asset)
	}
	next.Balances[req.Asset] = balance
	next.Raised = next.Raised.Add(accountingAmount)
	next.ContributionCount++

	contribution := &domain.Contribution{
		CampaignAddress:  c.Address,
		TxRef:            req.TxRef,
		Contributor:      req.Contributor,
		Asset:            req.Asset,
		Amount:           new(uint256.Int).Set(req.Amount),
		AccountingAmount: accountingAmount,
		Rate:             rate,
		Timestamp:        req.Timestamp,
		Sequence:         next.ContributionCount,
	}
	return next, contribution, nil
}

// Withdraw pays the full held balance of every asset to the creator. It
// succeeds at most once per campaign.
func Withdraw(c *domain.Campaign, requestedBy domain.Address) (*domain.Campaign, map[domain.Asset]*uint256.Int, error) {
	if requestedBy == "" || requestedBy != c.Creator {
		return nil, nil, apperr.Newf(apperr.CodeUnauthorized, "%s is not the creator of campaign %s", requestedBy, c.Address)
	}
	if c.PaidOut {
		return nil, nil, apperr.Newf(apperr.CodeAlreadyPaidOut, "campaign %s already paid out", c.Address)
	}
	want := domain.StatusSuccessful
	if c.Donation {
		want = domain.StatusDonation
	}
	if c.Status != want {
		return nil, nil, apperr.Newf(apperr.CodeInvalidTransition, "cannot withdraw from %s campaign %s", c.Status, c.Address)
	}

	next := c.Clone()
	payout := make(map[domain.Asset]*uint256.Int, len(next.Balances))
	for asset, amount := range next.Balances {
		payout[asset] = amount
		next.Balances[asset] = new(uint256.Int)
	}
	next.PaidOut = true
	return next, payout, nil
}

// TransferCreator reassigns the creator role. The previous creator
// repeating its completed transfer gets changed=false and no error.
func TransferCreator(c *domain.Campaign, requestedBy, newCreator domain.Address) (next *domain.Campaign, changed bool, err error) {
	if newCreator.IsZero() {
		return nil, false, apperr.New(apperr.CodeValidation, "new creator is required")
	}
	if newCreator == c.Creator {
		switch {
		case requestedBy != "" && requestedBy == c.PreviousCreator:
			return c.Clone(), false, nil
		case requestedBy == newCreator:
			return nil, false, apperr.Newf(apperr.CodeValidation, "%s is already the creator of campaign %s", newCreator, c.Address)
		default:
			return nil, false, apperr.Newf(apperr.CodeUnauthorized, "%s is not the creator of campaign %s", requestedBy, c.Address)
		}
	}
	if requestedBy == "" || requestedBy != c.Creator {
		return nil, false, apperr.Newf(apperr.CodeUnauthorized, "%s is not the creator of campaign %s", requestedBy, c.Address)
	}
	if c.Status.Terminal() {
		return nil, false, apperr.Newf(apperr.CodeInvalidTransition, "campaign %s is %s", c.Address, c.Status)
	}

	next = c.Clone()
	next.PreviousCreator = c.Creator
	next.Creator = newCreator
	return next, true, nil
}
