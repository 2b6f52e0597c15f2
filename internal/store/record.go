package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

// campaignRecord is the serialized form shared by the key/value store and
// the postgres balances column. Amounts travel as decimal strings.
type campaignRecord struct {
	Address           string            `json:"address"`
	Name              string            `json:"name"`
	Description       string            `json:"description"`
	Creator           string            `json:"creator"`
	PreviousCreator   string            `json:"previous_creator,omitempty"`
	Admin             string            `json:"admin"`
	Factory           string            `json:"factory"`
	Network           string            `json:"network"`
	Goal              string            `json:"goal"`
	Raised            string            `json:"raised"`
	Balances          map[string]string `json:"balances"`
	Status            int               `json:"status"`
	PaidOut           bool              `json:"paid_out"`
	Donation          bool              `json:"donation"`
	Deadline          time.Time         `json:"deadline"`
	TokenEnabled      bool              `json:"token_enabled"`
	MetadataHash      string            `json:"metadata_hash"`
	ContributionCount int64             `json:"contribution_count"`
	Version           int64             `json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

type contributionRecord struct {
	CampaignAddress  string    `json:"campaign_address"`
	TxRef            string    `json:"tx_ref"`
	Contributor      string    `json:"contributor"`
	Asset            string    `json:"asset"`
	Amount           string    `json:"amount"`
	AccountingAmount string    `json:"accounting_amount"`
	Rate             string    `json:"rate"`
	Timestamp        time.Time `json:"timestamp"`
	Sequence         int64     `json:"sequence"`
}

func encodeBalances(balances map[domain.Asset]*uint256.Int) map[string]string {
	out := make(map[string]string, len(balances))
	for asset, amount := range balances {
		if amount == nil {
			continue
		}
		out[asset.String()] = amount.Dec()
	}
	return out
}

func decodeBalances(raw map[string]string) (map[domain.Asset]*uint256.Int, error) {
	out := make(map[domain.Asset]*uint256.Int, len(raw))
	for asset, value := range raw {
		amount, err := uint256.FromDecimal(value)
		if err != nil {
			return nil, fmt.Errorf("decode %s balance %q: %w", asset, value, err)
		}
		out[domain.Asset(asset)] = amount
	}
	return out, nil
}

func marshalBalances(balances map[domain.Asset]*uint256.Int) (string, error) {
	raw, err := json.Marshal(encodeBalances(balances))
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func unmarshalBalances(raw string) (map[domain.Asset]*uint256.Int, error) {
	var values map[string]string
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("decode balances: %w", err)
	}
	return decodeBalances(values)
}

func toCampaignRecord(c *domain.Campaign) campaignRecord {
	return campaignRecord{
		Address:           c.Address.String(),
		Name:              c.Name,
		Description:       c.Description,
		Creator:           c.Creator.String(),
		PreviousCreator:   c.PreviousCreator.String(),
		Admin:             c.Admin.String(),
		Factory:           c.Factory.String(),
		Network:           c.Network,
		Goal:              c.Goal.String(),
		Raised:            c.Raised.String(),
		Balances:          encodeBalances(c.Balances),
		Status:            c.Status.Code(),
		PaidOut:           c.PaidOut,
		Donation:          c.Donation,
		Deadline:          c.Deadline.UTC(),
		TokenEnabled:      c.TokenEnabled,
		MetadataHash:      c.MetadataHash,
		ContributionCount: c.ContributionCount,
		Version:           c.Version,
		CreatedAt:         c.CreatedAt.UTC(),
		UpdatedAt:         c.UpdatedAt.UTC(),
	}
}

func (r campaignRecord) toDomain() (*domain.Campaign, error) {
	goal, err := decimal.NewFromString(r.Goal)
	if err != nil {
		return nil, fmt.Errorf("decode goal of %s: %w", r.Address, err)
	}
	raised, err := decimal.NewFromString(r.Raised)
	if err != nil {
		return nil, fmt.Errorf("decode raised of %s: %w", r.Address, err)
	}
	balances, err := decodeBalances(r.Balances)
	if err != nil {
		return nil, err
	}
	status, err := domain.StatusFromCode(r.Status)
	if err != nil {
		return nil, err
	}
	return &domain.Campaign{
		Address:           domain.Address(r.Address),
		Name:              r.Name,
		Description:       r.Description,
		Creator:           domain.Address(r.Creator),
		PreviousCreator:   domain.Address(r.PreviousCreator),
		Admin:             domain.Address(r.Admin),
		Factory:           domain.Address(r.Factory),
		Network:           r.Network,
		Goal:              goal,
		Raised:            raised,
		Balances:          balances,
		Status:            status,
		PaidOut:           r.PaidOut,
		Donation:          r.Donation,
		Deadline:          r.Deadline,
		TokenEnabled:      r.TokenEnabled,
		MetadataHash:      r.MetadataHash,
		ContributionCount: r.ContributionCount,
		Version:           r.Version,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}, nil
}

func toContributionRecord(c *domain.Contribution) contributionRecord {
	amount := "0"
	if c.Amount != nil {
		amount = c.Amount.Dec()
	}
	return contributionRecord{
		CampaignAddress:  c.CampaignAddress.String(),
		TxRef:            c.TxRef,
		Contributor:      c.Contributor.String(),
		Asset:            c.Asset.String(),
		Amount:           amount,
		AccountingAmount: c.AccountingAmount.String(),
		Rate:             c.Rate.String(),
		Timestamp:        c.Timestamp.UTC(),
		Sequence:         c.Sequence,
	}
}

func (r contributionRecord) toDomain() (domain.Contribution, error) {
	amount, err := uint256.FromDecimal(r.Amount)
	if err != nil {
		return domain.Contribution{}, fmt.Errorf("decode amount of %s: %w", r.TxRef, err)
	}
	accounting, err := decimal.NewFromString(r.AccountingAmount)
	if err != nil {
		return domain.Contribution{}, fmt.Errorf("decode accounting amount of %s: %w", r.TxRef, err)
	}
	rate, err := decimal.NewFromString(r.Rate)
	if err != nil {
		return domain.Contribution{}, fmt.Errorf("decode rate of %s: %w", r.TxRef, err)
	}
	return domain.Contribution{
		CampaignAddress:  domain.Address(r.CampaignAddress),
		TxRef:            r.TxRef,
		Contributor:      domain.Address(r.Contributor),
		Asset:            domain.Asset(r.Asset),
		Amount:           amount,
		AccountingAmount: accounting,
		Rate:             rate,
		Timestamp:        r.Timestamp,
		Sequence:         r.Sequence,
	}, nil
}

func cloneContribution(c domain.Contribution) domain.Contribution {
	if c.Amount != nil {
		c.Amount = new(uint256.Int).Set(c.Amount)
	}
	return c
}
