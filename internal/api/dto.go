package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/campaignledger/internal/apperr"
	"github.com/punchamoorthee/campaignledger/internal/domain"
	"github.com/punchamoorthee/campaignledger/internal/service"
)

const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return v
}

func decodeJSONBody(r *http.Request, dest any) error {
	defer func() {
		_, _ = io.Copy(io.Discard, r.Body)
	}()
	decoder := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		return apperr.Wrap(apperr.CodeValidation, err, "invalid request body")
	}
	if err := validate.Struct(dest); err != nil {
		return formatValidationErrors(err)
	}
	return nil
}

func formatValidationErrors(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return apperr.Wrap(apperr.CodeValidation, err, "validation failed")
	}
	parts := make([]string, 0, len(errs))
	for _, fieldErr := range errs {
		parts = append(parts, fieldErr.Field()+" "+validationMessage(fieldErr))
	}
	return apperr.New(apperr.CodeValidation, strings.Join(parts, "; "))
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return fmt.Sprintf("must be at most %s characters", fe.Param())
	case "eth_addr":
		return "must be a 0x-prefixed 20 byte hex address"
	case "numeric":
		return "must be a decimal number"
	}
	return "is invalid"
}

func parseAddress(field, value string) (domain.Address, error) {
	addr, err := domain.ParseAddress(value)
	if err != nil {
		return "", apperr.Wrap(apperr.CodeValidation, err, field+" is not a valid address")
	}
	return addr, nil
}

type createCampaignRequest struct {
	Address      string    `json:"address" validate:"required,eth_addr"`
	Name         string    `json:"name" validate:"required,max=200"`
	Description  string    `json:"description" validate:"max=5000"`
	Creator      string    `json:"creator" validate:"required,eth_addr"`
	Admin        string    `json:"admin" validate:"omitempty,eth_addr"`
	Factory      string    `json:"factory" validate:"required,eth_addr"`
	Network      string    `json:"network" validate:"required,max=64"`
	Goal         string    `json:"goal" validate:"required,numeric"`
	Deadline     time.Time `json:"deadline" validate:"required"`
	TokenEnabled bool      `json:"token_enabled"`
	Donation     bool      `json:"donation"`
	MetadataHash string    `json:"metadata_hash" validate:"max=128"`
}

func (req createCampaignRequest) command() (service.CreateCampaign, error) {
	var (
		cmd service.CreateCampaign
		err error
	)
	if cmd.Address, err = parseAddress("address", req.Address); err != nil {
		return cmd, err
	}
	if cmd.Creator, err = parseAddress("creator", req.Creator); err != nil {
		return cmd, err
	}
	if req.Admin != "" {
		if cmd.Admin, err = parseAddress("admin", req.Admin); err != nil {
			return cmd, err
		}
	}
	if cmd.Factory, err = parseAddress("factory", req.Factory); err != nil {
		return cmd, err
	}
	if cmd.Goal, err = decimal.NewFromString(req.Goal); err != nil {
		return cmd, apperr.Wrap(apperr.CodeValidation, err, "goal must be a decimal number")
	}
	cmd.Name = req.Name
	cmd.Description = req.Description
	cmd.Network = req.Network
	cmd.Deadline = req.Deadline
	cmd.TokenEnabled = req.TokenEnabled
	cmd.Donation = req.Donation
	cmd.MetadataHash = req.MetadataHash
	return cmd, nil
}

// contributeRequest carries the amount in whole asset units, e.g. "0.01".
// The contribution time is always the server clock.
type contributeRequest struct {
	Contributor string `json:"contributor" validate:"required,eth_addr"`
	Asset       string `json:"asset" validate:"required"`
	Amount      string `json:"amount" validate:"required,numeric"`
}

func (req contributeRequest) command(campaign domain.Address, txRef string) (service.Contribute, error) {
	cmd := service.Contribute{Campaign: campaign, TxRef: txRef}
	var err error
	if cmd.Contributor, err = parseAddress("contributor", req.Contributor); err != nil {
		return cmd, err
	}
	if cmd.Asset, err = domain.ParseAsset(req.Asset); err != nil {
		return cmd, apperr.Wrap(apperr.CodeAssetNotEnabled, err, "unsupported asset")
	}
	value, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return cmd, apperr.Wrap(apperr.CodeValidation, err, "amount must be a decimal number")
	}
	if cmd.Amount, err = cmd.Asset.FromUnits(value); err != nil {
		return cmd, apperr.Wrap(apperr.CodeInvalidAmount, err, "amount not representable")
	}
	return cmd, nil
}

type transferCreatorRequest struct {
	NewCreator string `json:"new_creator" validate:"required,eth_addr"`
}

type campaignResponse struct {
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
	Progress          string            `json:"progress"`
	Balances          map[string]string `json:"balances"`
	Status            domain.Status     `json:"status"`
	StatusCode        int               `json:"status_code"`
	PaidOut           bool              `json:"paid_out"`
	Donation          bool              `json:"donation"`
	Deadline          time.Time         `json:"deadline"`
	DaysLeft          int               `json:"days_left"`
	TokenEnabled      bool              `json:"token_enabled"`
	MetadataHash      string            `json:"metadata_hash,omitempty"`
	ContributionCount int64             `json:"contribution_count"`
	Version           int64             `json:"version"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

func toCampaignResponse(c *domain.Campaign, now time.Time) campaignResponse {
	return campaignResponse{
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
		Progress:          c.Progress().String(),
		Balances:          amounts(c.Balances),
		Status:            c.Status,
		StatusCode:        c.Status.Code(),
		PaidOut:           c.PaidOut,
		Donation:          c.Donation,
		Deadline:          c.Deadline,
		DaysLeft:          c.DaysLeft(now),
		TokenEnabled:      c.TokenEnabled,
		MetadataHash:      c.MetadataHash,
		ContributionCount: c.ContributionCount,
		Version:           c.Version,
		CreatedAt:         c.CreatedAt,
		UpdatedAt:         c.UpdatedAt,
	}
}

// amounts renders smallest-unit balances for every catalogued asset.
func amounts(balances map[domain.Asset]*uint256.Int) map[string]string {
	out := make(map[string]string, len(domain.Assets()))
	for _, asset := range domain.Assets() {
		value := "0"
		if amount, ok := balances[asset]; ok && amount != nil {
			value = amount.Dec()
		}
		out[asset.String()] = value
	}
	return out
}

type contributionResponse struct {
	TxRef            string    `json:"tx_ref"`
	Contributor      string    `json:"contributor"`
	Asset            string    `json:"asset"`
	Amount           string    `json:"amount"`
	Units            string    `json:"units"`
	AccountingAmount string    `json:"accounting_amount"`
	Rate             string    `json:"rate"`
	Timestamp        time.Time `json:"timestamp"`
	Sequence         int64     `json:"sequence"`
}

func toContributionResponse(c domain.Contribution) contributionResponse {
	return contributionResponse{
		TxRef:            c.TxRef,
		Contributor:      c.Contributor.String(),
		Asset:            c.Asset.String(),
		Amount:           c.Amount.Dec(),
		Units:            c.Asset.ToUnits(c.Amount).String(),
		AccountingAmount: c.AccountingAmount.String(),
		Rate:             c.Rate.String(),
		Timestamp:        c.Timestamp,
		Sequence:         c.Sequence,
	}
}

type contributeResponse struct {
	Campaign     campaignResponse     `json:"campaign"`
	Contribution contributionResponse `json:"contribution"`
}

type withdrawResponse struct {
	Campaign campaignResponse  `json:"campaign"`
	Payout   map[string]string `json:"payout"`
}

type balanceCheckResponse struct {
	Asset  string `json:"asset"`
	Engine string `json:"engine"`
	Ledger string `json:"ledger"`
	InSync bool   `json:"in_sync"`
}

func toBalanceChecks(checks []service.BalanceCheck) []balanceCheckResponse {
	out := make([]balanceCheckResponse, 0, len(checks))
	for _, check := range checks {
		out = append(out, balanceCheckResponse{
			Asset:  check.Asset.String(),
			Engine: check.Engine.Dec(),
			Ledger: check.Ledger.Dec(),
			InSync: check.InSync(),
		})
	}
	return out
}

type revenuePointResponse struct {
	Label     string    `json:"label"`
	Start     time.Time `json:"start"`
	Revenue   string    `json:"revenue"`
	Donations string    `json:"donations"`
}

func toRevenueSeries(series []service.RevenuePoint) []revenuePointResponse {
	out := make([]revenuePointResponse, 0, len(series))
	for _, p := range series {
		out = append(out, revenuePointResponse{
			Label:     p.Label,
			Start:     p.Start,
			Revenue:   p.Revenue.String(),
			Donations: p.Donations.String(),
		})
	}
	return out
}

type ledgerFeedResponse struct {
	TxRef string `json:"tx_ref"`
}

type statsResponse struct {
	Total         int            `json:"total"`
	ByStatus      map[string]int `json:"by_status"`
	Accepting     int            `json:"accepting"`
	GoalReached   int            `json:"goal_reached"`
	PaidOut       int            `json:"paid_out"`
	Contributions int64          `json:"contributions"`
	TotalRaised   string         `json:"total_raised"`
	TotalGoal     string         `json:"total_goal"`
}

func toStatsResponse(s service.Stats) statsResponse {
	byStatus := make(map[string]int, len(s.ByStatus))
	for status, n := range s.ByStatus {
		byStatus[status.String()] = n
	}
	return statsResponse{
		Total:         s.Total,
		ByStatus:      byStatus,
		Accepting:     s.Accepting,
		GoalReached:   s.GoalReached,
		PaidOut:       s.PaidOut,
		Contributions: s.Contributions,
		TotalRaised:   s.TotalRaised.String(),
		TotalGoal:     s.TotalGoal.String(),
	}
}
