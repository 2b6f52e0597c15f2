package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/campaignledger/internal/accounting"
	"github.com/punchamoorthee/campaignledger/internal/apperr"
	"github.com/punchamoorthee/campaignledger/internal/domain"
	"github.com/punchamoorthee/campaignledger/internal/lifecycle"
	"github.com/punchamoorthee/campaignledger/internal/pricing"
)

// CreateCampaign mirrors a campaign deployed by a factory on a network.
type CreateCampaign struct {
	Address      domain.Address
	Name         string
	Description  string
	Creator      domain.Address
	Admin        domain.Address
	Factory      domain.Address
	Network      string
	Goal         decimal.Decimal
	Deadline     time.Time
	TokenEnabled bool
	Donation     bool
	MetadataHash string
}

// Contribute is a confirmed contribution. TxRef is the ledger transaction
// reference and deduplicates replays.
type Contribute struct {
	Campaign    domain.Address
	TxRef       string
	Contributor domain.Address
	Asset       domain.Asset
	Amount      *uint256.Int
}

// Payout is the result of a successful withdrawal.
type Payout struct {
	Campaign *domain.Campaign
	Amounts  map[domain.Asset]*uint256.Int
}

func (s *Service) Create(ctx context.Context, cmd CreateCampaign) (*domain.Campaign, error) {
	started := time.Now()
	c, err := s.create(ctx, cmd)
	s.observe(s.log.WithCampaign(ctx, cmd.Address.String()), "create", started, err)
	return c, err
}

func (s *Service) create(ctx context.Context, cmd CreateCampaign) (*domain.Campaign, error) {
	now := s.now()
	switch {
	case cmd.Address.IsZero():
		return nil, apperr.New(apperr.CodeValidation, "campaign address is required")
	case strings.TrimSpace(cmd.Name) == "":
		return nil, apperr.New(apperr.CodeValidation, "campaign name is required")
	case cmd.Creator.IsZero():
		return nil, apperr.New(apperr.CodeValidation, "creator is required")
	case cmd.Factory.IsZero():
		return nil, apperr.New(apperr.CodeValidation, "factory is required")
	case strings.TrimSpace(cmd.Network) == "":
		return nil, apperr.New(apperr.CodeValidation, "network is required")
	case !cmd.Goal.IsPositive():
		return nil, apperr.Newf(apperr.CodeValidation, "goal must be positive, got %s", cmd.Goal)
	case !cmd.Deadline.After(now):
		return nil, apperr.New(apperr.CodeValidation, "deadline must be in the future")
	}

	admin := cmd.Admin
	if admin.IsZero() {
		admin = cmd.Creator
	}
	c := &domain.Campaign{
		Address:      cmd.Address,
		Name:         strings.TrimSpace(cmd.Name),
		Description:  cmd.Description,
		Creator:      cmd.Creator,
		Admin:        admin,
		Factory:      cmd.Factory,
		Network:      strings.ToLower(strings.TrimSpace(cmd.Network)),
		Goal:         cmd.Goal,
		Raised:       decimal.Zero,
		Balances:     map[domain.Asset]*uint256.Int{},
		Status:       domain.StatusPending,
		Donation:     cmd.Donation,
		Deadline:     cmd.Deadline.UTC(),
		TokenEnabled: cmd.TokenEnabled,
		MetadataHash: cmd.MetadataHash,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreateCampaign(ctx, c); err != nil {
		return nil, storeError(err)
	}
	return c, nil
}

func (s *Service) Activate(ctx context.Context, address, actor domain.Address) (*domain.Campaign, error) {
	return s.transition(ctx, lifecycle.EventActivate, address, actor)
}

func (s *Service) Pause(ctx context.Context, address, actor domain.Address) (*domain.Campaign, error) {
	return s.transition(ctx, lifecycle.EventPause, address, actor)
}

func (s *Service) Cancel(ctx context.Context, address, actor domain.Address) (*domain.Campaign, error) {
	return s.transition(ctx, lifecycle.EventCancel, address, actor)
}

// Finalize settles a campaign whose deadline has passed. Anyone may call it.
func (s *Service) Finalize(ctx context.Context, address, actor domain.Address) (*domain.Campaign, error) {
	return s.transition(ctx, lifecycle.EventFinalize, address, actor)
}

// Transition applies a lifecycle event by name.
func (s *Service) Transition(ctx context.Context, event string, address, actor domain.Address) (*domain.Campaign, error) {
	ev, err := lifecycle.ParseEvent(event)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeValidation, err, "unknown lifecycle event")
	}
	return s.transition(ctx, ev, address, actor)
}

func (s *Service) transition(ctx context.Context, ev lifecycle.Event, address, actor domain.Address) (*domain.Campaign, error) {
	ctx = s.log.WithActor(ctx, actor.String())
	c, _, err := s.mutate(ctx, string(ev), address, func(_ context.Context, current *domain.Campaign) (*domain.Campaign, *domain.Contribution, error) {
		status, err := lifecycle.Next(current, ev, actor, s.now())
		if err != nil {
			return nil, nil, err
		}
		next := current.Clone()
		next.Status = status
		return next, nil, nil
	})
	return c, err
}

// RecordContribution applies a confirmed contribution exactly once per
// (campaign, TxRef). The deadline is checked against the service clock.
func (s *Service) RecordContribution(ctx context.Context, cmd Contribute) (*domain.Campaign, *domain.Contribution, error) {
	return s.recordContribution(ctx, cmd, time.Time{})
}

// recordContribution applies cmd as of confirmedAt, the ledger confirmation
// time of a replayed event. A zero confirmedAt, or one later than the
// service clock, means now.
func (s *Service) recordContribution(ctx context.Context, cmd Contribute, confirmedAt time.Time) (*domain.Campaign, *domain.Contribution, error) {
	if strings.TrimSpace(cmd.TxRef) == "" {
		err := apperr.New(apperr.CodeValidation, "transaction reference is required")
		s.observe(ctx, "contribute", time.Now(), err)
		return nil, nil, err
	}
	ctx = s.log.WithActor(ctx, cmd.Contributor.String())

	var value decimal.Decimal
	c, contribution, err := s.mutate(ctx, "contribute", cmd.Campaign, func(ctx context.Context, current *domain.Campaign) (*domain.Campaign, *domain.Contribution, error) {
		seen, err := s.store.HasContribution(ctx, current.Address, cmd.TxRef)
		if err != nil {
			return nil, nil, storeError(err)
		}
		if seen {
			return nil, nil, apperr.Newf(apperr.CodeDuplicateContribution, "contribution %s already recorded", cmd.TxRef)
		}

		at := s.now()
		if !confirmedAt.IsZero() && confirmedAt.Before(at) {
			at = confirmedAt
		}
		req := accounting.ContributionRequest{
			TxRef:       cmd.TxRef,
			Contributor: cmd.Contributor,
			Asset:       cmd.Asset,
			Amount:      cmd.Amount,
			Timestamp:   at,
		}
		if err := accounting.CheckContribution(current, req); err != nil {
			return nil, nil, err
		}

		quote, err := s.converter.Convert(ctx, cmd.Asset, cmd.Amount, at)
		if err != nil {
			if errors.Is(err, pricing.ErrNoRate) {
				return nil, nil, apperr.Wrap(apperr.CodeAssetNotEnabled, err, "no conversion rate")
			}
			return nil, nil, apperr.Wrap(apperr.CodeDependency, err, "price conversion failed")
		}
		value = quote.Value
		return accounting.ApplyContribution(current, req, quote.Value, quote.Rate)
	})
	if err != nil {
		return nil, nil, err
	}
	contributedTotal.WithLabelValues(cmd.Asset.String()).Add(value.InexactFloat64())
	return c, contribution, nil
}

// Withdraw releases every held balance to the creator, once.
func (s *Service) Withdraw(ctx context.Context, address, actor domain.Address) (*Payout, error) {
	ctx = s.log.WithActor(ctx, actor.String())
	var amounts map[domain.Asset]*uint256.Int
	c, _, err := s.mutate(ctx, "withdraw", address, func(_ context.Context, current *domain.Campaign) (*domain.Campaign, *domain.Contribution, error) {
		next, payout, err := accounting.Withdraw(current, actor)
		if err != nil {
			return nil, nil, err
		}
		amounts = payout
		return next, nil, nil
	})
	if err != nil {
		return nil, err
	}
	return &Payout{Campaign: c, Amounts: amounts}, nil
}

// TransferCreator hands the creator role to newCreator. The replaced
// creator may retry a completed transfer; the retry succeeds without a
// second commit.
func (s *Service) TransferCreator(ctx context.Context, address, actor, newCreator domain.Address) (*domain.Campaign, error) {
	ctx = s.log.WithActor(ctx, actor.String())
	c, _, err := s.mutate(ctx, "transfer_creator", address, func(_ context.Context, current *domain.Campaign) (*domain.Campaign, *domain.Contribution, error) {
		next, changed, err := accounting.TransferCreator(current, actor, newCreator)
		if err != nil || !changed {
			return nil, nil, err
		}
		return next, nil, nil
	})
	return c, err
}
