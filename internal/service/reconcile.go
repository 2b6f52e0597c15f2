package service

import (
	"context"

	"github.com/holiman/uint256"

	"github.com/punchamoorthee/campaignledger/internal/apperr"
	"github.com/punchamoorthee/campaignledger/internal/domain"
	"github.com/punchamoorthee/campaignledger/internal/ledger"
	"github.com/punchamoorthee/campaignledger/internal/store"
)

// ReconcileReport summarises one replay of ledger events.
type ReconcileReport struct {
	Applied    int
	Duplicates int
	Rejected   int
	Checkpoint string
	// Drifted counts asset balances that disagree with the ledger after
	// the replay. Only ReconcileAll fills it.
	Drifted int
}

// BalanceCheck compares one asset balance with the ledger.
type BalanceCheck struct {
	Asset  domain.Asset
	Engine *uint256.Int
	Ledger *uint256.Int
}

func (b BalanceCheck) InSync() bool {
	return b.Engine.Eq(b.Ledger)
}

// ReconcileCampaign replays confirmed ledger contributions since the stored
// checkpoint through the contribution command, each as of its ledger
// confirmation time. Events already recorded through the command path are
// recognised by their TxRef and skipped. The checkpoint advances after every
// handled event, so a failed run resumes where it stopped.
func (s *Service) ReconcileCampaign(ctx context.Context, address domain.Address) (ReconcileReport, error) {
	if s.events == nil {
		return ReconcileReport{}, apperr.New(apperr.CodeDependency, "no ledger event source configured")
	}
	ctx = s.log.WithCampaign(ctx, address.String())

	checkpoint, err := s.store.Checkpoint(ctx, address)
	if err != nil {
		return ReconcileReport{}, storeError(err)
	}
	report := ReconcileReport{Checkpoint: checkpoint}

	err = s.events.StreamEvents(ctx, address, checkpoint, func(ev ledger.Event) error {
		if ev.Type == ledger.EventContribution {
			_, _, err := s.recordContribution(ctx, Contribute{
				Campaign:    address,
				TxRef:       ev.TxRef,
				Contributor: ev.Contributor,
				Asset:       ev.Asset,
				Amount:      ev.Amount,
			}, ev.Timestamp)
			switch meta := apperr.MetadataFor(apperr.CodeOf(err)); {
			case err == nil:
				report.Applied++
			case apperr.CodeOf(err) == apperr.CodeDuplicateContribution:
				report.Duplicates++
			case meta.Retryable || apperr.CodeOf(err) == apperr.CodeInternal:
				return err
			default:
				report.Rejected++
				s.log.Warn(s.log.WithField(ctx, "tx_ref", ev.TxRef), "ledger contribution rejected: "+err.Error())
			}
		}

		if err := s.store.SaveCheckpoint(ctx, address, ev.Checkpoint); err != nil {
			return storeError(err)
		}
		report.Checkpoint = ev.Checkpoint
		return nil
	})
	if err != nil {
		if apperr.As(err) == nil {
			err = apperr.Wrap(apperr.CodeDependency, err, "ledger event stream failed")
		}
		return report, err
	}
	return report, nil
}

// ReconcileAll reconciles every campaign that can still receive funds and
// sums the reports. When a balance reader is configured each campaign's
// balances are then verified against the ledger. A campaign that fails is
// logged and left for the next run; cancellation stops the pass.
func (s *Service) ReconcileAll(ctx context.Context) (ReconcileReport, error) {
	if s.events == nil {
		return ReconcileReport{}, apperr.New(apperr.CodeDependency, "no ledger event source configured")
	}
	campaigns, err := s.List(ctx, store.Filter{
		Statuses: []domain.Status{domain.StatusActive, domain.StatusPaused, domain.StatusDonation},
	})
	if err != nil {
		return ReconcileReport{}, err
	}

	var total ReconcileReport
	for _, c := range campaigns {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		report, err := s.ReconcileCampaign(ctx, c.Address)
		total.Applied += report.Applied
		total.Duplicates += report.Duplicates
		total.Rejected += report.Rejected
		if err != nil {
			s.log.Error(s.log.WithCampaign(ctx, c.Address.String()), "reconcile failed", err)
			continue
		}
		if s.balances == nil {
			continue
		}
		checks, err := s.VerifyBalances(ctx, c.Address)
		if err != nil {
			s.log.Error(s.log.WithCampaign(ctx, c.Address.String()), "balance verification failed", err)
			continue
		}
		for _, check := range checks {
			if !check.InSync() {
				total.Drifted++
			}
		}
	}
	return total, nil
}

// VerifyBalances compares the engine's held balances with the ledger's
// confirmed balances and publishes the difference as a gauge.
func (s *Service) VerifyBalances(ctx context.Context, address domain.Address) ([]BalanceCheck, error) {
	if s.balances == nil {
		return nil, apperr.New(apperr.CodeDependency, "no ledger balance reader configured")
	}
	c, err := s.Get(ctx, address)
	if err != nil {
		return nil, err
	}

	checks := make([]BalanceCheck, 0, len(domain.Assets()))
	for _, asset := range domain.Assets() {
		if asset.Kind() == domain.AssetKindToken && !c.TokenEnabled {
			continue
		}
		confirmed, err := s.balances.ConfirmedBalance(ctx, address, asset)
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeDependency, err, "ledger balance unavailable")
		}
		check := BalanceCheck{Asset: asset, Engine: c.Balance(asset), Ledger: confirmed}
		drift := asset.ToUnits(check.Ledger).Sub(asset.ToUnits(check.Engine))
		balanceDrift.WithLabelValues(address.String(), asset.String()).Set(drift.InexactFloat64())
		if !check.InSync() {
			s.log.Warn(s.log.WithField(ctx, "asset", asset.String()), "balance drift "+drift.String())
		}
		checks = append(checks, check)
	}
	return checks, nil
}
