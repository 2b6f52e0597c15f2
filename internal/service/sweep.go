package service

import (
	"context"

	"github.com/punchamoorthee/campaignledger/internal/apperr"
	"github.com/punchamoorthee/campaignledger/internal/domain"
	"github.com/punchamoorthee/campaignledger/internal/store"
)

// SweepReport lists what one deadline sweep did.
type SweepReport struct {
	Finalized []*domain.Campaign
	Skipped   int
}

// SweepExpired finalizes every regular campaign whose deadline has passed.
// Campaigns that changed underneath the sweep are skipped and picked up by
// the next run; infrastructure errors abort the sweep.
func (s *Service) SweepExpired(ctx context.Context) (SweepReport, error) {
	now := s.now()
	candidates, err := s.List(ctx, store.Filter{
		Statuses: []domain.Status{domain.StatusActive, domain.StatusPaused},
	})
	if err != nil {
		return SweepReport{}, err
	}

	var report SweepReport
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if c.Donation || !c.Expired(now) {
			continue
		}
		final, err := s.Finalize(ctx, c.Address, "")
		switch apperr.CodeOf(err) {
		case "":
			report.Finalized = append(report.Finalized, final)
			sweepFinalized.WithLabelValues(final.Status.String()).Inc()
		case apperr.CodeInvalidTransition, apperr.CodeConflict, apperr.CodeNotFound:
			report.Skipped++
		default:
			return report, err
		}
	}
	return report, nil
}
