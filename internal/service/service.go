// Package service is the command and query façade over campaigns. Every
// command runs lock, load, validate, apply and commit for one campaign;
// reads go straight to the store.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/holiman/uint256"

	"github.com/punchamoorthee/campaignledger/internal/apperr"
	"github.com/punchamoorthee/campaignledger/internal/domain"
	"github.com/punchamoorthee/campaignledger/internal/ledger"
	"github.com/punchamoorthee/campaignledger/internal/locker"
	"github.com/punchamoorthee/campaignledger/internal/logger"
	"github.com/punchamoorthee/campaignledger/internal/pricing"
	"github.com/punchamoorthee/campaignledger/internal/store"
)

// Converter prices a contribution in accounting units.
type Converter interface {
	Convert(ctx context.Context, asset domain.Asset, amount *uint256.Int, at time.Time) (pricing.Quote, error)
}

type Service struct {
	store     store.Store
	locks     locker.Locker
	converter Converter
	log       *logger.Logger
	now       func() time.Time

	events   ledger.EventSource
	balances ledger.BalanceReader
}

type Option func(*Service)

// WithClock replaces the wall clock used for deadlines and timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithLedger enables reconciliation against a ledger. Either argument may
// be nil.
func WithLedger(events ledger.EventSource, balances ledger.BalanceReader) Option {
	return func(s *Service) {
		s.events = events
		s.balances = balances
	}
}

func New(st store.Store, locks locker.Locker, converter Converter, log *logger.Logger, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, fmt.Errorf("store required")
	}
	if converter == nil {
		return nil, fmt.Errorf("converter required")
	}
	if locks == nil {
		locks = locker.NewLocal()
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Service{
		store:     st,
		locks:     locks,
		converter: converter,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Now is the service clock.
func (s *Service) Now() time.Time {
	return s.now()
}

// mutation computes the next snapshot from the current one. A nil next
// with a nil error means there is nothing to commit.
type mutation func(ctx context.Context, current *domain.Campaign) (next *domain.Campaign, contribution *domain.Contribution, err error)

// mutate runs fn under the campaign lock and commits its result. The store
// commit is the only write, so an error or cancellation before it leaves
// the campaign untouched.
func (s *Service) mutate(ctx context.Context, op string, address domain.Address, fn mutation) (*domain.Campaign, *domain.Contribution, error) {
	started := time.Now()
	ctx = s.log.WithCampaign(ctx, address.String())

	next, contribution, err := s.locked(ctx, address, fn)
	s.observe(ctx, op, started, err)
	return next, contribution, err
}

func (s *Service) locked(ctx context.Context, address domain.Address, fn mutation) (*domain.Campaign, *domain.Contribution, error) {
	unlock, err := s.locks.Lock(ctx, address.String())
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.CodeDependency, err, "acquire campaign lock")
	}
	defer unlock()

	current, err := s.store.GetCampaign(ctx, address)
	if err != nil {
		return nil, nil, storeError(err)
	}

	next, contribution, err := fn(ctx, current)
	if err != nil {
		return nil, nil, err
	}
	if next == nil {
		return current, nil, nil
	}

	next.Version = current.Version + 1
	next.UpdatedAt = s.now()
	if err := s.store.Commit(ctx, next, contribution); err != nil {
		return nil, nil, storeError(err)
	}
	return next, contribution, nil
}

func (s *Service) observe(ctx context.Context, op string, started time.Time, err error) {
	commandDuration.WithLabelValues(op).Observe(time.Since(started).Seconds())
	code := "OK"
	if err != nil {
		code = string(apperr.CodeOf(err))
	}
	commandsTotal.WithLabelValues(op, code).Inc()

	ctx = s.log.WithFields(ctx, map[string]any{"operation": op, "code": code})
	switch {
	case err == nil:
		s.log.Info(ctx, "campaign command applied")
	case apperr.CodeOf(err) == apperr.CodeDependency || apperr.CodeOf(err) == apperr.CodeInternal:
		s.log.Error(ctx, "campaign command failed", err)
	default:
		s.log.Warn(ctx, "campaign command rejected: "+err.Error())
	}
}

// storeError classifies store failures into engine error codes.
func storeError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, err, "campaign not found")
	case errors.Is(err, store.ErrDuplicateContribution):
		return apperr.Wrap(apperr.CodeDuplicateContribution, err, "contribution already recorded")
	case errors.Is(err, store.ErrExists):
		return apperr.Wrap(apperr.CodeConflict, err, "campaign already exists")
	case errors.Is(err, store.ErrVersionConflict):
		return apperr.Wrap(apperr.CodeConflict, err, "campaign modified concurrently")
	default:
		return apperr.Wrap(apperr.CodeDependency, err, "campaign store unavailable")
	}
}
