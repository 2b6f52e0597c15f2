// Package store persists campaigns, their append-only contribution logs and
// ledger reconciliation checkpoints.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

var (
	ErrNotFound              = errors.New("campaign not found")
	ErrExists                = errors.New("campaign already exists")
	ErrDuplicateContribution = errors.New("contribution already recorded")
	ErrVersionConflict       = errors.New("campaign modified concurrently")
)

// Store is the engine's only persistence dependency. Commit is the single
// commit point of every command: the campaign update and the optional
// contribution become visible together or not at all.
type Store interface {
	CreateCampaign(ctx context.Context, c *domain.Campaign) error
	GetCampaign(ctx context.Context, address domain.Address) (*domain.Campaign, error)
	ListCampaigns(ctx context.Context, filter Filter) ([]*domain.Campaign, error)
	// Commit stores next if the stored version equals next.Version-1, and
	// appends contribution when it is non-nil.
	Commit(ctx context.Context, next *domain.Campaign, contribution *domain.Contribution) error
	HasContribution(ctx context.Context, address domain.Address, txRef string) (bool, error)
	ListContributions(ctx context.Context, address domain.Address) ([]domain.Contribution, error)
	Checkpoint(ctx context.Context, address domain.Address) (string, error)
	SaveCheckpoint(ctx context.Context, address domain.Address, checkpoint string) error
	Close() error
}

// Filter narrows ListCampaigns. Zero fields match everything.
type Filter struct {
	Factory  domain.Address
	Network  string
	Creator  domain.Address
	Statuses []domain.Status
	Limit    int
	Offset   int
}

// Match reports whether c passes the filter, ignoring pagination.
func (f Filter) Match(c *domain.Campaign) bool {
	if f.Factory != "" && c.Factory != f.Factory {
		return false
	}
	if f.Network != "" && c.Network != f.Network {
		return false
	}
	if f.Creator != "" && c.Creator != f.Creator {
		return false
	}
	if len(f.Statuses) == 0 {
		return true
	}
	for _, status := range f.Statuses {
		if c.Status == status {
			return true
		}
	}
	return false
}

// sortAndPage orders campaigns by creation time then address and applies
// the filter's offset and limit.
func sortAndPage(campaigns []*domain.Campaign, f Filter) []*domain.Campaign {
	sort.Slice(campaigns, func(i, j int) bool {
		if !campaigns[i].CreatedAt.Equal(campaigns[j].CreatedAt) {
			return campaigns[i].CreatedAt.Before(campaigns[j].CreatedAt)
		}
		return campaigns[i].Address < campaigns[j].Address
	})
	if f.Offset > 0 {
		if f.Offset >= len(campaigns) {
			return []*domain.Campaign{}
		}
		campaigns = campaigns[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(campaigns) {
		campaigns = campaigns[:f.Limit]
	}
	return campaigns
}
