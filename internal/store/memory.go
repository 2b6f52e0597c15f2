package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

type contributionKey struct {
	campaign domain.Address
	txRef    string
}

// Memory keeps everything in process. Values are cloned on the way in and
// out so callers never share state with the store.
type Memory struct {
	mu            sync.RWMutex
	campaigns     map[domain.Address]*domain.Campaign
	contributions map[domain.Address][]domain.Contribution
	txRefs        map[contributionKey]struct{}
	checkpoints   map[domain.Address]string
}

func NewMemory() *Memory {
	return &Memory{
		campaigns:     make(map[domain.Address]*domain.Campaign),
		contributions: make(map[domain.Address][]domain.Contribution),
		txRefs:        make(map[contributionKey]struct{}),
		checkpoints:   make(map[domain.Address]string),
	}
}

func (m *Memory) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.campaigns[c.Address]; ok {
		return fmt.Errorf("%s: %w", c.Address, ErrExists)
	}
	m.campaigns[c.Address] = c.Clone()
	return nil
}

func (m *Memory) GetCampaign(ctx context.Context, address domain.Address) (*domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.campaigns[address]
	if !ok {
		return nil, fmt.Errorf("%s: %w", address, ErrNotFound)
	}
	return c.Clone(), nil
}

func (m *Memory) ListCampaigns(ctx context.Context, filter Filter) ([]*domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	out := make([]*domain.Campaign, 0, len(m.campaigns))
	for _, c := range m.campaigns {
		if filter.Match(c) {
			out = append(out, c.Clone())
		}
	}
	m.mu.RUnlock()
	return sortAndPage(out, filter), nil
}

func (m *Memory) Commit(ctx context.Context, next *domain.Campaign, contribution *domain.Contribution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	current, ok := m.campaigns[next.Address]
	if !ok {
		return fmt.Errorf("%s: %w", next.Address, ErrNotFound)
	}
	if current.Version != next.Version-1 {
		return fmt.Errorf("%s at version %d: %w", next.Address, current.Version, ErrVersionConflict)
	}
	if contribution != nil {
		key := contributionKey{campaign: next.Address, txRef: contribution.TxRef}
		if _, dup := m.txRefs[key]; dup {
			return fmt.Errorf("%s: %w", contribution.TxRef, ErrDuplicateContribution)
		}
		m.txRefs[key] = struct{}{}
		m.contributions[next.Address] = append(m.contributions[next.Address], cloneContribution(*contribution))
	}
	m.campaigns[next.Address] = next.Clone()
	return nil
}

func (m *Memory) HasContribution(ctx context.Context, address domain.Address, txRef string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.txRefs[contributionKey{campaign: address, txRef: txRef}]
	return ok, nil
}

func (m *Memory) ListContributions(ctx context.Context, address domain.Address) ([]domain.Contribution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.campaigns[address]; !ok {
		return nil, fmt.Errorf("%s: %w", address, ErrNotFound)
	}
	log := m.contributions[address]
	out := make([]domain.Contribution, len(log))
	for i, c := range log {
		out[i] = cloneContribution(c)
	}
	return out, nil
}

func (m *Memory) Checkpoint(ctx context.Context, address domain.Address) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.checkpoints[address], nil
}

func (m *Memory) SaveCheckpoint(ctx context.Context, address domain.Address, checkpoint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkpoints[address] = checkpoint
	return nil
}

func (m *Memory) Close() error { return nil }
