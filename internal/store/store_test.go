package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

var (
	factory = domain.MustAddress("0x1111111111111111111111111111111111111111")
	creator = domain.MustAddress("0x2222222222222222222222222222222222222222")
	backer  = domain.MustAddress("0x3333333333333333333333333333333333333333")
)

func newCampaign(i int, created time.Time) *domain.Campaign {
	addr := domain.MustAddress(fmt.Sprintf("0x%040x", 0xc0de00+i))
	return &domain.Campaign{
		Address:   addr,
		Name:      fmt.Sprintf("campaign %d", i),
		Creator:   creator,
		Admin:     creator,
		Factory:   factory,
		Network:   "sepolia",
		Goal:      decimal.NewFromInt(10000),
		Raised:    decimal.Zero,
		Balances:  map[domain.Asset]*uint256.Int{},
		Status:    domain.StatusActive,
		Deadline:  created.Add(30 * 24 * time.Hour),
		Version:   1,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func contribute(c *domain.Campaign, txRef string, amount uint64) (*domain.Campaign, *domain.Contribution) {
	next := c.Clone()
	next.Version++
	next.ContributionCount++
	value := decimal.NewFromInt(int64(amount) * 2300)
	next.Raised = next.Raised.Add(value)
	next.Balances[domain.AssetETH] = new(uint256.Int).Add(next.Balance(domain.AssetETH), uint256.NewInt(amount))
	return next, &domain.Contribution{
		CampaignAddress:  c.Address,
		TxRef:            txRef,
		Contributor:      backer,
		Asset:            domain.AssetETH,
		Amount:           uint256.NewInt(amount),
		AccountingAmount: value,
		Rate:             decimal.NewFromInt(2300),
		Timestamp:        c.CreatedAt.Add(time.Hour),
		Sequence:         next.ContributionCount,
	}
}

func runStoreSuite(t *testing.T, open func(t *testing.T) Store) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("create and get", func(t *testing.T) {
		s := open(t)
		c := newCampaign(1, base)
		require.NoError(t, s.CreateCampaign(ctx, c))

		got, err := s.GetCampaign(ctx, c.Address)
		require.NoError(t, err)
		assert.Equal(t, c.Name, got.Name)
		assert.True(t, c.Goal.Equal(got.Goal))
		assert.Equal(t, domain.StatusActive, got.Status)
		assert.Equal(t, int64(1), got.Version)

		assert.ErrorIs(t, s.CreateCampaign(ctx, c), ErrExists)
		_, err = s.GetCampaign(ctx, domain.MustAddress("0x9999999999999999999999999999999999999999"))
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("commit appends contributions in order", func(t *testing.T) {
		s := open(t)
		c := newCampaign(2, base)
		require.NoError(t, s.CreateCampaign(ctx, c))

		next, contrib := contribute(c, "tx-1", 1)
		require.NoError(t, s.Commit(ctx, next, contrib))
		next2, contrib2 := contribute(next, "tx-2", 2)
		require.NoError(t, s.Commit(ctx, next2, contrib2))

		got, err := s.GetCampaign(ctx, c.Address)
		require.NoError(t, err)
		assert.Equal(t, int64(3), got.Version)
		assert.Equal(t, int64(2), got.ContributionCount)
		assert.True(t, got.Raised.Equal(decimal.NewFromInt(6900)))
		assert.Equal(t, uint64(3), got.Balance(domain.AssetETH).Uint64())

		log, err := s.ListContributions(ctx, c.Address)
		require.NoError(t, err)
		require.Len(t, log, 2)
		assert.Equal(t, "tx-1", log[0].TxRef)
		assert.Equal(t, "tx-2", log[1].TxRef)
		assert.Equal(t, uint64(2), log[1].Amount.Uint64())
		assert.True(t, log[1].Rate.Equal(decimal.NewFromInt(2300)))

		has, err := s.HasContribution(ctx, c.Address, "tx-2")
		require.NoError(t, err)
		assert.True(t, has)
		has, err = s.HasContribution(ctx, c.Address, "tx-3")
		require.NoError(t, err)
		assert.False(t, has)
	})

	t.Run("duplicate txRef leaves state untouched", func(t *testing.T) {
		s := open(t)
		c := newCampaign(3, base)
		require.NoError(t, s.CreateCampaign(ctx, c))

		next, contrib := contribute(c, "tx-1", 1)
		require.NoError(t, s.Commit(ctx, next, contrib))

		again, dup := contribute(next, "tx-1", 5)
		assert.ErrorIs(t, s.Commit(ctx, again, dup), ErrDuplicateContribution)

		got, err := s.GetCampaign(ctx, c.Address)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
		assert.Equal(t, uint64(1), got.Balance(domain.AssetETH).Uint64())
	})

	t.Run("stale version is rejected", func(t *testing.T) {
		s := open(t)
		c := newCampaign(4, base)
		require.NoError(t, s.CreateCampaign(ctx, c))

		first, contrib := contribute(c, "tx-1", 1)
		require.NoError(t, s.Commit(ctx, first, contrib))

		stale := c.Clone()
		stale.Version++
		stale.Status = domain.StatusPaused
		assert.ErrorIs(t, s.Commit(ctx, stale, nil), ErrVersionConflict)

		missing := newCampaign(40, base)
		missing.Version = 2
		assert.ErrorIs(t, s.Commit(ctx, missing, nil), ErrNotFound)
	})

	t.Run("creator transfer is persisted", func(t *testing.T) {
		s := open(t)
		c := newCampaign(50, base)
		require.NoError(t, s.CreateCampaign(ctx, c))

		next := c.Clone()
		next.Version++
		next.PreviousCreator = c.Creator
		next.Creator = backer
		require.NoError(t, s.Commit(ctx, next, nil))

		got, err := s.GetCampaign(ctx, c.Address)
		require.NoError(t, err)
		assert.Equal(t, backer, got.Creator)
		assert.Equal(t, creator, got.PreviousCreator)
	})

	t.Run("list filters and pages", func(t *testing.T) {
		s := open(t)
		other := domain.MustAddress("0x4444444444444444444444444444444444444444")
		for i := 0; i < 5; i++ {
			c := newCampaign(10+i, base.Add(time.Duration(i)*time.Minute))
			if i%2 == 1 {
				c.Status = domain.StatusPending
			}
			if i == 4 {
				c.Factory = other
			}
			require.NoError(t, s.CreateCampaign(ctx, c))
		}

		all, err := s.ListCampaigns(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, all, 5)
		assert.Equal(t, "campaign 10", all[0].Name)

		byFactory, err := s.ListCampaigns(ctx, Filter{Factory: factory})
		require.NoError(t, err)
		assert.Len(t, byFactory, 4)

		pending, err := s.ListCampaigns(ctx, Filter{Statuses: []domain.Status{domain.StatusPending}})
		require.NoError(t, err)
		assert.Len(t, pending, 2)

		page, err := s.ListCampaigns(ctx, Filter{Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, "campaign 11", page[0].Name)

		none, err := s.ListCampaigns(ctx, Filter{Network: "mainnet"})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("checkpoints", func(t *testing.T) {
		s := open(t)
		c := newCampaign(5, base)
		require.NoError(t, s.CreateCampaign(ctx, c))

		cp, err := s.Checkpoint(ctx, c.Address)
		require.NoError(t, err)
		assert.Empty(t, cp)

		require.NoError(t, s.SaveCheckpoint(ctx, c.Address, "42"))
		require.NoError(t, s.SaveCheckpoint(ctx, c.Address, "43"))
		cp, err = s.Checkpoint(ctx, c.Address)
		require.NoError(t, err)
		assert.Equal(t, "43", cp)
	})

	t.Run("returned values are detached", func(t *testing.T) {
		s := open(t)
		c := newCampaign(6, base)
		require.NoError(t, s.CreateCampaign(ctx, c))

		got, err := s.GetCampaign(ctx, c.Address)
		require.NoError(t, err)
		got.Balances[domain.AssetETH] = uint256.NewInt(99)
		got.Status = domain.StatusCancelled

		again, err := s.GetCampaign(ctx, c.Address)
		require.NoError(t, err)
		assert.True(t, again.Balance(domain.AssetETH).IsZero())
		assert.Equal(t, domain.StatusActive, again.Status)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store { return NewMemory() })
}

func TestLevelDBStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		s, err := NewLevelDB(filepath.Join(t.TempDir(), "campaigns"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

func TestLevelDBSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "campaigns")
	s, err := NewLevelDB(path)
	require.NoError(t, err)

	c := newCampaign(1, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, s.CreateCampaign(ctx, c))
	next, contrib := contribute(c, "tx-1", 7)
	require.NoError(t, s.Commit(ctx, next, contrib))
	require.NoError(t, s.Close())

	s, err = NewLevelDB(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetCampaign(ctx, c.Address)
	require.NoError(t, err)
	assert.Equal(t, uint64(7), got.Balance(domain.AssetETH).Uint64())
	log, err := s.ListContributions(ctx, c.Address)
	require.NoError(t, err)
	assert.Len(t, log, 1)
}

// TestPostgresStore runs against a disposable database named by
// CAMPAIGN_TEST_DB_SOURCE; each subtest truncates the tables first.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("CAMPAIGN_TEST_DB_SOURCE")
	if dsn == "" {
		t.Skip("CAMPAIGN_TEST_DB_SOURCE not set")
	}
	ctx := context.Background()
	s, err := NewPostgres(ctx, dsn, 4)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))

	runStoreSuite(t, func(t *testing.T) Store {
		_, err := s.Db.Exec(ctx, "TRUNCATE reconcile_checkpoints, contributions, campaigns")
		require.NoError(t, err)
		return s
	})
}
