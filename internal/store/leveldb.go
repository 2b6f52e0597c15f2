package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

// Key layout:
//
//	c/<address>                 campaign record
//	x/<address>/<txRef>         contribution record
//	s/<address>/<sequence:020>  txRef, for ordered replay
//	k/<address>                 reconciliation checkpoint
const (
	campaignPrefix     = "c/"
	contributionPrefix = "x/"
	sequencePrefix     = "s/"
	checkpointPrefix   = "k/"
)

// LevelDB is a single-node persistent store. Writes of one command go out
// as one batch; mu makes the version check and the batch atomic.
type LevelDB struct {
	mu sync.Mutex
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

func campaignKey(address domain.Address) []byte {
	return []byte(campaignPrefix + address.String())
}

func contributionKeyBytes(address domain.Address, txRef string) []byte {
	return []byte(contributionPrefix + address.String() + "/" + txRef)
}

func sequenceKey(address domain.Address, sequence int64) []byte {
	return []byte(fmt.Sprintf("%s%s/%020d", sequencePrefix, address, sequence))
}

func checkpointKey(address domain.Address) []byte {
	return []byte(checkpointPrefix + address.String())
}

func (l *LevelDB) readCampaign(address domain.Address) (*domain.Campaign, error) {
	raw, err := l.db.Get(campaignKey(address), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read campaign %s: %w", address, err)
	}
	return decodeCampaign(raw)
}

func decodeCampaign(raw []byte) (*domain.Campaign, error) {
	var rec campaignRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode campaign: %w", err)
	}
	return rec.toDomain()
}

func (l *LevelDB) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(toCampaignRecord(c))
	if err != nil {
		return fmt.Errorf("encode campaign: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	exists, err := l.db.Has(campaignKey(c.Address), nil)
	if err != nil {
		return fmt.Errorf("check campaign %s: %w", c.Address, err)
	}
	if exists {
		return fmt.Errorf("%s: %w", c.Address, ErrExists)
	}
	return l.db.Put(campaignKey(c.Address), raw, nil)
}

func (l *LevelDB) GetCampaign(ctx context.Context, address domain.Address) (*domain.Campaign, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return l.readCampaign(address)
}

func (l *LevelDB) ListCampaigns(ctx context.Context, filter Filter) ([]*domain.Campaign, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(campaignPrefix)), nil)
	defer iter.Release()

	var out []*domain.Campaign
	for iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		c, err := decodeCampaign(iter.Value())
		if err != nil {
			return nil, err
		}
		if filter.Match(c) {
			out = append(out, c)
		}
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate campaigns: %w", err)
	}
	return sortAndPage(out, filter), nil
}

func (l *LevelDB) Commit(ctx context.Context, next *domain.Campaign, contribution *domain.Contribution) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(toCampaignRecord(next))
	if err != nil {
		return fmt.Errorf("encode campaign: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	current, err := l.readCampaign(next.Address)
	if err != nil {
		return err
	}
	if current.Version != next.Version-1 {
		return fmt.Errorf("%s at version %d: %w", next.Address, current.Version, ErrVersionConflict)
	}

	batch := new(leveldb.Batch)
	batch.Put(campaignKey(next.Address), raw)
	if contribution != nil {
		key := contributionKeyBytes(next.Address, contribution.TxRef)
		dup, err := l.db.Has(key, nil)
		if err != nil {
			return fmt.Errorf("check contribution %s: %w", contribution.TxRef, err)
		}
		if dup {
			return fmt.Errorf("%s: %w", contribution.TxRef, ErrDuplicateContribution)
		}
		rec, err := json.Marshal(toContributionRecord(contribution))
		if err != nil {
			return fmt.Errorf("encode contribution: %w", err)
		}
		batch.Put(key, rec)
		batch.Put(sequenceKey(next.Address, contribution.Sequence), []byte(contribution.TxRef))
	}
	return l.db.Write(batch, nil)
}

func (l *LevelDB) HasContribution(ctx context.Context, address domain.Address, txRef string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return l.db.Has(contributionKeyBytes(address, txRef), nil)
}

func (l *LevelDB) ListContributions(ctx context.Context, address domain.Address) ([]domain.Contribution, error) {
	if _, err := l.GetCampaign(ctx, address); err != nil {
		return nil, err
	}
	prefix := []byte(sequencePrefix + address.String() + "/")
	iter := l.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	out := []domain.Contribution{}
	for iter.Next() {
		raw, err := l.db.Get(contributionKeyBytes(address, string(iter.Value())), nil)
		if err != nil {
			return nil, fmt.Errorf("read contribution %s: %w", iter.Value(), err)
		}
		var rec contributionRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return nil, fmt.Errorf("decode contribution: %w", err)
		}
		c, err := rec.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate contributions: %w", err)
	}
	return out, nil
}

func (l *LevelDB) Checkpoint(ctx context.Context, address domain.Address) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := l.db.Get(checkpointKey(address), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read checkpoint %s: %w", address, err)
	}
	return string(raw), nil
}

func (l *LevelDB) SaveCheckpoint(ctx context.Context, address domain.Address, checkpoint string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Put(checkpointKey(address), []byte(checkpoint), nil)
}

func (l *LevelDB) Close() error {
	return l.db.Close()
}
