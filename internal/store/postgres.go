package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

const campaignColumns = `address, name, description, creator, previous_creator, admin, factory, network,
	goal::text, raised::text, balances::text, status, paid_out, donation, deadline,
	token_enabled, metadata_hash, contribution_count, version, created_at, updated_at`

type Postgres struct {
	Db *pgxpool.Pool
}

func NewPostgres(ctx context.Context, connString string, maxConns int32) (*Postgres, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = maxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	return &Postgres{Db: pool}, nil
}

// Migrate applies the embedded schema. It is safe to run repeatedly.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.Db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	p.Db.Close()
	return nil
}

func (p *Postgres) CreateCampaign(ctx context.Context, c *domain.Campaign) error {
	balances, err := marshalBalances(c.Balances)
	if err != nil {
		return err
	}
	_, err = p.Db.Exec(ctx, `
		INSERT INTO campaigns (address, name, description, creator, admin, factory, network,
			goal, raised, balances, status, paid_out, donation, deadline, token_enabled,
			metadata_hash, contribution_count, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::numeric, $9::numeric, $10::jsonb, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20)`,
		c.Address.String(), c.Name, c.Description, c.Creator.String(), c.Admin.String(),
		c.Factory.String(), c.Network, c.Goal.String(), c.Raised.String(), balances,
		int16(c.Status.Code()), c.PaidOut, c.Donation, c.Deadline, c.TokenEnabled,
		c.MetadataHash, c.ContributionCount, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("%s: %w", c.Address, ErrExists)
		}
		return fmt.Errorf("campaign insert failed: %w", err)
	}
	return nil
}

func scanCampaign(row pgx.Row) (*domain.Campaign, error) {
	var (
		rec      campaignRecord
		balances string
		status   int16
	)
	err := row.Scan(&rec.Address, &rec.Name, &rec.Description, &rec.Creator, &rec.PreviousCreator, &rec.Admin,
		&rec.Factory, &rec.Network, &rec.Goal, &rec.Raised, &balances, &status, &rec.PaidOut,
		&rec.Donation, &rec.Deadline, &rec.TokenEnabled, &rec.MetadataHash,
		&rec.ContributionCount, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}
	rec.Status = int(status)
	c, err := rec.toDomain()
	if err != nil {
		return nil, err
	}
	if c.Balances, err = unmarshalBalances(balances); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *Postgres) GetCampaign(ctx context.Context, address domain.Address) (*domain.Campaign, error) {
	c, err := scanCampaign(p.Db.QueryRow(ctx,
		"SELECT "+campaignColumns+" FROM campaigns WHERE address = $1", address.String()))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", address, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("campaign query failed: %w", err)
	}
	return c, nil
}

func (p *Postgres) ListCampaigns(ctx context.Context, filter Filter) ([]*domain.Campaign, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.Factory != "" {
		add("factory = $%d", filter.Factory.String())
	}
	if filter.Network != "" {
		add("network = $%d", filter.Network)
	}
	if filter.Creator != "" {
		add("creator = $%d", filter.Creator.String())
	}
	if len(filter.Statuses) > 0 {
		codes := make([]int16, len(filter.Statuses))
		for i, s := range filter.Statuses {
			codes[i] = int16(s.Code())
		}
		add("status = ANY($%d)", codes)
	}

	query := "SELECT " + campaignColumns + " FROM campaigns"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, address"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.Db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("campaign list failed: %w", err)
	}
	defer rows.Close()

	out := []*domain.Campaign{}
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("campaign scan failed: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Commit locks the campaign row, checks its version and writes the update
// and the contribution in one transaction.
func (p *Postgres) Commit(ctx context.Context, next *domain.Campaign, contribution *domain.Contribution) error {
	balances, err := marshalBalances(next.Balances)
	if err != nil {
		return err
	}

	tx, err := p.Db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("tx begin failed: %w", err)
	}
	defer tx.Rollback(ctx)

	var version int64
	err = tx.QueryRow(ctx, "SELECT version FROM campaigns WHERE address = $1 FOR UPDATE",
		next.Address.String()).Scan(&version)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", next.Address, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("lock acquisition failed: %w", err)
	}
	if version != next.Version-1 {
		return fmt.Errorf("%s at version %d: %w", next.Address, version, ErrVersionConflict)
	}

	if contribution != nil {
		_, err = tx.Exec(ctx, `
			INSERT INTO contributions (campaign_address, tx_ref, sequence, contributor, asset,
				amount, accounting_amount, rate, contributed_at)
			VALUES ($1, $2, $3, $4, $5, $6::numeric, $7::numeric, $8::numeric, $9)`,
			next.Address.String(), contribution.TxRef, contribution.Sequence,
			contribution.Contributor.String(), contribution.Asset.String(),
			contribution.Amount.Dec(), contribution.AccountingAmount.String(),
			contribution.Rate.String(), contribution.Timestamp,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return fmt.Errorf("%s: %w", contribution.TxRef, ErrDuplicateContribution)
			}
			return fmt.Errorf("contribution insert failed: %w", err)
		}
	}

	_, err = tx.Exec(ctx, `
		UPDATE campaigns SET name = $2, description = $3, creator = $4, admin = $5,
			raised = $6::numeric, balances = $7::jsonb, status = $8, paid_out = $9,
			token_enabled = $10, metadata_hash = $11, contribution_count = $12,
			version = $13, updated_at = $14, previous_creator = $15
		WHERE address = $1`,
		next.Address.String(), next.Name, next.Description, next.Creator.String(),
		next.Admin.String(), next.Raised.String(), balances, int16(next.Status.Code()),
		next.PaidOut, next.TokenEnabled, next.MetadataHash, next.ContributionCount,
		next.Version, next.UpdatedAt, next.PreviousCreator.String(),
	)
	if err != nil {
		return fmt.Errorf("campaign update failed: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("tx commit failed: %w", err)
	}
	return nil
}

func (p *Postgres) HasContribution(ctx context.Context, address domain.Address, txRef string) (bool, error) {
	var exists bool
	err := p.Db.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM contributions WHERE campaign_address = $1 AND tx_ref = $2)",
		address.String(), txRef).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("contribution lookup failed: %w", err)
	}
	return exists, nil
}

func (p *Postgres) ListContributions(ctx context.Context, address domain.Address) ([]domain.Contribution, error) {
	var exists bool
	err := p.Db.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM campaigns WHERE address = $1)",
		address.String()).Scan(&exists)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%s: %w", address, ErrNotFound)
	}

	rows, err := p.Db.Query(ctx, `
		SELECT campaign_address, tx_ref, sequence, contributor, asset, amount::text,
			accounting_amount::text, rate::text, contributed_at
		FROM contributions WHERE campaign_address = $1 ORDER BY sequence`,
		address.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []domain.Contribution{}
	for rows.Next() {
		var rec contributionRecord
		if err := rows.Scan(&rec.CampaignAddress, &rec.TxRef, &rec.Sequence, &rec.Contributor,
			&rec.Asset, &rec.Amount, &rec.AccountingAmount, &rec.Rate, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("contribution scan failed: %w", err)
		}
		c, err := rec.toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (p *Postgres) Checkpoint(ctx context.Context, address domain.Address) (string, error) {
	var checkpoint string
	err := p.Db.QueryRow(ctx,
		"SELECT checkpoint FROM reconcile_checkpoints WHERE campaign_address = $1",
		address.String()).Scan(&checkpoint)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("checkpoint query failed: %w", err)
	}
	return checkpoint, nil
}

func (p *Postgres) SaveCheckpoint(ctx context.Context, address domain.Address, checkpoint string) error {
	_, err := p.Db.Exec(ctx, `
		INSERT INTO reconcile_checkpoints (campaign_address, checkpoint, updated_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (campaign_address) DO UPDATE SET checkpoint = EXCLUDED.checkpoint,
			updated_at = EXCLUDED.updated_at`,
		address.String(), checkpoint, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("checkpoint upsert failed: %w", err)
	}
	return nil
}
