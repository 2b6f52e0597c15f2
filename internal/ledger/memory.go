package ledger

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

type account struct {
	events   []Event
	balances map[domain.Asset]*uint256.Int
}

// Memory is an in-process ledger. Submissions confirm immediately.
// Checkpoints are event offsets within a campaign.
type Memory struct {
	mu       sync.Mutex
	accounts map[domain.Address]*account
	now      func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		accounts: make(map[domain.Address]*account),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the timestamp source, for tests.
func (m *Memory) WithClock(now func() time.Time) *Memory {
	m.now = now
	return m
}

func (m *Memory) account(campaign domain.Address) *account {
	acc, ok := m.accounts[campaign]
	if !ok {
		acc = &account{balances: make(map[domain.Asset]*uint256.Int)}
		m.accounts[campaign] = acc
	}
	return acc
}

func (m *Memory) SubmitContribution(ctx context.Context, campaign, contributor domain.Address, asset domain.Asset, amount *uint256.Int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !asset.IsValid() {
		return "", fmt.Errorf("submit %q: unsupported asset", asset)
	}
	if amount == nil || amount.IsZero() {
		return "", fmt.Errorf("submit to %s: amount must be positive", campaign)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	acc := m.account(campaign)
	balance := new(uint256.Int)
	if current, ok := acc.balances[asset]; ok {
		balance.Set(current)
	}
	if _, overflow := balance.AddOverflow(balance, amount); overflow {
		return "", fmt.Errorf("submit to %s: %s balance overflow", campaign, asset)
	}
	acc.balances[asset] = balance

	txRef := "0x" + uuid.New().String()
	acc.events = append(acc.events, Event{
		Type:        EventContribution,
		Campaign:    campaign,
		Contributor: contributor,
		Asset:       asset,
		Amount:      new(uint256.Int).Set(amount),
		TxRef:       txRef,
		Timestamp:   m.now(),
		Checkpoint:  strconv.Itoa(len(acc.events) + 1),
	})
	return txRef, nil
}

// Withdraw drains every balance of campaign to its creator and emits one
// withdrawal event per non-zero asset.
func (m *Memory) Withdraw(ctx context.Context, campaign domain.Address) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[campaign]
	if !ok {
		return nil, fmt.Errorf("%s: %w", campaign, ErrUnknownCampaign)
	}

	var refs []string
	for _, asset := range domain.Assets() {
		balance, ok := acc.balances[asset]
		if !ok || balance.IsZero() {
			continue
		}
		txRef := "0x" + uuid.New().String()
		acc.events = append(acc.events, Event{
			Type:       EventWithdrawal,
			Campaign:   campaign,
			Asset:      asset,
			Amount:     new(uint256.Int).Set(balance),
			TxRef:      txRef,
			Timestamp:  m.now(),
			Checkpoint: strconv.Itoa(len(acc.events) + 1),
		})
		acc.balances[asset] = new(uint256.Int)
		refs = append(refs, txRef)
	}
	return refs, nil
}

func (m *Memory) ConfirmedBalance(ctx context.Context, campaign domain.Address, asset domain.Asset) (*uint256.Int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	acc, ok := m.accounts[campaign]
	if !ok {
		return new(uint256.Int), nil
	}
	if balance, ok := acc.balances[asset]; ok {
		return new(uint256.Int).Set(balance), nil
	}
	return new(uint256.Int), nil
}

func (m *Memory) StreamEvents(ctx context.Context, campaign domain.Address, checkpoint string, fn func(Event) error) error {
	offset := 0
	if checkpoint != "" {
		n, err := strconv.Atoi(checkpoint)
		if err != nil || n < 0 {
			return fmt.Errorf("invalid checkpoint %q", checkpoint)
		}
		offset = n
	}

	// snapshot so fn may call back into the ledger
	m.mu.Lock()
	var events []Event
	if acc, ok := m.accounts[campaign]; ok && offset < len(acc.events) {
		events = append(events, acc.events[offset:]...)
	}
	m.mu.Unlock()

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		ev.Amount = new(uint256.Int).Set(ev.Amount)
		if err := fn(ev); err != nil {
			return err
		}
	}
	return nil
}
