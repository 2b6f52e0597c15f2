// Package ledger is the engine's view of the asset ledger: confirmed
// balances and a replayable stream of confirmed campaign events.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/holiman/uint256"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

var ErrUnknownCampaign = errors.New("campaign unknown to ledger")

type EventType string

const (
	EventContribution EventType = "contribution"
	EventWithdrawal   EventType = "withdrawal"
)

// Event is a confirmed ledger event. Checkpoint identifies the position
// right after this event; passing it back to StreamEvents resumes there.
type Event struct {
	Type        EventType
	Campaign    domain.Address
	Contributor domain.Address
	Asset       domain.Asset
	Amount      *uint256.Int
	TxRef       string
	Timestamp   time.Time
	Checkpoint  string
}

type Submitter interface {
	SubmitContribution(ctx context.Context, campaign, contributor domain.Address, asset domain.Asset, amount *uint256.Int) (string, error)
}

type BalanceReader interface {
	ConfirmedBalance(ctx context.Context, campaign domain.Address, asset domain.Asset) (*uint256.Int, error)
}

// EventSource replays confirmed events after checkpoint in ledger order.
// An empty checkpoint starts from the beginning. Streaming stops at the
// first error returned by fn.
type EventSource interface {
	StreamEvents(ctx context.Context, campaign domain.Address, checkpoint string, fn func(Event) error) error
}

type Adapter interface {
	Submitter
	BalanceReader
	EventSource
}
