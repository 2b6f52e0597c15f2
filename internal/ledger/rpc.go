package ledger

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/holiman/uint256"

	"github.com/punchamoorthee/campaignledger/internal/domain"
)

// balanceOfSelector is the ERC-20 balanceOf(address) selector.
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

type chainReader interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	Close()
}

// RPCBalances reads confirmed balances from an Ethereum JSON-RPC node: the
// native balance for ETH and ERC-20 balanceOf for token assets.
type RPCBalances struct {
	client chainReader
	tokens map[domain.Asset]common.Address
}

func DialRPCBalances(ctx context.Context, url string, tokens map[domain.Asset]common.Address) (*RPCBalances, error) {
	client, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	return &RPCBalances{client: client, tokens: tokens}, nil
}

func (r *RPCBalances) ConfirmedBalance(ctx context.Context, campaign domain.Address, asset domain.Asset) (*uint256.Int, error) {
	switch asset.Kind() {
	case domain.AssetKindNative:
		wei, err := r.client.BalanceAt(ctx, campaign.Bytes(), nil)
		if err != nil {
			return nil, fmt.Errorf("balance of %s: %w", campaign, err)
		}
		balance, overflow := uint256.FromBig(wei)
		if overflow {
			return nil, fmt.Errorf("balance of %s overflows 256 bits", campaign)
		}
		return balance, nil
	case domain.AssetKindToken:
		token, ok := r.tokens[asset]
		if !ok {
			return nil, fmt.Errorf("no token contract configured for %s", asset)
		}
		data := append(append([]byte{}, balanceOfSelector...), common.LeftPadBytes(campaign.Bytes().Bytes(), 32)...)
		out, err := r.client.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
		if err != nil {
			return nil, fmt.Errorf("%s balanceOf %s: %w", asset, campaign, err)
		}
		if len(out) != 32 {
			return nil, fmt.Errorf("%s balanceOf %s: unexpected %d byte result", asset, campaign, len(out))
		}
		return new(uint256.Int).SetBytes(out), nil
	default:
		return nil, fmt.Errorf("unsupported asset %q", asset)
	}
}

func (r *RPCBalances) Close() {
	r.client.Close()
}
