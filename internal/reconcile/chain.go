package reconcile

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// balanceOfSelector is the first four bytes of keccak256("balanceOf(address)").
var balanceOfSelector = crypto.Keccak256([]byte("balanceOf(address)"))[:4]

// ContractCaller performs read-only contract calls; *ethclient.Client
// satisfies it.
type ContractCaller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// ChainReader reads ERC-20 balances straight from the chain. It backs the
// observed reconciliation path: its reads go through Worker.ObserveBalance,
// so a stale zero from a lagging RPC node never clobbers a cached positive.
type ChainReader struct {
	caller ContractCaller
}

func NewChainReader(caller ContractCaller) *ChainReader {
	return &ChainReader{caller: caller}
}

// TokenBalance calls balanceOf(wallet) on the token at the latest block.
func (c *ChainReader) TokenBalance(ctx context.Context, wallet, token string) (*big.Int, error) {
	if !common.IsHexAddress(wallet) || !common.IsHexAddress(token) {
		return nil, fmt.Errorf("invalid address pair %s/%s", wallet, token)
	}
	tokenAddr := common.HexToAddress(token)
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(common.HexToAddress(wallet).Bytes(), 32)...)

	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf %s for %s: %w", token, wallet, err)
	}
	return new(big.Int).SetBytes(out), nil
}
