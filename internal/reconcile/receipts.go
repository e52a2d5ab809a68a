package reconcile

import (
	"context"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"dexcore/internal/engine"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// ReceiptSource fetches transaction receipts; *ethclient.Client satisfies it.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// BalanceObserver receives balances derived from receipt logs. The observed
// path is slower than engine pushes, so its zeroes never win (see
// Worker.ObserveBalance).
type BalanceObserver interface {
	CreditObserved(wallet, token string, wei *big.Int)
}

// ReceiptWatcher awaits a submitted transaction's receipt and parses its
// token-transfer logs for an instant balance credit, ahead of the slower
// polling path. A latency optimization only: later authoritative pushes
// correct any drift.
type ReceiptWatcher struct {
	source       ReceiptSource
	pollInterval time.Duration
	timeout      time.Duration
}

func NewReceiptWatcher(source ReceiptSource) *ReceiptWatcher {
	return &ReceiptWatcher{
		source:       source,
		pollInterval: 2 * time.Second,
		timeout:      3 * time.Minute,
	}
}

// Watch polls for the receipt of one sent transaction until it lands or the
// timeout passes. Timed-out transactions are logged as indeterminate and
// never retried from here.
func (r *ReceiptWatcher) Watch(ctx context.Context, sent engine.TxSent, observer BalanceObserver) {
	if !common.IsHexAddress(sent.Wallet) {
		return
	}
	txHash := common.HexToHash(sent.TxHash)
	wallet := common.HexToAddress(sent.Wallet)

	deadline := time.NewTimer(r.timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := r.source.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			r.applyReceipt(receipt, wallet, observer)
			return
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			log.Printf("⚠️ Receipt for %s not found within %s; outcome indeterminate", sent.TxHash, r.timeout)
			return
		case <-ctx.Done():
			return
		}
	}
}

// applyReceipt credits every Transfer addressed to the wallet. Reverted
// transactions carry no balance effect.
func (r *ReceiptWatcher) applyReceipt(receipt *types.Receipt, wallet common.Address, observer BalanceObserver) {
	if receipt.Status != types.ReceiptStatusSuccessful {
		log.Printf("❌ Transaction %s reverted (gas used %d)", receipt.TxHash, receipt.GasUsed)
		return
	}

	for _, lg := range receipt.Logs {
		if len(lg.Topics) != 3 || lg.Topics[0] != transferTopic {
			continue
		}
		to := common.BytesToAddress(lg.Topics[2].Bytes())
		if !strings.EqualFold(to.Hex(), wallet.Hex()) {
			continue
		}
		amount := new(big.Int).SetBytes(lg.Data)
		observer.CreditObserved(wallet.Hex(), lg.Address.Hex(), amount)
		log.Printf("💰 Receipt credit: %s of %s to %s", amount, lg.Address.Hex(), wallet.Hex())
	}
}
