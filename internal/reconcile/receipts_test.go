package reconcile

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"dexcore/internal/engine"
)

type fakeReceipts struct {
	mu       sync.Mutex
	receipts map[common.Hash]*types.Receipt
	misses   int // number of not-found responses before the receipt appears
}

func (f *fakeReceipts) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.misses > 0 {
		f.misses--
		return nil, errors.New("not found")
	}
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, errors.New("not found")
}

type creditRecorder struct {
	mu      sync.Mutex
	credits map[string]*big.Int // token -> amount
}

func (c *creditRecorder) CreditObserved(wallet, token string, wei *big.Int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.credits == nil {
		c.credits = make(map[string]*big.Int)
	}
	c.credits[common.HexToAddress(token).Hex()] = new(big.Int).Set(wei)
}

func transferLog(token, to common.Address, amount *big.Int) *types.Log {
	return &types.Log{
		Address: token,
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(common.HexToAddress("0x9999999999999999999999999999999999999999").Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data: common.LeftPadBytes(amount.Bytes(), 32),
	}
}

func TestWatchCreditsTransferToWallet(t *testing.T) {
	wallet := common.HexToAddress(walletW)
	token := common.HexToAddress(tokenT)
	other := common.HexToAddress("0xdddddddddddddddddddddddddddddddddddddddd")
	txHash := common.HexToHash("0x01")

	receipt := &types.Receipt{
		TxHash: txHash,
		Status: types.ReceiptStatusSuccessful,
		Logs: []*types.Log{
			transferLog(token, wallet, big.NewInt(7777)), // to us
			transferLog(token, other, big.NewInt(1)),     // to someone else
			{Address: token, Topics: []common.Hash{common.HexToHash("0xaa")}}, // not a Transfer
		},
	}

	source := &fakeReceipts{receipts: map[common.Hash]*types.Receipt{txHash: receipt}, misses: 2}
	watcher := NewReceiptWatcher(source)
	watcher.pollInterval = 5 * time.Millisecond
	watcher.timeout = time.Second

	rec := &creditRecorder{}
	watcher.Watch(context.Background(), engine.TxSent{
		TxHash: txHash.Hex(), Wallet: walletW, Action: "buy", Token: tokenT,
	}, rec)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	got := rec.credits[token.Hex()]
	if got == nil || got.Cmp(big.NewInt(7777)) != 0 {
		t.Fatalf("credit = %v, want 7777", got)
	}
	if len(rec.credits) != 1 {
		t.Fatalf("foreign transfers credited: %v", rec.credits)
	}
}

func TestWatchIgnoresRevertedTransaction(t *testing.T) {
	wallet := common.HexToAddress(walletW)
	token := common.HexToAddress(tokenT)
	txHash := common.HexToHash("0x02")

	receipt := &types.Receipt{
		TxHash: txHash,
		Status: types.ReceiptStatusFailed,
		Logs:   []*types.Log{transferLog(token, wallet, big.NewInt(500))},
	}
	source := &fakeReceipts{receipts: map[common.Hash]*types.Receipt{txHash: receipt}}
	watcher := NewReceiptWatcher(source)
	watcher.pollInterval = 5 * time.Millisecond
	watcher.timeout = time.Second

	rec := &creditRecorder{}
	watcher.Watch(context.Background(), engine.TxSent{TxHash: txHash.Hex(), Wallet: walletW}, rec)

	if len(rec.credits) != 0 {
		t.Fatalf("reverted tx credited a balance: %v", rec.credits)
	}
}

func TestWatchTimesOutAsIndeterminate(t *testing.T) {
	source := &fakeReceipts{receipts: map[common.Hash]*types.Receipt{}}
	watcher := NewReceiptWatcher(source)
	watcher.pollInterval = 5 * time.Millisecond
	watcher.timeout = 30 * time.Millisecond

	rec := &creditRecorder{}
	start := time.Now()
	watcher.Watch(context.Background(), engine.TxSent{TxHash: common.HexToHash("0x03").Hex(), Wallet: walletW}, rec)

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("watch did not respect timeout: %s", elapsed)
	}
	if len(rec.credits) != 0 {
		t.Fatalf("timed-out watch credited a balance: %v", rec.credits)
	}
}
