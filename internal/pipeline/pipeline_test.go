package pipeline

import (
	"context"
	"crypto/ed25519"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kanari-network/kanarinode/internal/executor"
	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/kv/memdb"
	"github.com/kanari-network/kanarinode/internal/sequencer"
	"github.com/kanari-network/kanarinode/internal/store"
	"github.com/kanari-network/kanarinode/internal/types"
	"github.com/kanari-network/kanarinode/internal/vmbridge"
)

type fakeEngine struct{}

func (fakeEngine) ValidateAuthenticator(ctx context.Context, txCtx vmbridge.TxContext, authenticator vmbridge.AuthenticatorInfo) (vmbridge.VerifiedTransaction, error) {
	return vmbridge.VerifiedTransaction{Ctx: txCtx, Call: vmbridge.FunctionCall{Module: "account", Function: "run"}}, nil
}

func (fakeEngine) Execute(ctx context.Context, tx vmbridge.VerifiedTransaction) (vmbridge.RawOutput, error) {
	root := types.HashBytes(append([]byte("root:"), tx.Call.Function...))
	return vmbridge.RawOutput{Status: types.TxStatusExecuted, GasUsed: 1, ChangeSet: types.StateChangeSet{StateRoot: root}}, nil
}

func (fakeEngine) CallReadonly(ctx context.Context, root types.Hash, txCtx vmbridge.TxContext, call vmbridge.FunctionCall) (vmbridge.FunctionResult, error) {
	return vmbridge.FunctionResult{}, nil
}

type fakeCodec struct{}

func (fakeCodec) DecodeL2(payload []byte) (vmbridge.TxContext, vmbridge.AuthenticatorInfo, error) {
	return vmbridge.TxContext{TxSize: uint64(len(payload))}, vmbridge.AuthenticatorInfo{Payload: payload}, nil
}

func (fakeCodec) DecodeL2Unsigned(payload []byte) (vmbridge.FunctionCall, uint64, error) {
	return vmbridge.FunctionCall{Module: "account", Function: "run", Args: [][]byte{payload}}, uint64(len(payload)), nil
}

func (fakeCodec) DecodeL1Block(payload []byte) (vmbridge.L1Block, error) {
	return vmbridge.L1Block{ChainID: executor.ChainIDBitcoin, Body: payload}, nil
}

func (fakeCodec) DecodeL1Tx(payload []byte) (vmbridge.L1Tx, error) {
	return vmbridge.L1Tx{ChainID: executor.ChainIDBitcoin, TxID: types.HashBytes(payload)}, nil
}

type fakeDA struct {
	mu     sync.Mutex
	orders []uint64
}

func (d *fakeDA) AppendTxOrder(ctx context.Context, txOrder uint64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.orders = append(d.orders, txOrder)
	return nil
}

type fakeIndexer struct {
	mu  sync.Mutex
	got []types.LedgerTransaction
}

func (i *fakeIndexer) IndexTransaction(ctx context.Context, tx types.LedgerTransaction, info types.TransactionExecutionInfo, set types.StateChangeSet) error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.got = append(i.got, tx)
	return nil
}

func newTestProcessor(t *testing.T) (*Processor, *memdb.DB, *fakeDA, *fakeIndexer) {
	t.Helper()
	db := memdb.OpenEphemeral()
	meta := store.NewMetaStore(db)
	batch := &kv.WriteBatch{}
	if err := meta.PutSequencerInfo(batch, types.SequencerInfo{LastAccumulatorInfo: types.AccumulatorInfo{Root: types.PlaceholderHash}}); err != nil {
		t.Fatalf("PutSequencerInfo: %v", err)
	}
	if err := db.WriteBatchAcrossCFs([]string{store.CFMetaSequencerInfo}, batch, false); err != nil {
		t.Fatalf("write genesis batch: %v", err)
	}

	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	seq, err := sequencer.New(db, priv, types.Address{1}, types.ServiceActive)
	if err != nil {
		t.Fatalf("sequencer.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go seq.Run(ctx)

	exec, err := executor.New(db, fakeEngine{}, types.PlaceholderHash, nil, 0)
	if err != nil {
		t.Fatalf("executor.New: %v", err)
	}
	da := &fakeDA{}
	idx := &fakeIndexer{}
	p := New(ctx, seq, exec, store.NewTransactionStore(db), da, idx, fakeCodec{})
	return p, db, da, idx
}

func TestExecuteL2TxRunsFullFlow(t *testing.T) {
	p, _, da, idx := newTestProcessor(t)
	ctx := context.Background()

	result, err := p.ExecuteL2Tx(ctx, types.Address{2}, types.HashBytes([]byte("tx1")), []byte("payload"))
	if err != nil {
		t.Fatalf("ExecuteL2Tx: %v", err)
	}
	if result.Tx.SequenceInfo.TxOrder != 1 {
		t.Fatalf("tx order = %d, want 1", result.Tx.SequenceInfo.TxOrder)
	}
	if result.Info.Status != types.TxStatusExecuted {
		t.Fatalf("status = %v, want executed", result.Info.Status)
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	da.mu.Lock()
	defer da.mu.Unlock()
	if len(da.orders) != 1 || da.orders[0] != 1 {
		t.Fatalf("da notified orders = %v, want [1]", da.orders)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if len(idx.got) != 1 {
		t.Fatalf("indexer fan-out count = %d, want 1", len(idx.got))
	}
}

func TestDryRunL2TxDoesNotSequenceOrPersist(t *testing.T) {
	p, _, da, idx := newTestProcessor(t)
	ctx := context.Background()

	out, err := p.DryRunL2Tx(ctx, types.Address{3}, types.HashBytes([]byte("dry-run")), []byte("payload"))
	if err != nil {
		t.Fatalf("DryRunL2Tx: %v", err)
	}
	if out.Status != types.TxStatusExecuted {
		t.Fatalf("status = %v, want executed", out.Status)
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	da.mu.Lock()
	daOrders := len(da.orders)
	da.mu.Unlock()
	if daOrders != 0 {
		t.Fatalf("dry run must not notify DA, got %d orders", daOrders)
	}
	idx.mu.Lock()
	idxCount := len(idx.got)
	idx.mu.Unlock()
	if idxCount != 0 {
		t.Fatalf("dry run must not fan out to the indexer, got %d entries", idxCount)
	}
}

func TestProcessSequencedTxOnStartupReplaysGap(t *testing.T) {
	p, _, da, _ := newTestProcessor(t)
	ctx := context.Background()

	if _, err := p.ExecuteL2Tx(ctx, types.Address{2}, types.HashBytes([]byte("a")), []byte("a")); err != nil {
		t.Fatalf("ExecuteL2Tx a: %v", err)
	}
	if _, err := p.ExecuteL2Tx(ctx, types.Address{2}, types.HashBytes([]byte("b")), []byte("b")); err != nil {
		t.Fatalf("ExecuteL2Tx b: %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	// Simulate a crash right after sequencing but before execution
	// recorded any executed order: replay should re-run both txs.
	if err := p.ProcessSequencedTxOnStartup(ctx, 0); err != nil {
		t.Fatalf("ProcessSequencedTxOnStartup: %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}

	da.mu.Lock()
	defer da.mu.Unlock()
	if len(da.orders) != 4 {
		t.Fatalf("da notified orders = %v, want 4 entries (2 original + 2 replayed)", da.orders)
	}
}

func TestProcessorForwardsServiceStatusToSequencer(t *testing.T) {
	p, _, _, _ := newTestProcessor(t)
	ctx := context.Background()

	p.Bus().PublishServiceStatus(types.ServiceReadOnly, "test forced read-only")

	deadline := time.After(2 * time.Second)
	for {
		_, err := p.ExecuteL2Tx(ctx, types.Address{2}, types.HashBytes([]byte("after-status")), []byte("payload"))
		if errors.Is(err, sequencer.ErrServiceStatus) {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("service status was never forwarded to the sequencer, last error: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestProcessSequencedTxOnStartupNoOpWhenCaughtUp(t *testing.T) {
	p, _, da, _ := newTestProcessor(t)
	ctx := context.Background()
	if _, err := p.ExecuteL2Tx(ctx, types.Address{2}, types.HashBytes([]byte("a")), []byte("a")); err != nil {
		t.Fatalf("ExecuteL2Tx: %v", err)
	}
	if err := p.ProcessSequencedTxOnStartup(ctx, 1); err != nil {
		t.Fatalf("ProcessSequencedTxOnStartup: %v", err)
	}
	if err := p.Wait(); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	da.mu.Lock()
	defer da.mu.Unlock()
	if len(da.orders) != 1 {
		t.Fatalf("da notified orders = %v, want 1 (no replay)", da.orders)
	}
}
