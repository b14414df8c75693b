package repair

import (
	"context"
	"testing"

	"github.com/kanari-network/kanarinode/internal/da"
	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/kv/memdb"
	"github.com/kanari-network/kanarinode/internal/store"
	"github.com/kanari-network/kanarinode/internal/types"
)

type fakeIndexer struct {
	reverted []uint64
	err      error
}

func (f *fakeIndexer) RevertTransaction(ctx context.Context, txOrder uint64) error {
	f.reverted = append(f.reverted, txOrder)
	return f.err
}

type fakeStatusNotifier struct {
	published []types.ServiceStatus
}

func (f *fakeStatusNotifier) PublishServiceStatus(status types.ServiceStatus, reason string) {
	f.published = append(f.published, status)
}

func newTestStore(t *testing.T, indexer Indexer) (*Store, kv.Store, *store.MetaStore, *store.TransactionStore) {
	t.Helper()
	db := memdb.OpenEphemeral()
	meta := store.NewMetaStore(db)
	txs := store.NewTransactionStore(db)
	daMeta := da.NewMetaStore(db)
	return New(db, meta, txs, daMeta, indexer), db, meta, txs
}

// commitTx sequences and "executes" one transaction directly against the
// store, building up a 3-transaction chain genesis(0) -> 1 -> 2 that
// RevertTx tests then unwind from the tip.
func commitTx(t *testing.T, db kv.Store, order uint64, accInfo types.AccumulatorInfo, stateRoot types.Hash) types.LedgerTransaction {
	t.Helper()
	tx := types.LedgerTransaction{
		Data: types.TxData{Kind: types.TxDataL2, RawHash: types.HashBytes([]byte{byte(order)})},
		SequenceInfo: types.SequenceInfo{
			TxOrder:           order,
			TxAccumulatorInfo: accInfo,
		},
	}
	execInfo := types.TransactionExecutionInfo{
		TxHash:    tx.TxHash(),
		StateRoot: stateRoot,
		Status:    types.TxStatusExecuted,
	}
	seqInfo := types.SequencerInfo{LastOrder: order, LastAccumulatorInfo: accInfo}

	batch := &kv.WriteBatch{}
	if err := store.StageTransaction(batch, tx); err != nil {
		t.Fatalf("StageTransaction: %v", err)
	}
	if err := store.StageExecutionInfo(batch, execInfo); err != nil {
		t.Fatalf("StageExecutionInfo: %v", err)
	}
	m := store.NewMetaStore(db)
	if err := m.PutSequencerInfo(batch, seqInfo); err != nil {
		t.Fatalf("PutSequencerInfo: %v", err)
	}
	if err := m.PutStartupInfo(batch, types.StartupInfo{StateRoot: stateRoot}); err != nil {
		t.Fatalf("PutStartupInfo: %v", err)
	}
	if err := db.WriteBatchAcrossCFs([]string{store.CFTransactions, store.CFTxOrderToHash, store.CFTxExecutionInfo, store.CFMetaSequencerInfo, store.CFConfigStartupInfo}, batch, true); err != nil {
		t.Fatalf("WriteBatchAcrossCFs: %v", err)
	}
	return tx
}

func TestRevertTxRestoresPreviousStartupInfo(t *testing.T) {
	idx := &fakeIndexer{}
	s, db, meta, _ := newTestStore(t, idx)

	tx1 := commitTx(t, db, 1, types.AccumulatorInfo{NumLeaves: 1}, types.HashBytes([]byte("root-1")))
	tx2 := commitTx(t, db, 2, types.AccumulatorInfo{NumLeaves: 2}, types.HashBytes([]byte("root-2")))
	_ = tx1

	if err := s.RevertTx(context.Background(), tx2.TxHash()); err != nil {
		t.Fatalf("RevertTx: %v", err)
	}

	seqInfo, err := meta.GetSequencerInfo()
	if err != nil {
		t.Fatalf("GetSequencerInfo: %v", err)
	}
	if seqInfo.LastOrder != 1 {
		t.Fatalf("last order = %d, want 1", seqInfo.LastOrder)
	}

	startup, err := meta.GetStartupInfo()
	if err != nil {
		t.Fatalf("GetStartupInfo: %v", err)
	}
	if startup.StateRoot != types.HashBytes([]byte("root-1")) {
		t.Fatalf("startup state root = %x, want root-1's hash", startup.StateRoot)
	}

	if len(idx.reverted) != 1 || idx.reverted[0] != 2 {
		t.Fatalf("indexer reverted = %v, want [2]", idx.reverted)
	}
}

func TestRevertTxRejectsNonTipTx(t *testing.T) {
	s, db, _, _ := newTestStore(t, nil)
	tx1 := commitTx(t, db, 1, types.AccumulatorInfo{}, types.HashBytes([]byte("root-1")))
	commitTx(t, db, 2, types.AccumulatorInfo{}, types.HashBytes([]byte("root-2")))

	if err := s.RevertTx(context.Background(), tx1.TxHash()); err == nil {
		t.Fatal("expected error reverting a non-tip transaction")
	}
}

func TestRevertTxUnsafeRequiresForce(t *testing.T) {
	s, db, _, _ := newTestStore(t, nil)
	tx1 := commitTx(t, db, 1, types.AccumulatorInfo{}, types.HashBytes([]byte("root-1")))

	if err := s.RevertTxUnsafe(context.Background(), 1, tx1.TxHash(), false); err == nil {
		t.Fatal("expected error without force=true")
	}
	if err := s.RevertTxUnsafe(context.Background(), 1, tx1.TxHash(), true); err != nil {
		t.Fatalf("RevertTxUnsafe: %v", err)
	}

	txs := store.NewTransactionStore(db)
	if tx, err := txs.GetTransactionByHash(tx1.TxHash()); err != nil || tx != nil {
		t.Fatalf("expected tx removed, got %v err %v", tx, err)
	}
}

func TestRepairReturnsDAIssuesAndExecutionContiguity(t *testing.T) {
	s, db, _, _ := newTestStore(t, nil)
	commitTx(t, db, 1, types.AccumulatorInfo{}, types.HashBytes([]byte("root-1")))

	report, err := s.Repair(context.Background(), true, false, false, nil)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if report.Issues == 0 {
		t.Fatalf("expected a DA-repair issue from the missing block, got %+v", report)
	}
}

func TestRepairPublishesServiceStatusWhenIssuesFound(t *testing.T) {
	s, db, _, _ := newTestStore(t, nil)
	commitTx(t, db, 1, types.AccumulatorInfo{}, types.HashBytes([]byte("root-1")))
	notifier := &fakeStatusNotifier{}
	s.SetServiceStatusNotifier(notifier)

	report, err := s.Repair(context.Background(), true, false, false, nil)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if report.Issues == 0 {
		t.Fatal("expected issues to be found, precondition for this test")
	}
	if len(notifier.published) != 1 || notifier.published[0] != types.ServiceMaintenance {
		t.Fatalf("published = %v, want one ServiceMaintenance broadcast", notifier.published)
	}
}

func TestRevertTxPublishesServiceStatus(t *testing.T) {
	idx := &fakeIndexer{}
	s, db, _, _ := newTestStore(t, idx)
	notifier := &fakeStatusNotifier{}
	s.SetServiceStatusNotifier(notifier)

	tx1 := commitTx(t, db, 1, types.AccumulatorInfo{NumLeaves: 1}, types.HashBytes([]byte("root-1")))
	tx2 := commitTx(t, db, 2, types.AccumulatorInfo{NumLeaves: 2}, types.HashBytes([]byte("root-2")))
	_ = tx1

	if err := s.RevertTx(context.Background(), tx2.TxHash()); err != nil {
		t.Fatalf("RevertTx: %v", err)
	}
	if len(notifier.published) != 1 || notifier.published[0] != types.ServiceMaintenance {
		t.Fatalf("published = %v, want one ServiceMaintenance broadcast", notifier.published)
	}
}
