package indexer

import (
	"context"
	"testing"

	"github.com/kanari-network/kanarinode/internal/types"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleChangeSet() types.StateChangeSet {
	accountKey := types.DeriveFieldKey("account", "Account")
	balanceKey := types.DeriveFieldKey("balance", "Balance")
	return types.StateChangeSet{
		StateRoot:  types.HashBytes([]byte("root")),
		GlobalSize: 2,
		Changes: map[types.FieldKey]types.ObjectChange{
			accountKey: {
				Metadata: types.ObjectMeta{Type: "account"},
				Value:    types.NewOp([]byte("account-bytes")),
				Fields: map[types.FieldKey]types.ObjectChange{
					balanceKey: {
						Metadata: types.ObjectMeta{Type: "balance"},
						Value:    types.ModifyOp([]byte("balance-bytes")),
					},
				},
			},
		},
	}
}

func TestIndexTransactionWritesAllTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx := types.LedgerTransaction{
		Data:         types.TxData{Kind: types.TxDataL2, RawHash: types.HashBytes([]byte("tx-1"))},
		SequenceInfo: types.SequenceInfo{TxOrder: 1},
	}
	info := types.TransactionExecutionInfo{
		TxHash:    tx.TxHash(),
		StateRoot: types.HashBytes([]byte("root")),
		EventRoot: types.HashBytes([]byte("events")),
		GasUsed:   10,
		Status:    types.TxStatusExecuted,
	}

	if err := s.IndexTransaction(ctx, tx, info, sampleChangeSet()); err != nil {
		t.Fatalf("IndexTransaction: %v", err)
	}

	var txCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM transactions WHERE tx_order = 1`).Scan(&txCount); err != nil {
		t.Fatalf("query transactions: %v", err)
	}
	if txCount != 1 {
		t.Fatalf("transactions count = %d, want 1", txCount)
	}

	var objectCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM object_states WHERE tx_order = 1`).Scan(&objectCount); err != nil {
		t.Fatalf("query object_states: %v", err)
	}
	if objectCount != 2 {
		t.Fatalf("object_states count = %d, want 2 (account + balance)", objectCount)
	}

	var fieldCount int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM fields WHERE tx_order = 1`).Scan(&fieldCount); err != nil {
		t.Fatalf("query fields: %v", err)
	}
	if fieldCount != 2 {
		t.Fatalf("fields count = %d, want 2", fieldCount)
	}
}

func TestRevertTransactionRemovesAllRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tx := types.LedgerTransaction{
		Data:         types.TxData{Kind: types.TxDataL2, RawHash: types.HashBytes([]byte("tx-1"))},
		SequenceInfo: types.SequenceInfo{TxOrder: 1},
	}
	info := types.TransactionExecutionInfo{TxHash: tx.TxHash(), Status: types.TxStatusExecuted}
	if err := s.IndexTransaction(ctx, tx, info, sampleChangeSet()); err != nil {
		t.Fatalf("IndexTransaction: %v", err)
	}

	if err := s.RevertTransaction(ctx, 1); err != nil {
		t.Fatalf("RevertTransaction: %v", err)
	}

	for _, table := range []string{"transactions", "events", "object_states", "fields"} {
		var count int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM "+table+" WHERE tx_order = 1").Scan(&count); err != nil {
			t.Fatalf("query %s: %v", table, err)
		}
		if count != 0 {
			t.Fatalf("%s count after revert = %d, want 0", table, count)
		}
	}
}

func TestFlattenChangesIsDeterministic(t *testing.T) {
	set := sampleChangeSet()
	a := flattenChanges(types.RootObjectID(), set.Changes)
	b := flattenChanges(types.RootObjectID(), set.Changes)
	if len(a) != len(b) || len(a) != 2 {
		t.Fatalf("expected 2 stable rows, got %d and %d", len(a), len(b))
	}
	for i := range a {
		if !a[i].objectID.Equal(b[i].objectID) {
			t.Fatalf("flatten order not stable at index %d", i)
		}
	}
}
