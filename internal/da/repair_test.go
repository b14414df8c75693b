package da

import (
	"testing"

	"github.com/kanari-network/kanarinode/internal/types"
)

func TestTryRepairDAMetaAppendsSyntheticBlocksWhenBehindTip(t *testing.T) {
	m := newTestMetaStore(t)
	if _, err := m.AppendSubmittingBlock(1, 10); err != nil {
		t.Fatalf("AppendSubmittingBlock: %v", err)
	}

	issues, fixed, err := m.TryRepairDAMeta(25, false, nil, false, false)
	if err != nil {
		t.Fatalf("TryRepairDAMeta: %v", err)
	}
	if issues == 0 || fixed == 0 {
		t.Fatalf("expected a repair, got issues=%d fixed=%d", issues, fixed)
	}

	last, err := m.GetLastBlockNumber()
	if err != nil {
		t.Fatalf("GetLastBlockNumber: %v", err)
	}
	if last == nil {
		t.Fatal("expected a last block number after repair")
	}
	state, err := m.MustGetBlockState(*last)
	if err != nil {
		t.Fatalf("MustGetBlockState: %v", err)
	}
	if state.BlockRange.TxOrderEnd != 25 {
		t.Fatalf("tip tx_order_end = %d, want 25", state.BlockRange.TxOrderEnd)
	}
}

func TestTryRepairDAMetaRollsBackWhenAheadOfTip(t *testing.T) {
	m := newTestMetaStore(t)
	if _, err := m.AppendSubmittingBlock(1, 10); err != nil {
		t.Fatalf("AppendSubmittingBlock: %v", err)
	}
	if _, err := m.AppendSubmittingBlock(11, 20); err != nil {
		t.Fatalf("AppendSubmittingBlock: %v", err)
	}

	issues, fixed, err := m.TryRepairDAMeta(10, false, nil, false, false)
	if err != nil {
		t.Fatalf("TryRepairDAMeta: %v", err)
	}
	if issues == 0 || fixed == 0 {
		t.Fatalf("expected a rollback repair, got issues=%d fixed=%d", issues, fixed)
	}

	last, err := m.GetLastBlockNumber()
	if err != nil {
		t.Fatalf("GetLastBlockNumber: %v", err)
	}
	if last == nil || *last != 0 {
		t.Fatalf("last block number = %v, want 0 (block 1 removed)", last)
	}
}

func TestTryRepairDAMetaNoOpWhenCaughtUp(t *testing.T) {
	m := newTestMetaStore(t)
	if _, err := m.AppendSubmittingBlock(1, 10); err != nil {
		t.Fatalf("AppendSubmittingBlock: %v", err)
	}

	issues, fixed, err := m.TryRepairDAMeta(10, false, nil, false, false)
	if err != nil {
		t.Fatalf("TryRepairDAMeta: %v", err)
	}
	if issues != 0 || fixed != 0 {
		t.Fatalf("expected no-op, got issues=%d fixed=%d", issues, fixed)
	}
}

func TestTryRepairDAMetaSkipsBlockRepairInSyncMode(t *testing.T) {
	m := newTestMetaStore(t)
	issues, fixed, err := m.TryRepairDAMeta(100, false, nil, false, true)
	if err != nil {
		t.Fatalf("TryRepairDAMeta: %v", err)
	}
	if issues != 0 || fixed != 0 {
		t.Fatalf("expected no block repair in sync mode, got issues=%d fixed=%d", issues, fixed)
	}
	if last, err := m.GetLastBlockNumber(); err != nil || last != nil {
		t.Fatalf("expected no block created in sync mode, last=%v err=%v", last, err)
	}
}

func TestTryRepairDAMetaFastFailReturnsErrorOnIllegalOrder(t *testing.T) {
	m := newTestMetaStore(t)
	if _, err := m.AppendSubmittingBlock(1, 10); err != nil {
		t.Fatalf("AppendSubmittingBlock: %v", err)
	}
	// lastOrder 5 makes block 0's range (1..10) illegal (end exceeds lastOrder).
	if _, _, err := m.TryRepairDAMeta(5, true, nil, true, false); err == nil {
		t.Fatal("expected error in fastFail mode when an illegal block is found")
	}
}

func TestTryRepairBackgroundSubmitBlockCursorRewindsToMaxDone(t *testing.T) {
	m := newTestMetaStore(t)
	if _, err := m.AppendSubmittingBlock(1, 10); err != nil {
		t.Fatalf("AppendSubmittingBlock: %v", err)
	}
	if _, err := m.AppendSubmittingBlock(11, 20); err != nil {
		t.Fatalf("AppendSubmittingBlock: %v", err)
	}
	if err := m.SetSubmittingBlockDone(0, 1, 10, types.HashBytes([]byte("batch-0"))); err != nil {
		t.Fatalf("SetSubmittingBlockDone: %v", err)
	}
	// Cursor claims block 1 is submitted, but it is not done: repair should
	// rewind the cursor to 0.
	if err := m.SetBackgroundSubmitBlockCursor(1); err != nil {
		t.Fatalf("SetBackgroundSubmitBlockCursor: %v", err)
	}

	if err := m.tryRepairBackgroundSubmitBlockCursor(nil); err != nil {
		t.Fatalf("tryRepairBackgroundSubmitBlockCursor: %v", err)
	}

	cursor, err := m.GetBackgroundSubmitBlockCursor()
	if err != nil {
		t.Fatalf("GetBackgroundSubmitBlockCursor: %v", err)
	}
	if cursor == nil || *cursor != 0 {
		t.Fatalf("cursor = %v, want 0", cursor)
	}
}
