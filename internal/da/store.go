// Package da implements the data-availability meta-store and submission
// engine from spec.md §4.H. Grounded on
// _examples/original_source/crates/kanari-store/src/da_store/mod.rs.
package da

import (
	"errors"
	"fmt"

	"github.com/kanari-network/kanarinode/internal/kanarierr"
	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/store"
	"github.com/kanari-network/kanarinode/internal/store/codec"
	"github.com/kanari-network/kanarinode/internal/types"
)

// SubmittingBlocksPageSize is the default page size for GetSubmittingBlocks,
// matching SUBMITTING_BLOCKS_PAGE_SIZE.
const SubmittingBlocksPageSize = 64

// MaxTxsPerBlockInFix bounds how many tx orders one synthetic block spans
// when the repair path has to fabricate missing blocks, matching
// MAX_TXS_PER_BLOCK_IN_FIX (avoids unbounded memory use on deep repairs).
const MaxTxsPerBlockInFix = 8192

// MetaStore is the DA block submission ledger: append-only block ranges,
// a done/batch-hash flag per block, and the cursor CF.
type MetaStore struct {
	kv kv.Store
}

// NewMetaStore wraps kv.
func NewMetaStore(kvStore kv.Store) *MetaStore {
	return &MetaStore{kv: kvStore}
}

// GetLastBlockNumber returns the highest assigned block number, or nil if
// no block has been appended yet.
func (m *MetaStore) GetLastBlockNumber() (*uint64, error) {
	raw, err := m.kv.Get(store.CFDABlockCursor, []byte(types.LastBlockNumberKey))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("da: get last block number: %w", err)
	}
	n := codec.DecodeUint64(raw)
	return &n, nil
}

// GetBlockState returns the submit state for blockNumber, or nil if absent.
func (m *MetaStore) GetBlockState(blockNumber uint64) (*types.BlockSubmitState, error) {
	raw, err := m.kv.Get(store.CFDABlockSubmitState, codec.EncodeUint64(blockNumber))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("da: get block state %d: %w", blockNumber, err)
	}
	var state types.BlockSubmitState
	if err := codec.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("da: decode block state %d: %w", blockNumber, err)
	}
	return &state, nil
}

// MustGetBlockState returns the submit state for blockNumber, erroring if
// it does not exist (the block is expected to, per the original's
// get_block_state vs try_get_block_state split).
func (m *MetaStore) MustGetBlockState(blockNumber uint64) (types.BlockSubmitState, error) {
	state, err := m.GetBlockState(blockNumber)
	if err != nil {
		return types.BlockSubmitState{}, err
	}
	if state == nil {
		return types.BlockSubmitState{}, kanarierr.Consistency("da.MustGetBlockState", fmt.Errorf("block submit state not found for block %d", blockNumber))
	}
	return *state, nil
}

// GetBackgroundSubmitBlockCursor returns the background submitter's
// watermark, or nil if unset.
func (m *MetaStore) GetBackgroundSubmitBlockCursor() (*uint64, error) {
	raw, err := m.kv.Get(store.CFDABlockCursor, []byte(types.BackgroundSubmitBlockCursorKey))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("da: get background submit cursor: %w", err)
	}
	n := codec.DecodeUint64(raw)
	return &n, nil
}

// SetBackgroundSubmitBlockCursor durably sets the watermark.
func (m *MetaStore) SetBackgroundSubmitBlockCursor(cursor uint64) error {
	return m.kv.Put(store.CFDABlockCursor, []byte(types.BackgroundSubmitBlockCursorKey), codec.EncodeUint64(cursor))
}

// RemoveBackgroundSubmitBlockCursor deletes the watermark entirely.
func (m *MetaStore) RemoveBackgroundSubmitBlockCursor() error {
	return m.kv.Delete(store.CFDABlockCursor, []byte(types.BackgroundSubmitBlockCursorKey))
}

// checkAppend enforces spec.md §4.H's append preconditions: e >= s, and if
// a last block exists, s must equal last.tx_order_end + 1.
func (m *MetaStore) checkAppend(lastBlockNumber *uint64, txOrderStart, txOrderEnd uint64) error {
	if txOrderEnd < txOrderStart {
		return kanarierr.Consistency("da.checkAppend", fmt.Errorf("tx_order_end must be >= tx_order_start, got %d < %d", txOrderEnd, txOrderStart))
	}
	if lastBlockNumber == nil {
		return nil
	}
	last, err := m.MustGetBlockState(*lastBlockNumber)
	if err != nil {
		return err
	}
	if last.BlockRange.TxOrderEnd+1 != txOrderStart {
		return kanarierr.Consistency("da.checkAppend", fmt.Errorf("tx_order_start must be last block's tx_order_end+1, last_tx_order_end %d, tx_order_start %d", last.BlockRange.TxOrderEnd, txOrderStart))
	}
	return nil
}

// AppendSubmittingBlock appends one new, not-yet-submitted block covering
// [txOrderStart, txOrderEnd] and returns its block number. The state and
// cursor rows are written in one durable cross-CF batch, per spec.md
// §4.H: db may crash right after the block is submitted, and the
// LAST_BLOCK_NUMBER/state rows must never diverge.
func (m *MetaStore) AppendSubmittingBlock(txOrderStart, txOrderEnd uint64) (uint64, error) {
	lastBlockNumber, err := m.GetLastBlockNumber()
	if err != nil {
		return 0, err
	}
	if err := m.checkAppend(lastBlockNumber, txOrderStart, txOrderEnd); err != nil {
		return 0, err
	}

	var blockNumber uint64
	if lastBlockNumber != nil {
		blockNumber = *lastBlockNumber + 1
	}
	state := types.NewBlockSubmitState(blockNumber, txOrderStart, txOrderEnd)

	batch := &kv.WriteBatch{}
	raw, err := codec.Marshal(state)
	if err != nil {
		return 0, kanarierr.Storage("da.AppendSubmittingBlock", err)
	}
	batch.Put(store.CFDABlockSubmitState, codec.EncodeUint64(blockNumber), raw)
	batch.Put(store.CFDABlockCursor, []byte(types.LastBlockNumberKey), codec.EncodeUint64(blockNumber))
	if err := m.kv.WriteBatchAcrossCFs([]string{store.CFDABlockSubmitState, store.CFDABlockCursor}, batch, true); err != nil {
		return 0, kanarierr.Storage("da.AppendSubmittingBlock", err)
	}
	return blockNumber, nil
}

// GetSubmittingBlocks returns up to expCount not-yet-done blocks starting
// at startBlock, stopping at the first missing block number.
func (m *MetaStore) GetSubmittingBlocks(startBlock uint64, expCount int) ([]types.BlockRange, error) {
	if expCount <= 0 {
		expCount = SubmittingBlocksPageSize
	}
	blocks := make([]types.BlockRange, 0, expCount)
	for i := 0; i < expCount; i++ {
		state, err := m.GetBlockState(startBlock + uint64(i))
		if err != nil {
			return nil, err
		}
		if state == nil {
			break
		}
		if !state.Done {
			blocks = append(blocks, state.BlockRange)
		}
	}
	return blocks, nil
}

// SetSubmittingBlockDone marks blockNumber as submitted with batchHash.
func (m *MetaStore) SetSubmittingBlockDone(blockNumber, txOrderStart, txOrderEnd uint64, batchHash types.Hash) error {
	state := types.NewDoneBlockSubmitState(blockNumber, txOrderStart, txOrderEnd, batchHash)
	raw, err := codec.Marshal(state)
	if err != nil {
		return kanarierr.Storage("da.SetSubmittingBlockDone", err)
	}
	if err := m.kv.Put(store.CFDABlockSubmitState, codec.EncodeUint64(blockNumber), raw); err != nil {
		return kanarierr.Storage("da.SetSubmittingBlockDone", err)
	}
	return nil
}

// deleteBlocks stages deletions for blockNumbers into batch.
func deleteBlocks(batch *kv.WriteBatch, blockNumbers []uint64) {
	for _, n := range blockNumbers {
		batch.Delete(store.CFDABlockSubmitState, codec.EncodeUint64(n))
	}
}
