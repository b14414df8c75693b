package da

import (
	"fmt"

	"github.com/kanari-network/kanarinode/internal/kanarierr"
	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/store"
	"github.com/kanari-network/kanarinode/internal/store/codec"
	"github.com/kanari-network/kanarinode/internal/types"
)

// TryRepairDAMeta implements spec.md §4.H's deep-repair decomposition:
// order repair (optional, thorough only), block repair (skipped in
// syncMode, where no DA block is ever generated), then background-cursor
// repair. Returns (issues, fixed), matching the original's signature.
func (m *MetaStore) TryRepairDAMeta(lastOrder uint64, thorough bool, daMinBlockToSubmit *uint64, fastFail, syncMode bool) (int, int, error) {
	issues, fixed := 0, 0
	if thorough {
		orderIssues, orderFixed, err := m.tryRepairOrders(lastOrder, fastFail)
		if err != nil {
			return issues, fixed, err
		}
		issues += orderIssues
		fixed += orderFixed
	}
	if !syncMode {
		var err error
		issues, fixed, err = m.tryRepairBlocks(lastOrder, issues, fixed)
		if err != nil {
			return issues, fixed, err
		}
	}
	if err := m.tryRepairBackgroundSubmitBlockCursor(daMinBlockToSubmit); err != nil {
		return issues, fixed, err
	}
	return issues, fixed, nil
}

// tryFindFirstIllegal walks blocks [0, lastBlockNumber] verifying
// tx_order_start/end legality and block-to-block contiguity, per the
// original's try_find_first_illegal.
func (m *MetaStore) tryFindFirstIllegal(lastBlockNumber, lastOrder uint64) (*uint64, error) {
	block0, err := m.MustGetBlockState(0)
	if err != nil {
		return nil, err
	}
	if !block0.BlockRange.IsLegal(lastOrder) {
		zero := uint64(0)
		return &zero, nil
	}
	lastEnd := block0.BlockRange.TxOrderEnd
	for i := uint64(1); i <= lastBlockNumber; i++ {
		state, err := m.MustGetBlockState(i)
		if err != nil {
			return nil, err
		}
		if !state.BlockRange.IsLegal(lastOrder) || state.BlockRange.TxOrderStart != lastEnd+1 {
			n := i
			return &n, nil
		}
		lastEnd = state.BlockRange.TxOrderEnd
	}
	return nil, nil
}

// tryRepairOrders finds the first illegal block (if any) and rolls back
// to just before it, removing every block from there to the tip.
func (m *MetaStore) tryRepairOrders(lastOrder uint64, fastFail bool) (int, int, error) {
	lastBlockNumber, err := m.GetLastBlockNumber()
	if err != nil {
		return 0, 0, err
	}
	if lastBlockNumber == nil {
		return 0, 0, nil
	}
	firstIllegal, err := m.tryFindFirstIllegal(*lastBlockNumber, lastOrder)
	if err != nil {
		return 0, 0, err
	}
	if firstIllegal == nil {
		return 0, 0, nil
	}
	if fastFail {
		return 0, 0, kanarierr.Consistency("da.tryRepairOrders", fmt.Errorf("found illegal block %d, last_order %d, last_block_number %d", *firstIllegal, lastOrder, *lastBlockNumber))
	}
	removeBlocks := make([]uint64, 0, *lastBlockNumber-*firstIllegal+1)
	for n := *firstIllegal; n <= *lastBlockNumber; n++ {
		removeBlocks = append(removeBlocks, n)
	}
	if err := m.innerRollback(removeBlocks); err != nil {
		return 0, 0, err
	}
	return len(removeBlocks), len(removeBlocks), nil
}

// tryRepairBlocks reconciles the tip against lastOrder: ahead appends
// synthetic blocks, behind rolls back the tail, equal is a no-op.
func (m *MetaStore) tryRepairBlocks(lastOrder uint64, issues, fixed int) (int, int, error) {
	lastBlockNumber, err := m.GetLastBlockNumber()
	if err != nil {
		return issues, fixed, err
	}
	if lastBlockNumber == nil {
		if lastOrder == 0 {
			return issues, fixed, nil
		}
		count, err := m.appendBlockByRepair(nil, lastOrder)
		if err != nil {
			return issues, fixed, err
		}
		return issues + count, fixed + count, nil
	}

	last, err := m.MustGetBlockState(*lastBlockNumber)
	if err != nil {
		return issues, fixed, err
	}
	switch {
	case lastOrder > last.BlockRange.TxOrderEnd:
		count, err := m.appendBlockByRepair(lastBlockNumber, lastOrder)
		if err != nil {
			return issues, fixed, err
		}
		return issues + count, fixed + count, nil
	case lastOrder < last.BlockRange.TxOrderEnd:
		removeBlocks, err := m.generateRemoveBlocksAfterOrder(lastBlockNumber, lastOrder)
		if err != nil {
			return issues, fixed, err
		}
		if err := m.innerRollback(removeBlocks); err != nil {
			return issues, fixed, err
		}
		issues += len(removeBlocks)
		fixed += len(removeBlocks)
		return m.tryRepairBlocks(lastOrder, issues, fixed)
	default:
		return issues, fixed, nil
	}
}

// generateRemoveBlocksAfterOrder collects, from lastBlockNumber backward,
// every block whose tx_order_end exceeds lastOrder.
func (m *MetaStore) generateRemoveBlocksAfterOrder(lastBlockNumber *uint64, lastOrder uint64) ([]uint64, error) {
	var blocks []uint64
	if lastBlockNumber == nil {
		return blocks, nil
	}
	blockNumber := *lastBlockNumber
	for {
		state, err := m.MustGetBlockState(blockNumber)
		if err != nil {
			return nil, err
		}
		if state.BlockRange.TxOrderEnd <= lastOrder {
			break
		}
		blocks = append(blocks, blockNumber)
		if blockNumber == 0 {
			break
		}
		blockNumber--
	}
	return blocks, nil
}

// generateAppendBlocks chunks [lastRangeEnd+1, lastOrder] into blocks no
// wider than MaxTxsPerBlockInFix, continuing the numbering from
// lastBlockNumber.
func (m *MetaStore) generateAppendBlocks(lastBlockNumber *uint64, lastOrder uint64) ([]types.BlockRange, error) {
	var blocks []types.BlockRange
	var blockNumber uint64
	txOrderStart := uint64(1)
	txOrderEnd := min64(MaxTxsPerBlockInFix, lastOrder)

	if lastBlockNumber != nil {
		last, err := m.MustGetBlockState(*lastBlockNumber)
		if err != nil {
			return nil, err
		}
		if last.BlockRange.TxOrderEnd >= lastOrder {
			return nil, kanarierr.Consistency("da.generateAppendBlocks", fmt.Errorf("last block's tx_order_end %d must be < last_order %d", last.BlockRange.TxOrderEnd, lastOrder))
		}
		blockNumber = *lastBlockNumber + 1
		txOrderStart = last.BlockRange.TxOrderEnd + 1
		txOrderEnd = min64(txOrderStart+MaxTxsPerBlockInFix-1, lastOrder)
	}
	for txOrderStart <= lastOrder {
		blocks = append(blocks, types.BlockRange{BlockNumber: blockNumber, TxOrderStart: txOrderStart, TxOrderEnd: txOrderEnd})
		txOrderStart = txOrderEnd + 1
		txOrderEnd = min64(txOrderStart+MaxTxsPerBlockInFix-1, lastOrder)
		blockNumber++
	}
	return blocks, nil
}

func (m *MetaStore) appendBlockByRepair(lastBlockNumber *uint64, lastOrder uint64) (int, error) {
	ranges, err := m.generateAppendBlocks(lastBlockNumber, lastOrder)
	if err != nil {
		return 0, err
	}
	if err := m.appendSubmittingBlocks(ranges); err != nil {
		return 0, err
	}
	return len(ranges), nil
}

// appendSubmittingBlocks writes a batch of already-numbered, contiguous
// block ranges in one durable cross-CF write.
func (m *MetaStore) appendSubmittingBlocks(ranges []types.BlockRange) error {
	if len(ranges) == 0 {
		return nil
	}
	batch := &kv.WriteBatch{}
	var lastBlockNumber uint64
	for _, r := range ranges {
		state := types.NewBlockSubmitState(r.BlockNumber, r.TxOrderStart, r.TxOrderEnd)
		raw, err := codec.Marshal(state)
		if err != nil {
			return kanarierr.Storage("da.appendSubmittingBlocks", err)
		}
		batch.Put(store.CFDABlockSubmitState, codec.EncodeUint64(r.BlockNumber), raw)
		if r.BlockNumber > lastBlockNumber {
			lastBlockNumber = r.BlockNumber
		}
	}
	batch.Put(store.CFDABlockCursor, []byte(types.LastBlockNumberKey), codec.EncodeUint64(lastBlockNumber))
	if err := m.kv.WriteBatchAcrossCFs([]string{store.CFDABlockSubmitState, store.CFDABlockCursor}, batch, true); err != nil {
		return kanarierr.Storage("da.appendSubmittingBlocks", err)
	}
	return nil
}

// innerRollback deletes removeBlocks and rewinds LAST_BLOCK_NUMBER_KEY to
// just before the smallest removed block number, rewinding the background
// cursor to the new tip if it now points past it (or removing it outright
// if no blocks remain).
func (m *MetaStore) innerRollback(removeBlocks []uint64) error {
	if len(removeBlocks) == 0 {
		return nil
	}
	minRemoved := removeBlocks[0]
	for _, n := range removeBlocks {
		if n < minRemoved {
			minRemoved = n
		}
	}

	batch := &kv.WriteBatch{}
	deleteBlocks(batch, removeBlocks)
	cfs := []string{store.CFDABlockSubmitState, store.CFDABlockCursor}

	if minRemoved == 0 {
		batch.Delete(store.CFDABlockCursor, []byte(types.LastBlockNumberKey))
		batch.Delete(store.CFDABlockCursor, []byte(types.BackgroundSubmitBlockCursorKey))
	} else {
		newLast := minRemoved - 1
		batch.Put(store.CFDABlockCursor, []byte(types.LastBlockNumberKey), codec.EncodeUint64(newLast))
		cursor, err := m.GetBackgroundSubmitBlockCursor()
		if err != nil {
			return err
		}
		if cursor != nil && *cursor > newLast {
			batch.Put(store.CFDABlockCursor, []byte(types.BackgroundSubmitBlockCursorKey), codec.EncodeUint64(newLast))
		}
	}

	if err := m.kv.WriteBatchAcrossCFs(cfs, batch, true); err != nil {
		return kanarierr.Storage("da.innerRollback", err)
	}
	return nil
}

// tryRepairBackgroundSubmitBlockCursor repairs the background cursor if a
// caller-supplied minimum (defaulting to 0) is behind it: walk forward from
// the minimum to the last block of the contiguous done run <= the cursor,
// or delete the cursor if the minimum block itself is not done.
func (m *MetaStore) tryRepairBackgroundSubmitBlockCursor(daMinBlockToSubmit *uint64) error {
	cursor, err := m.GetBackgroundSubmitBlockCursor()
	if err != nil {
		return err
	}
	if cursor == nil {
		return nil
	}
	minBlock := uint64(0)
	if daMinBlockToSubmit != nil {
		minBlock = *daMinBlockToSubmit
	}
	if minBlock >= *cursor {
		return nil
	}
	maxSubmitted, err := m.searchMaxSubmittedBlockNumber(minBlock, *cursor)
	if err != nil {
		return err
	}
	if maxSubmitted == nil {
		return m.RemoveBackgroundSubmitBlockCursor()
	}
	if *maxSubmitted != *cursor {
		return m.SetBackgroundSubmitBlockCursor(*maxSubmitted)
	}
	return nil
}

// searchMaxSubmittedBlockNumber walks [lo, hi] forward, stopping at the
// first not-done or missing block, and returns the highest done block
// number found — avoiding holes in the expected submitted range.
func (m *MetaStore) searchMaxSubmittedBlockNumber(lo, hi uint64) (*uint64, error) {
	var maxDone *uint64
	for n := lo; n <= hi; n++ {
		state, err := m.GetBlockState(n)
		if err != nil {
			return nil, err
		}
		if state == nil {
			break
		}
		if !state.Done {
			break
		}
		found := n
		maxDone = &found
	}
	return maxDone, nil
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
