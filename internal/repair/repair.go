// Package repair implements the node's revert and consistency-repair
// subsystem (spec.md §4.I). Grounded on
// _examples/original_source/crates/kanari-db/src/lib.rs's revert_tx/
// revert_tx_unsafe/inner_revert/repair.
package repair

import (
	"context"
	"fmt"

	"github.com/kanari-network/kanarinode/internal/da"
	"github.com/kanari-network/kanarinode/internal/kanarierr"
	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/store"
	"github.com/kanari-network/kanarinode/internal/types"
)

// Indexer is the subset of the derived-store mirror a revert must also
// unwind. Module J satisfies it; accepting the interface here lets this
// package exist (and be tested) before that module does.
type Indexer interface {
	RevertTransaction(ctx context.Context, txOrder uint64) error
}

// ServiceStatusNotifier lets repair push a service-status transition
// through internal/pipeline's one-way event bus (spec.md §9) without this
// package importing pipeline back.
type ServiceStatusNotifier interface {
	PublishServiceStatus(status types.ServiceStatus, reason string)
}

// Store reverts and repairs the ledger/state-store/DA-store triple.
type Store struct {
	kv       kv.Store
	meta     *store.MetaStore
	txs      *store.TransactionStore
	da       *da.MetaStore
	indexer  Indexer               // nilable: revert still runs, just skips the mirror
	notifier ServiceStatusNotifier // nilable: repair still runs, just skips the broadcast
}

// New builds a Store.
func New(kvStore kv.Store, meta *store.MetaStore, txs *store.TransactionStore, daMeta *da.MetaStore, indexer Indexer) *Store {
	return &Store{kv: kvStore, meta: meta, txs: txs, da: daMeta, indexer: indexer}
}

// SetServiceStatusNotifier wires n to receive service-status broadcasts
// from future reverts and repairs. Passing nil (the default) disables the
// broadcast.
func (s *Store) SetServiceStatusNotifier(n ServiceStatusNotifier) {
	s.notifier = n
}

// RevertTx reverts the single most recently sequenced transaction,
// restoring the previous sequencer/startup info, after checking it really
// is the tip and that the previous transaction has execution info to
// restore to.
func (s *Store) RevertTx(ctx context.Context, txHash types.Hash) error {
	order, tx, prevAccInfo, prevExecInfo, err := s.checkRevertTx(txHash)
	if err != nil {
		return err
	}
	if err := s.innerRevert(ctx, order, tx, &prevAccInfo, &prevExecInfo, true); err != nil {
		return err
	}
	return nil
}

// RevertTxUnsafe removes txHash at txOrder without any of RevertTx's
// preconditions or startup-info restoration. force must be true: callers
// that did not explicitly opt in never reach this path, per spec.md's
// "gate unsafe revert behind an explicit flag" decision.
func (s *Store) RevertTxUnsafe(ctx context.Context, txOrder uint64, txHash types.Hash, force bool) error {
	if !force {
		return kanarierr.Validation("repair.RevertTxUnsafe", fmt.Errorf("unsafe revert requires force=true"))
	}
	tx, err := s.txs.GetTransactionByHash(txHash)
	if err != nil {
		return err
	}
	if tx == nil {
		return kanarierr.Consistency("repair.RevertTxUnsafe", fmt.Errorf("ledger tx not found for tx_hash %s", txHash))
	}
	return s.innerRevert(ctx, txOrder, *tx, nil, nil, false)
}

// checkRevertTx verifies tx exists, is the current tip, and that its
// predecessor has execution info to restore startup info to.
func (s *Store) checkRevertTx(txHash types.Hash) (uint64, types.LedgerTransaction, types.AccumulatorInfo, types.TransactionExecutionInfo, error) {
	tx, err := s.txs.GetTransactionByHash(txHash)
	if err != nil {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, err
	}
	if tx == nil {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, kanarierr.Consistency("repair.checkRevertTx", fmt.Errorf("ledger tx not found for tx_hash %s", txHash))
	}
	order := tx.SequenceInfo.TxOrder
	if order == 0 {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, kanarierr.Validation("repair.checkRevertTx", fmt.Errorf("tx_order 0 is the genesis transaction, cannot revert"))
	}

	seqInfo, err := s.meta.GetSequencerInfo()
	if err != nil {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, err
	}
	if seqInfo == nil {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, kanarierr.Consistency("repair.checkRevertTx", fmt.Errorf("sequencer info not found"))
	}
	if seqInfo.LastOrder != order {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, kanarierr.Validation("repair.checkRevertTx", fmt.Errorf("tx_order %d is not the last tx_order %d", order, seqInfo.LastOrder))
	}

	previousOrder := order - 1
	previousHash, err := s.txs.GetTxHashByOrder(previousOrder)
	if err != nil {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, err
	}
	if previousHash == nil {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, kanarierr.Consistency("repair.checkRevertTx", fmt.Errorf("tx_hash not found for previous tx_order %d", previousOrder))
	}
	previousTx, err := s.txs.GetTransactionByHash(*previousHash)
	if err != nil {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, err
	}
	if previousTx == nil {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, kanarierr.Consistency("repair.checkRevertTx", fmt.Errorf("ledger tx (previous) not found for tx_hash %s", *previousHash))
	}
	previousExecInfo, err := s.txs.GetExecutionInfo(*previousHash)
	if err != nil {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, err
	}
	if previousExecInfo == nil {
		return 0, types.LedgerTransaction{}, types.AccumulatorInfo{}, types.TransactionExecutionInfo{}, kanarierr.Consistency("repair.checkRevertTx", fmt.Errorf("previous execution info not found for tx_hash %s", *previousHash))
	}

	return order, *tx, previousTx.SequenceInfo.TxAccumulatorInfo, *previousExecInfo, nil
}

// innerRevert removes tx's rows, optionally restoring sequencer/startup
// info to the values supplied, then reverts the indexer mirror.
func (s *Store) innerRevert(ctx context.Context, order uint64, tx types.LedgerTransaction, previousAccInfo *types.AccumulatorInfo, previousExecInfo *types.TransactionExecutionInfo, updateStartup bool) error {
	batch := &kv.WriteBatch{}
	store.DeleteTransaction(batch, tx)
	cfs := []string{
		store.CFTransactions,
		store.CFTxOrderToHash,
		store.CFTxExecutionInfo,
		store.CFStateChangeSet,
	}

	if updateStartup {
		if previousAccInfo == nil || previousExecInfo == nil {
			return kanarierr.Validation("repair.innerRevert", fmt.Errorf("updateStartup requires previous accumulator/execution info"))
		}
		previousSeqInfo := types.SequencerInfo{LastOrder: order - 1, LastAccumulatorInfo: *previousAccInfo}
		startupInfo := types.StartupInfo{StateRoot: previousExecInfo.StateRoot, Size: previousExecInfo.Size}
		if err := s.meta.PutSequencerInfo(batch, previousSeqInfo); err != nil {
			return err
		}
		if err := s.meta.PutStartupInfo(batch, startupInfo); err != nil {
			return err
		}
		cfs = append(cfs, store.CFMetaSequencerInfo, store.CFConfigStartupInfo)
	}

	if err := s.kv.WriteBatchAcrossCFs(cfs, batch, true); err != nil {
		return kanarierr.Storage("repair.innerRevert", err)
	}

	if s.indexer != nil {
		if err := s.indexer.RevertTransaction(ctx, order); err != nil {
			return fmt.Errorf("repair: revert indexer for tx_order %d: %w", order, err)
		}
	}
	if s.notifier != nil {
		s.notifier.PublishServiceStatus(types.ServiceMaintenance, fmt.Sprintf("reverted tx_order %d out from under the sequencer", order))
	}
	return nil
}
