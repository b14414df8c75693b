package store

import (
	"errors"
	"fmt"

	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/store/codec"
	"github.com/kanari-network/kanarinode/internal/types"
)

// TransactionStore reads and writes sequenced transactions and their
// execution results, keyed both by tx hash and by tx order.
type TransactionStore struct {
	kv kv.Store
}

// NewTransactionStore wraps store.
func NewTransactionStore(store kv.Store) *TransactionStore {
	return &TransactionStore{kv: store}
}

// IsSafeToSequence reports whether hash has not already been sequenced.
func (s *TransactionStore) IsSafeToSequence(hash types.Hash) (bool, error) {
	_, err := s.kv.Get(CFTransactions, hash.Bytes())
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("store: check tx %s: %w", hash, err)
	}
	return false, nil
}

// GetTransactionByHash returns the sequenced transaction for hash, or nil
// if it has not been sequenced.
func (s *TransactionStore) GetTransactionByHash(hash types.Hash) (*types.LedgerTransaction, error) {
	raw, err := s.kv.Get(CFTransactions, hash.Bytes())
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get tx %s: %w", hash, err)
	}
	var tx types.LedgerTransaction
	if err := codec.Unmarshal(raw, &tx); err != nil {
		return nil, fmt.Errorf("store: decode tx %s: %w", hash, err)
	}
	return &tx, nil
}

// GetTransactionsByHash returns one slot per hash, nil at a slot whose tx
// is absent.
func (s *TransactionStore) GetTransactionsByHash(hashes []types.Hash) ([]*types.LedgerTransaction, error) {
	out := make([]*types.LedgerTransaction, len(hashes))
	for i, h := range hashes {
		tx, err := s.GetTransactionByHash(h)
		if err != nil {
			return nil, err
		}
		out[i] = tx
	}
	return out, nil
}

// GetTxHashByOrder returns the tx hash sequenced at order, or nil if no
// transaction has that order.
func (s *TransactionStore) GetTxHashByOrder(order uint64) (*types.Hash, error) {
	raw, err := s.kv.Get(CFTxOrderToHash, codec.EncodeUint64(order))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get tx hash for order %d: %w", order, err)
	}
	h := types.HashFromBytes(raw)
	return &h, nil
}

// GetExecutionInfo returns the execution result for hash, or nil if the tx
// has not yet been executed.
func (s *TransactionStore) GetExecutionInfo(hash types.Hash) (*types.TransactionExecutionInfo, error) {
	raw, err := s.kv.Get(CFTxExecutionInfo, hash.Bytes())
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get execution info %s: %w", hash, err)
	}
	var info types.TransactionExecutionInfo
	if err := codec.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("store: decode execution info %s: %w", hash, err)
	}
	return &info, nil
}

// StageTransaction appends the {hash->tx, order->hash} rows into batch,
// per spec.md §4.E step 6.
func StageTransaction(batch *kv.WriteBatch, tx types.LedgerTransaction) error {
	raw, err := codec.Marshal(tx)
	if err != nil {
		return fmt.Errorf("store: encode tx %s: %w", tx.TxHash(), err)
	}
	batch.Put(CFTransactions, tx.TxHash().Bytes(), raw)
	batch.Put(CFTxOrderToHash, codec.EncodeUint64(tx.SequenceInfo.TxOrder), tx.TxHash().Bytes())
	return nil
}

// StageExecutionInfo appends the hash->execution_info row into batch.
func StageExecutionInfo(batch *kv.WriteBatch, info types.TransactionExecutionInfo) error {
	raw, err := codec.Marshal(info)
	if err != nil {
		return fmt.Errorf("store: encode execution info %s: %w", info.TxHash, err)
	}
	batch.Put(CFTxExecutionInfo, info.TxHash.Bytes(), raw)
	return nil
}

// StageStateChangeSet appends the order->state_change_set row into batch.
func StageStateChangeSet(batch *kv.WriteBatch, order uint64, set types.StateChangeSet) error {
	raw, err := codec.Marshal(set.ToWire())
	if err != nil {
		return fmt.Errorf("store: encode state change set for order %d: %w", order, err)
	}
	batch.Put(CFStateChangeSet, codec.EncodeUint64(order), raw)
	return nil
}

// GetStateChangeSet returns the change-set recorded for order, or nil if
// absent.
func (s *TransactionStore) GetStateChangeSet(order uint64) (*types.StateChangeSet, error) {
	raw, err := s.kv.Get(CFStateChangeSet, codec.EncodeUint64(order))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get state change set for order %d: %w", order, err)
	}
	var wire types.WireStateChangeSet
	if err := codec.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("store: decode state change set for order %d: %w", order, err)
	}
	set := types.StateChangeSetFromWire(wire)
	return &set, nil
}

// DeleteTransaction appends the {hash->tx, order->hash, hash->execution_info,
// order->state_change_set} delete rows into batch, for revert.
func DeleteTransaction(batch *kv.WriteBatch, tx types.LedgerTransaction) {
	batch.Delete(CFTransactions, tx.TxHash().Bytes())
	batch.Delete(CFTxOrderToHash, codec.EncodeUint64(tx.SequenceInfo.TxOrder))
	batch.Delete(CFTxExecutionInfo, tx.TxHash().Bytes())
	batch.Delete(CFStateChangeSet, codec.EncodeUint64(tx.SequenceInfo.TxOrder))
}
