package store

import (
	"errors"
	"fmt"

	"github.com/kanari-network/kanarinode/internal/accumulator"
	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/store/codec"
	"github.com/kanari-network/kanarinode/internal/types"
)

// KVLeafStore adapts a kv.Store column family to accumulator.LeafStore,
// keyed by the leaf's big-endian index so leaves iterate in append order.
type KVLeafStore struct {
	kv kv.Store
}

var _ accumulator.LeafStore = (*KVLeafStore)(nil)

// NewKVLeafStore wraps store.
func NewKVLeafStore(store kv.Store) *KVLeafStore {
	return &KVLeafStore{kv: store}
}

// GetLeaf implements accumulator.LeafStore.
func (s *KVLeafStore) GetLeaf(index uint64) (types.Hash, bool, error) {
	raw, err := s.kv.Get(CFAccumulatorLeaves, codec.EncodeUint64(index))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return types.Hash{}, false, nil
		}
		return types.Hash{}, false, fmt.Errorf("store: get accumulator leaf %d: %w", index, err)
	}
	return types.HashFromBytes(raw), true, nil
}

// StageLeaves appends Put rows for each unsaved leaf into batch.
func StageLeaves(batch *kv.WriteBatch, leaves []accumulator.UnsavedLeaf) {
	for _, leaf := range leaves {
		batch.Put(CFAccumulatorLeaves, codec.EncodeUint64(leaf.Index), leaf.Hash.Bytes())
	}
}
