package store

import (
	"errors"
	"fmt"

	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/store/codec"
	"github.com/kanari-network/kanarinode/internal/types"
)

// MetaStore reads and writes the node's two singleton records: the
// sequencer's progress and the executor's current root/size.
type MetaStore struct {
	kv kv.Store
}

// NewMetaStore wraps kv.
func NewMetaStore(store kv.Store) *MetaStore {
	return &MetaStore{kv: store}
}

// GetSequencerInfo returns the persisted sequencer progress, or nil if the
// chain has not been genesis-initialized yet.
func (m *MetaStore) GetSequencerInfo() (*types.SequencerInfo, error) {
	raw, err := m.kv.Get(CFMetaSequencerInfo, []byte(types.SequencerInfoKey))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get sequencer info: %w", err)
	}
	var info types.SequencerInfo
	if err := codec.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("store: decode sequencer info: %w", err)
	}
	return &info, nil
}

// PutSequencerInfo stages a sequencer info write into batch.
func (m *MetaStore) PutSequencerInfo(batch *kv.WriteBatch, info types.SequencerInfo) error {
	raw, err := codec.Marshal(info)
	if err != nil {
		return fmt.Errorf("store: encode sequencer info: %w", err)
	}
	batch.Put(CFMetaSequencerInfo, []byte(types.SequencerInfoKey), raw)
	return nil
}

// GetStartupInfo returns the persisted global state root/size, or nil if
// the chain has not been genesis-initialized yet.
func (m *MetaStore) GetStartupInfo() (*types.StartupInfo, error) {
	raw, err := m.kv.Get(CFConfigStartupInfo, []byte(types.StartupInfoKey))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get startup info: %w", err)
	}
	var info types.StartupInfo
	if err := codec.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("store: decode startup info: %w", err)
	}
	return &info, nil
}

// PutStartupInfo stages a startup info write into batch.
func (m *MetaStore) PutStartupInfo(batch *kv.WriteBatch, info types.StartupInfo) error {
	raw, err := codec.Marshal(info)
	if err != nil {
		return fmt.Errorf("store: encode startup info: %w", err)
	}
	batch.Put(CFConfigStartupInfo, []byte(types.StartupInfoKey), raw)
	return nil
}
