package main

import (
	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/kv/memdb"
	"github.com/kanari-network/kanarinode/internal/store"
	"github.com/kanari-network/kanarinode/internal/types"
)

// ensureGenesis writes the chain's genesis records (SequencerInfo at
// order 0, an empty transaction accumulator, StartupInfo at the
// placeholder state root) the first time a data directory is opened,
// matching spec.md §8's S1 fresh-genesis scenario. It is a no-op on an
// already-initialized store. The VM's own genesis execution (the
// framework module install that would normally produce the "real"
// genesis_execution_info.state_root) is out of this module's scope, so
// the placeholder hash stands in for it, same simplification the
// sequencer package's own tests use.
func ensureGenesis(db *memdb.DB) error {
	meta := store.NewMetaStore(db)

	seqInfo, err := meta.GetSequencerInfo()
	if err != nil {
		return err
	}
	if seqInfo != nil {
		return nil
	}

	batch := &kv.WriteBatch{}
	if err := meta.PutSequencerInfo(batch, types.SequencerInfo{
		LastOrder:           0,
		LastAccumulatorInfo: types.AccumulatorInfo{Root: types.PlaceholderHash},
	}); err != nil {
		return err
	}
	if err := meta.PutStartupInfo(batch, types.StartupInfo{StateRoot: types.PlaceholderHash}); err != nil {
		return err
	}
	return db.WriteBatchAcrossCFs([]string{store.CFMetaSequencerInfo, store.CFConfigStartupInfo}, batch, true)
}
