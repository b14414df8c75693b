// Package store names the node's column families over internal/kv and
// provides the typed accessors (MetaStore, TransactionStore, LeafStore
// adapter) the sequencer, executor, pipeline and repair components persist
// through. Grounded on spec.md §4.A's column-family list and on
// _examples/original_source/crates/kanari-store's meta/transaction store
// split.
package store

import "github.com/kanari-network/kanarinode/internal/smt"

// Column family names, matching spec.md §3's "semantic names" list.
const (
	CFTransactions       = "transactions"
	CFTxOrderToHash      = "tx_order_to_tx_hash"
	CFTxExecutionInfo    = "tx_execution_info"
	CFStateChangeSet     = "state_change_set"
	CFMetaSequencerInfo  = "meta_sequencer_info"
	CFConfigStartupInfo  = "config_startup_info"
	CFDABlockSubmitState = "da_block_submit_state"
	CFDABlockCursor      = "da_block_cursor"
	CFAccumulatorLeaves  = "tx_accumulator_leaves"
	CFObjectStates       = "object_states"
)

// AllCFs lists every column family this package owns, for store
// initialization.
func AllCFs() []string {
	return []string{
		CFTransactions,
		CFTxOrderToHash,
		CFTxExecutionInfo,
		CFStateChangeSet,
		CFMetaSequencerInfo,
		CFConfigStartupInfo,
		CFDABlockSubmitState,
		CFDABlockCursor,
		CFAccumulatorLeaves,
		CFObjectStates,
		smt.NodesCF,
		smt.StaleCF,
	}
}
