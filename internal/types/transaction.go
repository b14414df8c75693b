package types

// TxStatus reports the outcome of executing a transaction.
type TxStatus string

const (
	TxStatusExecuted    TxStatus = "executed"
	TxStatusMoveAbort   TxStatus = "move_abort"
	TxStatusMiscError   TxStatus = "misc_error"
	TxStatusOutOfGas    TxStatus = "out_of_gas"
)

// AccumulatorInfo is the state of the transaction accumulator carried
// between sequencer commits.
type AccumulatorInfo struct {
	FrozenSubtreeRoots []Hash `json:"frozen_subtree_roots"`
	NumLeaves          uint64 `json:"num_leaves"`
	NumNodes           uint64 `json:"num_nodes"`
	Root               Hash   `json:"root"`
}

// SequenceInfo is the sequencing envelope attached to a LedgerTransaction by
// the sequencer.
type SequenceInfo struct {
	TxOrder            uint64          `json:"tx_order"`
	TxTimestampMs       uint64          `json:"tx_timestamp"`
	TxOrderSignature    []byte          `json:"tx_order_signature"`
	TxAccumulatorRoot   Hash            `json:"tx_accumulator_root"`
	TxAccumulatorInfo   AccumulatorInfo `json:"tx_accumulator_info"`
}

// TxDataKind distinguishes the three admissible shapes of transaction data.
type TxDataKind uint8

const (
	TxDataL2 TxDataKind = iota
	TxDataL1Block
	TxDataL1Tx
)

// TxData is the sender-supplied payload handed to the sequencer, before
// sequencing information is attached.
type TxData struct {
	Kind   TxDataKind `json:"kind"`
	Sender Address    `json:"sender"`
	// RawHash is precomputed by the caller (hash of the signed payload for
	// L2 txs, or of the block/tx envelope for L1 data); the sequencer never
	// recomputes it.
	RawHash Hash   `json:"raw_hash"`
	Payload []byte `json:"payload"`
}

// IsL1Block reports whether this data represents an L1 block ingestion.
func (d TxData) IsL1Block() bool { return d.Kind == TxDataL1Block }

// IsL1Tx reports whether this data represents an L1 transaction ingestion.
func (d TxData) IsL1Tx() bool { return d.Kind == TxDataL1Tx }

// IsL1 reports whether this data originates from L1 (block or tx).
func (d TxData) IsL1() bool { return d.IsL1Block() || d.IsL1Tx() }

// TxHash returns the precomputed hash identifying this tx data.
func (d TxData) TxHash() Hash { return d.RawHash }

// LedgerTransaction is a sequenced transaction: the original data plus the
// sequencing envelope produced by the sequencer.
type LedgerTransaction struct {
	Data         TxData       `json:"data"`
	SequenceInfo SequenceInfo `json:"sequence_info"`
}

// TxHash returns the hash of the underlying tx data.
func (t LedgerTransaction) TxHash() Hash { return t.Data.TxHash() }

// TransactionExecutionInfo is the outcome of executing one transaction.
type TransactionExecutionInfo struct {
	TxHash    Hash     `json:"tx_hash"`
	StateRoot Hash     `json:"state_root"`
	Size      uint64   `json:"size"`
	EventRoot Hash     `json:"event_root"`
	GasUsed   uint64   `json:"gas_used"`
	Status    TxStatus `json:"status"`
}

// SequencerInfoKey is the well-known meta-store key for SequencerInfo.
const SequencerInfoKey = "SEQUENCER_INFO_KEY"

// StartupInfoKey is the well-known meta-store key for StartupInfo.
const StartupInfoKey = "STARTUP_INFO_KEY"

// SequencerInfo is the single persisted record of sequencer progress.
type SequencerInfo struct {
	LastOrder           uint64          `json:"last_order"`
	LastAccumulatorInfo AccumulatorInfo `json:"last_accumulator_info"`
}

// StartupInfo is the single persisted record of the current global state
// root/size, updated atomically with each committed transaction.
type StartupInfo struct {
	StateRoot Hash   `json:"state_root"`
	Size      uint64 `json:"size"`
}

// ServiceStatus gates which kinds of transactions the sequencer accepts.
type ServiceStatus string

const (
	ServiceActive      ServiceStatus = "active"
	ServiceReadOnly    ServiceStatus = "read_only"
	ServiceDataImport  ServiceStatus = "data_import"
	ServiceMaintenance ServiceStatus = "maintenance"
)
