package types

// BlockRange names the contiguous tx-order span covered by a DA block,
// before it has been assigned a submit state.
type BlockRange struct {
	BlockNumber  uint64 `json:"block_number"`
	TxOrderStart uint64 `json:"tx_order_start"`
	TxOrderEnd   uint64 `json:"tx_order_end"`
}

// IsLegal reports whether the range is well formed relative to the last
// sequenced tx order: start <= end, and end does not exceed lastOrder.
func (r BlockRange) IsLegal(lastOrder uint64) bool {
	return r.TxOrderStart <= r.TxOrderEnd && r.TxOrderEnd <= lastOrder
}

// BlockSubmitState is the persisted record of one DA block's submission
// progress.
type BlockSubmitState struct {
	BlockRange BlockRange `json:"block_range"`
	Done       bool       `json:"done"`
	BatchHash  Hash       `json:"batch_hash,omitempty"`
}

// NewBlockSubmitState builds a not-yet-submitted block state.
func NewBlockSubmitState(blockNumber, txOrderStart, txOrderEnd uint64) BlockSubmitState {
	return BlockSubmitState{
		BlockRange: BlockRange{
			BlockNumber:  blockNumber,
			TxOrderStart: txOrderStart,
			TxOrderEnd:   txOrderEnd,
		},
	}
}

// NewDoneBlockSubmitState builds an already-submitted block state.
func NewDoneBlockSubmitState(blockNumber, txOrderStart, txOrderEnd uint64, batchHash Hash) BlockSubmitState {
	s := NewBlockSubmitState(blockNumber, txOrderStart, txOrderEnd)
	s.Done = true
	s.BatchHash = batchHash
	return s
}

// Well-known keys in the da_block_cursor column family.
const (
	LastBlockNumberKey               = "last_block_number"
	BackgroundSubmitBlockCursorKey   = "background_submit_block_cursor"
)
