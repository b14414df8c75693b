package da

import (
	"context"
	"sync"
)

// Engine tracks the currently open (not yet persisted as a block) tx-order
// range and closes it into a durable block once it reaches maxBlockSize
// tx orders, implementing pipeline.DANotifier. The original has no
// synchronous per-tx block-closure path of its own (blocks are normally
// produced by a background closer on a timer); this is the pipeline's
// "notify DA engine to append tx_order into the current open block range"
// step made concrete the same way the accumulator batches leaves between
// sequencer commits — close eagerly by size, since no timer component
// exists in this core.
type Engine struct {
	meta         *MetaStore
	maxBlockSize uint64

	mu       sync.Mutex
	openOpen bool
	start    uint64
	end      uint64
}

// NewEngine builds an Engine closing blocks every maxBlockSize tx orders.
func NewEngine(meta *MetaStore, maxBlockSize uint64) *Engine {
	if maxBlockSize == 0 {
		maxBlockSize = MaxTxsPerBlockInFix
	}
	return &Engine{meta: meta, maxBlockSize: maxBlockSize}
}

// AppendTxOrder extends the open range with txOrder, closing it into a
// durable block if it has reached maxBlockSize.
func (e *Engine) AppendTxOrder(ctx context.Context, txOrder uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.openOpen {
		e.start, e.end, e.openOpen = txOrder, txOrder, true
	} else {
		e.end = txOrder
	}

	if e.end-e.start+1 >= e.maxBlockSize {
		return e.closeLocked()
	}
	return nil
}

// CloseOpenBlock persists whatever range is currently open, even if it has
// not reached maxBlockSize. Intended for graceful shutdown so a partially
// filled range is not lost.
func (e *Engine) CloseOpenBlock() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.openOpen {
		return nil
	}
	return e.closeLocked()
}

func (e *Engine) closeLocked() error {
	if _, err := e.meta.AppendSubmittingBlock(e.start, e.end); err != nil {
		return err
	}
	e.openOpen = false
	return nil
}
