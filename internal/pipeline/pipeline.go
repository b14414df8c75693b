// Package pipeline wires the sequencer, executor, DA engine, and indexer
// into the single end-to-end transaction flow from spec.md §4.G: validate,
// sequence, execute, notify DA, fan out to the indexer. Grounded on
// _examples/original_source/crates/kanari-rpc-server/src/service/rpc_service.rs's
// queue_tx/execute_tx delegating into a pipeline_processor component.
package pipeline

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/kanari-network/kanarinode/internal/executor"
	"github.com/kanari-network/kanarinode/internal/kanarierr"
	"github.com/kanari-network/kanarinode/internal/sequencer"
	"github.com/kanari-network/kanarinode/internal/store"
	"github.com/kanari-network/kanarinode/internal/types"
	"github.com/kanari-network/kanarinode/internal/vmbridge"
)

// Codec decodes the sender-supplied tx payload into the VM-facing shapes
// the executor needs. The concrete wire format is framework/VM-specific
// and out of scope (spec.md §1's Non-goals exclude the JSON-RPC façade and
// framework loading), so it is injected the same way internal/vmbridge's
// Engine is.
type Codec interface {
	DecodeL2(payload []byte) (vmbridge.TxContext, vmbridge.AuthenticatorInfo, error)
	DecodeL1Block(payload []byte) (vmbridge.L1Block, error)
	DecodeL1Tx(payload []byte) (vmbridge.L1Tx, error)
	// DecodeL2Unsigned decodes an L2 call for a dry run: unlike DecodeL2
	// it has no authenticator to decode, since a dry run accepts
	// not-yet-signed tx data (spec.md §4.F step 5).
	DecodeL2Unsigned(payload []byte) (vmbridge.FunctionCall, uint64, error)
}

// DANotifier is the subset of the DA engine (module H) the pipeline needs:
// appending a just-executed tx order into the currently open block range.
type DANotifier interface {
	AppendTxOrder(ctx context.Context, txOrder uint64) error
}

// Indexer is the subset of the indexer (module J) the pipeline needs: a
// best-effort async mirror of one transaction's execution result.
type Indexer interface {
	IndexTransaction(ctx context.Context, tx types.LedgerTransaction, info types.TransactionExecutionInfo, set types.StateChangeSet) error
}

// Result is the full outcome of running one transaction through the
// pipeline.
type Result struct {
	Tx   types.LedgerTransaction
	Info types.TransactionExecutionInfo
	Set  types.StateChangeSet
}

// Processor owns the end-to-end flow. ExecuteL2Tx/ExecuteL1Block/ExecuteL1Tx
// are safe for concurrent use: Sequencer.Sequence already serializes
// ordering, and Executor has no internal state mutated out of that order
// (tx_order fixes call order for it).
type Processor struct {
	seq      *sequencer.Sequencer
	exec     *executor.Executor
	txStore  *store.TransactionStore
	da       DANotifier
	indexer  Indexer
	codec    Codec
	fanout   *errgroup.Group
	fanoutCx context.Context
	bus      *Bus
	log      *logrus.Entry
}

// New builds a Processor. fanoutCtx governs the lifetime of asynchronous
// indexer fan-out goroutines and of the service-status forwarding goroutine;
// cancel it to stop accepting new fan-out work and status updates during
// shutdown. New also wires exec's gas-upgrade publish into the Processor's
// Bus and starts forwarding ServiceStatusEvents (e.g. from internal/repair)
// into seq, per spec.md §9's one-way subscription design.
func New(fanoutCtx context.Context, seq *sequencer.Sequencer, exec *executor.Executor, txStore *store.TransactionStore, da DANotifier, indexer Indexer, codec Codec) *Processor {
	fanout, ctx := errgroup.WithContext(fanoutCtx)
	bus := NewBus()
	exec.SetGasUpgradeNotifier(bus)

	p := &Processor{
		seq:      seq,
		exec:     exec,
		txStore:  txStore,
		da:       da,
		indexer:  indexer,
		codec:    codec,
		fanout:   fanout,
		fanoutCx: ctx,
		bus:      bus,
		log:      logrus.WithField("component", "pipeline"),
	}

	statusCh := make(chan ServiceStatusEvent, 8)
	bus.SubscribeServiceStatus(statusCh)
	go p.forwardServiceStatus(fanoutCtx, statusCh)

	return p
}

// Bus exposes the Processor's event bus so other components (e.g.
// internal/repair) can subscribe to gas-upgrade events or publish
// service-status transitions without this package importing them.
func (p *Processor) Bus() *Bus { return p.bus }

// forwardServiceStatus drains status events published to the bus (by
// internal/repair or any other subscriber) into the sequencer, until ctx is
// canceled.
func (p *Processor) forwardServiceStatus(ctx context.Context, ch <-chan ServiceStatusEvent) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-ch:
			if err := p.seq.SetServiceStatus(ctx, ev.Status); err != nil {
				p.log.WithError(err).WithField("reason", ev.Reason).Warn("failed to forward service status update to sequencer")
			}
		}
	}
}

// Wait blocks until all in-flight indexer fan-out goroutines finish (or one
// returns an error), for use during shutdown.
func (p *Processor) Wait() error { return p.fanout.Wait() }

// ExecuteL2Tx runs spec.md §4.G's flow for a user-submitted L2 transaction.
func (p *Processor) ExecuteL2Tx(ctx context.Context, sender types.Address, rawHash types.Hash, payload []byte) (Result, error) {
	txCtx, authenticator, err := p.codec.DecodeL2(payload)
	if err != nil {
		return Result{}, kanarierr.Validation("pipeline.ExecuteL2Tx", err)
	}
	verified, err := p.exec.ValidateL2Tx(ctx, txCtx, authenticator)
	if err != nil {
		return Result{}, err
	}
	txData := types.TxData{Kind: types.TxDataL2, Sender: sender, RawHash: rawHash, Payload: payload}
	return p.sequenceExecuteNotify(ctx, txData, verified)
}

// DryRunL2Tx runs spec.md §4.F step 5's dry run for a raw, unsigned L2
// call: decode, then execute against the current root without sequencing
// or persisting anything.
func (p *Processor) DryRunL2Tx(ctx context.Context, sender types.Address, rawHash types.Hash, payload []byte) (vmbridge.RawOutput, error) {
	call, unsignedSize, err := p.codec.DecodeL2Unsigned(payload)
	if err != nil {
		return vmbridge.RawOutput{}, kanarierr.Validation("pipeline.DryRunL2Tx", err)
	}
	return p.exec.DryRunL2Tx(ctx, sender, rawHash, call, unsignedSize)
}

// ExecuteL1Block runs spec.md §4.G's flow for an ingested L1 block.
func (p *Processor) ExecuteL1Block(ctx context.Context, rawHash types.Hash, payload []byte) (Result, error) {
	block, err := p.codec.DecodeL1Block(payload)
	if err != nil {
		return Result{}, kanarierr.Validation("pipeline.ExecuteL1Block", err)
	}
	verified, err := p.exec.ValidateL1Block(ctx, block)
	if err != nil {
		return Result{}, err
	}
	txData := types.TxData{Kind: types.TxDataL1Block, RawHash: rawHash, Payload: payload}
	return p.sequenceExecuteNotify(ctx, txData, verified)
}

// ExecuteL1Tx runs spec.md §4.G's flow for an ingested L1 transaction.
func (p *Processor) ExecuteL1Tx(ctx context.Context, rawHash types.Hash, payload []byte, bypassExecutedCheck bool) (Result, error) {
	tx, err := p.codec.DecodeL1Tx(payload)
	if err != nil {
		return Result{}, kanarierr.Validation("pipeline.ExecuteL1Tx", err)
	}
	verified, err := p.exec.ValidateL1Tx(ctx, tx, bypassExecutedCheck)
	if err != nil {
		return Result{}, err
	}
	txData := types.TxData{Kind: types.TxDataL1Tx, RawHash: rawHash, Payload: payload}
	return p.sequenceExecuteNotify(ctx, txData, verified)
}

// sequenceExecuteNotify implements steps 2-7 of spec.md §4.G: sequence,
// execute (which persists its own state-store commit, per SPEC_FULL.md
// module F), notify DA, and asynchronously fan out to the indexer.
func (p *Processor) sequenceExecuteNotify(ctx context.Context, txData types.TxData, verified vmbridge.VerifiedTransaction) (Result, error) {
	ledgerTx, err := p.seq.Sequence(ctx, txData)
	if err != nil {
		return Result{}, err
	}

	info, set, err := p.exec.Execute(ctx, ledgerTx, verified)
	if err != nil {
		return Result{}, err
	}

	if err := p.da.AppendTxOrder(ctx, ledgerTx.SequenceInfo.TxOrder); err != nil {
		return Result{}, kanarierr.Remote("pipeline.sequenceExecuteNotify", err)
	}

	p.fanOutToIndexer(ledgerTx, info, set)
	return Result{Tx: ledgerTx, Info: info, Set: set}, nil
}

// fanOutToIndexer schedules the indexer mirror on the fan-out group,
// per spec.md §4.G step 7 ("asynchronously fan out to the indexer").
func (p *Processor) fanOutToIndexer(tx types.LedgerTransaction, info types.TransactionExecutionInfo, set types.StateChangeSet) {
	p.fanout.Go(func() error {
		if err := p.indexer.IndexTransaction(p.fanoutCx, tx, info, set); err != nil {
			p.log.WithError(err).WithField("tx_order", tx.SequenceInfo.TxOrder).Warn("indexer fan-out failed")
		}
		return nil
	})
}

// ProcessSequencedTxOnStartup implements spec.md §4.G's startup
// reconciliation: if the sequencer is ahead of the executor's last
// executed order, replay the gap. Replay re-validates each stored tx from
// its own payload rather than trusting anything computed before the crash.
func (p *Processor) ProcessSequencedTxOnStartup(ctx context.Context, lastExecutedOrder uint64) error {
	lastSequencedOrder := p.seq.LastOrder()
	if lastSequencedOrder <= lastExecutedOrder {
		// Behind or caught up: any extra execution info belongs to a tx
		// that was recovered or reverted earlier and is simply unreachable
		// now. Nothing to replay.
		return nil
	}
	for order := lastExecutedOrder + 1; order <= lastSequencedOrder; order++ {
		hash, err := p.txStore.GetTxHashByOrder(order)
		if err != nil {
			return kanarierr.Storage("pipeline.ProcessSequencedTxOnStartup", err)
		}
		if hash == nil {
			return kanarierr.Consistency("pipeline.ProcessSequencedTxOnStartup", fmt.Errorf("no tx hash recorded for sequenced order %d", order))
		}
		ledgerTx, err := p.txStore.GetTransactionByHash(*hash)
		if err != nil {
			return kanarierr.Storage("pipeline.ProcessSequencedTxOnStartup", err)
		}
		if ledgerTx == nil {
			return kanarierr.Consistency("pipeline.ProcessSequencedTxOnStartup", fmt.Errorf("no tx recorded for hash %s at order %d", hash, order))
		}
		if err := p.reprocess(ctx, *ledgerTx); err != nil {
			return err
		}
	}
	return nil
}

// reprocess re-validates and re-executes an already-sequenced transaction
// recovered from the store.
func (p *Processor) reprocess(ctx context.Context, ledgerTx types.LedgerTransaction) error {
	var verified vmbridge.VerifiedTransaction
	var err error
	switch ledgerTx.Data.Kind {
	case types.TxDataL2:
		txCtx, authenticator, decodeErr := p.codec.DecodeL2(ledgerTx.Data.Payload)
		if decodeErr != nil {
			return kanarierr.Validation("pipeline.reprocess", decodeErr)
		}
		verified, err = p.exec.ValidateL2Tx(ctx, txCtx, authenticator)
	case types.TxDataL1Block:
		block, decodeErr := p.codec.DecodeL1Block(ledgerTx.Data.Payload)
		if decodeErr != nil {
			return kanarierr.Validation("pipeline.reprocess", decodeErr)
		}
		verified, err = p.exec.ValidateL1Block(ctx, block)
	case types.TxDataL1Tx:
		l1tx, decodeErr := p.codec.DecodeL1Tx(ledgerTx.Data.Payload)
		if decodeErr != nil {
			return kanarierr.Validation("pipeline.reprocess", decodeErr)
		}
		verified, err = p.exec.ValidateL1Tx(ctx, l1tx, true)
	default:
		return kanarierr.Consistency("pipeline.reprocess", fmt.Errorf("unknown tx data kind %d", ledgerTx.Data.Kind))
	}
	if err != nil {
		return err
	}

	info, set, err := p.exec.Execute(ctx, ledgerTx, verified)
	if err != nil {
		return err
	}
	if err := p.da.AppendTxOrder(ctx, ledgerTx.SequenceInfo.TxOrder); err != nil {
		return kanarierr.Remote("pipeline.reprocess", err)
	}
	p.fanOutToIndexer(ledgerTx, info, set)
	return nil
}
