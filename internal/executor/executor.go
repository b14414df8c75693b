// Package executor implements the transaction execution boundary from
// spec.md §4.F: it turns a sequenced LedgerTransaction into a validated
// call against the pluggable VM (internal/vmbridge), then persists the
// resulting state change set and execution info. Grounded on
// _examples/original_source/crates/kanari-executor/src/actor/executor.rs.
package executor

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kanari-network/kanarinode/internal/kanarierr"
	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/smt"
	"github.com/kanari-network/kanarinode/internal/store"
	"github.com/kanari-network/kanarinode/internal/types"
	"github.com/kanari-network/kanarinode/internal/vmbridge"
)

// ErrL1TxAlreadyExecuted mirrors KanariError::L1TxAlreadyExecuted: an L1 tx
// the contract has already processed must not be replayed.
var ErrL1TxAlreadyExecuted = fmt.Errorf("executor: l1 transaction already executed")

// ErrUnsupportedChain mirrors the original's "Chain {} not supported yet".
var ErrUnsupportedChain = fmt.Errorf("executor: unsupported chain id")

// AuthPayloadSize approximates the not-yet-attached signature payload a
// dry run's caller-supplied unsigned tx size must still account for
// (validator id, signature, and recovery/pubkey bytes), mirroring the
// original's authenticator::AUTH_PAYLOAD_SIZE padding in
// convert_to_verified_tx_for_dry_run. A dry run never sees a real
// signature, so this is a fixed estimate rather than a measured length.
const AuthPayloadSize = 96

// GasUpgradeNotifier receives the gas-upgrade signal Execute observes, per
// spec.md §4.F step 3 ("publishes a GasUpgrade event so the executor and
// relayer reload gas parameters and native functions"). Defined here rather
// than accepted as internal/pipeline's Bus type directly since
// internal/pipeline already imports internal/executor.
type GasUpgradeNotifier interface {
	NotifyGasUpgrade(txHash, stateRoot types.Hash)
}

// Executor runs one transaction at a time against engine and persists its
// result. Unlike the sequencer it has no internal single-writer loop: the
// pipeline (module G) serializes calls into it by construction, since
// tx_order already fixes a total order.
type Executor struct {
	root       types.Hash
	engine     vmbridge.Engine
	kvStore    kv.Store
	txStore    *store.TransactionStore
	metaStore  *store.MetaStore
	smtStore   *smt.Store
	stateStore *store.StateStore
	metrics    *Metrics
	log        *logrus.Entry

	gasUpgradeNotifier GasUpgradeNotifier // nilable: Execute still runs, just skips the publish
}

// New constructs an Executor rooted at root, the current global state
// root. smtCacheSize bounds the SMT node store's LRU front cache
// (module B); 0 falls back to a small but functional default rather than
// failing, since a misconfigured cache size shouldn't be a boot-time
// fatal error.
func New(kvStore kv.Store, engine vmbridge.Engine, root types.Hash, metrics *Metrics, smtCacheSize int) (*Executor, error) {
	if smtCacheSize <= 0 {
		smtCacheSize = 4096
	}
	smtStore, err := smt.NewStore(kvStore, smtCacheSize)
	if err != nil {
		return nil, fmt.Errorf("executor: new smt store: %w", err)
	}
	objectStore := store.NewObjectStore(kvStore)
	return &Executor{
		root:       root,
		engine:     engine,
		kvStore:    kvStore,
		txStore:    store.NewTransactionStore(kvStore),
		metaStore:  store.NewMetaStore(kvStore),
		smtStore:   smtStore,
		stateStore: store.NewStateStore(smtStore, objectStore),
		metrics:    metrics,
		log:        logrus.WithField("component", "executor"),
	}, nil
}

// Root returns the state root the executor will validate/execute against
// next.
func (e *Executor) Root() types.Hash { return e.root }

// SetGasUpgradeNotifier wires n to receive gas-upgrade signals from future
// Execute calls. Passing nil (the default) disables the publish.
func (e *Executor) SetGasUpgradeNotifier(n GasUpgradeNotifier) {
	e.gasUpgradeNotifier = n
}

// ValidateL1Block builds the verified transaction for an ingested L1
// block: a system call, never passed through authenticator validation.
func (e *Executor) ValidateL1Block(ctx context.Context, block vmbridge.L1Block) (vmbridge.VerifiedTransaction, error) {
	timer := e.metrics.startValidate("validate_l1_block")
	defer timer()
	txCtx := vmbridge.TxContext{TxHash: l1BlockTxHash(block), TxSize: uint64(len(block.Body))}
	call, err := l1BlockCall(block)
	if err != nil {
		return vmbridge.VerifiedTransaction{}, err
	}
	return vmbridge.VerifiedTransaction{Root: e.root, Ctx: txCtx, Call: call, IsBlock: true}, nil
}

// ValidateL1Tx builds the verified transaction for an ingested L1
// transaction. When bypassExecutedCheck is false, it first confirms via a
// read-only call that the contract has not already executed this tx,
// since L1 data can be resubmitted during a DA replay.
func (e *Executor) ValidateL1Tx(ctx context.Context, tx vmbridge.L1Tx, bypassExecutedCheck bool) (vmbridge.VerifiedTransaction, error) {
	timer := e.metrics.startValidate("validate_l1_tx")
	defer timer()

	if !bypassExecutedCheck {
		readonlyCtx := vmbridge.TxContext{TxHash: tx.TxID}
		result, err := e.engine.CallReadonly(ctx, e.root, readonlyCtx, l1TxValidatorCall(tx))
		if err != nil {
			return vmbridge.VerifiedTransaction{}, kanarierr.VM("executor.ValidateL1Tx", err)
		}
		if !readonlyBool(result) {
			return vmbridge.VerifiedTransaction{}, ErrL1TxAlreadyExecuted
		}
	}

	txCtx := vmbridge.TxContext{TxHash: tx.TxID}
	return vmbridge.VerifiedTransaction{Root: e.root, Ctx: txCtx, Call: l1TxExecuteCall(tx)}, nil
}

// ValidateL2Tx runs authenticator validation for a user-submitted L2
// transaction and returns the resulting VerifiedTransaction.
func (e *Executor) ValidateL2Tx(ctx context.Context, txCtx vmbridge.TxContext, authenticator vmbridge.AuthenticatorInfo) (vmbridge.VerifiedTransaction, error) {
	timer := e.metrics.startValidate("validate_l2_tx")
	defer timer()

	verified, err := e.engine.ValidateAuthenticator(ctx, txCtx, authenticator)
	if err != nil {
		return vmbridge.VerifiedTransaction{}, kanarierr.VM("executor.ValidateL2Tx", err)
	}
	verified.Root = e.root
	return verified, nil
}

// Execute runs a verified transaction and persists its state change set,
// execution info, and the advanced startup info in one durable batch, per
// spec.md §4.F step 4.
func (e *Executor) Execute(ctx context.Context, tx types.LedgerTransaction, verified vmbridge.VerifiedTransaction) (types.TransactionExecutionInfo, types.StateChangeSet, error) {
	timer := e.metrics.startExecute("execute")
	defer timer()

	out, err := e.engine.Execute(ctx, verified)
	if err != nil {
		return types.TransactionExecutionInfo{}, types.StateChangeSet{}, kanarierr.VM("executor.Execute", err)
	}
	e.metrics.observeBytes("execute", verified.Ctx.TxSize)

	batch := &kv.WriteBatch{}
	newRoot, smtNodes, staleNodes, err := e.stateStore.Commit(e.root, out.ChangeSet.Changes, batch, tx.SequenceInfo.TxTimestampMs)
	if err != nil {
		return types.TransactionExecutionInfo{}, types.StateChangeSet{}, kanarierr.Storage("executor.Execute", err)
	}
	changeSet := out.ChangeSet
	changeSet.StateRoot = newRoot

	txHash := tx.TxHash()
	info := types.TransactionExecutionInfo{
		TxHash:    txHash,
		StateRoot: newRoot,
		Size:      verified.Ctx.TxSize,
		EventRoot: out.EventRoot,
		GasUsed:   out.GasUsed,
		Status:    out.Status,
	}

	if err := e.saveExecutionResult(batch, tx.SequenceInfo.TxOrder, info, changeSet, smtNodes, staleNodes); err != nil {
		return types.TransactionExecutionInfo{}, types.StateChangeSet{}, err
	}
	e.root = newRoot
	if out.IsGasUpgrade {
		e.log.WithField("tx_hash", txHash).Info("gas parameters upgraded, engine should reload framework natives")
		if e.gasUpgradeNotifier != nil {
			e.gasUpgradeNotifier.NotifyGasUpgrade(txHash, newRoot)
		}
	}
	return info, changeSet, nil
}

// DryRun executes verified against the current root without persisting
// anything, per spec.md §4.F step 5.
func (e *Executor) DryRun(ctx context.Context, verified vmbridge.VerifiedTransaction) (vmbridge.RawOutput, error) {
	timer := e.metrics.startExecute("dry_run")
	defer timer()
	out, err := e.engine.Execute(ctx, verified)
	if err != nil {
		return vmbridge.RawOutput{}, kanarierr.VM("executor.DryRun", err)
	}
	return out, nil
}

// DryRunL2Tx builds a dummy-authenticated VerifiedTransaction from raw,
// unsigned L2 call data and runs it through DryRun, per spec.md §4.F step
// 5 and the original's convert_to_verified_tx_for_dry_run: unlike
// ValidateL2Tx, it never calls Engine.ValidateAuthenticator (there is no
// signature to validate yet), it just synthesizes the context a validated
// transaction would have had and executes against it. unsignedSize is the
// caller's tx size before accounting for the signature payload that would
// normally be attached.
func (e *Executor) DryRunL2Tx(ctx context.Context, sender types.Address, rawHash types.Hash, call vmbridge.FunctionCall, unsignedSize uint64) (vmbridge.RawOutput, error) {
	txCtx := vmbridge.TxContext{
		TxHash: rawHash,
		TxSize: unsignedSize + AuthPayloadSize,
		Sender: sender,
	}
	verified := vmbridge.VerifiedTransaction{Root: e.root, Ctx: txCtx, Call: call}
	return e.DryRun(ctx, verified)
}

// CallReadonlyFunction invokes a read-only entry function against the
// current root without going through sequencing or persistence.
func (e *Executor) CallReadonlyFunction(ctx context.Context, txCtx vmbridge.TxContext, call vmbridge.FunctionCall) (vmbridge.FunctionResult, error) {
	res, err := e.engine.CallReadonly(ctx, e.root, txCtx, call)
	if err != nil {
		return vmbridge.FunctionResult{}, kanarierr.VM("executor.CallReadonlyFunction", err)
	}
	return res, nil
}

// saveExecutionResult performs spec.md §4.F step 4's save: the object
// states, newly-created SMT nodes, and the set of SMT nodes the commit
// retired, plus execution info, the state change set, and the advanced
// StartupInfo, all in one cross-CF batch.
func (e *Executor) saveExecutionResult(batch *kv.WriteBatch, order uint64, info types.TransactionExecutionInfo, set types.StateChangeSet, smtNodes map[types.Hash]smt.Node, staleNodes map[types.Hash]struct{}) error {
	if err := e.smtStore.StageNodes(batch, smtNodes); err != nil {
		return kanarierr.Storage("executor.saveExecutionResult", err)
	}
	if err := e.smtStore.StageStale(batch, set.StateRoot, staleNodes); err != nil {
		return kanarierr.Storage("executor.saveExecutionResult", err)
	}
	if err := store.StageExecutionInfo(batch, info); err != nil {
		return kanarierr.Storage("executor.saveExecutionResult", err)
	}
	if err := store.StageStateChangeSet(batch, order, set); err != nil {
		return kanarierr.Storage("executor.saveExecutionResult", err)
	}
	if err := e.metaStore.PutStartupInfo(batch, types.StartupInfo{StateRoot: set.StateRoot, Size: set.GlobalSize}); err != nil {
		return kanarierr.Storage("executor.saveExecutionResult", err)
	}
	cfs := []string{store.CFObjectStates, smt.NodesCF, smt.StaleCF, store.CFTxExecutionInfo, store.CFStateChangeSet, store.CFConfigStartupInfo}
	if err := e.kvStore.WriteBatchAcrossCFs(cfs, batch, true); err != nil {
		return kanarierr.Storage("executor.saveExecutionResult", err)
	}
	return nil
}
