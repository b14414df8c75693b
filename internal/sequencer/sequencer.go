// Package sequencer implements the single-writer sequencer from spec.md
// §4.E: it assigns strictly monotonic tx_order starting at 1, signs each
// order assignment, and maintains the transaction accumulator. Grounded on
// _examples/original_source/crates/kanari-sequencer/src/actor/sequencer.rs,
// with the actor's single-writer handler loop expressed as a Go goroutine
// draining a buffered request channel (spec.md §9 "Design Notes").
package sequencer

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kanari-network/kanarinode/internal/accumulator"
	"github.com/kanari-network/kanarinode/internal/kanarierr"
	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/store"
	"github.com/kanari-network/kanarinode/internal/types"
)

// ErrAlreadySequenced means the candidate tx hash has already been assigned
// an order.
var ErrAlreadySequenced = fmt.Errorf("sequencer: transaction already sequenced")

// ErrServiceStatus means the current service status rejects this tx.
var ErrServiceStatus = fmt.Errorf("sequencer: rejected by service status")

// request is one sequence call in flight, answered on result.
type request struct {
	ctx    context.Context
	txData types.TxData
	result chan response
}

type response struct {
	tx  types.LedgerTransaction
	err error
}

// statusUpdate is a service-status transition request, answered on done
// once applied on the worker goroutine.
type statusUpdate struct {
	status types.ServiceStatus
	done   chan struct{}
}

// Sequencer is the single-writer component assigning tx_order and signing
// each assignment. All mutation happens on the worker goroutine started by
// Run; Sequence is safe to call concurrently from any number of callers.
type Sequencer struct {
	kvStore       kv.Store
	metaStore     *store.MetaStore
	txStore       *store.TransactionStore
	leafStore     *store.KVLeafStore
	key           ed25519.PrivateKey
	sequencerAddr types.Address

	accumulator *accumulator.Tree

	lastInfo      types.SequencerInfo
	serviceStatus types.ServiceStatus

	requests      chan request
	statusUpdates chan statusUpdate
	log           *logrus.Entry
}

// New constructs a Sequencer from already-persisted genesis state. The
// chain must already be genesis-initialized: SequencerInfo must exist.
func New(kvStore kv.Store, key ed25519.PrivateKey, sequencerAddr types.Address, status types.ServiceStatus) (*Sequencer, error) {
	meta := store.NewMetaStore(kvStore)
	info, err := meta.GetSequencerInfo()
	if err != nil {
		return nil, kanarierr.Storage("sequencer.New", err)
	}
	if info == nil {
		return nil, kanarierr.Consistency("sequencer.New", fmt.Errorf("load sequencer info failed: chain not genesis-initialized"))
	}

	leafStore := store.NewKVLeafStore(kvStore)
	tree, err := accumulator.NewWithInfo(leafStore, info.LastAccumulatorInfo)
	if err != nil {
		return nil, kanarierr.Consistency("sequencer.New", err)
	}

	s := &Sequencer{
		kvStore:       kvStore,
		metaStore:     meta,
		txStore:       store.NewTransactionStore(kvStore),
		leafStore:     leafStore,
		key:           key,
		sequencerAddr: sequencerAddr,
		accumulator:   tree,
		lastInfo:      *info,
		serviceStatus: status,
		requests:      make(chan request, 64),
		statusUpdates: make(chan statusUpdate, 8),
		log:           logrus.WithField("component", "sequencer"),
	}
	s.log.WithFields(logrus.Fields{
		"last_order": info.LastOrder,
	}).Info("loaded sequencer info")
	return s, nil
}

// Run drains the request channel until ctx is canceled. It must run on its
// own goroutine; every mutation of Sequencer state happens here, which is
// what makes Sequence safe to call concurrently.
func (s *Sequencer) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.requests:
			tx, err := s.sequence(req.txData)
			select {
			case req.result <- response{tx: tx, err: err}:
			case <-req.ctx.Done():
			}
		case upd := <-s.statusUpdates:
			s.serviceStatus = upd.status
			s.log.WithField("service_status", upd.status).Info("service status updated")
			close(upd.done)
		}
	}
}

// Sequence submits txData to the sequencer's worker loop and blocks for the
// result. Safe for concurrent use.
func (s *Sequencer) Sequence(ctx context.Context, txData types.TxData) (types.LedgerTransaction, error) {
	req := request{ctx: ctx, txData: txData, result: make(chan response, 1)}
	select {
	case s.requests <- req:
	case <-ctx.Done():
		return types.LedgerTransaction{}, ctx.Err()
	}
	select {
	case resp := <-req.result:
		return resp.tx, resp.err
	case <-ctx.Done():
		return types.LedgerTransaction{}, ctx.Err()
	}
}

// LastOrder returns the most recently assigned tx order.
func (s *Sequencer) LastOrder() uint64 { return s.lastInfo.LastOrder }

// SetServiceStatus submits a service-status transition to the worker
// goroutine and blocks until it has been applied, preserving the
// single-writer invariant every other mutation of serviceStatus relies on.
// Safe for concurrent use; typically driven by the repair layer publishing
// through internal/pipeline's Bus (spec.md §9's one-way subscription
// pattern) rather than called directly by request-handling code.
func (s *Sequencer) SetServiceStatus(ctx context.Context, status types.ServiceStatus) error {
	upd := statusUpdate{status: status, done: make(chan struct{})}
	select {
	case s.statusUpdates <- upd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-upd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// checkServiceStatus applies spec.md §4.E step 1's acceptance rule.
func (s *Sequencer) checkServiceStatus(txData types.TxData) error {
	switch s.serviceStatus {
	case types.ServiceReadOnly:
		return fmt.Errorf("%w: service is read-only", ErrServiceStatus)
	case types.ServiceDataImport:
		if !txData.IsL1() {
			return fmt.Errorf("%w: service is in data-import mode, only l1 block/tx allowed", ErrServiceStatus)
		}
	case types.ServiceMaintenance:
		if txData.Sender != s.sequencerAddr {
			return fmt.Errorf("%w: service is in maintenance mode", ErrServiceStatus)
		}
	}
	return nil
}

// getNextTxOrder re-reads SequencerInfo from the store and forks the
// in-memory accumulator to it, since a pipeline revert can make
// s.lastInfo stale relative to the store without the sequencer having
// observed it directly.
func (s *Sequencer) getNextTxOrder() (uint64, error) {
	info, err := s.metaStore.GetSequencerInfo()
	if err != nil {
		return 0, kanarierr.Storage("sequencer.getNextTxOrder", err)
	}
	if info == nil {
		return 0, kanarierr.Consistency("sequencer.getNextTxOrder", fmt.Errorf("load sequencer info failed"))
	}
	s.lastInfo = *info
	if err := s.accumulator.Fork(info.LastAccumulatorInfo); err != nil {
		return 0, kanarierr.Consistency("sequencer.getNextTxOrder", err)
	}
	return s.lastInfo.LastOrder + 1, nil
}

// signOrder signs (tx_order, tx_hash) with the sequencer's key, per
// spec.md §4.E step 4.
func (s *Sequencer) signOrder(order uint64, hash types.Hash) []byte {
	msg := make([]byte, 8+types.HashSize)
	for i := 0; i < 8; i++ {
		msg[i] = byte(order >> (56 - 8*i))
	}
	copy(msg[8:], hash[:])
	return ed25519.Sign(s.key, msg)
}

// sequence implements the full spec.md §4.E operation. Only ever called
// from the worker goroutine started by Run.
func (s *Sequencer) sequence(txData types.TxData) (types.LedgerTransaction, error) {
	if err := s.checkServiceStatus(txData); err != nil {
		return types.LedgerTransaction{}, err
	}

	txHash := txData.TxHash()
	safe, err := s.txStore.IsSafeToSequence(txHash)
	if err != nil {
		return types.LedgerTransaction{}, kanarierr.Storage("sequencer.sequence", err)
	}
	if !safe {
		return types.LedgerTransaction{}, ErrAlreadySequenced
	}

	txOrder, err := s.getNextTxOrder()
	if err != nil {
		return types.LedgerTransaction{}, err
	}
	txTimestamp := uint64(time.Now().UnixMilli())
	signature := s.signOrder(txOrder, txHash)

	if _, err := s.accumulator.Append([]types.Hash{txHash}); err != nil {
		return types.LedgerTransaction{}, kanarierr.Consistency("sequencer.sequence", err)
	}
	unsaved := s.accumulator.PopUnsavedNodes()
	accInfo := s.accumulator.GetInfo()

	tx := types.LedgerTransaction{
		Data: txData,
		SequenceInfo: types.SequenceInfo{
			TxOrder:           txOrder,
			TxTimestampMs:     txTimestamp,
			TxOrderSignature:  signature,
			TxAccumulatorRoot: accInfo.Root,
			TxAccumulatorInfo: accInfo,
		},
	}
	sequencerInfo := types.SequencerInfo{LastOrder: txOrder, LastAccumulatorInfo: accInfo}

	if err := s.saveSequencedTx(tx, sequencerInfo, unsaved); err != nil {
		// Roll back the in-memory accumulator to the last known-good
		// persisted info and stop accepting ordinary traffic, per
		// spec.md §4.E step 7.
		if forkErr := s.accumulator.Fork(s.lastInfo.LastAccumulatorInfo); forkErr != nil {
			s.log.WithError(forkErr).Error("failed to fork accumulator back after save failure")
		}
		s.serviceStatus = types.ServiceMaintenance
		s.log.WithFields(logrus.Fields{
			"tx_order": txOrder,
			"tx_hash":  txHash,
		}).WithError(err).Error("failed to save sequenced tx, entering maintenance mode")
		return types.LedgerTransaction{}, kanarierr.Storage("sequencer.sequence", err)
	}

	s.accumulator.ClearAfterSave()
	s.lastInfo = sequencerInfo
	s.log.WithFields(logrus.Fields{
		"tx_order": txOrder,
		"tx_hash":  txHash,
	}).Info("sequenced transaction")
	return tx, nil
}

// saveSequencedTx performs spec.md §4.E step 6: one durable cross-CF batch
// covering the tx, the order/hash indices, the unsaved accumulator leaves,
// and the new sequencer info.
func (s *Sequencer) saveSequencedTx(tx types.LedgerTransaction, info types.SequencerInfo, unsaved []accumulator.UnsavedLeaf) error {
	batch := &kv.WriteBatch{}
	if err := store.StageTransaction(batch, tx); err != nil {
		return err
	}
	store.StageLeaves(batch, unsaved)
	if err := s.metaStore.PutSequencerInfo(batch, info); err != nil {
		return err
	}
	cfs := []string{store.CFTransactions, store.CFTxOrderToHash, store.CFAccumulatorLeaves, store.CFMetaSequencerInfo}
	return s.kvStore.WriteBatchAcrossCFs(cfs, batch, true)
}
