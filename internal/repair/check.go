package repair

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kanari-network/kanarinode/internal/types"
)

// Report is the combined outcome of a consistency pass: how many problems
// were found, and (when exec was requested) how many were fixed.
type Report struct {
	Issues int
	Fixed  int
}

// Repair runs the DA meta-store repair and, when thorough, the
// execution-info contiguity check, mirroring the original's top-level
// repair() combining kanari_store.repair with check_moveos_store_thorough.
// daMinBlockToSubmit, fastFail and syncMode are forwarded to
// da.MetaStore.TryRepairDAMeta unchanged.
func (s *Store) Repair(ctx context.Context, thorough, fastFail, syncMode bool, daMinBlockToSubmit *uint64) (Report, error) {
	seqInfo, err := s.meta.GetSequencerInfo()
	if err != nil {
		return Report{}, err
	}
	var lastOrder uint64
	if seqInfo != nil {
		lastOrder = seqInfo.LastOrder
	}

	daIssues, daFixed, err := s.da.TryRepairDAMeta(lastOrder, thorough, daMinBlockToSubmit, fastFail, syncMode)
	if err != nil {
		return Report{}, err
	}
	report := Report{Issues: daIssues, Fixed: daFixed}

	if thorough {
		if err := s.checkExecutionContiguity(lastOrder); err != nil {
			report.Issues++
			zap.L().Sugar().Errorw("execution info contiguity check failed", "error", err)
		}
	}

	if report.Issues > 0 && s.notifier != nil {
		s.notifier.PublishServiceStatus(types.ServiceMaintenance, fmt.Sprintf("repair found %d issue(s)", report.Issues))
	}
	return report, nil
}

// checkExecutionContiguity walks backward from lastOrder to find the
// highest tx_order with execution info, then forward over that range
// confirming there is no gap, per check_moveos_store_thorough. It also
// logs (but does not fail on) orders missing a state change set, matching
// check_changeset_store's lenient warning-only behavior.
func (s *Store) checkExecutionContiguity(lastOrder uint64) error {
	if lastOrder == 0 {
		return nil
	}

	var lastExecuted uint64
	for order := lastOrder; order >= 1; order-- {
		hash, err := s.txs.GetTxHashByOrder(order)
		if err != nil {
			return err
		}
		if hash == nil {
			return fmt.Errorf("repair: tx hash not found for order %d, database is inconsistent", order)
		}
		info, err := s.txs.GetExecutionInfo(*hash)
		if err != nil {
			return err
		}
		if info != nil {
			lastExecuted = order
			break
		}
		if order == 1 {
			break
		}
	}

	missingChangeSets := 0
	for order := uint64(1); order <= lastExecuted; order++ {
		hash, err := s.txs.GetTxHashByOrder(order)
		if err != nil {
			return err
		}
		if hash == nil {
			return fmt.Errorf("repair: tx hash not found for order %d, database is inconsistent", order)
		}
		info, err := s.txs.GetExecutionInfo(*hash)
		if err != nil {
			return err
		}
		if info == nil {
			return fmt.Errorf("repair: execution info not found for order %d, database is inconsistent", order)
		}
		set, err := s.txs.GetStateChangeSet(order)
		if err != nil {
			return err
		}
		if set == nil {
			missingChangeSets++
		}
	}
	if missingChangeSets > 0 {
		zap.L().Sugar().Warnw("state change set not found for some orders", "count", missingChangeSets, "up_to_order", lastExecuted)
	}
	return nil
}
