package indexer

import (
	"context"
	"fmt"
)

// RevertTransaction deletes every row this package indexed for txOrder,
// implementing repair.Indexer. Unlike the original's object-metadata
// inverse-replay (which re-resolves each reverted object's previous
// value at the prior state root), this store only ever derives rows
// from a single transaction's change set, so dropping that transaction's
// rows is sufficient — a full rebuild from the state_change_set column
// family (kept durably by internal/store) is always available if the
// derived store itself needs repair.
func (s *Store) RevertTransaction(ctx context.Context, txOrder uint64) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("indexer: begin revert: %w", err)
	}
	defer sqlTx.Rollback()

	for _, table := range []string{"transactions", "events", "object_states", "fields"} {
		if _, err := sqlTx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE tx_order = ?`, table), txOrder); err != nil {
			return fmt.Errorf("indexer: delete from %s for tx_order %d: %w", table, txOrder, err)
		}
	}
	return sqlTx.Commit()
}
