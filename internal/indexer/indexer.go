// Package indexer implements the derived SQL-backed query store of
// spec.md §4.J: transactions/events/object_states/fields tables rebuilt
// from each transaction's state change set. Grounded on spec.md §4.J
// directly (the teacher and rest of the pack carry no SQL dependency, so
// this package is built against database/sql and the pure-Go
// modernc.org/sqlite driver per SPEC_FULL.md's domain-stack wiring).
package indexer

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	_ "modernc.org/sqlite"

	"github.com/kanari-network/kanarinode/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS transactions (
	tx_order    INTEGER PRIMARY KEY,
	tx_hash     BLOB NOT NULL,
	sender      BLOB NOT NULL,
	status      TEXT NOT NULL,
	gas_used    INTEGER NOT NULL,
	state_root  BLOB NOT NULL,
	event_root  BLOB NOT NULL,
	size        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
	tx_order   INTEGER PRIMARY KEY,
	event_root BLOB NOT NULL
);
CREATE TABLE IF NOT EXISTS object_states (
	tx_order    INTEGER NOT NULL,
	state_index INTEGER NOT NULL,
	object_id   BLOB NOT NULL,
	owner       BLOB NOT NULL,
	object_type TEXT NOT NULL,
	op          TEXT NOT NULL,
	value       BLOB,
	PRIMARY KEY (tx_order, state_index)
);
CREATE INDEX IF NOT EXISTS object_states_object_id ON object_states(object_id);
CREATE TABLE IF NOT EXISTS fields (
	tx_order         INTEGER NOT NULL,
	state_index      INTEGER NOT NULL,
	parent_object_id BLOB NOT NULL,
	field_key        BLOB NOT NULL,
	child_object_id  BLOB NOT NULL,
	PRIMARY KEY (tx_order, state_index)
);
CREATE INDEX IF NOT EXISTS fields_parent_object_id ON fields(parent_object_id);
`

// Store is the indexer's SQL-backed handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite-backed indexer at dsn, e.g.
// "file:indexer.db?cache=shared" or ":memory:".
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("indexer: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("indexer: create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// IndexTransaction writes the derived rows for one sequenced, executed
// transaction in a single SQL transaction; it implements
// pipeline.Indexer, so a failure here is the caller's to log and
// swallow — it must never roll back the upstream commit, per spec.md
// §4.J.
func (s *Store) IndexTransaction(ctx context.Context, tx types.LedgerTransaction, info types.TransactionExecutionInfo, set types.StateChangeSet) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("indexer: begin: %w", err)
	}
	defer sqlTx.Rollback()

	order := tx.SequenceInfo.TxOrder
	if _, err := sqlTx.ExecContext(ctx,
		`INSERT OR REPLACE INTO transactions (tx_order, tx_hash, sender, status, gas_used, state_root, event_root, size) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		order, tx.TxHash().Bytes(), tx.Data.Sender.Bytes(), string(info.Status), info.GasUsed, info.StateRoot.Bytes(), info.EventRoot.Bytes(), info.Size,
	); err != nil {
		return fmt.Errorf("indexer: insert transaction row: %w", err)
	}

	if _, err := sqlTx.ExecContext(ctx,
		`INSERT OR REPLACE INTO events (tx_order, event_root) VALUES (?, ?)`,
		order, info.EventRoot.Bytes(),
	); err != nil {
		return fmt.Errorf("indexer: insert event row: %w", err)
	}

	rows := flattenChanges(types.RootObjectID(), set.Changes)
	for i, row := range rows {
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT OR REPLACE INTO object_states (tx_order, state_index, object_id, owner, object_type, op, value) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			order, i, row.objectID.Hash().Bytes(), row.change.Metadata.Owner.Bytes(), string(row.change.Metadata.Type), opName(row.change.Value.Kind), nullableBytes(row.change.Value.Value),
		); err != nil {
			return fmt.Errorf("indexer: insert object_states row: %w", err)
		}
		if _, err := sqlTx.ExecContext(ctx,
			`INSERT OR REPLACE INTO fields (tx_order, state_index, parent_object_id, field_key, child_object_id) VALUES (?, ?, ?, ?, ?)`,
			order, i, row.parentID.Hash().Bytes(), types.Hash(row.fieldKey).Bytes(), row.objectID.Hash().Bytes(),
		); err != nil {
			return fmt.Errorf("indexer: insert fields row: %w", err)
		}
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("indexer: commit: %w", err)
	}
	return nil
}

// changeRow is one flattened node of a StateChangeSet's change tree.
type changeRow struct {
	parentID types.ObjectID
	fieldKey types.FieldKey
	objectID types.ObjectID
	change   types.ObjectChange
}

// flattenChanges walks the recursive ObjectChange tree depth-first,
// producing one row per node that carries a value mutation (New/Modify/
// Delete), in deterministic field-key order so state_index is stable
// across replays of the same change set.
func flattenChanges(parent types.ObjectID, changes map[types.FieldKey]types.ObjectChange) []changeRow {
	keys := make([]types.FieldKey, 0, len(changes))
	for k := range changes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return string(types.Hash(keys[i]).Bytes()) < string(types.Hash(keys[j]).Bytes())
	})

	var rows []changeRow
	for _, k := range keys {
		change := changes[k]
		id := parent.ChildID(k)
		if change.Value.Kind != types.OpNone {
			rows = append(rows, changeRow{parentID: parent, fieldKey: k, objectID: id, change: change})
		}
		rows = append(rows, flattenChanges(id, change.Fields)...)
	}
	return rows
}

func opName(kind types.OpKind) string {
	switch kind {
	case types.OpNew:
		return "new"
	case types.OpModify:
		return "modify"
	case types.OpDelete:
		return "delete"
	default:
		return "none"
	}
}

func nullableBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}
