// Package memdb is the reference kv.Store engine: an in-memory column
// family map backed by an append-only write-ahead log so sync=true writes
// are durable and a restart replays exactly the committed batches. A real
// deployment would swap this for an embedded engine (rocksdb/pebble) behind
// the same kv.Store interface; this package mirrors the teacher's
// WAL-replay pattern in core/ledger.go (NewLedger/OpenLedger).
package memdb

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/kanari-network/kanarinode/internal/kv"
)

// walRecord is one durable write-batch entry.
type walRecord struct {
	Rows []kv.Row `json:"rows"`
}

// DB is the in-memory, WAL-backed kv.Store.
type DB struct {
	mu   sync.RWMutex
	cfs  map[string]map[string][]byte
	wal  *os.File
	path string
}

// Open creates or reopens a database at walPath, replaying any existing WAL
// contents before returning.
func Open(walPath string) (*DB, error) {
	f, err := os.OpenFile(walPath, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("memdb: open wal: %w", err)
	}
	db := &DB{
		cfs:  make(map[string]map[string][]byte),
		wal:  f,
		path: walPath,
	}
	if err := db.replay(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return db, nil
}

// OpenEphemeral creates an in-memory-only database with no WAL, useful for
// tests and dry runs.
func OpenEphemeral() *DB {
	return &DB{cfs: make(map[string]map[string][]byte)}
}

func (db *DB) replay() error {
	if _, err := db.wal.Seek(0, 0); err != nil {
		return fmt.Errorf("memdb: seek wal: %w", err)
	}
	scanner := bufio.NewScanner(db.wal)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		var rec walRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("%w: wal unmarshal: %v", kv.ErrCorruption, err)
		}
		db.applyRows(rec.Rows)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("%w: wal scan: %v", kv.ErrCorruption, err)
	}
	if _, err := db.wal.Seek(0, 2); err != nil {
		return fmt.Errorf("memdb: seek wal end: %w", err)
	}
	return nil
}

func (db *DB) cf(name string) map[string][]byte {
	m, ok := db.cfs[name]
	if !ok {
		m = make(map[string][]byte)
		db.cfs[name] = m
	}
	return m
}

func (db *DB) applyRows(rows []kv.Row) {
	for _, r := range rows {
		m := db.cf(r.CF)
		switch r.Kind {
		case kv.OpPut:
			m[string(r.Key)] = append([]byte(nil), r.Value...)
		case kv.OpDelete:
			delete(m, string(r.Key))
		}
	}
}

// Put implements kv.Store.
func (db *DB) Put(cf string, key, value []byte) error {
	b := &kv.WriteBatch{}
	b.Put(cf, key, value)
	return db.WriteBatchAcrossCFs([]string{cf}, b, false)
}

// Delete implements kv.Store.
func (db *DB) Delete(cf string, key []byte) error {
	b := &kv.WriteBatch{}
	b.Delete(cf, key)
	return db.WriteBatchAcrossCFs([]string{cf}, b, false)
}

// Get implements kv.Store.
func (db *DB) Get(cf string, key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	m, ok := db.cfs[cf]
	if !ok {
		return nil, kv.ErrNotFound
	}
	v, ok := m[string(key)]
	if !ok {
		return nil, kv.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

// MultiGet implements kv.Store.
func (db *DB) MultiGet(cf string, keys [][]byte) ([][]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	out := make([][]byte, len(keys))
	m := db.cfs[cf]
	for i, k := range keys {
		if m == nil {
			continue
		}
		if v, ok := m[string(k)]; ok {
			out[i] = append([]byte(nil), v...)
		}
	}
	return out, nil
}

// WriteBatchAcrossCFs implements kv.Store. The batch is applied to the
// in-memory maps and, if a WAL is attached, appended and (when sync is
// true) fsynced before returning — matching the "no partial visibility
// between CFs" and "durable before returning" contract.
func (db *DB) WriteBatchAcrossCFs(cfs []string, batch *kv.WriteBatch, sync bool) error {
	if batch == nil || len(batch.Rows) == 0 {
		return nil
	}
	for _, r := range batch.Rows {
		if r.CF == "" {
			return fmt.Errorf("%w: empty column family", kv.ErrInvalidArgument)
		}
	}
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.wal != nil {
		rec := walRecord{Rows: batch.Rows}
		line, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("%w: marshal batch: %v", kv.ErrIO, err)
		}
		line = append(line, '\n')
		if _, err := db.wal.Write(line); err != nil {
			return fmt.Errorf("%w: write wal: %v", kv.ErrIO, err)
		}
		if sync {
			if err := db.wal.Sync(); err != nil {
				return fmt.Errorf("%w: sync wal: %v", kv.ErrIO, err)
			}
		}
	}

	db.applyRows(batch.Rows)
	return nil
}

// Close implements kv.Store.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.wal != nil {
		return db.wal.Close()
	}
	return nil
}

// Iterator implements kv.Store.
func (db *DB) Iterator(cf string, dir kv.Direction, prefix []byte) (kv.Iterator, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	m := db.cfs[cf]
	keys := make([]string, 0, len(m))
	for k := range m {
		if len(prefix) == 0 || (len(k) >= len(prefix) && k[:len(prefix)] == string(prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if dir == kv.Backward {
		for i, j := 0, len(keys)-1; i < j; i, j = i+1, j-1 {
			keys[i], keys[j] = keys[j], keys[i]
		}
	}
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = append([]byte(nil), m[k]...)
	}
	return &sliceIterator{keys: keys, values: values}, nil
}

type sliceIterator struct {
	keys   []string
	values [][]byte
	pos    int
}

func (it *sliceIterator) Valid() bool { return it.pos < len(it.keys) }
func (it *sliceIterator) Next()       { it.pos++ }
func (it *sliceIterator) Key() []byte { return []byte(it.keys[it.pos]) }
func (it *sliceIterator) Value() []byte {
	return it.values[it.pos]
}
func (it *sliceIterator) Close() error { return nil }

var _ kv.Store = (*DB)(nil)
