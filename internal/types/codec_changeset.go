package types

import (
	"bytes"
	"sort"
)

// objectChangeWire is the RLP-encodable shape of ObjectChange: the map of
// child fields is flattened to a key-sorted slice since RLP has no native
// map support and Go map iteration order is not deterministic.
type objectChangeWire struct {
	Metadata ObjectMeta
	Value    Op
	Fields   []fieldChangeWire
}

type fieldChangeWire struct {
	Key    FieldKey
	Change objectChangeWire
}

func toWire(c ObjectChange) objectChangeWire {
	keys := make([]FieldKey, 0, len(c.Fields))
	for k := range c.Fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	fields := make([]fieldChangeWire, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fieldChangeWire{Key: k, Change: toWire(c.Fields[k])})
	}
	return objectChangeWire{Metadata: c.Metadata, Value: c.Value, Fields: fields}
}

func fromWire(w objectChangeWire) ObjectChange {
	var fields map[FieldKey]ObjectChange
	if len(w.Fields) > 0 {
		fields = make(map[FieldKey]ObjectChange, len(w.Fields))
		for _, f := range w.Fields {
			fields[f.Key] = fromWire(f.Change)
		}
	}
	return ObjectChange{Metadata: w.Metadata, Value: w.Value, Fields: fields}
}

// stateChangeSetWire is the RLP-encodable shape of StateChangeSet.
type stateChangeSetWire struct {
	StateRoot  Hash
	GlobalSize uint64
	Changes    []fieldChangeWire
}

// ToWire converts a StateChangeSet to its deterministic, RLP-encodable form.
func (s StateChangeSet) ToWire() WireStateChangeSet {
	keys := make([]FieldKey, 0, len(s.Changes))
	for k := range s.Changes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i][:], keys[j][:]) < 0 })
	changes := make([]fieldChangeWire, 0, len(keys))
	for _, k := range keys {
		changes = append(changes, fieldChangeWire{Key: k, Change: toWire(s.Changes[k])})
	}
	return WireStateChangeSet{StateRoot: s.StateRoot, GlobalSize: s.GlobalSize, Changes: changes}
}

// StateChangeSetFromWire reconstructs a StateChangeSet from a decoded wire
// value produced by ToWire.
func StateChangeSetFromWire(w WireStateChangeSet) StateChangeSet {
	var changes map[FieldKey]ObjectChange
	if len(w.Changes) > 0 {
		changes = make(map[FieldKey]ObjectChange, len(w.Changes))
		for _, f := range w.Changes {
			changes[f.Key] = fromWire(f.Change)
		}
	}
	return StateChangeSet{StateRoot: w.StateRoot, GlobalSize: w.GlobalSize, Changes: changes}
}

// WireStateChangeSet is the concrete RLP-encodable form of a StateChangeSet.
type WireStateChangeSet = stateChangeSetWire
