package objectruntime

import "github.com/kanari-network/kanarinode/internal/types"

// valueKind is the lifecycle state of one object's payload for the
// duration of a transaction.
type valueKind uint8

const (
	valNone valueKind = iota
	valCached
	valFresh
	valDeleted
)

// valueBox tracks an object's value plus whether it has been touched this
// transaction, standing in for the original's MoveVM GlobalValue reference
// cell: there is no embedded interpreter here, so presence/dirtiness is
// tracked explicitly instead of inferred from a reference count.
type valueBox struct {
	kind  valueKind
	value []byte
	dirty bool
}

func newNoneValue() *valueBox { return &valueBox{kind: valNone} }

func newCachedValue(v []byte) *valueBox { return &valueBox{kind: valCached, value: v} }

func (v *valueBox) exists() bool { return v.kind == valCached || v.kind == valFresh }

func (v *valueBox) borrow() ([]byte, error) {
	if !v.exists() {
		return nil, ErrNotFound
	}
	return v.value, nil
}

func (v *valueBox) moveTo(value []byte) error {
	if v.exists() {
		return ErrAlreadyExists
	}
	v.kind = valFresh
	v.value = value
	v.dirty = true
	return nil
}

func (v *valueBox) set(value []byte) error {
	if !v.exists() {
		return ErrNotFound
	}
	v.value = value
	v.dirty = true
	return nil
}

func (v *valueBox) moveFrom() ([]byte, error) {
	if !v.exists() {
		return nil, ErrNotFound
	}
	old := v.value
	v.kind = valDeleted
	v.value = nil
	v.dirty = true
	return old, nil
}

// intoOp returns the Op this value box represents and whether anything
// changed; an untouched box reports no change regardless of its kind.
func (v *valueBox) intoOp() (types.Op, bool) {
	if !v.dirty {
		return types.Op{}, false
	}
	switch v.kind {
	case valFresh:
		return types.NewOp(v.value), true
	case valCached:
		return types.ModifyOp(v.value), true
	case valDeleted:
		return types.DeleteOp(), true
	default:
		return types.Op{}, false
	}
}
