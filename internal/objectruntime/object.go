// Package objectruntime implements spec.md §4.D: the in-transaction
// object/state runtime that turns a VM's raw field reads/writes on typed
// objects into a deterministic ObjectChange tree, enforcing the borrow and
// move-to/move-from rules along the way. Grounded on
// _examples/original_source/moveos/moveos-object-runtime/src/runtime_object.rs.
package objectruntime

import (
	"fmt"

	"github.com/kanari-network/kanarinode/internal/types"
)

// FieldResolver fetches one child object's persisted state given the
// parent's state root and the field key, returning (nil, nil) when absent.
// The node's implementation (internal/store's NewFieldResolver) reads the
// latest persisted state from the flat object-state column family keyed by
// the child's ObjectID.Hash(), without consulting stateRoot.
type FieldResolver interface {
	GetField(stateRoot types.Hash, key types.FieldKey) (*types.ObjectState, error)
}

// RuntimeObject is a single object's in-memory working copy for the
// duration of one transaction: its value slot, its Object<T> pointer, and
// any child fields loaded lazily on access.
type RuntimeObject struct {
	meta      types.ObjectMeta
	metaInit  bool
	metaDirty bool

	value   *valueBox
	pointer *objectPointer
	fields  map[types.FieldKey]*RuntimeObject
}

// None constructs a RuntimeObject for an id that does not currently exist.
func None(id types.ObjectID) *RuntimeObject {
	return &RuntimeObject{
		meta:    types.ObjectMeta{ID: id},
		value:   newNoneValue(),
		pointer: newNonePointer(),
		fields:  make(map[types.FieldKey]*RuntimeObject),
	}
}

// Load constructs a RuntimeObject from a previously persisted state. An
// embedded object has no standalone pointer: it can only be reached through
// its owner's field, mirroring the original's "make the object pointer
// none" rule so no one can borrow it directly.
func Load(state types.ObjectState) *RuntimeObject {
	var ptr *objectPointer
	if state.Metadata.Embedded {
		ptr = newNonePointer()
	} else {
		ptr = newPresentPointer()
	}
	return &RuntimeObject{
		meta:     state.Metadata,
		metaInit: true,
		value:    newCachedValue(state.Value),
		pointer:  ptr,
		fields:   make(map[types.FieldKey]*RuntimeObject),
	}
}

// Fresh constructs a brand-new RuntimeObject created within this
// transaction, with no prior persisted state.
func Fresh(meta types.ObjectMeta, value []byte) *RuntimeObject {
	ro := &RuntimeObject{
		meta:     meta,
		metaInit: true,
		value:    newNoneValue(),
		pointer:  newPresentPointer(),
		fields:   make(map[types.FieldKey]*RuntimeObject),
	}
	_ = ro.value.moveTo(value)
	return ro
}

// IsNone reports whether this slot was never populated — no value was ever
// moved in and no persisted state was ever loaded.
func (ro *RuntimeObject) IsNone() bool { return !ro.metaInit }

// ID returns the object's id.
func (ro *RuntimeObject) ID() types.ObjectID { return ro.meta.ID }

// Metadata returns a snapshot of the object's current metadata.
func (ro *RuntimeObject) Metadata() types.ObjectMeta { return ro.meta }

// Exists reports whether the object currently has a value.
func (ro *RuntimeObject) Exists() bool { return ro.value.exists() }

// MoveTo installs value as the object's new content, initializing metadata
// for a never-before-seen id. Fails with ErrAlreadyExists if a value is
// already present.
func (ro *RuntimeObject) MoveTo(owner types.Address, objType types.ObjectType, value []byte, timestampMs uint64) error {
	if ro.value.exists() {
		return fmt.Errorf("object %x: %w", ro.meta.ID.Hash(), ErrAlreadyExists)
	}
	if !ro.metaInit {
		ro.meta = types.NewObjectMeta(ro.meta.ID, owner, objType, timestampMs)
		ro.metaInit = true
	}
	ro.pointer.init()
	return ro.value.moveTo(value)
}

// BorrowValue returns the object's current value without consuming it.
func (ro *RuntimeObject) BorrowValue() ([]byte, error) {
	return ro.value.borrow()
}

// SetValue replaces the object's value in place.
func (ro *RuntimeObject) SetValue(value []byte) error {
	return ro.value.set(value)
}

// MoveFrom removes the object's value, marking it deleted.
func (ro *RuntimeObject) MoveFrom() ([]byte, error) {
	return ro.value.moveFrom()
}

// BorrowObject acquires the single outstanding borrow on the object
// pointer. The value must exist (ErrNotFound otherwise); the pointer must
// be present and not already borrowed or taken out.
func (ro *RuntimeObject) BorrowObject() error {
	if !ro.value.exists() {
		return fmt.Errorf("object %x: %w", ro.meta.ID.Hash(), ErrNotFound)
	}
	return ro.pointer.borrow()
}

// ReleaseObject releases a borrow acquired via BorrowObject.
func (ro *RuntimeObject) ReleaseObject() { ro.pointer.release() }

// TakeObject removes the object pointer entirely, e.g. to embed this
// object as a field value elsewhere.
func (ro *RuntimeObject) TakeObject() error {
	return ro.pointer.take()
}

// ReturnObject reinstates a taken-out pointer under newOwner, used by
// transfer/share/freeze operations. A loaded embedded object, which has no
// pointer of its own, is returned the same way: it gets its pointer back
// and is no longer marked embedded.
func (ro *RuntimeObject) ReturnObject(newOwner types.Address) error {
	if ro.meta.Embedded && ro.pointer.kind == pointerNone && ro.value.exists() {
		ro.pointer.kind = pointerTakenOut
		ro.meta.Embedded = false
		ro.metaDirty = true
	}
	if err := ro.pointer.returnPointer(); err != nil {
		return err
	}
	if ro.meta.Owner != newOwner {
		ro.meta.Owner = newOwner
		ro.metaDirty = true
	}
	return nil
}

// LoadField returns the child RuntimeObject for key, fetching it from
// resolver on first access and caching it for the remainder of the
// transaction. A field with no persisted state loads as a None object.
func (ro *RuntimeObject) LoadField(resolver FieldResolver, key types.FieldKey) (*RuntimeObject, error) {
	if existing, ok := ro.fields[key]; ok {
		return existing, nil
	}
	fieldID := ro.meta.ID.ChildID(key)
	state, err := resolver.GetField(ro.meta.StateRoot, key)
	if err != nil {
		return nil, fmt.Errorf("objectruntime: load field %x: %w", fieldID.Hash(), err)
	}
	var child *RuntimeObject
	if state != nil {
		child = Load(*state)
	} else {
		child = None(fieldID)
	}
	ro.fields[key] = child
	return child, nil
}

// AddField creates a new child field and marks this object's size as
// increased.
func (ro *RuntimeObject) AddField(resolver FieldResolver, key types.FieldKey, owner types.Address, objType types.ObjectType, value []byte, timestampMs uint64) error {
	child, err := ro.LoadField(resolver, key)
	if err != nil {
		return err
	}
	if err := child.MoveTo(owner, objType, value, timestampMs); err != nil {
		return err
	}
	ro.meta.Size++
	ro.metaDirty = true
	return nil
}

// RemoveField deletes a child field's value and marks this object's size
// as decreased.
func (ro *RuntimeObject) RemoveField(resolver FieldResolver, key types.FieldKey) ([]byte, error) {
	child, err := ro.LoadField(resolver, key)
	if err != nil {
		return nil, err
	}
	value, err := child.MoveFrom()
	if err != nil {
		return nil, err
	}
	ro.meta.Size--
	ro.metaDirty = true
	return value, nil
}

// BorrowField returns a child field's current value.
func (ro *RuntimeObject) BorrowField(resolver FieldResolver, key types.FieldKey) ([]byte, error) {
	child, err := ro.LoadField(resolver, key)
	if err != nil {
		return nil, err
	}
	return child.BorrowValue()
}

// IntoChange extracts this object's ObjectChange, recursively including
// every loaded field, and returns nil if nothing changed. A value change
// bumps UpdatedAt; a pointer taken out without the value being deleted
// means the object was embedded elsewhere, which rewrites ownership to the
// system address; a returned pointer means a previously embedded object
// came back to standalone ownership (ReturnObject already rewrote the
// owner field itself).
func (ro *RuntimeObject) IntoChange(timestampMs uint64) (*types.ObjectChange, error) {
	valueOp, valueChanged := ro.value.intoOp()
	if valueChanged {
		ro.meta.Touch(timestampMs)
	}

	switch ro.pointer.intoEffect() {
	case pointerEffectTaken:
		if !(valueChanged && valueOp.Kind == types.OpDelete) {
			ro.meta.MarkEmbedded()
			ro.metaDirty = true
		}
	case pointerEffectReturned:
		// Ownership was already rewritten by ReturnObject; nothing further
		// to record here.
	}

	fieldsChange := make(map[types.FieldKey]types.ObjectChange, len(ro.fields))
	for key, field := range ro.fields {
		change, err := field.IntoChange(timestampMs)
		if err != nil {
			return nil, err
		}
		if change != nil {
			fieldsChange[key] = *change
		}
	}

	if !ro.metaInit {
		return nil, nil
	}
	if !ro.metaDirty && !valueChanged && len(fieldsChange) == 0 {
		return nil, nil
	}
	return &types.ObjectChange{Metadata: ro.meta, Value: valueOp, Fields: fieldsChange}, nil
}

// IntoFieldChanges extracts every loaded field's change without gating on
// ro's own metaInit/dirty state, for a synthetic container object (the
// global object tree's root) that is never itself persisted — only its
// fields are.
func (ro *RuntimeObject) IntoFieldChanges(timestampMs uint64) (map[types.FieldKey]types.ObjectChange, error) {
	fieldsChange := make(map[types.FieldKey]types.ObjectChange, len(ro.fields))
	for key, field := range ro.fields {
		change, err := field.IntoChange(timestampMs)
		if err != nil {
			return nil, err
		}
		if change != nil {
			fieldsChange[key] = *change
		}
	}
	return fieldsChange, nil
}
