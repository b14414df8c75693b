package store

import (
	"errors"
	"fmt"

	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/objectruntime"
	"github.com/kanari-network/kanarinode/internal/store/codec"
	"github.com/kanari-network/kanarinode/internal/types"
)

// ObjectStore holds the latest persisted ObjectState for every object,
// flat-keyed by the object's full ObjectID path hash. The SMT
// (internal/smt) commits only value-hash commitments for authentication;
// this store holds the actual bytes a later transaction's field loads
// need, the same separation module A draws between a CF's committed keys
// and the content it points at.
type ObjectStore struct {
	kv kv.Store
}

// NewObjectStore wraps store.
func NewObjectStore(store kv.Store) *ObjectStore {
	return &ObjectStore{kv: store}
}

// Get returns the persisted state for id, or nil if it has never been
// written (or was deleted).
func (o *ObjectStore) Get(id types.ObjectID) (*types.ObjectState, error) {
	raw, err := o.kv.Get(CFObjectStates, id.Hash().Bytes())
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: get object %s: %w", id.Hash(), err)
	}
	var state types.ObjectState
	if err := codec.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("store: decode object %s: %w", id.Hash(), err)
	}
	return &state, nil
}

// Put stages a write of id's latest state into batch.
func (o *ObjectStore) Put(batch *kv.WriteBatch, id types.ObjectID, state types.ObjectState) error {
	raw, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("store: encode object %s: %w", id.Hash(), err)
	}
	batch.Put(CFObjectStates, id.Hash().Bytes(), raw)
	return nil
}

// Delete stages the removal of id's state into batch.
func (o *ObjectStore) Delete(batch *kv.WriteBatch, id types.ObjectID) {
	batch.Delete(CFObjectStates, id.Hash().Bytes())
}

// fieldResolver adapts ObjectStore to objectruntime.FieldResolver for one
// parent object: since this store is not version-snapshotted (module A
// exposes plain get/put, not historical reads by root), it always
// resolves against the latest persisted state rather than the state at a
// specific historical stateRoot — consistent with every other CF in this
// package and safe here because the executor applies one transaction at a
// time against the current root.
type fieldResolver struct {
	parent  types.ObjectID
	objects *ObjectStore
}

// NewFieldResolver builds the resolver LoadField on parent's RuntimeObject
// will use to fetch child field state.
func NewFieldResolver(parent types.ObjectID, objects *ObjectStore) objectruntime.FieldResolver {
	return fieldResolver{parent: parent, objects: objects}
}

func (r fieldResolver) GetField(stateRoot types.Hash, key types.FieldKey) (*types.ObjectState, error) {
	return r.objects.Get(r.parent.ChildID(key))
}
