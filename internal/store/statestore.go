package store

import (
	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/objectruntime"
	"github.com/kanari-network/kanarinode/internal/smt"
	"github.com/kanari-network/kanarinode/internal/store/codec"
	"github.com/kanari-network/kanarinode/internal/types"
)

// StateStore turns a VM's reported per-object effects into the
// authoritative committed state, per spec.md §4.G step 1: "applies all
// object changes through the SMT (bottom-up, child-before-parent)". The
// VM's ObjectChange tree is replayed through the object runtime (module D)
// first — against each touched object's actual last-persisted state — so
// that metadata bookkeeping spec.md §3 requires (updated_at nondecreasing,
// embedded objects owned by the system address) is computed here rather
// than trusted verbatim from the VM, then the corrected tree is committed
// into the SMT (module B) one flat tree keyed by each object's full
// ObjectID path hash.
type StateStore struct {
	tree    *smt.Tree
	objects *ObjectStore
}

// NewStateStore builds a StateStore reading/writing through nodeStore and
// the given object state store.
func NewStateStore(nodeStore *smt.Store, objects *ObjectStore) *StateStore {
	return &StateStore{tree: smt.NewTree(nodeStore), objects: objects}
}

// Commit replays the VM's reported changes through the object runtime,
// stages the resulting object states into batch, and commits every touched
// key through a single smt.Tree.PutAll so the SMT's own stale-node
// accounting (spec.md §4.B) sees the whole transaction's writes as one
// batch rather than as a loop of independent single-key puts that could
// never tell a superseded node from a node some other key in the same
// commit still points at. Returns the new global state root, every SMT
// node the commit created (for the caller to stage via
// smt.Store.StageNodes), and the stale set (for smt.Store.StageStale).
func (s *StateStore) Commit(root types.Hash, changes map[types.FieldKey]types.ObjectChange, batch *kv.WriteBatch, timestampMs uint64) (types.Hash, map[types.Hash]smt.Node, map[types.Hash]struct{}, error) {
	virtualRoot := objectruntime.None(types.RootObjectID())
	for key, change := range changes {
		if err := s.applyChange(virtualRoot, key, change, timestampMs); err != nil {
			return types.Hash{}, nil, nil, err
		}
	}
	corrected, err := virtualRoot.IntoFieldChanges(timestampMs)
	if err != nil {
		return types.Hash{}, nil, nil, err
	}

	var entries []smt.Entry
	for _, change := range corrected {
		if err := s.collectChange(change, batch, &entries); err != nil {
			return types.Hash{}, nil, nil, err
		}
	}

	newRoot, nodes, stale, err := s.tree.PutAll(root, entries)
	if err != nil {
		return types.Hash{}, nil, nil, err
	}
	return newRoot, nodes, stale, nil
}

// applyChange replays one reported change onto parent's corresponding
// field, recursing into any nested field changes before returning so the
// parent's own IntoChange sees every child's final state. New/deleted
// fields go through AddField/RemoveField so the parent's Size bookkeeping
// stays correct; a value-only change loads the field directly.
func (s *StateStore) applyChange(parent *objectruntime.RuntimeObject, key types.FieldKey, change types.ObjectChange, timestampMs uint64) error {
	resolver := NewFieldResolver(parent.ID(), s.objects)

	var child *objectruntime.RuntimeObject
	var err error
	switch change.Value.Kind {
	case types.OpNew:
		if err = parent.AddField(resolver, key, change.Metadata.Owner, change.Metadata.Type, change.Value.Value, timestampMs); err != nil {
			return err
		}
		child, err = parent.LoadField(resolver, key)
	case types.OpDelete:
		if _, err = parent.RemoveField(resolver, key); err != nil {
			return err
		}
		child, err = parent.LoadField(resolver, key)
	default:
		child, err = parent.LoadField(resolver, key)
		if err == nil && change.Value.Kind == types.OpModify {
			err = child.SetValue(change.Value.Value)
		}
	}
	if err != nil {
		return err
	}

	for fieldKey, fieldChange := range change.Fields {
		if err := s.applyChange(child, fieldKey, fieldChange, timestampMs); err != nil {
			return err
		}
	}
	return nil
}

// collectChange stages change's (and every descendant field's) full
// serialized ObjectState into the flat object store and appends the SMT
// entry committing it to entries, children before their parent (matching
// the order the object runtime itself settles them in, though the SMT
// write order has no bearing on the resulting root since every entry here
// is keyed by a distinct object ID). A change whose own value op is
// OpNone (only its Size/updated_at moved, from a child field add or
// remove) still needs to be committed: its current value bytes are read
// back from the object store to build the full state being re-hashed.
func (s *StateStore) collectChange(change types.ObjectChange, batch *kv.WriteBatch, entries *[]smt.Entry) error {
	for _, field := range change.Fields {
		if err := s.collectChange(field, batch, entries); err != nil {
			return err
		}
	}

	key := change.Metadata.ID.Hash()

	if change.Value.Kind == types.OpDelete {
		s.objects.Delete(batch, change.Metadata.ID)
		*entries = append(*entries, smt.Entry{Key: key, ValueHash: nil})
		return nil
	}

	value := change.Value.Value
	if change.Value.Kind == types.OpNone {
		prev, err := s.objects.Get(change.Metadata.ID)
		if err != nil {
			return err
		}
		if prev == nil {
			// Size bumped on an object with no value of its own yet (a pure
			// container whose field just appeared); nothing to commit at
			// this node, its children already collected above.
			return nil
		}
		value = prev.Value
	}

	state := types.ObjectState{Metadata: change.Metadata, Value: value}
	if err := s.objects.Put(batch, change.Metadata.ID, state); err != nil {
		return err
	}
	raw, err := codec.Marshal(state)
	if err != nil {
		return err
	}
	valueHash := types.HashBytes(raw)
	*entries = append(*entries, smt.Entry{Key: key, ValueHash: &valueHash})
	return nil
}
