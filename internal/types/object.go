package types

import "crypto/sha256"

// Address identifies the sender/owner of an object or transaction. It mirrors
// the teacher's Address type: a fixed-width account identifier.
type Address [32]byte

// SystemAddress is the owner assigned to embedded objects.
var SystemAddress = Address{}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	out := make([]byte, len(a))
	copy(out, a[:])
	return out
}

// ObjectID is an ordered path of hashes. The empty path is the root object.
type ObjectID []Hash

// RootObjectID is the empty path, representing the global object tree root.
func RootObjectID() ObjectID { return ObjectID{} }

// ChildID appends one field key to the path, deriving the id of a child
// (field) object. parent(ChildID(o, k)) == o holds for the returned id.
func (o ObjectID) ChildID(fieldKey FieldKey) ObjectID {
	child := make(ObjectID, len(o)+1)
	copy(child, o)
	child[len(o)] = Hash(fieldKey)
	return child
}

// Parent returns the id with its last path element removed. Parent of the
// root id is the root id itself.
func (o ObjectID) Parent() ObjectID {
	if len(o) == 0 {
		return o
	}
	return o[:len(o)-1]
}

// IsRoot reports whether this id is the empty root path.
func (o ObjectID) IsRoot() bool { return len(o) == 0 }

// Hash derives a single 32-byte key from the full path, used as the SMT key
// for this object.
func (o ObjectID) Hash() Hash {
	h := sha256.New()
	for _, step := range o {
		h.Write(step[:])
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Equal reports whether two object ids name the same path.
func (o ObjectID) Equal(other ObjectID) bool {
	if len(o) != len(other) {
		return false
	}
	for i := range o {
		if o[i] != other[i] {
			return false
		}
	}
	return true
}

// FieldKey is a 32-byte key derived from a field's logical name/type. It is
// a pure function of the field descriptor, never of runtime state.
type FieldKey Hash

// DeriveFieldKey computes the FieldKey for a named, typed field.
func DeriveFieldKey(name, typeTag string) FieldKey {
	h := sha256.New()
	h.Write([]byte(typeTag))
	h.Write([]byte{0})
	h.Write([]byte(name))
	return FieldKey(HashFromBytes(h.Sum(nil)))
}

// ObjectType names the logical payload type stored in an object, e.g.
// "account", "coin_store", "table_field".
type ObjectType string

// ObjectMeta is the metadata envelope carried alongside every object's
// payload. Invariants: a fresh object has Size=0 and StateRoot=PlaceholderHash;
// UpdatedAt strictly nondecreases across mutations; an Embedded object has
// Owner == SystemAddress.
type ObjectMeta struct {
	ID        ObjectID   `json:"id"`
	Owner     Address    `json:"owner"`
	Flag      uint8      `json:"flag"`
	StateRoot Hash       `json:"state_root"`
	Size      uint64     `json:"size"`
	Type      ObjectType `json:"object_type"`
	CreatedAt uint64     `json:"created_at"`
	UpdatedAt uint64     `json:"updated_at"`
	Embedded  bool       `json:"embedded"`
}

// NewObjectMeta builds the metadata for a freshly created object.
func NewObjectMeta(id ObjectID, owner Address, typ ObjectType, timestampMs uint64) ObjectMeta {
	return ObjectMeta{
		ID:        id,
		Owner:     owner,
		StateRoot: PlaceholderHash,
		Type:      typ,
		CreatedAt: timestampMs,
		UpdatedAt: timestampMs,
	}
}

// Touch bumps UpdatedAt to timestampMs, enforcing the nondecreasing
// invariant; a timestamp older than the current one is ignored.
func (m *ObjectMeta) Touch(timestampMs uint64) {
	if timestampMs > m.UpdatedAt {
		m.UpdatedAt = timestampMs
	}
}

// MarkEmbedded rewrites ownership to the system address, per the "embedded
// object" rule: once a pointer is moved into another struct, the object's
// top-level owner becomes the system.
func (m *ObjectMeta) MarkEmbedded() {
	m.Owner = SystemAddress
	m.Embedded = true
}

// ObjectState pairs an object's metadata with its serialized payload.
type ObjectState struct {
	Metadata ObjectMeta `json:"metadata"`
	Value    []byte     `json:"value"`
}

// OpKind distinguishes the three shapes an ObjectChange's value can take.
type OpKind uint8

const (
	// OpNone means this change node carries no value mutation, only field changes.
	OpNone OpKind = iota
	OpNew
	OpModify
	OpDelete
)

// Op is the tagged value mutation carried at one node of an ObjectChange tree.
type Op struct {
	Kind  OpKind `json:"kind"`
	Value []byte `json:"value,omitempty"`
}

// NewOp builds a New(bytes) operation.
func NewOp(value []byte) Op { return Op{Kind: OpNew, Value: value} }

// ModifyOp builds a Modify(bytes) operation.
func ModifyOp(value []byte) Op { return Op{Kind: OpModify, Value: value} }

// DeleteOp builds a Delete operation.
func DeleteOp() Op { return Op{Kind: OpDelete} }

// ObjectChange is a recursive per-object delta: the metadata and value
// mutation at this node, plus a map of child field changes keyed by
// FieldKey.
type ObjectChange struct {
	Metadata ObjectMeta               `json:"metadata"`
	Value    Op                       `json:"value"`
	Fields   map[FieldKey]ObjectChange `json:"fields,omitempty"`
}

// IsEmpty reports whether this change carries no value mutation and no
// non-empty field changes — such nodes are omitted from a StateChangeSet.
func (c ObjectChange) IsEmpty() bool {
	if c.Value.Kind != OpNone {
		return false
	}
	for _, f := range c.Fields {
		if !f.IsEmpty() {
			return false
		}
	}
	return true
}

// StateChangeSet is the root-level delta produced by executing one
// transaction: the resulting global state root/size and the tree of
// per-object changes.
type StateChangeSet struct {
	StateRoot  Hash                      `json:"state_root"`
	GlobalSize uint64                    `json:"global_size"`
	Changes    map[FieldKey]ObjectChange `json:"changes"`
}

