package smt

import (
	"fmt"

	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/kv/memdb"
	"github.com/kanari-network/kanarinode/internal/types"
)

// maxDepth is the number of nibbles in a 256-bit key.
const maxDepth = types.HashSize * 2

// Tree is a stateless view over a Store: every mutation takes an explicit
// root hash and returns a new one, alongside the batch of newly created
// nodes for the caller to persist atomically.
type Tree struct {
	store *Store
}

// NewTree constructs a Tree reading through store.
func NewTree(store *Store) *Tree {
	return &Tree{store: store}
}

// Entry is one key/value write in a PutAll batch. A nil ValueHash deletes
// Key.
type Entry struct {
	Key       types.Hash
	ValueHash *types.Hash
}

// Put inserts or updates key to valueHash under root, or deletes it when
// valueHash is nil. It is PutAll specialized to a single entry.
func (t *Tree) Put(root types.Hash, key types.Hash, valueHash *types.Hash) (types.Hash, map[types.Hash]Node, map[types.Hash]struct{}, error) {
	return t.PutAll(root, []Entry{{Key: key, ValueHash: valueHash}})
}

// PutAll applies entries to root in order and returns the new root, the
// batch of newly created nodes the caller must persist (via
// Store.StageNodes), and the stale set: node hashes that were superseded by
// a write in this batch and are candidates for pruning, per spec.md §4.B's
// stale-node contract. The caller persists stale alongside node_batch and
// the rest of the commit, atomically, so a crash never leaves the node
// store and the stale index disagreeing about a node's liveness.
//
// Since nodes here are content-addressed (keyed by their own hash) rather
// than addressed by (version, path) the way the original jellyfish_merkle
// implementation does it, the same hash can legitimately reappear at a
// different tree position within the same PutAll (splitLeaf reinserts an
// untouched leaf one level deeper, unchanged). PutAll accounts for this by
// dropping anything from stale that also ends up in the returned node
// batch — a hash that is part of the new tree is never actually stale,
// whatever transient bookkeeping said along the way.
func (t *Tree) PutAll(root types.Hash, entries []Entry) (types.Hash, map[types.Hash]Node, map[types.Hash]struct{}, error) {
	batch := make(map[types.Hash]Node)
	stale := make(map[types.Hash]struct{})
	cur := root
	for _, e := range entries {
		newRoot, _, err := t.insertAt(cur, 0, e.Key, e.ValueHash, batch, stale)
		if err != nil {
			return types.Hash{}, nil, nil, err
		}
		cur = newRoot
	}
	for h := range batch {
		delete(stale, h)
	}
	return cur, batch, stale, nil
}

func (t *Tree) get(hash types.Hash, batch map[types.Hash]Node) (Node, bool, error) {
	if hash.IsZero() {
		return Node{}, false, nil
	}
	if n, ok := batch[hash]; ok {
		return n, true, nil
	}
	return t.store.GetNode(hash)
}

// insertAt marks nodeHash itself stale whenever the node occupying this
// position is replaced by a node with a different hash: every other
// staleness decision (collapses, leaf updates, deletes) reduces to exactly
// this comparison once the recursive call below it has settled.
func (t *Tree) insertAt(nodeHash types.Hash, depth int, key types.Hash, valueHash *types.Hash, batch map[types.Hash]Node, stale map[types.Hash]struct{}) (types.Hash, Node, error) {
	if depth > maxDepth {
		return types.Hash{}, Node{}, fmt.Errorf("smt: exceeded max depth at key %s", key)
	}
	if nodeHash.IsZero() {
		if valueHash == nil {
			return types.PlaceholderHash, Node{}, nil
		}
		leaf := &LeafNode{KeyHash: key, ValueHash: *valueHash}
		n := Node{Leaf: leaf}
		h := n.Hash()
		batch[h] = n
		return h, n, nil
	}

	node, ok, err := t.get(nodeHash, batch)
	if err != nil {
		return types.Hash{}, Node{}, err
	}
	if !ok {
		return types.Hash{}, Node{}, fmt.Errorf("smt: missing node %s", nodeHash)
	}

	var newHash types.Hash
	var newNode Node
	if node.IsLeaf() {
		newHash, newNode, err = t.insertAtLeaf(node.Leaf, depth, key, valueHash, batch)
	} else {
		newHash, newNode, err = t.insertAtInternal(node.Internal, depth, key, valueHash, batch, stale)
	}
	if err != nil {
		return types.Hash{}, Node{}, err
	}
	if newHash != nodeHash {
		stale[nodeHash] = struct{}{}
	}
	return newHash, newNode, nil
}

func (t *Tree) insertAtLeaf(leaf *LeafNode, depth int, key types.Hash, valueHash *types.Hash, batch map[types.Hash]Node) (types.Hash, Node, error) {
	if leaf.KeyHash == key {
		if valueHash == nil {
			return types.PlaceholderHash, Node{}, nil
		}
		if *valueHash == leaf.ValueHash {
			n := Node{Leaf: leaf}
			return n.Hash(), n, nil
		}
		newLeaf := &LeafNode{KeyHash: key, ValueHash: *valueHash}
		n := Node{Leaf: newLeaf}
		h := n.Hash()
		batch[h] = n
		return h, n, nil
	}

	// Different key sharing this path so far. A delete for an absent key is
	// a no-op; leave the existing leaf untouched.
	if valueHash == nil {
		n := Node{Leaf: leaf}
		return n.Hash(), n, nil
	}
	return t.splitLeaf(leaf, depth, key, *valueHash, batch)
}

// splitLeaf replaces a single leaf with a chain of internal nodes wherever
// the existing and incoming keys share nibbles, bottoming out in an
// internal node with both leaves as direct children once the nibbles
// diverge.
func (t *Tree) splitLeaf(existing *LeafNode, depth int, newKey types.Hash, newValueHash types.Hash, batch map[types.Hash]Node) (types.Hash, Node, error) {
	if depth > maxDepth {
		return types.Hash{}, Node{}, fmt.Errorf("smt: key hash collision splitting leaf at max depth")
	}
	existingNibble := existing.KeyHash.Nibble(depth)
	newNibble := newKey.Nibble(depth)

	if existingNibble == newNibble {
		childHash, childNode, err := t.splitLeaf(existing, depth+1, newKey, newValueHash, batch)
		if err != nil {
			return types.Hash{}, Node{}, err
		}
		internal := &InternalNode{}
		internal.Children[existingNibble] = &ChildRef{Hash: childHash, IsLeaf: childNode.IsLeaf()}
		n := Node{Internal: internal}
		h := n.Hash()
		batch[h] = n
		return h, n, nil
	}

	newLeafNode := Node{Leaf: &LeafNode{KeyHash: newKey, ValueHash: newValueHash}}
	newLeafHash := newLeafNode.Hash()
	batch[newLeafHash] = newLeafNode

	existingNode := Node{Leaf: existing}
	existingHash := existingNode.Hash()
	batch[existingHash] = existingNode

	internal := &InternalNode{}
	internal.Children[existingNibble] = &ChildRef{Hash: existingHash, IsLeaf: true}
	internal.Children[newNibble] = &ChildRef{Hash: newLeafHash, IsLeaf: true}
	n := Node{Internal: internal}
	h := n.Hash()
	batch[h] = n
	return h, n, nil
}

func (t *Tree) insertAtInternal(node *InternalNode, depth int, key types.Hash, valueHash *types.Hash, batch map[types.Hash]Node, stale map[types.Hash]struct{}) (types.Hash, Node, error) {
	nibble := key.Nibble(depth)
	var childHash types.Hash
	if c := node.Child(nibble); c != nil {
		childHash = c.Hash
	}

	newChildHash, newChildNode, err := t.insertAt(childHash, depth+1, key, valueHash, batch, stale)
	if err != nil {
		return types.Hash{}, Node{}, err
	}

	newInternal := *node
	if newChildHash.IsZero() {
		newInternal.Children[nibble] = nil
	} else {
		newInternal.Children[nibble] = &ChildRef{Hash: newChildHash, IsLeaf: newChildNode.IsLeaf()}
	}

	switch newInternal.childCount() {
	case 0:
		return types.PlaceholderHash, Node{}, nil
	case 1:
		_, only := newInternal.onlyChild()
		if only.IsLeaf {
			leafNode, ok, err := t.get(only.Hash, batch)
			if err != nil {
				return types.Hash{}, Node{}, err
			}
			if !ok {
				return types.Hash{}, Node{}, fmt.Errorf("smt: missing leaf node %s", only.Hash)
			}
			return only.Hash, leafNode, nil
		}
	}

	n := Node{Internal: &newInternal}
	h := n.Hash()
	batch[h] = n
	return h, n, nil
}

// LeafWitness carries the leaf a proof path terminated at, whether or not
// it is the leaf being proven — a different leaf at the same path position
// is a valid non-membership witness.
type LeafWitness struct {
	KeyHash   types.Hash
	ValueHash types.Hash
}

// Proof is an inclusion or non-inclusion proof for one key. Levels runs
// root-to-leaf; each element is the 4 sibling hashes needed to fold that
// depth's internal node, ordered bottom (closest to the child) to top.
type Proof struct {
	Levels [][4]types.Hash
	Leaf   *LeafWitness
}

// GetWithProof looks up key under root and returns its value hash (nil if
// absent) alongside a Proof valid against root.
func (t *Tree) GetWithProof(root types.Hash, key types.Hash) (*types.Hash, *Proof, error) {
	var levels [][4]types.Hash
	cur := root
	for depth := 0; depth < maxDepth; depth++ {
		if cur.IsZero() {
			return nil, &Proof{Levels: levels}, nil
		}
		node, ok, err := t.store.GetNode(cur)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("smt: missing node %s", cur)
		}
		if node.IsLeaf() {
			witness := &LeafWitness{KeyHash: node.Leaf.KeyHash, ValueHash: node.Leaf.ValueHash}
			if node.Leaf.KeyHash == key {
				vh := node.Leaf.ValueHash
				return &vh, &Proof{Levels: levels, Leaf: witness}, nil
			}
			return nil, &Proof{Levels: levels, Leaf: witness}, nil
		}
		nibble := key.Nibble(depth)
		levels = append(levels, node.Internal.siblingsForNibble(nibble))
		child := node.Internal.Child(nibble)
		if child == nil {
			return nil, &Proof{Levels: levels}, nil
		}
		cur = child.Hash
	}
	return nil, nil, fmt.Errorf("smt: exceeded max depth reading key %s", key)
}

// Get looks up key under root without building a proof.
func (t *Tree) Get(root types.Hash, key types.Hash) (*types.Hash, error) {
	v, _, err := t.GetWithProof(root, key)
	return v, err
}

// VerifyProof reports whether proof, combined with key and the claimed
// valueHash (nil for a non-membership claim), folds up to root.
func VerifyProof(root types.Hash, key types.Hash, valueHash *types.Hash, proof *Proof) bool {
	var cur types.Hash
	switch {
	case proof.Leaf != nil && proof.Leaf.KeyHash == key:
		if valueHash == nil || *valueHash != proof.Leaf.ValueHash {
			return false
		}
		cur = (&LeafNode{KeyHash: proof.Leaf.KeyHash, ValueHash: proof.Leaf.ValueHash}).Hash()
	case proof.Leaf != nil:
		if valueHash != nil {
			return false
		}
		cur = (&LeafNode{KeyHash: proof.Leaf.KeyHash, ValueHash: proof.Leaf.ValueHash}).Hash()
	default:
		if valueHash != nil {
			return false
		}
		cur = types.PlaceholderHash
	}

	for i := len(proof.Levels) - 1; i >= 0; i-- {
		nibble := key.Nibble(i)
		quad := proof.Levels[i]
		for bit := 0; bit < 4; bit++ {
			sib := quad[bit]
			if (nibble>>uint(bit))&1 == 0 {
				cur = types.HashTwo(cur, sib)
			} else {
				cur = types.HashTwo(sib, cur)
			}
		}
	}
	return cur == root
}

// RangeLeaf is one leaf in the ordered, gap-free prefix a range proof
// verifies a root against.
type RangeLeaf struct {
	KeyHash   types.Hash
	ValueHash types.Hash
}

// RangeProof lets a verifier who is handed every leaf up to and including
// rightmostKey, in order, confirm that nothing else precedes rightmostKey
// under root — without being handed the rest of the tree. Levels mirrors
// Proof.Levels but keeps only the sibling at each (depth, sub-position)
// that sits to the right of rightmostKey's path (the undisclosed side);
// the left-of-path siblings are zero and get recomputed independently by
// the verifier from the disclosed leaves, per spec.md §4.B: "range
// verification recomputes the root from an ordered set of leaves and the
// proof siblings."
type RangeProof struct {
	Levels [][4]types.Hash
}

// GetRangeProof builds a RangeProof for rightmostKey under root, grounded
// on the original jellyfish_merkle's get_range_proof: it runs the ordinary
// membership proof for rightmostKey and keeps only the siblings standing
// to the right of its path at each level.
func (t *Tree) GetRangeProof(root types.Hash, rightmostKey types.Hash) (*RangeProof, error) {
	_, proof, err := t.GetWithProof(root, rightmostKey)
	if err != nil {
		return nil, err
	}
	levels := make([][4]types.Hash, len(proof.Levels))
	for depth, quad := range proof.Levels {
		nibble := rightmostKey.Nibble(depth)
		for bit := 0; bit < 4; bit++ {
			if (nibble>>uint(bit))&1 == 0 {
				levels[depth][bit] = quad[bit]
			}
		}
	}
	return &RangeProof{Levels: levels}, nil
}

// VerifyRangeProof reports whether proof, together with leaves — the
// complete ordered set of leaves from the start of the range up to and
// including rightmostKey, whose last entry must be rightmostKey — folds up
// to root. It rebuilds a throwaway tree from leaves to independently
// recompute every left-of-path sibling instead of trusting it from proof,
// and only trusts proof for the right-of-path siblings it withheld from
// the verifier.
func VerifyRangeProof(root types.Hash, rightmostKey types.Hash, leaves []RangeLeaf, proof *RangeProof) (bool, error) {
	if len(leaves) == 0 || leaves[len(leaves)-1].KeyHash != rightmostKey {
		return false, nil
	}

	scratchDB := memdb.OpenEphemeral()
	scratchStore, err := NewStore(scratchDB, len(leaves)+1)
	if err != nil {
		return false, fmt.Errorf("smt: verify range proof: %w", err)
	}
	scratchTree := NewTree(scratchStore)

	scratchRoot := types.PlaceholderHash
	for _, l := range leaves {
		vh := l.ValueHash
		newRoot, batch, _, err := scratchTree.PutAll(scratchRoot, []Entry{{Key: l.KeyHash, ValueHash: &vh}})
		if err != nil {
			return false, fmt.Errorf("smt: verify range proof: rebuild scratch tree: %w", err)
		}
		wb := &kv.WriteBatch{}
		if err := scratchStore.StageNodes(wb, batch); err != nil {
			return false, fmt.Errorf("smt: verify range proof: %w", err)
		}
		if wb.Len() > 0 {
			if err := scratchDB.WriteBatchAcrossCFs([]string{NodesCF}, wb, false); err != nil {
				return false, fmt.Errorf("smt: verify range proof: %w", err)
			}
		}
		scratchRoot = newRoot
	}

	_, scratchProof, err := scratchTree.GetWithProof(scratchRoot, rightmostKey)
	if err != nil {
		return false, fmt.Errorf("smt: verify range proof: %w", err)
	}
	if scratchProof.Leaf == nil || scratchProof.Leaf.KeyHash != rightmostKey {
		return false, nil
	}
	if len(scratchProof.Levels) != len(proof.Levels) {
		return false, nil
	}

	cur := (&LeafNode{KeyHash: scratchProof.Leaf.KeyHash, ValueHash: scratchProof.Leaf.ValueHash}).Hash()
	for i := len(proof.Levels) - 1; i >= 0; i-- {
		nibble := rightmostKey.Nibble(i)
		for bit := 0; bit < 4; bit++ {
			var sib types.Hash
			if (nibble>>uint(bit))&1 == 0 {
				sib = proof.Levels[i][bit]
			} else {
				sib = scratchProof.Levels[i][bit]
			}
			if (nibble>>uint(bit))&1 == 0 {
				cur = types.HashTwo(cur, sib)
			} else {
				cur = types.HashTwo(sib, cur)
			}
		}
	}
	return cur == root, nil
}
