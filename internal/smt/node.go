// Package smt implements the Sparse/Jellyfish Merkle Tree state store from
// spec.md §4.B: a 256-bit key space addressed nibble by nibble (4 bits at a
// time), where each internal node compresses 16 children into one hash by
// folding them as a conceptual 4-level binary tree, and any subtree with at
// most one leaf collapses to that leaf directly (or to the placeholder hash
// if empty). Grounded on
// _examples/original_source/moveos/smt/src/jellyfish_merkle/mod.rs, adapted
// from its content-addressed node-key scheme to a Go-idiomatic NodeStore
// interface with an LRU front cache (hashicorp/golang-lru/v2) in place of
// the original's version-indexed TreeCache.
package smt

import (
	"github.com/kanari-network/kanarinode/internal/types"
)

// ChildRef is one of an InternalNode's up-to-16 populated slots.
type ChildRef struct {
	Hash   types.Hash
	IsLeaf bool
}

// InternalNode has up to 16 children, one per nibble value. A nil slot is
// an empty subtree.
type InternalNode struct {
	Children [16]*ChildRef
}

// Child returns the slot for nibble, or nil if empty.
func (n *InternalNode) Child(nibble byte) *ChildRef {
	return n.Children[nibble]
}

func (n *InternalNode) childCount() int {
	count := 0
	for _, c := range n.Children {
		if c != nil {
			count++
		}
	}
	return count
}

func (n *InternalNode) onlyChild() (byte, *ChildRef) {
	for i, c := range n.Children {
		if c != nil {
			return byte(i), c
		}
	}
	return 0, nil
}

func (n *InternalNode) leafLevel() [16]types.Hash {
	var level [16]types.Hash
	for i, c := range n.Children {
		if c != nil {
			level[i] = c.Hash
		} else {
			level[i] = types.PlaceholderHash
		}
	}
	return level
}

func foldLevel(level []types.Hash) []types.Hash {
	next := make([]types.Hash, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next[i/2] = types.HashTwo(level[i], level[i+1])
	}
	return next
}

// Hash folds the 16 children pairwise, four times, into a single digest —
// the "4-level binary tree" compressed into one node.
func (n *InternalNode) Hash() types.Hash {
	level := n.leafLevel()
	cur := level[:]
	for len(cur) > 1 {
		cur = foldLevel(cur)
	}
	return cur[0]
}

// siblingsForNibble returns the 4 sibling hashes needed to prove the child
// at nibble, ordered from the bottom of the local 4-level fold (closest to
// the child) to the top (closest to this node's own hash).
func (n *InternalNode) siblingsForNibble(nibble byte) [4]types.Hash {
	level := n.leafLevel()
	cur := level[:]
	pos := int(nibble)
	var sibs [4]types.Hash
	for i := 0; i < 4; i++ {
		sibs[i] = cur[pos^1]
		cur = foldLevel(cur)
		pos /= 2
	}
	return sibs
}

// LeafNode terminates a path: it carries the full key hash (since a nibble
// path only narrows the key down, it never fully identifies it at shallower
// depths) and the hash of the value stored there.
type LeafNode struct {
	KeyHash   types.Hash
	ValueHash types.Hash
}

// Hash digests the leaf's key and value hashes under a leaf-domain tag, so
// a leaf hash can never collide with an internal node's folded hash.
func (l *LeafNode) Hash() types.Hash {
	var buf [65]byte
	buf[0] = 0x01
	copy(buf[1:33], l.KeyHash[:])
	copy(buf[33:], l.ValueHash[:])
	return types.HashBytes(buf[:])
}

// Node is either a leaf or an internal node; exactly one field is set.
type Node struct {
	Leaf     *LeafNode
	Internal *InternalNode
}

// IsLeaf reports whether the node is a leaf.
func (n Node) IsLeaf() bool { return n.Leaf != nil }

// Hash returns the node's content hash — its identity and its storage key.
func (n Node) Hash() types.Hash {
	switch {
	case n.Leaf != nil:
		return n.Leaf.Hash()
	case n.Internal != nil:
		return n.Internal.Hash()
	default:
		return types.PlaceholderHash
	}
}
