// Package accumulator implements the append-only Merkle transaction
// accumulator from spec.md §4.C. Leaves are appended in order; after every
// append the set of "frozen" subtree roots corresponds to the binary
// expansion of the leaf count — e.g. 5 leaves decompose as a complete
// subtree of 4 plus one lone leaf, matching a classic Merkle Mountain
// Range. Grounded on the carry/freeze behaviour described in
// _examples/original_source/moveos/moveos-commons/accumulator/src/tree.rs,
// reimplemented here as an explicit peak-list rather than a ported
// position-indexed node store, since the peak-list is the simplest correct
// expression of the same invariants in Go.
package accumulator

import (
	"fmt"

	"github.com/kanari-network/kanarinode/internal/types"
)

// LeafStore persists appended leaf hashes by index, so a proof can be
// recomputed for any historical leaf without holding every tree in memory.
// This is the "node batch" persistence boundary from spec.md §4.C: the
// caller commits the rows returned by PopUnsavedNodes atomically with the
// rest of its transaction.
type LeafStore interface {
	GetLeaf(index uint64) (types.Hash, bool, error)
}

// MemoryLeafStore is a LeafStore backed by a plain slice, usable directly or
// as the in-memory mirror of a kv-backed store.
type MemoryLeafStore struct {
	leaves []types.Hash
}

func (s *MemoryLeafStore) GetLeaf(index uint64) (types.Hash, bool, error) {
	if index >= uint64(len(s.leaves)) {
		return types.Hash{}, false, nil
	}
	return s.leaves[index], true, nil
}

func (s *MemoryLeafStore) append(h types.Hash) { s.leaves = append(s.leaves, h) }

// peak describes one frozen subtree: its root hash, its size (always a
// power of two) and the index of its first leaf.
type peak struct {
	root      types.Hash
	size      uint64
	leafStart uint64
}

// Tree is a single-writer, append-only Merkle accumulator.
type Tree struct {
	store  LeafStore
	peaks  []peak // ordered largest (leftmost/oldest) to smallest (rightmost/newest)
	leaves uint64
	nodes  uint64
	root   types.Hash

	unsaved []UnsavedLeaf
}

// UnsavedLeaf is one newly appended leaf awaiting durable persistence.
type UnsavedLeaf struct {
	Index uint64
	Hash  types.Hash
}

// New constructs an empty accumulator over store.
func New(store LeafStore) *Tree {
	return &Tree{store: store, root: types.PlaceholderHash}
}

// NewWithInfo restores an accumulator from a previously persisted info.
func NewWithInfo(store LeafStore, info types.AccumulatorInfo) (*Tree, error) {
	t := &Tree{store: store, leaves: info.NumLeaves, nodes: info.NumNodes, root: info.Root}
	peaks, err := peaksFromFrozenRoots(info.FrozenSubtreeRoots, info.NumLeaves)
	if err != nil {
		return nil, err
	}
	t.peaks = peaks
	return t, nil
}

// peaksFromFrozenRoots reconstructs peak sizes/offsets from the leaf count's
// binary expansion, pairing them in order with the supplied root hashes.
func peaksFromFrozenRoots(roots []types.Hash, numLeaves uint64) ([]peak, error) {
	sizes := decomposeSizes(numLeaves)
	if len(sizes) != len(roots) {
		return nil, fmt.Errorf("accumulator: frozen subtree root count %d does not match leaf count %d decomposition (%d)", len(roots), numLeaves, len(sizes))
	}
	peaks := make([]peak, len(sizes))
	var offset uint64
	for i, sz := range sizes {
		peaks[i] = peak{root: roots[i], size: sz, leafStart: offset}
		offset += sz
	}
	return peaks, nil
}

// decomposeSizes returns the power-of-two subtree sizes making up numLeaves,
// largest first (the binary expansion read MSB to LSB).
func decomposeSizes(numLeaves uint64) []uint64 {
	var sizes []uint64
	for bit := uint(63); ; bit-- {
		size := uint64(1) << bit
		if numLeaves&size != 0 {
			sizes = append(sizes, size)
		}
		if bit == 0 {
			break
		}
	}
	return sizes
}

// GetInfo returns the current persistable accumulator state.
func (t *Tree) GetInfo() types.AccumulatorInfo {
	roots := make([]types.Hash, len(t.peaks))
	for i, p := range t.peaks {
		roots[i] = p.root
	}
	return types.AccumulatorInfo{
		FrozenSubtreeRoots: roots,
		NumLeaves:          t.leaves,
		NumNodes:           t.nodes,
		Root:               t.root,
	}
}

// NumLeaves returns the current leaf count.
func (t *Tree) NumLeaves() uint64 { return t.leaves }

// Root returns the current accumulator root.
func (t *Tree) Root() types.Hash { return t.root }

// Append adds new leaves to the accumulator, merging equal-size peaks per
// the standard binary-counter carry rule, and returns the new root.
func (t *Tree) Append(leaves []types.Hash) (types.Hash, error) {
	if len(leaves) == 0 {
		return t.root, nil
	}
	for _, leaf := range leaves {
		index := t.leaves
		cur := peak{root: leaf, size: 1, leafStart: index}
		t.nodes++
		for len(t.peaks) > 0 && t.peaks[len(t.peaks)-1].size == cur.size {
			left := t.peaks[len(t.peaks)-1]
			t.peaks = t.peaks[:len(t.peaks)-1]
			cur = peak{
				root:      types.HashTwo(left.root, cur.root),
				size:      left.size * 2,
				leafStart: left.leafStart,
			}
			t.nodes++
		}
		t.peaks = append(t.peaks, cur)
		t.leaves++
		t.unsaved = append(t.unsaved, UnsavedLeaf{Index: index, Hash: leaf})
	}
	t.root = foldPeaks(t.peaks)
	return t.root, nil
}

// foldPeaks combines the peak list (largest-to-smallest) into a single
// root, padding the right-hand accumulation with placeholder hashes when a
// larger peak must absorb a conceptually smaller, not-yet-complete subtree.
func foldPeaks(peaks []peak) types.Hash {
	if len(peaks) == 0 {
		return types.PlaceholderHash
	}
	cur := peaks[len(peaks)-1].root
	curSize := peaks[len(peaks)-1].size
	for i := len(peaks) - 2; i >= 0; i-- {
		for curSize < peaks[i].size {
			cur = types.HashTwo(cur, types.PlaceholderHash)
			curSize *= 2
		}
		cur = types.HashTwo(peaks[i].root, cur)
		curSize = peaks[i].size * 2
	}
	return cur
}

// PopUnsavedNodes drains the staging buffer of leaves appended since the
// last call, for atomic persistence alongside the rest of a tx commit.
func (t *Tree) PopUnsavedNodes() []UnsavedLeaf {
	nodes := t.unsaved
	t.unsaved = nil
	return nodes
}

// ClearAfterSave discards the staging buffer without returning it, used
// after a caller has confirmed the durable write succeeded via a separate
// path.
func (t *Tree) ClearAfterSave() { t.unsaved = nil }

// Fork rewinds the in-memory accumulator to a prior persisted info,
// discarding any uncommitted appends. Used when a save fails so the
// sequencer does not retain dirty runtime state.
func (t *Tree) Fork(info types.AccumulatorInfo) error {
	peaks, err := peaksFromFrozenRoots(info.FrozenSubtreeRoots, info.NumLeaves)
	if err != nil {
		return err
	}
	t.peaks = peaks
	t.leaves = info.NumLeaves
	t.nodes = info.NumNodes
	t.root = info.Root
	t.unsaved = nil
	return nil
}

// Proof is an inclusion proof for one leaf: sibling hashes ordered from the
// leaf's level upward to the root.
type Proof struct {
	LeafIndex uint64
	Siblings  []types.Hash
}

// GetProof builds an inclusion proof for the leaf at index, valid against
// the accumulator's current root.
func (t *Tree) GetProof(index uint64) (*Proof, error) {
	if index >= t.leaves {
		return nil, fmt.Errorf("accumulator: leaf index %d out of range (num_leaves=%d)", index, t.leaves)
	}
	// Locate the peak containing this leaf.
	peakIdx := -1
	for i, p := range t.peaks {
		if index >= p.leafStart && index < p.leafStart+p.size {
			peakIdx = i
			break
		}
	}
	if peakIdx < 0 {
		return nil, fmt.Errorf("accumulator: leaf index %d not covered by any peak", index)
	}

	intra, err := t.intraPeakSiblings(t.peaks[peakIdx], index)
	if err != nil {
		return nil, err
	}

	// Fold outward through the remaining peaks the same way foldPeaks does,
	// recording the sibling hash (and any placeholder padding) introduced
	// at each step.
	var siblings []types.Hash
	siblings = append(siblings, intra...)

	// Siblings from peaks to the right of ours (smaller, more recent),
	// already folded into a single running hash that sits as our sibling
	// once we start folding leftward; but since our leaf lives in peaks[peakIdx]
	// and folding proceeds from the smallest peak (rightmost) toward the
	// largest, we must first fold all peaks to the right of ours into one
	// running value, pad it with placeholders up to our peak's size (as
	// foldPeaks does), record it as a sibling if our peak isn't the rightmost,
	// then fold leftward recording each left peak as a sibling with padding.
	curSize := t.peaks[peakIdx].size
	if peakIdx < len(t.peaks)-1 {
		rest := t.peaks[peakIdx+1:]
		right := foldPeaks(rest)
		rightSize := rest[0].size
		if len(rest) > 1 {
			rightSize *= 2
		}
		for rightSize < curSize {
			right = types.HashTwo(right, types.PlaceholderHash)
			rightSize *= 2
		}
		siblings = append(siblings, right)
		curSize *= 2
	}
	for i := peakIdx - 1; i >= 0; i-- {
		for curSize < t.peaks[i].size {
			siblings = append(siblings, types.PlaceholderHash)
			curSize *= 2
		}
		siblings = append(siblings, t.peaks[i].root)
		curSize = t.peaks[i].size * 2
	}
	return &Proof{LeafIndex: index, Siblings: siblings}, nil
}

// intraPeakSiblings recomputes the dense perfect-binary-subtree for a peak
// from its stored leaves and returns the sibling path from the target leaf
// up to the peak root, bottom to top.
func (t *Tree) intraPeakSiblings(p peak, leafIndex uint64) ([]types.Hash, error) {
	level := make([]types.Hash, p.size)
	for i := uint64(0); i < p.size; i++ {
		h, ok, err := t.store.GetLeaf(p.leafStart + i)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("accumulator: missing leaf at index %d", p.leafStart+i)
		}
		level[i] = h
	}
	var siblings []types.Hash
	pos := leafIndex - p.leafStart
	for len(level) > 1 {
		if pos%2 == 0 {
			siblings = append(siblings, level[pos+1])
		} else {
			siblings = append(siblings, level[pos-1])
		}
		next := make([]types.Hash, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next[i/2] = types.HashTwo(level[i], level[i+1])
		}
		level = next
		pos /= 2
	}
	return siblings, nil
}

// VerifyProof reports whether proof, folded from leaf against root,
// reconstructs root. Placeholder hashes fill any position where the proof
// carries one explicitly.
func VerifyProof(root types.Hash, leaf types.Hash, proof *Proof) bool {
	hash := leaf
	pos := proof.LeafIndex
	for _, sib := range proof.Siblings {
		if pos%2 == 0 {
			hash = types.HashTwo(hash, sib)
		} else {
			hash = types.HashTwo(sib, hash)
		}
		pos /= 2
	}
	return hash == root
}
