package accumulator

import (
	"testing"

	"github.com/kanari-network/kanarinode/internal/types"
)

func leafHash(n byte) types.Hash {
	return types.HashBytes([]byte{n})
}

func TestAppendFrozenSubtreeDecomposition(t *testing.T) {
	store := &MemoryLeafStore{}
	tree := New(store)

	for i := byte(0); i < 5; i++ {
		h := leafHash(i)
		store.append(h)
		if _, err := tree.Append([]types.Hash{h}); err != nil {
			t.Fatalf("append leaf %d: %v", i, err)
		}
	}

	info := tree.GetInfo()
	if info.NumLeaves != 5 {
		t.Fatalf("num leaves = %d, want 5", info.NumLeaves)
	}
	// 5 = 4 + 1, so two frozen subtree roots: one covering leaves [0,4), one leaf [4,5).
	if len(info.FrozenSubtreeRoots) != 2 {
		t.Fatalf("frozen subtree roots = %d, want 2", len(info.FrozenSubtreeRoots))
	}
}

func TestAppendProofRoundTrip(t *testing.T) {
	store := &MemoryLeafStore{}
	tree := New(store)

	var leaves []types.Hash
	for i := byte(0); i < 13; i++ {
		h := leafHash(i)
		leaves = append(leaves, h)
		store.append(h)
	}
	if _, err := tree.Append(leaves); err != nil {
		t.Fatalf("append: %v", err)
	}
	root := tree.Root()

	for i, leaf := range leaves {
		proof, err := tree.GetProof(uint64(i))
		if err != nil {
			t.Fatalf("get proof %d: %v", i, err)
		}
		if !VerifyProof(root, leaf, proof) {
			t.Fatalf("proof for leaf %d did not verify", i)
		}
	}
}

func TestAppendIncrementalMatchesBulk(t *testing.T) {
	var leaves []types.Hash
	for i := byte(0); i < 20; i++ {
		leaves = append(leaves, leafHash(i))
	}

	bulkStore := &MemoryLeafStore{}
	bulk := New(bulkStore)
	for _, l := range leaves {
		bulkStore.append(l)
	}
	if _, err := bulk.Append(leaves); err != nil {
		t.Fatalf("bulk append: %v", err)
	}

	incStore := &MemoryLeafStore{}
	inc := New(incStore)
	for _, l := range leaves {
		incStore.append(l)
		if _, err := inc.Append([]types.Hash{l}); err != nil {
			t.Fatalf("incremental append: %v", err)
		}
	}

	if bulk.Root() != inc.Root() {
		t.Fatalf("bulk root %s != incremental root %s", bulk.Root(), inc.Root())
	}
}

func TestForkRewindsToPriorRoot(t *testing.T) {
	store := &MemoryLeafStore{}
	tree := New(store)

	var firstThree []types.Hash
	for i := byte(0); i < 3; i++ {
		h := leafHash(i)
		firstThree = append(firstThree, h)
		store.append(h)
	}
	if _, err := tree.Append(firstThree); err != nil {
		t.Fatalf("append: %v", err)
	}
	checkpoint := tree.GetInfo()

	more := leafHash(3)
	store.append(more)
	if _, err := tree.Append([]types.Hash{more}); err != nil {
		t.Fatalf("append more: %v", err)
	}
	if tree.Root() == checkpoint.Root {
		t.Fatalf("root did not change after appending a fourth leaf")
	}

	if err := tree.Fork(checkpoint); err != nil {
		t.Fatalf("fork: %v", err)
	}
	if tree.Root() != checkpoint.Root {
		t.Fatalf("fork did not restore checkpoint root")
	}
	if tree.NumLeaves() != 3 {
		t.Fatalf("fork did not restore leaf count, got %d", tree.NumLeaves())
	}
}

func TestPopUnsavedNodesDrainsOnce(t *testing.T) {
	store := &MemoryLeafStore{}
	tree := New(store)

	h := leafHash(0)
	store.append(h)
	if _, err := tree.Append([]types.Hash{h}); err != nil {
		t.Fatalf("append: %v", err)
	}

	unsaved := tree.PopUnsavedNodes()
	if len(unsaved) != 1 {
		t.Fatalf("unsaved = %d, want 1", len(unsaved))
	}
	if again := tree.PopUnsavedNodes(); len(again) != 0 {
		t.Fatalf("second pop should be empty, got %d", len(again))
	}
}
