package smt

import (
	"errors"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/kanari-network/kanarinode/internal/kv"
	"github.com/kanari-network/kanarinode/internal/store/codec"
	"github.com/kanari-network/kanarinode/internal/types"
)

// NodesCF is the column family every tree node is persisted under, keyed by
// its own content hash.
const NodesCF = "smt_nodes"

// StaleCF is the column family the stale-node index lives in, grounded on
// the original's StaleNodeIndex{stale_since_version, node_key}: each row is
// keyed by the retired node's own hash and carries the root that retired
// it, so a later pruning pass can walk the index without re-diffing trees.
const StaleCF = "smt_stale_nodes"

// childWire is the RLP-encodable shape of ChildRef. RLP has no notion of an
// absent struct field, so presence is carried explicitly.
type childWire struct {
	Present bool
	Hash    types.Hash
	IsLeaf  bool
}

type nodeWire struct {
	IsLeaf        bool
	LeafKeyHash   types.Hash
	LeafValueHash types.Hash
	Children      [16]childWire
}

func toWire(n Node) nodeWire {
	if n.Leaf != nil {
		return nodeWire{IsLeaf: true, LeafKeyHash: n.Leaf.KeyHash, LeafValueHash: n.Leaf.ValueHash}
	}
	var w nodeWire
	for i, c := range n.Internal.Children {
		if c != nil {
			w.Children[i] = childWire{Present: true, Hash: c.Hash, IsLeaf: c.IsLeaf}
		}
	}
	return w
}

func fromWire(w nodeWire) Node {
	if w.IsLeaf {
		return Node{Leaf: &LeafNode{KeyHash: w.LeafKeyHash, ValueHash: w.LeafValueHash}}
	}
	internal := &InternalNode{}
	for i, c := range w.Children {
		if c.Present {
			internal.Children[i] = &ChildRef{Hash: c.Hash, IsLeaf: c.IsLeaf}
		}
	}
	return Node{Internal: internal}
}

// Store is the NodeStore every Tree reads through: an LRU front cache over
// a persistent kv.Store column family.
type Store struct {
	kv    kv.Store
	cache *lru.Cache[types.Hash, Node]
}

// NewStore wraps store with an LRU node cache of the given size.
func NewStore(store kv.Store, cacheSize int) (*Store, error) {
	c, err := lru.New[types.Hash, Node](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("smt: new node cache: %w", err)
	}
	return &Store{kv: store, cache: c}, nil
}

// GetNode fetches the node with the given content hash. The zero hash
// (PlaceholderHash) always reports absent without touching the cache or kv.
func (s *Store) GetNode(hash types.Hash) (Node, bool, error) {
	if hash.IsZero() {
		return Node{}, false, nil
	}
	if n, ok := s.cache.Get(hash); ok {
		return n, true, nil
	}
	raw, err := s.kv.Get(NodesCF, hash.Bytes())
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Node{}, false, nil
		}
		return Node{}, false, fmt.Errorf("smt: get node %s: %w", hash, err)
	}
	var w nodeWire
	if err := codec.Unmarshal(raw, &w); err != nil {
		return Node{}, false, fmt.Errorf("smt: decode node %s: %w", hash, err)
	}
	n := fromWire(w)
	s.cache.Add(hash, n)
	return n, true, nil
}

// StageNodes appends Put rows for every node in nodes to batch (for atomic
// commit alongside the rest of a pipeline transaction) and warms the cache
// with each one.
func (s *Store) StageNodes(batch *kv.WriteBatch, nodes map[types.Hash]Node) error {
	for hash, n := range nodes {
		raw, err := codec.Marshal(toWire(n))
		if err != nil {
			return fmt.Errorf("smt: encode node %s: %w", hash, err)
		}
		batch.Put(NodesCF, hash.Bytes(), raw)
		s.cache.Add(hash, n)
	}
	return nil
}

// StageStale appends a row per stale node hash to batch, recording
// newRoot as the root whose write retired it. The caller commits this in
// the same atomic batch as the node batch and the rest of the tx, so a
// pruner never observes a node store and stale index that disagree about
// whether a node is still live.
func (s *Store) StageStale(batch *kv.WriteBatch, newRoot types.Hash, stale map[types.Hash]struct{}) error {
	for hash := range stale {
		batch.Put(StaleCF, hash.Bytes(), newRoot.Bytes())
	}
	return nil
}
