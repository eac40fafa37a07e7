// Package hash provides the consistent hash ring used by strategy.ConsistentHash.
package hash

import (
	"cmp"
	"encoding/binary"
	"slices"

	"github.com/zeebo/xxh3"

	"github.com/pzmi/hermes/types"
)

// Ring is a consistent hash ring with virtual nodes.
//
// A key maps to the first virtual node clockwise from its hash. Adding or
// removing a node only moves the keys adjacent to its virtual nodes.
type Ring struct {
	// vnodes is sorted by (hash, node).
	vnodes []virtualNode
	nodes  []types.NodeID
	seed   uint64
}

type virtualNode struct {
	hash uint64
	idx  int
}

// NewRing builds a ring. Duplicate node IDs are placed once.
//
// Parameters:
//   - nodes: Node IDs to place on the ring
//   - virtualNodesPerNode: Virtual nodes per node (higher = smoother distribution)
//   - seed: Hash seed; 0 hashes unseeded
//
// Example:
//
//	ring := hash.NewRing([]types.NodeID{"node-1", "node-2"}, 150, 0)
//	owner, _ := ring.Get("pl.allegro.orders$audit")
func NewRing(nodes []types.NodeID, virtualNodesPerNode int, seed uint64) *Ring {
	uniq := slices.Clone(nodes)
	slices.Sort(uniq)
	uniq = slices.Compact(uniq)

	r := &Ring{
		vnodes: make([]virtualNode, 0, len(uniq)*virtualNodesPerNode),
		nodes:  uniq,
		seed:   seed,
	}
	for i, id := range uniq {
		r.addNode(id, i, virtualNodesPerNode)
	}
	slices.SortFunc(r.vnodes, func(a, b virtualNode) int {
		if c := cmp.Compare(a.hash, b.hash); c != 0 {
			return c
		}

		return cmp.Compare(a.idx, b.idx)
	})

	return r
}

// Get returns the node owning key.
func (r *Ring) Get(key string) (types.NodeID, bool) {
	var owner types.NodeID
	found := false
	r.Walk(key, func(id types.NodeID) bool {
		owner, found = id, true
		return false
	})

	return owner, found
}

// Walk visits the distinct nodes clockwise from the hash of key until fn
// returns false or every node was visited once.
func (r *Ring) Walk(key string, fn func(types.NodeID) bool) {
	if len(r.vnodes) == 0 {
		return
	}

	h := r.hash(key)
	start, _ := slices.BinarySearchFunc(r.vnodes, h, func(v virtualNode, t uint64) int {
		return cmp.Compare(v.hash, t)
	})

	seen := make([]bool, len(r.nodes))
	visited := 0
	for i := range len(r.vnodes) {
		v := r.vnodes[(start+i)%len(r.vnodes)]
		if seen[v.idx] {
			continue
		}
		seen[v.idx] = true
		visited++
		if !fn(r.nodes[v.idx]) || visited == len(r.nodes) {
			return
		}
	}
}

// Nodes returns the sorted node IDs on the ring.
func (r *Ring) Nodes() []types.NodeID {
	return slices.Clone(r.nodes)
}

// Size returns the number of virtual nodes.
func (r *Ring) Size() int {
	return len(r.vnodes)
}

func (r *Ring) addNode(id types.NodeID, idx int, virtualNodes int) {
	base := r.hash(string(id))
	for i := range virtualNodes {
		// Fold the vnode index into the node hash without building a string.
		var ib [8]byte
		binary.LittleEndian.PutUint64(ib[:], uint64(i)) //nolint:gosec
		r.vnodes = append(r.vnodes, virtualNode{hash: xxh3.HashSeed(ib[:], base), idx: idx})
	}
}

func (r *Ring) hash(key string) uint64 {
	if r.seed != 0 {
		return xxh3.HashStringSeed(key, r.seed)
	}

	return xxh3.HashString(key)
}
