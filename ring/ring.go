// Package ring maps nodes and files onto a consistent-hash ring.
//
// Node positions hash the canonical "host:port:timestamp" id string, so
// a restarted node lands somewhere new and the ring never confuses two
// incarnations of the same endpoint. File placement walks clockwise from
// the filename's hash; the first successor is the file's coordinator.
package ring

import (
	"hash/fnv"
	"sort"
	"sync"

	"github.com/adamgarcia4/goLearning/hydfs/membership"
)

// ReplicationFactor is how many nodes hold each file.
const ReplicationFactor = 3

// Ring is a mutex-protected consistent-hash ring.
type Ring struct {
	mu        sync.RWMutex
	positions []uint64
	nodes     map[uint64]membership.NodeId
}

// New creates an empty ring.
func New() *Ring {
	return &Ring{
		nodes: make(map[uint64]membership.NodeId),
	}
}

// Hash returns the 64-bit FNV-1a hash of s. All ring positions and file
// ids come from this one function so every node computes identical
// placement.
func Hash(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

// NodePosition returns the ring position a node would occupy.
func NodePosition(id membership.NodeId) uint64 {
	return Hash(id.String())
}

// Add inserts a node. Adding a present node is a no-op.
func (r *Ring) Add(id membership.NodeId) {
	pos := NodePosition(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[pos]; ok {
		return
	}
	r.nodes[pos] = id
	i := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i] >= pos
	})
	r.positions = append(r.positions, 0)
	copy(r.positions[i+1:], r.positions[i:])
	r.positions[i] = pos
}

// Remove deletes a node. Removing an absent node is a no-op.
func (r *Ring) Remove(id membership.NodeId) {
	pos := NodePosition(id)
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.nodes[pos]; !ok {
		return
	}
	delete(r.nodes, pos)
	i := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i] >= pos
	})
	if i < len(r.positions) && r.positions[i] == pos {
		r.positions = append(r.positions[:i], r.positions[i+1:]...)
	}
}

// Len returns the number of nodes on the ring.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.positions)
}

// Members returns every node on the ring ordered by position.
func (r *Ring) Members() []membership.NodeId {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]membership.NodeId, 0, len(r.positions))
	for _, pos := range r.positions {
		result = append(result, r.nodes[pos])
	}
	return result
}

// Successors returns the first n distinct nodes clockwise from pos,
// wrapping around the ring. Fewer than n nodes means everyone.
func (r *Ring) Successors(pos uint64, n int) []membership.NodeId {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.positions) == 0 || n <= 0 {
		return nil
	}
	if n > len(r.positions) {
		n = len(r.positions)
	}
	start := sort.Search(len(r.positions), func(i int) bool {
		return r.positions[i] >= pos
	})
	result := make([]membership.NodeId, 0, n)
	for i := 0; i < n; i++ {
		p := r.positions[(start+i)%len(r.positions)]
		result = append(result, r.nodes[p])
	}
	return result
}

// FileReplicas returns the replica set for a file. The first element is
// the file's coordinator.
func (r *Ring) FileReplicas(filename string) []membership.NodeId {
	return r.Successors(Hash(filename), ReplicationFactor)
}

// Contains reports whether the node is on the ring.
func (r *Ring) Contains(id membership.NodeId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[NodePosition(id)]
	return ok
}
