package ring

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"golang.org/x/exp/slices"
)

// ErrInvalidConfiguration is returned for ring settings that cannot be honoured.
var ErrInvalidConfiguration = errors.New("ring: invalid configuration")

// Node represents a physical node in the cluster. Nodes are identified by Addr.
type Node struct {
	ID   string
	Addr string
}

// VirtualNode is one ring position owned by a physical node.
type VirtualNode struct {
	Node    Node
	Replica int
	Hash    uint64
}

// Key returns the string hashed to place the virtual node.
func (v VirtualNode) Key() string {
	return v.Node.Addr + "-" + strconv.Itoa(v.Replica)
}

// IsVirtualNodeOf reports whether v belongs to the physical node n.
func (v VirtualNode) IsVirtualNodeOf(n Node) bool {
	return v.Node.Addr == n.Addr
}

// Ring implements consistent hashing with virtual nodes.
type Ring struct {
	mu            sync.RWMutex
	vnodesPerNode int
	hash          HashFunc
	vnodes        []VirtualNode   // sorted by Hash, positions are unique
	nodes         map[string]Node // addr -> Node
}

// NewRing creates a new consistent hashing ring. A nil hash selects XXHash.
func NewRing(vnodesPerNode int, hash HashFunc) (*Ring, error) {
	if vnodesPerNode < 0 {
		return nil, fmt.Errorf("%w: virtual node count %d", ErrInvalidConfiguration, vnodesPerNode)
	}
	if hash == nil {
		hash = XXHash
	}
	return &Ring{
		vnodesPerNode: vnodesPerNode,
		hash:          hash,
		vnodes:        make([]VirtualNode, 0),
		nodes:         make(map[string]Node),
	}, nil
}

// VNodesPerNode returns the configured virtual node count.
func (r *Ring) VNodesPerNode() int {
	return r.vnodesPerNode
}

// AddNode places the node's virtual nodes on the ring and returns the
// positions that were added. Replica indexes continue after any entries the
// node already owns, so adding a present node is a no-op.
func (r *Ring) AddNode(node Node) []VirtualNode {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.countLocked(node.Addr)
	r.nodes[node.Addr] = node

	added := make([]VirtualNode, 0, r.vnodesPerNode)
	for i := existing; i < r.vnodesPerNode; i++ {
		v := VirtualNode{Node: node, Replica: i}
		h := r.hash(v.Key())
		// Probe forward past occupied positions (wraps at 2^64).
		for r.occupiedLocked(h) {
			h++
		}
		v.Hash = h

		idx := sort.Search(len(r.vnodes), func(j int) bool {
			return r.vnodes[j].Hash >= h
		})
		r.vnodes = slices.Insert(r.vnodes, idx, v)
		added = append(added, v)
	}
	return added
}

// RemoveNode removes every virtual node owned by addr and returns how many
// positions were dropped.
func (r *Ring) RemoveNode(addr string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.nodes[addr]; !exists {
		return 0
	}
	delete(r.nodes, addr)

	before := len(r.vnodes)
	r.vnodes = slices.DeleteFunc(r.vnodes, func(v VirtualNode) bool {
		return v.Node.Addr == addr
	})
	return before - len(r.vnodes)
}

// Coordinator returns the first node encountered walking from the key's hash.
// Returns (Node{}, false) if the ring is empty.
func (r *Ring) Coordinator(key string) (Node, bool) {
	nodes := r.RouteNodes(key, 1)
	if len(nodes) == 0 {
		return Node{}, false
	}
	return nodes[0], true
}

// RouteNodes returns up to n distinct physical nodes responsible for key, in
// ring order. The first entry is the key's coordinator.
func (r *Ring) RouteNodes(key string, n int) []Node {
	return r.RouteHash(r.hash(key), n)
}

// RouteHash is RouteNodes for an already hashed position.
func (r *Ring) RouteHash(h uint64, n int) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.vnodes) == 0 || n <= 0 {
		return []Node{}
	}

	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].Hash >= h
	})
	// Wrap around
	if idx >= len(r.vnodes) {
		idx = 0
	}

	seen := make(map[string]bool)
	result := make([]Node, 0, n)

	// Walk at most one revolution
	for i := 0; i < len(r.vnodes) && len(result) < n; i++ {
		v := r.vnodes[(idx+i)%len(r.vnodes)]
		if seen[v.Node.Addr] {
			continue
		}
		seen[v.Node.Addr] = true
		if node, exists := r.nodes[v.Node.Addr]; exists {
			result = append(result, node)
		}
	}

	return result
}

// VirtualNodeCount returns how many ring positions addr owns.
func (r *Ring) VirtualNodeCount(addr string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.countLocked(addr)
}

// Contains reports whether addr has been added to the ring.
func (r *Ring) Contains(addr string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.nodes[addr]
	return ok
}

// Len returns the number of virtual nodes on the ring.
func (r *Ring) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vnodes)
}

// GetNodes returns all physical nodes on the ring, ordered by address.
func (r *Ring) GetNodes() []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	nodes := make([]Node, 0, len(r.nodes))
	for _, node := range r.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Addr < nodes[j].Addr
	})
	return nodes
}

func (r *Ring) countLocked(addr string) int {
	count := 0
	for _, v := range r.vnodes {
		if v.Node.Addr == addr {
			count++
		}
	}
	return count
}

func (r *Ring) occupiedLocked(h uint64) bool {
	idx := sort.Search(len(r.vnodes), func(i int) bool {
		return r.vnodes[i].Hash >= h
	})
	return idx < len(r.vnodes) && r.vnodes[idx].Hash == h
}
