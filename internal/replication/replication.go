package replication

import (
	"math/rand"

	"golang.org/x/exp/slices"

	"dynamo/internal/ring"
)

// DefaultReplicationFactor is used when a non-positive factor is given.
const DefaultReplicationFactor = 3

// ReplicasForKey returns the N replicas responsible for a key
// using the ring's route.
func ReplicasForKey(r *ring.Ring, key string, replicationFactor int) []ring.Node {
	if replicationFactor <= 0 {
		replicationFactor = DefaultReplicationFactor
	}
	return r.RouteNodes(key, replicationFactor)
}

// Plan is the replica set of one key as seen from one node.
type Plan struct {
	Replicas []ring.Node
	Local    bool        // self is a replica
	Peers    []ring.Node // replicas other than self, in ring order
}

// PlanFor routes key and separates self from the remote replicas.
func PlanFor(r *ring.Ring, key string, replicationFactor int, self string) Plan {
	replicas := ReplicasForKey(r, key, replicationFactor)
	local, peers := Split(replicas, self)
	return Plan{Replicas: replicas, Local: local, Peers: peers}
}

// Coordinator returns the first replica, if any.
func (p Plan) Coordinator() (ring.Node, bool) {
	if len(p.Replicas) == 0 {
		return ring.Node{}, false
	}
	return p.Replicas[0], true
}

// Contains reports whether addr is one of the replicas.
func (p Plan) Contains(addr string) bool {
	return Contains(p.Replicas, addr)
}

// Split reports whether self is among replicas and returns the others.
func Split(replicas []ring.Node, self string) (local bool, peers []ring.Node) {
	peers = make([]ring.Node, 0, len(replicas))
	for _, n := range replicas {
		if n.Addr == self {
			local = true
			continue
		}
		peers = append(peers, n)
	}
	return local, peers
}

// Contains reports whether addr is in nodes.
func Contains(nodes []ring.Node, addr string) bool {
	return slices.ContainsFunc(nodes, func(n ring.Node) bool {
		return n.Addr == addr
	})
}

// EffectiveQuorum caps a configured quorum at the size of the replica set,
// so a cluster with fewer than N storage nodes can still reach agreement.
func EffectiveQuorum(quorum, replicas int) int {
	return min(quorum, replicas)
}

// RemoteQuorum returns the remote successes still needed for quorum once
// localVotes successes have been counted. It never goes below zero.
func RemoteQuorum(quorum, localVotes int) int {
	if remaining := quorum - localVotes; remaining > 0 {
		return remaining
	}
	return 0
}

// BroadcastQuorum is RemoteQuorum capped at the number of peers contacted.
// A cluster smaller than the quorum succeeds once every peer agrees.
func BroadcastQuorum(quorum, localVotes, peers int) int {
	return min(RemoteQuorum(quorum, localVotes), peers)
}

// PickRandom returns a random node from nodes other than exclude.
func PickRandom(nodes []ring.Node, exclude string) (ring.Node, bool) {
	candidates := slices.DeleteFunc(slices.Clone(nodes), func(n ring.Node) bool {
		return n.Addr == exclude
	})
	if len(candidates) == 0 {
		return ring.Node{}, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

// PreviousOwner returns the node that owned v's position before v was
// placed: the first other physical node met walking the ring from v.
func PreviousOwner(r *ring.Ring, v ring.VirtualNode) (ring.Node, bool) {
	for _, n := range r.RouteHash(v.Hash, 2) {
		if n.Addr != v.Node.Addr {
			return n, true
		}
	}
	return ring.Node{}, false
}
