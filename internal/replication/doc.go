// Package replication plans where a key's copies live: the replica set from
// the ring, whether the local node is part of it, and how many remote votes
// a quorum still needs once the local vote is counted.
package replication
