// Package ring implements a consistent hashing ring with virtual nodes.
// It maps keys to physical nodes while minimizing key movement when
// membership changes and answers which N distinct nodes own a key.
//
// Hash collisions between virtual node keys are resolved by linear probing:
// a colliding position is moved to the next free 64-bit slot, so no virtual
// node ever silently replaces another.
package ring
