// Package node is the long-lived context object of a dynamo process.
//
// A Node owns the ring, membership, transport, quorum tracker and store, and
// runs one receiver goroutine per role socket:
//
//   - gossip: NODE_LIST and PING, applied to membership
//   - io: replica requests, FORWARD and REHASH
//   - ack: ACKNOWLEDGEMENT and FORWARD_ACK replies, delivered to the tracker
//
// Client operations enter through Submit, which hands them to a random
// storage node with FORWARD. The node that finally executes an object
// operation is always one of the key's replicas.
package node
