// Package transport moves protocol messages between nodes over UDP.
//
// Each node binds three sockets, one per role: gossip traffic on the node's
// declared address, object requests on the io port, and acknowledgements on
// the ack port. Every received datagram is decoded before it reaches a
// handler; malformed datagrams are logged and dropped.
package transport
