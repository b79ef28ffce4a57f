// Package gossip implements heartbeat-based membership and failure detection.
//
// Every gossip interval a node increments its own heartbeat and sends its
// alive set to one random alive peer. Receivers merge the list: a higher
// heartbeat refreshes a peer, revives a dead one, or introduces a new one. A
// periodic sweep declares dead any peer whose heartbeat has not advanced for
// the TTL. Joins and deaths are applied to the hash ring.
//
// Lock order: the membership mutex is taken before the ring's.
package gossip
