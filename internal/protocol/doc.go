// Package protocol defines the messages exchanged between nodes: the
// envelope, one payload type per message kind, and the binary codec used on
// the wire. The codec writes the protobuf wire format directly so envelopes
// stay compact enough for a single UDP datagram.
package protocol
