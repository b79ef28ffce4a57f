// Package quorum collects replica replies against read and write quorums.
//
// Every in-flight request registers a round under a unique transaction id.
// Replies arrive on the node's single ack socket and are dispatched to their
// round by id, so any number of collections run concurrently. A round ends
// at the first of: enough successes, every contacted replica answered, or
// the caller's deadline.
package quorum
