// Package it runs in-process dynamo clusters on loopback for end-to-end
// tests. Every node binds ephemeral ports and serves the gateway over gRPC.
package it
