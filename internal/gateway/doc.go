// Package gateway is the client front door of a dynamo node: a gRPC service
// named dynamo.Gateway whose messages travel as CBOR, plus a client for it.
//
// The service descriptor is declared by hand in the shape protoc-gen-go-grpc
// generates, and the CBOR codec is registered with grpc's encoding registry
// under the "cbor" content subtype.
package gateway
