package protocol

import (
	"net"
	"strconv"
)

// Type identifies the kind of a message.
type Type uint8

const (
	TypePing Type = iota + 1
	TypeNodeList
	TypeBucketCreate
	TypeBucketDelete
	TypeObjectCreate
	TypeObjectRead
	TypeObjectUpdate
	TypeObjectDelete
	TypeAck
	TypeForward
	TypeForwardAck
	TypeForwardAckRead
	TypeRehash
)

// String returns the string representation of the Type.
func (t Type) String() string {
	switch t {
	case TypePing:
		return "PING"
	case TypeNodeList:
		return "NODE_LIST"
	case TypeBucketCreate:
		return "BUCKET_CREATE"
	case TypeBucketDelete:
		return "BUCKET_DELETE"
	case TypeObjectCreate:
		return "OBJECT_CREATE"
	case TypeObjectRead:
		return "OBJECT_READ"
	case TypeObjectUpdate:
		return "OBJECT_UPDATE"
	case TypeObjectDelete:
		return "OBJECT_DELETE"
	case TypeAck:
		return "ACKNOWLEDGEMENT"
	case TypeForward:
		return "FORWARD"
	case TypeForwardAck:
		return "FORWARD_ACK"
	case TypeForwardAckRead:
		return "FORWARD_ACK_READ"
	case TypeRehash:
		return "REHASH"
	default:
		return "UNKNOWN"
	}
}

// IsBucketOp reports whether t is a bucket request.
func (t Type) IsBucketOp() bool {
	return t == TypeBucketCreate || t == TypeBucketDelete
}

// IsObjectOp reports whether t is an object request.
func (t Type) IsObjectOp() bool {
	switch t {
	case TypeObjectCreate, TypeObjectRead, TypeObjectUpdate, TypeObjectDelete:
		return true
	}
	return false
}

// Default role ports used when a node does not advertise its own.
const (
	DefaultIOPort  = 9700
	DefaultAckPort = 9720
)

// NodeInfo is the snapshot of a physical node carried on the wire.
// Address is the node's gossip endpoint and its identity.
type NodeInfo struct {
	Name      string
	Address   string
	Heartbeat uint64
	Gateway   bool
	IOPort    int
	AckPort   int
}

// IOAddress returns the endpoint that accepts object requests.
func (n NodeInfo) IOAddress() string {
	port := n.IOPort
	if port == 0 {
		port = DefaultIOPort
	}
	return n.withPort(port)
}

// AckAddress returns the endpoint that accepts acknowledgements.
func (n NodeInfo) AckAddress() string {
	port := n.AckPort
	if port == 0 {
		port = DefaultAckPort
	}
	return n.withPort(port)
}

func (n NodeInfo) withPort(port int) string {
	host, _, err := net.SplitHostPort(n.Address)
	if err != nil {
		host = n.Address
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// StoredObject is a value with its node-local version.
type StoredObject struct {
	Value   string
	Version int64
}

// Payload is the body of a message. The set of implementations is closed;
// each one maps to exactly one Type.
type Payload interface {
	Type() Type
	isPayload()
}

// Ping is a liveness probe with no body.
type Ping struct{}

// NodeList carries the sender's view of the alive set.
type NodeList struct {
	Nodes []NodeInfo
}

// BucketCreate asks a peer to create a bucket.
type BucketCreate struct {
	Bucket string
}

// BucketDelete asks a peer to delete a bucket.
type BucketDelete struct {
	Bucket string
}

// ObjectCreate asks a replica to store a new object at Version.
type ObjectCreate struct {
	Bucket  string
	Key     string
	Value   string
	Version int64
}

// ObjectUpdate asks a replica to overwrite an existing object.
type ObjectUpdate struct {
	Bucket string
	Key    string
	Value  string
}

// ObjectRead asks a replica for its copy of an object.
type ObjectRead struct {
	Bucket string
	Key    string
}

// ObjectDelete asks a replica to delete an object.
type ObjectDelete struct {
	Bucket string
	Key    string
}

// Ack answers a bucket or object request. Object is set for reads that
// found a value.
type Ack struct {
	RequestType Type
	Identifier  string
	TxnID       string
	Status      bool
	Object      *StoredObject
}

// Forward hands a client operation to another node. Forwarded is set once
// the request has already been re-routed and must not move again.
type Forward struct {
	RequestType Type
	Bucket      string
	Key         string
	Value       string
	TxnID       string
	Forwarded   bool
}

// ForwardAck reports the outcome of a forwarded write.
type ForwardAck struct {
	Status bool
}

// ForwardAckRead returns the objects collected by a forwarded read.
type ForwardAckRead struct {
	Objects []StoredObject
}

// Rehash asks the receiver to push the objects Target now coordinates.
type Rehash struct {
	Target NodeInfo
}

func (Ping) Type() Type           { return TypePing }
func (NodeList) Type() Type       { return TypeNodeList }
func (BucketCreate) Type() Type   { return TypeBucketCreate }
func (BucketDelete) Type() Type   { return TypeBucketDelete }
func (ObjectCreate) Type() Type   { return TypeObjectCreate }
func (ObjectUpdate) Type() Type   { return TypeObjectUpdate }
func (ObjectRead) Type() Type     { return TypeObjectRead }
func (ObjectDelete) Type() Type   { return TypeObjectDelete }
func (Ack) Type() Type            { return TypeAck }
func (Forward) Type() Type        { return TypeForward }
func (ForwardAck) Type() Type     { return TypeForwardAck }
func (ForwardAckRead) Type() Type { return TypeForwardAckRead }
func (Rehash) Type() Type         { return TypeRehash }

func (Ping) isPayload()           {}
func (NodeList) isPayload()       {}
func (BucketCreate) isPayload()   {}
func (BucketDelete) isPayload()   {}
func (ObjectCreate) isPayload()   {}
func (ObjectUpdate) isPayload()   {}
func (ObjectRead) isPayload()     {}
func (ObjectDelete) isPayload()   {}
func (Ack) isPayload()            {}
func (Forward) isPayload()        {}
func (ForwardAck) isPayload()     {}
func (ForwardAckRead) isPayload() {}
func (Rehash) isPayload()         {}

// Message is the envelope for every datagram. TxnID correlates replies with
// the request that caused them.
type Message struct {
	Source  NodeInfo
	TxnID   string
	Payload Payload
}

// NewMessage builds an envelope.
func NewMessage(src NodeInfo, txnID string, p Payload) *Message {
	return &Message{Source: src, TxnID: txnID, Payload: p}
}

// Type returns the kind of the carried payload.
func (m *Message) Type() Type {
	if m.Payload == nil {
		return 0
	}
	return m.Payload.Type()
}
