package gateway

// BucketRequest names a bucket.
type BucketRequest struct {
	Bucket string `cbor:"bucket"`
}

// ObjectRequest names an object and, for writes, its value.
type ObjectRequest struct {
	Bucket string `cbor:"bucket"`
	Key    string `cbor:"key"`
	Value  string `cbor:"value,omitempty"`
}

// Object is one replica's copy of a value.
type Object struct {
	Value   string `cbor:"value"`
	Version int64  `cbor:"version"`
}

// Response is the outcome of a bucket or object operation. A failed quorum
// is reported here with Status false, not as an RPC error.
type Response struct {
	Status   bool     `cbor:"status"`
	Response string   `cbor:"response"`
	Node     string   `cbor:"node"`
	Objects  []Object `cbor:"objects,omitempty"`
}

// HealthRequest has no fields.
type HealthRequest struct{}

// Health statuses.
const (
	StatusOK       = "OK"
	StatusDegraded = "DEGRADED"
)

// HealthResponse summarises the serving node's view of the cluster.
type HealthResponse struct {
	Node          string  `cbor:"node"`
	Status        string  `cbor:"status"`
	Gateway       bool    `cbor:"gateway"`
	Alive         int     `cbor:"alive"`
	Dead          int     `cbor:"dead"`
	StorageNodes  int     `cbor:"storage_nodes"`
	UptimeSeconds float64 `cbor:"uptime_seconds"`
}

// MembershipRequest has no fields.
type MembershipRequest struct{}

// Member is a node snapshot.
type Member struct {
	Name      string `cbor:"name"`
	Address   string `cbor:"address"`
	Heartbeat uint64 `cbor:"heartbeat"`
	Gateway   bool   `cbor:"gateway"`
}

// MembershipResponse lists the serving node and its alive and dead peers.
type MembershipResponse struct {
	Self  Member   `cbor:"self"`
	Alive []Member `cbor:"alive"`
	Dead  []Member `cbor:"dead"`
}

// RouteRequest names a key.
type RouteRequest struct {
	Key string `cbor:"key"`
}

// Replica is one node of a key's replica set.
type Replica struct {
	Name    string `cbor:"name"`
	Address string `cbor:"address"`
}

// RouteResponse is a key's replica set in ring order; the first entry is
// the coordinator.
type RouteResponse struct {
	Key      string    `cbor:"key"`
	Replicas []Replica `cbor:"replicas"`
}
