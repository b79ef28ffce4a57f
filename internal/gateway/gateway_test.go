package gateway

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dynamo/internal/node"
	"dynamo/internal/protocol"
	"dynamo/internal/ring"
)

type fakeBackend struct {
	mu       sync.Mutex
	requests []node.Request
	result   node.Result
	self     protocol.NodeInfo
	alive    []protocol.NodeInfo
	dead     []protocol.NodeInfo
}

func (f *fakeBackend) Submit(ctx context.Context, req node.Request) node.Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result
}

func (f *fakeBackend) Self() protocol.NodeInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.self
}

func (f *fakeBackend) Members() (alive, dead []protocol.NodeInfo) { return f.alive, f.dead }

func (f *fakeBackend) Replicas(key string) []ring.Node {
	return []ring.Node{{ID: "n1", Addr: "127.0.0.1:7001"}, {ID: "n2", Addr: "127.0.0.1:7002"}}
}

func (f *fakeBackend) ReplicationFactor() int { return 3 }

func (f *fakeBackend) Uptime() time.Duration { return 90 * time.Second }

func (f *fakeBackend) last() node.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func startGateway(t *testing.T, backend Backend) *Client {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := NewGRPCServer(NewServer(backend, zerolog.Nop()))
	go srv.Serve(lis)
	t.Cleanup(srv.Stop)

	client, err := NewClient(lis.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestGateway_ObjectCalls(t *testing.T) {
	backend := &fakeBackend{
		self: protocol.NodeInfo{Name: "n1", Address: "127.0.0.1:7001"},
		result: node.Result{
			Status:   true,
			Response: "<value: v1 version: 1> ",
			Node:     "n2",
			Objects:  []protocol.StoredObject{{Value: "v1", Version: 1}},
		},
	}
	client := startGateway(t, backend)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Get(ctx, "photos", "k1")
	require.NoError(t, err)
	assert.True(t, resp.Status)
	assert.Equal(t, "n2", resp.Node)
	assert.Equal(t, []Object{{Value: "v1", Version: 1}}, resp.Objects)
	assert.Equal(t, node.Request{Op: protocol.TypeObjectRead, Bucket: "photos", Key: "k1"}, backend.last())

	calls := []struct {
		name string
		call func() (*Response, error)
		want node.Request
	}{
		{"create bucket", func() (*Response, error) { return client.CreateBucket(ctx, "photos") },
			node.Request{Op: protocol.TypeBucketCreate, Bucket: "photos"}},
		{"delete bucket", func() (*Response, error) { return client.DeleteBucket(ctx, "photos") },
			node.Request{Op: protocol.TypeBucketDelete, Bucket: "photos"}},
		{"put", func() (*Response, error) { return client.Put(ctx, "photos", "k1", "v1") },
			node.Request{Op: protocol.TypeObjectCreate, Bucket: "photos", Key: "k1", Value: "v1"}},
		{"update", func() (*Response, error) { return client.Update(ctx, "photos", "k1", "v2") },
			node.Request{Op: protocol.TypeObjectUpdate, Bucket: "photos", Key: "k1", Value: "v2"}},
		{"delete", func() (*Response, error) { return client.Delete(ctx, "photos", "k1") },
			node.Request{Op: protocol.TypeObjectDelete, Bucket: "photos", Key: "k1"}},
	}
	for _, tt := range calls {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := tt.call()
			require.NoError(t, err)
			assert.True(t, resp.Status)
			assert.Equal(t, tt.want, backend.last())
		})
	}
}

func TestGateway_QuorumFailureIsNotAnError(t *testing.T) {
	backend := &fakeBackend{result: node.Result{Response: "Read quorum failed", Node: "n3"}}
	client := startGateway(t, backend)

	resp, err := client.Get(context.Background(), "photos", "k1")
	require.NoError(t, err)
	assert.False(t, resp.Status)
	assert.Equal(t, "Read quorum failed", resp.Response)
	assert.Empty(t, resp.Objects)
}

func TestGateway_InvalidArgument(t *testing.T) {
	backend := &fakeBackend{}
	client := startGateway(t, backend)
	ctx := context.Background()

	_, err := client.Put(ctx, "photos", "", "v")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.CreateBucket(ctx, "a/b")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = client.Route(ctx, "")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	assert.Empty(t, backend.requests)
}

func TestGateway_DebugCalls(t *testing.T) {
	backend := &fakeBackend{
		self: protocol.NodeInfo{Name: "gw", Address: "127.0.0.1:7100", Gateway: true, Heartbeat: 9},
		alive: []protocol.NodeInfo{
			{Name: "n1", Address: "127.0.0.1:7001", Heartbeat: 4},
			{Name: "n2", Address: "127.0.0.1:7002", Heartbeat: 3},
		},
		dead: []protocol.NodeInfo{{Name: "n3", Address: "127.0.0.1:7003", Heartbeat: 1}},
	}
	client := startGateway(t, backend)
	ctx := context.Background()

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gw", health.Node)
	assert.Equal(t, StatusDegraded, health.Status)
	assert.Equal(t, 2, health.StorageNodes)
	assert.Equal(t, 2, health.Alive)
	assert.Equal(t, 1, health.Dead)
	assert.InDelta(t, 90, health.UptimeSeconds, 0.001)

	backend.mu.Lock()
	backend.self.Gateway = false
	backend.mu.Unlock()
	health, err = client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, health.Status)

	members, err := client.Membership(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gw", members.Self.Name)
	require.Len(t, members.Alive, 2)
	assert.Equal(t, uint64(4), members.Alive[0].Heartbeat)
	require.Len(t, members.Dead, 1)
	assert.Equal(t, "n3", members.Dead[0].Name)

	route, err := client.Route(ctx, "user42")
	require.NoError(t, err)
	assert.Equal(t, "user42", route.Key)
	assert.Equal(t, []Replica{{Name: "n1", Address: "127.0.0.1:7001"}, {Name: "n2", Address: "127.0.0.1:7002"}}, route.Replicas)
}
