package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dynamo/internal/node"
	"dynamo/internal/protocol"
	"dynamo/internal/ring"
)

// Backend is the node API the gateway serves.
type Backend interface {
	Submit(ctx context.Context, req node.Request) node.Result
	Self() protocol.NodeInfo
	Members() (alive, dead []protocol.NodeInfo)
	Replicas(key string) []ring.Node
	ReplicationFactor() int
	Uptime() time.Duration
}

// Server implements GatewayServer on top of a Backend.
type Server struct {
	backend Backend
	logger  zerolog.Logger
}

var _ GatewayServer = (*Server)(nil)

// NewServer creates a gateway server.
func NewServer(backend Backend, logger zerolog.Logger) *Server {
	return &Server{backend: backend, logger: logger}
}

// CreateBucket handles CreateBucket requests.
func (s *Server) CreateBucket(ctx context.Context, req *BucketRequest) (*Response, error) {
	return s.submit(ctx, node.Request{Op: protocol.TypeBucketCreate, Bucket: req.Bucket})
}

// DeleteBucket handles DeleteBucket requests.
func (s *Server) DeleteBucket(ctx context.Context, req *BucketRequest) (*Response, error) {
	return s.submit(ctx, node.Request{Op: protocol.TypeBucketDelete, Bucket: req.Bucket})
}

// Put handles Put requests.
func (s *Server) Put(ctx context.Context, req *ObjectRequest) (*Response, error) {
	return s.submit(ctx, node.Request{Op: protocol.TypeObjectCreate, Bucket: req.Bucket, Key: req.Key, Value: req.Value})
}

// Update handles Update requests.
func (s *Server) Update(ctx context.Context, req *ObjectRequest) (*Response, error) {
	return s.submit(ctx, node.Request{Op: protocol.TypeObjectUpdate, Bucket: req.Bucket, Key: req.Key, Value: req.Value})
}

// Get handles Get requests.
func (s *Server) Get(ctx context.Context, req *ObjectRequest) (*Response, error) {
	return s.submit(ctx, node.Request{Op: protocol.TypeObjectRead, Bucket: req.Bucket, Key: req.Key})
}

// Delete handles Delete requests.
func (s *Server) Delete(ctx context.Context, req *ObjectRequest) (*Response, error) {
	return s.submit(ctx, node.Request{Op: protocol.TypeObjectDelete, Bucket: req.Bucket, Key: req.Key})
}

func (s *Server) submit(ctx context.Context, req node.Request) (*Response, error) {
	s.logger.Debug().Stringer("req", req).Msg("client request")

	if err := node.ValidateRequest(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	res := s.backend.Submit(ctx, req)
	resp := &Response{
		Status:   res.Status,
		Response: res.Response,
		Node:     res.Node,
	}
	for _, o := range res.Objects {
		resp.Objects = append(resp.Objects, Object{Value: o.Value, Version: o.Version})
	}
	return resp, nil
}

// Health reports the serving node's view of the cluster. It is DEGRADED
// while fewer than N storage nodes are alive.
func (s *Server) Health(ctx context.Context, req *HealthRequest) (*HealthResponse, error) {
	self := s.backend.Self()
	alive, dead := s.backend.Members()

	storage := 0
	if !self.Gateway {
		storage++
	}
	for _, m := range alive {
		if !m.Gateway {
			storage++
		}
	}

	health := StatusOK
	if storage < s.backend.ReplicationFactor() {
		health = StatusDegraded
	}
	return &HealthResponse{
		Node:          self.Name,
		Status:        health,
		Gateway:       self.Gateway,
		Alive:         len(alive),
		Dead:          len(dead),
		StorageNodes:  storage,
		UptimeSeconds: s.backend.Uptime().Seconds(),
	}, nil
}

// Membership lists the serving node and its peers.
func (s *Server) Membership(ctx context.Context, req *MembershipRequest) (*MembershipResponse, error) {
	alive, dead := s.backend.Members()
	return &MembershipResponse{
		Self:  toMember(s.backend.Self()),
		Alive: toMembers(alive),
		Dead:  toMembers(dead),
	}, nil
}

// Route returns the replica set of a key.
func (s *Server) Route(ctx context.Context, req *RouteRequest) (*RouteResponse, error) {
	if req.Key == "" {
		return nil, status.Error(codes.InvalidArgument, "key cannot be empty")
	}

	replicas := s.backend.Replicas(req.Key)
	resp := &RouteResponse{Key: req.Key, Replicas: make([]Replica, 0, len(replicas))}
	for _, r := range replicas {
		resp.Replicas = append(resp.Replicas, Replica{Name: r.ID, Address: r.Addr})
	}
	return resp, nil
}

func toMember(n protocol.NodeInfo) Member {
	return Member{Name: n.Name, Address: n.Address, Heartbeat: n.Heartbeat, Gateway: n.Gateway}
}

func toMembers(nodes []protocol.NodeInfo) []Member {
	members := make([]Member, 0, len(nodes))
	for _, n := range nodes {
		members = append(members, toMember(n))
	}
	return members
}

// NewGRPCServer returns a grpc.Server serving srv, with every call logged
// at debug level.
func NewGRPCServer(srv *Server, opts ...grpc.ServerOption) *grpc.Server {
	opts = append(opts, grpc.ChainUnaryInterceptor(srv.logCalls))
	g := grpc.NewServer(opts...)
	RegisterGatewayServer(g, srv)
	return g
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug().Str("method", info.FullMethod).Dur("took", time.Since(start)).
		Str("code", status.Code(err).String()).Msg("rpc")
	return resp, err
}
