package gateway

import (
	"context"

	"google.golang.org/grpc"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "dynamo.Gateway"

// GatewayServer is the server API for the dynamo.Gateway service.
type GatewayServer interface {
	CreateBucket(context.Context, *BucketRequest) (*Response, error)
	DeleteBucket(context.Context, *BucketRequest) (*Response, error)
	Put(context.Context, *ObjectRequest) (*Response, error)
	Update(context.Context, *ObjectRequest) (*Response, error)
	Get(context.Context, *ObjectRequest) (*Response, error)
	Delete(context.Context, *ObjectRequest) (*Response, error)
	Health(context.Context, *HealthRequest) (*HealthResponse, error)
	Membership(context.Context, *MembershipRequest) (*MembershipResponse, error)
	Route(context.Context, *RouteRequest) (*RouteResponse, error)
}

// ServiceDesc is the grpc.ServiceDesc for the dynamo.Gateway service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*GatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateBucket", GatewayServer.CreateBucket),
		unary("DeleteBucket", GatewayServer.DeleteBucket),
		unary("Put", GatewayServer.Put),
		unary("Update", GatewayServer.Update),
		unary("Get", GatewayServer.Get),
		unary("Delete", GatewayServer.Delete),
		unary("Health", GatewayServer.Health),
		unary("Membership", GatewayServer.Membership),
		unary("Route", GatewayServer.Route),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "dynamo/gateway.cbor",
}

// RegisterGatewayServer registers srv with s.
func RegisterGatewayServer(s grpc.ServiceRegistrar, srv GatewayServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func fullMethod(name string) string {
	return "/" + ServiceName + "/" + name
}

// unary builds the method descriptor for a unary RPC, decoding the request
// and running any server interceptor around call.
func unary[Req, Resp any](name string, call func(GatewayServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(GatewayServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: fullMethod(name),
			}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(GatewayServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
