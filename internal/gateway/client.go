package gateway

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client calls the dynamo.Gateway service of one node.
type Client struct {
	conn *grpc.ClientConn
}

// NewClient creates a client for the node serving gRPC at target. The
// connection is established lazily by the first call.
func NewClient(target string) (*Client, error) {
	conn, err := grpc.NewClient(target,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", target, err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

func invoke[Resp any](ctx context.Context, c *Client, method string, req any) (*Resp, error) {
	out := new(Resp)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// CreateBucket calls the CreateBucket RPC.
func (c *Client) CreateBucket(ctx context.Context, bucket string) (*Response, error) {
	return invoke[Response](ctx, c, "CreateBucket", &BucketRequest{Bucket: bucket})
}

// DeleteBucket calls the DeleteBucket RPC.
func (c *Client) DeleteBucket(ctx context.Context, bucket string) (*Response, error) {
	return invoke[Response](ctx, c, "DeleteBucket", &BucketRequest{Bucket: bucket})
}

// Put creates an object.
func (c *Client) Put(ctx context.Context, bucket, key, value string) (*Response, error) {
	return invoke[Response](ctx, c, "Put", &ObjectRequest{Bucket: bucket, Key: key, Value: value})
}

// Update overwrites an object.
func (c *Client) Update(ctx context.Context, bucket, key, value string) (*Response, error) {
	return invoke[Response](ctx, c, "Update", &ObjectRequest{Bucket: bucket, Key: key, Value: value})
}

// Get reads an object.
func (c *Client) Get(ctx context.Context, bucket, key string) (*Response, error) {
	return invoke[Response](ctx, c, "Get", &ObjectRequest{Bucket: bucket, Key: key})
}

// Delete removes an object.
func (c *Client) Delete(ctx context.Context, bucket, key string) (*Response, error) {
	return invoke[Response](ctx, c, "Delete", &ObjectRequest{Bucket: bucket, Key: key})
}

// Health reports the serving node's view of the cluster.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	return invoke[HealthResponse](ctx, c, "Health", &HealthRequest{})
}

// Membership lists the serving node's alive and dead peers.
func (c *Client) Membership(ctx context.Context) (*MembershipResponse, error) {
	return invoke[MembershipResponse](ctx, c, "Membership", &MembershipRequest{})
}

// Route returns the replica set of key.
func (c *Client) Route(ctx context.Context, key string) (*RouteResponse, error) {
	return invoke[RouteResponse](ctx, c, "Route", &RouteRequest{Key: key})
}
