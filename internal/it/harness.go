package it

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"dynamo/internal/config"
	"dynamo/internal/gateway"
	"dynamo/internal/node"
	"dynamo/internal/storage"
)

// Cluster represents a test cluster of nodes
type Cluster struct {
	nodes  []*Node
	logger zerolog.Logger
	mu     sync.Mutex
}

// Node represents a single node in the test cluster
type Node struct {
	Name string
	cfg  config.Config

	node   *node.Node
	grpc   *grpc.Server
	client *gateway.Client
}

// Option adjusts a node's configuration before it starts.
type Option func(*config.Config)

// WithGateway starts the node as an API-only gateway.
func WithGateway() Option {
	return func(c *config.Config) { c.Gateway = true }
}

// WithStore selects the storage backend and its directory.
func WithStore(kind, dir string) Option {
	return func(c *config.Config) {
		c.Store = kind
		c.DataDir = dir
	}
}

// WithQuorum sets N, R and W.
func WithQuorum(n, r, w int) Option {
	return func(c *config.Config) { c.N, c.R, c.W = n, r, w }
}

// WithTTL sets the failure detection timeout.
func WithTTL(ttl time.Duration) Option {
	return func(c *config.Config) { c.TTL = ttl }
}

// NewCluster creates a new test cluster harness
func NewCluster(logger zerolog.Logger) *Cluster {
	return &Cluster{
		nodes:  make([]*Node, 0),
		logger: logger,
	}
}

func (c *Cluster) baseConfig(name string) config.Config {
	cfg := config.Default()
	cfg.Name = name
	cfg.Address = "127.0.0.1:0"
	cfg.IOPort = 0
	cfg.AckPort = 0
	cfg.GossipInterval = 25 * time.Millisecond
	cfg.TTL = time.Second
	cfg.VNodes = 5
	cfg.RequestTimeout = 2 * time.Second
	cfg.ForwardTimeout = 4 * time.Second
	cfg.Store = "memory"
	cfg.DataDir = ""
	cfg.Rehash = false
	cfg.GRPCAddr = "127.0.0.1:0"
	if len(c.nodes) > 0 {
		cfg.Seeds = []string{c.nodes[0].Addr()}
	}
	return cfg
}

// StartNode starts a single node in the cluster, seeded from the first node
func (c *Cluster) StartNode(name string, opts ...Option) (*Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg := c.baseConfig(name)
	for _, opt := range opts {
		opt(&cfg)
	}

	n := &Node{Name: name, cfg: cfg}
	if err := c.start(n); err != nil {
		return nil, err
	}
	c.nodes = append(c.nodes, n)
	return n, nil
}

func (c *Cluster) start(n *Node) error {
	store, err := storage.Open(n.cfg.Store, n.cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open store for %s: %w", n.Name, err)
	}
	nd, err := node.New(n.cfg, store, c.logger)
	if err != nil {
		store.Close()
		return fmt.Errorf("failed to create node %s: %w", n.Name, err)
	}

	lis, err := net.Listen("tcp", n.cfg.GRPCAddr)
	if err != nil {
		nd.Stop()
		return fmt.Errorf("failed to listen for %s: %w", n.Name, err)
	}
	srv := gateway.NewGRPCServer(gateway.NewServer(nd, c.logger))
	go srv.Serve(lis)

	client, err := gateway.NewClient(lis.Addr().String())
	if err != nil {
		srv.Stop()
		nd.Stop()
		return err
	}

	nd.Start()
	n.node, n.grpc, n.client = nd, srv, client
	// Restarts reuse the bound endpoints so peers see the same identity.
	n.cfg = nd.Config()
	n.cfg.GRPCAddr = lis.Addr().String()
	return nil
}

// StartCluster starts count storage nodes named n1..nN and waits until they
// know each other.
func (c *Cluster) StartCluster(ctx context.Context, count int, opts ...Option) error {
	for i := 1; i <= count; i++ {
		if _, err := c.StartNode(fmt.Sprintf("n%d", i), opts...); err != nil {
			c.Stop()
			return err
		}
	}
	return c.WaitConverged(ctx)
}

// WaitConverged waits until every running node sees every other running
// node as alive with its ports.
func (c *Cluster) WaitConverged(ctx context.Context) error {
	ticker := time.NewTicker(25 * time.Millisecond)
	defer ticker.Stop()

	for {
		if c.converged() {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("cluster did not converge: %w", ctx.Err())
		case <-ticker.C:
		}
	}
}

func (c *Cluster) converged() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.node == nil {
			continue
		}
		for _, other := range c.nodes {
			if other == n || other.node == nil {
				continue
			}
			info, ok := n.node.Membership().Lookup(other.Addr())
			if !ok || info.IOPort == 0 || info.Name == "" {
				return false
			}
		}
	}
	return true
}

// GetNode returns a node by name
func (c *Cluster) GetNode(name string) *Node {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// KillNode stops a node, leaving it in the cluster for RestartNode.
func (c *Cluster) KillNode(name string) error {
	n := c.GetNode(name)
	if n == nil {
		return fmt.Errorf("node %s not found", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	n.stop()
	return nil
}

// RestartNode starts a killed node again on the same endpoints and store.
func (c *Cluster) RestartNode(name string) error {
	n := c.GetNode(name)
	if n == nil {
		return fmt.Errorf("node %s not found", name)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if n.node != nil {
		return fmt.Errorf("node %s is running", name)
	}
	return c.start(n)
}

// Stop stops all nodes in the cluster
func (c *Cluster) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, n := range c.nodes {
		n.stop()
	}
	c.nodes = nil
}

func (n *Node) stop() {
	if n.node == nil {
		return
	}
	n.client.Close()
	n.grpc.Stop()
	n.node.Stop()
	n.node, n.grpc, n.client = nil, nil, nil
}

// Addr returns the node's gossip address, its identity in the cluster.
func (n *Node) Addr() string {
	return n.cfg.Address
}

// Client returns the gateway client for a node
func (n *Node) Client() *gateway.Client {
	return n.client
}

// Node returns the running node, or nil after KillNode.
func (n *Node) Node() *node.Node {
	return n.node
}
