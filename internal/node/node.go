package node

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"dynamo/internal/config"
	"dynamo/internal/gossip"
	"dynamo/internal/protocol"
	"dynamo/internal/quorum"
	"dynamo/internal/ring"
	"dynamo/internal/storage"
	"dynamo/internal/transport"
)

// Node represents a single node in the distributed system.
type Node struct {
	cfg        config.Config
	logger     zerolog.Logger
	store      storage.Store
	ring       *ring.Ring
	membership *gossip.Membership
	gossip     *gossip.Server
	transport  *transport.UDP
	tracker    *quorum.Tracker
	started    time.Time

	pushMu  sync.Mutex
	pushing map[string]bool // rehash targets being pushed to

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
	stopErr  error
}

// New binds the node's sockets and builds its components. The node takes
// ownership of store. Ports left at zero in cfg are bound ephemerally and the
// bound ports are what the node advertises.
func New(cfg config.Config, store storage.Store, logger zerolog.Logger) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hash, err := ring.HashByName(cfg.Hash)
	if err != nil {
		return nil, err
	}
	rng, err := ring.NewRing(cfg.VNodes, hash)
	if err != nil {
		return nil, err
	}

	host, portStr, err := net.SplitHostPort(cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("parse address %s: %w", cfg.Address, err)
	}
	gossipPort, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("parse address %s: %w", cfg.Address, err)
	}

	logger = logger.With().Str("node", cfg.Name).Logger()
	udp, err := transport.Listen(host, transport.Ports{Gossip: gossipPort, IO: cfg.IOPort, Ack: cfg.AckPort}, logger)
	if err != nil {
		return nil, err
	}
	bound := udp.Ports()
	cfg.Address = net.JoinHostPort(host, strconv.Itoa(bound.Gossip))
	cfg.IOPort, cfg.AckPort = bound.IO, bound.Ack

	membership := gossip.NewMembership(cfg.Self(), rng, cfg.GossipInterval, cfg.TTL, logger)
	if cfg.DataDir != "" && !cfg.Gateway {
		if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
			udp.Close()
			return nil, fmt.Errorf("create data dir: %w", err)
		}
		if err := membership.SetHeartbeatFile(gossip.NewHeartbeatFile(cfg.DataDir, cfg.Name)); err != nil {
			udp.Close()
			return nil, fmt.Errorf("restore heartbeat: %w", err)
		}
	}
	membership.AddSeeds(cfg.Seeds)

	ctx, cancel := context.WithCancel(context.Background())
	n := &Node{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		ring:       rng,
		membership: membership,
		gossip:     gossip.NewServer(membership, logger),
		transport:  udp,
		tracker:    quorum.NewTracker(),
		pushing:    make(map[string]bool),
		ctx:        ctx,
		cancel:     cancel,
	}
	if cfg.Rehash && !cfg.Gateway {
		membership.SetOnJoin(n.onJoin)
	}
	return n, nil
}

// Start launches the receivers and the gossip loop. It does not block.
func (n *Node) Start() {
	n.started = time.Now()

	serve := func(role transport.Role, h transport.Handler) {
		n.wg.Add(1)
		go func() {
			defer n.wg.Done()
			if err := n.transport.Serve(n.ctx, role, h); err != nil {
				n.logger.Error().Err(err).Str("role", role.String()).Msg("receiver stopped")
			}
		}()
	}
	serve(transport.RoleGossip, n.gossip.Handle)
	serve(transport.RoleIO, n.handleIO)
	serve(transport.RoleAck, n.handleAck)

	n.membership.Start(n.gossipFn)

	self := n.Self()
	n.logger.Info().
		Str("address", self.Address).
		Int("io_port", self.IOPort).
		Int("ack_port", self.AckPort).
		Bool("gateway", self.Gateway).
		Msg("node started")
}

// Stop gracefully stops the node and closes its store. Later calls return
// the first call's result.
func (n *Node) Stop() error {
	n.stopOnce.Do(func() {
		n.logger.Info().Msg("stopping node")
		n.membership.Stop()
		n.cancel()
		err := n.transport.Close()
		n.wg.Wait()

		if n.store != nil {
			if cerr := n.store.Close(); err == nil {
				err = cerr
			}
		}
		n.stopErr = err
	})
	return n.stopErr
}

// Self returns the node's current snapshot, including its heartbeat.
func (n *Node) Self() protocol.NodeInfo {
	return n.membership.Self()
}

// Membership exposes the node's membership view.
func (n *Node) Membership() *gossip.Membership {
	return n.membership
}

// Ring exposes the node's ring.
func (n *Node) Ring() *ring.Ring {
	return n.ring
}

// Store exposes the node's local store.
func (n *Node) Store() storage.Store {
	return n.store
}

// Config returns the effective configuration, with bound ports filled in.
func (n *Node) Config() config.Config {
	return n.cfg
}

// Members returns the alive and dead peers, ordered by address.
func (n *Node) Members() (alive, dead []protocol.NodeInfo) {
	return n.membership.Alive(), n.membership.Dead()
}

// ReplicationFactor returns N.
func (n *Node) ReplicationFactor() int {
	return n.cfg.N
}

// Uptime returns the time since Start.
func (n *Node) Uptime() time.Duration {
	if n.started.IsZero() {
		return 0
	}
	return time.Since(n.started)
}

// Replicas returns the replica set of key.
func (n *Node) Replicas(key string) []ring.Node {
	return n.ring.RouteNodes(key, n.cfg.N)
}

// gossipFn sends gossip to propagate membership.
func (n *Node) gossipFn(ctx context.Context, target protocol.NodeInfo, msg *protocol.Message) error {
	return n.transport.Send(target.Address, msg)
}

// spawn runs fn on a goroutine that Stop waits for. It must be called from
// a goroutine Stop already waits for, such as a receiver.
func (n *Node) spawn(fn func()) {
	if n.ctx.Err() != nil {
		return
	}
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		fn()
	}()
}

func (n *Node) isSelf(addr string) bool {
	return addr == n.cfg.Address
}

func newTxnID() string {
	return uuid.NewString()
}
