package gossip

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dynamo/internal/metrics"
	"dynamo/internal/protocol"
	"dynamo/internal/ring"
)

// GossipFunc delivers a NODE_LIST message to target.
type GossipFunc func(ctx context.Context, target protocol.NodeInfo, msg *protocol.Message) error

// JoinFunc is invoked after a peer joins or is revived, with the ring
// positions it was given. It runs on the goroutine calling Merge, outside
// the membership lock, and must not block.
type JoinFunc func(peer protocol.NodeInfo, added []ring.VirtualNode)

type member struct {
	info     protocol.NodeInfo
	lastSeen time.Time // last heartbeat advance
}

// Membership tracks the alive and dead peer sets. The local node is kept
// apart as self and never appears in either set.
type Membership struct {
	mu    sync.RWMutex
	self  protocol.NodeInfo
	alive map[string]*member // addr -> member
	dead  map[string]*member

	ring       *ring.Ring
	interval   time.Duration
	ttl        time.Duration
	now        func() time.Time
	heartbeats *HeartbeatFile
	onJoin     JoinFunc
	logger     zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMembership creates a membership manager for self. A non-gateway self is
// placed on r immediately.
func NewMembership(self protocol.NodeInfo, r *ring.Ring, interval, ttl time.Duration, logger zerolog.Logger) *Membership {
	if interval <= 0 {
		interval = time.Second
	}
	if ttl <= 0 {
		ttl = 5 * interval
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Membership{
		self:     self,
		alive:    make(map[string]*member),
		dead:     make(map[string]*member),
		ring:     r,
		interval: interval,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
	if !self.Gateway {
		r.AddNode(toRingNode(self))
	}
	return m
}

// SetOnJoin sets the callback invoked when a peer joins or is revived.
func (m *Membership) SetOnJoin(fn JoinFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onJoin = fn
}

// SetHeartbeatFile restores the local heartbeat from f and persists it there
// after every gossip round.
func (m *Membership) SetHeartbeatFile(f *HeartbeatFile) error {
	hb, err := f.Load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeats = f
	if hb > m.self.Heartbeat {
		m.self.Heartbeat = hb
	}
	return nil
}

// AddSeeds adds bootstrap peers as alive with heartbeat 0. Their names and
// ports are filled in by the first gossip that mentions them.
func (m *Membership) AddSeeds(addrs []string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for _, addr := range addrs {
		if addr == "" || addr == m.self.Address {
			continue
		}
		if _, ok := m.alive[addr]; ok {
			continue
		}
		info := protocol.NodeInfo{Address: addr}
		m.alive[addr] = &member{info: info, lastSeen: now}
		m.ring.AddNode(toRingNode(info))
	}
	m.publishLocked()
}

// Start runs the gossip and sweep loops until Stop.
func (m *Membership) Start(gossipFn GossipFunc) {
	m.wg.Add(2)

	// Gossip loop
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.gossip(gossipFn)
			}
		}
	}()

	// Timeout sweep
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(sweepInterval(m.ttl))
		defer ticker.Stop()

		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}

// Stop stops the membership loops.
func (m *Membership) Stop() {
	m.cancel()
	m.wg.Wait()
}

func sweepInterval(ttl time.Duration) time.Duration {
	if d := ttl / 4; d > 10*time.Millisecond {
		return d
	}
	return 10 * time.Millisecond
}

// gossip performs one round: bump the heartbeat, then send the alive set to
// one random alive peer.
func (m *Membership) gossip(gossipFn GossipFunc) {
	target, msg, ok := m.NextRound()
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(m.ctx, m.interval)
	defer cancel()

	err := gossipFn(ctx, target, msg)
	metrics.RecordGossip(err)
	if err != nil {
		m.logger.Warn().Err(err).Str("peer", target.Address).Msg("gossip send failed")
	}
}

// NextRound increments the local heartbeat and picks the round's target and
// message. ok is false when no peer is alive.
func (m *Membership) NextRound() (target protocol.NodeInfo, msg *protocol.Message, ok bool) {
	m.mu.Lock()
	m.self.Heartbeat++
	self := m.self
	hbFile := m.heartbeats
	peers := m.aliveLocked()
	m.mu.Unlock()

	if hbFile != nil {
		if err := hbFile.Save(self.Heartbeat); err != nil {
			m.logger.Warn().Err(err).Msg("persist heartbeat failed")
		}
	}

	if len(peers) == 0 {
		return protocol.NodeInfo{}, nil, false
	}
	target = peers[rand.Intn(len(peers))]
	return target, protocol.NewMessage(self, "", protocol.NodeList{Nodes: peers}), true
}

// Merge folds a peer's alive list into local state. The sender is treated as
// alive with the heartbeat it reported.
func (m *Membership) Merge(src protocol.NodeInfo, remote []protocol.NodeInfo) {
	type join struct {
		info  protocol.NodeInfo
		added []ring.VirtualNode
	}
	var joined []join

	m.mu.Lock()
	now := m.now()
	for _, r := range append([]protocol.NodeInfo{src}, remote...) {
		if r.Address == "" || r.Address == m.self.Address {
			continue
		}

		if local, ok := m.alive[r.Address]; ok {
			newer := r.Heartbeat > local.info.Heartbeat
			m.fillInLocked(local, r, newer)
			if newer {
				local.info.Heartbeat = r.Heartbeat
				local.lastSeen = now
			}
			continue
		}

		if d, ok := m.dead[r.Address]; ok {
			if r.Heartbeat <= d.info.Heartbeat {
				continue
			}
			delete(m.dead, r.Address)
			revived := &member{info: r, lastSeen: now}
			m.fillInLocked(revived, d.info, false)
			m.alive[r.Address] = revived

			var added []ring.VirtualNode
			if !revived.info.Gateway {
				added = m.ring.AddNode(toRingNode(revived.info))
			}
			joined = append(joined, join{revived.info, added})
			metrics.MembershipEvents.WithLabelValues("revive").Inc()
			m.logger.Info().Str("peer", r.Address).Uint64("heartbeat", r.Heartbeat).Msg("member revived")
			continue
		}

		m.alive[r.Address] = &member{info: r, lastSeen: now}
		var added []ring.VirtualNode
		if !r.Gateway {
			added = m.ring.AddNode(toRingNode(r))
		}
		joined = append(joined, join{r, added})
		metrics.MembershipEvents.WithLabelValues("join").Inc()
		m.logger.Info().Str("peer", r.Address).Str("name", r.Name).Bool("gateway", r.Gateway).Msg("discovered new member")
	}
	onJoin := m.onJoin
	if len(joined) > 0 {
		m.publishLocked()
	}
	m.mu.Unlock()

	if onJoin == nil {
		return
	}
	for _, j := range joined {
		onJoin(j.info, j.added)
	}
}

// fillInLocked copies identity details from r into local. Missing fields
// are always filled; when newer is set, r is a fresher snapshot of the same
// peer (for instance after a restart) and its name and ports replace the
// known ones. A peer that turns out to be a gateway leaves the ring.
func (m *Membership) fillInLocked(local *member, r protocol.NodeInfo, newer bool) {
	name := local.info.Name
	if r.Name != "" && (newer || local.info.Name == "") {
		local.info.Name = r.Name
	}
	if r.IOPort != 0 && (newer || local.info.IOPort == 0) {
		local.info.IOPort = r.IOPort
	}
	if r.AckPort != 0 && (newer || local.info.AckPort == 0) {
		local.info.AckPort = r.AckPort
	}

	if r.Gateway && !local.info.Gateway {
		local.info.Gateway = true
		m.ring.RemoveNode(local.info.Address)
		m.publishLocked()
		return
	}
	// Re-adding a placed node keeps its positions and renames it.
	if local.info.Name != name && m.ring.Contains(local.info.Address) {
		m.ring.AddNode(toRingNode(local.info))
	}
}

// Sweep declares dead every alive peer whose heartbeat has not advanced
// within the TTL and removes it from the ring. It returns the peers demoted.
func (m *Membership) Sweep() []protocol.NodeInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var died []protocol.NodeInfo
	for addr, p := range m.alive {
		if now.Sub(p.lastSeen) <= m.ttl {
			continue
		}
		delete(m.alive, addr)
		m.dead[addr] = p
		m.ring.RemoveNode(addr)
		died = append(died, p.info)

		metrics.MembershipEvents.WithLabelValues("dead").Inc()
		m.logger.Info().Str("peer", addr).Uint64("heartbeat", p.info.Heartbeat).
			Dur("silent", now.Sub(p.lastSeen)).Msg("marked member as dead")
	}
	if len(died) > 0 {
		m.publishLocked()
	}
	return died
}

// Self returns the local node's snapshot.
func (m *Membership) Self() protocol.NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.self
}

// Alive returns the alive peers ordered by address.
func (m *Membership) Alive() []protocol.NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.aliveLocked()
}

// Dead returns the dead peers ordered by address.
func (m *Membership) Dead() []protocol.NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return snapshot(m.dead)
}

// Lookup returns the snapshot of self or an alive peer by address.
func (m *Membership) Lookup(addr string) (protocol.NodeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if addr == m.self.Address {
		return m.self, true
	}
	if p, ok := m.alive[addr]; ok {
		return p.info, true
	}
	return protocol.NodeInfo{}, false
}

// StoragePeers returns the alive peers that hold data, i.e. non-gateways.
func (m *Membership) StoragePeers() []protocol.NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	peers := make([]protocol.NodeInfo, 0, len(m.alive))
	for _, n := range m.aliveLocked() {
		if !n.Gateway {
			peers = append(peers, n)
		}
	}
	return peers
}

// RandomStorageNode picks a random storage node among the alive peers and,
// when it stores data, self.
func (m *Membership) RandomStorageNode() (protocol.NodeInfo, bool) {
	candidates := m.StoragePeers()
	if self := m.Self(); !self.Gateway {
		candidates = append(candidates, self)
	}
	if len(candidates) == 0 {
		return protocol.NodeInfo{}, false
	}
	return candidates[rand.Intn(len(candidates))], true
}

func (m *Membership) aliveLocked() []protocol.NodeInfo {
	return snapshot(m.alive)
}

func (m *Membership) publishLocked() {
	metrics.RecordMembership(len(m.alive), len(m.dead))
	metrics.RingVirtualNodes.Set(float64(m.ring.Len()))
}

func snapshot(set map[string]*member) []protocol.NodeInfo {
	nodes := make([]protocol.NodeInfo, 0, len(set))
	for _, p := range set {
		nodes = append(nodes, p.info)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].Address < nodes[j].Address
	})
	return nodes
}

func toRingNode(n protocol.NodeInfo) ring.Node {
	return ring.Node{ID: n.Name, Addr: n.Address}
}
