package gossip

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamo/internal/protocol"
	"dynamo/internal/ring"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var local = protocol.NodeInfo{Name: "local", Address: "127.0.0.1:7000"}

func newTestMembership(t *testing.T, self protocol.NodeInfo) (*Membership, *ring.Ring, *fakeClock) {
	t.Helper()
	r, err := ring.NewRing(3, nil)
	require.NoError(t, err)

	clock := &fakeClock{now: time.Unix(1000, 0)}
	m := NewMembership(self, r, 100*time.Millisecond, 300*time.Millisecond, zerolog.Nop())
	m.now = clock.Now
	return m, r, clock
}

func TestMembership_SelfOnRing(t *testing.T) {
	_, r, _ := newTestMembership(t, local)
	assert.Equal(t, 3, r.VirtualNodeCount(local.Address))

	gw := protocol.NodeInfo{Name: "gw", Address: "127.0.0.1:7100", Gateway: true}
	_, r, _ = newTestMembership(t, gw)
	assert.Equal(t, 0, r.Len(), "gateway must not be hashed")
}

func TestMembership_MergeDiscoversSenderAndList(t *testing.T) {
	m, r, _ := newTestMembership(t, local)

	src := protocol.NodeInfo{Name: "a", Address: "127.0.0.1:7001", Heartbeat: 4}
	m.Merge(src, []protocol.NodeInfo{
		{Name: "b", Address: "127.0.0.1:7002", Heartbeat: 2},
		local, // self is ignored
	})

	alive := m.Alive()
	require.Len(t, alive, 2)
	assert.Equal(t, "a", alive[0].Name)
	assert.Equal(t, uint64(4), alive[0].Heartbeat)
	assert.Equal(t, 3, r.VirtualNodeCount("127.0.0.1:7001"))
	assert.Equal(t, 3, r.VirtualNodeCount("127.0.0.1:7002"))
	assert.Equal(t, 9, r.Len())
}

func TestMembership_HeartbeatMonotonic(t *testing.T) {
	m, _, _ := newTestMembership(t, local)
	peer := protocol.NodeInfo{Name: "a", Address: "127.0.0.1:7001", Heartbeat: 10}
	m.Merge(peer, nil)

	for _, hb := range []uint64{3, 10, 0, 9} {
		stale := peer
		stale.Heartbeat = hb
		m.Merge(local, []protocol.NodeInfo{stale})

		got, ok := m.Lookup(peer.Address)
		require.True(t, ok)
		assert.Equal(t, uint64(10), got.Heartbeat, "heartbeat must never decrease")
	}

	peer.Heartbeat = 11
	m.Merge(local, []protocol.NodeInfo{peer})
	got, _ := m.Lookup(peer.Address)
	assert.Equal(t, uint64(11), got.Heartbeat)
}

func TestMembership_SweepDeclaresDead(t *testing.T) {
	m, r, clock := newTestMembership(t, local)
	d := protocol.NodeInfo{Name: "d", Address: "127.0.0.1:7004", Heartbeat: 1}
	m.Merge(d, nil)
	require.Equal(t, 3, r.VirtualNodeCount(d.Address))

	// Heartbeats that do not advance do not refresh the timer.
	clock.Advance(200 * time.Millisecond)
	m.Merge(local, []protocol.NodeInfo{d})
	assert.Empty(t, m.Sweep())

	clock.Advance(150 * time.Millisecond)
	died := m.Sweep()
	require.Len(t, died, 1)
	assert.Equal(t, d.Address, died[0].Address)

	assert.Empty(t, m.Alive())
	assert.Len(t, m.Dead(), 1)
	assert.Equal(t, 0, r.VirtualNodeCount(d.Address))
	for _, key := range []string{"k1", "k2", "user42", "photos"} {
		for _, n := range r.RouteNodes(key, 3) {
			assert.NotEqual(t, d.Address, n.Addr)
		}
	}
}

func TestMembership_AdvancingHeartbeatKeepsAlive(t *testing.T) {
	m, _, clock := newTestMembership(t, local)
	peer := protocol.NodeInfo{Name: "a", Address: "127.0.0.1:7001", Heartbeat: 1}
	m.Merge(peer, nil)

	for i := 0; i < 10; i++ {
		clock.Advance(200 * time.Millisecond)
		peer.Heartbeat++
		m.Merge(peer, nil)
		assert.Empty(t, m.Sweep())
	}
	assert.Len(t, m.Alive(), 1)
}

func TestMembership_Revive(t *testing.T) {
	m, r, clock := newTestMembership(t, local)
	peer := protocol.NodeInfo{Name: "a", Address: "127.0.0.1:7001", Heartbeat: 5, IOPort: 9801}
	m.Merge(peer, nil)
	clock.Advance(time.Second)
	require.Len(t, m.Sweep(), 1)

	// Equal heartbeat does not revive.
	m.Merge(local, []protocol.NodeInfo{peer})
	assert.Empty(t, m.Alive())

	joined := make(chan protocol.NodeInfo, 1)
	m.SetOnJoin(func(p protocol.NodeInfo, added []ring.VirtualNode) {
		assert.Len(t, added, 3)
		joined <- p
	})

	peer.Heartbeat = 6
	peer.IOPort = 0
	m.Merge(local, []protocol.NodeInfo{peer})

	alive := m.Alive()
	require.Len(t, alive, 1)
	assert.Empty(t, m.Dead())
	assert.Equal(t, 3, r.VirtualNodeCount(peer.Address))
	assert.Equal(t, 9801, alive[0].IOPort, "known ports survive revival")

	select {
	case p := <-joined:
		assert.Equal(t, peer.Address, p.Address)
	case <-time.After(time.Second):
		t.Fatal("join callback not invoked")
	}
}

func TestMembership_RestartedPeerAdvertisesNewPorts(t *testing.T) {
	m, _, _ := newTestMembership(t, local)
	peer := protocol.NodeInfo{Name: "b", Address: "127.0.0.1:7002", Heartbeat: 1, IOPort: 4001, AckPort: 4002}
	m.Merge(peer, nil)

	// Restarted within the TTL on fresh ephemeral ports, resuming its
	// persisted heartbeat.
	restarted := peer
	restarted.Heartbeat = 9
	restarted.IOPort, restarted.AckPort = 5001, 5002
	m.Merge(restarted, nil)

	got, ok := m.Lookup(peer.Address)
	require.True(t, ok)
	assert.Equal(t, uint64(9), got.Heartbeat)
	assert.Equal(t, 5001, got.IOPort)
	assert.Equal(t, 5002, got.AckPort)

	// A stale snapshot carrying the old ports changes nothing.
	m.Merge(local, []protocol.NodeInfo{peer})
	got, _ = m.Lookup(peer.Address)
	assert.Equal(t, 5001, got.IOPort)
	assert.Equal(t, 5002, got.AckPort)

	// Zero ports in a newer snapshot do not erase known ones.
	restarted.Heartbeat = 10
	restarted.IOPort, restarted.AckPort = 0, 0
	m.Merge(restarted, nil)
	got, _ = m.Lookup(peer.Address)
	assert.Equal(t, 5001, got.IOPort)
	assert.Equal(t, 5002, got.AckPort)
}

func TestMembership_SeedNameReachesRing(t *testing.T) {
	m, r, _ := newTestMembership(t, local)
	seed := "127.0.0.1:7003"
	m.AddSeeds([]string{seed})
	require.Equal(t, 3, r.VirtualNodeCount(seed))

	m.Merge(protocol.NodeInfo{Name: "seed", Address: seed, Heartbeat: 1}, nil)

	assert.Equal(t, 3, r.VirtualNodeCount(seed), "renaming keeps positions")
	for _, n := range r.GetNodes() {
		if n.Addr == seed {
			assert.Equal(t, "seed", n.ID)
		}
	}
	for i := 0; i < 20; i++ {
		for _, n := range r.RouteNodes(strconv.Itoa(i), 2) {
			assert.NotEmpty(t, n.ID)
		}
	}
}

func TestMembership_GatewayExcludedFromRing(t *testing.T) {
	m, r, _ := newTestMembership(t, local)
	m.AddSeeds([]string{"127.0.0.1:7100"})
	require.Equal(t, 3, r.VirtualNodeCount("127.0.0.1:7100"))

	// The seed reveals itself as a gateway.
	gw := protocol.NodeInfo{Name: "gw", Address: "127.0.0.1:7100", Heartbeat: 1, Gateway: true}
	m.Merge(gw, nil)
	assert.Equal(t, 0, r.VirtualNodeCount(gw.Address))

	got, ok := m.Lookup(gw.Address)
	require.True(t, ok)
	assert.Equal(t, "gw", got.Name)
	assert.True(t, got.Gateway)
	assert.Empty(t, m.StoragePeers())

	other := protocol.NodeInfo{Name: "gw2", Address: "127.0.0.1:7101", Gateway: true}
	m.Merge(other, nil)
	assert.Equal(t, 0, r.VirtualNodeCount(other.Address))
}

func TestMembership_NextRound(t *testing.T) {
	m, _, _ := newTestMembership(t, local)

	_, _, ok := m.NextRound()
	assert.False(t, ok, "no peers to gossip with")
	assert.Equal(t, uint64(1), m.Self().Heartbeat)

	m.AddSeeds([]string{"127.0.0.1:7001", "127.0.0.1:7002", local.Address})
	target, msg, ok := m.NextRound()
	require.True(t, ok)
	assert.Contains(t, []string{"127.0.0.1:7001", "127.0.0.1:7002"}, target.Address)
	assert.Equal(t, uint64(2), msg.Source.Heartbeat)
	assert.Len(t, msg.Payload.(protocol.NodeList).Nodes, 2)
}

func TestMembership_HeartbeatPersistence(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewHeartbeatFile(dir, "local").Save(41))

	m, _, _ := newTestMembership(t, local)
	require.NoError(t, m.SetHeartbeatFile(NewHeartbeatFile(dir, "local")))
	assert.Equal(t, uint64(41), m.Self().Heartbeat)

	m.NextRound()
	hb, err := NewHeartbeatFile(dir, "local").Load()
	require.NoError(t, err)
	assert.Equal(t, uint64(42), hb)
}

func TestMembership_StartGossips(t *testing.T) {
	r, err := ring.NewRing(3, nil)
	require.NoError(t, err)
	m := NewMembership(local, r, 10*time.Millisecond, time.Minute, zerolog.Nop())
	m.AddSeeds([]string{"127.0.0.1:7001"})

	sent := make(chan *protocol.Message, 16)
	m.Start(func(ctx context.Context, target protocol.NodeInfo, msg *protocol.Message) error {
		select {
		case sent <- msg:
		default:
		}
		return nil
	})
	defer m.Stop()

	select {
	case msg := <-sent:
		assert.Equal(t, protocol.TypeNodeList, msg.Type())
	case <-time.After(2 * time.Second):
		t.Fatal("no gossip round observed")
	}
}

func TestServer_Handle(t *testing.T) {
	m, _, _ := newTestMembership(t, local)
	s := NewServer(m, zerolog.Nop())

	s.Handle(protocol.NewMessage(protocol.NodeInfo{Name: "a", Address: "127.0.0.1:7001", Heartbeat: 1}, "", protocol.Ping{}))
	s.Handle(protocol.NewMessage(protocol.NodeInfo{Name: "b", Address: "127.0.0.1:7002", Heartbeat: 1}, "",
		protocol.NodeList{Nodes: []protocol.NodeInfo{{Name: "c", Address: "127.0.0.1:7003", Heartbeat: 1}}}))
	s.Handle(protocol.NewMessage(protocol.NodeInfo{Name: "x", Address: "127.0.0.1:7009"}, "", protocol.ForwardAck{}))

	assert.Len(t, m.Alive(), 3)
}
