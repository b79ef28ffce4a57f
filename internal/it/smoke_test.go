package it

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dynamo/internal/gateway"
)

func startCluster(t *testing.T, count int, opts ...Option) *Cluster {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cluster := NewCluster(zerolog.Nop())
	t.Cleanup(cluster.Stop)
	require.NoError(t, cluster.StartCluster(ctx, count, opts...), "Failed to start cluster")
	return cluster
}

func TestSmoke_PutGetDelete_SingleKey(t *testing.T) {
	cluster := startCluster(t, 3)
	client := cluster.GetNode("n1").Client()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := client.CreateBucket(ctx, "photos")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)
	assert.Equal(t, "Bucket photos created successfully", resp.Response)

	resp, err = client.Put(ctx, "photos", "test-key", "test-value")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)
	assert.Equal(t, "Record test-key : test-value created successfully", resp.Response)

	// Read through every node.
	for _, name := range []string{"n1", "n2", "n3"} {
		resp, err = cluster.GetNode(name).Client().Get(ctx, "photos", "test-key")
		require.NoError(t, err)
		require.True(t, resp.Status, "%s: %s", name, resp.Response)
		require.NotEmpty(t, resp.Objects)
		assert.Equal(t, "test-value", resp.Objects[0].Value)
	}

	resp, err = client.Update(ctx, "photos", "test-key", "new-value")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)

	require.Eventually(t, func() bool {
		resp, err := client.Get(ctx, "photos", "test-key")
		if err != nil || !resp.Status {
			return false
		}
		for _, o := range resp.Objects {
			if o.Value != "new-value" {
				return false
			}
		}
		return true
	}, 5*time.Second, 50*time.Millisecond)

	resp, err = client.Delete(ctx, "photos", "test-key")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)

	require.Eventually(t, func() bool {
		resp, err := client.Get(ctx, "photos", "test-key")
		return err == nil && !resp.Status && resp.Response == "Read quorum failed"
	}, 5*time.Second, 50*time.Millisecond)
}

func TestSmoke_BadgerStore(t *testing.T) {
	cluster := startCluster(t, 3, WithStore("badger", ""))
	client := cluster.GetNode("n2").Client()
	ctx := context.Background()

	resp, err := client.CreateBucket(ctx, "photos")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)

	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("k%d", i)
		resp, err = client.Put(ctx, "photos", key, "v"+key)
		require.NoError(t, err)
		require.True(t, resp.Status, resp.Response)
	}
	for i := 0; i < 10; i++ {
		key := fmt.Sprintf("k%d", i)
		resp, err = cluster.GetNode("n3").Client().Get(ctx, "photos", key)
		require.NoError(t, err)
		require.True(t, resp.Status, resp.Response)
		assert.Equal(t, "v"+key, resp.Objects[0].Value)
	}
}

func TestSmoke_GatewayNode(t *testing.T) {
	cluster := startCluster(t, 3)
	gw, err := cluster.StartNode("gw", WithGateway())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, cluster.WaitConverged(ctx))

	client := gw.Client()
	resp, err := client.CreateBucket(ctx, "photos")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)
	assert.Contains(t, resp.Response, "photos")
	assert.NotEqual(t, "gw", resp.Node)

	resp, err = client.Put(ctx, "photos", "k1", "v1")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)

	resp, err = client.Get(ctx, "photos", "k1")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)

	route, err := client.Route(ctx, "k1")
	require.NoError(t, err)
	require.Len(t, route.Replicas, 3)
	for _, r := range route.Replicas {
		assert.NotEqual(t, gw.Addr(), r.Address)
	}

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.True(t, health.Gateway)
	assert.Equal(t, gateway.StatusOK, health.Status)
	assert.Equal(t, 3, health.StorageNodes)
}

func TestQuorum_ToleratesOneNodeDown(t *testing.T) {
	cluster := startCluster(t, 3, WithTTL(300*time.Millisecond))
	client := cluster.GetNode("n1").Client()
	ctx := context.Background()

	resp, err := client.CreateBucket(ctx, "photos")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)
	resp, err = client.Put(ctx, "photos", "k1", "v1")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)

	victim := cluster.GetNode("n3").Addr()
	require.NoError(t, cluster.KillNode("n3"))

	// n3 is declared dead and leaves every route.
	require.Eventually(t, func() bool {
		members, err := client.Membership(ctx)
		if err != nil || len(members.Dead) != 1 {
			return false
		}
		return members.Dead[0].Address == victim
	}, 5*time.Second, 50*time.Millisecond)

	for i := 0; i < 20; i++ {
		route, err := client.Route(ctx, fmt.Sprintf("key-%d", i))
		require.NoError(t, err)
		assert.Len(t, route.Replicas, 2)
		for _, r := range route.Replicas {
			assert.NotEqual(t, victim, r.Address)
		}
	}

	health, err := client.Health(ctx)
	require.NoError(t, err)
	assert.Equal(t, gateway.StatusDegraded, health.Status)

	// W=2 and R=2 are still reachable with two nodes.
	resp, err = client.Put(ctx, "photos", "k2", "v2")
	require.NoError(t, err)
	assert.True(t, resp.Status, resp.Response)

	resp, err = client.Get(ctx, "photos", "k1")
	require.NoError(t, err)
	assert.True(t, resp.Status, resp.Response)
}

func TestMembership_RestartedNodeIsRevived(t *testing.T) {
	dirs := map[string]string{"n1": t.TempDir(), "n2": t.TempDir(), "n3": t.TempDir()}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	cluster := NewCluster(zerolog.Nop())
	t.Cleanup(cluster.Stop)
	for _, name := range []string{"n1", "n2", "n3"} {
		_, err := cluster.StartNode(name, WithStore("fs", dirs[name]), WithTTL(300*time.Millisecond))
		require.NoError(t, err)
	}
	require.NoError(t, cluster.WaitConverged(ctx))

	client := cluster.GetNode("n1").Client()
	resp, err := client.CreateBucket(ctx, "photos")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)
	resp, err = client.Put(ctx, "photos", "k1", "v1")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)

	n3 := cluster.GetNode("n3")
	lastHeartbeat := n3.Node().Self().Heartbeat
	require.NoError(t, cluster.KillNode("n3"))

	require.Eventually(t, func() bool {
		members, err := client.Membership(ctx)
		return err == nil && len(members.Dead) == 1
	}, 5*time.Second, 50*time.Millisecond)

	require.NoError(t, cluster.RestartNode("n3"))
	assert.GreaterOrEqual(t, n3.Node().Self().Heartbeat, lastHeartbeat, "heartbeat resumes from disk")

	require.Eventually(t, func() bool {
		members, err := client.Membership(ctx)
		return err == nil && len(members.Dead) == 0 && len(members.Alive) == 2
	}, 5*time.Second, 50*time.Millisecond)

	// The object survived on disk.
	resp, err = n3.Client().Get(ctx, "photos", "k1")
	require.NoError(t, err)
	require.True(t, resp.Status, resp.Response)
	assert.Equal(t, "v1", resp.Objects[0].Value)
}
