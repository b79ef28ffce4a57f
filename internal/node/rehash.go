package node

import (
	"context"

	"dynamo/internal/protocol"
	"dynamo/internal/replication"
	"dynamo/internal/ring"
)

// onJoin moves data towards a node that just joined. For each position the
// newcomer took, the previous owner pushes the keys the newcomer now
// coordinates: this node does it directly, other owners are sent REHASH.
// Reads and writes do not depend on it; they always follow the current ring.
func (n *Node) onJoin(peer protocol.NodeInfo, added []ring.VirtualNode) {
	if peer.Gateway || len(added) == 0 {
		return
	}

	owners := make(map[string]ring.Node)
	for _, v := range added {
		if owner, ok := replication.PreviousOwner(n.ring, v); ok {
			owners[owner.Addr] = owner
		}
	}

	for addr, owner := range owners {
		if n.isSelf(addr) {
			n.spawn(func() { n.pushTo(n.ctx, peer) })
			continue
		}
		if err := n.send(n.resolveOne(owner), "", protocol.Rehash{Target: peer}); err != nil {
			n.logger.Warn().Err(err).Str("owner", addr).Str("target", peer.Address).Msg("rehash request failed")
		}
	}
}

// pushTo copies every bucket, and every object whose coordinator is now
// target, to target. A local copy is dropped once target has acknowledged it
// and this node is no longer one of the key's replicas.
func (n *Node) pushTo(ctx context.Context, target protocol.NodeInfo) {
	if n.isSelf(target.Address) || !n.beginPush(target.Address) {
		return
	}
	defer n.endPush(target.Address)

	buckets, err := n.store.Buckets()
	if err != nil {
		n.logger.Warn().Err(err).Msg("rehash: list buckets failed")
		return
	}

	var pushed, dropped int
	for _, bucket := range buckets {
		// The bucket may already exist on target; objects are pushed anyway.
		n.pushOne(ctx, target, protocol.BucketCreate{Bucket: bucket})

		keys, err := n.store.Keys(bucket)
		if err != nil {
			n.logger.Warn().Err(err).Str("bucket", bucket).Msg("rehash: list keys failed")
			continue
		}
		for _, key := range keys {
			if ctx.Err() != nil {
				return
			}
			coord, ok := n.ring.Coordinator(key)
			if !ok || coord.Addr != target.Address {
				continue
			}
			obj, err := n.store.ReadObject(bucket, key)
			if err != nil {
				continue
			}
			if !n.pushOne(ctx, target, protocol.ObjectCreate{Bucket: bucket, Key: key, Value: obj.Value, Version: obj.Version}) {
				continue
			}
			pushed++

			if !n.isReplica(key) {
				if err := n.store.DeleteObject(bucket, key); err != nil {
					n.logger.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("rehash: drop local copy failed")
					continue
				}
				dropped++
			}
		}
	}
	n.logger.Info().Str("target", target.Address).Int("pushed", pushed).Int("dropped", dropped).Msg("rehash complete")
}

// pushOne sends p to target and waits for its acknowledgement.
func (n *Node) pushOne(ctx context.Context, target protocol.NodeInfo, p protocol.Payload) bool {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()
	return n.collectWrites(ctx, []protocol.NodeInfo{target}, 1, p).Success
}

func (n *Node) beginPush(addr string) bool {
	n.pushMu.Lock()
	defer n.pushMu.Unlock()
	if n.pushing[addr] {
		return false
	}
	n.pushing[addr] = true
	return true
}

func (n *Node) endPush(addr string) {
	n.pushMu.Lock()
	defer n.pushMu.Unlock()
	delete(n.pushing, addr)
}
