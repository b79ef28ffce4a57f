package node

import (
	"context"
	"strings"
	"time"

	"dynamo/internal/metrics"
	"dynamo/internal/protocol"
	"dynamo/internal/quorum"
	"dynamo/internal/replication"
	"dynamo/internal/ring"
	"dynamo/internal/storage"
)

// CreateBucket creates a bucket locally and on every storage peer.
func (n *Node) CreateBucket(ctx context.Context, bucket string) Result {
	return n.Execute(ctx, Request{Op: protocol.TypeBucketCreate, Bucket: bucket})
}

// DeleteBucket deletes a bucket locally and on every storage peer.
func (n *Node) DeleteBucket(ctx context.Context, bucket string) Result {
	return n.Execute(ctx, Request{Op: protocol.TypeBucketDelete, Bucket: bucket})
}

// AddRecord creates an object on its replicas with write quorum.
func (n *Node) AddRecord(ctx context.Context, bucket, key, value string) Result {
	return n.Execute(ctx, Request{Op: protocol.TypeObjectCreate, Bucket: bucket, Key: key, Value: value})
}

// UpdateRecord overwrites an object on its replicas with write quorum.
func (n *Node) UpdateRecord(ctx context.Context, bucket, key, value string) Result {
	return n.Execute(ctx, Request{Op: protocol.TypeObjectUpdate, Bucket: bucket, Key: key, Value: value})
}

// DeleteRecord removes an object from its replicas with write quorum.
func (n *Node) DeleteRecord(ctx context.Context, bucket, key string) Result {
	return n.Execute(ctx, Request{Op: protocol.TypeObjectDelete, Bucket: bucket, Key: key})
}

// ReadRecord collects an object's copies with read quorum. Divergent
// versions are returned as they are.
func (n *Node) ReadRecord(ctx context.Context, bucket, key string) Result {
	return n.Execute(ctx, Request{Op: protocol.TypeObjectRead, Bucket: bucket, Key: key})
}

// Execute runs req with this node as coordinator. Every quorum wait is
// bounded by the request timeout.
func (n *Node) Execute(ctx context.Context, req Request) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, n.cfg.RequestTimeout)
	defer cancel()

	var (
		status  bool
		objects []protocol.StoredObject
	)
	switch req.Op {
	case protocol.TypeBucketCreate:
		status = n.broadcast(ctx, protocol.BucketCreate{Bucket: req.Bucket}, n.store.CreateBucket(req.Bucket))
	case protocol.TypeBucketDelete:
		status = n.broadcast(ctx, protocol.BucketDelete{Bucket: req.Bucket}, n.store.DeleteBucket(req.Bucket))
	case protocol.TypeObjectCreate:
		status = n.replicate(ctx, req.Key, func() error {
			return n.store.CreateObject(req.Bucket, req.Key, storage.Object{Version: 1, Value: req.Value})
		}, protocol.ObjectCreate{Bucket: req.Bucket, Key: req.Key, Value: req.Value, Version: 1})
	case protocol.TypeObjectUpdate:
		status = n.replicate(ctx, req.Key, func() error {
			_, err := n.store.UpdateObject(req.Bucket, req.Key, req.Value, true)
			return err
		}, protocol.ObjectUpdate{Bucket: req.Bucket, Key: req.Key, Value: req.Value})
	case protocol.TypeObjectDelete:
		status = n.replicate(ctx, req.Key, func() error {
			return n.store.DeleteObject(req.Bucket, req.Key)
		}, protocol.ObjectDelete{Bucket: req.Bucket, Key: req.Key})
	case protocol.TypeObjectRead:
		objects, status = n.read(ctx, req.Bucket, req.Key)
	default:
		n.logger.Warn().Stringer("op", req.Op).Msg("unsupported operation")
	}

	metrics.RecordOperation(strings.ToLower(req.Op.String()), time.Since(start), status)
	n.logger.Debug().Stringer("req", req).Bool("status", status).Dur("took", time.Since(start)).Msg("coordinated request")
	return newResult(req, status, objects, n.cfg.Name)
}

// broadcast sends a bucket request to every storage peer. The local result
// counts as one vote; the remaining votes needed are capped at the number of
// peers.
func (n *Node) broadcast(ctx context.Context, p protocol.Payload, localErr error) bool {
	votes := n.localVote(p, localErr)

	peers := n.membership.StoragePeers()
	if len(peers) == 0 {
		return votes == 1
	}
	required := replication.BroadcastQuorum(n.cfg.W, votes, len(peers))
	return n.collectWrites(ctx, peers, required, p).Success
}

// replicate applies a write to key's replica set: locally first when this
// node is a replica, then on the remaining replicas until the write quorum
// is met.
func (n *Node) replicate(ctx context.Context, key string, local func() error, p protocol.Payload) bool {
	plan := replication.PlanFor(n.ring, key, n.cfg.N, n.cfg.Address)
	if len(plan.Replicas) == 0 {
		n.logger.Warn().Str("key", key).Msg("no replicas available")
		return false
	}

	votes := 0
	if plan.Local {
		votes = n.localVote(p, local())
	}
	quorumW := replication.EffectiveQuorum(n.cfg.W, len(plan.Replicas))
	required := replication.RemoteQuorum(quorumW, votes)
	if len(plan.Peers) == 0 {
		return required == 0
	}
	return n.collectWrites(ctx, n.resolve(plan.Peers), required, p).Success
}

// read gathers the key's copies. A non-empty local copy counts towards the
// read quorum and is returned with the remote ones.
func (n *Node) read(ctx context.Context, bucket, key string) ([]protocol.StoredObject, bool) {
	plan := replication.PlanFor(n.ring, key, n.cfg.N, n.cfg.Address)
	if len(plan.Replicas) == 0 {
		n.logger.Warn().Str("key", key).Msg("no replicas available")
		return nil, false
	}

	var values []quorum.ReadValue
	if plan.Local {
		obj, err := n.store.ReadObject(bucket, key)
		switch {
		case err == nil && obj.Value != "":
			values = append(values, quorum.ReadValue{Value: obj.Value, Version: obj.Version})
		case err != nil && !isNotFound(err):
			n.logger.Warn().Err(err).Str("bucket", bucket).Str("key", key).Msg("local read failed")
		}
	}

	quorumR := replication.EffectiveQuorum(n.cfg.R, len(plan.Replicas))
	required := replication.RemoteQuorum(quorumR, len(values))
	if required > 0 && len(plan.Peers) > 0 {
		res := n.collectReads(ctx, n.resolve(plan.Peers), required, protocol.ObjectRead{Bucket: bucket, Key: key})
		values = append(values, res.Values...)
	}
	return toStoredObjects(values), len(values) >= quorumR
}

func (n *Node) localVote(p protocol.Payload, err error) int {
	if err != nil {
		n.logger.Warn().Err(err).Stringer("type", p.Type()).Msg("local operation failed")
		return 0
	}
	return 1
}

// collectWrites sends p to peers under a fresh transaction id and waits for
// required successful acknowledgements. A send failure counts as a failed
// vote.
func (n *Node) collectWrites(ctx context.Context, peers []protocol.NodeInfo, required int, p protocol.Payload) quorum.WriteResult {
	txnID := newTxnID()
	round, err := n.tracker.StartWrite(txnID, len(peers), required)
	if err != nil {
		return quorum.WriteResult{ErrorMessage: err.Error()}
	}
	n.fanOut(txnID, peers, p)

	res := round.Wait(ctx)
	if !res.Success {
		n.logger.Warn().Str("txn", txnID).Stringer("type", p.Type()).Msg(res.ErrorMessage)
	}
	return res
}

// collectReads is collectWrites for OBJECT_READ.
func (n *Node) collectReads(ctx context.Context, peers []protocol.NodeInfo, required int, p protocol.ObjectRead) quorum.ReadResult {
	txnID := newTxnID()
	round, err := n.tracker.StartRead(txnID, len(peers), required)
	if err != nil {
		return quorum.ReadResult{ErrorMessage: err.Error()}
	}
	n.fanOut(txnID, peers, p)

	res := round.Wait(ctx)
	if !res.Success {
		n.logger.Warn().Str("txn", txnID).Str("key", p.Key).Msg(res.ErrorMessage)
	}
	return res
}

func (n *Node) fanOut(txnID string, peers []protocol.NodeInfo, p protocol.Payload) {
	for _, peer := range peers {
		if err := n.send(peer, txnID, p); err != nil {
			n.logger.Warn().Err(err).Str("peer", peer.Address).Msg("send failed")
			n.tracker.Deliver(txnID, quorum.Reply{From: peer.Address})
		}
	}
}

// resolve maps ring nodes to the snapshots holding their ports.
func (n *Node) resolve(nodes []ring.Node) []protocol.NodeInfo {
	infos := make([]protocol.NodeInfo, 0, len(nodes))
	for _, rn := range nodes {
		infos = append(infos, n.resolveOne(rn))
	}
	return infos
}

func (n *Node) resolveOne(rn ring.Node) protocol.NodeInfo {
	if info, ok := n.membership.Lookup(rn.Addr); ok {
		return info
	}
	return protocol.NodeInfo{Name: rn.ID, Address: rn.Addr}
}

func (n *Node) isReplica(key string) bool {
	return replication.Contains(n.Replicas(key), n.cfg.Address)
}
