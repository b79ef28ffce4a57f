package node

import (
	"context"
	"fmt"

	"dynamo/internal/protocol"
	"dynamo/internal/quorum"
	"dynamo/internal/replication"
	"dynamo/internal/storage"
)

// Submit runs a client request. It is handed with FORWARD to a random alive
// storage node; when that is this node, it runs in-process, and an object
// request this node does not replicate goes straight to one of its replicas.
func (n *Node) Submit(ctx context.Context, req Request) Result {
	target, ok := n.membership.RandomStorageNode()
	if !ok {
		return Result{Response: "no storage node available", Node: n.cfg.Name}
	}
	if !n.isSelf(target.Address) {
		return n.forward(ctx, target, req, false)
	}

	if req.Op.IsBucketOp() || n.isReplica(req.Key) {
		return n.Execute(ctx, req)
	}
	replica, ok := replication.PickRandom(n.Replicas(req.Key), n.cfg.Address)
	if !ok {
		return newResult(req, false, nil, n.cfg.Name)
	}
	return n.forward(ctx, n.resolveOne(replica), req, true)
}

// forward sends req to target and waits, bounded by the forward timeout,
// for the FORWARD_ACK or FORWARD_ACK_READ.
func (n *Node) forward(ctx context.Context, target protocol.NodeInfo, req Request, forwarded bool) Result {
	ctx, cancel := context.WithTimeout(ctx, n.cfg.ForwardTimeout)
	defer cancel()

	txnID := newTxnID()
	round, err := n.tracker.StartForward(txnID)
	if err != nil {
		return newResult(req, false, nil, target.Name)
	}

	p := protocol.Forward{
		RequestType: req.Op,
		Bucket:      req.Bucket,
		Key:         req.Key,
		Value:       req.Value,
		TxnID:       txnID,
		Forwarded:   forwarded,
	}
	if err := n.send(target, txnID, p); err != nil {
		n.logger.Warn().Err(err).Str("peer", target.Address).Stringer("req", req).Msg("forward failed")
		n.tracker.Deliver(txnID, quorum.Reply{From: target.Address})
	}

	reply, err := round.Wait(ctx)
	if err != nil {
		n.logger.Warn().Err(err).Str("peer", target.Address).Stringer("req", req).Msg("forward timed out")
		return newResult(req, false, nil, target.Name)
	}

	if req.Op == protocol.TypeObjectRead {
		objects := toStoredObjects(reply.Values)
		return newResult(req, n.readQuorumMet(req.Key, len(objects)), objects, target.Name)
	}
	return newResult(req, reply.Success, nil, target.Name)
}

// readQuorumMet reports whether got copies of key satisfy the read quorum,
// capped at the size of its replica set.
func (n *Node) readQuorumMet(key string, got int) bool {
	return got > 0 && got >= replication.EffectiveQuorum(n.cfg.R, len(n.Replicas(key)))
}

// handleForward serves a FORWARD. Bucket requests run here. An object
// request runs here only if this node replicates the key; otherwise it is
// moved once more to a random replica, keeping the original source so the
// answer goes straight back to it.
func (n *Node) handleForward(src protocol.NodeInfo, txnID string, p protocol.Forward) {
	req := Request{Op: p.RequestType, Bucket: p.Bucket, Key: p.Key, Value: p.Value}
	if txnID == "" {
		txnID = p.TxnID
	}

	switch {
	case req.Op.IsBucketOp():
	case !req.Op.IsObjectOp():
		n.logger.Warn().Stringer("op", req.Op).Str("from", src.Address).Msg("cannot forward operation")
		n.replyForward(src, txnID, req, Result{})
		return
	case !n.isReplica(req.Key):
		if p.Forwarded {
			n.logger.Warn().Stringer("req", req).Str("from", src.Address).Msg("forwarded request reached a non-replica")
			n.replyForward(src, txnID, req, Result{})
			return
		}
		replica, ok := replication.PickRandom(n.Replicas(req.Key), n.cfg.Address)
		if !ok {
			n.replyForward(src, txnID, req, Result{})
			return
		}
		to := n.resolveOne(replica)
		p.Forwarded = true
		if err := n.transport.Send(to.IOAddress(), protocol.NewMessage(src, txnID, p)); err != nil {
			n.logger.Warn().Err(err).Str("peer", to.Address).Stringer("req", req).Msg("re-forward failed")
			n.replyForward(src, txnID, req, Result{})
			return
		}
		n.logger.Debug().Stringer("req", req).Str("to", to.Address).Msg("re-forwarded request")
		return
	}

	res := n.Execute(n.ctx, req)
	n.replyForward(src, txnID, req, res)
}

func (n *Node) replyForward(to protocol.NodeInfo, txnID string, req Request, res Result) {
	if req.Op == protocol.TypeObjectRead {
		n.reply(to, txnID, protocol.ForwardAckRead{Objects: res.Objects})
		return
	}
	n.reply(to, txnID, protocol.ForwardAck{Status: res.Status})
}

// ValidateRequest checks that req names an operation and valid bucket and
// key names.
func ValidateRequest(req Request) error {
	if !req.Op.IsBucketOp() && !req.Op.IsObjectOp() {
		return fmt.Errorf("unsupported operation %s", req.Op)
	}
	if err := storage.ValidateName(req.Bucket); err != nil {
		return fmt.Errorf("bucket: %w", err)
	}
	if req.Op.IsObjectOp() {
		if err := storage.ValidateName(req.Key); err != nil {
			return fmt.Errorf("key: %w", err)
		}
	}
	return nil
}
