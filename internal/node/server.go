package node

import (
	"dynamo/internal/metrics"
	"dynamo/internal/protocol"
	"dynamo/internal/quorum"
)

// handleIO dispatches a message received on the io socket. Replica requests
// are short and run inline; forwards and rehash requests may wait on quorums
// of their own and get a goroutine each.
func (n *Node) handleIO(msg *protocol.Message) {
	switch p := msg.Payload.(type) {
	case protocol.Ping:
		n.logger.Debug().Str("from", msg.Source.Address).Msg("received ping")
	case protocol.BucketCreate, protocol.BucketDelete,
		protocol.ObjectCreate, protocol.ObjectUpdate,
		protocol.ObjectRead, protocol.ObjectDelete:
		n.reply(msg.Source, msg.TxnID, n.applyReplica(msg))
	case protocol.Forward:
		n.spawn(func() { n.handleForward(msg.Source, msg.TxnID, p) })
	case protocol.Rehash:
		n.spawn(func() { n.pushTo(n.ctx, p.Target) })
	default:
		n.unexpected("io", msg)
	}
}

// handleAck delivers a reply received on the ack socket to the round
// waiting for it.
func (n *Node) handleAck(msg *protocol.Message) {
	var (
		txnID string
		reply = quorum.Reply{From: msg.Source.Address}
	)

	switch p := msg.Payload.(type) {
	case protocol.Ack:
		txnID = p.TxnID
		reply.Success = p.Status
		if p.Object != nil {
			reply.Value = &quorum.ReadValue{Value: p.Object.Value, Version: p.Object.Version}
		}
	case protocol.ForwardAck:
		reply.Success = p.Status
	case protocol.ForwardAckRead:
		reply.Values = toReadValues(p.Objects)
	default:
		n.unexpected("ack", msg)
		return
	}
	if txnID == "" {
		txnID = msg.TxnID
	}

	if !n.tracker.Deliver(txnID, reply) {
		n.logger.Debug().Str("txn", txnID).Str("from", msg.Source.Address).
			Stringer("type", msg.Type()).Msg("dropping late reply")
	}
}

func (n *Node) unexpected(role string, msg *protocol.Message) {
	metrics.RecordDrop(role, "unexpected")
	n.logger.Warn().Stringer("type", msg.Type()).Str("from", msg.Source.Address).
		Str("role", role).Msg("unexpected message")
}

// send delivers payload to a peer's io socket under txnID.
func (n *Node) send(to protocol.NodeInfo, txnID string, p protocol.Payload) error {
	return n.transport.Send(to.IOAddress(), protocol.NewMessage(n.Self(), txnID, p))
}

// reply answers the source of a request on its ack socket.
func (n *Node) reply(to protocol.NodeInfo, txnID string, p protocol.Payload) {
	if err := n.transport.Send(to.AckAddress(), protocol.NewMessage(n.Self(), txnID, p)); err != nil {
		n.logger.Warn().Err(err).Str("to", to.Address).Stringer("type", p.Type()).Msg("reply failed")
	}
}
