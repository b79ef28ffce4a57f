package node

import (
	"errors"

	"dynamo/internal/protocol"
	"dynamo/internal/storage"
)

// applyReplica executes a bucket or object request sent by a coordinator
// against the local store and returns the acknowledgement to send back.
// Store failures are reported as a negative status, never as errors.
func (n *Node) applyReplica(msg *protocol.Message) protocol.Ack {
	ack := protocol.Ack{RequestType: msg.Type(), TxnID: msg.TxnID}

	var err error
	switch p := msg.Payload.(type) {
	case protocol.BucketCreate:
		ack.Identifier = p.Bucket
		err = n.store.CreateBucket(p.Bucket)
	case protocol.BucketDelete:
		ack.Identifier = p.Bucket
		err = n.store.DeleteBucket(p.Bucket)
	case protocol.ObjectCreate:
		ack.Identifier = p.Key
		err = n.store.CreateObject(p.Bucket, p.Key, storage.Object{Version: p.Version, Value: p.Value})
	case protocol.ObjectUpdate:
		ack.Identifier = p.Key
		// Only the coordinator bumps the version.
		_, err = n.store.UpdateObject(p.Bucket, p.Key, p.Value, false)
	case protocol.ObjectRead:
		ack.Identifier = p.Key
		var obj storage.Object
		obj, err = n.store.ReadObject(p.Bucket, p.Key)
		if err == nil {
			ack.Object = toStoredObject(obj)
		}
	case protocol.ObjectDelete:
		ack.Identifier = p.Key
		err = n.store.DeleteObject(p.Bucket, p.Key)
	default:
		err = errors.New("not a replica request")
	}

	ack.Status = err == nil
	event := n.logger.Debug()
	if err != nil && !isNotFound(err) {
		event = n.logger.Warn().Err(err)
	}
	event.Stringer("type", ack.RequestType).
		Str("id", ack.Identifier).
		Str("coordinator", msg.Source.Address).
		Bool("status", ack.Status).
		Msg("replica request")
	return ack
}

func isNotFound(err error) bool {
	return errors.Is(err, storage.ErrObjectNotFound) || errors.Is(err, storage.ErrBucketNotFound)
}
