package node

import (
	"dynamo/internal/protocol"
	"dynamo/internal/quorum"
	"dynamo/internal/storage"
)

// toStoredObject converts a stored object to its wire form.
func toStoredObject(obj storage.Object) *protocol.StoredObject {
	return &protocol.StoredObject{Value: obj.Value, Version: obj.Version}
}

// toReadValues converts wire objects to quorum values.
func toReadValues(objs []protocol.StoredObject) []quorum.ReadValue {
	values := make([]quorum.ReadValue, 0, len(objs))
	for _, o := range objs {
		values = append(values, quorum.ReadValue{Value: o.Value, Version: o.Version})
	}
	return values
}

// toStoredObjects converts quorum values to wire objects.
func toStoredObjects(values []quorum.ReadValue) []protocol.StoredObject {
	objs := make([]protocol.StoredObject, 0, len(values))
	for _, v := range values {
		objs = append(objs, protocol.StoredObject{Value: v.Value, Version: v.Version})
	}
	return objs
}
