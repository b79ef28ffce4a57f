package node

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"dynamo/internal/protocol"
	"dynamo/internal/storage"
)

func TestRender(t *testing.T) {
	objects := []protocol.StoredObject{{Value: "v1", Version: 2}, {Value: "v1", Version: 1}}

	tests := []struct {
		name   string
		req    Request
		status bool
		want   string
	}{
		{"bucket created", Request{Op: protocol.TypeBucketCreate, Bucket: "photos"}, true, "Bucket photos created successfully"},
		{"bucket create failed", Request{Op: protocol.TypeBucketCreate, Bucket: "photos"}, false, "Bucket photos creation failed"},
		{"bucket deleted", Request{Op: protocol.TypeBucketDelete, Bucket: "photos"}, true, "Bucket photos deleted successfully"},
		{"bucket delete failed", Request{Op: protocol.TypeBucketDelete, Bucket: "photos"}, false, "Bucket photos deletion failed"},
		{"record created", Request{Op: protocol.TypeObjectCreate, Key: "k1", Value: "v1"}, true, "Record k1 : v1 created successfully"},
		{"record create failed", Request{Op: protocol.TypeObjectCreate, Key: "k1", Value: "v1"}, false, "Record k1 : v1 creation failed"},
		{"record updated", Request{Op: protocol.TypeObjectUpdate, Key: "k1", Value: "v2"}, true, "Record k1 : v2 updated successfully"},
		{"record update failed", Request{Op: protocol.TypeObjectUpdate, Key: "k1", Value: "v2"}, false, "Record k1 : v2 update failed"},
		{"record removed", Request{Op: protocol.TypeObjectDelete, Key: "k1"}, true, "Record k1 removed successfully"},
		{"record remove failed", Request{Op: protocol.TypeObjectDelete, Key: "k1"}, false, "Record k1 removal failed"},
		{"read", Request{Op: protocol.TypeObjectRead, Key: "k1"}, true, "<value: v1 version: 2> <value: v1 version: 1> "},
		{"read failed", Request{Op: protocol.TypeObjectRead, Key: "k1"}, false, "Read quorum failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := newResult(tt.req, tt.status, objects, "n1")
			assert.Equal(t, tt.want, res.Response)
			assert.Equal(t, tt.status, res.Status)
			assert.Equal(t, "n1", res.Node)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	assert.NoError(t, ValidateRequest(Request{Op: protocol.TypeBucketCreate, Bucket: "photos"}))
	assert.NoError(t, ValidateRequest(Request{Op: protocol.TypeObjectRead, Bucket: "photos", Key: "k1"}))

	err := ValidateRequest(Request{Op: protocol.TypeObjectCreate, Bucket: "photos"})
	assert.True(t, errors.Is(err, storage.ErrInvalidName))

	err = ValidateRequest(Request{Op: protocol.TypeBucketDelete, Bucket: "../etc"})
	assert.True(t, errors.Is(err, storage.ErrInvalidName))

	assert.Error(t, ValidateRequest(Request{Op: protocol.TypeNodeList, Bucket: "photos"}))
}
