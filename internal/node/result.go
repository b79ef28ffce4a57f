package node

import (
	"fmt"
	"strings"

	"dynamo/internal/protocol"
)

// Result is the outcome of a client operation as rendered to the caller.
type Result struct {
	Status   bool
	Response string
	Node     string                  // name of the node that handled the request
	Objects  []protocol.StoredObject // set for reads
}

// Request is a client operation.
type Request struct {
	Op     protocol.Type
	Bucket string
	Key    string
	Value  string
}

func (r Request) String() string {
	switch {
	case r.Op.IsBucketOp():
		return fmt.Sprintf("%s %s", r.Op, r.Bucket)
	default:
		return fmt.Sprintf("%s %s/%s", r.Op, r.Bucket, r.Key)
	}
}

// newResult renders the response text for req.
func newResult(req Request, status bool, objects []protocol.StoredObject, node string) Result {
	return Result{
		Status:   status,
		Response: render(req, status, objects),
		Node:     node,
		Objects:  objects,
	}
}

func render(req Request, status bool, objects []protocol.StoredObject) string {
	outcome := func(ok, failed string) string {
		if status {
			return ok
		}
		return failed
	}
	record := fmt.Sprintf("Record %s : %s", req.Key, req.Value)

	switch req.Op {
	case protocol.TypeBucketCreate:
		return fmt.Sprintf("Bucket %s %s", req.Bucket, outcome("created successfully", "creation failed"))
	case protocol.TypeBucketDelete:
		return fmt.Sprintf("Bucket %s %s", req.Bucket, outcome("deleted successfully", "deletion failed"))
	case protocol.TypeObjectCreate:
		return record + " " + outcome("created successfully", "creation failed")
	case protocol.TypeObjectUpdate:
		return record + " " + outcome("updated successfully", "update failed")
	case protocol.TypeObjectDelete:
		return fmt.Sprintf("Record %s %s", req.Key, outcome("removed successfully", "removal failed"))
	case protocol.TypeObjectRead:
		if !status {
			return "Read quorum failed"
		}
		var b strings.Builder
		for _, o := range objects {
			fmt.Fprintf(&b, "<value: %s version: %d> ", o.Value, o.Version)
		}
		return b.String()
	default:
		return fmt.Sprintf("unsupported operation %s", req.Op)
	}
}
