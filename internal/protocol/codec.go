package protocol

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrUnknownType = errors.New("protocol: unknown message type")
	ErrMalformed   = errors.New("protocol: malformed message")
)

// Envelope field numbers.
const (
	fieldType    protowire.Number = 1
	fieldSource  protowire.Number = 2
	fieldTxnID   protowire.Number = 3
	fieldPayload protowire.Number = 4
)

// Marshal encodes m for the wire.
func Marshal(m *Message) ([]byte, error) {
	if m == nil || m.Payload == nil {
		return nil, fmt.Errorf("%w: empty message", ErrMalformed)
	}
	body, err := marshalPayload(m.Payload)
	if err != nil {
		return nil, err
	}

	b := make([]byte, 0, 64+len(body))
	b = appendVarint(b, fieldType, uint64(m.Payload.Type()))
	b = appendMessage(b, fieldSource, appendNodeInfo(nil, m.Source))
	b = appendString(b, fieldTxnID, m.TxnID)
	b = appendMessage(b, fieldPayload, body)
	return b, nil
}

// Unmarshal decodes a datagram produced by Marshal. Unknown fields are
// skipped; an unknown type or a missing source address is an error.
func Unmarshal(data []byte) (*Message, error) {
	fs, err := readFields(data)
	if err != nil {
		return nil, err
	}

	var (
		m    Message
		typ  Type
		body []byte
	)
	for _, f := range fs {
		switch f.num {
		case fieldType:
			if typ, err = f.typeValue(); err != nil {
				return nil, err
			}
		case fieldSource:
			raw, err := f.bytesValue()
			if err != nil {
				return nil, err
			}
			if m.Source, err = decodeNodeInfo(raw); err != nil {
				return nil, err
			}
		case fieldTxnID:
			if m.TxnID, err = f.stringValue(); err != nil {
				return nil, err
			}
		case fieldPayload:
			if body, err = f.bytesValue(); err != nil {
				return nil, err
			}
		}
	}

	if m.Source.Address == "" {
		return nil, fmt.Errorf("%w: missing source address", ErrMalformed)
	}
	if m.Payload, err = unmarshalPayload(typ, body); err != nil {
		return nil, err
	}
	return &m, nil
}

func marshalPayload(p Payload) ([]byte, error) {
	var b []byte
	switch p := p.(type) {
	case Ping:
	case NodeList:
		for _, n := range p.Nodes {
			b = appendMessage(b, 1, appendNodeInfo(nil, n))
		}
	case BucketCreate:
		b = appendString(b, 1, p.Bucket)
	case BucketDelete:
		b = appendString(b, 1, p.Bucket)
	case ObjectCreate:
		b = appendString(b, 1, p.Bucket)
		b = appendString(b, 2, p.Key)
		b = appendString(b, 3, p.Value)
		b = appendVarint(b, 4, uint64(p.Version))
	case ObjectUpdate:
		b = appendString(b, 1, p.Bucket)
		b = appendString(b, 2, p.Key)
		b = appendString(b, 3, p.Value)
	case ObjectRead:
		b = appendString(b, 1, p.Bucket)
		b = appendString(b, 2, p.Key)
	case ObjectDelete:
		b = appendString(b, 1, p.Bucket)
		b = appendString(b, 2, p.Key)
	case Ack:
		b = appendVarint(b, 1, uint64(p.RequestType))
		b = appendString(b, 2, p.Identifier)
		b = appendString(b, 3, p.TxnID)
		b = appendBool(b, 4, p.Status)
		if p.Object != nil {
			b = appendMessage(b, 5, appendObject(nil, *p.Object))
		}
	case Forward:
		b = appendVarint(b, 1, uint64(p.RequestType))
		b = appendString(b, 2, p.Bucket)
		b = appendString(b, 3, p.Key)
		b = appendString(b, 4, p.Value)
		b = appendString(b, 5, p.TxnID)
		b = appendBool(b, 6, p.Forwarded)
	case ForwardAck:
		b = appendBool(b, 1, p.Status)
	case ForwardAckRead:
		for _, o := range p.Objects {
			b = appendMessage(b, 1, appendObject(nil, o))
		}
	case Rehash:
		b = appendMessage(b, 1, appendNodeInfo(nil, p.Target))
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnknownType, p)
	}
	return b, nil
}

func unmarshalPayload(t Type, body []byte) (Payload, error) {
	fs, err := readFields(body)
	if err != nil {
		return nil, err
	}

	switch t {
	case TypePing:
		return Ping{}, nil

	case TypeNodeList:
		var p NodeList
		for _, f := range fs {
			if f.num != 1 {
				continue
			}
			raw, err := f.bytesValue()
			if err != nil {
				return nil, err
			}
			n, err := decodeNodeInfo(raw)
			if err != nil {
				return nil, err
			}
			p.Nodes = append(p.Nodes, n)
		}
		return p, nil

	case TypeBucketCreate, TypeBucketDelete:
		var bucket string
		for _, f := range fs {
			if f.num == 1 {
				if bucket, err = f.stringValue(); err != nil {
					return nil, err
				}
			}
		}
		if t == TypeBucketCreate {
			return BucketCreate{Bucket: bucket}, nil
		}
		return BucketDelete{Bucket: bucket}, nil

	case TypeObjectCreate, TypeObjectUpdate, TypeObjectRead, TypeObjectDelete:
		var (
			bucket, key, value string
			version            uint64
		)
		for _, f := range fs {
			switch f.num {
			case 1:
				bucket, err = f.stringValue()
			case 2:
				key, err = f.stringValue()
			case 3:
				value, err = f.stringValue()
			case 4:
				version, err = f.varintValue()
			}
			if err != nil {
				return nil, err
			}
		}
		switch t {
		case TypeObjectCreate:
			return ObjectCreate{Bucket: bucket, Key: key, Value: value, Version: int64(version)}, nil
		case TypeObjectUpdate:
			return ObjectUpdate{Bucket: bucket, Key: key, Value: value}, nil
		case TypeObjectRead:
			return ObjectRead{Bucket: bucket, Key: key}, nil
		default:
			return ObjectDelete{Bucket: bucket, Key: key}, nil
		}

	case TypeAck:
		var p Ack
		for _, f := range fs {
			switch f.num {
			case 1:
				p.RequestType, err = f.typeValue()
			case 2:
				p.Identifier, err = f.stringValue()
			case 3:
				p.TxnID, err = f.stringValue()
			case 4:
				p.Status, err = f.boolValue()
			case 5:
				var raw []byte
				if raw, err = f.bytesValue(); err == nil {
					var o StoredObject
					if o, err = decodeObject(raw); err == nil {
						p.Object = &o
					}
				}
			}
			if err != nil {
				return nil, err
			}
		}
		return p, nil

	case TypeForward:
		var p Forward
		for _, f := range fs {
			switch f.num {
			case 1:
				p.RequestType, err = f.typeValue()
			case 2:
				p.Bucket, err = f.stringValue()
			case 3:
				p.Key, err = f.stringValue()
			case 4:
				p.Value, err = f.stringValue()
			case 5:
				p.TxnID, err = f.stringValue()
			case 6:
				p.Forwarded, err = f.boolValue()
			}
			if err != nil {
				return nil, err
			}
		}
		return p, nil

	case TypeForwardAck:
		var p ForwardAck
		for _, f := range fs {
			if f.num == 1 {
				if p.Status, err = f.boolValue(); err != nil {
					return nil, err
				}
			}
		}
		return p, nil

	case TypeForwardAckRead:
		var p ForwardAckRead
		for _, f := range fs {
			if f.num != 1 {
				continue
			}
			raw, err := f.bytesValue()
			if err != nil {
				return nil, err
			}
			o, err := decodeObject(raw)
			if err != nil {
				return nil, err
			}
			p.Objects = append(p.Objects, o)
		}
		return p, nil

	case TypeRehash:
		var p Rehash
		for _, f := range fs {
			if f.num != 1 {
				continue
			}
			raw, err := f.bytesValue()
			if err != nil {
				return nil, err
			}
			if p.Target, err = decodeNodeInfo(raw); err != nil {
				return nil, err
			}
		}
		return p, nil

	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownType, t)
	}
}

func appendNodeInfo(b []byte, n NodeInfo) []byte {
	b = appendString(b, 1, n.Name)
	b = appendString(b, 2, n.Address)
	b = appendVarint(b, 3, n.Heartbeat)
	b = appendBool(b, 4, n.Gateway)
	b = appendVarint(b, 5, uint64(n.IOPort))
	b = appendVarint(b, 6, uint64(n.AckPort))
	return b
}

func decodeNodeInfo(data []byte) (NodeInfo, error) {
	var n NodeInfo
	fs, err := readFields(data)
	if err != nil {
		return n, err
	}
	for _, f := range fs {
		var v uint64
		switch f.num {
		case 1:
			n.Name, err = f.stringValue()
		case 2:
			n.Address, err = f.stringValue()
		case 3:
			n.Heartbeat, err = f.varintValue()
		case 4:
			n.Gateway, err = f.boolValue()
		case 5:
			v, err = f.varintValue()
			n.IOPort = int(v)
		case 6:
			v, err = f.varintValue()
			n.AckPort = int(v)
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func appendObject(b []byte, o StoredObject) []byte {
	b = appendString(b, 1, o.Value)
	b = appendVarint(b, 2, uint64(o.Version))
	return b
}

func decodeObject(data []byte) (StoredObject, error) {
	var o StoredObject
	fs, err := readFields(data)
	if err != nil {
		return o, err
	}
	for _, f := range fs {
		switch f.num {
		case 1:
			o.Value, err = f.stringValue()
		case 2:
			var v uint64
			v, err = f.varintValue()
			o.Version = int64(v)
		}
		if err != nil {
			return o, err
		}
	}
	return o, nil
}

// Zero values are omitted, matching proto3 scalar encoding.

func appendString(b []byte, num protowire.Number, s string) []byte {
	if s == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendBool(b []byte, num protowire.Number, v bool) []byte {
	return appendVarint(b, num, protowire.EncodeBool(v))
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

type field struct {
	num    protowire.Number
	typ    protowire.Type
	varint uint64
	bytes  []byte
}

func readFields(data []byte) ([]field, error) {
	var out []field
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, protowire.ParseError(n))
		}
		data = data[n:]

		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.varint, n = protowire.ConsumeVarint(data)
		case protowire.BytesType:
			f.bytes, n = protowire.ConsumeBytes(data)
		default:
			n = protowire.ConsumeFieldValue(num, typ, data)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: field %d: %v", ErrMalformed, num, protowire.ParseError(n))
		}
		data = data[n:]
		out = append(out, f)
	}
	return out, nil
}

func (f field) varintValue() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: field %d is not a varint", ErrMalformed, f.num)
	}
	return f.varint, nil
}

func (f field) boolValue() (bool, error) {
	v, err := f.varintValue()
	return protowire.DecodeBool(v), err
}

func (f field) typeValue() (Type, error) {
	v, err := f.varintValue()
	if err != nil {
		return 0, err
	}
	if v > 255 {
		return 0, fmt.Errorf("%w: %d", ErrUnknownType, v)
	}
	return Type(v), nil
}

func (f field) bytesValue() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: field %d is not length-delimited", ErrMalformed, f.num)
	}
	return f.bytes, nil
}

func (f field) stringValue() (string, error) {
	b, err := f.bytesValue()
	return string(b), err
}
