package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"order-rpc/message"
)

// ProtoCodec encodes the envelope in protobuf wire format. Every field is
// tag-prefixed, so the encoding stays self-describing and decoders skip
// fields they do not know.
//
// Field numbers (stable, part of the wire contract):
//
//	1  method   string
//	2  code     varint
//	3  error    string
//	4  payload  bytes
type ProtoCodec struct{}

const (
	fieldMethod  = 1
	fieldCode    = 2
	fieldError   = 3
	fieldPayload = 4
)

func (c *ProtoCodec) Encode(v any) ([]byte, error) {
	env, ok := v.(*message.Envelope)
	if !ok {
		return nil, errors.New("ProtoCodec: v must be *message.Envelope")
	}

	var buf []byte
	if env.Method != "" {
		buf = protowire.AppendTag(buf, fieldMethod, protowire.BytesType)
		buf = protowire.AppendString(buf, env.Method)
	}
	if env.Code != 0 {
		buf = protowire.AppendTag(buf, fieldCode, protowire.VarintType)
		buf = protowire.AppendVarint(buf, uint64(env.Code))
	}
	if env.Error != "" {
		buf = protowire.AppendTag(buf, fieldError, protowire.BytesType)
		buf = protowire.AppendString(buf, env.Error)
	}
	if len(env.Payload) > 0 {
		buf = protowire.AppendTag(buf, fieldPayload, protowire.BytesType)
		buf = protowire.AppendBytes(buf, env.Payload)
	}
	return buf, nil
}

func (c *ProtoCodec) Decode(data []byte, v any) error {
	env, ok := v.(*message.Envelope)
	if !ok {
		return errors.New("ProtoCodec: v must be *message.Envelope")
	}

	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("ProtoCodec: bad tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldMethod && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("ProtoCodec: bad method: %w", protowire.ParseError(n))
			}
			env.Method = s
			data = data[n:]
		case num == fieldCode && typ == protowire.VarintType:
			u, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("ProtoCodec: bad code: %w", protowire.ParseError(n))
			}
			env.Code = message.Code(u)
			data = data[n:]
		case num == fieldError && typ == protowire.BytesType:
			s, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("ProtoCodec: bad error: %w", protowire.ParseError(n))
			}
			env.Error = s
			data = data[n:]
		case num == fieldPayload && typ == protowire.BytesType:
			b, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return fmt.Errorf("ProtoCodec: bad payload: %w", protowire.ParseError(n))
			}
			env.Payload = append([]byte(nil), b...)
			data = data[n:]
		default:
			// Unknown field — skip it so old decoders tolerate new fields
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("ProtoCodec: bad field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}

func (c *ProtoCodec) Type() CodecType {
	return CodecTypeProto
}
