// Package protocol implements the binary frame protocol for order-rpc.
//
// It solves TCP's sticky packet problem with a fixed 16-byte header followed
// by a variable-length body. The receiver reads the header first to learn the
// body length, then reads exactly that many bytes.
//
// Frame format:
//
//	0      3  4  5  6  7  8        12        16
//	┌──────┬──┬──┬──┬──┬──┬────────┬─────────┬───────────────┐
//	│magic │v │ct│mt│fl│--│ stream │ bodyLen │    body ...    │
//	│ orp  │01│  │  │  │  │ uint32 │ uint32  │ bodyLen bytes  │
//	└──────┴──┴──┴──┴──┴──┴────────┴─────────┴───────────────┘
//
// The stream id multiplexes concurrent calls over one connection: every frame
// belonging to a call carries the id assigned when the call was opened.
// Bodies at or above snappyThreshold are transparently snappy-compressed,
// signalled by FlagSnappy; bodyLen is always the on-wire (compressed) length.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/golang/snappy"
)

// Magic number bytes: "orp" (order-rpc protocol).
// Rejects non-protocol connections (e.g. HTTP clients hitting the wrong port).
const (
	MagicNumber byte = 0x6f // 'o'
	MagicByte2  byte = 0x72 // 'r'
	MagicByte3  byte = 0x70 // 'p'
	Version     byte = 0x01
	HeaderSize  int  = 16 // 3 (magic) + 1 (version) + 1 (codec) + 1 (msgType) + 1 (flags) + 1 (pad) + 4 (stream) + 4 (bodyLen)
)

// MsgType distinguishes the frame kinds a call is made of.
type MsgType byte

const (
	MsgTypeRequest   MsgType = 0 // Opens a call: carries the method and initial payload
	MsgTypeResponse  MsgType = 1 // Unary / client-streaming terminal reply
	MsgTypeData      MsgType = 2 // One message on an open stream
	MsgTypeEnd       MsgType = 3 // Half-close: sender has no further messages on this stream
	MsgTypeError     MsgType = 4 // Terminal error envelope for this stream
	MsgTypeCancel    MsgType = 5 // Caller aborted the call (no body)
	MsgTypeHeartbeat MsgType = 6 // KeepAlive probe (no body)
)

// Frame flags.
const (
	FlagSnappy byte = 0x01 // Body is snappy-compressed
)

// Bodies smaller than this are not worth compressing.
const snappyThreshold = 512

// Codec type constants, mirrored from the codec package to avoid a
// circular import.
const (
	CodecTypeJSON  byte = 0
	CodecTypeProto byte = 1
)

// Header represents the fixed 16-byte frame header.
type Header struct {
	CodecType byte    // Serialization format: 0=JSON, 1=Proto
	MsgType   MsgType // One of the MsgType constants
	Flags     byte    // FlagSnappy when the body is compressed
	StreamID  uint32  // Call identifier — the key to multiplexing
	BodyLen   uint32  // On-wire body length in bytes
}

// Encode writes a complete frame (header + body) to w, compressing the body
// when it is large enough to benefit. The caller must hold a write lock if
// multiple goroutines share the same writer, otherwise frames from different
// calls will interleave and corrupt the stream.
func Encode(w io.Writer, h *Header, body []byte) error {
	flags := h.Flags &^ FlagSnappy
	if len(body) >= snappyThreshold {
		body = snappy.Encode(nil, body)
		flags |= FlagSnappy
	}

	buf := make([]byte, HeaderSize)
	copy(buf[0:3], []byte{MagicNumber, MagicByte2, MagicByte3})
	buf[3] = Version
	buf[4] = h.CodecType
	buf[5] = byte(h.MsgType)
	buf[6] = flags
	// buf[7] is padding, reserved
	binary.BigEndian.PutUint32(buf[8:12], h.StreamID)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(body)))

	if _, err := w.Write(buf); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	return nil
}

// Decode reads a complete frame (header + body) from r.
// It validates the magic number, version, codec type, and message type, and
// expands a snappy-compressed body. Uses io.ReadFull to guarantee exactly N
// bytes are read, preventing partial reads.
func Decode(r io.Reader) (*Header, []byte, error) {
	headerBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, headerBuf); err != nil {
		return nil, nil, err
	}

	if headerBuf[0] != MagicNumber || headerBuf[1] != MagicByte2 || headerBuf[2] != MagicByte3 {
		return nil, nil, fmt.Errorf("invalid magic number: %x", headerBuf[0:3])
	}
	if headerBuf[3] != Version {
		return nil, nil, fmt.Errorf("unsupported version: %d", headerBuf[3])
	}
	if headerBuf[4] != CodecTypeJSON && headerBuf[4] != CodecTypeProto {
		return nil, nil, fmt.Errorf("unsupported codec type: %d", headerBuf[4])
	}
	msgType := headerBuf[5]
	if msgType > byte(MsgTypeHeartbeat) {
		return nil, nil, fmt.Errorf("unsupported message type: %d", msgType)
	}

	flags := headerBuf[6]
	streamID := binary.BigEndian.Uint32(headerBuf[8:12])
	bodyLen := binary.BigEndian.Uint32(headerBuf[12:16])

	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, nil, err
	}

	if flags&FlagSnappy != 0 {
		expanded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, nil, fmt.Errorf("corrupt compressed body: %w", err)
		}
		body = expanded
		flags &^= FlagSnappy
	}

	return &Header{
		CodecType: headerBuf[4],
		MsgType:   MsgType(msgType),
		Flags:     flags,
		StreamID:  streamID,
		BodyLen:   bodyLen,
	}, body, nil
}
