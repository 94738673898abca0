package server

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"

	"order-rpc/codec"
	"order-rpc/message"
	"order-rpc/order"
	"order-rpc/protocol"
	"order-rpc/trace"
)

// Handler is the order service as seen by the server. One implementation is
// registered per server; dispatch is by method name, one method per
// interaction shape.
type Handler interface {
	// Create is unary: one request, one response.
	Create(ctx context.Context, req *order.CreateRequest) (*order.CreateResponse, error)
	// StreamStatus is server-streaming: events go out on stream until the
	// handler returns. A nil return is a clean end-of-stream.
	StreamStatus(req *order.StatusRequest, stream *StatusStream) error
	// UploadNotes is client-streaming: the handler reads until io.EOF and
	// the returned summary becomes the single response.
	UploadNotes(stream *NoteStream) (*order.NotesSummary, error)
	// Chat is bidirectional: Recv and Send are independent; the handler may
	// keep sending after the peer half-closes. Return ends the server's
	// send direction.
	Chat(stream *ChatStream) error
}

// stream is the server-side state of one open call. The read loop feeds
// inbound envelopes, the handler goroutine consumes them and writes frames
// back through the shared per-connection writer.
type stream struct {
	ctx    context.Context
	cancel context.CancelFunc

	id        uint32
	method    string
	conn      net.Conn
	writeMu   *sync.Mutex
	codec     codec.Codec
	codecType byte
	obs       trace.Observer

	inbound chan *message.Envelope // closed by the read loop on End
	endOnce sync.Once              // guards inbound close against a duplicate End
	done    chan struct{}          // closed when the call goroutine finishes
}

// writeFrame encodes env and writes one frame under the connection's write
// lock. A nil env produces an empty body (End, Cancel).
func (s *stream) writeFrame(msgType protocol.MsgType, env *message.Envelope) error {
	var body []byte
	if env != nil {
		var err error
		body, err = s.codec.Encode(env)
		if err != nil {
			return err
		}
	}
	header := protocol.Header{
		CodecType: s.codecType,
		MsgType:   msgType,
		StreamID:  s.id,
		BodyLen:   uint32(len(body)),
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return protocol.Encode(s.conn, &header, body)
}

// send marshals v and emits one Data frame. It refuses to send once the call
// has been cancelled, so no event escapes after a Cancel is observed.
func (s *stream) send(v any) error {
	if err := s.ctx.Err(); err != nil {
		return message.Errorf(message.CodeCancelled, "stream %d cancelled", s.id)
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.writeFrame(protocol.MsgTypeData, &message.Envelope{Method: s.method, Payload: payload}); err != nil {
		return err
	}
	s.obs.MessageSent(s.method, s.id)
	return nil
}

// recv returns the next inbound envelope. io.EOF means the peer half-closed
// (explicit end-of-input); a Cancelled error means the call was aborted.
func (s *stream) recv() (*message.Envelope, error) {
	select {
	case env, ok := <-s.inbound:
		if !ok {
			return nil, io.EOF
		}
		s.obs.MessageReceived(s.method, s.id)
		return env, nil
	case <-s.ctx.Done():
		return nil, message.Errorf(message.CodeCancelled, "stream %d cancelled", s.id)
	}
}

// pushEnd closes the inbound channel exactly once.
func (s *stream) pushEnd() {
	s.endOnce.Do(func() { close(s.inbound) })
}

// StatusStream is the send side of a StreamStatus call.
type StatusStream struct {
	st *stream
}

// Context is cancelled when the caller cancels the call or the connection
// drops. Handlers must stop emitting once it fires.
func (s *StatusStream) Context() context.Context { return s.st.ctx }

// Send emits one status event to the caller.
func (s *StatusStream) Send(ev *order.StatusEvent) error {
	return s.st.send(ev)
}

// NoteStream is the receive side of an UploadNotes call.
type NoteStream struct {
	st *stream
}

func (s *NoteStream) Context() context.Context { return s.st.ctx }

// Recv returns the next uploaded note, or io.EOF after the caller signals
// end-of-input.
func (s *NoteStream) Recv() (*order.Note, error) {
	env, err := s.st.recv()
	if err != nil {
		return nil, err
	}
	var n order.Note
	if err := json.Unmarshal(env.Payload, &n); err != nil {
		return nil, message.Errorf(message.CodeInvalidArgument, "malformed note: %v", err)
	}
	return &n, nil
}

// ChatStream is both directions of a Chat call. Recv and Send may be used
// from different goroutines; sends are serialized by the connection writer.
type ChatStream struct {
	st *stream
}

func (s *ChatStream) Context() context.Context { return s.st.ctx }

// Recv returns the next inbound chat message, or io.EOF once the peer has
// half-closed its send direction.
func (s *ChatStream) Recv() (*order.ChatMessage, error) {
	env, err := s.st.recv()
	if err != nil {
		return nil, err
	}
	var m order.ChatMessage
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		return nil, message.Errorf(message.CodeInvalidArgument, "malformed chat message: %v", err)
	}
	return &m, nil
}

// Send emits one chat message. Sending remains valid after the peer
// half-closes; it fails only once the call is cancelled or finished.
func (s *ChatStream) Send(m *order.ChatMessage) error {
	return s.st.send(m)
}
