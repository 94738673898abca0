// Package transport implements the client-side transport layer with stream
// multiplexing and heartbeat.
//
// ClientTransport runs every call — unary or streaming — over a single TCP
// connection. Each call gets a unique stream id at open, and a background
// goroutine (recvLoop) continuously reads frames and routes them to the
// owning call's event channel:
//
//	goroutine-1 ──Open(id=1)──┐
//	goroutine-2 ──Open(id=2)──┼──→ single TCP conn ──→ Server
//	goroutine-3 ──Open(id=3)──┘
//
//	recvLoop:  ←── Data(id=2) → stream-2 events ← event → goroutine-2 wakes up
//
// Unlike a unary-only transport that maps one response per sequence number,
// a stream here receives an ordered sequence of typed events — data,
// end-of-stream, or error — and the terminal event removes the stream from
// the routing table.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"order-rpc/codec"
	"order-rpc/message"
	"order-rpc/protocol"
	"order-rpc/trace"
)

// event is one routed inbound item: a frame belonging to the stream, or a
// transport failure that aborts it.
type event struct {
	typ protocol.MsgType
	env *message.Envelope
	err error
}

// ClientTransport manages a single multiplexed TCP connection.
type ClientTransport struct {
	conn      net.Conn
	codec     codec.Codec
	codecType byte
	obs       trace.Observer

	seq     uint32     // Monotonically increasing stream id (protected by sending)
	calls   sync.Map   // map[uint32]*Stream — open calls by stream id
	sending sync.Mutex // Write lock — one conn, writes must not interleave
}

// NewClientTransport creates a transport over the given connection and
// starts the recvLoop and heartbeatLoop goroutines. obs may be nil.
func NewClientTransport(conn net.Conn, ct codec.CodecType, obs trace.Observer) *ClientTransport {
	if obs == nil {
		obs = trace.Nop{}
	}
	t := &ClientTransport{
		conn:      conn,
		codec:     codec.GetCodec(ct),
		codecType: byte(ct),
		obs:       obs,
	}
	go t.recvLoop()
	go t.heartbeatLoop(30 * time.Second)
	return t
}

// Open starts a call. The Request frame carries the method and, when initial
// is non-nil, its JSON-encoded payload. The returned Stream delivers the
// call's inbound events; cancelling ctx cancels the call on the wire.
func (t *ClientTransport) Open(ctx context.Context, method string, initial any) (*Stream, error) {
	var payload []byte
	if initial != nil {
		var err error
		payload, err = json.Marshal(initial)
		if err != nil {
			return nil, err
		}
	}

	t.sending.Lock()
	t.seq++
	s := &Stream{
		id:     t.seq,
		method: method,
		t:      t,
		start:  time.Now(),
		events: make(chan event, 16),
		closed: make(chan struct{}),
	}
	// Register before the frame hits the wire, so a fast response cannot
	// race the routing table.
	t.calls.Store(s.id, s)
	err := t.writeFrameLocked(protocol.MsgTypeRequest, s.id, &message.Envelope{Method: method, Payload: payload})
	t.sending.Unlock()
	if err != nil {
		t.calls.Delete(s.id)
		return nil, err
	}

	t.obs.CallStarted(method, s.id)

	if ctx != nil && ctx.Done() != nil {
		go func() {
			select {
			case <-ctx.Done():
				s.Cancel()
			case <-s.closed:
			}
		}()
	}
	return s, nil
}

// Call performs a unary round trip: one Request, one Response, decoded into
// reply.
func (t *ClientTransport) Call(ctx context.Context, method string, args, reply any) error {
	s, err := t.Open(ctx, method, args)
	if err != nil {
		return err
	}
	env, err := s.Recv()
	if err != nil {
		return err
	}
	return json.Unmarshal(env.Payload, reply)
}

// Close tears down the connection; every open call fails with the close
// error on its next read.
func (t *ClientTransport) Close() error {
	return t.conn.Close()
}

// writeEnvelope encodes env and writes one frame under the sending lock.
func (t *ClientTransport) writeEnvelope(msgType protocol.MsgType, streamID uint32, env *message.Envelope) error {
	t.sending.Lock()
	defer t.sending.Unlock()
	return t.writeFrameLocked(msgType, streamID, env)
}

func (t *ClientTransport) writeFrameLocked(msgType protocol.MsgType, streamID uint32, env *message.Envelope) error {
	var body []byte
	if env != nil {
		var err error
		body, err = t.codec.Encode(env)
		if err != nil {
			return err
		}
	}
	header := protocol.Header{
		CodecType: t.codecType,
		MsgType:   msgType,
		StreamID:  streamID,
		BodyLen:   uint32(len(body)),
	}
	return protocol.Encode(t.conn, &header, body)
}

// recvLoop runs in a dedicated goroutine, continuously reading frames from
// the connection and routing each one to the stream it belongs to. Terminal
// frames (Response, End, Error) remove the stream from the routing table, so
// late frames for a finished call are dropped.
//
// A single reader keeps frame boundaries intact; multiple readers would
// corrupt the byte stream.
func (t *ClientTransport) recvLoop() {
	for {
		header, body, err := protocol.Decode(t.conn)
		if err != nil {
			t.failAll(err)
			return
		}

		switch header.MsgType {
		case protocol.MsgTypeResponse, protocol.MsgTypeData, protocol.MsgTypeEnd, protocol.MsgTypeError:
		default:
			continue // Nothing else flows server → client
		}

		v, ok := t.calls.Load(header.StreamID)
		if !ok {
			continue // Call finished or cancelled; drop the frame
		}
		s := v.(*Stream)

		ev := event{typ: header.MsgType}
		if header.MsgType != protocol.MsgTypeEnd {
			env := &message.Envelope{}
			c := codec.GetCodec(codec.CodecType(header.CodecType))
			if err := c.Decode(body, env); err != nil {
				ev = event{err: err}
			} else {
				ev.env = env
			}
		}

		// Response, End, and Error all terminate the stream.
		if header.MsgType != protocol.MsgTypeData {
			t.calls.Delete(header.StreamID)
		}

		select {
		case s.events <- ev:
		case <-s.closed:
		}
	}
}

// failAll aborts every open call when the connection breaks, so no caller
// blocks forever waiting for an event.
func (t *ClientTransport) failAll(err error) {
	t.calls.Range(func(key, value any) bool {
		value.(*Stream).terminate(err)
		t.calls.Delete(key)
		return true
	})
}

// heartbeatLoop sends periodic heartbeat frames to keep the connection
// alive. Heartbeats have no body and no stream, so they are very
// lightweight.
func (t *ClientTransport) heartbeatLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for range ticker.C {
		if err := t.writeEnvelope(protocol.MsgTypeHeartbeat, 0, nil); err != nil {
			return // Connection broken, exit heartbeat loop
		}
	}
}

// Stream is the client side of one open call: an ordered sequence of inbound
// events plus an outbound send direction. Recv is single-consumer.
type Stream struct {
	id     uint32
	method string
	t      *ClientTransport
	start  time.Time

	events chan event
	closed chan struct{} // closed once the stream is finished for any reason

	mu         sync.Mutex
	termErr    error // First terminal condition; sticky
	sendClosed bool
	closeOnce  sync.Once
}

// ID returns the stream id assigned at open.
func (s *Stream) ID() uint32 { return s.id }

// Recv returns the next inbound envelope.
//
// Terminal conditions, each sticky and mutually exclusive:
//   - clean end-of-stream: io.EOF
//   - explicit error from the peer: *message.Error with its code
//   - cancellation (Cancel or ctx): *message.Error with CodeCancelled
//
// A Response envelope is returned to the caller and ends the stream; the
// next Recv reports io.EOF.
func (s *Stream) Recv() (*message.Envelope, error) {
	s.mu.Lock()
	term := s.termErr
	s.mu.Unlock()
	if term != nil {
		return nil, term
	}

	// A fired cancellation wins over a buffered event: nothing is delivered
	// after the stream is closed.
	select {
	case <-s.closed:
		return nil, s.terminalError()
	default:
	}

	select {
	case ev := <-s.events:
		if ev.err != nil {
			s.terminate(ev.err)
			return nil, ev.err
		}
		switch ev.typ {
		case protocol.MsgTypeData:
			s.t.obs.MessageReceived(s.method, s.id)
			return ev.env, nil
		case protocol.MsgTypeResponse:
			s.t.obs.MessageReceived(s.method, s.id)
			s.terminate(io.EOF)
			return ev.env, nil
		case protocol.MsgTypeEnd:
			s.terminate(io.EOF)
			return nil, io.EOF
		case protocol.MsgTypeError:
			err := message.FromEnvelope(ev.env)
			s.terminate(err)
			return nil, err
		}
		err := message.Errorf(message.CodeInternal, "unexpected frame type %d", ev.typ)
		s.terminate(err)
		return nil, err
	case <-s.closed:
		return nil, s.terminalError()
	}
}

// Send emits one Data frame with the JSON-encoded message. It fails after
// CloseSend or any terminal condition.
func (s *Stream) Send(v any) error {
	s.mu.Lock()
	switch {
	case s.termErr != nil:
		err := s.termErr
		s.mu.Unlock()
		return err
	case s.sendClosed:
		s.mu.Unlock()
		return message.Errorf(message.CodeInternal, "send after CloseSend on stream %d", s.id)
	}
	s.mu.Unlock()

	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := s.t.writeEnvelope(protocol.MsgTypeData, s.id, &message.Envelope{Method: s.method, Payload: payload}); err != nil {
		return err
	}
	s.t.obs.MessageSent(s.method, s.id)
	return nil
}

// CloseSend signals explicit end-of-input. The receive direction stays open;
// further Sends fail.
func (s *Stream) CloseSend() error {
	s.mu.Lock()
	if s.sendClosed {
		s.mu.Unlock()
		return nil
	}
	s.sendClosed = true
	s.mu.Unlock()
	return s.t.writeEnvelope(protocol.MsgTypeEnd, s.id, nil)
}

// Cancel aborts the call: a Cancel frame tells the server to stop, and the
// stream terminates locally with CodeCancelled. Safe to call more than once.
func (s *Stream) Cancel() {
	s.terminate(message.Errorf(message.CodeCancelled, "call %s cancelled", s.method))
	// Best effort: the connection may already be gone.
	_ = s.t.writeEnvelope(protocol.MsgTypeCancel, s.id, nil)
}

// terminate records the first terminal condition, closes the stream, and
// removes it from the routing table. Idempotent.
func (s *Stream) terminate(err error) {
	s.mu.Lock()
	if s.termErr == nil {
		s.termErr = err
	}
	s.mu.Unlock()
	s.closeOnce.Do(func() {
		close(s.closed)
		s.t.calls.Delete(s.id)
		// io.EOF is a clean end, not a failure.
		code := message.CodeOK
		var obsErr error
		if !errors.Is(s.termErr, io.EOF) {
			code = message.CodeOf(s.termErr)
			obsErr = s.termErr
		}
		s.t.obs.CallFinished(s.method, s.id, code, obsErr, time.Since(s.start))
	})
}

func (s *Stream) terminalError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.termErr == nil {
		s.termErr = message.Errorf(message.CodeCancelled, "call %s cancelled", s.method)
	}
	return s.termErr
}
