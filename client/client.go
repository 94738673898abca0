// Package client provides the typed order-service client driving the four
// interaction shapes over one persistent connection.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net"

	"order-rpc/codec"
	"order-rpc/order"
	"order-rpc/registry"
	"order-rpc/trace"
	"order-rpc/transport"
)

// Option configures a Client at dial time.
type Option func(*options)

type options struct {
	codecType codec.CodecType
	observer  trace.Observer
}

// WithCodec selects the envelope codec. Default is the protobuf wire codec.
func WithCodec(ct codec.CodecType) Option {
	return func(o *options) { o.codecType = ct }
}

// WithObserver installs a call-lifecycle observer. Default is trace.Nop.
func WithObserver(obs trace.Observer) Option {
	return func(o *options) { o.observer = obs }
}

// Client drives the order service. All calls share one multiplexed
// connection; independent calls never interfere with each other.
type Client struct {
	t *transport.ClientTransport
}

// Dial connects to the service at the given address.
func Dial(network, addr string, opts ...Option) (*Client, error) {
	o := options{codecType: codec.CodecTypeProto, observer: trace.Nop{}}
	for _, opt := range opts {
		opt(&o)
	}
	conn, err := net.Dial(network, addr)
	if err != nil {
		return nil, err
	}
	return &Client{t: transport.NewClientTransport(conn, o.codecType, o.observer)}, nil
}

// Discover resolves the service through the registry and dials the first
// instance found.
func Discover(reg registry.Registry, service string, opts ...Option) (*Client, error) {
	instances, err := reg.Discover(service)
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, fmt.Errorf("no instances of %s registered", service)
	}
	return Dial("tcp", instances[0].Addr, opts...)
}

// Close tears down the connection; open calls fail on their next read.
func (c *Client) Close() error {
	return c.t.Close()
}

// Create is the unary shape: one request, one response, no intermediate
// state.
func (c *Client) Create(ctx context.Context, req *order.CreateRequest) (*order.CreateResponse, error) {
	var resp order.CreateResponse
	if err := c.t.Call(ctx, order.MethodCreate, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// StreamStatus opens a server-streaming subscription to the order's status
// progression.
func (c *Client) StreamStatus(ctx context.Context, orderID string) (*StatusStream, error) {
	st, err := c.t.Open(ctx, order.MethodStreamStatus, &order.StatusRequest{OrderID: orderID})
	if err != nil {
		return nil, err
	}
	return &StatusStream{st: st}, nil
}

// UploadNotes opens a client-streaming upload. Send notes, then
// CloseAndRecv for the summary.
func (c *Client) UploadNotes(ctx context.Context) (*NoteUploader, error) {
	st, err := c.t.Open(ctx, order.MethodUploadNotes, nil)
	if err != nil {
		return nil, err
	}
	return &NoteUploader{st: st}, nil
}

// Chat opens the bidirectional channel. Send and Recv are independent; close
// the send direction with CloseSend and keep receiving until io.EOF.
func (c *Client) Chat(ctx context.Context) (*ChatStream, error) {
	st, err := c.t.Open(ctx, order.MethodChat, nil)
	if err != nil {
		return nil, err
	}
	return &ChatStream{st: st}, nil
}

// StatusStream is the receive side of a StreamStatus call.
//
// Recv distinguishes the three terminal conditions: io.EOF after the
// DELIVERED event (clean end), *message.Error for an explicit error, and a
// CodeCancelled error after cancellation. Nothing is delivered after any of
// them.
type StatusStream struct {
	st *transport.Stream
}

func (s *StatusStream) Recv() (*order.StatusEvent, error) {
	env, err := s.st.Recv()
	if err != nil {
		return nil, err
	}
	var ev order.StatusEvent
	if err := json.Unmarshal(env.Payload, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// Cancel aborts the subscription; the server stops emitting.
func (s *StatusStream) Cancel() {
	s.st.Cancel()
}

// NoteUploader is the send side of an UploadNotes call.
type NoteUploader struct {
	st *transport.Stream
}

func (u *NoteUploader) Send(n *order.Note) error {
	return u.st.Send(n)
}

// CloseAndRecv signals end-of-input and waits for the single summary
// response. No Send may follow.
func (u *NoteUploader) CloseAndRecv() (*order.NotesSummary, error) {
	if err := u.st.CloseSend(); err != nil {
		return nil, err
	}
	env, err := u.st.Recv()
	if err != nil {
		return nil, err
	}
	var sum order.NotesSummary
	if err := json.Unmarshal(env.Payload, &sum); err != nil {
		return nil, err
	}
	return &sum, nil
}

// ChatStream is both directions of a Chat call.
type ChatStream struct {
	st *transport.Stream
}

func (s *ChatStream) Send(m *order.ChatMessage) error {
	return s.st.Send(m)
}

// CloseSend half-closes the client direction. The peer may keep sending; the
// call completes when both directions are closed.
func (s *ChatStream) CloseSend() error {
	return s.st.CloseSend()
}

// Recv returns the next inbound message, io.EOF once the server direction
// closes cleanly, or the stream's terminal error.
func (s *ChatStream) Recv() (*order.ChatMessage, error) {
	env, err := s.st.Recv()
	if err != nil {
		return nil, err
	}
	var m order.ChatMessage
	if err := json.Unmarshal(env.Payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Cancel aborts the call on both directions.
func (s *ChatStream) Cancel() {
	s.st.Cancel()
}
