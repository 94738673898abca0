// Package service implements the order service handlers against the
// in-memory store, one handler per interaction shape.
package service

import (
	"context"
	"errors"
	"io"
	"time"

	"order-rpc/message"
	"order-rpc/order"
	"order-rpc/server"
)

// OrderService is the Handler registered with the server. All order state
// lives in the store; the service holds no private copy.
type OrderService struct {
	store *order.Store
}

func NewOrderService(store *order.Store) *OrderService {
	return &OrderService{store: store}
}

// Create registers a new order and returns its id immediately.
func (s *OrderService) Create(ctx context.Context, req *order.CreateRequest) (*order.CreateResponse, error) {
	if len(req.ItemIDs) == 0 {
		return nil, message.Errorf(message.CodeInvalidArgument, "item_ids must not be empty")
	}
	o := s.store.Create(req.CustomerID, req.ItemIDs)
	return &order.CreateResponse{OrderID: o.ID}, nil
}

// StreamStatus emits the order's status progression until DELIVERED, then
// ends cleanly. An unknown id fails with NotFound before any event is sent.
// Cancellation stops the subscription; the store halts event production as
// soon as the stream context fires.
func (s *OrderService) StreamStatus(req *order.StatusRequest, stream *server.StatusStream) error {
	events, err := s.store.Subscribe(stream.Context(), req.OrderID)
	if err != nil {
		return err
	}
	for ev := range events {
		if err := stream.Send(&ev); err != nil {
			return err
		}
	}
	// The subscription channel closes either after the terminal DELIVERED
	// event or because the context fired; only the latter is an error.
	if err := stream.Context().Err(); err != nil {
		return err
	}
	return nil
}

// UploadNotes folds the uploaded note sequence into a summary and responds
// only after end-of-input. Zero notes is a valid upload with Count 0.
func (s *OrderService) UploadNotes(stream *server.NoteStream) (*order.NotesSummary, error) {
	var summary order.NotesSummary
	for {
		note, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return &summary, nil
		}
		if err != nil {
			return nil, err
		}
		if summary.Count == 0 {
			summary.FirstTS = note.TS
		}
		summary.Count++
		summary.TotalChars += len(note.Text)
		summary.LastTS = note.TS
	}
}

// Chat acknowledges each inbound message with one reply. It returns once the
// peer half-closes, which half-closes the server direction in turn and
// completes the call.
func (s *OrderService) Chat(stream *server.ChatStream) error {
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		reply := &order.ChatMessage{
			From: "server",
			Text: "ack:" + msg.From + "|" + msg.Text,
			TS:   time.Now(),
		}
		if err := stream.Send(reply); err != nil {
			return err
		}
	}
}
