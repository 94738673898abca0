// Package order defines the wire schema of the order service — the four
// method names and their request, response, and stream message shapes — and
// the in-memory store that owns order state.
package order

import (
	"fmt"
	"time"
)

// ServiceName is the registry-visible name of the order service.
const ServiceName = "OrderService"

// Method names as they appear in the Request envelope, "Service.Method"
// format.
const (
	MethodCreate       = "OrderService.Create"
	MethodStreamStatus = "OrderService.StreamStatus"
	MethodUploadNotes  = "OrderService.UploadNotes"
	MethodChat         = "OrderService.Chat"
)

// Status is the lifecycle stage of an order. Progression is strictly
// CREATED → PROCESSING → SHIPPED → DELIVERED; DELIVERED is terminal.
type Status uint8

const (
	StatusCreated Status = iota
	StatusProcessing
	StatusShipped
	StatusDelivered
)

var statusNames = [...]string{"CREATED", "PROCESSING", "SHIPPED", "DELIVERED"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// MarshalJSON encodes the status as its name, so JSON payloads stay readable
// across languages.
func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Status) UnmarshalJSON(data []byte) error {
	name := string(data)
	for i, n := range statusNames {
		if name == `"`+n+`"` {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown order status: %s", name)
}

// Order is the authoritative record held by the Store. The Store owns the
// only mutable copy; values handed out are snapshots.
type Order struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	ItemIDs    []string  `json:"item_ids"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// StatusEvent is one step of an order's status progression, produced per
// active subscription and never persisted.
type StatusEvent struct {
	OrderID   string    `json:"order_id"`
	Status    Status    `json:"status"`
	EmittedAt time.Time `json:"emitted_at"`
}

// Note is one client-streamed input unit; it is discarded once folded into a
// NotesSummary.
type Note struct {
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

// NotesSummary aggregates an uploaded note sequence.
type NotesSummary struct {
	Count      int       `json:"count"`
	TotalChars int       `json:"total_chars"`
	FirstTS    time.Time `json:"first_ts"`
	LastTS     time.Time `json:"last_ts"`
}

// ChatMessage is exchanged symmetrically on the bidirectional channel.
type ChatMessage struct {
	From string    `json:"from"`
	Text string    `json:"text"`
	TS   time.Time `json:"ts"`
}

// CreateRequest is the unary Create input.
type CreateRequest struct {
	CustomerID string   `json:"customer_id"`
	ItemIDs    []string `json:"item_ids"`
}

// CreateResponse is the unary Create output.
type CreateResponse struct {
	OrderID string `json:"order_id"`
}

// StatusRequest opens a StreamStatus subscription.
type StatusRequest struct {
	OrderID string `json:"order_id"`
}
