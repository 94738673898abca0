package order

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"order-rpc/message"
)

// StoreConfig controls status progression.
//
// Interval > 0 advances every order automatically on that period until
// DELIVERED, matching the demo cadence of the service. Interval == 0 leaves
// progression entirely to explicit Advance calls, which tests use for
// deterministic sequencing.
type StoreConfig struct {
	Interval time.Duration
}

// entry pairs an order with its change-broadcast channel. The channel is
// closed and replaced on every advance; subscribers capture the channel and
// the status index under the same lock, so no transition can be missed.
type entry struct {
	order   Order
	changed chan struct{}
}

// Store is the in-memory authoritative state for orders. It is the only
// shared mutable resource in the system: creates are serialized by the
// mutex, and every Subscribe call gets an independent read view.
type Store struct {
	mu        sync.Mutex
	orders    map[string]*entry
	interval  time.Duration
	done      chan struct{} // closed by Close, stops timer goroutines
	closeOnce sync.Once
}

// NewStore creates an empty store.
func NewStore(cfg StoreConfig) *Store {
	return &Store{
		orders:   make(map[string]*entry),
		interval: cfg.Interval,
		done:     make(chan struct{}),
	}
}

// Create registers a new order with status CREATED and a unique id.
// If the store runs timed progression, the order starts advancing
// immediately.
func (s *Store) Create(customerID string, itemIDs []string) Order {
	o := Order{
		ID:         "ord_" + uuid.NewString(),
		CustomerID: customerID,
		ItemIDs:    append([]string(nil), itemIDs...),
		Status:     StatusCreated,
		CreatedAt:  time.Now(),
	}

	s.mu.Lock()
	s.orders[o.ID] = &entry{order: o, changed: make(chan struct{})}
	s.mu.Unlock()

	if s.interval > 0 {
		go s.progress(o.ID)
	}
	return o
}

// Get returns a snapshot of the order, or NotFound.
func (s *Store) Get(orderID string) (Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.orders[orderID]
	if !ok {
		return Order{}, message.Errorf(message.CodeNotFound, "order %q not found", orderID)
	}
	o := e.order
	o.ItemIDs = append([]string(nil), e.order.ItemIDs...)
	return o, nil
}

// Advance moves the order one step toward DELIVERED and wakes all
// subscribers. At DELIVERED it is a no-op. Returns NotFound for unknown ids.
func (s *Store) Advance(orderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.orders[orderID]
	if !ok {
		return message.Errorf(message.CodeNotFound, "order %q not found", orderID)
	}
	if e.order.Status == StatusDelivered {
		return nil
	}
	e.order.Status++
	close(e.changed)
	e.changed = make(chan struct{})
	return nil
}

// Subscribe returns an independent sequence of status events for the order,
// positioned at its current status. The channel delivers one event per
// status, in order, and closes after the terminal DELIVERED event. It never
// skips a transition: on wake-up every intermediate status is emitted before
// the latest one. Cancelling ctx stops emission promptly and closes the
// channel.
func (s *Store) Subscribe(ctx context.Context, orderID string) (<-chan StatusEvent, error) {
	s.mu.Lock()
	e, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return nil, message.Errorf(message.CodeNotFound, "order %q not found", orderID)
	}
	// The subscription is positioned at the status current right now; one
	// behind it, so the first emission is the current status itself.
	start := int(e.order.Status) - 1
	s.mu.Unlock()

	out := make(chan StatusEvent)
	go func() {
		defer close(out)
		last := start

		for {
			s.mu.Lock()
			cur := int(e.order.Status)
			changed := e.changed
			s.mu.Unlock()

			for st := last + 1; st <= cur; st++ {
				ev := StatusEvent{OrderID: orderID, Status: Status(st), EmittedAt: time.Now()}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
			last = cur

			if cur == int(StatusDelivered) {
				return
			}
			select {
			case <-changed:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops the timed progression goroutines. Orders remain readable.
func (s *Store) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// progress drives one order from CREATED to DELIVERED on the configured
// interval.
func (s *Store) progress(orderID string) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if o, err := s.Get(orderID); err != nil || o.Status == StatusDelivered {
				return
			}
			s.Advance(orderID)
		case <-s.done:
			return
		}
	}
}
