package order

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"order-rpc/message"
)

func TestCreateUniqueIDs(t *testing.T) {
	s := NewStore(StoreConfig{})

	// Concurrent creates must never collide on an id
	const n = 200
	var wg sync.WaitGroup
	ids := make(chan string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := s.Create("C001", []string{"A"})
			ids <- o.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if id == "" {
			t.Fatal("empty order id")
		}
		if seen[id] {
			t.Fatalf("duplicate order id: %s", id)
		}
		seen[id] = true
	}
	if len(seen) != n {
		t.Fatalf("expect %d unique ids, got %d", n, len(seen))
	}
}

func TestGetNotFound(t *testing.T) {
	s := NewStore(StoreConfig{})
	_, err := s.Get("ord_missing")
	if err == nil {
		t.Fatal("expect error for unknown id")
	}
	if message.CodeOf(err) != message.CodeNotFound {
		t.Fatalf("expect NotFound, got %v", message.CodeOf(err))
	}
}

func TestSubscribeFullLadder(t *testing.T) {
	s := NewStore(StoreConfig{}) // manual progression
	o := s.Create("C001", []string{"A", "B"})

	events, err := s.Subscribe(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		for i := 0; i < 3; i++ {
			time.Sleep(10 * time.Millisecond)
			s.Advance(o.ID)
		}
	}()

	want := []Status{StatusCreated, StatusProcessing, StatusShipped, StatusDelivered}
	var got []Status
	for ev := range events {
		if ev.OrderID != o.ID {
			t.Fatalf("event for wrong order: %s", ev.OrderID)
		}
		got = append(got, ev.Status)
	}

	if len(got) != len(want) {
		t.Fatalf("expect %d events, got %d: %v", len(want), len(got), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expect %v, got %v", i, want[i], got[i])
		}
	}
}

func TestSubscribeStartsAtCurrentStatus(t *testing.T) {
	s := NewStore(StoreConfig{})
	o := s.Create("C001", []string{"A"})

	// Advance twice before subscribing: the sequence must start at SHIPPED,
	// not replay from CREATED
	s.Advance(o.ID)
	s.Advance(o.ID)

	events, err := s.Subscribe(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}
	go s.Advance(o.ID)

	first := <-events
	if first.Status != StatusShipped {
		t.Fatalf("expect first event SHIPPED, got %v", first.Status)
	}
	second, ok := <-events
	if !ok || second.Status != StatusDelivered {
		t.Fatalf("expect DELIVERED, got %v (ok=%v)", second.Status, ok)
	}
	if _, ok := <-events; ok {
		t.Fatal("expect channel closed after DELIVERED")
	}
}

func TestSubscribeNeverSkipsTransitions(t *testing.T) {
	s := NewStore(StoreConfig{})
	o := s.Create("C001", []string{"A"})

	events, err := s.Subscribe(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}

	// Advance all the way before the subscriber reads anything: it must
	// still observe every intermediate status
	s.Advance(o.ID)
	s.Advance(o.ID)
	s.Advance(o.ID)

	var got []Status
	for ev := range events {
		got = append(got, ev.Status)
	}
	if len(got) != 4 {
		t.Fatalf("expect 4 events, got %v", got)
	}
	for i, st := range got {
		if st != Status(i) {
			t.Fatalf("event %d: expect %v, got %v", i, Status(i), st)
		}
	}
}

func TestIndependentSubscriptions(t *testing.T) {
	s := NewStore(StoreConfig{})
	o := s.Create("C001", []string{"A"})

	ctx := context.Background()
	sub1, err := s.Subscribe(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}
	sub2, err := s.Subscribe(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}

	go func() {
		for i := 0; i < 3; i++ {
			s.Advance(o.ID)
			time.Sleep(5 * time.Millisecond)
		}
	}()

	count := func(ch <-chan StatusEvent) int {
		n := 0
		for range ch {
			n++
		}
		return n
	}

	var wg sync.WaitGroup
	counts := make([]int, 2)
	for i, ch := range []<-chan StatusEvent{sub1, sub2} {
		wg.Add(1)
		go func(i int, ch <-chan StatusEvent) {
			defer wg.Done()
			counts[i] = count(ch)
		}(i, ch)
	}
	wg.Wait()

	if counts[0] != 4 || counts[1] != 4 {
		t.Fatalf("each subscription should see 4 events, got %v", counts)
	}
}

func TestSubscribeCancel(t *testing.T) {
	s := NewStore(StoreConfig{})
	o := s.Create("C001", []string{"A"})

	ctx, cancel := context.WithCancel(context.Background())
	events, err := s.Subscribe(ctx, o.ID)
	if err != nil {
		t.Fatal(err)
	}

	first := <-events
	if first.Status != StatusCreated {
		t.Fatalf("expect CREATED, got %v", first.Status)
	}

	cancel()

	// The channel must close promptly with no further events
	select {
	case ev, ok := <-events:
		if ok {
			t.Fatalf("expect no event after cancel, got %v", ev.Status)
		}
	case <-time.After(time.Second):
		t.Fatal("subscription did not stop after cancel")
	}
}

func TestSubscribeUnknownOrder(t *testing.T) {
	s := NewStore(StoreConfig{})
	_, err := s.Subscribe(context.Background(), "ord_nope")
	if err == nil {
		t.Fatal("expect NotFound")
	}
	var se *message.Error
	if !errors.As(err, &se) || se.Code != message.CodeNotFound {
		t.Fatalf("expect *message.Error with NotFound, got %v", err)
	}
}

func TestTimedProgression(t *testing.T) {
	s := NewStore(StoreConfig{Interval: 10 * time.Millisecond})
	defer s.Close()
	o := s.Create("C001", []string{"A"})

	events, err := s.Subscribe(context.Background(), o.ID)
	if err != nil {
		t.Fatal(err)
	}

	deadline := time.After(2 * time.Second)
	var last Status
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				if last != StatusDelivered {
					t.Fatalf("stream ended before DELIVERED, last=%v", last)
				}
				return
			}
			last = ev.Status
		case <-deadline:
			t.Fatal("timed progression never reached DELIVERED")
		}
	}
}

func TestAdvanceTerminalNoOp(t *testing.T) {
	s := NewStore(StoreConfig{})
	o := s.Create("C001", []string{"A"})
	for i := 0; i < 10; i++ {
		if err := s.Advance(o.ID); err != nil {
			t.Fatal(err)
		}
	}
	got, err := s.Get(o.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusDelivered {
		t.Fatalf("expect DELIVERED, got %v", got.Status)
	}
}
