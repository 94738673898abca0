package service

import (
	"context"
	"testing"

	"order-rpc/message"
	"order-rpc/order"
)

func TestCreate(t *testing.T) {
	store := order.NewStore(order.StoreConfig{})
	svc := NewOrderService(store)

	resp, err := svc.Create(context.Background(), &order.CreateRequest{
		CustomerID: "C001",
		ItemIDs:    []string{"A", "B"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if resp.OrderID == "" {
		t.Fatal("expect non-empty order id")
	}

	// The order exists in the store with status CREATED
	o, err := store.Get(resp.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if o.CustomerID != "C001" || len(o.ItemIDs) != 2 {
		t.Fatalf("stored order wrong: %+v", o)
	}
	if o.Status != order.StatusCreated {
		t.Fatalf("expect CREATED, got %v", o.Status)
	}
}

func TestCreateEmptyItems(t *testing.T) {
	svc := NewOrderService(order.NewStore(order.StoreConfig{}))

	_, err := svc.Create(context.Background(), &order.CreateRequest{CustomerID: "C001"})
	if err == nil {
		t.Fatal("expect error for empty item_ids")
	}
	if message.CodeOf(err) != message.CodeInvalidArgument {
		t.Fatalf("expect InvalidArgument, got %v", message.CodeOf(err))
	}
}
