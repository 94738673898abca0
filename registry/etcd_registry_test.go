package registry

import (
	"net"
	"testing"
	"time"
)

// Requires a local etcd on :2379; skipped when none is reachable.
func TestRegisterAndDiscover(t *testing.T) {
	probe, err := net.DialTimeout("tcp", "localhost:2379", time.Second)
	if err != nil {
		t.Skipf("etcd not reachable: %v", err)
	}
	probe.Close()

	reg, err := NewEtcdRegistry([]string{"localhost:2379"})
	if err != nil {
		t.Fatal(err)
	}

	inst1 := ServiceInstance{Addr: "127.0.0.1:8001", Version: "1.0"}
	inst2 := ServiceInstance{Addr: "127.0.0.1:8002", Version: "1.0"}

	if err := reg.Register("OrderService", inst1, 10); err != nil {
		t.Fatal(err)
	}
	if err := reg.Register("OrderService", inst2, 10); err != nil {
		t.Fatal(err)
	}

	instances, err := reg.Discover("OrderService")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 2 {
		t.Fatalf("expect 2 instances, got %d", len(instances))
	}

	if err := reg.Deregister("OrderService", inst1.Addr); err != nil {
		t.Fatal(err)
	}

	time.Sleep(100 * time.Millisecond)

	instances, err = reg.Discover("OrderService")
	if err != nil {
		t.Fatal(err)
	}
	if len(instances) != 1 {
		t.Fatalf("expect 1 instance after deregister, got %d", len(instances))
	}
	if instances[0].Addr != inst2.Addr {
		t.Fatalf("expect %s, got %s", inst2.Addr, instances[0].Addr)
	}

	// Cleanup
	reg.Deregister("OrderService", inst2.Addr)
}
