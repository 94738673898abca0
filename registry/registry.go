package registry

// ServiceInstance describes one reachable server of a service.
type ServiceInstance struct {
	Addr    string
	Version string
}

// Registry lets servers announce themselves and clients find them.
// Discovery is optional on both sides: a nil registry means direct dialing.
type Registry interface {
	Register(serviceName string, instance ServiceInstance, ttl int64) error
	Deregister(serviceName string, addr string) error
	Discover(serviceName string) ([]ServiceInstance, error)
	Watch(serviceName string) <-chan []ServiceInstance
}
