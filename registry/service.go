package registry

import "sync"

// Service is a named collection of methods sharing one fully-qualified
// package/service prefix, matching spec §3's "Service descriptor": a
// service is addressed as "/package.Service/Method" on the wire.
type Service struct {
	Name        string // fully-qualified, e.g. "inventory.v1.InventoryService"
	packageName string

	mu      sync.Mutex
	methods map[string]*Method
	frozen  bool
}

// NewService begins a new service builder. packageName is the protobuf
// package the service's request/response messages are addressed under
// (used to build informational type names); it does not need to resolve
// to a real .proto file.
func NewService(name, packageName string) *Service {
	return &Service{
		Name:        name,
		packageName: packageName,
		methods:     make(map[string]*Method),
	}
}

func (s *Service) addMethod(m *Method) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.frozen {
		panic("wireloop: cannot register method " + m.Name + " on service " + s.Name + " after the registry has been frozen")
	}
	s.methods[m.Name] = m
}

// Methods returns a snapshot of the service's methods, keyed by name.
func (s *Service) Methods() map[string]*Method {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]*Method, len(s.methods))
	for k, v := range s.methods {
		out[k] = v
	}
	return out
}

func (s *Service) freeze() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frozen = true
}
