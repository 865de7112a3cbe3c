package registry

import "sync"

// MemoryRegistry is a reference Registry: a concurrent-safe map from
// service name to Service. Reads never block a writer and vice versa
// beyond the critical section, matching the read-mostly discipline
// spec §5 asks of the registry.
type MemoryRegistry struct {
	mu       sync.RWMutex
	services map[string]Service
}

// NewMemoryRegistry creates an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{services: make(map[string]Service)}
}

// Add registers svc under its own Name().
func (r *MemoryRegistry) Add(svc Service) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.services[svc.Name()] = svc
}

// Remove drops the service with the given name, if present.
func (r *MemoryRegistry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services, name)
}

func (r *MemoryRegistry) Resolve(name string) (Service, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	svc, ok := r.services[name]
	return svc, ok
}
