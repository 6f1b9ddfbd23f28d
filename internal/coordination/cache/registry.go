package cache

import (
	"sync"
	"time"

	"github.com/tabletkv/corestore/internal/coordination"
)

// registryKey identifies a shared Cache instance by the coordination
// session it fronts.
type registryKey struct {
	connectString  string
	sessionTimeout time.Duration
}

// Registry is a process-wide map from (connect-string, session-timeout) to
// Cache instance, enabling safe sharing: the first request constructs, and
// every later request for the same key returns the same instance.
// Instances are never evicted. Modeled as a constructible collaborator
// rather than a package-level singleton so tests can inject a fresh one.
type Registry struct {
	mu        sync.Mutex
	instances map[registryKey]*Cache
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{instances: make(map[registryKey]*Cache)}
}

// Shared returns the Cache registered for (connectString, sessionTimeout),
// constructing one over client via New if this is the first request for
// that key.
func (r *Registry) Shared(connectString string, sessionTimeout time.Duration, client coordination.Client) *Cache {
	key := registryKey{connectString, sessionTimeout}

	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.instances[key]; ok {
		return c
	}
	c := New(client)
	r.instances[key] = c
	return c
}
