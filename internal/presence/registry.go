package presence

import (
	"fmt"
	"sort"
	"sync"
)

// Registry routes an application tag to the machine owning that
// application's stores and locks.
type Registry struct {
	mu       sync.RWMutex
	machines map[string]*Machine
}

func NewRegistry() *Registry {
	return &Registry{
		machines: make(map[string]*Machine),
	}
}

func (r *Registry) Register(m *Machine) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.machines[m.App()]; exists {
		return fmt.Errorf("app %s already registered", m.App())
	}
	r.machines[m.App()] = m
	return nil
}

func (r *Registry) Lookup(app string) (*Machine, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	m, ok := r.machines[app]
	return m, ok
}

func (r *Registry) Apps() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	apps := make([]string, 0, len(r.machines))
	for app := range r.machines {
		apps = append(apps, app)
	}
	sort.Strings(apps)
	return apps
}
