package health

import (
	"encoding/json"
	"maps"
	"net/http"
	"slices"
	"sync"
)

// Check reports the current health of one part.
type Check func() Status

// Monitor aggregates registered checks. Checks run on every Aggregate call.
type Monitor struct {
	name   string
	mu     sync.RWMutex
	checks map[string]Check
}

// NewMonitor creates a monitor reporting under the given system name
func NewMonitor(name string) *Monitor {
	return &Monitor{
		name:   name,
		checks: make(map[string]Check),
	}
}

// Register adds or replaces the check for a part.
func (m *Monitor) Register(component string, check Check) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// Remove drops a part from monitoring.
func (m *Monitor) Remove(component string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, component)
}

// Components returns the registered part names in sorted order.
func (m *Monitor) Components() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Sorted(maps.Keys(m.checks))
}

// Aggregate runs every check and rolls the results up.
func (m *Monitor) Aggregate() Status {
	m.mu.RLock()
	checks := maps.Clone(m.checks)
	m.mu.RUnlock()

	// Checks run unlocked; they may call into the components they watch.
	names := slices.Sorted(maps.Keys(checks))
	subs := make([]Status, 0, len(names))
	for _, name := range names {
		s := checks[name]()
		s.Component = name
		subs = append(subs, s)
	}
	return Aggregate(m.name, subs)
}

// ServeHTTP writes the aggregate status as JSON. Unhealthy answers 503,
// healthy and degraded answer 200.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	s := m.Aggregate()
	code := http.StatusOK
	if s.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(s)
}
