package health

import (
	"encoding/json"
	"net/http"
	"sort"
	"sync"
)

// Probe reports a component's current status on demand.
type Probe func() Status

// Monitor tracks health of multiple components in a thread-safe manner.
// Components either push updates with Update or register a Probe that is
// evaluated when the aggregate is read.
type Monitor struct {
	name string

	mu       sync.RWMutex
	statuses map[string]Status
	probes   map[string]Probe
}

// NewMonitor returns a monitor aggregating under name.
func NewMonitor(name string) *Monitor {
	return &Monitor{
		name:     name,
		statuses: make(map[string]Status),
		probes:   make(map[string]Probe),
	}
}

// Update records the status of a pushed component.
func (m *Monitor) Update(name string, status Status) {
	status.Component = name
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[name] = status
}

// Register installs a probe for name, replacing any pushed status.
func (m *Monitor) Register(name string, p Probe) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	m.probes[name] = p
}

// Remove stops tracking name.
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.statuses, name)
	delete(m.probes, name)
}

// Get returns the current status of name.
func (m *Monitor) Get(name string) (Status, bool) {
	m.mu.RLock()
	p, isProbe := m.probes[name]
	s, ok := m.statuses[name]
	m.mu.RUnlock()

	if isProbe {
		s = p()
		s.Component = name
		return s, true
	}
	return s, ok
}

// Aggregate returns the process status with one sub-status per component,
// sorted by name. Probes run outside the lock.
func (m *Monitor) Aggregate() Status {
	m.mu.RLock()
	subs := make([]Status, 0, len(m.statuses)+len(m.probes))
	for _, s := range m.statuses {
		subs = append(subs, s)
	}
	probes := make(map[string]Probe, len(m.probes))
	for name, p := range m.probes {
		probes[name] = p
	}
	m.mu.RUnlock()

	for name, p := range probes {
		s := p()
		s.Component = name
		subs = append(subs, s)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].Component < subs[j].Component })
	return Aggregate(m.name, subs)
}

// ServeHTTP writes the aggregate as JSON: 200 when healthy or degraded,
// 503 when unhealthy.
func (m *Monitor) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	status := m.Aggregate()

	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
