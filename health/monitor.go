package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"time"
)

// CheckFunc evaluates one named check
type CheckFunc func(ctx context.Context) Status

// Monitor holds the checks of one process
type Monitor struct {
	name    string
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]CheckFunc
}

// NewMonitor creates a monitor whose aggregate carries the given name
func NewMonitor(name string) *Monitor {
	return &Monitor{
		name:    name,
		timeout: 2 * time.Second,
		checks:  make(map[string]CheckFunc),
	}
}

// Register adds or replaces a named check
func (m *Monitor) Register(name string, check CheckFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[name] = check
}

// Remove drops a named check
func (m *Monitor) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.checks, name)
}

// Check runs every registered check and aggregates the results. Checks run
// in name order under a shared timeout.
func (m *Monitor) Check(ctx context.Context) Status {
	m.mu.RLock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	checks := make(map[string]CheckFunc, len(m.checks))
	for k, v := range m.checks {
		checks[k] = v
	}
	m.mu.RUnlock()

	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	subs := make([]Status, 0, len(names))
	for _, name := range names {
		st := checks[name](ctx)
		st.Component = name
		if st.Timestamp.IsZero() {
			st.Timestamp = time.Now()
		}
		subs = append(subs, st)
	}
	return Aggregate(m.name, subs)
}

// Handler serves the aggregate status as JSON. Unhealthy maps to 503;
// degraded still answers 200.
func (m *Monitor) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		st := m.Check(r.Context())
		code := http.StatusOK
		if st.IsUnhealthy() {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(st)
	})
}
