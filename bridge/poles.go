package bridge

import (
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// PoleState is a pole's position in the bridge's lifecycle
type PoleState int

const (
	StateUnseen PoleState = iota
	// StateProvisional: config received, registration in flight
	StateProvisional
	// StateKnown: registration confirmed by the catalog
	StateKnown
	StateActive
	StateDeactivated
	StateRemoved
)

// String returns the state name
func (s PoleState) String() string {
	switch s {
	case StateProvisional:
		return "provisional"
	case StateKnown:
		return "known"
	case StateActive:
		return "active"
	case StateDeactivated:
		return "deactivated"
	case StateRemoved:
		return "removed"
	default:
		return "unseen"
	}
}

// removedRetention bounds how long a Removed marker is kept around
const removedRetention = 5 * time.Minute

// poleTracker holds the local, advisory view of pole lifecycles. It gates
// which data is relayed; the catalog stays authoritative for activation.
type poleTracker struct {
	mu       sync.Mutex
	states   *cache.Cache
	knownTTL time.Duration
}

// newPoleTracker creates a tracker. knownTTL <= 0 keeps known poles forever.
func newPoleTracker(knownTTL time.Duration) *poleTracker {
	if knownTTL <= 0 {
		knownTTL = cache.NoExpiration
	}
	return &poleTracker{
		states:   cache.New(cache.NoExpiration, time.Minute),
		knownTTL: knownTTL,
	}
}

// State returns the current state of a pole
func (t *poleTracker) State(id string) PoleState {
	if v, ok := t.states.Get(id); ok {
		return v.(PoleState)
	}
	return StateUnseen
}

// BeginRegistration moves an unseen or removed pole to Provisional. It
// reports false when a registration is already in flight or done.
func (t *poleTracker) BeginRegistration(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.State(id) {
	case StateUnseen, StateRemoved:
		t.states.Set(id, StateProvisional, cache.NoExpiration)
		return true
	default:
		return false
	}
}

// RegistrationFailed returns a provisional pole to Unseen so a later config
// message retries.
func (t *poleTracker) RegistrationFailed(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State(id) == StateProvisional {
		t.states.Delete(id)
	}
}

// MarkKnown completes a registration. It reports false when the pole was
// removed while the registration was in flight.
func (t *poleTracker) MarkKnown(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State(id) != StateProvisional {
		return false
	}
	t.states.Set(id, StateKnown, t.knownTTL)
	return true
}

// IsKnown reports whether data from the pole may be relayed
func (t *poleTracker) IsKnown(id string) bool {
	switch t.State(id) {
	case StateKnown, StateActive, StateDeactivated:
		return true
	default:
		return false
	}
}

// Observe records the activation state last seen for a known pole
func (t *poleTracker) Observe(id string, active bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.IsKnown(id) {
		return
	}
	state := StateDeactivated
	if active {
		state = StateActive
	}
	t.states.Set(id, state, t.knownTTL)
}

// Remove drops a pole from the known set
func (t *poleTracker) Remove(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.states.Set(id, StateRemoved, removedRetention)
}

// KnownCount returns the number of poles data is relayed for
func (t *poleTracker) KnownCount() int {
	n := 0
	for _, item := range t.states.Items() {
		switch item.Object.(PoleState) {
		case StateKnown, StateActive, StateDeactivated:
			n++
		}
	}
	return n
}
