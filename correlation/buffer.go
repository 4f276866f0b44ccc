package correlation

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/c360/polestream/pointstore"
)

// Key joins a telemetry reading with its decay value
type Key struct {
	PoleID    string
	Timestamp int64 // unix seconds
}

// Telemetry is the telemetry side of a join
type Telemetry struct {
	GatewayID   string
	Temperature *float64
	Humidity    *float64
	Tilt        *float64
}

type pendingTelemetry struct {
	value   Telemetry
	arrived time.Time
}

type pendingDecay struct {
	value   float64
	arrived time.Time
}

// Buffer holds the side of each key that arrived first until the other side
// shows up or the entry ages past the TTL. A key is never in both caches:
// the second arrival takes the first out under the same lock.
type Buffer struct {
	mu        sync.Mutex
	clock     clock.Clock
	ttl       time.Duration
	telemetry map[Key]pendingTelemetry
	decay     map[Key]pendingDecay
}

// NewBuffer creates a join buffer whose entries live for ttl
func NewBuffer(ttl time.Duration, clk clock.Clock) *Buffer {
	if clk == nil {
		clk = clock.New()
	}
	return &Buffer{
		clock:     clk,
		ttl:       ttl,
		telemetry: make(map[Key]pendingTelemetry),
		decay:     make(map[Key]pendingDecay),
	}
}

// PutTelemetry records telemetry for k. When a decay value is waiting, both
// entries are removed and the joined point is returned with ok true.
func (b *Buffer) PutTelemetry(k Key, t Telemetry) (pointstore.Point, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if d, ok := b.decay[k]; ok {
		delete(b.decay, k)
		delete(b.telemetry, k)
		return joined(k, t, d.value), true
	}
	b.telemetry[k] = pendingTelemetry{value: t, arrived: b.clock.Now()}
	return pointstore.Point{}, false
}

// PutDecay records a decay value for k, joining it with waiting telemetry
func (b *Buffer) PutDecay(k Key, decay float64) (pointstore.Point, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if t, ok := b.telemetry[k]; ok {
		delete(b.telemetry, k)
		delete(b.decay, k)
		return joined(k, t.value, decay), true
	}
	b.decay[k] = pendingDecay{value: decay, arrived: b.clock.Now()}
	return pointstore.Point{}, false
}

func joined(k Key, t Telemetry, decay float64) pointstore.Point {
	return pointstore.Point{
		PoleID:      k.PoleID,
		GatewayID:   t.GatewayID,
		Time:        time.Unix(k.Timestamp, 0),
		Temperature: t.Temperature,
		Humidity:    t.Humidity,
		Tilt:        t.Tilt,
		Decay:       decay,
	}
}

// Sweep drops entries that arrived more than the TTL ago and reports how many
// left each cache.
func (b *Buffer) Sweep() (telemetry, decay int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.clock.Now().Add(-b.ttl)
	for k, e := range b.telemetry {
		if e.arrived.Before(cutoff) {
			delete(b.telemetry, k)
			telemetry++
		}
	}
	for k, e := range b.decay {
		if e.arrived.Before(cutoff) {
			delete(b.decay, k)
			decay++
		}
	}
	return telemetry, decay
}

// Len returns the number of entries waiting in each cache
func (b *Buffer) Len() (telemetry, decay int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.telemetry), len(b.decay)
}

// Pending reports which caches hold k
func (b *Buffer) Pending(k Key) (telemetry, decay bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, telemetry = b.telemetry[k]
	_, decay = b.decay[k]
	return telemetry, decay
}
