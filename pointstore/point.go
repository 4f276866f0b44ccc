// Package pointstore persists joined pole measurements. A Sink appends one
// Point per call; the writer never retries a failed append.
package pointstore

import (
	"context"
	"strconv"
	"time"
)

// Measurement is the table name every point is written under
const Measurement = "pole_measurements"

// Point is one joined measurement: the telemetry fields of a pole reading
// plus the decay computed for it. Telemetry fields a pole did not report are
// nil and left out of the stored record.
type Point struct {
	PoleID      string
	GatewayID   string
	Time        time.Time
	Temperature *float64
	Humidity    *float64
	Tilt        *float64
	Decay       float64
}

// Tags returns the point's indexed dimensions
func (p Point) Tags() map[string]string {
	return map[string]string{"pole_id": p.PoleID, "gateway_id": p.GatewayID}
}

// Fields returns the point's values, skipping unreported telemetry
func (p Point) Fields() map[string]float64 {
	fields := map[string]float64{"decay": p.Decay}
	for name, v := range map[string]*float64{
		"temperature": p.Temperature,
		"humidity":    p.Humidity,
		"tilt":        p.Tilt,
	} {
		if v != nil {
			fields[name] = *v
		}
	}
	return fields
}

// Record is the flat JSON form sinks store
type Record struct {
	Measurement string   `json:"measurement"`
	PoleID      string   `json:"pole_id"`
	GatewayID   string   `json:"gateway_id"`
	Timestamp   int64    `json:"timestamp"`
	Temperature *float64 `json:"temperature,omitempty"`
	Humidity    *float64 `json:"humidity,omitempty"`
	Tilt        *float64 `json:"tilt,omitempty"`
	Decay       float64  `json:"decay"`
}

// Record returns the point with its time truncated to whole seconds
func (p Point) Record() Record {
	return Record{
		Measurement: Measurement,
		PoleID:      p.PoleID,
		GatewayID:   p.GatewayID,
		Timestamp:   p.Time.Unix(),
		Temperature: p.Temperature,
		Humidity:    p.Humidity,
		Tilt:        p.Tilt,
		Decay:       p.Decay,
	}
}

// streamValues flattens the record into string pairs for stream entries
func (r Record) streamValues() map[string]any {
	v := map[string]any{
		"measurement": r.Measurement,
		"pole_id":     r.PoleID,
		"gateway_id":  r.GatewayID,
		"timestamp":   strconv.FormatInt(r.Timestamp, 10),
		"decay":       formatFloat(r.Decay),
	}
	for name, f := range map[string]*float64{
		"temperature": r.Temperature,
		"humidity":    r.Humidity,
		"tilt":        r.Tilt,
	} {
		if f != nil {
			v[name] = formatFloat(*f)
		}
	}
	return v
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Sink appends points to external storage
type Sink interface {
	WritePoint(ctx context.Context, p Point) error
	Close(ctx context.Context) error
}
