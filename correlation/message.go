package correlation

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"

	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/natsclient"
)

// UnknownGateway attributes telemetry whose topic carries no gateway segment
const UnknownGateway = "unknown"

// Message kinds that carry no telemetry
var ignoredKinds = map[string]bool{"config": true, "unregister": true, "offline": true}

type rawTelemetry struct {
	ID          json.RawMessage `json:"id"`
	PoleID      json.RawMessage `json:"pole_id"`
	Message     string          `json:"message"`
	Type        string          `json:"type"`
	Timestamp   *float64        `json:"timestamp"`
	Temperature *float64        `json:"temperature"`
	Humidity    *float64        `json:"humidity"`
	Tilt        *float64        `json:"tilt"`
}

// reading is one telemetry message taken off the central bus
type reading struct {
	Key       Key
	Telemetry Telemetry
}

// parseTelemetry decodes a relayed pole message. ok is false for messages
// that carry no telemetry, such as config announcements.
func parseTelemetry(topic string, data []byte) (r reading, ok bool, err error) {
	var raw rawTelemetry
	if err := json.Unmarshal(data, &raw); err != nil {
		return reading{}, false, errors.WithKind(err, errors.KindMalformedMessage, "Writer", "parseTelemetry", "decode payload")
	}

	kind := strings.ToLower(strings.TrimSpace(raw.Message))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(raw.Type))
	}
	if ignoredKinds[kind] {
		return reading{}, false, nil
	}

	id := idString(raw.ID)
	if id == "" {
		id = idString(raw.PoleID)
	}
	if id == "" || raw.Timestamp == nil {
		return reading{}, false, errors.New(errors.KindMalformedMessage, "Writer", "parseTelemetry", "telemetry needs an id and a timestamp")
	}
	ts, ok := timestampKey(*raw.Timestamp)
	if !ok {
		return reading{}, false, errors.New(errors.KindMalformedMessage, "Writer", "parseTelemetry", "timestamp out of range")
	}

	gateway := UnknownGateway
	if strings.Contains(topic, "/") {
		gateway = natsclient.TopicTail(topic)
	}
	return reading{
		Key: Key{PoleID: id, Timestamp: ts},
		Telemetry: Telemetry{
			GatewayID:   gateway,
			Temperature: raw.Temperature,
			Humidity:    raw.Humidity,
			Tilt:        raw.Tilt,
		},
	}, true, nil
}

// timestampKey truncates a wire timestamp to the join key. It fails for
// values with no int64 representation.
func timestampKey(f float64) (int64, bool) {
	if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

func idString(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
