package bridge

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/c360/polestream/catalog"
	"github.com/c360/polestream/errors"
)

// Message kinds carried in a pole payload's "message" (or "type") field
const (
	KindConfig     = "config"
	KindData       = "data"
	KindUnregister = "unregister"
	KindOffline    = "offline"
)

// poleMessage is the part of a pole payload the bridge acts on. The payload
// itself is relayed untouched.
type poleMessage struct {
	ID      string
	Kind    string
	Lat     *float64
	Long    *float64
	Sensors []catalog.Sensor
}

type rawSensor struct {
	ID         string   `json:"id"`
	SensorID   string   `json:"sensor_id"`
	Type       string   `json:"type"`
	SensorType string   `json:"sensor_type"`
	Unit       string   `json:"unit"`
	Threshold  *float64 `json:"threshold"`
}

type rawPoleMessage struct {
	ID       json.RawMessage `json:"id"`
	PoleID   json.RawMessage `json:"pole_id"`
	Message  string          `json:"message"`
	Type     string          `json:"type"`
	Lat      *float64        `json:"lat"`
	Long     *float64        `json:"long"`
	Location *struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	} `json:"location"`
	Sensors []rawSensor `json:"sensors"`
}

// parsePoleMessage decodes a bus payload. Devices in the field use two
// layouts: {id, message, lat, long} and {pole_id, type, location{latitude,
// longitude}}; both are accepted. Anything without a pole id is malformed.
func parsePoleMessage(data []byte) (poleMessage, error) {
	var raw rawPoleMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return poleMessage{}, errors.WithKind(err, errors.KindMalformedMessage, "bridge", "parsePoleMessage", "decode payload")
	}

	id := scalarString(raw.ID)
	if id == "" {
		id = scalarString(raw.PoleID)
	}
	if id == "" {
		return poleMessage{}, errors.New(errors.KindMalformedMessage, "bridge", "parsePoleMessage", "payload has no pole id")
	}

	kind := strings.ToLower(strings.TrimSpace(raw.Message))
	if kind == "" {
		kind = strings.ToLower(strings.TrimSpace(raw.Type))
	}
	if kind == "" {
		kind = KindData
	}

	msg := poleMessage{ID: id, Kind: kind, Lat: raw.Lat, Long: raw.Long}
	if raw.Location != nil {
		if msg.Lat == nil {
			msg.Lat = raw.Location.Latitude
		}
		if msg.Long == nil {
			msg.Long = raw.Location.Longitude
		}
	}
	for _, s := range raw.Sensors {
		sensor := catalog.Sensor{ID: s.ID, Type: s.Type, Unit: s.Unit, Threshold: s.Threshold}
		if sensor.ID == "" {
			sensor.ID = s.SensorID
		}
		if sensor.Type == "" {
			sensor.Type = s.SensorType
		}
		msg.Sensors = append(msg.Sensors, sensor)
	}
	return msg, nil
}

// scalarString accepts a JSON string or number; pole ids arrive as both
func scalarString(raw json.RawMessage) string {
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

// classify folds the kinds a bridge distinguishes: config, removal, data
func classify(kind string) string {
	switch kind {
	case KindConfig:
		return KindConfig
	case KindUnregister, KindOffline:
		return KindUnregister
	default:
		return KindData
	}
}

// deactivateCommand is published to a pole that the catalog reports inactive
type deactivateCommand struct {
	Cmd string  `json:"cmd"`
	TS  float64 `json:"ts"`
}
