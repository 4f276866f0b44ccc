package catalog

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"
)

// UnknownRegion is returned by ResolveRegion when no rectangle contains a point
const UnknownRegion = "unknown"

// Roles understood by the catalog. Topic roles and service binding roles
// share the same names where they overlap.
const (
	RoleGateway            = "gateway"
	RoleWriter             = "writer"
	RoleDashboard          = "dashboard"
	RoleComputeDecay       = "computeDecay"
	RoleCheckThreshold     = "checkThreshold"
	RoleThresholdPublish   = "checkThreshold.publish"
	RoleThresholdSubscribe = "checkThreshold.subscribe"
	RoleCommand            = "cmd_topic"
)

// BackendRoles are the roles a service binding may be registered for
var BackendRoles = []string{RoleComputeDecay, RoleCheckThreshold, RoleDashboard, RoleWriter}

// Broker kinds accepted by GetBrokerConfig
const (
	BrokerCentral = "central"
	BrokerLocal   = "local"
)

// Sensor describes one measuring device mounted on a pole
type Sensor struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Unit      string   `json:"unit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// SmartPole is a pole registered under exactly one gateway
type SmartPole struct {
	ID      string   `json:"id"`
	Lat     float64  `json:"lat"`
	Long    float64  `json:"long"`
	Region  string   `json:"region"`
	Sensors []Sensor `json:"sensors,omitempty"`
	Active  bool     `json:"active"`
}

// Gateway owns one zone and the poles registered through it. Extra holds
// whatever other fields the gateway sent at registration and is echoed back
// unchanged.
type Gateway struct {
	ID         string                     `json:"gateway_id"`
	Zone       string                     `json:"zone"`
	Topics     []string                   `json:"gateway_topic,omitempty"`
	Lat        *float64                   `json:"lat,omitempty"`
	Long       *float64                   `json:"long,omitempty"`
	SmartPoles []SmartPole                `json:"smart_poles"`
	LastUpdate time.Time                  `json:"last_update"`
	Extra      map[string]json.RawMessage `json:"extra,omitempty"`
}

// Pole returns the pole with the given id
func (g *Gateway) Pole(id string) (*SmartPole, bool) {
	for i := range g.SmartPoles {
		if g.SmartPoles[i].ID == id {
			return &g.SmartPoles[i], true
		}
	}
	return nil, false
}

// Region is a named latitude/longitude rectangle, bounds inclusive
type Region struct {
	Name   string  `json:"name"`
	MinLat float64 `json:"minLat"`
	MaxLat float64 `json:"maxLat"`
	MinLon float64 `json:"minLon"`
	MaxLon float64 `json:"maxLon"`
}

// Contains reports whether the point falls inside the rectangle
func (r Region) Contains(lat, lon float64) bool {
	return lat >= r.MinLat && lat <= r.MaxLat && lon >= r.MinLon && lon <= r.MaxLon
}

// BrokerConfig is the address of a bus broker
type BrokerConfig struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
}

// URL returns the broker as a NATS connection URL
func (b BrokerConfig) URL() string {
	return fmt.Sprintf("nats://%s:%d", b.Address, b.Port)
}

// Snapshot is the whole persisted catalog document
type Snapshot struct {
	Owner         string                  `json:"owner"`
	Topics        map[string][]string     `json:"topic"`
	CentralBroker BrokerConfig            `json:"central_broker"`
	LocalBroker   BrokerConfig            `json:"local_broker"`
	ZoneBrokers   map[string]BrokerConfig `json:"zone_brokers,omitempty"`
	WriterURL     string                  `json:"writer_url"`
	Backends      map[string]string       `json:"backend"`
	Threshold     float64                 `json:"threshold"`
	Regions       []Region                `json:"regions"`
	Gateways      []Gateway               `json:"gateways"`
}

// Clone returns a deep copy
func (s *Snapshot) Clone() *Snapshot {
	out := *s
	out.Topics = make(map[string][]string, len(s.Topics))
	for k, v := range s.Topics {
		out.Topics[k] = slices.Clone(v)
	}
	if s.ZoneBrokers != nil {
		out.ZoneBrokers = maps.Clone(s.ZoneBrokers)
	}
	out.Backends = maps.Clone(s.Backends)
	out.Regions = slices.Clone(s.Regions)
	out.Gateways = make([]Gateway, len(s.Gateways))
	for i, g := range s.Gateways {
		out.Gateways[i] = g.clone()
	}
	out.normalize()
	return &out
}

func (g Gateway) clone() Gateway {
	out := g
	out.Topics = slices.Clone(g.Topics)
	if g.Lat != nil {
		lat := *g.Lat
		out.Lat = &lat
	}
	if g.Long != nil {
		long := *g.Long
		out.Long = &long
	}
	out.SmartPoles = make([]SmartPole, len(g.SmartPoles))
	for i, p := range g.SmartPoles {
		p.Sensors = slices.Clone(p.Sensors)
		out.SmartPoles[i] = p
	}
	if g.Extra != nil {
		out.Extra = make(map[string]json.RawMessage, len(g.Extra))
		for k, v := range g.Extra {
			out.Extra[k] = slices.Clone(v)
		}
	}
	return out
}

func (s *Snapshot) gateway(id string) (*Gateway, bool) {
	for i := range s.Gateways {
		if s.Gateways[i].ID == id {
			return &s.Gateways[i], true
		}
	}
	return nil, false
}

// normalize replaces nil collections so JSON output always carries them
func (s *Snapshot) normalize() {
	if s.Topics == nil {
		s.Topics = map[string][]string{}
	}
	if s.Backends == nil {
		s.Backends = map[string]string{}
	}
	if s.Regions == nil {
		s.Regions = []Region{}
	}
	if s.Gateways == nil {
		s.Gateways = []Gateway{}
	}
	for i := range s.Gateways {
		if s.Gateways[i].SmartPoles == nil {
			s.Gateways[i].SmartPoles = []SmartPole{}
		}
	}
}

// GatewayFields are the optional attributes merged into a gateway record on
// registration. Nil fields leave the stored value alone.
type GatewayFields struct {
	Topics []string
	Lat    *float64
	Long   *float64
	Extra  map[string]json.RawMessage
}

// PoleSpec is a pole registration request. Lat and Long are pointers so a
// missing coordinate can be told apart from zero.
type PoleSpec struct {
	ID      string
	Lat     *float64
	Long    *float64
	Sensors []Sensor
	Active  *bool
}
