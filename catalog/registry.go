package catalog

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/metric"
)

// Registry is the authoritative catalog state. Every mutation runs under a
// single write lock, is applied to a copy, persisted, and only then swapped
// in, so a failed save leaves the previous state observable.
type Registry struct {
	mu      sync.RWMutex
	snap    *Snapshot
	store   Store
	clock   clock.Clock
	logger  *slog.Logger
	metrics *registryMetrics
}

// Option configures a Registry
type Option func(*registryOptions)

type registryOptions struct {
	clock    clock.Clock
	logger   *slog.Logger
	registry *metric.MetricsRegistry
	seed     *Snapshot
}

// WithClock sets the clock used for last_update stamps
func WithClock(c clock.Clock) Option {
	return func(o *registryOptions) { o.clock = c }
}

// WithLogger sets the registry logger
func WithLogger(l *slog.Logger) Option {
	return func(o *registryOptions) { o.logger = l }
}

// WithMetricsRegistry registers the catalog metrics
func WithMetricsRegistry(r *metric.MetricsRegistry) Option {
	return func(o *registryOptions) { o.registry = r }
}

// WithSeed sets the snapshot used when the store is empty
func WithSeed(s *Snapshot) Option {
	return func(o *registryOptions) { o.seed = s }
}

// NewRegistry loads the catalog from store. An empty store is initialized
// with the seed snapshot (DefaultSnapshot unless WithSeed is given), which is
// saved before NewRegistry returns.
func NewRegistry(ctx context.Context, store Store, opts ...Option) (*Registry, error) {
	if store == nil {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Registry", "NewRegistry", "store is nil")
	}
	o := registryOptions{clock: clock.New(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	m, err := newRegistryMetrics(o.registry)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "NewRegistry", "register metrics")
	}

	r := &Registry{
		store:   store,
		clock:   o.clock,
		logger:  o.logger.With("component", "catalog"),
		metrics: m,
	}

	data, err := store.Load(ctx)
	switch {
	case err == nil:
		var s Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return nil, errors.WrapFatal(err, "Registry", "NewRegistry", "decode snapshot")
		}
		s.normalize()
		r.snap = &s
		r.logger.Info("Catalog loaded", "gateways", len(s.Gateways), "regions", len(s.Regions))
	case errors.KindOf(err) == errors.KindNotFound:
		seed := o.seed
		if seed == nil {
			seed = DefaultSnapshot()
		}
		s := seed.Clone()
		if err := r.persist(ctx, s); err != nil {
			return nil, err
		}
		r.snap = s
		r.logger.Info("Catalog initialized from seed", "regions", len(s.Regions))
	default:
		return nil, err
	}

	r.metrics.observe(r.snap)
	return r, nil
}

func (r *Registry) persist(ctx context.Context, s *Snapshot) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return errors.WrapFatal(err, "Registry", "persist", "encode snapshot")
	}
	if err := r.store.Save(ctx, data); err != nil {
		return errors.WrapTransient(err, "Registry", "persist", "save snapshot")
	}
	return nil
}

// mutate applies fn to a copy of the state, persists the copy, then swaps it
// in. Errors from fn or from the store leave the current state untouched.
func (r *Registry) mutate(ctx context.Context, op string, fn func(s *Snapshot) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	next := r.snap.Clone()
	if err := fn(next); err != nil {
		r.metrics.mutations.WithLabelValues(op, "rejected").Inc()
		return err
	}
	if err := r.persist(ctx, next); err != nil {
		r.metrics.mutations.WithLabelValues(op, "error").Inc()
		r.logger.Error("Catalog persistence failed", "operation", op, "error", err)
		return err
	}

	r.snap = next
	r.metrics.mutations.WithLabelValues(op, "ok").Inc()
	r.metrics.observe(next)
	return nil
}

// stamp returns a last_update value strictly after prev
func (r *Registry) stamp(prev time.Time) time.Time {
	now := r.clock.Now().UTC()
	if !now.After(prev) {
		now = prev.Add(time.Microsecond)
	}
	return now
}

// RegisterGateway claims zone for gatewayID. A zone owned by a different
// gateway is a Conflict. An existing gateway has fields merged in; its poles
// are never touched here.
func (r *Registry) RegisterGateway(ctx context.Context, gatewayID, zone string, fields GatewayFields) (string, error) {
	gatewayID = strings.TrimSpace(gatewayID)
	zone = strings.TrimSpace(zone)
	if gatewayID == "" || zone == "" {
		return "", errors.New(errors.KindInvalidArgument, "Registry", "RegisterGateway",
			"gateway_id and zone are required")
	}
	if (fields.Lat != nil && !finite(*fields.Lat)) || (fields.Long != nil && !finite(*fields.Long)) {
		return "", errors.New(errors.KindInvalidArgument, "Registry", "RegisterGateway",
			"coordinates must be finite")
	}

	err := r.mutate(ctx, "register_gateway", func(s *Snapshot) error {
		for _, g := range s.Gateways {
			if g.Zone == zone && g.ID != gatewayID {
				return errors.New(errors.KindConflict, "Registry", "RegisterGateway",
					"zone %q is owned by gateway %q", zone, g.ID)
			}
		}

		g, ok := s.gateway(gatewayID)
		if !ok {
			s.Gateways = append(s.Gateways, Gateway{ID: gatewayID, SmartPoles: []SmartPole{}})
			g = &s.Gateways[len(s.Gateways)-1]
		}
		g.Zone = zone
		if fields.Topics != nil {
			g.Topics = slices.Clone(fields.Topics)
		}
		if fields.Lat != nil {
			lat := *fields.Lat
			g.Lat = &lat
		}
		if fields.Long != nil {
			long := *fields.Long
			g.Long = &long
		}
		if len(fields.Extra) > 0 {
			if g.Extra == nil {
				g.Extra = make(map[string]json.RawMessage, len(fields.Extra))
			}
			for k, v := range fields.Extra {
				g.Extra[k] = slices.Clone(v)
			}
		}
		g.LastUpdate = r.stamp(g.LastUpdate)
		return nil
	})
	if err != nil {
		return "", err
	}

	r.logger.Info("Gateway registered", "gateway_id", gatewayID, "zone", zone)
	return gatewayID, nil
}

// RegisterPole appends a pole to an existing gateway. The pole's region is
// derived from its coordinates and Active defaults to true.
func (r *Registry) RegisterPole(ctx context.Context, gatewayID string, spec PoleSpec) (SmartPole, error) {
	if strings.TrimSpace(spec.ID) == "" || spec.Lat == nil || spec.Long == nil {
		return SmartPole{}, errors.New(errors.KindInvalidArgument, "Registry", "RegisterPole",
			"pole requires id, lat and long")
	}
	if !finite(*spec.Lat) || !finite(*spec.Long) {
		return SmartPole{}, errors.New(errors.KindInvalidArgument, "Registry", "RegisterPole",
			"pole %q has non-finite coordinates", spec.ID)
	}

	var created SmartPole
	err := r.mutate(ctx, "register_pole", func(s *Snapshot) error {
		g, ok := s.gateway(gatewayID)
		if !ok {
			return errors.New(errors.KindNotFound, "Registry", "RegisterPole", "gateway %q not found", gatewayID)
		}
		if _, exists := g.Pole(spec.ID); exists {
			return errors.New(errors.KindAlreadyExists, "Registry", "RegisterPole",
				"pole %q already registered under gateway %q", spec.ID, gatewayID)
		}

		created = SmartPole{
			ID:      spec.ID,
			Lat:     *spec.Lat,
			Long:    *spec.Long,
			Region:  ResolveRegion(s.Regions, *spec.Lat, *spec.Long),
			Sensors: slices.Clone(spec.Sensors),
			Active:  true,
		}
		if spec.Active != nil {
			created.Active = *spec.Active
		}
		g.SmartPoles = append(g.SmartPoles, created)
		g.LastUpdate = r.stamp(g.LastUpdate)
		return nil
	})
	if err != nil {
		return SmartPole{}, err
	}

	r.logger.Info("Pole registered", "gateway_id", gatewayID, "pole_id", spec.ID, "region", created.Region)
	return created, nil
}

// DeletePole removes a pole from its gateway
func (r *Registry) DeletePole(ctx context.Context, gatewayID, poleID string) error {
	err := r.mutate(ctx, "delete_pole", func(s *Snapshot) error {
		g, ok := s.gateway(gatewayID)
		if !ok {
			return errors.New(errors.KindNotFound, "Registry", "DeletePole", "gateway %q not found", gatewayID)
		}
		idx := slices.IndexFunc(g.SmartPoles, func(p SmartPole) bool { return p.ID == poleID })
		if idx < 0 {
			return errors.New(errors.KindNotFound, "Registry", "DeletePole",
				"pole %q not found under gateway %q", poleID, gatewayID)
		}
		g.SmartPoles = slices.Delete(g.SmartPoles, idx, idx+1)
		g.LastUpdate = r.stamp(g.LastUpdate)
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("Pole deleted", "gateway_id", gatewayID, "pole_id", poleID)
	return nil
}

// SetPoleActive switches the activation flag of a pole
func (r *Registry) SetPoleActive(ctx context.Context, gatewayID, poleID string, active bool) error {
	err := r.mutate(ctx, "set_pole_active", func(s *Snapshot) error {
		g, ok := s.gateway(gatewayID)
		if !ok {
			return errors.New(errors.KindNotFound, "Registry", "SetPoleActive", "gateway %q not found", gatewayID)
		}
		p, ok := g.Pole(poleID)
		if !ok {
			return errors.New(errors.KindNotFound, "Registry", "SetPoleActive",
				"pole %q not found under gateway %q", poleID, gatewayID)
		}
		p.Active = active
		g.LastUpdate = r.stamp(g.LastUpdate)
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("Pole activation changed", "gateway_id", gatewayID, "pole_id", poleID, "active", active)
	return nil
}

// GetPoleStatus returns the active flag of the first pole with this id
// across all gateways, or a NotFound error.
func (r *Registry) GetPoleStatus(poleID string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.snap.Gateways {
		if p, ok := r.snap.Gateways[i].Pole(poleID); ok {
			return p.Active, nil
		}
	}
	return false, errors.New(errors.KindNotFound, "Registry", "GetPoleStatus", "pole %q not found", poleID)
}

// ResolveRegion returns the region containing the point, or UnknownRegion
func (r *Registry) ResolveRegion(lat, lon float64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return ResolveRegion(r.snap.Regions, lat, lon)
}

// ComputeClientID derives the bus client id for a role. Gateways are named
// after their coordinates, every other role after itself, so repeated calls
// yield the same id.
func (r *Registry) ComputeClientID(role string, lat, lon *float64) (string, error) {
	role = strings.TrimSpace(role)
	if role == "" {
		return "", errors.New(errors.KindInvalidArgument, "Registry", "ComputeClientID", "type is required")
	}
	if role != RoleGateway {
		return role, nil
	}
	if lat == nil || lon == nil {
		return "", errors.New(errors.KindInvalidArgument, "Registry", "ComputeClientID",
			"gateway id requires lat and lon")
	}
	if !finite(*lat) || !finite(*lon) {
		return "", errors.New(errors.KindInvalidArgument, "Registry", "ComputeClientID",
			"coordinates must be finite")
	}
	return GatewayClientID(*lat, *lon), nil
}

// GatewayClientID is "gateway_" followed by both coordinates in their
// shortest decimal form, always keeping a fractional part (45 -> "45.0").
func GatewayClientID(lat, lon float64) string {
	return "gateway_" + formatCoordinate(lat) + formatCoordinate(lon)
}

func formatCoordinate(f float64) string {
	abs := math.Abs(f)
	if abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

// GetBrokerConfig returns the central broker, or the local broker for zone.
// Zones without an override use the default local broker.
func (r *Registry) GetBrokerConfig(kind, zone string) (BrokerConfig, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case BrokerCentral:
		return r.snap.CentralBroker, nil
	case BrokerLocal:
		if b, ok := r.snap.ZoneBrokers[zone]; ok && zone != "" {
			return b, nil
		}
		return r.snap.LocalBroker, nil
	default:
		return BrokerConfig{}, errors.New(errors.KindInvalidArgument, "Registry", "GetBrokerConfig",
			"unknown broker kind %q", kind)
	}
}

// GetTopicConfig returns the topics configured for role
func (r *Registry) GetTopicConfig(role string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	topics, ok := r.snap.Topics[role]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "Registry", "GetTopicConfig", "no topics for %q", role)
	}
	return slices.Clone(topics), nil
}

// Topics returns a copy of the whole topic table
func (r *Registry) Topics() map[string][]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string][]string, len(r.snap.Topics))
	for k, v := range r.snap.Topics {
		out[k] = slices.Clone(v)
	}
	return out
}

// PutTopicConfig replaces the topics of role
func (r *Registry) PutTopicConfig(ctx context.Context, role string, topics []string) error {
	if strings.TrimSpace(role) == "" {
		return errors.New(errors.KindInvalidArgument, "Registry", "PutTopicConfig", "type is required")
	}
	if len(topics) == 0 || slices.Contains(topics, "") {
		return errors.New(errors.KindInvalidArgument, "Registry", "PutTopicConfig",
			"new_topics must be a non-empty list of non-empty topics")
	}
	err := r.mutate(ctx, "put_topic_config", func(s *Snapshot) error {
		s.Topics[role] = slices.Clone(topics)
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("Topic config updated", "role", role, "topics", topics)
	return nil
}

// GetServiceBinding returns the client id bound to a backend role
func (r *Registry) GetServiceBinding(role string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.snap.Backends[role]
	if !ok || id == "" {
		return "", errors.New(errors.KindNotFound, "Registry", "GetServiceBinding", "no binding for %q", role)
	}
	return id, nil
}

// PutServiceBinding binds id to a backend role; the last write wins
func (r *Registry) PutServiceBinding(ctx context.Context, role, id string) error {
	if !slices.Contains(BackendRoles, role) {
		return errors.New(errors.KindInvalidArgument, "Registry", "PutServiceBinding", "unknown role %q", role)
	}
	if strings.TrimSpace(id) == "" {
		return errors.New(errors.KindInvalidArgument, "Registry", "PutServiceBinding", "id is required")
	}
	err := r.mutate(ctx, "put_service_binding", func(s *Snapshot) error {
		s.Backends[role] = id
		return nil
	})
	if err != nil {
		return err
	}
	r.logger.Info("Service binding updated", "role", role, "id", id)
	return nil
}

// Gateways returns a copy of every gateway
func (r *Registry) Gateways() []Gateway {
	s := r.Snapshot()
	return s.Gateways
}

// Gateway returns one gateway by id
func (r *Registry) Gateway(id string) (Gateway, error) {
	s := r.Snapshot()
	if g, ok := s.gateway(id); ok {
		return *g, nil
	}
	return Gateway{}, errors.New(errors.KindNotFound, "Registry", "Gateway", "gateway %q not found", id)
}

// Poles returns the poles of a gateway
func (r *Registry) Poles(gatewayID string) ([]SmartPole, error) {
	g, err := r.Gateway(gatewayID)
	if err != nil {
		return nil, err
	}
	return g.SmartPoles, nil
}

// Pole returns one pole of a gateway
func (r *Registry) Pole(gatewayID, poleID string) (SmartPole, error) {
	g, err := r.Gateway(gatewayID)
	if err != nil {
		return SmartPole{}, err
	}
	if p, ok := g.Pole(poleID); ok {
		return *p, nil
	}
	return SmartPole{}, errors.New(errors.KindNotFound, "Registry", "Pole",
		"pole %q not found under gateway %q", poleID, gatewayID)
}

// Regions returns the region table in evaluation order
func (r *Registry) Regions() []Region {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.snap.Regions)
}

// Region returns a region by name
func (r *Registry) Region(name string) (Region, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.snap.Regions {
		if reg.Name == name {
			return reg, nil
		}
	}
	return Region{}, errors.New(errors.KindNotFound, "Registry", "Region", "region %q not found", name)
}

// Threshold returns the alert threshold
func (r *Registry) Threshold() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.Threshold
}

// Owner returns the catalog owner label
func (r *Registry) Owner() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.Owner
}

// WriterURL returns the base URL of the correlation writer API
func (r *Registry) WriterURL() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.WriterURL
}

// Snapshot returns a deep copy of the whole catalog
func (r *Registry) Snapshot() *Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snap.Clone()
}
