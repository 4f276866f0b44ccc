package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/polestream/catalog"
	"github.com/c360/polestream/config"
	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/natsclient"
	"github.com/c360/polestream/pkg/retry"
)

// fakeCatalog is an in-memory catalog for the bridge. Pole status answers
// come from status, or statusErr when set.
type fakeCatalog struct {
	mu         sync.Mutex
	zoneOwner  map[string]string
	poles      map[string]bool
	status     map[string]bool
	statusErr  error
	statusHold chan struct{}
	registerFn func(spec catalog.PoleSpec) error
	deleteFn   func(poleID string)
	deletes    []string
	registered []string
	topics     map[string][]string
}

func newFakeCatalog() *fakeCatalog {
	return &fakeCatalog{
		zoneOwner: map[string]string{},
		poles:     map[string]bool{},
		status:    map[string]bool{},
		topics: map[string][]string{
			catalog.RoleGateway: {"poleData"},
			catalog.RoleCommand: {"poleCmd"},
		},
	}
}

func (f *fakeCatalog) ResolveRegion(_ context.Context, lat, lon float64) (string, error) {
	return catalog.ResolveRegion(catalog.DefaultSnapshot().Regions, lat, lon), nil
}

func (f *fakeCatalog) ComputeClientID(_ context.Context, role string, lat, lon *float64) (string, error) {
	return catalog.GatewayClientID(*lat, *lon), nil
}

func (f *fakeCatalog) RegisterGateway(_ context.Context, id, zone string, _ catalog.GatewayFields) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if owner, ok := f.zoneOwner[zone]; ok && owner != id {
		return "", errors.New(errors.KindConflict, "fake", "RegisterGateway", "zone taken")
	}
	f.zoneOwner[zone] = id
	return id, nil
}

func (f *fakeCatalog) Topics(_ context.Context, role string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.topics[role]
	if !ok {
		return nil, errors.New(errors.KindNotFound, "fake", "Topics", "none")
	}
	return t, nil
}

func (f *fakeCatalog) LocalBroker(context.Context, string) (catalog.BrokerConfig, error) {
	return catalog.BrokerConfig{Address: "local", Port: 4223}, nil
}

func (f *fakeCatalog) CentralBroker(context.Context) (catalog.BrokerConfig, error) {
	return catalog.BrokerConfig{Address: "central", Port: 4222}, nil
}

func (f *fakeCatalog) RegisterPole(_ context.Context, _ string, spec catalog.PoleSpec) error {
	f.mu.Lock()
	fn := f.registerFn
	f.mu.Unlock()
	if fn != nil {
		if err := fn(spec); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.poles[spec.ID]; ok {
		return errors.New(errors.KindAlreadyExists, "fake", "RegisterPole", "duplicate")
	}
	f.poles[spec.ID] = true
	f.registered = append(f.registered, spec.ID)
	return nil
}

func (f *fakeCatalog) DeletePole(_ context.Context, _ string, poleID string) error {
	f.mu.Lock()
	fn := f.deleteFn
	f.mu.Unlock()
	if fn != nil {
		fn(poleID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, poleID)
	if _, ok := f.poles[poleID]; !ok {
		return errors.New(errors.KindNotFound, "fake", "DeletePole", "missing")
	}
	delete(f.poles, poleID)
	return nil
}

func (f *fakeCatalog) PoleStatus(ctx context.Context, poleID string) (bool, error) {
	f.mu.Lock()
	hold := f.statusHold
	f.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statusErr != nil {
		return false, f.statusErr
	}
	active, ok := f.status[poleID]
	if !ok {
		return false, errors.New(errors.KindNotFound, "fake", "PoleStatus", "missing")
	}
	return active, nil
}

func (f *fakeCatalog) setStatus(id string, active bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status[id] = active
	f.statusErr = err
}

type published struct {
	topic string
	data  []byte
}

type fakeSession struct {
	name       string
	url        string
	mu         sync.Mutex
	msgs       []published
	publishErr error
	connected  bool
	closed     bool
}

func (s *fakeSession) Connect(context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Publish(_ context.Context, topic string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.publishErr != nil {
		return s.publishErr
	}
	s.msgs = append(s.msgs, published{topic: topic, data: data})
	return nil
}

func (s *fakeSession) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.connected = false
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) published() []published {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]published(nil), s.msgs...)
}

func (s *fakeSession) failPublishes(err error) {
	s.mu.Lock()
	s.publishErr = err
	s.mu.Unlock()
}

type harness struct {
	bridge   *Bridge
	catalog  *fakeCatalog
	local    *fakeSession
	central  *fakeSession
	clock    *clock.Mock
	handlers map[string]natsclient.Handler
}

func testConfig() config.BridgeConfig {
	cfg := config.Default().Bridge
	cfg.Latitude = 45.07
	cfg.Longitude = 7.68
	cfg.StatusTimeout = config.Duration(200 * time.Millisecond)
	cfg.RequestTimeout = config.Duration(time.Second)
	return cfg
}

func newHarness(t *testing.T, cat *fakeCatalog) *harness {
	t.Helper()
	if cat == nil {
		cat = newFakeCatalog()
	}
	h := &harness{catalog: cat, clock: clock.NewMock(), handlers: map[string]natsclient.Handler{}}
	h.clock.Set(time.Unix(1700000000, 500_000_000))

	dial := func(name, url string, handler natsclient.Handler) (Session, error) {
		s := &fakeSession{name: name, url: url}
		h.handlers[name] = handler
		if name == "local" {
			h.local = s
		} else {
			h.central = s
		}
		return s, nil
	}

	b, err := New(testConfig(), cat, dial, nil,
		WithClock(h.clock),
		WithStartupRetry(retry.Config{MaxAttempts: 1}))
	require.NoError(t, err)
	h.bridge = b
	return h
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	require.NoError(t, h.bridge.Start(context.Background()))
	t.Cleanup(func() { _ = h.bridge.Stop(context.Background()) })
}

func (h *harness) deliver(topic string, payload any) {
	data, ok := payload.([]byte)
	if !ok {
		data, _ = json.Marshal(payload)
	}
	h.bridge.OnMessage(context.Background(), natsclient.Message{Topic: topic, Data: data})
}

// settle waits until every queued relay has been handled
func (h *harness) settle(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := h.bridge.relays.Stats()
		return s.Processed == s.Submitted
	}, 2*time.Second, 5*time.Millisecond)
}

func (h *harness) register(t *testing.T, id string) {
	t.Helper()
	h.deliver("poleData/Piemonte/"+id, map[string]any{"id": id, "message": "config", "lat": 45.07, "long": 7.68})
	require.Eventually(t, func() bool { return h.bridge.poles.IsKnown(id) }, 2*time.Second, 5*time.Millisecond)
}

func TestStart_BindsZoneAndSessions(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	assert.Equal(t, "Piemonte", h.bridge.Zone())
	assert.Equal(t, "gateway_45.077.68", h.bridge.GatewayID())
	assert.Equal(t, "poleData/Piemonte/#", h.bridge.localPattern)
	assert.Equal(t, "nats://local:4223", h.local.url)
	assert.Equal(t, "nats://central:4222", h.central.url)
	assert.Nil(t, h.handlers["central"], "central session is publish-only")
	assert.NotNil(t, h.handlers["local"])
	assert.True(t, h.bridge.Health(context.Background()).IsHealthy())
}

func TestStart_ZoneConflictIsFatal(t *testing.T) {
	cat := newFakeCatalog()
	cat.zoneOwner["Piemonte"] = "gateway_other"
	h := newHarness(t, cat)

	err := h.bridge.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
	assert.True(t, errors.Is(err, errors.ErrConflict))
	assert.Nil(t, h.local, "no session is opened for an unclaimed zone")
}

func TestStart_UnknownRegionIsFatal(t *testing.T) {
	h := newHarness(t, nil)
	h.bridge.cfg.Latitude, h.bridge.cfg.Longitude = 51.5, -0.1

	err := h.bridge.Start(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsFatal(err))
}

func TestConfig_RegistersAsynchronously(t *testing.T) {
	cat := newFakeCatalog()
	release := make(chan struct{})
	cat.registerFn = func(catalog.PoleSpec) error {
		<-release
		return nil
	}
	h := newHarness(t, cat)
	h.start(t)

	done := make(chan struct{})
	go func() {
		h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "message": "config", "lat": 45.07, "long": 7.68})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("config handling blocked on the catalog")
	}
	assert.Equal(t, StateProvisional, h.bridge.poles.State("p1"))

	// Data before the registration completes is not trusted.
	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "temperature": 20})
	assert.Empty(t, h.central.published())

	close(release)
	require.Eventually(t, func() bool { return h.bridge.poles.IsKnown("p1") }, 2*time.Second, 5*time.Millisecond)
}

func TestConfig_AlternateLayoutAndDuplicates(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.deliver("poleData/Piemonte/palo2", map[string]any{
		"pole_id":  "palo2",
		"type":     "config",
		"location": map[string]float64{"latitude": 45.071, "longitude": 7.689},
		"sensors":  []map[string]any{{"sensor_id": "temp_02", "sensor_type": "thermometer", "unit": "Celsius"}},
	})
	require.Eventually(t, func() bool { return h.bridge.poles.IsKnown("palo2") }, 2*time.Second, 5*time.Millisecond)

	// A second config for a known pole does not register again.
	h.deliver("poleData/Piemonte/palo2", map[string]any{"pole_id": "palo2", "type": "config"})
	time.Sleep(20 * time.Millisecond)
	h.catalog.mu.Lock()
	assert.Equal(t, []string{"palo2"}, h.catalog.registered)
	h.catalog.mu.Unlock()
}

func TestConfig_AlreadyRegisteredAfterRestartIsKnown(t *testing.T) {
	cat := newFakeCatalog()
	cat.poles["p1"] = true
	h := newHarness(t, cat)
	h.start(t)

	h.register(t, "p1")
}

func TestConfig_FailedRegistrationCanRetry(t *testing.T) {
	cat := newFakeCatalog()
	var calls int
	cat.registerFn = func(catalog.PoleSpec) error {
		calls++
		if calls == 1 {
			return errors.WrapTransient(fmt.Errorf("timeout"), "fake", "RegisterPole", "post")
		}
		return nil
	}
	h := newHarness(t, cat)
	h.start(t)

	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "message": "config", "lat": 45.0, "long": 7.0})
	require.Eventually(t, func() bool { return h.bridge.poles.State("p1") == StateUnseen }, 2*time.Second, 5*time.Millisecond)

	h.register(t, "p1")
}

func TestRelay_AppendsGatewayID(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.register(t, "p1")
	h.catalog.setStatus("p1", true, nil)

	payload := []byte(`{"id":"p1","timestamp":1700000000,"temperature":21.5,"humidity":40,"tilt":3}`)
	h.deliver("poleData/Piemonte/p1", payload)
	h.settle(t)

	msgs := h.central.published()
	require.Len(t, msgs, 1)
	assert.Equal(t, "poleData/Piemonte/p1/gateway_45.077.68", msgs[0].topic)
	assert.Equal(t, payload, msgs[0].data, "payload is relayed unchanged")
	assert.Equal(t, "gateway_45.077.68", natsclient.TopicTail(msgs[0].topic))
	assert.Equal(t, float64(1), testutil.ToFloat64(h.bridge.metrics.relayed))
}

func TestRelay_DropsUnknownAndMalformed(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)

	h.deliver("poleData/Piemonte/p9", map[string]any{"id": "p9", "temperature": 20})
	h.deliver("poleData/Piemonte/x", []byte("not json"))
	h.deliver("poleData/Piemonte/x", map[string]any{"temperature": 20})

	assert.Empty(t, h.central.published())
	assert.Equal(t, float64(1), testutil.ToFloat64(h.bridge.metrics.dropped.WithLabelValues(dropUnknownPole)))
	assert.Equal(t, float64(2), testutil.ToFloat64(h.bridge.metrics.dropped.WithLabelValues(dropMalformed)))
}

func TestRelay_InactivePoleGetsDeactivateCommand(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.register(t, "p1")
	h.catalog.setStatus("p1", false, nil)

	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "temperature": 20})
	h.settle(t)

	assert.Empty(t, h.central.published())
	cmds := h.local.published()
	require.Len(t, cmds, 1)
	assert.Equal(t, "poleCmd/p1", cmds[0].topic)

	var cmd deactivateCommand
	require.NoError(t, json.Unmarshal(cmds[0].data, &cmd))
	assert.Equal(t, "deactivate", cmd.Cmd)
	assert.InDelta(t, 1700000000.5, cmd.TS, 1e-6)
	assert.Equal(t, StateDeactivated, h.bridge.poles.State("p1"))
}

func TestRelay_FailsOpenWhenCatalogUnavailable(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.register(t, "p1")

	for _, err := range []error{
		errors.WrapTransient(context.DeadlineExceeded, "fake", "PoleStatus", "get"),
		errors.New(errors.KindNotFound, "fake", "PoleStatus", "unknown pole"),
	} {
		h.catalog.setStatus("p1", false, err)
		h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "temperature": 20})
		h.settle(t)
	}

	assert.Len(t, h.central.published(), 2)
	assert.Empty(t, h.local.published())
	assert.Equal(t, float64(2), testutil.ToFloat64(h.bridge.metrics.failOpen))
}

func TestRelay_SlowStatusDoesNotBlockDelivery(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.register(t, "p1")
	h.catalog.setStatus("p1", true, nil)

	hold := make(chan struct{})
	h.catalog.mu.Lock()
	h.catalog.statusHold = hold
	h.catalog.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "temperature": 20 + i})
		}
		// Lifecycle messages still go through while status checks wait.
		h.deliver("poleData/Piemonte/p2", map[string]any{"id": "p2", "message": "config", "lat": 45.07, "long": 7.68})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("delivery blocked on the pole status lookup")
	}
	require.Eventually(t, func() bool { return h.bridge.poles.IsKnown("p2") }, 2*time.Second, 5*time.Millisecond)

	close(hold)
	h.settle(t)
	assert.Len(t, h.central.published(), 10)
}

func TestRelay_CentralDownDropsMessage(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.register(t, "p1")
	h.catalog.setStatus("p1", true, nil)
	h.central.failPublishes(errors.WrapTransient(natsclient.ErrNotConnected, "Client", "Publish", "publish"))

	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "temperature": 20})
	h.settle(t)
	h.central.failPublishes(nil)
	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "temperature": 21})
	h.settle(t)

	msgs := h.central.published()
	require.Len(t, msgs, 1, "the failed message is not buffered or retried")
	assert.Contains(t, string(msgs[0].data), `"temperature":21`)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.bridge.metrics.dropped.WithLabelValues(dropCentralDown)))
}

func TestUnregister_RemovesPole(t *testing.T) {
	h := newHarness(t, nil)
	h.start(t)
	h.register(t, "p1")
	h.catalog.setStatus("p1", true, nil)

	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "message": "offline"})
	assert.False(t, h.bridge.poles.IsKnown("p1"), "local cache drops the pole immediately")

	require.Eventually(t, func() bool {
		h.catalog.mu.Lock()
		defer h.catalog.mu.Unlock()
		_, ok := h.catalog.poles["p1"]
		return !ok
	}, 2*time.Second, 5*time.Millisecond)

	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "temperature": 20})
	assert.Empty(t, h.central.published())

	// Removing again is harmless.
	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "message": "unregister"})
	require.Eventually(t, func() bool {
		h.catalog.mu.Lock()
		defer h.catalog.mu.Unlock()
		return len(h.catalog.deletes) == 2
	}, 2*time.Second, 5*time.Millisecond)

	// A fresh config registers the pole again.
	h.register(t, "p1")
}

func TestUnregister_SlowDeleteThenConfigKeepsPole(t *testing.T) {
	cat := newFakeCatalog()
	release := make(chan struct{})
	deleting := make(chan struct{}, 1)
	cat.deleteFn = func(string) {
		deleting <- struct{}{}
		<-release
	}
	h := newHarness(t, cat)
	h.start(t)
	h.register(t, "p1")

	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "message": "offline"})
	<-deleting
	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "message": "config", "lat": 45.07, "long": 7.68})

	// The registration waits for the deletion of the same pole.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, StateProvisional, h.bridge.poles.State("p1"))
	h.catalog.mu.Lock()
	assert.Equal(t, []string{"p1"}, h.catalog.registered)
	h.catalog.mu.Unlock()

	close(release)
	require.Eventually(t, func() bool { return h.bridge.poles.IsKnown("p1") }, 2*time.Second, 5*time.Millisecond)

	h.catalog.mu.Lock()
	defer h.catalog.mu.Unlock()
	assert.True(t, h.catalog.poles["p1"], "catalog holds the pole the bridge treats as known")
	assert.Equal(t, []string{"p1", "p1"}, h.catalog.registered)
	assert.Equal(t, []string{"p1"}, h.catalog.deletes)
}

func TestUnregister_DuringRegistrationDeletesAfterwards(t *testing.T) {
	cat := newFakeCatalog()
	release := make(chan struct{})
	cat.registerFn = func(catalog.PoleSpec) error {
		<-release
		return nil
	}
	h := newHarness(t, cat)
	h.start(t)

	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "message": "config", "lat": 45.07, "long": 7.68})
	h.deliver("poleData/Piemonte/p1", map[string]any{"id": "p1", "message": "offline"})
	close(release)

	require.Eventually(t, func() bool {
		h.catalog.mu.Lock()
		defer h.catalog.mu.Unlock()
		return len(h.catalog.deletes) == 1
	}, 2*time.Second, 5*time.Millisecond)

	h.catalog.mu.Lock()
	_, ok := h.catalog.poles["p1"]
	h.catalog.mu.Unlock()
	assert.False(t, ok)
	assert.False(t, h.bridge.poles.IsKnown("p1"))
}

func TestSubmit_FinishedTasksClearPoleOrder(t *testing.T) {
	cat := newFakeCatalog()
	h := newHarness(t, cat)
	h.start(t)
	h.register(t, "p1")

	h.bridge.seqMu.Lock()
	_, pending := h.bridge.tails["p1"]
	h.bridge.seqMu.Unlock()
	assert.False(t, pending, "finished tasks leave no ordering entry behind")
}

func TestStop_ClosesSessions(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.bridge.Start(context.Background()))
	require.NoError(t, h.bridge.Stop(context.Background()))

	assert.True(t, h.local.closed)
	assert.True(t, h.central.closed)
	assert.False(t, h.bridge.Health(context.Background()).IsHealthy())
}
