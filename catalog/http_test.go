package catalog

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/pkg/httpx"
)

func newTestAPI(t *testing.T, adminToken string) (*Registry, *httptest.Server) {
	t.Helper()
	r, _, _ := newTestRegistry(t)
	router := httpx.NewRouter("catalog", nil, nil)
	NewAPI(r, nil, adminToken).Routes(router)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return r, srv
}

func doJSON(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var out map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestAPI_StatusCodes(t *testing.T) {
	_, srv := newTestAPI(t, "")

	code, body := doJSON(t, http.MethodPost, srv.URL+"/gateway", `{"gateway_id":"gw1","zone":"Piemonte","site":"north"}`)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "gateway_registered", body["status"])

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
		kind   string
	}{
		{"zone conflict", http.MethodPost, "/gateway", `{"gateway_id":"gw2","zone":"Piemonte"}`, 409, "conflict"},
		{"malformed body", http.MethodPost, "/gateway", `{`, 400, "invalid_argument"},
		{"pole created", http.MethodPost, "/pole", `{"gateway_id":"gw1","id":"p1","lat":45.0,"long":7.0}`, 201, ""},
		{"pole missing coordinates", http.MethodPost, "/pole", `{"gateway_id":"gw1","id":"p2"}`, 400, "invalid_argument"},
		{"pole unknown gateway", http.MethodPost, "/pole", `{"gateway_id":"gw9","id":"p2","lat":1,"long":2}`, 404, "not_found"},
		{"pole duplicate", http.MethodPost, "/pole", `{"gateway_id":"gw1","id":"p1","lat":1,"long":2}`, 400, "already_exists"},
		{"status of unknown pole", http.MethodGet, "/pole_status/ghost", "", 404, "not_found"},
		{"delete missing pole", http.MethodDelete, "/pole/gw1/ghost", "", 404, "not_found"},
		{"unknown region", http.MethodGet, "/regions?region=Atlantis", "", 404, "not_found"},
		{"unknown topic role", http.MethodGet, "/topic?type=nobody", "", 404, "not_found"},
		{"gateway id needs coordinates", http.MethodGet, "/compute_id?type=gateway", "", 400, "invalid_argument"},
		{"binding with empty id", http.MethodPost, "/computeDecay", `{"id":""}`, 400, "invalid_argument"},
		{"unbound backend", http.MethodGet, "/backend/dashboard", "", 404, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := doJSON(t, tt.method, srv.URL+tt.path, tt.body)
			assert.Equal(t, tt.want, code, "body: %v", body)
			if tt.kind != "" {
				assert.Equal(t, tt.kind, body["kind"])
			}
		})
	}
}

func TestAPI_GatewayExtrasAreEchoed(t *testing.T) {
	_, srv := newTestAPI(t, "")
	code, _ := doJSON(t, http.MethodPost, srv.URL+"/gateway",
		`{"gateway_id":"gw1","zone":"Lazio","gateway_topic":["poleData"],"firmware":"1.2"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := doJSON(t, http.MethodGet, srv.URL+"/gateways/gw1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Lazio", body["zone"])
	assert.Equal(t, []any{"poleData"}, body["gateway_topic"])
	assert.Equal(t, map[string]any{"firmware": "1.2"}, body["extra"])
	assert.Equal(t, []any{}, body["smart_poles"])
}

func TestAPI_Reads(t *testing.T) {
	_, srv := newTestAPI(t, "")

	code, body := doJSON(t, http.MethodGet, srv.URL+"/regions?lat=41.9&lon=12.5", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "Lazio", body["region"])

	code, body = doJSON(t, http.MethodGet, srv.URL+"/compute_id?type=gateway&lat=45.0&lon=7.0", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "gateway_45.07.0", body["id"])

	code, body = doJSON(t, http.MethodGet, srv.URL+"/central_broker", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "127.0.0.1", body["address"])

	code, body = doJSON(t, http.MethodGet, srv.URL+"/threshold", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(20), body["threshold"])

	code, body = doJSON(t, http.MethodGet, srv.URL+"/", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, "regions")
	assert.Contains(t, body, "gateways")
}

func TestAPI_SensorFieldsRoundTrip(t *testing.T) {
	_, srv := newTestAPI(t, "")
	code, _ := doJSON(t, http.MethodPost, srv.URL+"/gateway", `{"gateway_id":"gw1","zone":"Piemonte"}`)
	require.Equal(t, http.StatusOK, code)

	code, body := doJSON(t, http.MethodPost, srv.URL+"/pole", `{"gateway_id":"gw1","id":"p1","lat":45.0,"long":7.0,
		"sensors":[{"id":"tilt","type":"inclinometer","unit":"deg","threshold":15},{"id":"t1","type":"temperature"}]}`)
	require.Equal(t, http.StatusCreated, code, "body: %v", body)

	code, body = doJSON(t, http.MethodGet, srv.URL+"/smart_poles/gw1/p1", "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{
		map[string]any{"id": "tilt", "type": "inclinometer", "unit": "deg", "threshold": float64(15)},
		map[string]any{"id": "t1", "type": "temperature"},
	}, body["sensors"])
}

func TestAPI_AdminToken(t *testing.T) {
	_, srv := newTestAPI(t, "s3cret")

	code, _ := doJSON(t, http.MethodPut, srv.URL+"/topic?type=gateway", `{"new_topics":["x"]}`)
	assert.Equal(t, http.StatusUnauthorized, code)

	c := NewClient(srv.URL, time.Second)
	c.SetAdminToken("s3cret")
	require.NoError(t, c.PutTopics(context.Background(), RoleGateway, []string{"x"}))
	topics, err := c.Topics(context.Background(), RoleGateway)
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, topics)
}

func TestClient_AgainstAPI(t *testing.T) {
	ctx := context.Background()
	registry, srv := newTestAPI(t, "")
	c := NewClient(srv.URL, time.Second)

	region, err := c.ResolveRegion(ctx, 45.07, 7.68)
	require.NoError(t, err)
	assert.Equal(t, "Piemonte", region)

	lat, lon := 45.07, 7.68
	id, err := c.ComputeClientID(ctx, RoleGateway, &lat, &lon)
	require.NoError(t, err)
	assert.Equal(t, "gateway_45.077.68", id)

	got, err := c.RegisterGateway(ctx, id, region, GatewayFields{Topics: []string{"poleData"}, Lat: &lat, Long: &lon})
	require.NoError(t, err)
	assert.Equal(t, id, got)

	_, err = c.RegisterGateway(ctx, "intruder", region, GatewayFields{})
	assert.True(t, errors.Is(err, errors.ErrConflict))

	require.NoError(t, c.RegisterPole(ctx, id, PoleSpec{ID: "p1", Lat: &lat, Long: &lon}))
	err = c.RegisterPole(ctx, id, PoleSpec{ID: "p1", Lat: &lat, Long: &lon})
	assert.True(t, errors.Is(err, errors.ErrAlreadyExists), "duplicate is told apart from a bad request")

	active, err := c.PoleStatus(ctx, "p1")
	require.NoError(t, err)
	assert.True(t, active)

	require.NoError(t, c.SetPoleActive(ctx, id, "p1", false))
	active, err = c.PoleStatus(ctx, "p1")
	require.NoError(t, err)
	assert.False(t, active)

	require.NoError(t, c.DeletePole(ctx, id, "p1"))
	_, err = c.PoleStatus(ctx, "p1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	require.NoError(t, c.RegisterService(ctx, RoleComputeDecay, "computeDecay"))
	bound, err := c.ServiceBinding(ctx, RoleComputeDecay)
	require.NoError(t, err)
	assert.Equal(t, "computeDecay", bound)

	local, err := c.LocalBroker(ctx, region)
	require.NoError(t, err)
	assert.Equal(t, "nats://127.0.0.1:4223", local.URL())

	writerURL, err := c.WriterURL(ctx)
	require.NoError(t, err)
	assert.Equal(t, registry.WriterURL(), writerURL)

	g, err := c.Gateway(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, region, g.Zone)
}

func TestClient_CatalogDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewClient(url, 200*time.Millisecond).PoleStatus(context.Background(), "p1")
	require.Error(t, err)
	assert.Equal(t, errors.KindUnavailable, errors.KindOf(err))
}
