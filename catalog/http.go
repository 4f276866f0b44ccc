package catalog

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/pkg/httpx"
)

// API exposes a Registry over HTTP+JSON
type API struct {
	registry   *Registry
	logger     *slog.Logger
	adminToken string
}

// NewAPI creates the catalog HTTP API. When adminToken is set, configuration
// writes (topic updates and pole activation) require it as a bearer token.
func NewAPI(registry *Registry, logger *slog.Logger, adminToken string) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{registry: registry, logger: logger, adminToken: adminToken}
}

// Routes mounts the API on r
func (a *API) Routes(r chi.Router) {
	r.Get("/", a.getSnapshot)

	r.Post("/gateway", a.registerGateway)
	r.Get("/gateways", a.listGateways)
	r.Get("/gateways/{gatewayID}", a.getGateway)

	r.Post("/pole", a.registerPole)
	r.Delete("/pole/{gatewayID}/{poleID}", a.deletePole)
	r.With(a.requireAdmin).Put("/pole/{gatewayID}/{poleID}/active", a.setPoleActive)
	r.Get("/smart_poles/{gatewayID}", a.listPoles)
	r.Get("/smart_poles/{gatewayID}/{poleID}", a.getPole)
	r.Get("/pole_status/{poleID}", a.poleStatus)

	r.Get("/local_broker", a.broker(BrokerLocal))
	r.Get("/central_broker", a.broker(BrokerCentral))
	r.Get("/regions", a.regions)
	r.Get("/topic", a.getTopics)
	r.With(a.requireAdmin).Put("/topic", a.putTopics)
	r.Get("/compute_id", a.computeID)

	for _, role := range BackendRoles {
		r.Post("/"+role, a.bindService(role))
	}
	r.Get("/backend/{role}", a.getBinding)

	r.Get("/threshold", a.threshold)
	r.Get("/owner", a.owner)
	r.Get("/writer_url", a.writerURL)
}

func (a *API) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.adminToken != "" {
			token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			if subtle.ConstantTimeCompare([]byte(token), []byte(a.adminToken)) != 1 {
				httpx.WriteErrorMessage(w, http.StatusUnauthorized, "missing or invalid admin token")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(w, r, a.logger, err)
}

func (a *API) getSnapshot(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, a.registry.Snapshot())
}

var gatewayKnownFields = map[string]bool{
	"gateway_id": true, "zone": true, "gateway_topic": true,
	"lat": true, "long": true, "smart_poles": true, "last_update": true,
}

func (a *API) registerGateway(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := httpx.DecodeJSON(r, &raw); err != nil {
		a.fail(w, r, err)
		return
	}

	var req struct {
		GatewayID string   `json:"gateway_id"`
		Zone      string   `json:"zone"`
		Topics    []string `json:"gateway_topic"`
		Lat       *float64 `json:"lat"`
		Long      *float64 `json:"long"`
	}
	body, _ := json.Marshal(raw)
	if err := json.Unmarshal(body, &req); err != nil {
		a.fail(w, r, errors.WrapInvalid(err, "API", "registerGateway", "decode gateway fields"))
		return
	}

	fields := GatewayFields{Topics: req.Topics, Lat: req.Lat, Long: req.Long}
	for k, v := range raw {
		if gatewayKnownFields[k] {
			continue
		}
		if fields.Extra == nil {
			fields.Extra = make(map[string]json.RawMessage)
		}
		fields.Extra[k] = v
	}

	id, err := a.registry.RegisterGateway(r.Context(), req.GatewayID, req.Zone, fields)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "gateway_registered", "gateway_id": id})
}

func (a *API) listGateways(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, a.registry.Gateways())
}

func (a *API) getGateway(w http.ResponseWriter, r *http.Request) {
	g, err := a.registry.Gateway(chi.URLParam(r, "gatewayID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, g)
}

// PoleRequest is the body of POST /pole
type PoleRequest struct {
	GatewayID string   `json:"gateway_id"`
	ID        string   `json:"id"`
	Lat       *float64 `json:"lat"`
	Long      *float64 `json:"long"`
	Sensors   []Sensor `json:"sensors,omitempty"`
	Active    *bool    `json:"active,omitempty"`
}

func (a *API) registerPole(w http.ResponseWriter, r *http.Request) {
	var req PoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.GatewayID == "" {
		a.fail(w, r, errors.New(errors.KindInvalidArgument, "API", "registerPole", "gateway_id is required"))
		return
	}

	pole, err := a.registry.RegisterPole(r.Context(), req.GatewayID, PoleSpec{
		ID:      req.ID,
		Lat:     req.Lat,
		Long:    req.Long,
		Sensors: req.Sensors,
		Active:  req.Active,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"status":     "pole_created",
		"gateway_id": req.GatewayID,
		"id":         pole.ID,
		"region":     pole.Region,
	})
}

func (a *API) deletePole(w http.ResponseWriter, r *http.Request) {
	gatewayID, poleID := chi.URLParam(r, "gatewayID"), chi.URLParam(r, "poleID")
	if err := a.registry.DeletePole(r.Context(), gatewayID, poleID); err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"status":     "pole_deleted",
		"gateway_id": gatewayID,
		"id":         poleID,
	})
}

func (a *API) setPoleActive(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Active *bool `json:"active"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if req.Active == nil {
		a.fail(w, r, errors.New(errors.KindInvalidArgument, "API", "setPoleActive", "active is required"))
		return
	}
	gatewayID, poleID := chi.URLParam(r, "gatewayID"), chi.URLParam(r, "poleID")
	if err := a.registry.SetPoleActive(r.Context(), gatewayID, poleID, *req.Active); err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"gateway_id": gatewayID, "id": poleID, "active": *req.Active})
}

func (a *API) listPoles(w http.ResponseWriter, r *http.Request) {
	poles, err := a.registry.Poles(chi.URLParam(r, "gatewayID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, poles)
}

func (a *API) getPole(w http.ResponseWriter, r *http.Request) {
	pole, err := a.registry.Pole(chi.URLParam(r, "gatewayID"), chi.URLParam(r, "poleID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, pole)
}

func (a *API) poleStatus(w http.ResponseWriter, r *http.Request) {
	active, err := a.registry.GetPoleStatus(chi.URLParam(r, "poleID"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"active": active})
}

func (a *API) broker(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := a.registry.GetBrokerConfig(kind, r.URL.Query().Get("zone"))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, b)
	}
}

// regions answers three queries: ?region=NAME returns that region,
// ?lat=&lon= resolves a point, and no query lists the table.
func (a *API) regions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if name := q.Get("region"); name != "" {
		region, err := a.registry.Region(name)
		if err != nil {
			a.fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, region)
		return
	}
	if q.Has("lat") || q.Has("lon") {
		lat, lon, err := parseCoordinates(q.Get("lat"), q.Get("lon"))
		if err != nil {
			a.fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"region": a.registry.ResolveRegion(*lat, *lon)})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, a.registry.Regions())
}

func parseCoordinates(latStr, lonStr string) (*float64, *float64, error) {
	lat, err := strconv.ParseFloat(latStr, 64)
	if err != nil {
		return nil, nil, errors.New(errors.KindInvalidArgument, "API", "parseCoordinates", "invalid lat %q", latStr)
	}
	lon, err := strconv.ParseFloat(lonStr, 64)
	if err != nil {
		return nil, nil, errors.New(errors.KindInvalidArgument, "API", "parseCoordinates", "invalid lon %q", lonStr)
	}
	return &lat, &lon, nil
}

func (a *API) getTopics(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("type")
	if role == "" {
		httpx.WriteJSON(w, http.StatusOK, a.registry.Topics())
		return
	}
	topics, err := a.registry.GetTopicConfig(role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, topics)
}

func (a *API) putTopics(w http.ResponseWriter, r *http.Request) {
	role := r.URL.Query().Get("type")
	var req struct {
		NewTopics []string `json:"new_topics"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.registry.PutTopicConfig(r.Context(), role, req.NewTopics); err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "topic_updated", "type": role, "topics": req.NewTopics})
}

func (a *API) computeID(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var lat, lon *float64
	if q.Has("lat") || q.Has("lon") {
		var err error
		if lat, lon, err = parseCoordinates(q.Get("lat"), q.Get("lon")); err != nil {
			a.fail(w, r, err)
			return
		}
	}
	id, err := a.registry.ComputeClientID(q.Get("type"), lat, lon)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"id": id})
}

func (a *API) bindService(role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID string `json:"id"`
		}
		if err := httpx.DecodeJSON(r, &req); err != nil {
			a.fail(w, r, err)
			return
		}
		if err := a.registry.PutServiceBinding(r.Context(), role, req.ID); err != nil {
			a.fail(w, r, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "registered", "role": role, "id": req.ID})
	}
}

func (a *API) getBinding(w http.ResponseWriter, r *http.Request) {
	role := chi.URLParam(r, "role")
	id, err := a.registry.GetServiceBinding(role)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"role": role, "id": id})
}

func (a *API) threshold(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]float64{"threshold": a.registry.Threshold()})
}

func (a *API) owner(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"owner": a.registry.Owner()})
}

func (a *API) writerURL(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"writer_url": a.registry.WriterURL()})
}
