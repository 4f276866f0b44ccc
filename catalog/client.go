package catalog

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/c360/polestream/pkg/httpx"
)

// Client talks to a remote catalog over its HTTP API. Errors carry the kind
// the catalog reported, and transport failures are Unavailable.
type Client struct {
	http *httpx.Client
}

// NewClient creates a catalog client for baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{http: httpx.NewClient("CatalogClient", baseURL, timeout)}
}

// SetAdminToken sets the bearer token sent with configuration writes
func (c *Client) SetAdminToken(token string) {
	c.http.SetBearerToken(token)
}

// BaseURL returns the catalog address
func (c *Client) BaseURL() string {
	return c.http.BaseURL()
}

// Snapshot fetches the whole catalog document
func (c *Client) Snapshot(ctx context.Context) (*Snapshot, error) {
	var s Snapshot
	if err := c.http.Do(ctx, http.MethodGet, "/", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RegisterGateway claims zone for gatewayID
func (c *Client) RegisterGateway(ctx context.Context, gatewayID, zone string, fields GatewayFields) (string, error) {
	body := map[string]any{"gateway_id": gatewayID, "zone": zone}
	if fields.Topics != nil {
		body["gateway_topic"] = fields.Topics
	}
	if fields.Lat != nil {
		body["lat"] = *fields.Lat
	}
	if fields.Long != nil {
		body["long"] = *fields.Long
	}
	for k, v := range fields.Extra {
		if _, known := body[k]; !known {
			body[k] = v
		}
	}
	var resp struct {
		GatewayID string `json:"gateway_id"`
	}
	if err := c.http.Do(ctx, http.MethodPost, "/gateway", body, &resp); err != nil {
		return "", err
	}
	return resp.GatewayID, nil
}

// Gateway fetches one gateway
func (c *Client) Gateway(ctx context.Context, gatewayID string) (Gateway, error) {
	var g Gateway
	err := c.http.Do(ctx, http.MethodGet, "/gateways/"+url.PathEscape(gatewayID), nil, &g)
	return g, err
}

// RegisterPole creates a pole under gatewayID
func (c *Client) RegisterPole(ctx context.Context, gatewayID string, spec PoleSpec) error {
	return c.http.Do(ctx, http.MethodPost, "/pole", PoleRequest{
		GatewayID: gatewayID,
		ID:        spec.ID,
		Lat:       spec.Lat,
		Long:      spec.Long,
		Sensors:   spec.Sensors,
		Active:    spec.Active,
	}, nil)
}

// DeletePole removes a pole
func (c *Client) DeletePole(ctx context.Context, gatewayID, poleID string) error {
	return c.http.Do(ctx, http.MethodDelete,
		"/pole/"+url.PathEscape(gatewayID)+"/"+url.PathEscape(poleID), nil, nil)
}

// SetPoleActive switches a pole's activation flag
func (c *Client) SetPoleActive(ctx context.Context, gatewayID, poleID string, active bool) error {
	return c.http.Do(ctx, http.MethodPut,
		"/pole/"+url.PathEscape(gatewayID)+"/"+url.PathEscape(poleID)+"/active",
		map[string]bool{"active": active}, nil)
}

// PoleStatus returns the active flag of a pole
func (c *Client) PoleStatus(ctx context.Context, poleID string) (bool, error) {
	var resp struct {
		Active bool `json:"active"`
	}
	if err := c.http.Do(ctx, http.MethodGet, "/pole_status/"+url.PathEscape(poleID), nil, &resp); err != nil {
		return false, err
	}
	return resp.Active, nil
}

// ResolveRegion returns the region containing the point, or UnknownRegion
func (c *Client) ResolveRegion(ctx context.Context, lat, lon float64) (string, error) {
	q := url.Values{}
	q.Set("lat", strconv.FormatFloat(lat, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(lon, 'f', -1, 64))
	var resp struct {
		Region string `json:"region"`
	}
	if err := c.http.Do(ctx, http.MethodGet, "/regions?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	return resp.Region, nil
}

// Regions lists the region table
func (c *Client) Regions(ctx context.Context) ([]Region, error) {
	var regions []Region
	err := c.http.Do(ctx, http.MethodGet, "/regions", nil, &regions)
	return regions, err
}

// CentralBroker returns the central bus address
func (c *Client) CentralBroker(ctx context.Context) (BrokerConfig, error) {
	var b BrokerConfig
	err := c.http.Do(ctx, http.MethodGet, "/central_broker", nil, &b)
	return b, err
}

// LocalBroker returns the local bus address for zone
func (c *Client) LocalBroker(ctx context.Context, zone string) (BrokerConfig, error) {
	var b BrokerConfig
	path := "/local_broker"
	if zone != "" {
		path += "?zone=" + url.QueryEscape(zone)
	}
	err := c.http.Do(ctx, http.MethodGet, path, nil, &b)
	return b, err
}

// Topics returns the topics configured for role
func (c *Client) Topics(ctx context.Context, role string) ([]string, error) {
	var topics []string
	err := c.http.Do(ctx, http.MethodGet, "/topic?type="+url.QueryEscape(role), nil, &topics)
	return topics, err
}

// PutTopics replaces the topics of role
func (c *Client) PutTopics(ctx context.Context, role string, topics []string) error {
	return c.http.Do(ctx, http.MethodPut, "/topic?type="+url.QueryEscape(role),
		map[string][]string{"new_topics": topics}, nil)
}

// ComputeClientID asks the catalog for the client id of role. Coordinates
// are only sent when both are given.
func (c *Client) ComputeClientID(ctx context.Context, role string, lat, lon *float64) (string, error) {
	q := url.Values{}
	q.Set("type", role)
	if lat != nil && lon != nil {
		q.Set("lat", strconv.FormatFloat(*lat, 'f', -1, 64))
		q.Set("lon", strconv.FormatFloat(*lon, 'f', -1, 64))
	}
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.http.Do(ctx, http.MethodGet, "/compute_id?"+q.Encode(), nil, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// RegisterService binds id to a backend role
func (c *Client) RegisterService(ctx context.Context, role, id string) error {
	return c.http.Do(ctx, http.MethodPost, "/"+url.PathEscape(role), map[string]string{"id": id}, nil)
}

// ServiceBinding returns the id bound to a backend role
func (c *Client) ServiceBinding(ctx context.Context, role string) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	if err := c.http.Do(ctx, http.MethodGet, "/backend/"+url.PathEscape(role), nil, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Threshold returns the alert threshold
func (c *Client) Threshold(ctx context.Context) (float64, error) {
	var resp struct {
		Threshold float64 `json:"threshold"`
	}
	if err := c.http.Do(ctx, http.MethodGet, "/threshold", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Threshold, nil
}

// WriterURL returns the base URL of the correlation writer
func (c *Client) WriterURL(ctx context.Context) (string, error) {
	var resp struct {
		WriterURL string `json:"writer_url"`
	}
	if err := c.http.Do(ctx, http.MethodGet, "/writer_url", nil, &resp); err != nil {
		return "", err
	}
	return resp.WriterURL, nil
}
