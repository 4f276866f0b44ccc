package correlation

import (
	"context"
	"net/http"
	"time"

	"github.com/c360/polestream/pkg/httpx"
)

// Client submits decay values to a remote writer
type Client struct {
	http *httpx.Client
}

// NewClient creates a writer client for baseURL
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{http: httpx.NewClient("WriterClient", baseURL, timeout)}
}

// SubmitDecay posts one decay value and returns the join status
func (c *Client) SubmitDecay(ctx context.Context, poleID string, timestamp int64, decay float64) (string, error) {
	body := map[string]any{"pole_id": poleID, "timestamp": timestamp, "decay": decay}
	var resp DecayResponse
	if err := c.http.Do(ctx, http.MethodPost, "/decay", body, &resp); err != nil {
		return "", err
	}
	return resp.Status, nil
}
