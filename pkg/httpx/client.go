package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/c360/polestream/errors"
)

// Client issues JSON requests against one base URL and maps failures back
// onto error kinds: transport errors and timeouts become Unavailable, error
// responses keep the kind the server reported.
type Client struct {
	baseURL   string
	http      *http.Client
	component string
	header    http.Header
}

// NewClient creates a JSON client. timeout bounds every request.
func NewClient(component, baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		http:      &http.Client{Timeout: timeout},
		component: component,
		header:    http.Header{},
	}
}

// BaseURL returns the URL requests are resolved against
func (c *Client) BaseURL() string {
	return c.baseURL
}

// SetBearerToken sends token as an Authorization header on every request
func (c *Client) SetBearerToken(token string) {
	if token == "" {
		c.header.Del("Authorization")
		return
	}
	c.header.Set("Authorization", "Bearer "+token)
}

// Do sends in as the JSON body (nil for none) and decodes a 2xx response
// into out (nil to discard).
func (c *Client) Do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return errors.WrapInvalid(err, c.component, method+" "+path, "encode request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return errors.WrapInvalid(err, c.component, method+" "+path, "build request")
	}
	for k, v := range c.header {
		req.Header[k] = v
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.WrapTransient(err, c.component, method+" "+path, "send request")
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxBodyBytes))
	if err != nil {
		return errors.WrapTransient(err, c.component, method+" "+path, "read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp.StatusCode, data, c.component, method+" "+path)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.WrapFatal(err, c.component, method+" "+path, "decode response")
	}
	return nil
}

func decodeError(status int, data []byte, component, operation string) error {
	var body ErrorBody
	if err := json.Unmarshal(data, &body); err != nil || body.Error == "" {
		return errors.FromHTTPStatus(status, component, operation, string(data))
	}
	if kind := errors.ParseKind(body.Kind); kind != errors.KindUnknown {
		return errors.New(kind, component, operation, "status %d: %s", status, body.Error)
	}
	return errors.FromHTTPStatus(status, component, operation, body.Error)
}
