package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/metric"
)

func TestRouter_RequestIDAndMetrics(t *testing.T) {
	registry := metric.NewMetricsRegistry()
	r := NewRouter("catalog", nil, registry.CoreMetrics())
	r.Get("/gateways/{id}", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"request_id": RequestIDFrom(r.Context())})
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/gateways/gw1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	id := rec.Header().Get(RequestIDHeader)
	assert.Len(t, id, 36)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, id, body["request_id"])

	req := httptest.NewRequest(http.MethodGet, "/gateways/gw2", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))

	count := testutil.ToFloat64(registry.CoreMetrics().HTTPRequests.WithLabelValues("catalog", "/gateways/{id}", "200"))
	assert.Equal(t, 2.0, count)
}

func TestRouter_NotFoundAndMethod(t *testing.T) {
	r := NewRouter("catalog", nil, nil)
	r.Get("/x", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/x", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		err     error
		code    int
		message string
	}{
		{errors.New(errors.KindConflict, "Registry", "RegisterGateway", "zone taken"), http.StatusConflict, "zone taken"},
		{errors.New(errors.KindNotFound, "Registry", "DeletePole", "no pole"), http.StatusNotFound, "no pole"},
		{errors.WrapFatal(assert.AnError, "Registry", "save", "write snapshot"), http.StatusInternalServerError, "Internal Server Error"},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), nil, tt.err)
		assert.Equal(t, tt.code, rec.Code)
		assert.Contains(t, rec.Body.String(), tt.message)
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct{ ID string }
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"ID":"P1"}`))
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, "P1", dst.ID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	err := DecodeJSON(req, &dst)
	assert.ErrorIs(t, err, errors.ErrInvalidArgument)
	assert.Equal(t, http.StatusBadRequest, errors.HTTPStatus(err))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	assert.ErrorIs(t, DecodeJSON(req, &dst), errors.ErrInvalidArgument)

	big := strings.Repeat("a", MaxBodyBytes+10)
	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`"`+big+`"`))
	assert.ErrorIs(t, DecodeJSON(req, &dst), errors.ErrInvalidArgument)
}

func TestClient_MapsErrorKinds(t *testing.T) {
	r := NewRouter("test", nil, nil)
	r.Post("/pole", func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, r, nil, errors.New(errors.KindAlreadyExists, "Registry", "RegisterPole", "duplicate"))
	})
	r.Get("/plain", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	r.Get("/ok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		WriteJSON(w, http.StatusOK, map[string]bool{"active": true})
	})
	srv := httptest.NewServer(r)
	defer srv.Close()

	c := NewClient("CatalogClient", srv.URL+"/", 0)
	c.SetBearerToken("secret")
	ctx := context.Background()

	err := c.Do(ctx, http.MethodPost, "/pole", map[string]string{"id": "p1"}, nil)
	assert.True(t, errors.Is(err, errors.ErrAlreadyExists))

	err = c.Do(ctx, http.MethodGet, "/plain", nil, nil)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	var out struct {
		Active bool `json:"active"`
	}
	require.NoError(t, c.Do(ctx, http.MethodGet, "/ok", nil, &out))
	assert.True(t, out.Active)
}

func TestClient_UnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	err := NewClient("CatalogClient", url, 0).Do(context.Background(), http.MethodGet, "/", nil, nil)
	require.Error(t, err)
	assert.True(t, errors.IsTransient(err))
	assert.Equal(t, errors.KindUnavailable, errors.KindOf(err))
}

func TestRateLimit(t *testing.T) {
	r := NewRouter("catalog", nil, nil)
	r.Use(RateLimit(0.001, 2))
	r.Get("/owner", func(w http.ResponseWriter, _ *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]string{"owner": "polestream"})
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/owner", nil))
		codes = append(codes, rec.Code)
		if rec.Code == http.StatusTooManyRequests {
			assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		}
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimit_DisabledPassesThrough(t *testing.T) {
	h := RateLimit(0, 0)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for i := 0; i < 50; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
}
