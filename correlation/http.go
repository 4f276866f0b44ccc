package correlation

import (
	"encoding/json"
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/c360/polestream/errors"
	"github.com/c360/polestream/pkg/httpx"
)

// DecayRequest is the body of POST /decay
type DecayRequest struct {
	PoleID    json.RawMessage `json:"pole_id"`
	Timestamp *float64        `json:"timestamp"`
	Decay     *float64        `json:"decay"`
}

// DecayResponse reports the join outcome
type DecayResponse struct {
	Status string `json:"status"`
}

// API serves decay submissions to a Writer
type API struct {
	writer *Writer
	logger *slog.Logger
}

// NewAPI creates the writer HTTP API
func NewAPI(w *Writer, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{writer: w, logger: logger}
}

// Routes mounts the API on r
func (a *API) Routes(r chi.Router) {
	r.Post("/decay", a.submitDecay)
}

func (a *API) submitDecay(w http.ResponseWriter, r *http.Request) {
	var req DecayRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}
	poleID := idString(req.PoleID)
	if poleID == "" || req.Timestamp == nil || req.Decay == nil {
		httpx.WriteError(w, r, a.logger, errors.New(errors.KindInvalidArgument, "API", "submitDecay",
			"missing pole_id/timestamp/decay"))
		return
	}
	ts, ok := timestampKey(*req.Timestamp)
	if !ok || !finite(*req.Decay) {
		httpx.WriteError(w, r, a.logger, errors.New(errors.KindInvalidArgument, "API", "submitDecay",
			"timestamp must fit an int64 and decay must be finite"))
		return
	}

	status, err := a.writer.SubmitDecay(r.Context(), poleID, ts, *req.Decay)
	if err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, DecayResponse{Status: status})
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
