package httpx

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/c360/polestream/errors"
)

// MaxBodyBytes bounds request bodies decoded with DecodeJSON
const MaxBodyBytes = 1 << 20

// WriteJSON writes v as a JSON response with the given status
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorBody is the JSON shape of every error response. Kind lets clients
// tell apart errors that share a status code, such as a duplicate pole and a
// missing field.
type ErrorBody struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
	Kind   string `json:"kind,omitempty"`
}

// WriteErrorMessage writes an ErrorBody without a kind
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorBody{Error: message, Status: status})
}

// WriteError maps err onto its status code. Client errors carry their message;
// server-side failures are logged and answered with a generic message.
func WriteError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := errors.HTTPStatus(err)
	message := err.Error()
	if status >= 500 {
		if logger != nil {
			logger.Error("Request failed",
				"path", r.URL.Path,
				"request_id", RequestIDFrom(r.Context()),
				"error", err)
		}
		message = http.StatusText(status)
	}
	body := ErrorBody{Error: message, Status: status}
	if kind := errors.KindOf(err); kind != errors.KindUnknown {
		body.Kind = kind.String()
	}
	WriteJSON(w, status, body)
}

// DecodeJSON decodes a bounded JSON body into dst. Failures are
// InvalidArgument errors.
func DecodeJSON(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxBodyBytes+1))
	if err != nil {
		return errors.WrapInvalid(err, "httpx", "DecodeJSON", "read body")
	}
	if len(body) > MaxBodyBytes {
		return errors.New(errors.KindInvalidArgument, "httpx", "DecodeJSON",
			"body exceeds %d bytes", MaxBodyBytes)
	}
	if len(body) == 0 {
		return errors.New(errors.KindInvalidArgument, "httpx", "DecodeJSON", "empty body")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return errors.WrapInvalid(fmt.Errorf("%w: %v", errors.ErrInvalidArgument, err),
			"httpx", "DecodeJSON", "decode body")
	}
	return nil
}
