package server

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/tjfontaine/revintel-gateway/internal/core/domain"
)

type errorEnvelope struct {
	Error *domain.APIError `json:"error"`
}

// WriteError writes err as {"error":{"type","code","message"}}. Unknown errors
// become a generic 500 so internals never reach the client.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	apiErr := domain.AsAPIError(err)
	if r != nil {
		AddError(r.Context(), err)
	}
	if apiErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(apiErr.RetryAfter.Seconds()))))
	}
	WriteJSON(w, apiErr.HTTPStatusCode(), errorEnvelope{Error: apiErr})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

var (
	notFound         = domain.ErrNotFound("route not found")
	methodNotAllowed = domain.ErrInvalidRequest("method not allowed").WithStatusCode(http.StatusMethodNotAllowed)
)
