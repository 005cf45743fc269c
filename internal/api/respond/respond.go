// Package respond writes JSON bodies and canonical API errors.
package respond

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/tjfontaine/agentstream/internal/core/domain"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error *domain.APIError `json:"error"`
}

// JSON writes payload with the given status.
func JSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// Error writes err as an ErrorBody. Errors that are not *domain.APIError are
// reported as a generic server error so internals are not leaked.
func Error(w http.ResponseWriter, err error) {
	apiErr := AsAPIError(err)
	JSON(w, apiErr.HTTPStatusCode(), ErrorBody{Error: apiErr})
}

// AsAPIError returns the *domain.APIError in err's chain, or a server error.
func AsAPIError(err error) *domain.APIError {
	var apiErr *domain.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return domain.ErrServer("internal server error")
}
