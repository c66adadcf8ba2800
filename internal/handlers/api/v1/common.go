package v1

import (
	"encoding/json"
	"net/http"
)

// APIError is the standard error envelope for every v1 endpoint.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// sendAPIError sends a standardized API error response
func sendAPIError(w http.ResponseWriter, message, code string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(APIError{
		Code:    code,
		Message: message,
	})
}

// sendJSON writes a JSON response with the given status code.
func sendJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}
