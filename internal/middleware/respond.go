package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/thatmoment/server/internal/apperr"
)

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// WriteError sends e as a JSON error response with its mapped status
func WriteError(w http.ResponseWriter, e *apperr.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	_ = json.NewEncoder(w).Encode(errorBody{Error: e.Message, Code: e.Code})
}
