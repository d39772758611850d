package httputil

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse is the body of every non-2xx JSON response
type ErrorResponse struct {
	Error   string            `json:"error"`
	Details []ValidationError `json:"details,omitempty"`
}

// WriteJSON writes v with the given status
// ⭐ SSOT: JSON 응답은 이 함수로만 작성
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError writes an ErrorResponse
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteValidation writes a 400 with per-field details
func WriteValidation(w http.ResponseWriter, details []ValidationError) {
	WriteJSON(w, http.StatusBadRequest, ErrorResponse{Error: "validation failed", Details: details})
}
