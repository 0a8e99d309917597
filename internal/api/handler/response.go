package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hszk-dev/torrentstream/internal/api/middleware"
)

func JSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, "failed to encode response", http.StatusInternalServerError)
		}
	}
}

// ErrorResponse is the body of every non-2xx JSON response.
type ErrorResponse struct {
	Error     string `json:"error"`
	Details   string `json:"details,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Error writes an ErrorResponse tagged with the request's ID.
func Error(w http.ResponseWriter, r *http.Request, status int, code string, details string) {
	JSON(w, status, ErrorResponse{
		Error:     code,
		Details:   details,
		RequestID: middleware.GetRequestID(r.Context()),
	})
}
