package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"
)

// errorBody is the uniform error envelope. RetryAfter is populated only for
// the locked and rate-limited outcomes, in whole seconds, matching the
// Retry-After header written alongside it.
type errorBody struct {
	Status     string `json:"status"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	RetryAfter int64  `json:"retry_after,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, data any) {
	writeJSON(w, statusCode, map[string]any{
		"status": "success",
		"data":   data,
	})
}

func writeMessage(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]any{
		"status":  "success",
		"message": message,
	})
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, errorBody{
		Status:  "error",
		Code:    code,
		Message: message,
	})
}

// writeRetryError renders a denial that names when the caller may try again.
// Seconds round up so a sub-second remainder never reads as "retry now".
func writeRetryError(w http.ResponseWriter, statusCode int, code, message string, retryAfter time.Duration) {
	secs := int64((retryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	writeJSON(w, statusCode, errorBody{
		Status:     "error",
		Code:       code,
		Message:    message,
		RetryAfter: secs,
	})
}
