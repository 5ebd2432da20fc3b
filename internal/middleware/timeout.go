package middleware

import (
	"encoding/json"
	"net/http"
	"time"

	"logistics-auth/internal/model"
)

const defaultRequestTimeout = 30 * time.Second

// Timeout bounds the whole handler chain, including the bcrypt work done by
// login and registration. A request that runs over gets a 503 envelope.
// http.TimeoutHandler writes the timeout body to the outer writer, so the
// JSON content type goes on first; a handler that finishes overrides it.
func Timeout(timeout time.Duration) func(http.Handler) http.Handler {
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	body, _ := json.Marshal(model.APIResponse{
		Success: false,
		Error:   &model.APIError{Code: "REQUEST_TIMEOUT", Message: "request timed out"},
	})

	return func(next http.Handler) http.Handler {
		timed := http.TimeoutHandler(next, timeout, string(body))
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			timed.ServeHTTP(w, r)
		})
	}
}
