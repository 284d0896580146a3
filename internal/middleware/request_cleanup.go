package middleware

import (
	"io"
	"net/http"
)

// DefaultMaxBodyBytes fits a year of daily samples for a few hundred users.
const DefaultMaxBodyBytes = 8 << 20

// LimitAndDrainRequest caps the request body at maxBytes and drains whatever
// the handler left unread, so the connection can be reused.
func LimitAndDrainRequest(maxBytes int64) func(next http.Handler) http.Handler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
			if r.Body != nil {
				_, _ = io.Copy(io.Discard, r.Body)
				_ = r.Body.Close()
			}
		})
	}
}
