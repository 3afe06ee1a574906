package middleware

import (
	"crypto/subtle"
	"net/http"
)

// FunctionKeyHeader is the header checked by FunctionKey.
const FunctionKeyHeader = "X-Function-Key"

// FunctionKey rejects requests whose X-Function-Key does not match key.
// An empty key disables the check.
func FunctionKey(key string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if key == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.Header.Get(FunctionKeyHeader)
			if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusUnauthorized)
				_, _ = w.Write([]byte(`{"error":"Invalid function key"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
