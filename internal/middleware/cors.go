// Package middleware provides HTTP middleware for the assessment API.
package middleware

import (
	"net/http"
	"slices"
	"strconv"
)

// preflightMaxAge is how long browsers may cache a preflight answer.
const preflightMaxAge = 600

// CORS admits browser calls from the assessment frontend. An explicitly listed
// origin may send credentials; "*" admits any origin without them. Preflight
// requests from admitted origins are answered here with 204.
func CORS(allowedOrigins []string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			h.Add("Vary", "Origin")

			origin := r.Header.Get("Origin")
			listed := origin != "" && slices.Contains(allowedOrigins, origin)
			if origin == "" || !(listed || wildcard) {
				next.ServeHTTP(w, r)
				return
			}

			h.Set("Access-Control-Allow-Origin", origin)
			if listed {
				h.Set("Access-Control-Allow-Credentials", "true")
			}
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type")
				h.Set("Access-Control-Max-Age", strconv.Itoa(preflightMaxAge))
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
