// Package authmw provides HTTP middleware for bearer token authentication
// of the triage API.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// Options configures Bearer.
type Options struct {
	// Tokens lists every accepted token. More than one allows rotation
	// without downtime. Empty entries are ignored.
	Tokens []string

	// Public lists exact request paths served without a token, such as
	// the health probe.
	Public []string
}

// Enabled reports whether at least one usable token is configured.
func (o Options) Enabled() bool {
	for _, t := range o.Tokens {
		if t != "" {
			return true
		}
	}
	return false
}

// Bearer returns middleware that requires an Authorization header carrying
// one of the configured tokens. Comparison is constant time per token.
// With no usable token the middleware passes every request through.
func Bearer(opts Options) func(http.Handler) http.Handler {
	var accepted [][]byte
	for _, t := range opts.Tokens {
		if t != "" {
			accepted = append(accepted, []byte(t))
		}
	}
	public := make(map[string]struct{}, len(opts.Public))
	for _, p := range opts.Public {
		public[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		if len(accepted) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := public[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, bearerPrefix) {
				unauthorized(w, "missing or malformed authorization header")
				return
			}

			if !matchAny(accepted, []byte(auth[len(bearerPrefix):])) {
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// matchAny compares got against every accepted token so the time taken
// does not depend on which one matched.
func matchAny(accepted [][]byte, got []byte) bool {
	ok := 0
	for _, want := range accepted {
		ok |= subtle.ConstantTimeCompare(got, want)
	}
	return ok == 1
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="sift"`)
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
