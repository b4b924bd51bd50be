package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CORSConfig lists the browser origins allowed to call the API. An entry is
// an exact origin, "*" for any origin, or "*.example.com" for subdomains.
type CORSConfig struct {
	Origins []string
	MaxAge  time.Duration
}

// DefaultCORSConfig allows any origin, matching a reader app served from a
// dev server on another port.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{Origins: []string{"*"}, MaxAge: 24 * time.Hour}
}

const (
	corsMethods = "GET, POST, OPTIONS"
	corsHeaders = "Content-Type, " + RequestIDHeader
)

func (c CORSConfig) allows(origin string) (string, bool) {
	for _, o := range c.Origins {
		switch {
		case o == "*":
			return "*", true
		case o == origin:
			return origin, true
		case strings.HasPrefix(o, "*.") && strings.HasSuffix(origin, o[1:]):
			return origin, true
		}
	}
	return "", false
}

// CORS answers preflight requests from allowed origins and tags their
// responses. Requests from other origins pass through undecorated, so the
// browser blocks them.
func CORS(cfg CORSConfig) func(http.Handler) http.Handler {
	maxAge := strconv.Itoa(int(cfg.MaxAge.Seconds()))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			h := w.Header()
			h.Add("Vary", "Origin")
			allowed, ok := cfg.allows(origin)
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			h.Set("Access-Control-Allow-Origin", allowed)
			h.Set("Access-Control-Expose-Headers", RequestIDHeader)

			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsMethods)
				h.Set("Access-Control-Allow-Headers", corsHeaders)
				if cfg.MaxAge > 0 {
					h.Set("Access-Control-Max-Age", maxAge)
				}
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
