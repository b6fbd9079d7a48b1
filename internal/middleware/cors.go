package middleware

import (
	"net/http"
	"strings"
)

// CORS allows the configured origins for the read-only API. origins is a
// comma-separated list; "*" allows any origin. Subdomain wildcards such as
// "https://*.pages.dev" match preview deployments.
func CORS(origins string) func(http.Handler) http.Handler {
	allowed := splitOrigins(origins)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqOrigin := r.Header.Get("Origin")
			if origin, ok := matchOrigin(reqOrigin, allowed); ok {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Add("Vary", "Origin")
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func splitOrigins(s string) []string {
	var out []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// matchOrigin returns the value for Access-Control-Allow-Origin.
func matchOrigin(reqOrigin string, allowed []string) (string, bool) {
	for _, a := range allowed {
		switch {
		case a == "*":
			return "*", true
		case reqOrigin == "":
			continue
		case a == reqOrigin:
			return reqOrigin, true
		case strings.Contains(a, "*."):
			prefix, suffix, _ := strings.Cut(a, "*")
			if strings.HasPrefix(reqOrigin, prefix) && strings.HasSuffix(reqOrigin, suffix) &&
				len(reqOrigin) > len(prefix)+len(suffix) {
				return reqOrigin, true
			}
		}
	}
	return "", false
}
