package server

import (
	"net/http"
	"slices"
)

// cors allows credentialed cross-origin requests from origins. Allowed
// origins are echoed back, never answered with "*", since browsers reject a
// wildcard on credentialed requests. Any requested method and header is
// allowed. Preflight requests are answered with 204 and never reach next;
// a disallowed origin gets the 204 without CORS headers.
func cors(origins []string, next http.Handler) http.Handler {
	allowAll := slices.Contains(origins, "*")
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		preflight := r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != ""

		if origin != "" {
			h := w.Header()
			h.Add("Vary", "Origin")
			if _, ok := allowed[origin]; ok || allowAll {
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Set("Access-Control-Expose-Headers", "X-Correlation-ID")
				if preflight {
					h.Set("Access-Control-Allow-Methods", r.Header.Get("Access-Control-Request-Method"))
					if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
						h.Set("Access-Control-Allow-Headers", reqHeaders)
					}
					h.Set("Access-Control-Max-Age", "600")
				}
			}
		}

		if preflight {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
