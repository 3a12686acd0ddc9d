package middleware

import (
	"net/http"
	"strings"
)

// CORSMiddleware handles Cross-Origin Resource Sharing for the web dashboard.
type CORSMiddleware struct {
	allowedOrigins []string
	allowAll       bool
	allowHeaders   string
}

// NewCORSMiddleware creates a new CORS middleware. credentialHeader is added to the
// allowed request headers.
func NewCORSMiddleware(allowedOrigins []string, credentialHeader string) *CORSMiddleware {
	allowAll := false
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
			break
		}
	}

	headers := []string{"Content-Type", "Authorization", TraceHeader}
	if credentialHeader != "" && !strings.EqualFold(credentialHeader, "Authorization") {
		headers = append(headers, credentialHeader)
	}

	return &CORSMiddleware{
		allowedOrigins: allowedOrigins,
		allowAll:       allowAll,
		allowHeaders:   strings.Join(headers, ", "),
	}
}

// Handler returns the CORS middleware handler
func (m *CORSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowed := origin != "" && (m.allowAll || m.isOriginAllowed(origin))

		if allowed {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", m.allowHeaders)
			w.Header().Set("Access-Control-Expose-Headers", TraceHeader)
			w.Header().Set("Access-Control-Max-Age", "3600")
			w.Header().Add("Vary", "Origin")
		}

		// Preflight carries neither body nor credential.
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// isOriginAllowed matches exact origins or a "*.example.com" style suffix.
func (m *CORSMiddleware) isOriginAllowed(origin string) bool {
	for _, allowed := range m.allowedOrigins {
		if allowed == origin {
			return true
		}
		if suffix, ok := strings.CutPrefix(allowed, "*"); ok && suffix != "" && strings.HasSuffix(origin, suffix) {
			return true
		}
	}
	return false
}
