package runtime

import (
	"net/http"
	"strings"

	"github.com/drblury/xrayflow/internal/runtime/jsoncodec"
)

// StartStatusServer exposes handler statistics on the API port.
func (s *Service) StartStatusServer() {
	if s.Conf.Port <= 0 {
		return
	}
	s.RegisterHTTPHandler(s.Conf.Port, "GET /status/handlers", http.HandlerFunc(s.handleGetHandlers))
	s.RegisterHTTPHandler(s.Conf.Port, "GET /status/delivery", http.HandlerFunc(s.handleGetDelivery))
	s.RegisterHTTPHandler(s.Conf.Port, "GET /status/process", http.HandlerFunc(s.handleGetProcess))
}

func (s *Service) handleGetHandlers(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.Handlers())
}

func (s *Service) handleGetDelivery(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.delivery.Snapshot())
}

func (s *Service) handleGetProcess(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, s.process.Snapshot())
}

// HealthHandler reports liveness together with the live subscriber count.
func HealthHandler(subscribers func() int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := 0
		if subscribers != nil {
			n = subscribers()
		}
		w.Header().Set("Content-Type", "application/json")
		_ = jsoncodec.Encode(w, map[string]any{"status": "ok", "subscribers": n})
	})
}

func (s *Service) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := jsoncodec.Encode(w, v); err != nil {
		s.Logger.Error("Failed to encode status", err, nil)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// withCORS applies the configured CORS policy to every response of next.
func (s *Service) withCORS(next http.Handler) http.Handler {
	if s.Conf == nil || len(s.Conf.CORSAllowedOrigins) == 0 {
		return next
	}
	return CORS(s.Conf.CORSAllowedOrigins, next)
}

// CORS sets Access-Control headers for allowed origins and answers
// preflight requests.
func CORS(allowed []string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := allowedCORSOrigin(allowed, r.Header.Get("Origin")); origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			if origin != "*" {
				w.Header().Add("Vary", "Origin")
			}
		}
		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowedCORSOrigin returns the Access-Control-Allow-Origin value for
// requestOrigin, or "" when it is not allowed.
func allowedCORSOrigin(allowed []string, requestOrigin string) string {
	for _, a := range allowed {
		if a == "*" {
			return "*"
		}
		if requestOrigin != "" && strings.EqualFold(a, requestOrigin) {
			return requestOrigin
		}
	}
	return ""
}
