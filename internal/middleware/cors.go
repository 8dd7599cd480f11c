// Package middleware provides HTTP middleware for the telemetry ingest surface
package middleware

import (
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/kargolabs/auction-telemetry/internal/config"
)

// CORSConfig holds cross-origin configuration for the event endpoints.
// Lifecycle events arrive from publisher pages, so the allowed-origin set
// is open by default and narrowed per deployment.
type CORSConfig struct {
	AllowedOrigins []string // "*" allows any origin
	MaxAge         int      // Preflight cache duration in seconds
}

// DefaultCORSConfig returns default CORS configuration
func DefaultCORSConfig() *CORSConfig {
	origins := []string{"*"}
	if env := os.Getenv("CORS_ALLOWED_ORIGINS"); env != "" {
		origins = origins[:0]
		for _, o := range strings.Split(env, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}

	return &CORSConfig{
		AllowedOrigins: origins,
		MaxAge:         config.CORSMaxAge,
	}
}

// CORS provides cross-origin middleware
type CORS struct {
	config *CORSConfig
}

// NewCORS creates new CORS middleware
func NewCORS(config *CORSConfig) *CORS {
	if config == nil {
		config = DefaultCORSConfig()
	}
	return &CORS{config: config}
}

// Middleware returns the CORS middleware handler
func (c *CORS) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" && c.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}

		// Preflight
		if r.Method == http.MethodOptions {
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Max-Age", strconv.Itoa(c.config.MaxAge))
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (c *CORS) originAllowed(origin string) bool {
	for _, allowed := range c.config.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
