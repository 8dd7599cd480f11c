package main

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/kargolabs/auction-telemetry/internal/analytics"
	"github.com/kargolabs/auction-telemetry/internal/config"
	"github.com/kargolabs/auction-telemetry/internal/currency"
	"github.com/kargolabs/auction-telemetry/internal/events"
	"github.com/kargolabs/auction-telemetry/internal/metrics"
	"github.com/kargolabs/auction-telemetry/internal/middleware"
	"github.com/kargolabs/auction-telemetry/internal/storage"
	"github.com/kargolabs/auction-telemetry/pkg/logger"
	"github.com/kargolabs/auction-telemetry/pkg/redis"
)

// Server represents the telemetry ingest server
type Server struct {
	config      *ServerConfig
	httpServer  *http.Server
	metrics     *metrics.Metrics
	service     *analytics.Service
	rateLimiter *middleware.RateLimiter
	db          *sql.DB
	reports     *storage.ReportStore
	redisClient *redis.Client
	rates       *currency.RedisRates
}

// NewServer creates a new telemetry server instance
func NewServer(cfg *ServerConfig) (*Server, error) {
	s := &Server{
		config: cfg,
	}

	if err := s.initialize(); err != nil {
		return nil, err
	}

	return s, nil
}

// initialize sets up all server components
func (s *Server) initialize() error {
	log := logger.Log

	log.Info().
		Str("port", s.config.Port).
		Str("own_bidder", s.config.OwnBidder).
		Str("analytics_url", s.config.AnalyticsURL).
		Int("sampling", s.config.Sampling).
		Bool("win_events", s.config.SendWinEvents).
		Msg("Initializing auction telemetry server")

	// Initialize Prometheus metrics
	s.metrics = metrics.NewMetrics("telemetry")
	log.Info().Msg("Prometheus metrics enabled")

	// Initialize database if configured
	if err := s.initDatabase(); err != nil {
		// Database failures are non-fatal, log and continue
		log.Warn().Err(err).Msg("Database initialization failed, continuing without report archive")
	}

	// Initialize Redis if configured
	if err := s.initRedis(); err != nil {
		// Redis failures are non-fatal, log and continue
		log.Warn().Err(err).Msg("Redis initialization failed, continuing with static FX rates")
	}

	// Initialize the aggregation pipeline
	if err := s.initService(); err != nil {
		return err
	}

	// Store rate limiter for graceful shutdown
	s.rateLimiter = middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())

	// Initialize handlers and build HTTP server
	s.initHandlers()

	return nil
}

// initDatabase initializes the report archive
func (s *Server) initDatabase() error {
	log := logger.Log

	if s.config.DatabaseConfig == nil {
		log.Info().Msg("DB_HOST not set, report archive disabled")
		return nil
	}

	dbCfg := s.config.DatabaseConfig
	dbConn, err := storage.NewDBConnection(
		dbCfg.Host,
		dbCfg.Port,
		dbCfg.User,
		dbCfg.Password,
		dbCfg.Name,
		dbCfg.SSLMode,
	)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to PostgreSQL, report archive disabled")
		return err
	}

	s.db = dbConn
	s.reports = storage.NewReportStore(dbConn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.reports.EnsureSchema(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to create report schema")
		s.reports = nil
		return err
	}

	if counts, err := s.reports.Counts(ctx); err != nil {
		log.Warn().Err(err).Msg("Failed to count archived reports")
	} else {
		log.Info().
			Int64("auction_reports", counts.AuctionReports).
			Int64("win_reports", counts.WinReports).
			Msg("Report archive connected")
	}

	return nil
}

// initRedis initializes the Redis client and the FX rate source
func (s *Server) initRedis() error {
	log := logger.Log

	if s.config.RedisURL == "" {
		log.Info().Msg("REDIS_URL not set, Redis-backed FX rates disabled")
		return nil
	}

	var err error
	s.redisClient, err = redis.New(s.config.RedisURL)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to connect to Redis")
		return err
	}

	s.rates = currency.NewRedisRates(s.redisClient, currency.DefaultRates())
	log.Info().Msg("Redis-backed FX rates initialized")
	return nil
}

// initService creates the analytics pipeline with whatever backends came up
func (s *Server) initService() error {
	opts := analytics.Options{
		Metrics: s.metrics,
	}
	if s.rates != nil {
		opts.Converter = s.rates
	} else {
		opts.Converter = currency.NewStatic(currency.DefaultRates())
	}
	if s.reports != nil {
		opts.Archive = s.reports
	}

	service, err := analytics.New(s.config.ToAnalyticsConfig(), opts)
	if err != nil {
		return err
	}
	s.service = service
	return nil
}

// initHandlers initializes HTTP handlers and builds the handler chain
func (s *Server) initHandlers() {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /events", s.eventsHandler)
	mux.HandleFunc("POST /events/{kind}", s.eventKindHandler)
	mux.Handle("/health", healthHandler())
	mux.Handle("/health/ready", readyHandler(s.redisClient, s.db))
	mux.HandleFunc("/admin/stats", s.statsHandler)

	// Prometheus metrics endpoint
	mux.Handle("/metrics", metrics.Handler())

	// Build middleware chain
	handler := s.buildHandler(mux)

	// Create HTTP server
	s.httpServer = &http.Server{
		Addr:         ":" + s.config.Port,
		Handler:      handler,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: config.ServerWriteTimeout,
		IdleTimeout:  config.ServerIdleTimeout,
	}
}

// buildHandler builds the middleware chain
func (s *Server) buildHandler(mux *http.ServeMux) http.Handler {
	log := logger.Log

	cors := middleware.NewCORS(middleware.DefaultCORSConfig())
	sizeLimiter := middleware.NewSizeLimiter(middleware.DefaultSizeLimitConfig())

	// Wire up metrics
	s.rateLimiter.SetMetrics(s.metrics)

	log.Info().
		Bool("cors_enabled", true).
		Bool("rate_limiting_enabled", s.rateLimiter != nil).
		Int64("max_body_bytes", sizeLimiter.GetConfig().MaxBodySize).
		Msg("Middleware chain built")

	// Build chain: CORS -> Size Limit -> Logging -> Rate Limit -> Metrics -> Handler
	handler := http.Handler(mux)
	handler = s.metrics.Middleware(handler)
	handler = s.rateLimiter.Middleware(handler)
	handler = loggingMiddleware(handler)
	handler = sizeLimiter.Middleware(handler)
	handler = cors.Middleware(handler)

	return handler
}

// eventsHandler ingests one envelope or a batch of envelopes.
// Delivery is fire-and-forget for the page, so accepted events answer 204
// even when individual events are dropped downstream.
func (s *Server) eventsHandler(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}

	var envelopes []events.Envelope
	if len(body) > 0 && body[0] == '[' {
		if err := json.Unmarshal(body, &envelopes); err != nil {
			http.Error(w, `{"error":"invalid batch"}`, http.StatusBadRequest)
			return
		}
	} else {
		var env events.Envelope
		if err := json.Unmarshal(body, &env); err != nil {
			http.Error(w, `{"error":"invalid envelope"}`, http.StatusBadRequest)
			return
		}
		envelopes = append(envelopes, env)
	}

	for _, env := range envelopes {
		if !env.Kind.Valid() {
			// Unknown kinds are skipped so client library upgrades can ship
			// new events ahead of the server
			s.metrics.RecordEvent(string(env.Kind), "unknown")
			continue
		}
		if err := s.service.HandleEvent(env.Kind, env.Payload); err != nil {
			logger.Log.Warn().Err(err).Str("kind", string(env.Kind)).Msg("Event rejected")
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// eventKindHandler ingests one bare payload with the kind taken from the path
func (s *Server) eventKindHandler(w http.ResponseWriter, r *http.Request) {
	kind := events.Kind(r.PathValue("kind"))
	if !kind.Valid() {
		s.metrics.RecordEvent(string(kind), "unknown")
		http.Error(w, `{"error":"unknown event kind"}`, http.StatusBadRequest)
		return
	}

	body, err := readBody(r)
	if err != nil {
		http.Error(w, `{"error":"unreadable body"}`, http.StatusBadRequest)
		return
	}

	if err := s.service.HandleEvent(kind, body); err != nil {
		logger.Log.Warn().Err(err).Str("kind", string(kind)).Msg("Event rejected")
		http.Error(w, `{"error":"invalid payload"}`, http.StatusBadRequest)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// statsHandler reports pipeline state for operators
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	log := logger.Log
	w.Header().Set("Content-Type", "application/json")

	response := map[string]interface{}{
		"session_id":      s.service.SessionID(),
		"sampled":         s.service.Sampled(),
		"active_auctions": s.service.ActiveAuctions(),
	}

	if s.reports != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if counts, err := s.reports.Counts(ctx); err == nil {
			response["archived"] = counts
		}
	}

	if err := json.NewEncoder(w).Encode(response); err != nil {
		log.Error().Err(err).Msg("failed to encode stats response")
	}
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(r.Body)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log := logger.Log
	log.Info().Str("addr", s.httpServer.Addr).Msg("Server listening")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown performs graceful shutdown
func (s *Server) Shutdown(ctx context.Context) error {
	log := logger.Log
	log.Info().Msg("Starting graceful shutdown")

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	// Stop accepting requests first so the pipeline drains cleanly
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return err
	}

	if s.service != nil {
		s.service.Shutdown()
	}
	if s.rates != nil {
		s.rates.Close()
	}
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing Redis client")
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing database")
		}
	}

	log.Info().Msg("Server stopped gracefully")
	return nil
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// loggingMiddleware logs HTTP requests with structured logging
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Wrap response writer to capture status
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		// Generate request ID
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add request ID to response
		w.Header().Set("X-Request-ID", requestID)

		// Process request
		next.ServeHTTP(wrapped, r)

		// Log request completion
		duration := time.Since(start)

		event := logger.Log.Info()
		if wrapped.statusCode >= 400 {
			event = logger.Log.Warn()
		}
		if wrapped.statusCode >= 500 {
			event = logger.Log.Error()
		}

		event.
			Str("request_id", requestID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapped.statusCode).
			Dur("duration_ms", duration).
			Str("remote_addr", r.RemoteAddr).
			Str("user_agent", r.UserAgent()).
			Msg("HTTP request")
	})
}

// healthHandler returns a simple liveness check
func healthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		health := map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"version":   config.Version,
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(health); err != nil {
			logger.Log.Error().Err(err).Msg("failed to encode health response")
		}
	})
}

// readyHandler returns a readiness check with dependency verification
func readyHandler(redisClient *redis.Client, db *sql.DB) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		checks := make(map[string]interface{})
		allHealthy := true

		// Check Redis if available
		if redisClient != nil {
			if err := redisClient.Ping(ctx); err != nil {
				checks["redis"] = map[string]interface{}{
					"status": "unhealthy",
					"error":  err.Error(),
				}
				allHealthy = false
			} else {
				checks["redis"] = map[string]interface{}{
					"status": "healthy",
				}
			}
		} else {
			checks["redis"] = map[string]interface{}{
				"status": "disabled",
			}
		}

		// Check PostgreSQL if available
		if db != nil {
			if err := db.PingContext(ctx); err != nil {
				checks["postgres"] = map[string]interface{}{
					"status": "unhealthy",
					"error":  err.Error(),
				}
				allHealthy = false
			} else {
				checks["postgres"] = map[string]interface{}{
					"status": "healthy",
				}
			}
		} else {
			checks["postgres"] = map[string]interface{}{
				"status": "disabled",
			}
		}

		status := http.StatusOK
		if !allHealthy {
			status = http.StatusServiceUnavailable
		}

		response := map[string]interface{}{
			"ready":     allHealthy,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"checks":    checks,
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if err := json.NewEncoder(w).Encode(response); err != nil {
			logger.Log.Error().Err(err).Msg("failed to encode readiness response")
		}
	})
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return time.Now().Format("20060102150405.000000000")
	}
	return hex.EncodeToString(b)
}
