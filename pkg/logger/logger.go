// Package logger provides structured logging for the telemetry service
package logger

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ctxKey is the type for context keys used by this package
type ctxKey string

// Context keys for request-scoped log fields
const (
	RequestIDKey ctxKey = "request_id"
	AuctionIDKey ctxKey = "auction_id"
)

// Log is the global logger. Call Init before use; the zero value discards nothing
// but carries no service field.
var Log zerolog.Logger

// Config holds logger configuration
type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	TimeFormat string
}

// DefaultConfig returns logger configuration from environment variables
func DefaultConfig() Config {
	return Config{
		Level:      getEnv("LOG_LEVEL", "info"),
		Format:     getEnv("LOG_FORMAT", "json"),
		TimeFormat: time.RFC3339,
	}
}

// getEnv returns the environment variable value or a default
func getEnv(key, defVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defVal
}

// Init configures the global logger. Invalid levels fall back to info.
func Init(cfg Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.TimeFormat != "" {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	var base zerolog.Logger
	if cfg.Format == "console" {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: cfg.TimeFormat})
	} else {
		base = zerolog.New(os.Stdout)
	}

	Log = base.Level(level).With().
		Timestamp().
		Str("service", "telemetry").
		Logger()
}

// WithRequestID stores a request id in the context for FromContext
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

// WithAuctionID stores an auction id in the context for FromContext
func WithAuctionID(ctx context.Context, auctionID string) context.Context {
	return context.WithValue(ctx, AuctionIDKey, auctionID)
}

// FromContext returns a logger carrying any request/auction ids in ctx
func FromContext(ctx context.Context) zerolog.Logger {
	logCtx := Log.With()

	if requestID, ok := ctx.Value(RequestIDKey).(string); ok && requestID != "" {
		logCtx = logCtx.Str("request_id", requestID)
	}
	if auctionID, ok := ctx.Value(AuctionIDKey).(string); ok && auctionID != "" {
		logCtx = logCtx.Str("auction_id", auctionID)
	}

	return logCtx.Logger()
}

// Auction returns a logger scoped to one auction
func Auction(auctionID string) zerolog.Logger {
	return Log.With().Str("auction_id", auctionID).Logger()
}

// Bidder returns a logger scoped to one bidder
func Bidder(bidderCode string) zerolog.Logger {
	return Log.With().Str("bidder", bidderCode).Logger()
}

// HTTP returns a logger for the HTTP server component
func HTTP() zerolog.Logger {
	return Log.With().Str("component", "http").Logger()
}

// Delivery returns a logger for the report delivery component
func Delivery() zerolog.Logger {
	return Log.With().Str("component", "delivery").Logger()
}

// RequestLogger tracks one request's log fields and duration
type RequestLogger struct {
	logger zerolog.Logger
	start  time.Time
}

// NewRequestLogger creates a request-scoped logger with duration tracking
func NewRequestLogger(requestID string) *RequestLogger {
	return &RequestLogger{
		logger: Log.With().Str("request_id", requestID).Logger(),
		start:  time.Now(),
	}
}

// WithField returns a copy carrying an extra field
func (rl *RequestLogger) WithField(key string, value interface{}) *RequestLogger {
	return &RequestLogger{
		logger: rl.logger.With().Interface(key, value).Logger(),
		start:  rl.start,
	}
}

// Info logs at info level
func (rl *RequestLogger) Info(msg string) {
	rl.logger.Info().Msg(msg)
}

// Error logs at error level with the error attached
func (rl *RequestLogger) Error(msg string, err error) {
	rl.logger.Error().Err(err).Msg(msg)
}

// Duration returns the elapsed time since the logger was created
func (rl *RequestLogger) Duration() time.Duration {
	return time.Since(rl.start)
}

// LogComplete logs request completion with status and duration
func (rl *RequestLogger) LogComplete(status int) {
	rl.logger.Info().
		Int("status", status).
		Float64("duration_ms", float64(rl.Duration().Microseconds())/1000.0).
		Msg("request completed")
}
