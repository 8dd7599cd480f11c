// Package config provides shared configuration constants for the telemetry service
package config

import "time"

// Version is the client library version reported in payload metadata
const Version = "1.4.2"

// Server timeout defaults
const (
	// ServerReadTimeout is the maximum duration for reading the entire request
	ServerReadTimeout = 5 * time.Second

	// ServerWriteTimeout is the maximum duration before timing out writes of the response
	ServerWriteTimeout = 10 * time.Second

	// ServerIdleTimeout is the maximum time to wait for the next request when keep-alives are enabled
	ServerIdleTimeout = 120 * time.Second

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout = 30 * time.Second
)

// CORS defaults
const (
	// CORSMaxAge is the preflight cache duration in seconds (24 hours)
	CORSMaxAge = 86400
)

// Size limiting defaults
const (
	// DefaultMaxBodySize is the default maximum request body size (256KB);
	// lifecycle event payloads are small
	DefaultMaxBodySize = 256 * 1024

	// DefaultMaxURLLength is the default maximum URL length (8KB)
	DefaultMaxURLLength = 8192
)

// Aggregation defaults
const (
	// DefaultSendDelay is the debounce between auction end and the auction
	// report, sized to let near-simultaneous win events land first
	DefaultSendDelay = 500 * time.Millisecond

	// DefaultGracePeriod is how long a sent record stays cached to absorb
	// last-moment late events before eviction
	DefaultGracePeriod = 3 * time.Second

	// DefaultSampling delivers every session unless configured down
	DefaultSampling = 100

	// MaxAdvertiserDomains bounds the advertiser domain list kept per bid
	MaxAdvertiserDomains = 5
)

// Delivery defaults
const (
	// DeliveryTimeout is the max time for one report POST
	DeliveryTimeout = 2 * time.Second

	// DeliveryQueueSize is the max pending reports before dropping
	DeliveryQueueSize = 64

	// DeliveryWorkerCount is the number of concurrent delivery workers
	DeliveryWorkerCount = 2
)

// Redis defaults
const (
	// RedisPoolSize is the default connection pool size
	RedisPoolSize = 100

	// RatesRefreshInterval is how often FX rates are re-read from Redis
	RatesRefreshInterval = 5 * time.Minute
)
