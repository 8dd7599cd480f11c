// Package analytics assembles the aggregation pipeline: one Service owns the
// auction cache, the event handlers, the sampling gate, and the delivery
// scheduler for a single session.
package analytics

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kargolabs/auction-telemetry/internal/auction"
	"github.com/kargolabs/auction-telemetry/internal/config"
	"github.com/kargolabs/auction-telemetry/internal/currency"
	"github.com/kargolabs/auction-telemetry/internal/delivery"
	"github.com/kargolabs/auction-telemetry/internal/events"
	"github.com/kargolabs/auction-telemetry/internal/ingest"
	"github.com/kargolabs/auction-telemetry/internal/metrics"
	"github.com/kargolabs/auction-telemetry/internal/report"
	"github.com/kargolabs/auction-telemetry/pkg/clock"
	"github.com/kargolabs/auction-telemetry/pkg/logger"
)

// Config is the session-level configuration surface
type Config struct {
	// OwnBidder is the bidder code whose participation gets the dedicated
	// aggregate block in auction payloads
	OwnBidder string

	// BaseURL is the analytics endpoint base; unused when a Transport is
	// injected through Options
	BaseURL string

	// Sampling is the percentage of sessions delivered, 0 to 100
	Sampling int

	// SendWinEvents enables immediate per-slot win payloads
	SendWinEvents bool

	// SendDelay is the debounce between auction end and the auction report
	SendDelay time.Duration

	// GracePeriod is how long sent records stay cached before eviction
	GracePeriod time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		OwnBidder:     "kargo",
		Sampling:      config.DefaultSampling,
		SendWinEvents: true,
		SendDelay:     config.DefaultSendDelay,
		GracePeriod:   config.DefaultGracePeriod,
	}
}

func validateConfig(cfg *Config) error {
	if cfg.OwnBidder == "" {
		return fmt.Errorf("own bidder code is required")
	}
	if cfg.SendDelay <= 0 {
		cfg.SendDelay = config.DefaultSendDelay
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = config.DefaultGracePeriod
	}
	return nil
}

// Options carries injectable collaborators; zero values select production
// implementations
type Options struct {
	Converter currency.Converter
	Winners   ingest.WinnerSource
	Transport delivery.Transport
	Archive   delivery.Archive
	Metrics   *metrics.Metrics
	Clock     clock.Clock
	Rand      func() float64
}

// Service is the per-session aggregation pipeline. All event handling and
// timer callbacks serialize on one mutex, so handlers observe the
// run-to-completion semantics the record state machine assumes.
type Service struct {
	cfg       Config
	sessionID string
	gate      *delivery.Gate

	mu        sync.Mutex
	store     *auction.Store
	handlers  *ingest.Handlers
	scheduler *delivery.Scheduler
	metrics   *metrics.Metrics

	// sender is owned only when no transport was injected
	sender *delivery.Sender
	closed bool
}

// New creates a session service. The sampling decision is drawn here, once.
func New(cfg Config, opts Options) (*Service, error) {
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	s := &Service{
		cfg:       cfg,
		sessionID: uuid.NewString(),
		store:     auction.NewStore(),
		metrics:   opts.Metrics,
	}
	s.gate = delivery.NewGate(cfg.Sampling, opts.Rand)

	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	transport := opts.Transport
	if transport == nil && cfg.BaseURL != "" {
		var rec delivery.ReportRecorder
		if opts.Metrics != nil {
			rec = opts.Metrics
		}
		s.sender = delivery.NewSender(cfg.BaseURL, rec)
		transport = s.sender
	}

	winners := opts.Winners
	if winners == nil {
		winners = ingest.HighestBidSource{}
	}

	var observer delivery.StoreObserver
	if opts.Metrics != nil {
		observer = opts.Metrics
	}

	s.scheduler = delivery.NewScheduler(
		delivery.SchedulerConfig{
			SendDelay:     cfg.SendDelay,
			GracePeriod:   cfg.GracePeriod,
			SendWinEvents: cfg.SendWinEvents,
		},
		clk, s.gate, s.store,
		report.NewFormatter(cfg.OwnBidder, s.sessionID),
		transport, opts.Archive, observer, &s.mu,
	)

	var eventRec ingest.Recorder
	if opts.Metrics != nil {
		eventRec = opts.Metrics
	}
	s.handlers = ingest.New(s.store, opts.Converter, winners, s.scheduler, eventRec, cfg.OwnBidder, clk)

	logger.Log.Info().
		Str("session_id", s.sessionID).
		Int("sampling", s.gate.Percentage()).
		Bool("sampled", s.gate.Sampled()).
		Bool("win_events", cfg.SendWinEvents).
		Dur("send_delay", cfg.SendDelay).
		Msg("Analytics session started")

	return s, nil
}

// SessionID returns the session identifier stamped on every payload
func (s *Service) SessionID() string { return s.sessionID }

// Sampled reports the session's sampling decision
func (s *Service) Sampled() bool { return s.gate.Sampled() }

// HandleEvent applies one lifecycle event to the session state
func (s *Service) HandleEvent(kind events.Kind, payload json.RawMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("analytics service is shut down")
	}
	return s.handlers.Dispatch(kind, payload)
}

// ActiveAuctions reports the number of cached records
func (s *Service) ActiveAuctions() int {
	return s.store.Len()
}

// Shutdown tears the session down: pending timers are cancelled and the cache
// is cleared, orphaning any in-flight debounce. An owned sender drains its
// queue before returning.
func (s *Service) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.store.Clear()
	s.mu.Unlock()

	s.scheduler.Stop()
	if s.sender != nil {
		s.sender.Close()
	}

	logger.Log.Info().Str("session_id", s.sessionID).Msg("Analytics session stopped")
}
