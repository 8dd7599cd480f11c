package delivery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/kargolabs/auction-telemetry/internal/config"
	"github.com/kargolabs/auction-telemetry/pkg/logger"
)

// Report endpoint paths under the configured base URL
const (
	PathAuction = "/analytics/auction"
	PathWin     = "/analytics/win"
)

// Transport delivers one formatted report body. Delivery is fire-and-forget:
// implementations absorb their own failures.
type Transport interface {
	Deliver(path string, body []byte)
}

// ReportRecorder counts delivery outcomes; satisfied by the metrics registry
type ReportRecorder interface {
	RecordReport(kind, status string)
}

// CircuitObserver is satisfied by recorders that also track breaker state
type CircuitObserver interface {
	SetDeliveryCircuitState(state string)
}

type job struct {
	path string
	body []byte
}

// Sender posts report payloads through a bounded worker pool. A full queue
// drops the report rather than blocking the ingest path; the circuit breaker
// sheds posts while the endpoint is down.
type Sender struct {
	baseURL    string
	httpClient *http.Client
	breaker    *Breaker
	metrics    ReportRecorder

	queue chan job
	wg    sync.WaitGroup

	mu     sync.Mutex
	closed bool

	delivered atomic.Int64
	failed    atomic.Int64
	dropped   atomic.Int64
}

// NewSender creates a sender posting to baseURL. metrics may be nil.
func NewSender(baseURL string, metrics ReportRecorder) *Sender {
	breakerCfg := DefaultBreakerConfig()
	if obs, ok := metrics.(CircuitObserver); ok {
		breakerCfg.OnStateChange = func(from, to string) {
			obs.SetDeliveryCircuitState(to)
			lg := logger.Delivery()
			lg.Warn().Str("from", from).Str("to", to).Msg("Delivery circuit state changed")
		}
	}

	s := &Sender{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: config.DeliveryTimeout,
		},
		breaker: NewBreaker(breakerCfg),
		metrics: metrics,
		queue:   make(chan job, config.DeliveryQueueSize),
	}

	for i := 0; i < config.DeliveryWorkerCount; i++ {
		s.wg.Add(1)
		go s.worker()
	}

	return s
}

// Deliver queues one report body. Never blocks: a full queue or a closed
// sender drops the report.
func (s *Sender) Deliver(path string, body []byte) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.dropped.Add(1)
		s.record(path, "dropped")
		return
	}

	select {
	case s.queue <- job{path: path, body: body}:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.dropped.Add(1)
		s.record(path, "dropped")
		lg := logger.Delivery()
		lg.Warn().Str("path", path).Msg("Delivery queue full, report dropped")
	}
}

func (s *Sender) worker() {
	defer s.wg.Done()
	for j := range s.queue {
		s.post(j)
	}
}

func (s *Sender) post(j job) {
	err := s.breaker.Execute(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), config.DeliveryTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+j.path, bytes.NewReader(j.body))
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("post report: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("analytics endpoint returned status %d", resp.StatusCode)
		}
		return nil
	})

	if err != nil {
		s.failed.Add(1)
		s.record(j.path, "failed")
		lg := logger.Delivery()
		lg.Warn().Err(err).Str("path", j.path).Msg("Report delivery failed")
		return
	}
	s.delivered.Add(1)
	s.record(j.path, "delivered")
}

func (s *Sender) record(path, status string) {
	if s.metrics == nil {
		return
	}
	kind := "win"
	if path == PathAuction {
		kind = "auction"
	}
	s.metrics.RecordReport(kind, status)
}

// SenderStats holds delivery counters for monitoring
type SenderStats struct {
	Delivered int64        `json:"delivered"`
	Failed    int64        `json:"failed"`
	Dropped   int64        `json:"dropped"`
	Queued    int          `json:"queued"`
	Breaker   BreakerStats `json:"breaker"`
}

// Stats returns current delivery counters
func (s *Sender) Stats() SenderStats {
	return SenderStats{
		Delivered: s.delivered.Load(),
		Failed:    s.failed.Load(),
		Dropped:   s.dropped.Load(),
		Queued:    len(s.queue),
		Breaker:   s.breaker.Stats(),
	}
}

// Close drains the queue and stops the workers
func (s *Sender) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.wg.Wait()
	s.breaker.Close()
}
