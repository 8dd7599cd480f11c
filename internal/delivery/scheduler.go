package delivery

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/kargolabs/auction-telemetry/internal/auction"
	"github.com/kargolabs/auction-telemetry/internal/report"
	"github.com/kargolabs/auction-telemetry/pkg/clock"
	"github.com/kargolabs/auction-telemetry/pkg/logger"
)

// Archive persists delivered reports; failures are logged, never escalated
type Archive interface {
	SaveAuctionReport(auctionID string, body []byte) error
	SaveWinReport(auctionID, adUnitCode string, body []byte) error
}

// StoreObserver tracks cache population; satisfied by the metrics registry
type StoreObserver interface {
	SetActiveAuctions(n int)
	RecordEviction()
}

// SchedulerConfig holds the delivery timing knobs
type SchedulerConfig struct {
	SendDelay     time.Duration
	GracePeriod   time.Duration
	SendWinEvents bool
}

// Scheduler drives the per-auction delivery state machine: armed on auction
// end, delivering when the debounce timer fires, evicted after the grace
// period. Win payloads bypass the debounce entirely.
type Scheduler struct {
	cfg       SchedulerConfig
	clk       clock.Clock
	gate      *Gate
	store     *auction.Store
	format    *report.Formatter
	transport Transport
	archive   Archive
	observer  StoreObserver

	// mu serializes delivery callbacks with the ingest handlers; it is owned
	// by the enclosing service and shared, never copied.
	mu *sync.Mutex

	taskMu sync.Mutex
	tasks  map[string]clock.Timer
	closed bool
}

// NewScheduler creates a scheduler. transport, archive, and observer may be
// nil; mu must be the mutex guarding the auction store's records.
func NewScheduler(cfg SchedulerConfig, clk clock.Clock, gate *Gate, store *auction.Store, format *report.Formatter, transport Transport, archive Archive, observer StoreObserver, mu *sync.Mutex) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scheduler{
		cfg:       cfg,
		clk:       clk,
		gate:      gate,
		store:     store,
		format:    format,
		transport: transport,
		archive:   archive,
		observer:  observer,
		mu:        mu,
		tasks:     make(map[string]clock.Timer),
	}
}

// AuctionEnded arms the debounce timer for an auction. Called under the
// service mutex from the auction-end handler.
func (s *Scheduler) AuctionEnded(rec *auction.Record) {
	id := rec.AuctionID
	s.schedule("send:"+id, s.cfg.SendDelay, func() { s.deliverAuction(id) })
	lg := logger.Auction(id)
	lg.Debug().Dur("send_delay", s.cfg.SendDelay).Msg("Auction report scheduled")
}

// BidWon delivers a win payload immediately. Called under the service mutex
// from the bid-won handler, before the auction report is sent.
func (s *Scheduler) BidWon(rec *auction.Record, adUnitCode string) {
	if !s.cfg.SendWinEvents || rec.Sent || !s.gate.Sampled() {
		return
	}

	p := s.format.Win(rec, adUnitCode, s.clk.Now())
	if p == nil {
		return
	}
	body, err := json.Marshal(p)
	if err != nil {
		lg := logger.Auction(rec.AuctionID)
		lg.Error().Err(err).Msg("Win payload marshal failed")
		return
	}

	if s.transport != nil {
		s.transport.Deliver(PathWin, body)
	}
	if s.archive != nil {
		if err := s.archive.SaveWinReport(rec.AuctionID, adUnitCode, body); err != nil {
			lg := logger.Auction(rec.AuctionID)
			lg.Warn().Err(err).Msg("Win report archive failed")
		}
	}
}

// deliverAuction runs when the debounce timer fires
func (s *Scheduler) deliverAuction(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.store.Get(id)
	if rec == nil || rec.Sent {
		return
	}

	// Sent flips exactly once, before any network activity, so a re-entrant
	// timer or late end event can never trigger a second attempt.
	rec.Sent = true

	if s.gate.Sampled() {
		p := s.format.Auction(rec, s.clk.Now())
		body, err := json.Marshal(p)
		if err != nil {
			lg := logger.Auction(id)
			lg.Error().Err(err).Msg("Auction payload marshal failed")
		} else {
			if s.transport != nil {
				s.transport.Deliver(PathAuction, body)
			}
			if s.archive != nil {
				if archiveErr := s.archive.SaveAuctionReport(id, body); archiveErr != nil {
					lg := logger.Auction(id)
					lg.Warn().Err(archiveErr).Msg("Auction report archive failed")
				}
			}
		}
	}

	s.schedule("evict:"+id, s.cfg.GracePeriod, func() { s.evict(id) })
}

// evict removes the record after the grace period
func (s *Scheduler) evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.store.Remove(id)
	if s.observer != nil {
		s.observer.RecordEviction()
		s.observer.SetActiveAuctions(s.store.Len())
	}
	lg := logger.Auction(id)
	lg.Debug().Msg("Auction record evicted")
}

func (s *Scheduler) schedule(key string, d time.Duration, fn func()) {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if s.closed {
		return
	}
	if prev, ok := s.tasks[key]; ok {
		prev.Stop()
	}
	s.tasks[key] = s.clk.AfterFunc(d, func() {
		fn()
		s.taskMu.Lock()
		delete(s.tasks, key)
		s.taskMu.Unlock()
	})
}

// Stop cancels all pending timers. In-flight records stay in the store; the
// owning service clears them on shutdown.
func (s *Scheduler) Stop() {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	s.closed = true
	for key, t := range s.tasks {
		t.Stop()
		delete(s.tasks, key)
	}
}
